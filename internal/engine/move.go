package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vaultpilot/vrm/internal/metrics"
	"github.com/vaultpilot/vrm/internal/types"
	"github.com/vaultpilot/vrm/internal/vault"
)

// ExecuteMove rotates the given amount of the owner's funds from one
// destination to another. The full decision is re-evaluated here against
// current snapshots, policy, and live balances, then the withdraw, approve,
// deposit sequence is dispatched as one atomic batch through the owner's
// smart account. A receipt is written only after the host confirms the batch.
func (e *Engine) ExecuteMove(ctx context.Context, owner, from, to common.Address, amount sdkmath.Int) (*types.MoveReceipt, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	installed, err := e.registry.IsAccountInstalled(owner)
	if err != nil {
		return nil, err
	}
	if !installed {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotInstalled, owner.Hex())
	}

	moveID := uuid.New().String()
	moveLogger := e.logger.With().Str("move_id", moveID).Logger()
	moveLogger.Info().
		Str("owner", owner.Hex()).
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Str("amount", amount.String()).
		Msg("Starting move execution")

	decision, err := e.ValidateMove(ctx, owner, from, to)
	if err != nil {
		return nil, err
	}

	sourceBalance, err := e.vaults.AssetBalance(ctx, from, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query source balance at %s: %w", from.Hex(), err)
	}
	if sourceBalance.LT(amount) {
		metrics.ValidationFailures.WithLabelValues("insufficient_balance").Inc()
		return nil, fmt.Errorf(
			"%w: have %s at %s, need %s",
			ErrInsufficientBalance, sourceBalance.String(), from.Hex(), amount.String(),
		)
	}

	targetBalance, err := e.vaults.AssetBalance(ctx, to, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query target balance at %s: %w", to.Hex(), err)
	}
	if targetBalance.Add(amount).GT(decision.Policy.MaxInvestment) {
		metrics.ValidationFailures.WithLabelValues("max_investment").Inc()
		return nil, fmt.Errorf(
			"%w: %s held plus %s moved exceeds ceiling %s",
			ErrMaxInvestmentReached, targetBalance.String(), amount.String(),
			decision.Policy.MaxInvestment.String(),
		)
	}

	// The batch order is load-bearing: funds must land in the owner's account
	// before the approval, and the approval must precede the deposit pull.
	withdraw, err := vault.WithdrawCall(from, amount, owner)
	if err != nil {
		return nil, err
	}
	approve, err := vault.ApproveCall(decision.Asset, to, amount)
	if err != nil {
		return nil, err
	}
	deposit, err := vault.DepositCall(to, amount, owner)
	if err != nil {
		return nil, err
	}
	batch := []types.Instruction{withdraw, approve, deposit}

	result, err := e.host.ExecuteBatch(ctx, owner, batch)
	if err != nil {
		moveLogger.Error().Err(err).Msg("Move batch dispatch failed")
		return nil, fmt.Errorf("move %s dispatch failed: %w", moveID, err)
	}

	receipt := types.MoveReceipt{
		MoveID:          moveID,
		Owner:           owner,
		FromDestination: from,
		ToDestination:   to,
		Asset:           decision.Asset,
		Amount:          amount,
		FromAPR:         decision.FromAPR,
		ToAPR:           decision.ToAPR,
		TxHash:          result.TxHash,
		CreatedAt:       e.now(),
	}

	// The move already happened on-chain; a receipt write failure is an audit
	// gap, not a move failure.
	receiptID, err := e.receipts.SaveMoveReceipt(receipt)
	if err != nil {
		moveLogger.Error().Err(err).Str("tx_hash", result.TxHash).Msg("Failed to persist move receipt")
	} else {
		receipt.ReceiptID = receiptID
	}

	e.emitEvent(types.EventFundsMoved, moveID, map[string]interface{}{
		"owner":   owner.Hex(),
		"from":    from.Hex(),
		"to":      to.Hex(),
		"asset":   decision.Asset.Hex(),
		"amount":  amount.String(),
		"tx_hash": result.TxHash,
	})
	metrics.MovesExecuted.Inc()

	moveLogger.Info().
		Str("tx_hash", result.TxHash).
		Uint64("gas_used", result.GasUsed).
		Msg("Move executed successfully")
	return &receipt, nil
}

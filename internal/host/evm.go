/*

This file contains the live execution host. It encodes the instruction batch
as an executeBatch call on the owner's smart account, signs it with the
executor key, broadcasts it, and waits for inclusion. The account contract
enforces that only an installed, authorized executor can trigger execution.

*/

package host

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/vaultpilot/vrm/internal/logger"
	"github.com/vaultpilot/vrm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNilClient     = errors.New("eth client cannot be nil")
	ErrEmptyBatch    = errors.New("instruction batch cannot be empty")
	ErrBatchReverted = errors.New("instruction batch reverted on-chain")
)

const smartAccountABIJSON = `[
	{"name":"executeBatch","type":"function","stateMutability":"nonpayable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}]}],"outputs":[]}
]`

var smartAccountABI = mustParseABI(smartAccountABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("host: invalid ABI fragment: " + err.Error())
	}
	return parsed
}

// EVMHost implements ExecutionHost over a live EVM node.
type EVMHost struct {
	client     *ethclient.Client
	chainID    *big.Int
	key        *ecdsa.PrivateKey
	from       common.Address
	gasCeiling uint64
	logger     zerolog.Logger
}

// NewEVMHost creates a host signing with the given hex-encoded executor key.
func NewEVMHost(client *ethclient.Client, chainID int64, executorKeyHex string, gasCeiling uint64) (*EVMHost, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	key, err := crypto.HexToECDSA(executorKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid executor key: %w", err)
	}
	if gasCeiling == 0 {
		return nil, errors.New("gas ceiling must be positive")
	}

	return &EVMHost{
		client:     client,
		chainID:    big.NewInt(chainID),
		key:        key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		gasCeiling: gasCeiling,
		logger:     logger.GetForComponent("execution_host"),
	}, nil
}

// ExecutorAddress returns the address transactions are signed from.
func (h *EVMHost) ExecutorAddress() common.Address {
	return h.from
}

// ExecuteBatch signs and broadcasts the batch to the owner's account and
// waits for the transaction to be mined. A reverted transaction is a failure
// of the whole batch; no instruction takes partial effect.
func (h *EVMHost) ExecuteBatch(ctx context.Context, owner common.Address, batch []types.Instruction) (*types.ExecutionResult, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	data, err := smartAccountABI.Pack("executeBatch", batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode executeBatch: %w", err)
	}

	nonce, err := h.client.PendingNonceAt(ctx, h.from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := h.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	gasLimit, err := h.client.EstimateGas(ctx, ethereum.CallMsg{
		From: h.from,
		To:   &owner,
		Data: data,
	})
	if err != nil || gasLimit > h.gasCeiling {
		if err != nil {
			h.logger.Warn().Err(err).Msg("Gas estimation failed, falling back to ceiling")
		}
		gasLimit = h.gasCeiling
	}

	tx := ethtypes.NewTransaction(nonce, owner, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(h.chainID), h.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := h.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	h.logger.Info().
		Str("txHash", signed.Hash().Hex()).
		Str("owner", owner.Hex()).
		Int("instructions", len(batch)).
		Msg("Batch broadcast, waiting for inclusion")

	receipt, err := bind.WaitMined(ctx, h.client, signed)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrBatchReverted, signed.Hash().Hex())
	}

	return &types.ExecutionResult{
		TxHash:    signed.Hash().Hex(),
		GasUsed:   receipt.GasUsed,
		BlockHash: receipt.BlockHash.Hex(),
	}, nil
}

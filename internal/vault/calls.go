/*

This file contains the pure instruction builders for the withdraw-approve-
deposit sequence and the recurring payment transfer. Builders only encode
calldata; dispatch is the execution host's job.

*/

package vault

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpilot/vrm/internal/types"
)

var ErrNonPositiveAmount = errors.New("call amount must be positive")

// WithdrawCall encodes withdraw(assets, receiver, owner) against the source
// destination, sending the assets to the owner's account.
func WithdrawCall(destination common.Address, amount sdkmath.Int, owner common.Address) (types.Instruction, error) {
	if err := checkAmount(amount); err != nil {
		return types.Instruction{}, err
	}
	data, err := erc4626ABI.Pack("withdraw", amount.BigInt(), owner, owner)
	if err != nil {
		return types.Instruction{}, fmt.Errorf("failed to encode withdraw: %w", err)
	}
	return types.Instruction{Target: destination, Value: big.NewInt(0), Data: data}, nil
}

// DepositCall encodes deposit(assets, receiver) against the target
// destination. The destination pulls the assets from the owner, so an approve
// instruction must precede this one in the batch.
func DepositCall(destination common.Address, amount sdkmath.Int, owner common.Address) (types.Instruction, error) {
	if err := checkAmount(amount); err != nil {
		return types.Instruction{}, err
	}
	data, err := erc4626ABI.Pack("deposit", amount.BigInt(), owner)
	if err != nil {
		return types.Instruction{}, fmt.Errorf("failed to encode deposit: %w", err)
	}
	return types.Instruction{Target: destination, Value: big.NewInt(0), Data: data}, nil
}

// ApproveCall encodes approve(spender, amount) on the underlying asset.
func ApproveCall(asset, spender common.Address, amount sdkmath.Int) (types.Instruction, error) {
	if err := checkAmount(amount); err != nil {
		return types.Instruction{}, err
	}
	data, err := erc20ABI.Pack("approve", spender, amount.BigInt())
	if err != nil {
		return types.Instruction{}, fmt.Errorf("failed to encode approve: %w", err)
	}
	return types.Instruction{Target: asset, Value: big.NewInt(0), Data: data}, nil
}

// TransferCall encodes transfer(to, amount) on the underlying asset.
func TransferCall(asset, to common.Address, amount sdkmath.Int) (types.Instruction, error) {
	if err := checkAmount(amount); err != nil {
		return types.Instruction{}, err
	}
	data, err := erc20ABI.Pack("transfer", to, amount.BigInt())
	if err != nil {
		return types.Instruction{}, fmt.Errorf("failed to encode transfer: %w", err)
	}
	return types.Instruction{Target: asset, Value: big.NewInt(0), Data: data}, nil
}

func checkAmount(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

/*

This file contains the live ERC-4626 gateway. All queries are eth_call reads
against the latest block; the gateway holds no state of its own.

*/

package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/vaultpilot/vrm/internal/logger"
	"github.com/vaultpilot/vrm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNilClient       = errors.New("eth client cannot be nil")
	ErrEmptyCallResult = errors.New("contract call returned no data")
	ErrBadCallResult   = errors.New("contract call returned an unexpected type")
)

// EVMGateway implements Gateway against a live EVM node.
type EVMGateway struct {
	client *ethclient.Client
	logger zerolog.Logger
}

// NewEVMGateway creates a gateway over an established RPC client.
func NewEVMGateway(client *ethclient.Client) (*EVMGateway, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &EVMGateway{
		client: client,
		logger: logger.GetForComponent("vault_gateway"),
	}, nil
}

// Asset returns the destination's underlying ERC-20 asset.
func (g *EVMGateway) Asset(ctx context.Context, destination common.Address) (common.Address, error) {
	out, err := g.call(ctx, destination, "asset")
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to query asset of %s: %w", destination.Hex(), err)
	}
	asset, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, ErrBadCallResult
	}
	return asset, nil
}

// Valuation samples the destination's share-to-asset conversion rate.
func (g *EVMGateway) Valuation(ctx context.Context, destination common.Address) (sdkmath.Int, error) {
	out, err := g.call(ctx, destination, "convertToAssets", big.NewInt(types.ValuationSampleShares))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to query valuation of %s: %w", destination.Hex(), err)
	}
	assets, ok := out[0].(*big.Int)
	if !ok {
		return sdkmath.ZeroInt(), ErrBadCallResult
	}
	return sdkmath.NewIntFromBigInt(assets), nil
}

// AssetBalance returns the owner's holdings at the destination in asset terms.
func (g *EVMGateway) AssetBalance(ctx context.Context, destination, owner common.Address) (sdkmath.Int, error) {
	out, err := g.call(ctx, destination, "balanceOf", owner)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to query share balance at %s: %w", destination.Hex(), err)
	}
	shares, ok := out[0].(*big.Int)
	if !ok {
		return sdkmath.ZeroInt(), ErrBadCallResult
	}
	if shares.Sign() == 0 {
		return sdkmath.ZeroInt(), nil
	}

	out, err = g.call(ctx, destination, "convertToAssets", shares)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to convert shares at %s: %w", destination.Hex(), err)
	}
	assets, ok := out[0].(*big.Int)
	if !ok {
		return sdkmath.ZeroInt(), ErrBadCallResult
	}
	return sdkmath.NewIntFromBigInt(assets), nil
}

// call packs, executes, and unpacks a read-only contract call against the
// latest block.
func (g *EVMGateway) call(ctx context.Context, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc4626ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s failed: %w", method, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyCallResult
	}

	out, err := erc4626ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyCallResult
	}
	return out, nil
}

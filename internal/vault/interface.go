package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Gateway defines the read surface the engine needs from yield destinations.
// The engine trusts these queries; protection against destinations that
// misreport their own valuation is explicitly out of scope.
type Gateway interface {
	// Asset returns the underlying ERC-20 asset the destination accepts.
	Asset(ctx context.Context, destination common.Address) (common.Address, error)

	// Valuation returns convertToAssets(ValuationSampleShares): the asset
	// value of a fixed share sample, used as the snapshot valuation.
	Valuation(ctx context.Context, destination common.Address) (sdkmath.Int, error)

	// AssetBalance returns the owner's destination balance converted to the
	// underlying asset: convertToAssets(balanceOf(owner)).
	AssetBalance(ctx context.Context, destination, owner common.Address) (sdkmath.Int, error)
}

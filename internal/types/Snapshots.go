/*

This file contains the valuation snapshot type and the fixed-point constants
shared by the snapshot recorder and the return calculator.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

const (
	// MinSnapshotInterval is the minimum spacing between two snapshots of the
	// same destination, in seconds (6 hours). Enforced at write time.
	MinSnapshotInterval uint64 = 21_600

	// SecondsPerYear is the annualization factor for period returns.
	SecondsPerYear uint64 = 31_536_000

	// ReturnScale is the fixed-point scale for period returns: a period return
	// of 1 ReturnScale unit is one basis point of the starting valuation.
	ReturnScale int64 = 10_000

	// ValuationSampleShares is the fixed share amount converted to assets when
	// sampling a destination's valuation. Snapshot valuations are comparable
	// only because every sample uses the same share amount.
	ValuationSampleShares int64 = 10_000
)

// Snapshot is a single timestamped observation of a destination's
// share-to-asset conversion rate. Snapshots are append-only and strictly
// increasing in timestamp per destination.
type Snapshot struct {
	Valuation sdkmath.Int `json:"valuation"` // convertToAssets(ValuationSampleShares)
	Timestamp uint64      `json:"timestamp"` // Unix seconds
}

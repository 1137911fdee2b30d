/*

This file contains the per-(owner, asset) rotation policy type. The policy is
the only piece of owner-supplied configuration; everything else the engine
reads is live on-chain state or recorded history.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// APRMethod selects how an annualized return is computed over a trailing
// snapshot window.
type APRMethod string

const (
	// APRMethodAverage is the arithmetic mean of the annualized
	// period-over-period returns across the window.
	APRMethodAverage APRMethod = "AVERAGE"
	// APRMethodTotal is a single annualized return computed end-to-end
	// between the oldest and newest snapshot in the window.
	APRMethodTotal APRMethod = "TOTAL"
)

// Valid reports whether the method is one of the supported calculation modes.
func (m APRMethod) Valid() bool {
	return m == APRMethodAverage || m == APRMethodTotal
}

// Policy governs whether and how funds may rotate between destinations for
// one (owner, asset) pair. A policy is always written atomically as a whole;
// there is no partial merge with a prior version.
type Policy struct {
	ApprovedDestinations []common.Address `json:"approved_destinations"`

	// MinImprovement is the minimum required APR delta, in the calculator's
	// fixed-point units, before a move is permitted. Must be positive.
	MinImprovement sdkmath.Int `json:"min_improvement"`

	// SnapshotsRequired is the trailing window size for APR computation.
	// Must be at least 2.
	SnapshotsRequired int `json:"snapshots_required"`

	// MaxTimeBetweenSnapshots is the staleness ceiling, in seconds, for any
	// gap used in the computation. Must exceed MinSnapshotInterval.
	MaxTimeBetweenSnapshots uint64 `json:"max_time_between_snapshots"`

	// MaxInvestment caps the post-move balance, valued in the underlying
	// asset, held at any one destination for this owner.
	MaxInvestment sdkmath.Int `json:"max_investment"`

	Method APRMethod `json:"apr_method"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

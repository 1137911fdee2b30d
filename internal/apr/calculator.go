/*

This file contains the pure return calculator. It turns a trailing window of
valuation snapshots into an annualized return figure using integer arithmetic
only. The annualization is a deliberate linear approximation of compounding:
periodReturn * (secondsPerYear / elapsed), with truncating division. Policy
thresholds are tuned against this approximation, so it must not be replaced
with (1+r)^n - 1.

*/

package apr

import (
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/vaultpilot/vrm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInsufficientSnapshots = errors.New("not enough snapshots for the requested window")
	ErrStaleSnapshots        = errors.New("snapshot gap exceeds the staleness ceiling")
	ErrInvalidWindow         = errors.New("window size must be at least 2")
	ErrUnknownMethod         = errors.New("unknown APR calculation method")
)

// PeriodReturn computes the fixed-point return between two valuations:
// (new - old) * ReturnScale / old. Defined as zero when the old valuation is
// zero. Negative returns are representable; division truncates toward zero.
func PeriodReturn(oldValuation, newValuation sdkmath.Int) sdkmath.Int {
	if oldValuation.IsNil() || newValuation.IsNil() || oldValuation.IsZero() {
		return sdkmath.ZeroInt()
	}
	return newValuation.Sub(oldValuation).MulRaw(types.ReturnScale).Quo(oldValuation)
}

// Annualize scales a period return to a yearly figure using the integer
// periods-per-year factor SecondsPerYear / elapsedSeconds. Defined as zero
// when no time elapsed.
func Annualize(periodReturn sdkmath.Int, elapsedSeconds uint64) sdkmath.Int {
	if periodReturn.IsNil() || elapsedSeconds == 0 {
		return sdkmath.ZeroInt()
	}
	periodsPerYear := types.SecondsPerYear / elapsedSeconds
	return periodReturn.MulRaw(int64(periodsPerYear))
}

// DestinationAPR computes the annualized return over the trailing windowSize
// snapshots. Snapshots must be in ascending timestamp order (the append-only
// store's natural order). Every consecutive gap inside the window must be at
// most maxGap seconds or the data is considered stale.
//
// Under APRMethodAverage the per-pair annualized returns are averaged over
// the window's period count; under APRMethodTotal a single annualization is
// computed between the window's oldest and newest snapshot. With a window of
// two the methods coincide.
func DestinationAPR(snapshots []types.Snapshot, windowSize int, maxGap uint64, method types.APRMethod) (sdkmath.Int, error) {
	if windowSize < 2 {
		return sdkmath.ZeroInt(), ErrInvalidWindow
	}
	if !method.Valid() {
		return sdkmath.ZeroInt(), ErrUnknownMethod
	}
	if len(snapshots) < windowSize {
		return sdkmath.ZeroInt(), ErrInsufficientSnapshots
	}

	window := snapshots[len(snapshots)-windowSize:]

	// Staleness is checked for every pair regardless of method so that a
	// TOTAL computation cannot silently span a dead interval.
	for i := len(window) - 1; i > 0; i-- {
		gap := window[i].Timestamp - window[i-1].Timestamp
		if gap > maxGap {
			return sdkmath.ZeroInt(), ErrStaleSnapshots
		}
	}

	periods := int64(windowSize - 1)

	switch method {
	case types.APRMethodTotal:
		oldest, newest := window[0], window[len(window)-1]
		elapsed := newest.Timestamp - oldest.Timestamp
		return Annualize(PeriodReturn(oldest.Valuation, newest.Valuation), elapsed), nil

	case types.APRMethodAverage:
		total := sdkmath.ZeroInt()
		for i := 1; i < len(window); i++ {
			gap := window[i].Timestamp - window[i-1].Timestamp
			total = total.Add(Annualize(PeriodReturn(window[i-1].Valuation, window[i].Valuation), gap))
		}
		return total.QuoRaw(periods), nil
	}

	return sdkmath.ZeroInt(), ErrUnknownMethod
}

package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpilot/vrm/internal/apr"
	"github.com/vaultpilot/vrm/internal/metrics"
	"github.com/vaultpilot/vrm/internal/types"
)

// MoveDecision captures everything a validated move was judged on. It is
// returned for observability; execution re-derives its own decision rather
// than trusting a previously returned one.
type MoveDecision struct {
	Owner common.Address `json:"owner"`
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Asset common.Address `json:"asset"`

	FromAPR     sdkmath.Int `json:"from_apr"`
	ToAPR       sdkmath.Int `json:"to_apr"`
	Improvement sdkmath.Int `json:"improvement"` // max(ToAPR - FromAPR, 0)

	Policy types.Policy `json:"policy"`
}

// ValidateMove checks whether rotating the owner's funds from one destination
// to another is currently justified: both destinations must be registered,
// enabled, and serve the same asset; the owner must have a policy for that
// asset; and the target's APR must beat the source's by at least the policy
// minimum, computed over fresh snapshot history.
func (e *Engine) ValidateMove(ctx context.Context, owner, from, to common.Address) (*MoveDecision, error) {
	fromDest, err := e.requireEnabled(from)
	if err != nil {
		return nil, err
	}
	toDest, err := e.requireEnabled(to)
	if err != nil {
		return nil, err
	}

	if fromDest.Asset != toDest.Asset {
		metrics.ValidationFailures.WithLabelValues("asset_mismatch").Inc()
		return nil, fmt.Errorf(
			"%w: %s serves %s, %s serves %s",
			ErrAssetMismatch, from.Hex(), fromDest.Asset.Hex(), to.Hex(), toDest.Asset.Hex(),
		)
	}
	asset := fromDest.Asset

	policy, err := e.policies.GetPolicy(owner, asset)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		metrics.ValidationFailures.WithLabelValues("no_policy").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNoPolicy, policyKey(owner, asset))
	}

	fromAPR, err := e.destinationAPR(from, policy.SnapshotsRequired, policy.MaxTimeBetweenSnapshots, policy.Method)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues("history").Inc()
		return nil, err
	}
	toAPR, err := e.destinationAPR(to, policy.SnapshotsRequired, policy.MaxTimeBetweenSnapshots, policy.Method)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues("history").Inc()
		return nil, err
	}

	// A loss-making target is treated as zero improvement, never as a
	// negative value that could wrap a comparison.
	improvement := toAPR.Sub(fromAPR)
	if improvement.IsNegative() {
		improvement = sdkmath.ZeroInt()
	}

	decision := &MoveDecision{
		Owner:       owner,
		From:        from,
		To:          to,
		Asset:       asset,
		FromAPR:     fromAPR,
		ToAPR:       toAPR,
		Improvement: improvement,
		Policy:      *policy,
	}

	if improvement.LT(policy.MinImprovement) {
		metrics.ValidationFailures.WithLabelValues("insufficient_improvement").Inc()
		return decision, fmt.Errorf(
			"%w: improvement %s < required %s",
			ErrInsufficientImprovement, improvement.String(), policy.MinImprovement.String(),
		)
	}

	e.logger.Debug().
		Str("owner", owner.Hex()).
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Str("fromAPR", fromAPR.String()).
		Str("toAPR", toAPR.String()).
		Str("improvement", improvement.String()).
		Msg("Move validated")
	return decision, nil
}

// DestinationAPR computes a destination's current annualized return over the
// trailing window. Exposed for the read-only API; move validation uses the
// same computation with the owner's policy parameters.
func (e *Engine) DestinationAPR(destination common.Address, windowSize int, maxGap uint64, method types.APRMethod) (sdkmath.Int, error) {
	if _, err := e.requireEnabled(destination); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return e.destinationAPR(destination, windowSize, maxGap, method)
}

func (e *Engine) destinationAPR(destination common.Address, windowSize int, maxGap uint64, method types.APRMethod) (sdkmath.Int, error) {
	snapshots, err := e.snapshots.TrailingSnapshots(destination, windowSize)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	value, err := apr.DestinationAPR(snapshots, windowSize, maxGap, method)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("destination %s: %w", destination.Hex(), err)
	}
	if value.IsInt64() {
		metrics.DestinationAPR.WithLabelValues(destination.Hex(), string(method)).Set(float64(value.Int64()))
	}
	return value, nil
}

// requireEnabled loads a destination and rejects unregistered or disabled
// ones under the same sentinel.
func (e *Engine) requireEnabled(destination common.Address) (*types.Destination, error) {
	dest, err := e.registry.GetDestination(destination)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		metrics.ValidationFailures.WithLabelValues("unregistered").Inc()
		return nil, fmt.Errorf("%w: %s is not registered", ErrInvalidDestination, destination.Hex())
	}
	if !dest.Enabled {
		metrics.ValidationFailures.WithLabelValues("disabled").Inc()
		return nil, fmt.Errorf("%w: %s is disabled", ErrInvalidDestination, destination.Hex())
	}
	return dest, nil
}

package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpilot/vrm/internal/types"
)

// SetPolicy validates and stores the owner's rotation policy for an asset,
// registering any approved destinations not yet known to the engine. The
// destination verification phase is read-only; registrations and the policy
// row are persisted in one atomic write, so a failed policy update leaves no
// new registrations behind. A successful call finishes with a best-effort
// snapshot pass over the approved set so that freshly registered destinations
// start accumulating history immediately.
func (e *Engine) SetPolicy(ctx context.Context, owner, asset common.Address, policy types.Policy) error {
	installed, err := e.registry.IsAccountInstalled(owner)
	if err != nil {
		return err
	}
	if !installed {
		return fmt.Errorf("%w: %s", ErrAccountNotInstalled, owner.Hex())
	}

	if err := validatePolicy(policy); err != nil {
		return err
	}

	var newDestinations []types.Destination
	for _, destination := range policy.ApprovedDestinations {
		dest, err := e.resolveDestination(ctx, destination, asset)
		if err != nil {
			return err
		}
		if dest != nil {
			newDestinations = append(newDestinations, *dest)
		}
	}

	policy.UpdatedAt = e.now()
	if err := e.policies.SavePolicy(owner, asset, policy, newDestinations); err != nil {
		return err
	}

	for _, dest := range newDestinations {
		e.emitEvent(types.EventDestinationRegistered, dest.Address.Hex(), map[string]interface{}{
			"asset": dest.Asset.Hex(),
		})
		e.logger.Info().
			Str("destination", dest.Address.Hex()).
			Str("asset", dest.Asset.Hex()).
			Msg("Destination registered")
	}

	e.emitEvent(types.EventPolicyUpdated, policyKey(owner, asset), map[string]interface{}{
		"approvedDestinations": len(policy.ApprovedDestinations),
		"minImprovement":       policy.MinImprovement.String(),
		"snapshotsRequired":    policy.SnapshotsRequired,
		"method":               string(policy.Method),
	})
	e.logger.Info().
		Str("owner", owner.Hex()).
		Str("asset", asset.Hex()).
		Int("approvedDestinations", len(policy.ApprovedDestinations)).
		Str("method", string(policy.Method)).
		Msg("Policy saved")

	// Seed history for the approved set. Spacing and registration skips are
	// expected here and must not fail the policy write that already happened.
	if err := e.RecordSnapshots(ctx, policy.ApprovedDestinations); err != nil {
		e.logger.Warn().Err(err).
			Str("owner", owner.Hex()).
			Msg("Initial snapshot pass after policy update failed")
	}
	return nil
}

func validatePolicy(policy types.Policy) error {
	if len(policy.ApprovedDestinations) == 0 {
		return fmt.Errorf("%w: approved destination list is empty", ErrInvalidPolicy)
	}
	if policy.SnapshotsRequired < 2 {
		return fmt.Errorf("%w: snapshotsRequired must be at least 2, got %d", ErrInvalidPolicy, policy.SnapshotsRequired)
	}
	if !policy.MinImprovement.IsPositive() {
		return fmt.Errorf("%w: minImprovement must be positive", ErrInvalidPolicy)
	}
	if policy.MaxTimeBetweenSnapshots <= types.MinSnapshotInterval {
		return fmt.Errorf(
			"%w: maxTimeBetweenSnapshots must exceed the minimum snapshot interval of %ds",
			ErrInvalidPolicy, types.MinSnapshotInterval,
		)
	}
	if !policy.MaxInvestment.IsPositive() {
		return fmt.Errorf("%w: maxInvestment must be positive", ErrInvalidPolicy)
	}
	if !policy.Method.Valid() {
		return fmt.Errorf("%w: unknown APR method %q", ErrInvalidPolicy, policy.Method)
	}
	return nil
}

// resolveDestination verifies a destination serves the expected asset. For an
// already registered destination it returns nil; for an unknown one it
// returns the registration row to persist alongside the policy. The asset
// binding taken at registration is permanent: a destination can never be
// re-approved under a different asset.
func (e *Engine) resolveDestination(ctx context.Context, destination, asset common.Address) (*types.Destination, error) {
	existing, err := e.registry.GetDestination(destination)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Asset != asset {
			return nil, fmt.Errorf(
				"%w: %s is registered for asset %s, not %s",
				ErrInvalidDestination, destination.Hex(), existing.Asset.Hex(), asset.Hex(),
			)
		}
		return nil, nil
	}

	onchainAsset, err := e.vaults.Asset(ctx, destination)
	if err != nil {
		return nil, fmt.Errorf("failed to query underlying asset of %s: %w", destination.Hex(), err)
	}
	if onchainAsset != asset {
		return nil, fmt.Errorf(
			"%w: %s reports underlying asset %s, not %s",
			ErrInvalidDestination, destination.Hex(), onchainAsset.Hex(), asset.Hex(),
		)
	}

	return &types.Destination{
		Address:      destination,
		Asset:        asset,
		Enabled:      true,
		RegisteredAt: e.now(),
	}, nil
}

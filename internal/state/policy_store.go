// ./internal/state/policy_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/vaultpilot/vrm/internal/types"
)

// PolicyStore persists per-(owner, asset) rotation policies.
type PolicyStore struct{}

// SavePolicy writes the policy for (owner, asset), replacing any prior
// version entirely, and registers the given destinations in the same
// transaction. A failure rolls back both; there is no partial merge and no
// orphaned registration.
func (PolicyStore) SavePolicy(owner, asset common.Address, policy types.Policy, register []types.Destination) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	approved := make([]string, len(policy.ApprovedDestinations))
	for i, dest := range policy.ApprovedDestinations {
		approved[i] = dest.Hex()
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin policy transaction: %w", err)
	}
	defer tx.Rollback()

	registerQuery := `
		INSERT INTO destinations (address, asset, enabled, registered_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (address) DO NOTHING;`
	for _, dest := range register {
		if _, err := tx.Exec(registerQuery, dest.Address.Hex(), dest.Asset.Hex(), dest.Enabled); err != nil {
			return fmt.Errorf("failed to register destination %s: %w", dest.Address.Hex(), err)
		}
	}

	query := `
		INSERT INTO policies (
			owner, asset, approved_destinations,
			min_improvement, snapshots_required, max_time_between_snapshots,
			max_investment, apr_method, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		ON CONFLICT (owner, asset) DO UPDATE SET
			approved_destinations = EXCLUDED.approved_destinations,
			min_improvement = EXCLUDED.min_improvement,
			snapshots_required = EXCLUDED.snapshots_required,
			max_time_between_snapshots = EXCLUDED.max_time_between_snapshots,
			max_investment = EXCLUDED.max_investment,
			apr_method = EXCLUDED.apr_method,
			updated_at = CURRENT_TIMESTAMP;`

	_, err = tx.Exec(
		query,
		owner.Hex(), asset.Hex(), pq.Array(approved),
		policy.MinImprovement.String(), policy.SnapshotsRequired, policy.MaxTimeBetweenSnapshots,
		policy.MaxInvestment.String(), string(policy.Method),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy for (%s, %s): %w", owner.Hex(), asset.Hex(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit policy for (%s, %s): %w", owner.Hex(), asset.Hex(), err)
	}

	log.Info().
		Str("owner", owner.Hex()).
		Str("asset", asset.Hex()).
		Int("approvedDestinations", len(approved)).
		Str("method", string(policy.Method)).
		Msg("Policy saved")
	return nil
}

// GetPolicy returns the policy for (owner, asset), or nil when none exists.
func (PolicyStore) GetPolicy(owner, asset common.Address) (*types.Policy, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT approved_destinations, min_improvement, snapshots_required,
		       max_time_between_snapshots, max_investment, apr_method, updated_at
		FROM policies
		WHERE owner = $1 AND asset = $2;`

	var (
		approved          []string
		minImprovementStr string
		maxInvestmentStr  string
		methodStr         string
		policy            types.Policy
	)
	row := DB.QueryRow(query, owner.Hex(), asset.Hex())
	err := row.Scan(
		pq.Array(&approved), &minImprovementStr, &policy.SnapshotsRequired,
		&policy.MaxTimeBetweenSnapshots, &maxInvestmentStr, &methodStr, &policy.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load policy for (%s, %s): %w", owner.Hex(), asset.Hex(), err)
	}

	minImprovement, ok := sdkmath.NewIntFromString(minImprovementStr)
	if !ok {
		return nil, fmt.Errorf("corrupt min_improvement %q", minImprovementStr)
	}
	maxInvestment, ok := sdkmath.NewIntFromString(maxInvestmentStr)
	if !ok {
		return nil, fmt.Errorf("corrupt max_investment %q", maxInvestmentStr)
	}

	policy.MinImprovement = minImprovement
	policy.MaxInvestment = maxInvestment
	policy.Method = types.APRMethod(methodStr)
	policy.ApprovedDestinations = make([]common.Address, len(approved))
	for i, dest := range approved {
		policy.ApprovedDestinations[i] = common.HexToAddress(dest)
	}
	return &policy, nil
}

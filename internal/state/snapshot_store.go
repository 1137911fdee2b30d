// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/vaultpilot/vrm/internal/types"
)

// SnapshotStore persists the append-only per-destination valuation history.
// Rows are never updated or deleted.
type SnapshotStore struct{}

// AppendSnapshot appends one snapshot for the destination. The uniqueness
// constraint on (destination, recorded_at) rejects duplicate timestamps;
// ordering is enforced by the engine's spacing check before the write.
func (SnapshotStore) AppendSnapshot(destination common.Address, snap types.Snapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if snap.Valuation.IsNil() {
		return fmt.Errorf("snapshot valuation cannot be nil")
	}

	query := `
		INSERT INTO snapshots (destination, valuation, recorded_at)
		VALUES ($1, $2, $3)
		RETURNING snapshot_id;`

	var snapshotID int64
	err := DB.QueryRow(query, destination.Hex(), snap.Valuation.String(), snap.Timestamp).Scan(&snapshotID)
	if err != nil {
		return fmt.Errorf("failed to append snapshot for %s: %w", destination.Hex(), err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("destination", destination.Hex()).
		Str("valuation", snap.Valuation.String()).
		Uint64("timestamp", snap.Timestamp).
		Msg("Snapshot appended")
	return nil
}

// LatestSnapshot returns the most recent snapshot for the destination, or nil
// if none has been recorded.
func (SnapshotStore) LatestSnapshot(destination common.Address) (*types.Snapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT valuation, recorded_at
		FROM snapshots
		WHERE destination = $1
		ORDER BY recorded_at DESC
		LIMIT 1;`

	var (
		valuationStr string
		snap         types.Snapshot
	)
	err := DB.QueryRow(query, destination.Hex()).Scan(&valuationStr, &snap.Timestamp)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest snapshot for %s: %w", destination.Hex(), err)
	}

	valuation, ok := sdkmath.NewIntFromString(valuationStr)
	if !ok {
		return nil, fmt.Errorf("corrupt valuation %q for %s", valuationStr, destination.Hex())
	}
	snap.Valuation = valuation
	return &snap, nil
}

// TrailingSnapshots returns up to limit most-recent snapshots for the
// destination in ascending timestamp order, the calculator's expected shape.
func (SnapshotStore) TrailingSnapshots(destination common.Address, limit int) ([]types.Snapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("snapshot limit must be positive, got %d", limit)
	}

	query := `
		SELECT valuation, recorded_at
		FROM snapshots
		WHERE destination = $1
		ORDER BY recorded_at DESC
		LIMIT $2;`

	rows, err := DB.Query(query, destination.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots for %s: %w", destination.Hex(), err)
	}
	defer rows.Close()

	var snapshots []types.Snapshot
	for rows.Next() {
		var (
			valuationStr string
			snap         types.Snapshot
		)
		if err := rows.Scan(&valuationStr, &snap.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		valuation, ok := sdkmath.NewIntFromString(valuationStr)
		if !ok {
			return nil, fmt.Errorf("corrupt valuation %q for %s", valuationStr, destination.Hex())
		}
		snap.Valuation = valuation
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating snapshots: %w", err)
	}

	// Query returns newest-first; flip to chronological order.
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

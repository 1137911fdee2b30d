package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpilot/vrm/internal/metrics"
	"github.com/vaultpilot/vrm/internal/types"
)

// RecordSnapshots appends one valuation snapshot for each registered
// destination in the batch. Unregistered destinations and destinations whose
// minimum spacing has not elapsed are skipped rather than failing the whole
// call; any infrastructure failure still aborts it.
func (e *Engine) RecordSnapshots(ctx context.Context, destinations []common.Address) error {
	for _, destination := range destinations {
		if err := e.recordSnapshot(ctx, destination, false); err != nil {
			return err
		}
	}
	return nil
}

// RecordSnapshot is the strict single-destination variant: an unregistered
// destination or unmet spacing fails the call instead of being skipped.
func (e *Engine) RecordSnapshot(ctx context.Context, destination common.Address) error {
	return e.recordSnapshot(ctx, destination, true)
}

func (e *Engine) recordSnapshot(ctx context.Context, destination common.Address, strict bool) error {
	registered, err := e.registry.GetDestination(destination)
	if err != nil {
		return err
	}
	if registered == nil {
		if strict {
			return fmt.Errorf("%w: %s is not registered", ErrInvalidDestination, destination.Hex())
		}
		metrics.SnapshotsSkipped.WithLabelValues("unregistered").Inc()
		e.logger.Debug().Str("destination", destination.Hex()).Msg("Skipping unregistered destination")
		return nil
	}

	now := uint64(e.now().Unix())

	last, err := e.snapshots.LatestSnapshot(destination)
	if err != nil {
		return err
	}
	// The spacing check also guards the strictly-increasing timestamp
	// invariant against a skewed clock.
	if last != nil && (now <= last.Timestamp || now-last.Timestamp < types.MinSnapshotInterval) {
		if strict {
			return fmt.Errorf("%w: destination %s last snapshotted at %d", ErrSnapshotTooSoon, destination.Hex(), last.Timestamp)
		}
		metrics.SnapshotsSkipped.WithLabelValues("too_soon").Inc()
		e.logger.Debug().
			Str("destination", destination.Hex()).
			Uint64("lastTimestamp", last.Timestamp).
			Msg("Skipping destination snapshotted too recently")
		return nil
	}

	valuation, err := e.vaults.Valuation(ctx, destination)
	if err != nil {
		return fmt.Errorf("failed to sample valuation of %s: %w", destination.Hex(), err)
	}

	snap := types.Snapshot{Valuation: valuation, Timestamp: now}
	if err := e.snapshots.AppendSnapshot(destination, snap); err != nil {
		return err
	}

	metrics.SnapshotsRecorded.WithLabelValues(destination.Hex()).Inc()
	e.emitEvent(types.EventSnapshotRecorded, destination.Hex(), map[string]interface{}{
		"valuation": valuation.String(),
		"timestamp": now,
	})

	e.logger.Info().
		Str("destination", destination.Hex()).
		Str("valuation", valuation.String()).
		Uint64("timestamp", now).
		Msg("Snapshot recorded")
	return nil
}

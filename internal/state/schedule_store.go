// ./internal/state/schedule_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/vaultpilot/vrm/internal/types"
)

// ScheduleStore persists recurring payment schedules.
type ScheduleStore struct{}

// CreateSchedule inserts a new schedule and returns its id.
func (ScheduleStore) CreateSchedule(schedule types.PaymentSchedule) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO payment_schedules (
			owner, beneficiary, asset, max_amount, interval_seconds, last_executed
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING schedule_id;`

	var scheduleID int64
	err := DB.QueryRow(
		query,
		schedule.Owner.Hex(), schedule.Beneficiary.Hex(), schedule.Asset.Hex(),
		schedule.MaxAmount.String(), schedule.Interval, schedule.LastExecuted,
	).Scan(&scheduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to create payment schedule: %w", err)
	}

	log.Info().
		Int64("schedule_id", scheduleID).
		Str("owner", schedule.Owner.Hex()).
		Str("beneficiary", schedule.Beneficiary.Hex()).
		Msg("Payment schedule created")
	return scheduleID, nil
}

// GetSchedule returns the owner's schedule by id, or nil when absent. The
// owner predicate guarantees one owner can never read or execute another's
// schedule regardless of id guessing.
func (ScheduleStore) GetSchedule(owner common.Address, scheduleID int64) (*types.PaymentSchedule, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT schedule_id, owner, beneficiary, asset, max_amount,
		       interval_seconds, last_executed, created_at
		FROM payment_schedules
		WHERE owner = $1 AND schedule_id = $2;`

	var (
		ownerStr, beneficiaryStr, assetStr string
		maxAmountStr                       string
		schedule                           types.PaymentSchedule
	)
	row := DB.QueryRow(query, owner.Hex(), scheduleID)
	err := row.Scan(
		&schedule.ScheduleID, &ownerStr, &beneficiaryStr, &assetStr, &maxAmountStr,
		&schedule.Interval, &schedule.LastExecuted, &schedule.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load schedule %d: %w", scheduleID, err)
	}

	maxAmount, ok := sdkmath.NewIntFromString(maxAmountStr)
	if !ok {
		return nil, fmt.Errorf("corrupt max_amount %q for schedule %d", maxAmountStr, scheduleID)
	}
	schedule.Owner = common.HexToAddress(ownerStr)
	schedule.Beneficiary = common.HexToAddress(beneficiaryStr)
	schedule.Asset = common.HexToAddress(assetStr)
	schedule.MaxAmount = maxAmount
	return &schedule, nil
}

// MarkExecuted advances the schedule's last execution timestamp.
func (ScheduleStore) MarkExecuted(owner common.Address, scheduleID int64, executedAt uint64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE payment_schedules
		SET last_executed = $3
		WHERE owner = $1 AND schedule_id = $2;`

	result, err := DB.Exec(query, owner.Hex(), scheduleID, executedAt)
	if err != nil {
		return fmt.Errorf("failed to mark schedule %d executed: %w", scheduleID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no schedule %d for owner %s", scheduleID, owner.Hex())
	}
	return nil
}

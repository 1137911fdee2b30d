/*

This file contains the recurring payment scheduler: an interval-gated
authorization to pull a capped amount from an owner's smart account to a fixed
beneficiary. Execution is pull-based; anyone may trigger it, so every check is
enforced here rather than trusted from the caller.

*/

package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/vaultpilot/vrm/internal/host"
	"github.com/vaultpilot/vrm/internal/logger"
	"github.com/vaultpilot/vrm/internal/metrics"
	"github.com/vaultpilot/vrm/internal/types"
	"github.com/vaultpilot/vrm/internal/vault"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoSchedule          = errors.New("no such payment schedule for owner")
	ErrPaymentTooSoon      = errors.New("schedule interval has not elapsed")
	ErrExceedsCap          = errors.New("payment amount exceeds the schedule cap")
	ErrInvalidSchedule     = errors.New("invalid schedule parameters")
	ErrAccountNotInstalled = errors.New("account not installed")
)

// ScheduleStore persists payment schedules.
type ScheduleStore interface {
	CreateSchedule(schedule types.PaymentSchedule) (int64, error)
	GetSchedule(owner common.Address, scheduleID int64) (*types.PaymentSchedule, error)
	MarkExecuted(owner common.Address, scheduleID int64, executedAt uint64) error
}

// Accounts answers whether an owner has been installed into the engine.
type Accounts interface {
	IsAccountInstalled(owner common.Address) (bool, error)
}

// EventSink records audit events.
type EventSink interface {
	RecordEvent(event types.Event) error
}

// Scheduler manages payment schedules and executes due payments through the
// owner's smart account.
type Scheduler struct {
	logger    zerolog.Logger
	schedules ScheduleStore
	accounts  Accounts
	events    EventSink
	host      host.ExecutionHost
	now       func() time.Time
}

// Config holds the configuration for creating a new Scheduler instance
type Config struct {
	Schedules ScheduleStore
	Accounts  Accounts
	Events    EventSink
	Host      host.ExecutionHost

	// Clock overrides the time source, primarily for tests. Defaults to
	// time.Now.
	Clock func() time.Time
}

// New creates a new Scheduler instance with dependency injection
func New(cfg Config) (*Scheduler, error) {
	if cfg.Schedules == nil {
		return nil, fmt.Errorf("schedule store cannot be nil")
	}
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("account registry cannot be nil")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("event sink cannot be nil")
	}
	if cfg.Host == nil {
		return nil, fmt.Errorf("execution host cannot be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Scheduler{
		logger:    logger.GetForComponent("payment_scheduler"),
		schedules: cfg.Schedules,
		accounts:  cfg.Accounts,
		events:    cfg.Events,
		host:      cfg.Host,
		now:       clock,
	}, nil
}

// CreateSchedule validates and stores a new payment authorization for the
// owner. A new schedule is immediately executable; the interval gates
// repetition, not the first payment.
func (s *Scheduler) CreateSchedule(owner common.Address, schedule types.PaymentSchedule) (int64, error) {
	installed, err := s.accounts.IsAccountInstalled(owner)
	if err != nil {
		return 0, err
	}
	if !installed {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotInstalled, owner.Hex())
	}

	if schedule.MaxAmount.IsNil() || !schedule.MaxAmount.IsPositive() {
		return 0, fmt.Errorf("%w: max amount must be positive", ErrInvalidSchedule)
	}
	if schedule.Interval == 0 {
		return 0, fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	}
	if schedule.Beneficiary == (common.Address{}) {
		return 0, fmt.Errorf("%w: beneficiary cannot be the zero address", ErrInvalidSchedule)
	}

	schedule.Owner = owner
	schedule.LastExecuted = 0
	scheduleID, err := s.schedules.CreateSchedule(schedule)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Int64("schedule_id", scheduleID).
		Str("owner", owner.Hex()).
		Str("beneficiary", schedule.Beneficiary.Hex()).
		Str("max_amount", schedule.MaxAmount.String()).
		Uint64("interval", schedule.Interval).
		Msg("Payment schedule created")
	return scheduleID, nil
}

// ExecutePayment transfers the given amount under the owner's schedule. The
// amount may be anything up to the cap; the interval must have fully elapsed
// since the previous execution.
func (s *Scheduler) ExecutePayment(ctx context.Context, owner common.Address, scheduleID int64, amount sdkmath.Int) (*types.ExecutionResult, error) {
	schedule, err := s.schedules.GetSchedule(owner, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("%w: schedule %d, owner %s", ErrNoSchedule, scheduleID, owner.Hex())
	}

	if amount.IsNil() || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidSchedule)
	}
	if amount.GT(schedule.MaxAmount) {
		return nil, fmt.Errorf(
			"%w: %s > cap %s", ErrExceedsCap, amount.String(), schedule.MaxAmount.String(),
		)
	}

	now := uint64(s.now().Unix())
	if schedule.LastExecuted != 0 &&
		(now <= schedule.LastExecuted || now-schedule.LastExecuted < schedule.Interval) {
		return nil, fmt.Errorf(
			"%w: last executed at %d, interval %ds", ErrPaymentTooSoon, schedule.LastExecuted, schedule.Interval,
		)
	}

	transfer, err := vault.TransferCall(schedule.Asset, schedule.Beneficiary, amount)
	if err != nil {
		return nil, err
	}

	result, err := s.host.ExecuteBatch(ctx, owner, []types.Instruction{transfer})
	if err != nil {
		return nil, fmt.Errorf("payment dispatch failed for schedule %d: %w", scheduleID, err)
	}

	if err := s.schedules.MarkExecuted(owner, scheduleID, now); err != nil {
		// The transfer already happened; a missed gate update is worse than a
		// missed audit line, so this one is not swallowed.
		return result, fmt.Errorf("payment sent but failed to advance schedule %d: %w", scheduleID, err)
	}

	event := types.Event{
		Kind:    types.EventPaymentExecuted,
		Subject: fmt.Sprintf("%s/%d", owner.Hex(), scheduleID),
		Payload: map[string]interface{}{
			"beneficiary": schedule.Beneficiary.Hex(),
			"asset":       schedule.Asset.Hex(),
			"amount":      amount.String(),
			"tx_hash":     result.TxHash,
		},
	}
	if err := s.events.RecordEvent(event); err != nil {
		s.logger.Error().Err(err).Int64("schedule_id", scheduleID).Msg("Failed to record payment event")
	}
	metrics.PaymentsExecuted.Inc()

	s.logger.Info().
		Int64("schedule_id", scheduleID).
		Str("owner", owner.Hex()).
		Str("amount", amount.String()).
		Str("tx_hash", result.TxHash).
		Msg("Payment executed")
	return result, nil
}

// Package engine implements the rotation decision engine: snapshot
// recording, policy management, move validation, and move orchestration.
// Every public operation is independently re-evaluated against current
// snapshots, policy, and live balances; the engine holds no per-decision
// state of its own.
package engine

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/vaultpilot/vrm/internal/host"
	"github.com/vaultpilot/vrm/internal/logger"
	"github.com/vaultpilot/vrm/internal/types"
	"github.com/vaultpilot/vrm/internal/vault"
)

// DestinationRegistry persists destination registrations and installed
// accounts.
type DestinationRegistry interface {
	GetDestination(address common.Address) (*types.Destination, error)
	RegisterDestination(dest types.Destination) error
	InstallAccount(owner common.Address) error
	IsAccountInstalled(owner common.Address) (bool, error)
}

// SnapshotStore persists the append-only valuation history.
type SnapshotStore interface {
	AppendSnapshot(destination common.Address, snap types.Snapshot) error
	LatestSnapshot(destination common.Address) (*types.Snapshot, error)
	TrailingSnapshots(destination common.Address, limit int) ([]types.Snapshot, error)
}

// PolicyStore persists per-(owner, asset) policies. SavePolicy writes the
// policy and any newly approved destination registrations atomically: either
// both land or neither does.
type PolicyStore interface {
	SavePolicy(owner, asset common.Address, policy types.Policy, register []types.Destination) error
	GetPolicy(owner, asset common.Address) (*types.Policy, error)
}

// ReceiptStore persists move receipts and engine events.
type ReceiptStore interface {
	SaveMoveReceipt(receipt types.MoveReceipt) (int64, error)
	RecordEvent(event types.Event) error
}

// Engine wires the stores, the vault gateway, and the execution host into
// the public operation surface.
type Engine struct {
	logger    zerolog.Logger
	registry  DestinationRegistry
	snapshots SnapshotStore
	policies  PolicyStore
	receipts  ReceiptStore
	vaults    vault.Gateway
	host      host.ExecutionHost
	now       func() time.Time
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Registry      DestinationRegistry
	Snapshots     SnapshotStore
	Policies      PolicyStore
	Receipts      ReceiptStore
	VaultGateway  vault.Gateway
	ExecutionHost host.ExecutionHost

	// Clock overrides the time source, primarily for tests. Defaults to
	// time.Now.
	Clock func() time.Time
}

// New creates a new Engine instance with dependency injection
func New(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	eng := &Engine{
		logger:    logger.GetForComponent("rotation_engine"),
		registry:  cfg.Registry,
		snapshots: cfg.Snapshots,
		policies:  cfg.Policies,
		receipts:  cfg.Receipts,
		vaults:    cfg.VaultGateway,
		host:      cfg.ExecutionHost,
		now:       clock,
	}

	eng.logger.Info().Msg("Rotation engine created successfully with dependency injection")
	return eng, nil
}

func validateEngineConfig(cfg Config) error {
	if cfg.Registry == nil {
		return fmt.Errorf("destination registry cannot be nil")
	}
	if cfg.Snapshots == nil {
		return fmt.Errorf("snapshot store cannot be nil")
	}
	if cfg.Policies == nil {
		return fmt.Errorf("policy store cannot be nil")
	}
	if cfg.Receipts == nil {
		return fmt.Errorf("receipt store cannot be nil")
	}
	if cfg.VaultGateway == nil {
		return fmt.Errorf("vault gateway cannot be nil")
	}
	if cfg.ExecutionHost == nil {
		return fmt.Errorf("execution host cannot be nil")
	}
	return nil
}

// InstallAccount links a smart account into the engine, unlocking policy
// configuration for it.
func (e *Engine) InstallAccount(owner common.Address) error {
	if err := e.registry.InstallAccount(owner); err != nil {
		return err
	}
	e.logger.Info().Str("owner", owner.Hex()).Msg("Account installed into engine")
	return nil
}

// emitEvent persists an audit event. Event persistence is an audit concern,
// not part of an operation's effect, so failures are logged and swallowed.
func (e *Engine) emitEvent(kind, subject string, payload interface{}) {
	event := types.Event{Kind: kind, Subject: subject, Payload: payload}
	if err := e.receipts.RecordEvent(event); err != nil {
		e.logger.Error().Err(err).Str("kind", kind).Str("subject", subject).Msg("Failed to record event")
	}
}

func policyKey(owner, asset common.Address) string {
	return owner.Hex() + "/" + asset.Hex()
}

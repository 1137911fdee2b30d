package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpilot/vrm/internal/apr"
	"github.com/vaultpilot/vrm/internal/types"
)

var (
	testOwner = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testAsset = common.HexToAddress("0x0000000000000000000000000000000000000001")
	vaultX    = common.HexToAddress("0x0000000000000000000000000000000000000010")
	vaultY    = common.HexToAddress("0x0000000000000000000000000000000000000020")
)

// --- in-memory fakes -------------------------------------------------------

type fakeRegistry struct {
	destinations map[common.Address]types.Destination
	accounts     map[common.Address]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		destinations: make(map[common.Address]types.Destination),
		accounts:     make(map[common.Address]bool),
	}
}

func (r *fakeRegistry) GetDestination(address common.Address) (*types.Destination, error) {
	dest, ok := r.destinations[address]
	if !ok {
		return nil, nil
	}
	return &dest, nil
}

func (r *fakeRegistry) RegisterDestination(dest types.Destination) error {
	if _, exists := r.destinations[dest.Address]; exists {
		return nil
	}
	r.destinations[dest.Address] = dest
	return nil
}

func (r *fakeRegistry) InstallAccount(owner common.Address) error {
	r.accounts[owner] = true
	return nil
}

func (r *fakeRegistry) IsAccountInstalled(owner common.Address) (bool, error) {
	return r.accounts[owner], nil
}

type fakeSnapshots struct {
	history map[common.Address][]types.Snapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{history: make(map[common.Address][]types.Snapshot)}
}

func (s *fakeSnapshots) AppendSnapshot(destination common.Address, snap types.Snapshot) error {
	s.history[destination] = append(s.history[destination], snap)
	return nil
}

func (s *fakeSnapshots) LatestSnapshot(destination common.Address) (*types.Snapshot, error) {
	history := s.history[destination]
	if len(history) == 0 {
		return nil, nil
	}
	last := history[len(history)-1]
	return &last, nil
}

func (s *fakeSnapshots) TrailingSnapshots(destination common.Address, limit int) ([]types.Snapshot, error) {
	history := s.history[destination]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]types.Snapshot(nil), history...), nil
}

type fakePolicies struct {
	policies map[string]types.Policy
	registry *fakeRegistry
	failSave error
}

func newFakePolicies(registry *fakeRegistry) *fakePolicies {
	return &fakePolicies{policies: make(map[string]types.Policy), registry: registry}
}

// SavePolicy mirrors the real store's atomicity: on failure neither the
// policy nor any registration lands.
func (p *fakePolicies) SavePolicy(owner, asset common.Address, policy types.Policy, register []types.Destination) error {
	if p.failSave != nil {
		return p.failSave
	}
	for _, dest := range register {
		if err := p.registry.RegisterDestination(dest); err != nil {
			return err
		}
	}
	p.policies[policyKey(owner, asset)] = policy
	return nil
}

func (p *fakePolicies) GetPolicy(owner, asset common.Address) (*types.Policy, error) {
	policy, ok := p.policies[policyKey(owner, asset)]
	if !ok {
		return nil, nil
	}
	return &policy, nil
}

type fakeReceipts struct {
	receipts []types.MoveReceipt
	events   []types.Event
}

func (r *fakeReceipts) SaveMoveReceipt(receipt types.MoveReceipt) (int64, error) {
	r.receipts = append(r.receipts, receipt)
	return int64(len(r.receipts)), nil
}

func (r *fakeReceipts) RecordEvent(event types.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *fakeReceipts) eventKinds() []string {
	kinds := make([]string, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

type fakeGateway struct {
	assets     map[common.Address]common.Address
	valuations map[common.Address]sdkmath.Int
	balances   map[common.Address]map[common.Address]sdkmath.Int // destination -> owner -> balance
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		assets:     make(map[common.Address]common.Address),
		valuations: make(map[common.Address]sdkmath.Int),
		balances:   make(map[common.Address]map[common.Address]sdkmath.Int),
	}
}

func (g *fakeGateway) Asset(_ context.Context, destination common.Address) (common.Address, error) {
	asset, ok := g.assets[destination]
	if !ok {
		return common.Address{}, fmt.Errorf("no such vault %s", destination.Hex())
	}
	return asset, nil
}

func (g *fakeGateway) Valuation(_ context.Context, destination common.Address) (sdkmath.Int, error) {
	valuation, ok := g.valuations[destination]
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("no such vault %s", destination.Hex())
	}
	return valuation, nil
}

func (g *fakeGateway) AssetBalance(_ context.Context, destination, owner common.Address) (sdkmath.Int, error) {
	if balances, ok := g.balances[destination]; ok {
		if balance, ok := balances[owner]; ok {
			return balance, nil
		}
	}
	return sdkmath.ZeroInt(), nil
}

func (g *fakeGateway) setBalance(destination, owner common.Address, balance sdkmath.Int) {
	if g.balances[destination] == nil {
		g.balances[destination] = make(map[common.Address]sdkmath.Int)
	}
	g.balances[destination][owner] = balance
}

type fakeHost struct {
	batches [][]types.Instruction
	owners  []common.Address
	fail    error
}

func (h *fakeHost) ExecuteBatch(_ context.Context, owner common.Address, batch []types.Instruction) (*types.ExecutionResult, error) {
	if h.fail != nil {
		return nil, h.fail
	}
	h.batches = append(h.batches, batch)
	h.owners = append(h.owners, owner)
	return &types.ExecutionResult{TxHash: "0xfeed", GasUsed: 210_000}, nil
}

// --- fixtures --------------------------------------------------------------

type testHarness struct {
	engine    *Engine
	registry  *fakeRegistry
	snapshots *fakeSnapshots
	policies  *fakePolicies
	receipts  *fakeReceipts
	gateway   *fakeGateway
	host      *fakeHost
	now       time.Time
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	registry := newFakeRegistry()
	h := &testHarness{
		registry:  registry,
		snapshots: newFakeSnapshots(),
		policies:  newFakePolicies(registry),
		receipts:  &fakeReceipts{},
		gateway:   newFakeGateway(),
		host:      &fakeHost{},
		now:       time.Unix(1_700_000_000, 0),
	}

	eng, err := New(Config{
		Registry:      h.registry,
		Snapshots:     h.snapshots,
		Policies:      h.policies,
		Receipts:      h.receipts,
		VaultGateway:  h.gateway,
		ExecutionHost: h.host,
		Clock:         func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.engine = eng
	return h
}

func (h *testHarness) registerVault(address common.Address, enabled bool) {
	h.registry.destinations[address] = types.Destination{
		Address: address, Asset: testAsset, Enabled: enabled, RegisteredAt: h.now,
	}
	h.gateway.assets[address] = testAsset
}

// seedHistory appends snapshots six hours apart ending at the harness clock,
// one per growth step applied to the base valuation.
func (h *testHarness) seedHistory(destination common.Address, base int64, growthBps ...int64) {
	count := len(growthBps) + 1
	start := uint64(h.now.Unix()) - uint64(count-1)*types.MinSnapshotInterval
	valuation := sdkmath.NewInt(base)
	h.snapshots.history[destination] = append(h.snapshots.history[destination], types.Snapshot{
		Valuation: valuation, Timestamp: start,
	})
	for i, bps := range growthBps {
		valuation = valuation.Add(valuation.MulRaw(bps).QuoRaw(10_000))
		h.snapshots.history[destination] = append(h.snapshots.history[destination], types.Snapshot{
			Valuation: valuation, Timestamp: start + uint64(i+1)*types.MinSnapshotInterval,
		})
	}
}

func testPolicy() types.Policy {
	return types.Policy{
		ApprovedDestinations:    []common.Address{vaultX, vaultY},
		MinImprovement:          sdkmath.NewInt(50_000),
		SnapshotsRequired:       3,
		MaxTimeBetweenSnapshots: 30_000,
		MaxInvestment:           sdkmath.NewInt(1_000_000),
		Method:                  types.APRMethodAverage,
	}
}

// setUpRotation gives vault X a 1%-per-period history (APR 146000) and vault Y
// a 3%-per-period history (APR 438000), with a stored policy for the owner.
func setUpRotation(t *testing.T) *testHarness {
	t.Helper()
	h := newTestHarness(t)
	require.NoError(t, h.engine.InstallAccount(testOwner))
	h.registerVault(vaultX, true)
	h.registerVault(vaultY, true)
	h.seedHistory(vaultX, 10_000, 100, 100)
	h.seedHistory(vaultY, 10_000, 300, 300)
	require.NoError(t, h.policies.SavePolicy(testOwner, testAsset, testPolicy(), nil))
	return h
}

// --- validation ------------------------------------------------------------

func TestValidateMoveApprovesHigherYield(t *testing.T) {
	h := setUpRotation(t)

	decision, err := h.engine.ValidateMove(context.Background(), testOwner, vaultX, vaultY)
	require.NoError(t, err)

	assert.Equal(t, "146000", decision.FromAPR.String())
	assert.Equal(t, "438000", decision.ToAPR.String())
	assert.Equal(t, "292000", decision.Improvement.String())
	assert.Equal(t, testAsset, decision.Asset)
}

func TestValidateMoveRejectsDowngrade(t *testing.T) {
	h := setUpRotation(t)

	decision, err := h.engine.ValidateMove(context.Background(), testOwner, vaultY, vaultX)
	require.ErrorIs(t, err, ErrInsufficientImprovement)
	require.NotNil(t, decision)
	assert.True(t, decision.Improvement.IsZero(), "negative delta must clamp to zero")
}

func TestValidateMoveRejectsUnregisteredAndDisabled(t *testing.T) {
	h := setUpRotation(t)

	_, err := h.engine.ValidateMove(context.Background(), testOwner, vaultX, common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, ErrInvalidDestination)

	disabled := h.registry.destinations[vaultY]
	disabled.Enabled = false
	h.registry.destinations[vaultY] = disabled

	_, err = h.engine.ValidateMove(context.Background(), testOwner, vaultX, vaultY)
	require.ErrorIs(t, err, ErrInvalidDestination)
}

func TestValidateMoveRejectsAssetMismatch(t *testing.T) {
	h := setUpRotation(t)

	other := h.registry.destinations[vaultY]
	other.Asset = common.HexToAddress("0x0000000000000000000000000000000000000002")
	h.registry.destinations[vaultY] = other

	_, err := h.engine.ValidateMove(context.Background(), testOwner, vaultX, vaultY)
	require.ErrorIs(t, err, ErrAssetMismatch)
}

func TestValidateMoveRequiresPolicy(t *testing.T) {
	h := setUpRotation(t)
	stranger := common.HexToAddress("0xBB")

	_, err := h.engine.ValidateMove(context.Background(), stranger, vaultX, vaultY)
	require.ErrorIs(t, err, ErrNoPolicy)
}

func TestValidateMovePropagatesHistoryErrors(t *testing.T) {
	h := setUpRotation(t)

	// Trim X below the required window.
	h.snapshots.history[vaultX] = h.snapshots.history[vaultX][:2]
	_, err := h.engine.ValidateMove(context.Background(), testOwner, vaultX, vaultY)
	require.ErrorIs(t, err, apr.ErrInsufficientSnapshots)

	// Tear a hole in Y's history wider than the staleness ceiling.
	h.snapshots.history[vaultX] = nil
	h.seedHistory(vaultX, 10_000, 100, 100)
	h.snapshots.history[vaultY][2].Timestamp += 40_000
	_, err = h.engine.ValidateMove(context.Background(), testOwner, vaultX, vaultY)
	require.ErrorIs(t, err, apr.ErrStaleSnapshots)
}

// --- execution -------------------------------------------------------------

func TestExecuteMoveDispatchesOrderedBatch(t *testing.T) {
	h := setUpRotation(t)
	amount := sdkmath.NewInt(5_000)
	h.gateway.setBalance(vaultX, testOwner, sdkmath.NewInt(8_000))

	receipt, err := h.engine.ExecuteMove(context.Background(), testOwner, vaultX, vaultY, amount)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	require.Len(t, h.host.batches, 1)
	batch := h.host.batches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, vaultX, batch[0].Target, "withdraw must hit the source vault first")
	assert.Equal(t, testAsset, batch[1].Target, "approve must hit the underlying asset second")
	assert.Equal(t, vaultY, batch[2].Target, "deposit must hit the target vault last")
	assert.Equal(t, testOwner, h.host.owners[0])

	assert.Equal(t, "0xfeed", receipt.TxHash)
	assert.Equal(t, amount, receipt.Amount)
	assert.Equal(t, "146000", receipt.FromAPR.String())
	assert.Equal(t, "438000", receipt.ToAPR.String())
	require.Len(t, h.receipts.receipts, 1)
	assert.Contains(t, h.receipts.eventKinds(), types.EventFundsMoved)
}

func TestExecuteMoveRejectsNonPositiveAmount(t *testing.T) {
	h := setUpRotation(t)

	_, err := h.engine.ExecuteMove(context.Background(), testOwner, vaultX, vaultY, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Empty(t, h.host.batches)
}

func TestExecuteMoveRequiresInstalledAccount(t *testing.T) {
	h := setUpRotation(t)
	stranger := common.HexToAddress("0xBB")

	_, err := h.engine.ExecuteMove(context.Background(), stranger, vaultX, vaultY, sdkmath.NewInt(100))
	require.ErrorIs(t, err, ErrAccountNotInstalled)
	assert.Empty(t, h.host.batches)
}

func TestExecuteMoveRejectsInsufficientBalance(t *testing.T) {
	h := setUpRotation(t)
	h.gateway.setBalance(vaultX, testOwner, sdkmath.NewInt(1_000))

	_, err := h.engine.ExecuteMove(context.Background(), testOwner, vaultX, vaultY, sdkmath.NewInt(5_000))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, h.host.batches, "nothing may be dispatched on a failed check")
	assert.Empty(t, h.receipts.receipts)
}

func TestExecuteMoveEnforcesInvestmentCeiling(t *testing.T) {
	h := setUpRotation(t)
	h.gateway.setBalance(vaultX, testOwner, sdkmath.NewInt(600_000))
	h.gateway.setBalance(vaultY, testOwner, sdkmath.NewInt(900_000))

	_, err := h.engine.ExecuteMove(context.Background(), testOwner, vaultX, vaultY, sdkmath.NewInt(200_000))
	require.ErrorIs(t, err, ErrMaxInvestmentReached)
	assert.Empty(t, h.host.batches)
}

func TestExecuteMoveHostFailureLeavesNoReceipt(t *testing.T) {
	h := setUpRotation(t)
	h.gateway.setBalance(vaultX, testOwner, sdkmath.NewInt(8_000))
	h.host.fail = errors.New("execution reverted")

	_, err := h.engine.ExecuteMove(context.Background(), testOwner, vaultX, vaultY, sdkmath.NewInt(5_000))
	require.Error(t, err)
	assert.Empty(t, h.receipts.receipts)
	assert.NotContains(t, h.receipts.eventKinds(), types.EventFundsMoved)
}

func TestExecuteMoveRevalidatesImprovement(t *testing.T) {
	h := setUpRotation(t)
	h.gateway.setBalance(vaultY, testOwner, sdkmath.NewInt(500_000))

	_, err := h.engine.ExecuteMove(context.Background(), testOwner, vaultY, vaultX, sdkmath.NewInt(1_000))
	require.ErrorIs(t, err, ErrInsufficientImprovement)
	assert.Empty(t, h.host.batches)
}

// --- snapshots -------------------------------------------------------------

func TestRecordSnapshotsSkipsUnregisteredAndRecent(t *testing.T) {
	h := newTestHarness(t)
	h.registerVault(vaultX, true)
	h.gateway.valuations[vaultX] = sdkmath.NewInt(10_000)

	unregistered := common.HexToAddress("0xdead")
	require.NoError(t, h.engine.RecordSnapshots(context.Background(), []common.Address{vaultX, unregistered}))
	require.Len(t, h.snapshots.history[vaultX], 1)
	assert.Empty(t, h.snapshots.history[unregistered])

	// A second pass inside the spacing interval records nothing.
	h.now = h.now.Add(time.Hour)
	require.NoError(t, h.engine.RecordSnapshots(context.Background(), []common.Address{vaultX}))
	assert.Len(t, h.snapshots.history[vaultX], 1)

	// Past the interval it records again with a strictly later timestamp.
	h.now = h.now.Add(6 * time.Hour)
	require.NoError(t, h.engine.RecordSnapshots(context.Background(), []common.Address{vaultX}))
	history := h.snapshots.history[vaultX]
	require.Len(t, history, 2)
	assert.Greater(t, history[1].Timestamp, history[0].Timestamp)
}

func TestRecordSnapshotStrictErrors(t *testing.T) {
	h := newTestHarness(t)

	err := h.engine.RecordSnapshot(context.Background(), vaultX)
	require.ErrorIs(t, err, ErrInvalidDestination)

	h.registerVault(vaultX, true)
	h.gateway.valuations[vaultX] = sdkmath.NewInt(10_000)
	require.NoError(t, h.engine.RecordSnapshot(context.Background(), vaultX))

	h.now = h.now.Add(time.Hour)
	err = h.engine.RecordSnapshot(context.Background(), vaultX)
	require.ErrorIs(t, err, ErrSnapshotTooSoon)
}

func TestRecordSnapshotRejectsClockRollback(t *testing.T) {
	h := newTestHarness(t)
	h.registerVault(vaultX, true)
	h.gateway.valuations[vaultX] = sdkmath.NewInt(10_000)
	require.NoError(t, h.engine.RecordSnapshot(context.Background(), vaultX))

	h.now = h.now.Add(-time.Hour)
	err := h.engine.RecordSnapshot(context.Background(), vaultX)
	require.ErrorIs(t, err, ErrSnapshotTooSoon, "a rolled-back clock must never break timestamp ordering")
}

// --- policies --------------------------------------------------------------

func TestSetPolicyRequiresInstalledAccount(t *testing.T) {
	h := newTestHarness(t)

	err := h.engine.SetPolicy(context.Background(), testOwner, testAsset, testPolicy())
	require.ErrorIs(t, err, ErrAccountNotInstalled)
}

func TestSetPolicyValidatesParameters(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.engine.InstallAccount(testOwner))

	cases := []struct {
		name   string
		mutate func(*types.Policy)
	}{
		{"empty approved list", func(p *types.Policy) { p.ApprovedDestinations = nil }},
		{"window below two", func(p *types.Policy) { p.SnapshotsRequired = 1 }},
		{"zero min improvement", func(p *types.Policy) { p.MinImprovement = sdkmath.ZeroInt() }},
		{"staleness at spacing floor", func(p *types.Policy) { p.MaxTimeBetweenSnapshots = types.MinSnapshotInterval }},
		{"zero max investment", func(p *types.Policy) { p.MaxInvestment = sdkmath.ZeroInt() }},
		{"unknown method", func(p *types.Policy) { p.Method = "MEDIAN" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := testPolicy()
			tc.mutate(&policy)
			err := h.engine.SetPolicy(context.Background(), testOwner, testAsset, policy)
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestSetPolicyRegistersNewDestinations(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.engine.InstallAccount(testOwner))
	h.gateway.assets[vaultX] = testAsset
	h.gateway.assets[vaultY] = testAsset
	h.gateway.valuations[vaultX] = sdkmath.NewInt(10_000)
	h.gateway.valuations[vaultY] = sdkmath.NewInt(10_000)

	require.NoError(t, h.engine.SetPolicy(context.Background(), testOwner, testAsset, testPolicy()))

	for _, address := range []common.Address{vaultX, vaultY} {
		dest, err := h.registry.GetDestination(address)
		require.NoError(t, err)
		require.NotNil(t, dest)
		assert.Equal(t, testAsset, dest.Asset)
		assert.True(t, dest.Enabled)
		// The post-save snapshot pass seeds history immediately.
		assert.Len(t, h.snapshots.history[address], 1)
	}
	assert.Contains(t, h.receipts.eventKinds(), types.EventDestinationRegistered)
	assert.Contains(t, h.receipts.eventKinds(), types.EventPolicyUpdated)

	stored, err := h.policies.GetPolicy(testOwner, testAsset)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.APRMethodAverage, stored.Method)
}

func TestSetPolicyFailedWriteLeavesNoState(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.engine.InstallAccount(testOwner))
	h.gateway.assets[vaultX] = testAsset
	h.gateway.assets[vaultY] = testAsset
	h.policies.failSave = errors.New("connection reset")

	err := h.engine.SetPolicy(context.Background(), testOwner, testAsset, testPolicy())
	require.Error(t, err)

	for _, address := range []common.Address{vaultX, vaultY} {
		dest, err := h.registry.GetDestination(address)
		require.NoError(t, err)
		assert.Nil(t, dest, "a failed policy write must leave no registration behind")
		assert.Empty(t, h.snapshots.history[address])
	}
	assert.Empty(t, h.receipts.events)
}

func TestSetPolicyRejectsWrongUnderlyingAsset(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.engine.InstallAccount(testOwner))
	h.gateway.assets[vaultX] = testAsset
	h.gateway.assets[vaultY] = common.HexToAddress("0x0000000000000000000000000000000000000002")

	err := h.engine.SetPolicy(context.Background(), testOwner, testAsset, testPolicy())
	require.ErrorIs(t, err, ErrInvalidDestination)

	stored, err := h.policies.GetPolicy(testOwner, testAsset)
	require.NoError(t, err)
	assert.Nil(t, stored, "a rejected policy must not be stored")
}

func TestSetPolicyRejectsAssetRebinding(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.engine.InstallAccount(testOwner))
	h.registerVault(vaultX, true)
	h.registerVault(vaultY, true)

	otherAsset := common.HexToAddress("0x0000000000000000000000000000000000000002")
	policy := testPolicy()
	policy.ApprovedDestinations = []common.Address{vaultX}

	err := h.engine.SetPolicy(context.Background(), testOwner, otherAsset, policy)
	require.ErrorIs(t, err, ErrInvalidDestination)
}

package recurring

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpilot/vrm/internal/types"
)

var (
	payOwner       = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	payBeneficiary = common.HexToAddress("0x00000000000000000000000000000000000000BB")
	payAsset       = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

type fakeScheduleStore struct {
	schedules map[int64]types.PaymentSchedule
	nextID    int64
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: make(map[int64]types.PaymentSchedule)}
}

func (s *fakeScheduleStore) CreateSchedule(schedule types.PaymentSchedule) (int64, error) {
	s.nextID++
	schedule.ScheduleID = s.nextID
	s.schedules[s.nextID] = schedule
	return s.nextID, nil
}

func (s *fakeScheduleStore) GetSchedule(owner common.Address, scheduleID int64) (*types.PaymentSchedule, error) {
	schedule, ok := s.schedules[scheduleID]
	if !ok || schedule.Owner != owner {
		return nil, nil
	}
	return &schedule, nil
}

func (s *fakeScheduleStore) MarkExecuted(owner common.Address, scheduleID int64, executedAt uint64) error {
	schedule, ok := s.schedules[scheduleID]
	if !ok || schedule.Owner != owner {
		return errors.New("no such schedule")
	}
	schedule.LastExecuted = executedAt
	s.schedules[scheduleID] = schedule
	return nil
}

type fakeAccounts struct{ installed map[common.Address]bool }

func (a *fakeAccounts) IsAccountInstalled(owner common.Address) (bool, error) {
	return a.installed[owner], nil
}

type fakeEvents struct{ events []types.Event }

func (e *fakeEvents) RecordEvent(event types.Event) error {
	e.events = append(e.events, event)
	return nil
}

type fakeHost struct {
	batches [][]types.Instruction
	fail    error
}

func (h *fakeHost) ExecuteBatch(_ context.Context, _ common.Address, batch []types.Instruction) (*types.ExecutionResult, error) {
	if h.fail != nil {
		return nil, h.fail
	}
	h.batches = append(h.batches, batch)
	return &types.ExecutionResult{TxHash: "0xfeed", GasUsed: 60_000}, nil
}

type harness struct {
	scheduler *Scheduler
	store     *fakeScheduleStore
	events    *fakeEvents
	host      *fakeHost
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  newFakeScheduleStore(),
		events: &fakeEvents{},
		host:   &fakeHost{},
		now:    time.Unix(1_700_000_000, 0),
	}
	scheduler, err := New(Config{
		Schedules: h.store,
		Accounts:  &fakeAccounts{installed: map[common.Address]bool{payOwner: true}},
		Events:    h.events,
		Host:      h.host,
		Clock:     func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.scheduler = scheduler
	return h
}

func testSchedule() types.PaymentSchedule {
	return types.PaymentSchedule{
		Beneficiary: payBeneficiary,
		Asset:       payAsset,
		MaxAmount:   sdkmath.NewInt(1_000),
		Interval:    86_400,
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.scheduler.CreateSchedule(common.HexToAddress("0xCC"), testSchedule())
	require.ErrorIs(t, err, ErrAccountNotInstalled)

	badCap := testSchedule()
	badCap.MaxAmount = sdkmath.ZeroInt()
	_, err = h.scheduler.CreateSchedule(payOwner, badCap)
	require.ErrorIs(t, err, ErrInvalidSchedule)

	badInterval := testSchedule()
	badInterval.Interval = 0
	_, err = h.scheduler.CreateSchedule(payOwner, badInterval)
	require.ErrorIs(t, err, ErrInvalidSchedule)

	badBeneficiary := testSchedule()
	badBeneficiary.Beneficiary = common.Address{}
	_, err = h.scheduler.CreateSchedule(payOwner, badBeneficiary)
	require.ErrorIs(t, err, ErrInvalidSchedule)

	id, err := h.scheduler.CreateSchedule(payOwner, testSchedule())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestExecutePaymentHappyPath(t *testing.T) {
	h := newHarness(t)
	id, err := h.scheduler.CreateSchedule(payOwner, testSchedule())
	require.NoError(t, err)

	result, err := h.scheduler.ExecutePayment(context.Background(), payOwner, id, sdkmath.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", result.TxHash)

	require.Len(t, h.host.batches, 1)
	require.Len(t, h.host.batches[0], 1)
	assert.Equal(t, payAsset, h.host.batches[0][0].Target, "transfer must be sent to the asset contract")

	stored, err := h.store.GetSchedule(payOwner, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(h.now.Unix()), stored.LastExecuted)

	require.Len(t, h.events.events, 1)
	assert.Equal(t, types.EventPaymentExecuted, h.events.events[0].Kind)
}

func TestExecutePaymentGates(t *testing.T) {
	h := newHarness(t)
	id, err := h.scheduler.CreateSchedule(payOwner, testSchedule())
	require.NoError(t, err)

	_, err = h.scheduler.ExecutePayment(context.Background(), payOwner, 99, sdkmath.NewInt(500))
	require.ErrorIs(t, err, ErrNoSchedule)

	// Another owner cannot execute someone else's schedule.
	_, err = h.scheduler.ExecutePayment(context.Background(), common.HexToAddress("0xCC"), id, sdkmath.NewInt(500))
	require.ErrorIs(t, err, ErrNoSchedule)

	_, err = h.scheduler.ExecutePayment(context.Background(), payOwner, id, sdkmath.NewInt(1_001))
	require.ErrorIs(t, err, ErrExceedsCap)

	_, err = h.scheduler.ExecutePayment(context.Background(), payOwner, id, sdkmath.NewInt(500))
	require.NoError(t, err)

	// Inside the interval the next execution is rejected.
	h.now = h.now.Add(time.Hour)
	_, err = h.scheduler.ExecutePayment(context.Background(), payOwner, id, sdkmath.NewInt(500))
	require.ErrorIs(t, err, ErrPaymentTooSoon)
	require.Len(t, h.host.batches, 1)

	// Past it the payment goes through again.
	h.now = h.now.Add(24 * time.Hour)
	_, err = h.scheduler.ExecutePayment(context.Background(), payOwner, id, sdkmath.NewInt(500))
	require.NoError(t, err)
	require.Len(t, h.host.batches, 2)
}

func TestExecutePaymentHostFailureKeepsGateClosed(t *testing.T) {
	h := newHarness(t)
	id, err := h.scheduler.CreateSchedule(payOwner, testSchedule())
	require.NoError(t, err)
	h.host.fail = errors.New("execution reverted")

	_, err = h.scheduler.ExecutePayment(context.Background(), payOwner, id, sdkmath.NewInt(500))
	require.Error(t, err)

	stored, err := h.store.GetSchedule(payOwner, id)
	require.NoError(t, err)
	assert.Zero(t, stored.LastExecuted, "a failed dispatch must not consume the interval")
	assert.Empty(t, h.events.events)
}

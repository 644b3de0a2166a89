package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dockqueue-backend/internal/apperrors"
	"dockqueue-backend/internal/metrics"
	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/registry"
	"dockqueue-backend/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu         sync.Mutex
	broadcasts int
	docks      []models.DockNotification
	err        error
}

func (n *recordingNotifier) BroadcastQueueChanged(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts++
	return n.err
}

func (n *recordingNotifier) NotifyDock(ctx context.Context, notice models.DockNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.docks = append(n.docks, notice)
	return n.err
}

func (n *recordingNotifier) broadcastCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.broadcasts
}

type fixture struct {
	manager  *Manager
	store    *memory.Store
	clock    *fakeClock
	notifier *recordingNotifier
	registry *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New(models.Waypoint{
		ID:           "wp-1",
		City:         "Santiago",
		Code:         "XPT01",
		Latitude:     -33.4489,
		Longitude:    -70.6693,
		RadiusMeters: 500,
	})
	reg := prometheus.NewRegistry()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	drivers := registry.NewService(mem, mem, mem)

	for _, taxID := range []string{"111", "222", "333"} {
		_, err := drivers.Register(context.Background(), registry.RegisterParams{
			Name:            "Driver " + taxID,
			TaxID:           taxID,
			Origin:          "SCL",
			DestinationCode: "XPT01",
		})
		require.NoError(t, err)
	}

	return &fixture{
		manager: NewManager(Options{
			Drivers:   drivers,
			Waypoints: mem,
			Entries:   mem,
			Notifier:  notifier,
			Metrics:   metrics.NewQueue(reg),
			Now:       clock.Now,
		}),
		store:    mem,
		clock:    clock,
		notifier: notifier,
		registry: reg,
	}
}

func (f *fixture) admit(t *testing.T, taxID string) *models.QueueEntry {
	t.Helper()
	entry, err := f.manager.Admit(context.Background(), AdmitParams{TaxID: taxID})
	require.NoError(t, err)
	return entry
}

func requireCode(t *testing.T, err error, code apperrors.Code) *apperrors.Error {
	t.Helper()
	require.Error(t, err)
	typed := apperrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code())
	return typed
}

func detail(t *testing.T, err *apperrors.Error, key string) any {
	t.Helper()
	details, ok := err.Details().(map[string]any)
	require.True(t, ok)
	return details[key]
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestAdmit_ThenAlreadyQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.admit(t, "111")
	assert.Equal(t, models.QueueStatusWaiting, entry.Status)
	assert.Equal(t, f.clock.Now(), entry.ArrivedAt)
	assert.Equal(t, "Driver 111", entry.DriverName)
	assert.Equal(t, "XPT01", entry.Destination)
	assert.Equal(t, "driver-111-scl-xpt01", entry.IdentificationKey)
	assert.Zero(t, entry.WaitSeconds)
	assert.Zero(t, entry.UnloadSeconds)
	assert.Nil(t, entry.Dock)
	assert.Nil(t, entry.UnloadStartedAt)
	assert.Equal(t, 1, f.notifier.broadcastCount())

	_, err := f.manager.Admit(ctx, AdmitParams{TaxID: "111"})
	typed := requireCode(t, err, apperrors.CodeAlreadyQueued)
	assert.Equal(t, entry.ID, detail(t, typed, "entry_id"))
	assert.Equal(t, 1, f.notifier.broadcastCount())
}

func TestAdmit_UnknownDriver(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Admit(context.Background(), AdmitParams{TaxID: "999"})
	requireCode(t, err, apperrors.CodeUnknownDriver)

	entries, err := f.manager.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdmit_BlankTaxID(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Admit(context.Background(), AdmitParams{TaxID: "  "})
	requireCode(t, err, apperrors.CodeInvalidInput)
}

func TestAdmit_AllowedAgainAfterFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.admit(t, "111")
	_, err := f.manager.StartUnloading(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.manager.FinishUnloading(ctx, first.ID, models.LoadReturn{})
	require.NoError(t, err)

	second := f.admit(t, "111")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAdmit_ConcurrentSameDriverAdmitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 25
	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.manager.Admit(ctx, AdmitParams{TaxID: "222"})
			switch apperrors.CodeOf(err) {
			case apperrors.CodeAlreadyQueued:
				rejected.Add(1)
			default:
				if assert.NoError(t, err) {
					admitted.Add(1)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())

	entries, err := f.manager.List(ctx, Filter{Status: "waiting"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdmit_Geofence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	far := &models.Coordinates{Latitude: -33.0472, Longitude: -71.6127}
	_, err := f.manager.Admit(ctx, AdmitParams{TaxID: "111", Location: far})
	typed := requireCode(t, err, apperrors.CodeInvalidInput)
	assert.Contains(t, typed.Details().(map[string]string), "location")

	near := &models.Coordinates{Latitude: -33.4490, Longitude: -70.6690}
	entry, err := f.manager.Admit(ctx, AdmitParams{TaxID: "111", Location: near})
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusWaiting, entry.Status)
}

func TestFinishBeforeStart_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	entry := f.admit(t, "222")

	_, err := f.manager.FinishUnloading(context.Background(), entry.ID, models.LoadReturn{Cages: 1})
	typed := requireCode(t, err, apperrors.CodeInvalidTransition)
	assert.Equal(t, models.QueueStatusWaiting, detail(t, typed, "current_status"))

	stored, err := f.manager.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusWaiting, stored.Status)
	assert.Nil(t, stored.UnloadEndedAt)
	assert.Nil(t, stored.CageCount)
}

func TestFullLifecycle_DurationsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	arrived := f.clock.Now()

	entry := f.admit(t, "333")

	f.clock.Advance(90*time.Second + 700*time.Millisecond)
	started, err := f.manager.StartUnloading(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusUnloading, started.Status)
	require.NotNil(t, started.UnloadStartedAt)
	assert.Equal(t, arrived.Add(90*time.Second+700*time.Millisecond), *started.UnloadStartedAt)
	assert.Equal(t, int64(90), started.WaitSeconds)

	f.clock.Advance(30*time.Minute + 999*time.Millisecond)
	finished, err := f.manager.FinishUnloading(ctx, entry.ID, models.LoadReturn{Cages: 5, Pallets: 2, Sleeves: 1})
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFinished, finished.Status)
	require.NotNil(t, finished.UnloadEndedAt)
	assert.Equal(t, int64(1800), finished.UnloadSeconds)
	assert.Equal(t, int64(90), finished.WaitSeconds)
	assert.Equal(t, *started.UnloadStartedAt, *finished.UnloadStartedAt)
	require.NotNil(t, finished.CageCount)
	assert.Equal(t, 5, *finished.CageCount)
	assert.Equal(t, 2, *finished.PalletCount)
	assert.Equal(t, 1, *finished.SleeveCount)

	// admit, start, finish
	assert.Equal(t, 3, f.notifier.broadcastCount())
}

func TestStartTwice_ReportsUnloading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.admit(t, "111")

	first, err := f.manager.StartUnloading(ctx, entry.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.manager.StartUnloading(ctx, entry.ID)
	typed := requireCode(t, err, apperrors.CodeInvalidTransition)
	assert.Equal(t, models.QueueStatusUnloading, detail(t, typed, "current_status"))

	stored, err := f.manager.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.UnloadStartedAt, *stored.UnloadStartedAt)
	assert.Equal(t, first.WaitSeconds, stored.WaitSeconds)
}

func TestFinishedIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.admit(t, "111")
	_, err := f.manager.StartUnloading(ctx, entry.ID)
	require.NoError(t, err)
	done, err := f.manager.FinishUnloading(ctx, entry.ID, models.LoadReturn{Pallets: 3})
	require.NoError(t, err)

	_, err = f.manager.StartUnloading(ctx, entry.ID)
	typed := requireCode(t, err, apperrors.CodeInvalidTransition)
	assert.Equal(t, models.QueueStatusFinished, detail(t, typed, "current_status"))

	_, err = f.manager.FinishUnloading(ctx, entry.ID, models.LoadReturn{Pallets: 9})
	requireCode(t, err, apperrors.CodeInvalidTransition)

	stored, err := f.manager.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, *done.UnloadEndedAt, *stored.UnloadEndedAt)
	assert.Equal(t, 3, *stored.PalletCount)
}

func TestFinish_NegativeCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.admit(t, "111")
	_, err := f.manager.StartUnloading(ctx, entry.ID)
	require.NoError(t, err)

	_, err = f.manager.FinishUnloading(ctx, entry.ID, models.LoadReturn{Cages: -1, Pallets: 2, Sleeves: -3})
	typed := requireCode(t, err, apperrors.CodeInvalidInput)
	fields := typed.Details().(map[string]string)
	assert.Contains(t, fields, "cage_count")
	assert.Contains(t, fields, "sleeve_count")
	assert.NotContains(t, fields, "pallet_count")

	stored, err := f.manager.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusUnloading, stored.Status)
}

func TestUnknownEntry_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.StartUnloading(ctx, "missing")
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = f.manager.FinishUnloading(ctx, "missing", models.LoadReturn{})
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = f.manager.AssignDock(ctx, "missing", "4")
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = f.manager.Get(ctx, "missing")
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestAssignDock_AnyStatusNotifiesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.admit(t, "111")

	f.clock.Advance(2 * time.Minute)
	docked, err := f.manager.AssignDock(ctx, entry.ID, " 12 ")
	require.NoError(t, err)
	require.NotNil(t, docked.Dock)
	assert.Equal(t, "12", *docked.Dock)
	assert.Equal(t, f.clock.Now(), *docked.DockNotifiedAt)
	assert.Equal(t, models.QueueStatusWaiting, docked.Status)

	require.Len(t, f.notifier.docks, 1)
	notice := f.notifier.docks[0]
	assert.Equal(t, entry.ID, notice.EntryID)
	assert.Equal(t, "111", notice.TaxID)
	assert.Equal(t, "12", notice.Dock)
	assert.Equal(t, 300*time.Second, notice.ResponseDeadline.Sub(notice.NotifiedAt))

	_, err = f.manager.StartUnloading(ctx, entry.ID)
	require.NoError(t, err)
	_, err = f.manager.FinishUnloading(ctx, entry.ID, models.LoadReturn{})
	require.NoError(t, err)

	redocked, err := f.manager.AssignDock(ctx, entry.ID, "7")
	require.NoError(t, err)
	assert.Equal(t, "7", *redocked.Dock)
	assert.Equal(t, models.QueueStatusFinished, redocked.Status)
	assert.Len(t, f.notifier.docks, 2)
}

func TestAssignDock_BlankDock(t *testing.T) {
	f := newFixture(t)
	entry := f.admit(t, "111")

	_, err := f.manager.AssignDock(context.Background(), entry.ID, "   ")
	requireCode(t, err, apperrors.CodeInvalidInput)
	assert.Empty(t, f.notifier.docks)
}

func TestNotificationFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("channel unreachable")
	ctx := context.Background()

	entry, err := f.manager.Admit(ctx, AdmitParams{TaxID: "111"})
	require.NoError(t, err)

	_, err = f.manager.AssignDock(ctx, entry.ID, "3")
	require.NoError(t, err)

	started, err := f.manager.StartUnloading(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusUnloading, started.Status)

	// admit broadcast, dock notice, dock broadcast, start broadcast
	assert.Equal(t, float64(4), counterValue(t, f.registry, "notification_failures_total"))
}

func TestNotificationUsesLiveContextAfterRequestCancel(t *testing.T) {
	f := newFixture(t)
	var seen error
	f.manager.notifier = notifierFunc(func(ctx context.Context) error {
		seen = ctx.Err()
		return nil
	})

	entry := f.admit(t, "111")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The store ignores ctx; the side effect must not inherit cancellation.
	_, err := f.manager.AssignDock(ctx, entry.ID, "1")
	require.NoError(t, err)
	assert.NoError(t, seen)
}

type notifierFunc func(ctx context.Context) error

func (fn notifierFunc) BroadcastQueueChanged(ctx context.Context) error { return fn(ctx) }

func (fn notifierFunc) NotifyDock(ctx context.Context, _ models.DockNotification) error {
	return fn(ctx)
}

func TestNilNotifier(t *testing.T) {
	f := newFixture(t)
	f.manager.notifier = nil

	entry := f.admit(t, "111")
	_, err := f.manager.AssignDock(context.Background(), entry.ID, "2")
	assert.NoError(t, err)
}

// staleReads serves the first GetEntry from a snapshot taken before a
// concurrent writer moved the entry on.
type staleReads struct {
	*memory.Store
	mu    sync.Mutex
	stale *models.QueueEntry
}

func (s *staleReads) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	s.mu.Lock()
	stale := s.stale
	s.stale = nil
	s.mu.Unlock()
	if stale != nil {
		return stale, nil
	}
	return s.Store.GetEntry(ctx, id)
}

func TestStartUnloading_LostRaceReportsStoredStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.admit(t, "111")

	snapshot := *entry
	_, err := f.manager.StartUnloading(ctx, entry.ID)
	require.NoError(t, err)

	f.manager.entries = &staleReads{Store: f.store, stale: &snapshot}
	_, err = f.manager.StartUnloading(ctx, entry.ID)
	typed := requireCode(t, err, apperrors.CodeInvalidTransition)
	assert.Equal(t, models.QueueStatusUnloading, detail(t, typed, "current_status"))
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, errors.New("redis down")
}

func TestAdmit_LockFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.manager.locker = failingLocker{}

	_, err := f.manager.Admit(context.Background(), AdmitParams{TaxID: "111"})
	requireCode(t, err, apperrors.CodeInternal)
	assert.Equal(t, float64(1), counterValue(t, f.registry, "queue_rejections_total"))
}

func TestAdvance(t *testing.T) {
	for _, tc := range []struct {
		from, to models.QueueStatus
		ok       bool
	}{
		{models.QueueStatusWaiting, models.QueueStatusUnloading, true},
		{models.QueueStatusUnloading, models.QueueStatusFinished, true},
		{models.QueueStatusWaiting, models.QueueStatusFinished, false},
		{models.QueueStatusUnloading, models.QueueStatusUnloading, false},
		{models.QueueStatusFinished, models.QueueStatusUnloading, false},
	} {
		err := advance(&models.QueueEntry{Status: tc.from}, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
			continue
		}
		typed := requireCode(t, err, apperrors.CodeInvalidTransition)
		assert.Equal(t, tc.from, detail(t, typed, "current_status"))
		assert.Equal(t, tc.to, detail(t, typed, "requested_status"))
	}
}

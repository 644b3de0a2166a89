// Package queue implements the dock queue state machine:
// waiting → unloading → finished.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dockqueue-backend/internal/apperrors"
	"dockqueue-backend/internal/lock"
	"dockqueue-backend/internal/metrics"
	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"
	"dockqueue-backend/internal/timer"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDockResponseWindow = 300 * time.Second
	defaultNotifyTimeout      = 5 * time.Second
)

// DriverLookup resolves enrolled drivers. registry.Service satisfies it.
type DriverLookup interface {
	Lookup(ctx context.Context, taxID string) (*models.DriverEnrollment, error)
}

// Notifier fans queue events out to observers. Failures are reported back
// but never undo a mutation.
type Notifier interface {
	BroadcastQueueChanged(ctx context.Context) error
	NotifyDock(ctx context.Context, notice models.DockNotification) error
}

type Options struct {
	Drivers   DriverLookup
	Waypoints store.WaypointStore
	Entries   store.QueueStore
	Locker    lock.Locker
	Notifier  Notifier
	Metrics   *metrics.Queue

	// DockResponseWindow is the advisory deadline sent with a dock notice.
	DockResponseWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns every queue entry mutation.
type Manager struct {
	drivers    DriverLookup
	waypoints  store.WaypointStore
	entries    store.QueueStore
	locker     lock.Locker
	notifier   Notifier
	metrics    *metrics.Queue
	dockWindow time.Duration
	now        func() time.Time
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		drivers:    opts.Drivers,
		waypoints:  opts.Waypoints,
		entries:    opts.Entries,
		locker:     opts.Locker,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		dockWindow: opts.DockResponseWindow,
		now:        opts.Now,
	}
	if m.locker == nil {
		m.locker = lock.NewKeyedMutex()
	}
	if m.dockWindow <= 0 {
		m.dockWindow = DefaultDockResponseWindow
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// AdmitParams identifies the arriving driver. Location is optional; when
// present it must fall inside the destination's geofence.
type AdmitParams struct {
	TaxID    string
	Location *models.Coordinates
}

// Admit puts an enrolled driver into the waiting queue of their destination.
func (m *Manager) Admit(ctx context.Context, p AdmitParams) (*models.QueueEntry, error) {
	const op = "admit"
	taxID := strings.TrimSpace(p.TaxID)
	if taxID == "" {
		return nil, m.reject(op, apperrors.InvalidInput(map[string]string{"tax_id": "is required"}))
	}

	driver, err := m.drivers.Lookup(ctx, taxID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			err = apperrors.New(apperrors.CodeUnknownDriver, "driver is not enrolled").
				WithDetails(map[string]any{"tax_id": taxID})
		}
		return nil, m.reject(op, err)
	}

	if p.Location != nil {
		if err := m.checkGeofence(ctx, driver, *p.Location); err != nil {
			return nil, m.reject(op, err)
		}
	}

	unlock, err := m.locker.Lock(ctx, "admit:"+taxID)
	if err != nil {
		return nil, m.reject(op, apperrors.Internal(err, "acquire admission lock"))
	}
	defer unlock()

	existing, err := m.entries.FindActiveEntry(ctx, taxID)
	switch {
	case err == nil:
		return nil, m.reject(op, alreadyQueued(existing))
	case !errors.Is(err, store.ErrNotFound):
		return nil, m.reject(op, apperrors.Internal(err, "check active entry"))
	}

	now := m.now().UTC()
	entry := &models.QueueEntry{
		ID:                uuid.New().String(),
		TaxID:             driver.TaxID,
		DriverName:        driver.Name,
		IdentificationKey: driver.IdentificationKey,
		Origin:            driver.Origin,
		Destination:       driver.Destination,
		Status:            models.QueueStatusWaiting,
		ArrivedAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.entries.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrActiveEntryExists) {
			// Another instance won the race between our check and insert.
			if existing, findErr := m.entries.FindActiveEntry(ctx, taxID); findErr == nil {
				return nil, m.reject(op, alreadyQueued(existing))
			}
			return nil, m.reject(op, apperrors.New(apperrors.CodeAlreadyQueued, "driver already has an active queue entry"))
		}
		return nil, m.reject(op, apperrors.Internal(err, "insert queue entry"))
	}

	m.metrics.IncAdmission()
	m.metrics.IncTransition(string(models.QueueStatusWaiting))
	log.Info().
		Str("entry_id", entry.ID).
		Str("tax_id", entry.TaxID).
		Str("destination", entry.Destination).
		Msg("🚚 Driver admitted to queue")

	m.broadcast(ctx)
	return entry, nil
}

func (m *Manager) checkGeofence(ctx context.Context, driver *models.DriverEnrollment, at models.Coordinates) error {
	if m.waypoints == nil {
		return nil
	}
	wp, err := m.waypoints.GetWaypointByCode(ctx, driver.Destination)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Str("destination", driver.Destination).Msg("⚠️  Destination waypoint missing, skipping geofence check")
		return nil
	}
	if err != nil {
		return apperrors.Internal(err, "load destination waypoint")
	}
	if wp.Contains(at) {
		return nil
	}
	distance := models.DistanceMeters(wp.Latitude, wp.Longitude, at.Latitude, at.Longitude)
	return apperrors.InvalidInput(map[string]string{
		"location": fmt.Sprintf("%.0fm from %s, allowed radius is %.0fm", distance, wp.Code, wp.RadiusMeters),
	})
}

// AssignDock sets the entry's dock and notifies its driver. The entry's
// status is not checked or changed.
func (m *Manager) AssignDock(ctx context.Context, entryID, dock string) (*models.QueueEntry, error) {
	const op = "assign_dock"
	dock = strings.TrimSpace(dock)
	if dock == "" {
		return nil, m.reject(op, apperrors.InvalidInput(map[string]string{"dock": "is required"}))
	}

	now := m.now().UTC()
	entry, err := m.entries.SetDock(ctx, entryID, dock, now)
	if err != nil {
		return nil, m.reject(op, m.storeError(err, "assign dock"))
	}

	log.Info().
		Str("entry_id", entry.ID).
		Str("tax_id", entry.TaxID).
		Str("dock", dock).
		Str("status", string(entry.Status)).
		Msg("🅿️  Dock assigned")

	notice := models.DockNotification{
		EntryID:          entry.ID,
		TaxID:            entry.TaxID,
		Dock:             dock,
		NotifiedAt:       now,
		ResponseDeadline: now.Add(m.dockWindow),
	}
	m.notify(ctx, "dock", func(ctx context.Context) error {
		return m.notifier.NotifyDock(ctx, notice)
	})
	m.broadcast(ctx)
	return entry, nil
}

// StartUnloading moves a waiting entry to unloading and freezes its wait time.
func (m *Manager) StartUnloading(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	const op = "start_unloading"
	entry, err := m.load(ctx, entryID)
	if err != nil {
		return nil, m.reject(op, err)
	}
	if err := advance(entry, models.QueueStatusUnloading); err != nil {
		return nil, m.reject(op, err)
	}

	now := m.now().UTC()
	wait := timer.Between(entry.ArrivedAt, now)
	updated, err := m.transition(ctx, entryID, models.QueueTransition{
		From:            entry.Status,
		To:              models.QueueStatusUnloading,
		At:              now,
		UnloadStartedAt: &now,
		WaitSeconds:     &wait,
	})
	if err != nil {
		return nil, m.reject(op, err)
	}

	m.metrics.IncTransition(string(models.QueueStatusUnloading))
	m.metrics.ObserveWait(wait)
	log.Info().
		Str("entry_id", updated.ID).
		Str("tax_id", updated.TaxID).
		Int64("wait_seconds", wait).
		Msg("📦 Unloading started")

	m.broadcast(ctx)
	return updated, nil
}

// FinishUnloading closes an unloading entry with the returned equipment
// counts and freezes its unload time.
func (m *Manager) FinishUnloading(ctx context.Context, entryID string, load models.LoadReturn) (*models.QueueEntry, error) {
	const op = "finish_unloading"
	if fields := validateLoad(load); len(fields) > 0 {
		return nil, m.reject(op, apperrors.InvalidInput(fields))
	}

	entry, err := m.load(ctx, entryID)
	if err != nil {
		return nil, m.reject(op, err)
	}
	if err := advance(entry, models.QueueStatusFinished); err != nil {
		return nil, m.reject(op, err)
	}

	now := m.now().UTC()
	var unload int64
	if entry.UnloadStartedAt != nil {
		unload = timer.Between(*entry.UnloadStartedAt, now)
	}
	updated, err := m.transition(ctx, entryID, models.QueueTransition{
		From:          entry.Status,
		To:            models.QueueStatusFinished,
		At:            now,
		UnloadEndedAt: &now,
		UnloadSeconds: &unload,
		Load:          &load,
	})
	if err != nil {
		return nil, m.reject(op, err)
	}

	m.metrics.IncTransition(string(models.QueueStatusFinished))
	m.metrics.ObserveUnload(unload)
	log.Info().
		Str("entry_id", updated.ID).
		Str("tax_id", updated.TaxID).
		Int64("unload_seconds", unload).
		Int("cages", load.Cages).
		Int("pallets", load.Pallets).
		Int("sleeves", load.Sleeves).
		Msg("✅ Unloading finished")

	m.broadcast(ctx)
	return updated, nil
}

// Get returns a single entry.
func (m *Manager) Get(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	return m.load(ctx, entryID)
}

func (m *Manager) load(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	entry, err := m.entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, m.storeError(err, "load queue entry")
	}
	return entry, nil
}

// transition applies a compare-and-set. When the status moved underneath
// us the stored status is reported back.
func (m *Manager) transition(ctx context.Context, entryID string, t models.QueueTransition) (*models.QueueEntry, error) {
	updated, err := m.entries.TransitionEntry(ctx, entryID, t)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, store.ErrStatusConflict) {
		current, loadErr := m.load(ctx, entryID)
		if loadErr != nil {
			return nil, loadErr
		}
		log.Warn().
			Str("entry_id", entryID).
			Str("expected", string(t.From)).
			Str("actual", string(current.Status)).
			Msg("⚠️  Concurrent status change detected")
		return nil, invalidTransition(current.Status, t.To)
	}
	return nil, m.storeError(err, "update queue entry")
}

func (m *Manager) storeError(err error, action string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.New(apperrors.CodeNotFound, "queue entry not found")
	}
	return apperrors.Internal(err, action)
}

func (m *Manager) reject(op string, err error) error {
	code := apperrors.CodeOf(err)
	m.metrics.IncRejection(op, string(code))
	if code == apperrors.CodeInternal {
		log.Error().Err(err).Str("operation", op).Msg("❌ Queue operation failed")
	}
	return err
}

func (m *Manager) broadcast(ctx context.Context) {
	m.notify(ctx, "queue_changed", func(ctx context.Context) error {
		return m.notifier.BroadcastQueueChanged(ctx)
	})
}

// notify runs a best-effort side effect. It outlives request cancellation
// but is bounded by its own timeout.
func (m *Manager) notify(ctx context.Context, kind string, fn func(context.Context) error) {
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultNotifyTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		m.metrics.IncNotificationFailure(kind)
		log.Warn().Err(err).Str("kind", kind).Msg("⚠️  Notification failed, state change kept")
	}
}

func alreadyQueued(existing *models.QueueEntry) error {
	return apperrors.New(apperrors.CodeAlreadyQueued, "driver already has an active queue entry").
		WithDetails(map[string]any{
			"entry_id": existing.ID,
			"status":   existing.Status,
		})
}

// advance fails unless to is the status that follows the entry's current one.
func advance(entry *models.QueueEntry, to models.QueueStatus) error {
	if next, ok := entry.Status.Next(); !ok || next != to {
		return invalidTransition(entry.Status, to)
	}
	return nil
}

func invalidTransition(current, requested models.QueueStatus) error {
	return apperrors.New(apperrors.CodeInvalidTransition,
		fmt.Sprintf("cannot move entry from %s to %s", current, requested)).
		WithDetails(map[string]any{
			"current_status":   current,
			"requested_status": requested,
		})
}

func validateLoad(load models.LoadReturn) map[string]string {
	fields := map[string]string{}
	if load.Cages < 0 {
		fields["cage_count"] = "must be a non-negative integer"
	}
	if load.Pallets < 0 {
		fields["pallet_count"] = "must be a non-negative integer"
	}
	if load.Sleeves < 0 {
		fields["sleeve_count"] = "must be a non-negative integer"
	}
	return fields
}

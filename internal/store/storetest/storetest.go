// Package storetest holds the behaviour every store.Store implementation
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store seeded with waypoints.
type Factory func(t *testing.T, waypoints []models.Waypoint) store.Store

var testWaypoints = []models.Waypoint{
	{ID: "wp-a", City: "Santiago", Code: "XPT01", Latitude: -33.4489, Longitude: -70.6693, RadiusMeters: 500},
	{ID: "wp-b", City: "Rancagua", Code: "XPT02", Latitude: -34.1708, Longitude: -70.7444},
}

// base is millisecond aligned so every backend round-trips it exactly.
var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Run("drivers", func(t *testing.T) { testDrivers(t, newStore(t, testWaypoints)) })
	t.Run("active entry uniqueness", func(t *testing.T) { testActiveUniqueness(t, newStore(t, testWaypoints)) })
	t.Run("transition compare and set", func(t *testing.T) { testTransition(t, newStore(t, testWaypoints)) })
	t.Run("list order and filters", func(t *testing.T) { testList(t, newStore(t, testWaypoints)) })
	t.Run("dock", func(t *testing.T) { testDock(t, newStore(t, testWaypoints)) })
	t.Run("waypoints", func(t *testing.T) { testWaypointsRead(t, newStore(t, testWaypoints)) })
	t.Run("tokens", func(t *testing.T) { testTokens(t, newStore(t, testWaypoints)) })
}

func driver(taxID, key string) *models.DriverEnrollment {
	return &models.DriverEnrollment{
		ID:                uuid.NewString(),
		Name:              "Driver " + taxID,
		TaxID:             taxID,
		Origin:            "SCL",
		Destination:       "XPT01",
		IdentificationKey: key,
		CreatedAt:         base,
	}
}

func entry(taxID string, arrived time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		ID:                uuid.NewString(),
		TaxID:             taxID,
		DriverName:        "Driver " + taxID,
		IdentificationKey: "key-" + taxID,
		Origin:            "SCL",
		Destination:       "XPT01",
		Status:            models.QueueStatusWaiting,
		ArrivedAt:         arrived,
		CreatedAt:         arrived,
		UpdatedAt:         arrived,
	}
}

func enroll(t *testing.T, s store.Store, taxIDs ...string) {
	t.Helper()
	for _, id := range taxIDs {
		require.NoError(t, s.CreateDriver(context.Background(), driver(id, "key-"+id)))
	}
}

func testDrivers(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateDriver(ctx, driver("111", "ana-scl-xpt01")))
	assert.ErrorIs(t, s.CreateDriver(ctx, driver("111", "other")), store.ErrDuplicateTaxID)
	assert.ErrorIs(t, s.CreateDriver(ctx, driver("222", "ana-scl-xpt01")), store.ErrDuplicateKey)
	require.NoError(t, s.CreateDriver(ctx, driver("333", "ana-scl-xpt01-2")))
	require.NoError(t, s.CreateDriver(ctx, driver("444", "ana_scl")))

	keys, err := s.IdentificationKeysWithPrefix(ctx, "ana-scl-xpt01")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ana-scl-xpt01", "ana-scl-xpt01-2"}, keys)

	got, err := s.GetDriverByTaxID(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "ana-scl-xpt01", got.IdentificationKey)
	assert.True(t, base.Equal(got.CreatedAt))

	_, err = s.GetDriverByTaxID(ctx, "999")
	assert.ErrorIs(t, err, store.ErrNotFound)

	all, err := s.ListDrivers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testActiveUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	enroll(t, s, "111")

	first := entry("111", base)
	require.NoError(t, s.InsertEntry(ctx, first))
	assert.ErrorIs(t, s.InsertEntry(ctx, entry("111", base.Add(time.Second))), store.ErrActiveEntryExists)

	active, err := s.FindActiveEntry(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	_, err = s.TransitionEntry(ctx, first.ID, models.QueueTransition{From: models.QueueStatusWaiting, To: models.QueueStatusUnloading, At: base})
	require.NoError(t, err)
	assert.ErrorIs(t, s.InsertEntry(ctx, entry("111", base.Add(time.Second))), store.ErrActiveEntryExists)

	_, err = s.TransitionEntry(ctx, first.ID, models.QueueTransition{From: models.QueueStatusUnloading, To: models.QueueStatusFinished, At: base})
	require.NoError(t, err)

	_, err = s.FindActiveEntry(ctx, "111")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.InsertEntry(ctx, entry("111", base.Add(time.Minute))))
}

func testTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	enroll(t, s, "111")
	e := entry("111", base)
	require.NoError(t, s.InsertEntry(ctx, e))

	_, err := s.TransitionEntry(ctx, e.ID, models.QueueTransition{From: models.QueueStatusUnloading, To: models.QueueStatusFinished, At: base})
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	_, err = s.TransitionEntry(ctx, "missing", models.QueueTransition{From: models.QueueStatusWaiting, To: models.QueueStatusUnloading, At: base})
	assert.ErrorIs(t, err, store.ErrNotFound)

	started := base.Add(90 * time.Second)
	wait := int64(90)
	got, err := s.TransitionEntry(ctx, e.ID, models.QueueTransition{
		From: models.QueueStatusWaiting, To: models.QueueStatusUnloading, At: started,
		UnloadStartedAt: &started, WaitSeconds: &wait,
	})
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusUnloading, got.Status)
	require.NotNil(t, got.UnloadStartedAt)
	assert.True(t, started.Equal(*got.UnloadStartedAt))
	assert.Equal(t, int64(90), got.WaitSeconds)
	assert.Nil(t, got.UnloadEndedAt)
	assert.Nil(t, got.CageCount)

	ended := started.Add(10 * time.Minute)
	unload := int64(600)
	got, err = s.TransitionEntry(ctx, e.ID, models.QueueTransition{
		From: models.QueueStatusUnloading, To: models.QueueStatusFinished, At: ended,
		UnloadEndedAt: &ended, UnloadSeconds: &unload,
		Load: &models.LoadReturn{Cages: 5, Pallets: 2, Sleeves: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFinished, got.Status)
	assert.True(t, started.Equal(*got.UnloadStartedAt))
	assert.Equal(t, int64(90), got.WaitSeconds)
	assert.Equal(t, int64(600), got.UnloadSeconds)
	require.NotNil(t, got.SleeveCount)
	assert.Equal(t, 5, *got.CageCount)
	assert.Equal(t, 2, *got.PalletCount)
	assert.Equal(t, 0, *got.SleeveCount)

	stored, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFinished, stored.Status)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	enroll(t, s, "1", "2", "3")

	a := entry("1", base)
	b := entry("2", base.Add(time.Minute))
	b.Destination = "XPT02"
	c := entry("3", base.Add(2*time.Minute))
	c.Origin = "VAP"
	for _, e := range []*models.QueueEntry{a, b, c} {
		require.NoError(t, s.InsertEntry(ctx, e))
	}
	_, err := s.TransitionEntry(ctx, b.ID, models.QueueTransition{From: models.QueueStatusWaiting, To: models.QueueStatusUnloading, At: base})
	require.NoError(t, err)

	ids := func(entries []models.QueueEntry) []string {
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.ID
		}
		return out
	}

	all, err := s.ListEntries(ctx, store.QueueFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(all))

	waiting, err := s.ListEntries(ctx, store.QueueFilter{Status: models.QueueStatusWaiting})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID}, ids(waiting))

	byDest, err := s.ListEntries(ctx, store.QueueFilter{Destination: "XPT02"})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(byDest))

	byFacility, err := s.ListEntries(ctx, store.QueueFilter{Facility: "VAP"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids(byFacility))

	page, err := s.ListEntries(ctx, store.QueueFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(page))

	none, err := s.ListEntries(ctx, store.QueueFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDock(t *testing.T, s store.Store) {
	ctx := context.Background()
	enroll(t, s, "111")
	e := entry("111", base)
	require.NoError(t, s.InsertEntry(ctx, e))

	at := base.Add(time.Minute)
	got, err := s.SetDock(ctx, e.ID, "12", at)
	require.NoError(t, err)
	require.NotNil(t, got.Dock)
	assert.Equal(t, "12", *got.Dock)
	assert.True(t, at.Equal(*got.DockNotifiedAt))
	assert.Equal(t, models.QueueStatusWaiting, got.Status)

	_, err = s.SetDock(ctx, "missing", "1", at)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testWaypointsRead(t *testing.T, s store.Store) {
	ctx := context.Background()

	wp, err := s.GetWaypointByCode(ctx, "XPT01")
	require.NoError(t, err)
	assert.Equal(t, "Santiago", wp.City)
	assert.Equal(t, 500.0, wp.RadiusMeters)

	_, err = s.GetWaypointByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)

	all, err := s.ListWaypoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "XPT01", all[0].Code)
}

func testTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	enroll(t, s, "111", "222")

	require.NoError(t, s.UpsertToken(ctx, &models.FCMToken{TaxID: "111", Token: "tok-b", DeviceType: "ios", CreatedAt: base, UpdatedAt: base}))
	require.NoError(t, s.UpsertToken(ctx, &models.FCMToken{TaxID: "111", Token: "tok-a", DeviceType: "android", CreatedAt: base, UpdatedAt: base}))
	require.NoError(t, s.UpsertToken(ctx, &models.FCMToken{TaxID: "222", Token: "tok-c", DeviceType: "android", CreatedAt: base, UpdatedAt: base}))

	tokens, err := s.TokensForDriver(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, tokens)

	// A device changing hands moves its token.
	require.NoError(t, s.UpsertToken(ctx, &models.FCMToken{TaxID: "222", Token: "tok-a", DeviceType: "android", CreatedAt: base, UpdatedAt: base}))
	tokens, err = s.TokensForDriver(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-b"}, tokens)

	none, err := s.TokensForDriver(ctx, "999")
	require.NoError(t, err)
	assert.Empty(t, none)
}

package queue

import (
	"context"
	"testing"
	"time"

	"dockqueue-backend/internal/apperrors"
	"dockqueue-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_NewestFirstAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.admit(t, "111")
	f.clock.Advance(time.Minute)
	b := f.admit(t, "222")
	f.clock.Advance(time.Minute)
	c := f.admit(t, "333")

	_, err := f.manager.StartUnloading(ctx, b.ID)
	require.NoError(t, err)

	all, err := f.manager.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	waiting, err := f.manager.List(ctx, Filter{Status: "WAITING"})
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, c.ID, waiting[0].ID)

	paged, err := f.manager.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, b.ID, paged[0].ID)

	none, err := f.manager.List(ctx, Filter{Destination: "XPT99"})
	require.NoError(t, err)
	assert.Empty(t, none)

	byFacility, err := f.manager.List(ctx, Filter{Facility: "SCL"})
	require.NoError(t, err)
	assert.Len(t, byFacility, 3)
}

func TestList_InvalidFilter(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.List(context.Background(), Filter{Status: "parked", Limit: -1})
	typed := requireCode(t, err, apperrors.CodeInvalidInput)
	fields := typed.Details().(map[string]string)
	assert.Contains(t, fields, "status")
	assert.Contains(t, fields, "limit")
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.admit(t, "111")
	b := f.admit(t, "222")
	f.clock.Advance(60 * time.Second)
	_, err := f.manager.StartUnloading(ctx, a.ID)
	require.NoError(t, err)
	f.clock.Advance(120 * time.Second)
	_, err = f.manager.FinishUnloading(ctx, a.ID, models.LoadReturn{})
	require.NoError(t, err)
	_, err = f.manager.StartUnloading(ctx, b.ID)
	require.NoError(t, err)
	f.admit(t, "333")
	f.clock.Advance(45 * time.Second)

	stats, err := f.manager.Stats(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.QueueStatusWaiting])
	assert.Equal(t, 1, stats.ByStatus[models.QueueStatusUnloading])
	assert.Equal(t, 1, stats.ByStatus[models.QueueStatusFinished])
	// a waited 60s, b waited 180s
	assert.InDelta(t, 120.0, stats.AvgWaitSeconds, 0.001)
	assert.InDelta(t, 120.0, stats.AvgUnloadSeconds, 0.001)
	assert.Equal(t, int64(45), stats.LongestWaitSeconds)
}

func TestSummarize_Empty(t *testing.T) {
	stats := Summarize(nil, time.Now())
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.AvgWaitSeconds)
	assert.Equal(t, 0, stats.ByStatus[models.QueueStatusWaiting])
}

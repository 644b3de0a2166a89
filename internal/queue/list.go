package queue

import (
	"context"
	"strings"
	"time"

	"dockqueue-backend/internal/apperrors"
	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"
	"dockqueue-backend/internal/timer"
)

// Filter narrows List and Stats. Empty fields match everything.
type Filter struct {
	Status      string
	Destination string
	Facility    string
	Limit       int
	Offset      int
}

func (f Filter) toStore() (store.QueueFilter, error) {
	fields := map[string]string{}
	status := models.QueueStatus(strings.ToLower(strings.TrimSpace(f.Status)))
	if status != "" && !status.Valid() {
		fields["status"] = "must be one of waiting, unloading, finished"
	}
	if f.Limit < 0 {
		fields["limit"] = "must not be negative"
	}
	if f.Offset < 0 {
		fields["offset"] = "must not be negative"
	}
	if len(fields) > 0 {
		return store.QueueFilter{}, apperrors.InvalidInput(fields)
	}
	return store.QueueFilter{
		Status:      status,
		Destination: strings.TrimSpace(f.Destination),
		Facility:    strings.TrimSpace(f.Facility),
		Limit:       f.Limit,
		Offset:      f.Offset,
	}, nil
}

// List returns a snapshot of matching entries, newest arrival first.
func (m *Manager) List(ctx context.Context, f Filter) ([]models.QueueEntry, error) {
	filter, err := f.toStore()
	if err != nil {
		return nil, m.reject("list", err)
	}
	entries, err := m.entries.ListEntries(ctx, filter)
	if err != nil {
		return nil, m.reject("list", apperrors.Internal(err, "list queue entries"))
	}
	return entries, nil
}

// Stats aggregates the matching entries. Paging is ignored.
func (m *Manager) Stats(ctx context.Context, f Filter) (*models.QueueStats, error) {
	f.Limit, f.Offset = 0, 0
	entries, err := m.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return Summarize(entries, m.now()), nil
}

// Summarize computes queue statistics at now. Average wait covers entries
// that already left waiting; average unload covers finished entries.
func Summarize(entries []models.QueueEntry, now time.Time) *models.QueueStats {
	stats := &models.QueueStats{
		Total: len(entries),
		ByStatus: map[models.QueueStatus]int{
			models.QueueStatusWaiting:   0,
			models.QueueStatusUnloading: 0,
			models.QueueStatusFinished:  0,
		},
	}

	var waitSum, unloadSum int64
	var waited, unloaded int
	for _, e := range entries {
		stats.ByStatus[e.Status]++
		switch e.Status {
		case models.QueueStatusWaiting:
			if live := timer.Elapsed(now, &e.ArrivedAt); live > stats.LongestWaitSeconds {
				stats.LongestWaitSeconds = live
			}
		case models.QueueStatusUnloading:
			waitSum += e.WaitSeconds
			waited++
		case models.QueueStatusFinished:
			waitSum += e.WaitSeconds
			waited++
			unloadSum += e.UnloadSeconds
			unloaded++
		}
	}
	if waited > 0 {
		stats.AvgWaitSeconds = float64(waitSum) / float64(waited)
	}
	if unloaded > 0 {
		stats.AvgUnloadSeconds = float64(unloadSum) / float64(unloaded)
	}
	return stats
}

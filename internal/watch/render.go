package watch

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/timer"
)

// Render writes the active part of the queue with timers computed for now.
// Finished entries are left out.
func Render(out io.Writer, entries []models.QueueEntry, now, synced time.Time) {
	waiting, unloading := 0, 0
	for _, e := range entries {
		switch e.Status {
		case models.QueueStatusWaiting:
			waiting++
		case models.QueueStatusUnloading:
			unloading++
		}
	}

	fmt.Fprintf(out, "DOCK QUEUE  %s  waiting=%d unloading=%d", now.Local().Format("15:04:05"), waiting, unloading)
	if !synced.IsZero() {
		fmt.Fprintf(out, "  synced %s ago", FormatSeconds(timer.Between(synced, now)))
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tDRIVER\tDEST\tSTATUS\tDOCK\tWAIT\tUNLOAD")
	for i := range entries {
		e := &entries[i]
		if !e.Status.Active() {
			continue
		}
		wait, unload := liveSeconds(e, now)
		dock := "-"
		if e.Dock != nil {
			dock = *e.Dock
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.IdentificationKey, e.DriverName, e.Destination, e.Status, dock,
			FormatSeconds(wait), FormatSeconds(unload))
	}
	tw.Flush()
}

func liveSeconds(e *models.QueueEntry, now time.Time) (wait, unload int64) {
	switch e.Status {
	case models.QueueStatusWaiting:
		return timer.Elapsed(now, &e.ArrivedAt), 0
	case models.QueueStatusUnloading:
		return e.WaitSeconds, timer.Elapsed(now, e.UnloadStartedAt)
	}
	return e.WaitSeconds, e.UnloadSeconds
}

// FormatSeconds renders s as MM:SS, or H:MM:SS from one hour on.
func FormatSeconds(s int64) string {
	if s < 0 {
		s = 0
	}
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

// Package timer derives elapsed durations from persisted timestamps.
// Nothing here is stored; values are recomputed on every read.
package timer

import (
	"context"
	"time"
)

// Elapsed returns whole seconds between start and now, floored from the
// millisecond difference. A nil start or a start in the future yields 0.
func Elapsed(now time.Time, start *time.Time) int64 {
	if start == nil {
		return 0
	}
	ms := now.Sub(*start).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return ms / 1000
}

// Between is Elapsed for two known instants.
func Between(start, end time.Time) int64 {
	return Elapsed(end, &start)
}

// Run calls tick every interval until ctx is done. The first tick fires
// immediately so a freshly started display does not sit blank.
func Run(ctx context.Context, interval time.Duration, tick func(time.Time)) {
	if interval <= 0 {
		interval = time.Second
	}
	tick(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			tick(t)
		}
	}
}

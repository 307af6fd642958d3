package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// IsReadyToRun reports whether item should fire at now, given its last
// recorded run. hasLastRun false means the item has never run, matching
// the source's `last_run or datetime.min` fallback. Grounded on
// scheduling_service.py's _is_ready_to_run.
func IsReadyToRun(item Item, now, lastRun time.Time, hasLastRun bool) (bool, error) {
	if hasLastRun && now.Sub(lastRun).Seconds() < item.RunOptions.CooldownSec {
		return false, nil
	}

	if item.Trigger.Type != "time_based" || item.Trigger.Schedule == "" {
		return false, nil
	}

	sched, err := cron.ParseStandard(item.Trigger.Schedule)
	if err != nil {
		return false, fmt.Errorf("invalid cron expression %q: %w", item.Trigger.Schedule, err)
	}

	prev, found := previousRun(sched, now)
	if !found {
		return false, nil
	}

	effectiveLastRun := lastRun
	if !hasLastRun {
		effectiveLastRun = time.Time{}
	}
	return prev.After(effectiveLastRun), nil
}

// previousRun finds the latest instant at or before now that sched would
// have fired at. cron.Schedule only exposes Next (the next activation
// strictly after a given time) — the source's croniter.get_prev has no
// direct Go equivalent — so this derives the previous occurrence by binary
// search: Next is monotonically non-decreasing in its argument, so the
// largest x with Next(x) <= now converges to the occurrence we want. 64
// bisections over a five-year window resolve well below one second of
// precision, which is more than the spec's minute-granularity cron needs.
func previousRun(sched cron.Schedule, now time.Time) (time.Time, bool) {
	lo := now.AddDate(-5, 0, -1)
	first := sched.Next(lo)
	if first.IsZero() || first.After(now) {
		return time.Time{}, false
	}

	hi := now
	for i := 0; i < 64; i++ {
		mid := lo.Add(hi.Sub(lo) / 2)
		if mid.Equal(lo) || mid.Equal(hi) {
			break
		}
		if next := sched.Next(mid); !next.IsZero() && !next.After(now) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return sched.Next(lo), true
}

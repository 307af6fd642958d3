package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/schedule"
)

func mustParse(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(layout, value)
	require.NoError(t, err)
	return tm
}

func TestIsReadyToRun_FiresWhenNeverRunAndScheduleDue(t *testing.T) {
	item := schedule.Item{
		Enabled: true,
		Trigger: schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
	}
	now := mustParse(t, time.RFC3339, "2026-07-30T10:05:00Z")

	ready, err := schedule.IsReadyToRun(item, now, time.Time{}, false)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestIsReadyToRun_CooldownBlocksRun(t *testing.T) {
	item := schedule.Item{
		Enabled:    true,
		Trigger:    schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		RunOptions: schedule.RunOptions{CooldownSec: 120},
	}
	now := mustParse(t, time.RFC3339, "2026-07-30T10:05:00Z")
	lastRun := now.Add(-30 * time.Second)

	ready, err := schedule.IsReadyToRun(item, now, lastRun, true)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIsReadyToRun_CooldownElapsedAllowsRun(t *testing.T) {
	item := schedule.Item{
		Enabled:    true,
		Trigger:    schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		RunOptions: schedule.RunOptions{CooldownSec: 120},
	}
	now := mustParse(t, time.RFC3339, "2026-07-30T10:05:00Z")
	lastRun := now.Add(-3 * time.Minute)

	ready, err := schedule.IsReadyToRun(item, now, lastRun, true)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestIsReadyToRun_AlreadyRanThisScheduledInstant(t *testing.T) {
	item := schedule.Item{
		Enabled: true,
		Trigger: schedule.Trigger{Type: "time_based", Schedule: "0 * * * *"},
	}
	now := mustParse(t, time.RFC3339, "2026-07-30T10:05:00Z")
	lastRun := mustParse(t, time.RFC3339, "2026-07-30T10:00:00Z")

	ready, err := schedule.IsReadyToRun(item, now, lastRun, true)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIsReadyToRun_ManualTriggerNeverFiresOnItsOwn(t *testing.T) {
	item := schedule.Item{Enabled: true, Trigger: schedule.Trigger{Type: "manual"}}
	now := mustParse(t, time.RFC3339, "2026-07-30T10:05:00Z")

	ready, err := schedule.IsReadyToRun(item, now, time.Time{}, false)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIsReadyToRun_InvalidCronReturnsError(t *testing.T) {
	item := schedule.Item{
		Enabled: true,
		Trigger: schedule.Trigger{Type: "time_based", Schedule: "not a cron"},
	}
	now := mustParse(t, time.RFC3339, "2026-07-30T10:05:00Z")

	_, err := schedule.IsReadyToRun(item, now, time.Time{}, false)
	assert.Error(t, err)
}

func TestIsReadyToRun_FiveMinuteCronOncePerCooldownWindow(t *testing.T) {
	// S4 from spec.md: "* * * * *" with cooldown_sec 120 fires at minutes
	// 0, 2, 4 (or 0, 3) across a 5-minute window, never on consecutive
	// minutes.
	item := schedule.Item{
		Enabled:    true,
		Trigger:    schedule.Trigger{Type: "time_based", Schedule: "* * * * *"},
		RunOptions: schedule.RunOptions{CooldownSec: 120},
	}
	start := mustParse(t, time.RFC3339, "2026-07-30T10:00:00Z")

	var lastRun time.Time
	var hasLastRun bool
	var fireMinutes []int
	for m := 0; m < 5; m++ {
		now := start.Add(time.Duration(m) * time.Minute)
		ready, err := schedule.IsReadyToRun(item, now, lastRun, hasLastRun)
		require.NoError(t, err)
		if ready {
			fireMinutes = append(fireMinutes, m)
			lastRun = now
			hasLastRun = true
		}
	}

	for i := 1; i < len(fireMinutes); i++ {
		assert.GreaterOrEqual(t, fireMinutes[i]-fireMinutes[i-1], 2, "no two fires on consecutive minutes")
	}
	assert.NotEmpty(t, fireMinutes)
}

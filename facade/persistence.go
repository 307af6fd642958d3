package facade

import (
	"context"
	"time"

	"github.com/aura-automation/aura/store"
)

// runStatusKeyPrefix namespaces run-status records in the pluggable store,
// matching scheduler.py's dumped-to-disk status map but generalized over
// whichever backend WithStatusStore installed (memory/redis/mongo).
const runStatusKeyPrefix = "runstatus/"

// runStatusSnapshot is runStatusEntry's persistence-safe projection: Err is
// flattened to a string since error values are not JSON-serializable, and
// Result is dropped to its serializable fields.
type runStatusSnapshot struct {
	RunID     string
	PlanName  string
	TaskID    string
	Status    string
	QueuedAt  time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Outputs   map[string]any
	Err       string
	Timeline  []timelineEntry
}

func toSnapshot(e *runStatusEntry) runStatusSnapshot {
	s := runStatusSnapshot{
		RunID:     e.RunID,
		PlanName:  e.PlanName,
		TaskID:    e.TaskID,
		Status:    e.Status,
		QueuedAt:  e.QueuedAt,
		StartedAt: e.StartedAt,
		EndedAt:   e.EndedAt,
		Timeline:  e.Timeline,
	}
	if e.Result != nil {
		s.Outputs = e.Result.Outputs
	}
	if e.Err != nil {
		s.Err = e.Err.Error()
	}
	return s
}

// persistRunStatus best-effort writes a run's status snapshot to the
// installed store. Persistence is a recovery aid, not a correctness
// requirement, so a write failure is logged and otherwise ignored. Called
// with statusMu already released: backends like redis/mongo make a network
// round trip here and must not block other run-status updates.
func (f *Facade) persistRunStatus(snap runStatusSnapshot) {
	if f.statusStore == nil {
		return
	}
	if err := store.PutJSON(context.Background(), f.statusStore, runStatusKeyPrefix+snap.RunID, snap); err != nil {
		f.log.Error(context.Background(), "facade: persist run status", "run_id", snap.RunID, "error", err)
	}
}

// preloadRunStatus restores every run-status record found in the installed
// store into memory, recovering the facade's status map across a restart.
func (f *Facade) preloadRunStatus() {
	ctx := context.Background()
	keys, err := f.statusStore.List(ctx, runStatusKeyPrefix)
	if err != nil {
		f.log.Error(ctx, "facade: list persisted run status", "error", err)
		return
	}
	for _, key := range keys {
		var snap runStatusSnapshot
		found, err := store.GetJSON(ctx, f.statusStore, key, &snap)
		if err != nil || !found {
			continue
		}
		f.runStatus[snap.RunID] = &runStatusEntry{
			RunID:     snap.RunID,
			PlanName:  snap.PlanName,
			TaskID:    snap.TaskID,
			Status:    snap.Status,
			QueuedAt:  snap.QueuedAt,
			StartedAt: snap.StartedAt,
			EndedAt:   snap.EndedAt,
			Timeline:  snap.Timeline,
		}
	}
}

package schedule

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aura-automation/aura/telemetry"
)

// Store loads and saves one plan's schedule.yaml. Items always round-trip
// through the same typed Item shape, so field order on the wire is the
// struct's declared field order every time: a load-then-save with no
// changes reproduces the same bytes, and adding or deleting one item never
// disturbs the serialized shape of any other (spec.md §3 "the core must
// write the same format it reads", P8). Grounded on
// original_source/packages/aura_core/scheduler.py's
// _load_schedule_file/_save_schedule_for_plan.
type Store struct {
	mu   sync.Mutex
	path string
	log  telemetry.Logger
}

// NewStore constructs a Store bound to planPath/schedule.yaml.
func NewStore(planPath string, log telemetry.Logger) *Store {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Store{path: filepath.Join(planPath, "schedule.yaml"), log: log}
}

// Load parses schedule.yaml and tags every item with planName. A missing
// file is not an error: the plan simply has no scheduled tasks yet.
func (s *Store) Load(planName string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("schedule: read %s: %w", s.path, err)
	}

	var items []Item
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("schedule: parse %s: %w", s.path, err)
	}
	for i := range items {
		items[i].PlanName = planName
	}
	return items, nil
}

// Save writes items back to schedule.yaml in full (scheduler.py always
// rewrites the whole plan-scoped file rather than patching in place).
func (s *Store) Save(items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Errorf("schedule: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("schedule: write %s: %w", s.path, err)
	}
	return nil
}

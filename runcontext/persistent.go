package runcontext

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aura-automation/aura/telemetry"
)

// PersistentContext is a JSON document bound to a file path; mutations stage
// in memory and Save performs an atomic async write (spec §3). "Async" here
// means non-blocking with respect to the caller's goroutine: Save hands the
// write to the supplied IOPool (spec §4.4 "I/O worker pool" / §9 "File I/O
// ... is always awaited on the I/O pool") and the returned channel is closed
// once the write completes, so callers that need the result can await it
// without forcing every caller to block synchronously on disk I/O.
type PersistentContext struct {
	mu       sync.RWMutex
	path     string
	data     map[string]any
	pool     IOPool
	log      telemetry.Logger
}

// IOPool offloads blocking file I/O the way the teacher's worker-pool split
// (I/O pool vs CPU pool, spec §5) offloads sync actions; Submit must not
// block the caller's goroutine waiting for fn to run.
type IOPool interface {
	Submit(fn func())
}

// inlinePool runs fn synchronously; used when no pool is configured (tests,
// single-shot CLI tools).
type inlinePool struct{}

func (inlinePool) Submit(fn func()) { fn() }

// Option configures a PersistentContext.
type Option func(*PersistentContext)

// WithIOPool installs the worker pool Save dispatches onto.
func WithIOPool(p IOPool) Option {
	return func(pc *PersistentContext) { pc.pool = p }
}

// WithLogger installs the logger used for load/save diagnostics.
func WithLogger(l telemetry.Logger) Option {
	return func(pc *PersistentContext) { pc.log = l }
}

// Load constructs a PersistentContext bound to path, synchronously loading
// any existing JSON document. A missing file is not an error: the context
// starts empty, matching the Python source's PersistentContext.__init__
// catch-and-default-to-empty behavior.
func Load(path string, opts ...Option) *PersistentContext {
	pc := &PersistentContext{path: path, data: make(map[string]any), pool: inlinePool{}, log: telemetry.NoopLogger{}}
	for _, o := range opts {
		o(pc)
	}
	pc.syncLoad(context.Background())
	return pc
}

func (pc *PersistentContext) syncLoad(ctx context.Context) {
	b, err := os.ReadFile(pc.path)
	if err != nil {
		if !os.IsNotExist(err) {
			pc.log.Error(ctx, "persistent_context: load failed", "path", pc.path, "error", err.Error())
		}
		pc.data = make(map[string]any)
		return
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		pc.log.Error(ctx, "persistent_context: decode failed", "path", pc.path, "error", err.Error())
		pc.data = make(map[string]any)
		return
	}
	pc.data = data
}

// Set stores a value in memory; it is not written to disk until Save runs
// (spec §3: "mutations stage in memory").
func (pc *PersistentContext) Set(key string, v any) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.data[key] = v
}

// Get retrieves a value from memory.
func (pc *PersistentContext) Get(key string) (any, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	v, ok := pc.data[key]
	return v, ok
}

// Replace discards every staged key and stages data in its place, matching
// the source's save_persistent_context_data which clears the document before
// writing the caller's full snapshot.
func (pc *PersistentContext) Replace(data map[string]any) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.data = make(map[string]any, len(data))
	for k, v := range data {
		pc.data[k] = v
	}
}

// GetAll returns a shallow copy of all staged data (spec's get_all_data).
func (pc *PersistentContext) GetAll() map[string]any {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make(map[string]any, len(pc.data))
	for k, v := range pc.data {
		out[k] = v
	}
	return out
}

// Save persists the in-memory document. The write itself is atomic: it is
// written to a temp file in the same directory and renamed into place, so a
// concurrent reader never observes a partially-written document (P7). Save
// dispatches onto the IOPool and returns a channel that is closed with any
// error once the write completes; callers that don't need to await the
// result may discard the channel (the write still proceeds).
func (pc *PersistentContext) Save(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	pc.mu.RLock()
	snapshot := make(map[string]any, len(pc.data))
	for k, v := range pc.data {
		snapshot[k] = v
	}
	pc.mu.RUnlock()

	pc.pool.Submit(func() {
		err := atomicWriteJSON(pc.path, snapshot)
		if err != nil {
			pc.log.Error(ctx, "persistent_context: save failed", "path", pc.path, "error", err.Error())
		} else {
			pc.log.Info(ctx, "persistent_context: saved", "path", pc.path)
		}
		done <- err
		close(done)
	})
	return done
}

func atomicWriteJSON(path string, data map[string]any) error {
	b, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("persistent_context: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistent_context: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pc-*.tmp")
	if err != nil {
		return fmt.Errorf("persistent_context: tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistent_context: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistent_context: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistent_context: rename: %w", err)
	}
	return nil
}

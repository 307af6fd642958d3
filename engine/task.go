// Package engine implements C6, the step-tree interpreter: a task is a list
// of steps (sequential by default), each step optionally branching into
// if/then/else, for/do, while/do, or a cases switch, or dispatching a single
// action call with retry. Grounded on
// original_source/packages/aura_core/engine.py's ExecutionEngine, translated
// from asyncio coroutines into goroutine-safe synchronous calls (the engine
// itself is single-threaded per task run; concurrency lives one level up, in
// execmgr's worker pools).
package engine

// Task is one parsed task YAML file (spec §3 "Task").
type Task struct {
	Meta    map[string]any `yaml:"meta,omitempty"`
	Steps   []Step         `yaml:"steps,omitempty"`
	Outputs map[string]any `yaml:"outputs,omitempty"`
}

// Step is one node of the step tree (spec §3 "Step", §4.3). Exactly one of
// the control-flow shapes (If, For, While, Cases, or a bare Action call) is
// expected to be populated per step; go_step/go_task/next are evaluated
// before any of them as pre-step control-flow signals.
type Step struct {
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`
	When any    `yaml:"when,omitempty"`

	GoStep string `yaml:"go_step,omitempty"`
	GoTask any    `yaml:"go_task,omitempty"`
	Next   any    `yaml:"next,omitempty"`

	If   any    `yaml:"if,omitempty"`
	Then []Step `yaml:"then,omitempty"`
	Else []Step `yaml:"else,omitempty"`

	For *ForSpec `yaml:"for,omitempty"`
	Do  []Step   `yaml:"do,omitempty"`

	While    any `yaml:"while,omitempty"`
	MaxLoops any `yaml:"max_loops,omitempty"`

	Cases []Case `yaml:"cases,omitempty"`

	Action            string         `yaml:"action,omitempty"`
	Params            map[string]any `yaml:"params,omitempty"`
	Retry             *RetrySpec     `yaml:"retry,omitempty"`
	WaitBefore        any            `yaml:"wait_before,omitempty"`
	OutputTo          string         `yaml:"output_to,omitempty"`
	ContinueOnFailure bool           `yaml:"continue_on_failure,omitempty"`
}

// ForSpec is a `for: {as, in}` loop header.
type ForSpec struct {
	As string `yaml:"as"`
	In any    `yaml:"in"`
}

// RetrySpec controls a single action step's retry loop (spec §4.3.1).
type RetrySpec struct {
	Count    int     `yaml:"count"`
	Interval float64 `yaml:"interval"`
}

// Case is one arm of a `cases:` switch, a supplemented feature beyond the
// distilled spec (original_source's engine.py's step-map builder already
// scans `cases[].then`, so the interpreter implements the arm it was always
// meant to support).
type Case struct {
	When any    `yaml:"when"`
	Then []Step `yaml:"then"`
}

// Status is the outcome of a task Run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusGoTask  Status = "go_task"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Result is returned by Engine.Run (spec §4.3 "run" contract).
type Result struct {
	Status   Status
	NextTask string
	Outputs  map[string]any
	Err      error
}

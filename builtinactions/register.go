package builtinactions

import (
	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/telemetry"
)

// options configures which optional builtin actions Register wires in.
type options struct {
	log     telemetry.Logger
	debug   *JSONDebugCapture
	textGen TextGenerator
}

// Option configures Register.
type Option func(*options)

// WithLogger installs the logger the log/assert_condition actions use.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithDebugCapture installs a debug-capture instance and registers
// "debug.capture" against it. Without this option the action is not
// registered: a plan that calls it against a facade built without a debug
// capture configured gets ActionNotFoundError rather than a silent no-op.
func WithDebugCapture(d *JSONDebugCapture) Option {
	return func(o *options) { o.debug = d }
}

// WithTextGenerator installs the backend "ai.generate_text" dispatches to
// (typically an *AnthropicTextGenerator). Without this option the action is
// still registered (so ListActions/discovery is stable across
// configurations) but fails at call time.
func WithTextGenerator(g TextGenerator) Option {
	return func(o *options) { o.textGen = g }
}

// Register adds every builtin system action to reg: log, stop_task,
// assert_condition, run_task (placeholder), set_persistent_value,
// save_persistent_context, http, and optionally debug.capture and
// ai.generate_text depending on which options are supplied.
func Register(reg *action.Registry, opts ...Option) {
	o := &options{log: telemetry.NoopLogger{}}
	for _, opt := range opts {
		opt(o)
	}

	registerSystem(reg, o.log)
	registerHTTP(reg)
	registerAI(reg, o.textGen)
	if o.debug != nil {
		registerDebug(reg, o.debug)
	}
}

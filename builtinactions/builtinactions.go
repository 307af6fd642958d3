// Package builtinactions registers the system actions every plan gets for
// free without declaring a plugin dependency: log, stop_task,
// assert_condition, run_task (placeholder), set_persistent_value,
// save_persistent_context, a debug-capture action, ai.generate_text, and a
// synchronous http action. Grounded on
// original_source/packages/aura_system_actions/actions/atomic_actions.py,
// minus the vision/OCR/keyboard-mouse actions (screen_service.py-backed GUI
// automation), which have no analogue in this execution core.
package builtinactions

// PluginID is the synthetic plugin identity every action in this package
// registers under, matching atomic_actions.py's module-level @register_action
// calls: these actions carry no real plugin.yaml of their own, they are
// built into the core.
const PluginID = "aura/system"

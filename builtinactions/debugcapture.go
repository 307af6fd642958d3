package builtinactions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/engine"
	"github.com/aura-automation/aura/runcontext"
	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/value"
)

// JSONDebugCapture implements engine.DebugCapture by dumping the run
// context's current key/value snapshot to a JSON file under the context's
// debug_dir key. Grounded on packages/aura_system_services/services/
// screen_service.py's capture_debug, generalized from a Windows GUI
// screenshot (win32gui/win32ui/cv2, with no Go-idiomatic equivalent and
// outside this port's domain) to a best-effort state dump any headless
// runner can produce.
type JSONDebugCapture struct {
	log telemetry.Logger
}

// NewJSONDebugCapture constructs a JSONDebugCapture. log may be nil.
func NewJSONDebugCapture(log telemetry.Logger) *JSONDebugCapture {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &JSONDebugCapture{log: log}
}

var _ engine.DebugCapture = (*JSONDebugCapture)(nil)

// Capture writes rc's data snapshot to "<debug_dir>/<failedStepName>-<unix
// nanos>.json". A missing or empty debug_dir key skips the capture silently;
// a write failure is logged and otherwise swallowed: capture is a best-effort diagnostic aid,
// never a reason to fail the run it is observing.
func (d *JSONDebugCapture) Capture(ctx context.Context, rc *runcontext.Context, failedStepName string) {
	dirVal, ok := rc.Lookup(runcontext.KeyDebugDir)
	if !ok {
		return
	}
	dir, _ := dirVal.AsString()
	if dir == "" {
		return
	}

	snapshot := make(map[string]any, len(rc.Data()))
	for k, v := range rc.Data() {
		snapshot[k] = value.ToGo(v)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.log.Error(ctx, "debug capture: create debug dir", "dir", dir, "error", err)
		return
	}
	name := fmt.Sprintf("%s-%d.json", sanitizeStepName(failedStepName), time.Now().UnixNano())
	path := filepath.Join(dir, name)

	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		d.log.Error(ctx, "debug capture: marshal context snapshot", "error", err)
		return
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		d.log.Error(ctx, "debug capture: write snapshot", "path", path, "error", err)
		return
	}
	d.log.Info(ctx, "debug capture: wrote context snapshot", "path", path, "step", failedStepName)
}

func sanitizeStepName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "step"
	}
	return string(out)
}

// registerDebug adds "debug.capture", letting a plan manually request a
// context snapshot mid-task the same way it requests one automatically on
// step failure (engine.DebugCapture).
func registerDebug(reg *action.Registry, capture *JSONDebugCapture) {
	reg.Register(&action.Definition{
		Name:     "debug.capture",
		ReadOnly: true,
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "label", Kind: action.ParamRendered, Default: defaultString("manual")},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			labelVal, _ := args.Value("label")
			label, _ := labelVal.AsString()
			capture.Capture(ctx, args.Context(), label)
			return value.Bool(true), nil
		},
	})
}

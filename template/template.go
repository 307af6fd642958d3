// Package template implements the sandboxed expression language spec.md §9
// calls for: "a minimal, sandboxed expression language supporting
// attribute/index access, comparisons, boolean ops, a small built-in
// function set, and a pluggable config() accessor — no arbitrary code
// execution, no attribute access to host objects."
//
// Rather than hand-rolling a parser, the CEL (Common Expression Language)
// runtime — already part of this corpus's ecosystem (github.com/google/cel-go,
// used for exactly this kind of sandboxed-expression task) — evaluates the
// portion of a string enclosed by the `{{ ... }}` / `{% ... %}` markers
// spec.md §4.2 names. CEL gives us attribute/index access, comparisons, and
// boolean operators natively, compiles to a safe AST (no reflection into Go
// host objects), and lets us register a bounded function set including a
// `config()` accessor, matching the design note exactly.
package template

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/aura-automation/aura/telemetry"
	"github.com/aura-automation/aura/value"
)

// markerPattern finds {{ expr }} or {% expr %} occurrences within a string.
var markerPattern = regexp.MustCompile(`\{\{(.*?)\}\}|\{%(.*?)%\}`)

// ConfigAccessor resolves dot-path configuration lookups for the `config()`
// built-in (spec §9, §6 "Config").
type ConfigAccessor func(path string) (any, bool)

// Renderer evaluates template strings over a context data map. One Renderer
// is typically shared by an orchestrator/engine pair for the lifetime of a
// plan; it is safe for concurrent use (CEL programs are stateless/reentrant).
type Renderer struct {
	env    *cel.Env
	config ConfigAccessor
	log    telemetry.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithConfigAccessor installs the config() built-in's backing accessor.
func WithConfigAccessor(fn ConfigAccessor) Option {
	return func(r *Renderer) { r.config = fn }
}

// WithLogger installs the logger used to emit P6's "undefined variable ->
// null + warning" diagnostics.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Renderer) { r.log = l }
}

// New constructs a Renderer. The CEL environment exposes a single dynamic
// variable, `data`, bound to the rendering context's key-value map, plus a
// one-argument `config(path)` function closed over the renderer's
// ConfigAccessor. No other host state is reachable from expressions,
// satisfying the "no attribute access to host objects" rule.
func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{log: telemetry.NoopLogger{}}
	for _, o := range opts {
		o(r)
	}

	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		cel.Function("config",
			cel.Overload("config_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					path, ok := v.Value().(string)
					if !ok || r.config == nil {
						return types.NullValue
					}
					got, found := r.config(path)
					if !found {
						return types.NullValue
					}
					return types.DefaultTypeAdapter.NativeToValue(got)
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("template: build cel env: %w", err)
	}
	r.env = env
	return r, nil
}

// RenderString renders a single string value. If it contains no `{{` or `{%`
// marker it is returned unchanged (spec §4.2 step 2). A string consisting of
// exactly one marker spanning the whole string renders to the expression's
// native Value (preserving type, e.g. booleans for `when`/`if` conditions);
// a string with markers interleaved with literal text renders to a
// concatenated string. Undefined references and evaluation errors both
// downgrade to null with a logged warning (P6), never panicking or failing
// the caller.
func (r *Renderer) RenderString(ctx context.Context, s string, data map[string]value.Value) value.Value {
	if !strings.Contains(s, "{{") && !strings.Contains(s, "{%") {
		return value.String(s)
	}

	matches := markerPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := extractExpr(s, matches[0])
		v, err := r.eval(expr, data)
		if err != nil {
			r.log.Warn(ctx, "template: evaluation failed, rendering null", "expr", expr, "error", err.Error())
			return value.Null
		}
		return v
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		expr := extractExpr(s, m)
		v, err := r.eval(expr, data)
		if err != nil {
			r.log.Warn(ctx, "template: evaluation failed, rendering null", "expr", expr, "error", err.Error())
		} else {
			b.WriteString(stringify(v))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return value.String(b.String())
}

// RenderValue recursively renders a value.Value tree (spec §4.2 step 2:
// "dicts/lists: recurse. scalars: passed through.").
func (r *Renderer) RenderValue(ctx context.Context, v value.Value, data map[string]value.Value) value.Value {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return r.RenderString(ctx, s, data)
	case value.KindList:
		items, _ := v.AsList()
		out := make([]value.Value, len(items))
		for i, item := range items {
			out[i] = r.RenderValue(ctx, item, data)
		}
		return value.List(out)
	case value.KindMap:
		m, _ := v.AsMap()
		out := make(map[string]value.Value, len(m))
		for k, item := range m {
			out[k] = r.RenderValue(ctx, item, data)
		}
		return value.Map(out)
	default:
		return v
	}
}

// RenderCondition renders an expression string expected to yield a boolean
// (used by if/when/while). A non-boolean result is coerced via Value.Truthy,
// matching the source's permissive truthiness rather than a hard type error.
func (r *Renderer) RenderCondition(ctx context.Context, expr string, data map[string]value.Value) bool {
	return r.RenderString(ctx, wrapAsExpr(expr), data).Truthy()
}

func wrapAsExpr(expr string) string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "{{") || strings.HasPrefix(expr, "{%") {
		return expr
	}
	return "{{ " + expr + " }}"
}

func extractExpr(s string, m []int) string {
	if m[2] != -1 {
		return strings.TrimSpace(s[m[2]:m[3]])
	}
	return strings.TrimSpace(s[m[4]:m[5]])
}

func (r *Renderer) eval(expr string, data map[string]value.Value) (value.Value, error) {
	ast, issues := r.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return value.Null, issues.Err()
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return value.Null, err
	}
	plain := make(map[string]any, len(data))
	for k, v := range data {
		plain[k] = value.ToGo(v)
	}
	out, _, err := prg.Eval(map[string]any{"data": plain})
	if err != nil {
		return value.Null, err
	}
	return value.FromGo(out.Value()), nil
}

func stringify(v value.Value) string {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return s
	case value.KindNull:
		return ""
	default:
		return fmt.Sprint(value.ToGo(v))
	}
}

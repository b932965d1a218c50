package liquid

import (
	"context"

	"github.com/liquidgo/liquid/parser"
	"github.com/liquidgo/liquid/value"
)

// Template is the immutable-after-parse AST plus its name and merged
// front matter. Multiple renders, possibly concurrent, read it without
// mutation.
type Template struct {
	env    *Environment
	name   string
	source string
	ast    []parser.Node
	matter value.Value

	// parseWarnings holds recovered parse errors from Warn tolerance.
	parseWarnings []*Error
}

// Name returns the template's registered/loader-origin name.
func (t *Template) Name() string { return t.name }

// Source returns the raw template source.
func (t *Template) Source() string { return t.source }

// ParseWarnings returns parse-time errors recovered under Warn
// tolerance (empty outside that mode, or under Strict/Lax).
func (t *Template) ParseWarnings() []*Error { return t.parseWarnings }

// Render evaluates the template against vars and returns the output
// text. vars are merged into the globals namespace for the duration of
// the call, winning over template front matter and environment globals.
func (t *Template) Render(vars map[string]any) (string, error) {
	return t.RenderContext(context.Background(), vars)
}

// RenderContext is Render with an explicit context.Context, checked at
// loop-iteration boundaries and before partial resolution.
func (t *Template) RenderContext(ctx context.Context, vars map[string]any) (string, error) {
	globals := t.buildGlobals(vars)
	rc := newRenderContext(ctx, t.env, t.name, globals)
	out := newSink(rc)
	_, err := renderNodes(t.ast, rc, out)
	text := out.String()
	if err != nil {
		return text, err
	}
	return text, nil
}

// RenderToContext is like RenderContext but also returns the
// RenderContext used, so callers can inspect resource-counter state
// after the call.
func (t *Template) RenderToContext(ctx context.Context, vars map[string]any) (string, *RenderContext, error) {
	globals := t.buildGlobals(vars)
	rc := newRenderContext(ctx, t.env, t.name, globals)
	out := newSink(rc)
	_, err := renderNodes(t.ast, rc, out)
	return out.String(), rc, err
}

// buildGlobals layers, in increasing precedence, environment globals,
// template front matter, and the per-render vars.
func (t *Template) buildGlobals(vars map[string]any) value.Value {
	env := value.NewMapping()
	for k, v := range t.env.snapshotGlobals() {
		env.MapSet(k, v)
	}
	callVars := value.NewMapping()
	for k, v := range vars {
		callVars.MapSet(k, value.FromAny(v))
	}
	return value.MergeLayers(env, t.matter, callVars)
}

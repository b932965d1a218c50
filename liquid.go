// Package liquid implements the core of a Liquid template engine:
// lexing, parsing, and tree-walking evaluation, plus the render-time
// collaborators (Environment, RenderContext, Loader, Template).
// File-system loaders, a CLI, and static-analysis visitors are left to
// the host application.
package liquid

import "context"

// Render is the package-level convenience entrypoint: it builds a
// throwaway Environment with default configuration, parses source, and
// renders it against vars in one call. Hosts that render more than one
// template, or that need a loader/custom filters/limits, should build
// an *Environment directly instead.
func Render(source string, vars map[string]any) (string, error) {
	env := NewEnvironment()
	tmpl, err := env.ParseTemplate("inline", source)
	if err != nil {
		return "", err
	}
	return tmpl.Render(vars)
}

// RenderWithContext is Render with an explicit context.Context.
func RenderWithContext(ctx context.Context, source string, vars map[string]any) (string, error) {
	env := NewEnvironment()
	tmpl, err := env.ParseTemplate("inline", source)
	if err != nil {
		return "", err
	}
	return tmpl.RenderContext(ctx, vars)
}

package liquid

import (
	"sync"

	"github.com/liquidgo/liquid/lexer"
	"github.com/liquidgo/liquid/parser"
	"github.com/liquidgo/liquid/value"
)

// FilterFunc is a registered filter implementation. A filter always has
// implicit access to the RenderContext (and, through it, the
// Environment) rather than receiving them as template-visible
// arguments.
type FilterFunc func(rc *RenderContext, input value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error)

// Environment holds everything immutable-after-configuration and
// shared across renders: the registered filter table, delimiter and
// tolerance configuration, the undefined-value policy, the loader, and
// the template cache. Per-render mutable state lives on RenderContext
// instead.
type Environment struct {
	mu sync.RWMutex

	syntax    lexer.SyntaxConfig
	tolerance parser.Tolerance

	undefinedBehavior value.UndefinedBehavior
	strictFilters     bool
	autoEscape        bool
	autoReload        bool

	// renderWhitespaceOnlyBlocks controls whether a conditional or loop
	// block whose rendered output is nothing but whitespace is still
	// written; by default such output is dropped.
	renderWhitespaceOnlyBlocks bool

	globals map[string]value.Value
	filters map[string]FilterFunc

	loader    Loader
	cache     *TemplateCache
	exprCache *parser.ExprCache

	contextDepthLimit    int
	loopIterationLimit   *uint64
	localNamespaceLimit  *uint64
	outputStreamLimit    *uint64
}

// NewEnvironment returns an Environment with Liquid's conventional
// defaults: `{{ }}`/`{% %}` delimiters, lax tolerance, lenient
// undefined, a 300-entry template cache, and the full built-in filter
// table (registerDefaultFilters in filters.go).
func NewEnvironment() *Environment {
	e := &Environment{
		syntax:            lexer.DefaultSyntaxConfig(),
		tolerance:         parser.Lax,
		undefinedBehavior: value.Lenient,
		globals:           map[string]value.Value{},
		filters:           map[string]FilterFunc{},
		cache:             NewTemplateCache(300),
		contextDepthLimit: 100,
	}
	registerDefaultFilters(e)
	return e
}

// SetDelimiters overrides the output/tag/comment delimiter strings.
func (e *Environment) SetDelimiters(cfg lexer.SyntaxConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syntax = cfg
}

// SetTolerance selects strict/warn/lax parse-error recovery.
func (e *Environment) SetTolerance(t parser.Tolerance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tolerance = t
}

// SetUndefinedBehavior selects one of the four undefined variants.
func (e *Environment) SetUndefinedBehavior(b value.UndefinedBehavior) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undefinedBehavior = b
}

// SetStrictFilters controls whether an unknown filter raises or behaves
// as identity.
func (e *Environment) SetStrictFilters(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strictFilters = v
}

// SetAutoEscape toggles the HTML auto-escape policy hook.
func (e *Environment) SetAutoEscape(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoEscape = v
}

// SetAutoReload controls whether the cache consults a loader's
// staleness predicate before reusing a parse.
func (e *Environment) SetAutoReload(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoReload = v
}

// SetCacheSize replaces the template cache with one of the given
// capacity; capacity <= 0 disables caching.
func (e *Environment) SetCacheSize(capacity int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = NewTemplateCache(capacity)
}

// SetExpressionCacheSize enables (or, with capacity <= 0, disables) the
// shared filtered-expression parse cache.
func (e *Environment) SetExpressionCacheSize(capacity int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if capacity <= 0 {
		e.exprCache = nil
		return
	}
	e.exprCache = parser.NewExprCache(capacity)
}

// SetRenderWhitespaceOnlyBlocks controls whether conditional/loop
// blocks whose output is only whitespace are written anyway.
func (e *Environment) SetRenderWhitespaceOnlyBlocks(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderWhitespaceOnlyBlocks = v
}

// SetGlobals merges vars into the environment-level globals namespace,
// the lowest-precedence tier of a render's globals.
func (e *Environment) SetGlobals(vars map[string]value.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range vars {
		e.globals[k] = v
	}
}

// SetLoader installs the loader collaborator used by `include`/`render`.
func (e *Environment) SetLoader(l Loader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loader = l
}

// SetContextDepthLimit bounds include/render nesting.
func (e *Environment) SetContextDepthLimit(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contextDepthLimit = n
}

// SetLoopIterationLimit bounds the summed loop-iteration count for a
// single top-level render. nil disables the cap.
func (e *Environment) SetLoopIterationLimit(n *uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loopIterationLimit = n
}

// SetLocalNamespaceLimit caps the running total of the approximate byte
// sizes of values bound by `assign` and `capture` during a render; a
// value that is later overwritten or goes out of scope stays counted.
// nil disables the cap.
func (e *Environment) SetLocalNamespaceLimit(n *uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localNamespaceLimit = n
}

// SetOutputStreamLimit bounds the number of bytes a render may emit.
// nil disables the cap.
func (e *Environment) SetOutputStreamLimit(n *uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputStreamLimit = n
}

// AddFilter registers (or overrides) a named filter.
func (e *Environment) AddFilter(name string, f FilterFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters[name] = f
}

func (e *Environment) getFilter(name string) (FilterFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.filters[name]
	return f, ok
}

func (e *Environment) snapshotGlobals() map[string]value.Value {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]value.Value, len(e.globals))
	for k, v := range e.globals {
		out[k] = v
	}
	return out
}

// ParseTemplate parses source into a Template named name, without
// touching the cache (use GetTemplate for cache-aware loading via the
// configured Loader).
func (e *Environment) ParseTemplate(name, source string) (*Template, error) {
	return e.parseTemplate(name, source, nil)
}

func (e *Environment) parseTemplate(name, source string, matter map[string]value.Value) (*Template, error) {
	e.mu.RLock()
	cfg := e.syntax
	tol := e.tolerance
	exprCache := e.exprCache
	e.mu.RUnlock()

	toks, lexErr := lexer.Lex(source, cfg)
	if lexErr != nil {
		le := lexErr.(*lexer.Error)
		return nil, (&Error{Kind: ErrLexer, Message: le.Message}).WithName(name).WithSource(source)
	}
	p := parser.New(lexer.ApplyWhitespaceControl(toks), name, tol)
	if exprCache != nil {
		p.SetExprCache(exprCache)
	}
	nodes, err := p.Parse()
	if err != nil {
		pe := err.(*parser.ParseError)
		return nil, (&Error{Kind: ErrSyntax, Message: pe.Message}).WithSpan(pe.Span).WithName(name).WithSource(source)
	}
	var recovered []*Error
	for _, pe := range p.Errors() {
		recovered = append(recovered, (&Error{Kind: ErrSyntax, Message: pe.Message}).WithSpan(pe.Span).WithName(name))
	}
	gm := value.NewMapping()
	for k, v := range matter {
		gm.MapSet(k, v)
	}
	return &Template{
		env:          e,
		name:         name,
		source:       source,
		ast:          nodes,
		matter:       gm,
		parseWarnings: recovered,
	}, nil
}

// GetTemplate resolves name through the configured Loader, consulting
// (and populating) the template cache, honoring auto-reload staleness.
func (e *Environment) GetTemplate(name string) (*Template, error) {
	return e.getTemplateFor(name, nil)
}

func (e *Environment) getTemplateFor(name string, rc *RenderContext) (*Template, error) {
	e.mu.RLock()
	loader := e.loader
	cache := e.cache
	autoReload := e.autoReload
	e.mu.RUnlock()

	if loader == nil {
		return nil, &Error{Kind: ErrTemplateNotFound, Message: "no loader configured"}
	}
	res, err := loader.GetSource(name, rc)
	if err != nil {
		if le, ok := err.(*Error); ok {
			return nil, le.WithName(name)
		}
		return nil, &Error{Kind: ErrTemplateNotFound, Message: err.Error()}
	}
	if cached, ok := cache.Get(name, res.Namespace); ok {
		if !autoReload || res.UpToDate == nil || res.UpToDate() {
			return cached, nil
		}
	}
	tmpl, err := e.parseTemplate(name, res.Text, res.Matter)
	if err != nil {
		return nil, err
	}
	upToDate := res.UpToDate
	if !autoReload {
		upToDate = nil
	}
	cache.Put(name, res.Namespace, tmpl, upToDate)
	return tmpl, nil
}

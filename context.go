package liquid

import (
	"context"
	"strings"

	"github.com/liquidgo/liquid/value"
)

// loopFrame is one entry of the render context's loop stack. The parent
// link backs `forloop.parentloop`; frames are owned by the stack, never
// by child data.
type loopFrame struct {
	name   string
	length int
	index  int // 0-based
	parent *loopFrame
}

// RenderContext is the per-render mutable state: layered namespaces,
// counters, the loop-frame stack, cycle cursors, ifchanged memory, the
// disabled-tag set, include/render depth, and the resource accounting
// limiters. Exactly one RenderContext exists per top-level render call;
// it is never shared across goroutines.
type RenderContext struct {
	env  *Environment
	ctx  context.Context
	name string

	globals value.Value // read-only Mapping
	locals  []map[string]value.Value

	counters map[string]int64

	loopStack  []*loopFrame
	loopOffset map[string]int

	cycleState map[string]int

	ifchangedLast map[string]string

	disabledTags map[string]bool

	depth int

	loopLimiter   *limiter
	outputLimiter *limiter
	localLimiter  *limiter

	// Recovered is not filled in by the renderer: an error raised while
	// rendering aborts the render under every tolerance mode, and the
	// parse errors recovered under warn tolerance are kept on the
	// Template (ParseWarnings).
	Recovered []*Error

	sizeOf func(value.Value) uint64
}

func newRenderContext(ctx context.Context, env *Environment, name string, globals value.Value) *RenderContext {
	rc := &RenderContext{
		env:           env,
		ctx:           ctx,
		name:          name,
		globals:       globals,
		locals:        []map[string]value.Value{{}},
		counters:      map[string]int64{},
		loopOffset:    map[string]int{},
		cycleState:    map[string]int{},
		ifchangedLast: map[string]string{},
		disabledTags:  map[string]bool{},
		sizeOf:        approximateSize,
	}
	rc.loopLimiter = newLimiter(env.loopIterationLimit)
	rc.outputLimiter = newLimiter(env.outputStreamLimit)
	rc.localLimiter = newLimiter(env.localNamespaceLimit)
	return rc
}

// Context returns the Go context.Context governing cancellation for
// this render.
func (rc *RenderContext) Context() context.Context { return rc.ctx }

// Env returns the owning Environment.
func (rc *RenderContext) Env() *Environment { return rc.env }

// Name returns the name of the template currently rendering (the
// innermost include/render frame).
func (rc *RenderContext) Name() string { return rc.name }

func (rc *RenderContext) pushLocals() {
	rc.locals = append(rc.locals, map[string]value.Value{})
}

func (rc *RenderContext) popLocals() {
	if len(rc.locals) > 1 {
		rc.locals = rc.locals[:len(rc.locals)-1]
	}
}

func (rc *RenderContext) topLocals() map[string]value.Value {
	return rc.locals[len(rc.locals)-1]
}

// Assign binds name in the topmost locals frame, shadowing any global
// of the same name, and accounts the new value against the
// local-namespace limiter.
func (rc *RenderContext) Assign(name string, v value.Value) error {
	rc.topLocals()[name] = v
	if !rc.localLimiter.consume(rc.sizeOf(v)) {
		return &Error{Kind: ErrLocalNamespaceLimit, Message: "local namespace limit exceeded"}
	}
	return nil
}

// Lookup resolves a bare identifier: locals frames top-to-bottom, then
// globals. Returns Undefined() on a miss; callers consult the
// environment's UndefinedBehavior for how to react.
func (rc *RenderContext) Lookup(name string) value.Value {
	for i := len(rc.locals) - 1; i >= 0; i-- {
		if v, ok := rc.locals[i][name]; ok {
			return v
		}
	}
	if v, ok := rc.globals.MapGet(name); ok {
		return v
	}
	return value.Undefined()
}

// Increment emits-then-increments a name in the counters namespace,
// which is separate from locals: `{% assign %}` and `{% increment %}`
// on the same name never collide.
func (rc *RenderContext) Increment(name string) int64 {
	v := rc.counters[name]
	rc.counters[name] = v + 1
	return v
}

// Decrement pre-decrements then returns, so first use yields -1.
func (rc *RenderContext) Decrement(name string) int64 {
	v := rc.counters[name] - 1
	rc.counters[name] = v
	return v
}

// PushLoop pushes a new loop-stack frame and returns it. index is
// 0-based.
func (rc *RenderContext) PushLoop(name string, length, index int) *loopFrame {
	var parent *loopFrame
	if len(rc.loopStack) > 0 {
		parent = rc.loopStack[len(rc.loopStack)-1]
	}
	f := &loopFrame{name: name, length: length, index: index, parent: parent}
	rc.loopStack = append(rc.loopStack, f)
	return f
}

func (rc *RenderContext) PopLoop() {
	if len(rc.loopStack) > 0 {
		rc.loopStack = rc.loopStack[:len(rc.loopStack)-1]
	}
}

// loopValue snapshots a loop frame as the `forloop`/`tablerowloop`
// object visible inside the loop body.
func loopValue(f *loopFrame) value.Value {
	m := value.NewMapping()
	m.MapSet("name", value.FromString(f.name))
	m.MapSet("length", value.FromInt(int64(f.length)))
	m.MapSet("index", value.FromInt(int64(f.index+1)))
	m.MapSet("index0", value.FromInt(int64(f.index)))
	m.MapSet("rindex", value.FromInt(int64(f.length-f.index)))
	m.MapSet("rindex0", value.FromInt(int64(f.length-f.index-1)))
	m.MapSet("first", value.FromBool(f.index == 0))
	m.MapSet("last", value.FromBool(f.index == f.length-1))
	if f.parent != nil {
		m.MapSet("parentloop", loopValue(f.parent))
	} else {
		m.MapSet("parentloop", value.Nil())
	}
	return m
}

// LoopOffsetKey builds the cursor key for `offset: continue`: the loop
// variable name plus a structural signature of the iterable expression,
// so two loops over the same source text share a cursor.
func (rc *RenderContext) LoopOffsetKey(loopName, iterableKey string) string {
	return loopName + "\x00" + iterableKey
}

func (rc *RenderContext) LoopOffsetGet(key string) int    { return rc.loopOffset[key] }
func (rc *RenderContext) LoopOffsetSet(key string, n int) { rc.loopOffset[key] = n }

// CycleIndex advances and returns the next index for a cycle cursor
// keyed by group plus arguments.
func (rc *RenderContext) CycleIndex(key string, n int) int {
	idx := rc.cycleState[key] % n
	rc.cycleState[key] = idx + 1
	return idx
}

// IfChanged reports whether rendered differs from the last occurrence
// recorded at this block position, and updates the memory.
func (rc *RenderContext) IfChanged(key, rendered string) bool {
	last, ok := rc.ifchangedLast[key]
	rc.ifchangedLast[key] = rendered
	return !ok || last != rendered
}

// DisableTag marks a tag name as forbidden within the current frame;
// `render` uses this to forbid `include` inside its partials.
func (rc *RenderContext) DisableTag(name string)         { rc.disabledTags[name] = true }
func (rc *RenderContext) IsTagDisabled(name string) bool { return rc.disabledTags[name] }

// EnterDepth increments the include/render nesting counter and checks
// it against the environment's configured limit.
func (rc *RenderContext) EnterDepth() error {
	rc.depth++
	if rc.env.contextDepthLimit > 0 && rc.depth > rc.env.contextDepthLimit {
		return &Error{Kind: ErrContextDepth, Message: "include/render nesting depth exceeded"}
	}
	return nil
}

func (rc *RenderContext) LeaveDepth() { rc.depth-- }

// approximateSize is the default local-namespace sizing function. It is
// intentionally cheap rather than exact.
func approximateSize(v value.Value) uint64 {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return uint64(len(s)) + 16
	case value.KindSequence:
		items, _ := v.AsSlice()
		var total uint64 = 24
		for _, it := range items {
			total += approximateSize(it)
		}
		return total
	case value.KindMapping:
		var total uint64 = 24
		for _, k := range v.Keys() {
			mv, _ := v.MapGet(k)
			total += uint64(len(k)) + approximateSize(mv)
		}
		return total
	default:
		return 16
	}
}

// sink is the byte-accounting output writer every node render writes
// through. When a write would cross the output-stream limit, the
// fitting prefix is still emitted before the error is returned.
type sink struct {
	b  strings.Builder
	rc *RenderContext
}

func newSink(rc *RenderContext) *sink { return &sink{rc: rc} }

func (s *sink) WriteString(str string) error {
	lim := s.rc.outputLimiter
	if lim.limit == nil {
		lim.consumed += uint64(len(str))
		s.b.WriteString(str)
		return nil
	}
	remaining := int64(*lim.limit) - int64(lim.consumed)
	if remaining < 0 {
		remaining = 0
	}
	if int64(len(str)) <= remaining {
		lim.consumed += uint64(len(str))
		s.b.WriteString(str)
		return nil
	}
	s.b.WriteString(str[:remaining])
	lim.consumed += uint64(remaining)
	return &Error{Kind: ErrOutputStreamLimit, Message: "output stream limit exceeded"}
}

func (s *sink) String() string { return s.b.String() }

package liquid

import (
	"fmt"
	"html"
	"strings"

	"github.com/liquidgo/liquid/parser"
	"github.com/liquidgo/liquid/value"
)

// ctrlSignal is the explicit status value break/continue propagate up
// through renderNodes/renderNode, rather than being modeled as an error
// or a panic.
type ctrlSignal int

const (
	ctrlNone ctrlSignal = iota
	ctrlBreak
	ctrlContinue
)

// writer is the minimal sink surface the evaluator writes through.
// *sink satisfies it for top-level render output; *stringWriter
// satisfies it for `capture`/`ifchanged`, whose content is accumulated
// off to the side rather than counted against the output-stream limit.
type writer interface {
	WriteString(s string) error
}

type stringWriter struct{ b strings.Builder }

func (w *stringWriter) WriteString(s string) error { w.b.WriteString(s); return nil }
func (w *stringWriter) String() string             { return w.b.String() }

// renderNodes walks a node list, stopping early and propagating a
// break/continue signal the moment one surfaces from a child.
func renderNodes(nodes []parser.Node, rc *RenderContext, out writer) (ctrlSignal, error) {
	for _, n := range nodes {
		select {
		case <-rc.ctx.Done():
			return ctrlNone, rc.ctx.Err()
		default:
		}
		sig, err := renderNode(n, rc, out)
		if err != nil {
			return ctrlNone, err
		}
		if sig != ctrlNone {
			return sig, nil
		}
	}
	return ctrlNone, nil
}

func renderNode(node parser.Node, rc *RenderContext, out writer) (ctrlSignal, error) {
	switch n := node.(type) {
	case parser.TextLiteral:
		return ctrlNone, out.WriteString(n.Text)
	case parser.RawNode:
		return ctrlNone, out.WriteString(n.Text)
	case parser.CommentNode:
		return ctrlNone, nil
	case parser.Output:
		v, err := evalFiltered(n.Expr, rc)
		if err != nil {
			return ctrlNone, err
		}
		return ctrlNone, writeValue(rc, out, v)
	case parser.EchoNode:
		v, err := evalFiltered(n.Expr, rc)
		if err != nil {
			return ctrlNone, err
		}
		return ctrlNone, writeValue(rc, out, v)
	case parser.IfNode:
		return renderBlock(rc, out, func(w writer) (ctrlSignal, error) { return renderIf(n, rc, w) })
	case parser.UnlessNode:
		return renderBlock(rc, out, func(w writer) (ctrlSignal, error) { return renderUnless(n, rc, w) })
	case parser.CaseNode:
		return renderBlock(rc, out, func(w writer) (ctrlSignal, error) { return renderCase(n, rc, w) })
	case parser.ForNode:
		return renderBlock(rc, out, func(w writer) (ctrlSignal, error) { return renderFor(n, rc, w) })
	case parser.TableRowNode:
		return ctrlNone, renderTableRow(n, rc, out)
	case parser.CaptureNode:
		return ctrlNone, renderCapture(n, rc, out)
	case parser.AssignNode:
		return ctrlNone, renderAssign(n, rc)
	case parser.IncrementNode:
		return ctrlNone, out.WriteString(value.FromInt(rc.Increment(n.Name)).String())
	case parser.DecrementNode:
		return ctrlNone, out.WriteString(value.FromInt(rc.Decrement(n.Name)).String())
	case parser.CycleNode:
		return ctrlNone, renderCycle(n, rc, out)
	case parser.IncludeNode:
		return ctrlNone, renderInclude(n, rc, out)
	case parser.RenderNode:
		return ctrlNone, renderRender(n, rc, out)
	case parser.LiquidNode:
		return renderNodes(n.Body, rc, out)
	case parser.IfChangedNode:
		return ctrlNone, renderIfChanged(n, rc, out)
	case parser.BreakNode:
		return ctrlBreak, nil
	case parser.ContinueNode:
		return ctrlContinue, nil
	default:
		return ctrlNone, fmt.Errorf("liquid: unhandled node type %T", node)
	}
}

// renderBlock runs a conditional/loop block body. Unless the
// environment opts in to rendering whitespace-only blocks, the body is
// buffered and dropped when it produced nothing but whitespace.
func renderBlock(rc *RenderContext, out writer, f func(writer) (ctrlSignal, error)) (ctrlSignal, error) {
	if rc.env.renderWhitespaceOnlyBlocks {
		return f(out)
	}
	var sw stringWriter
	sig, err := f(&sw)
	if err != nil {
		return sig, err
	}
	s := sw.String()
	if strings.TrimSpace(s) == "" {
		return sig, nil
	}
	return sig, out.WriteString(s)
}

// --- expression evaluation ---

func evalExpr(e parser.Expr, rc *RenderContext) (value.Value, error) {
	switch t := e.(type) {
	case *parser.Literal:
		return literalValue(t), nil
	case *parser.Path:
		return evalPath(t, rc)
	case *parser.RangeLiteral:
		return evalRangeLit(t, rc)
	case *parser.BooleanExpression:
		b, err := evalBoolExpr(t, rc)
		if err != nil {
			return value.Undefined(), err
		}
		return value.FromBool(b), nil
	case *parser.FilteredExpression:
		return evalFiltered(t, rc)
	default:
		return value.Undefined(), fmt.Errorf("liquid: unhandled expression type %T", e)
	}
}

func literalValue(t *parser.Literal) value.Value {
	switch {
	case t.IsInt:
		return value.FromInt(t.Int)
	case t.IsFloat:
		return value.FromFloat(t.Float)
	case t.IsStr:
		return value.FromString(t.Str)
	case t.IsBool:
		return value.FromBool(t.Bool)
	case t.IsNil:
		return value.Nil()
	default:
		// LitEmpty/LitBlank outside a comparison context (rare): render as
		// empty, the same as any other falsy sentinel would print.
		return value.Nil()
	}
}

func evalPath(p *parser.Path, rc *RenderContext) (value.Value, error) {
	if len(p.Segments) == 0 {
		return value.Undefined(), nil
	}
	debug := rc.env.undefinedBehavior == value.Debug
	path := p.Segments[0].Name
	cur := rc.Lookup(path)
	if cur.IsUndefined() && debug {
		cur = value.UndefinedWithPath(path)
	}
	for _, seg := range p.Segments[1:] {
		cur = cur.ToPrimitive()
		switch {
		case seg.HasName:
			path += "." + seg.Name
			v, ok := cur.GetMember(seg.Name)
			if !ok {
				cur = value.Undefined()
			} else {
				cur = v
			}
		case seg.HasIdx:
			path += fmt.Sprintf("[%d]", seg.Index)
			cur = cur.GetIndex(seg.Index)
		case seg.Dynamic != nil:
			idxVal, err := evalExpr(seg.Dynamic, rc)
			if err != nil {
				return value.Undefined(), err
			}
			path += "[" + idxVal.String() + "]"
			if i, ok := idxVal.AsInt(); ok {
				cur = cur.GetIndex(i)
			} else if s, ok := idxVal.AsString(); ok {
				v, ok := cur.GetMember(s)
				if !ok {
					cur = value.Undefined()
				} else {
					cur = v
				}
			} else {
				cur = value.Undefined()
			}
		}
		if cur.IsUndefined() && debug && cur.UndefinedPath() == "" {
			cur = value.UndefinedWithPath(path)
		}
	}
	return cur, nil
}

func evalRangeLit(r *parser.RangeLiteral, rc *RenderContext) (value.Value, error) {
	startV, err := evalExpr(r.Start, rc)
	if err != nil {
		return value.Undefined(), err
	}
	stopV, err := evalExpr(r.Stop, rc)
	if err != nil {
		return value.Undefined(), err
	}
	return value.FromRange(toInt64(startV), toInt64(stopV)), nil
}

func toInt64(v value.Value) int64 {
	v = value.CoerceNumber(v)
	if i, ok := v.AsInt(); ok {
		return i
	}
	if f, ok := v.AsFloat(); ok {
		return int64(f)
	}
	return 0
}

// sentinelKind marks the `empty`/`blank` literal keywords, which compare
// against the shape of a value rather than evaluating to one themselves.
type sentinelKind int

const (
	sentinelNone sentinelKind = iota
	sentinelEmpty
	sentinelBlank
)

func literalSentinel(e parser.Expr) sentinelKind {
	if lit, ok := e.(*parser.Literal); ok {
		switch lit.Kind {
		case parser.LitEmpty:
			return sentinelEmpty
		case parser.LitBlank:
			return sentinelBlank
		}
	}
	return sentinelNone
}

func sentinelEquals(sk sentinelKind, v value.Value) bool {
	if sk == sentinelEmpty {
		return value.EqualsEmpty(v)
	}
	return value.EqualsBlank(v)
}

func evalBoolExpr(e *parser.BooleanExpression, rc *RenderContext) (bool, error) {
	switch e.Op {
	case parser.OpAnd:
		l, err := evalTruthyExpr(e.Left, rc)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return evalTruthyExpr(e.Right, rc)
	case parser.OpOr:
		l, err := evalTruthyExpr(e.Left, rc)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return evalTruthyExpr(e.Right, rc)
	default:
		return evalComparison(e, rc)
	}
}

// evalTruthyExpr evaluates e in boolean context, honoring the configured
// UndefinedBehavior's boolean-position policy.
func evalTruthyExpr(e parser.Expr, rc *RenderContext) (bool, error) {
	if be, ok := e.(*parser.BooleanExpression); ok {
		return evalBoolExpr(be, rc)
	}
	v, err := evalExpr(e, rc)
	if err != nil {
		return false, err
	}
	return truthValue(v, rc)
}

func truthValue(v value.Value, rc *RenderContext) (bool, error) {
	if v.IsUndefined() {
		ub := rc.env.undefinedBehavior
		if !ub.AllowBoolean() {
			return false, &Error{Kind: ErrUndefined, Message: (&value.UndefinedError{Path: v.UndefinedPath()}).Error()}
		}
		if ub == value.FalsyStrict {
			return false, nil
		}
		return v.IsTrue(), nil
	}
	return v.IsTrue(), nil
}

func evalComparison(e *parser.BooleanExpression, rc *RenderContext) (bool, error) {
	if sk := literalSentinel(e.Left); sk != sentinelNone && (e.Op == parser.OpEq || e.Op == parser.OpNe) {
		rv, err := evalExpr(e.Right, rc)
		if err != nil {
			return false, err
		}
		eq := sentinelEquals(sk, rv)
		if e.Op == parser.OpNe {
			return !eq, nil
		}
		return eq, nil
	}
	if sk := literalSentinel(e.Right); sk != sentinelNone && (e.Op == parser.OpEq || e.Op == parser.OpNe) {
		lv, err := evalExpr(e.Left, rc)
		if err != nil {
			return false, err
		}
		eq := sentinelEquals(sk, lv)
		if e.Op == parser.OpNe {
			return !eq, nil
		}
		return eq, nil
	}

	lv, err := evalExpr(e.Left, rc)
	if err != nil {
		return false, err
	}
	rv, err := evalExpr(e.Right, rc)
	if err != nil {
		return false, err
	}
	if rc.env.undefinedBehavior == value.Strict && (lv.IsUndefined() || rv.IsUndefined()) {
		bad := lv
		if !bad.IsUndefined() {
			bad = rv
		}
		return false, &Error{Kind: ErrUndefined, Message: (&value.UndefinedError{Path: bad.UndefinedPath()}).Error()}
	}
	switch e.Op {
	case parser.OpEq:
		return value.Equal(lv, rv), nil
	case parser.OpNe:
		return !value.Equal(lv, rv), nil
	case parser.OpContains:
		return value.Contains(lv, rv), nil
	case parser.OpLt, parser.OpLe, parser.OpGt, parser.OpGe:
		res, ok := value.Compare(lv, rv)
		if !ok {
			// Ordering across incompatible kinds is false rather than an
			// error outside strict tolerance.
			if rc.env.tolerance == parser.Strict {
				return false, &Error{Kind: ErrType, Message: fmt.Sprintf("cannot order %s against %s", lv.Kind(), rv.Kind())}
			}
			return false, nil
		}
		switch e.Op {
		case parser.OpLt:
			return res < 0, nil
		case parser.OpLe:
			return res <= 0, nil
		case parser.OpGt:
			return res > 0, nil
		default:
			return res >= 0, nil
		}
	default:
		return false, nil
	}
}

func evalFiltered(fe *parser.FilteredExpression, rc *RenderContext) (value.Value, error) {
	v, err := evalExpr(fe.Head, rc)
	if err != nil {
		return value.Undefined(), err
	}
	for _, f := range fe.Filters {
		args := make([]value.Value, len(f.Positional))
		for i, a := range f.Positional {
			av, err := evalExpr(a, rc)
			if err != nil {
				return value.Undefined(), err
			}
			args[i] = av
		}
		var kwargs map[string]value.Value
		if len(f.Named) > 0 {
			kwargs = make(map[string]value.Value, len(f.Named))
			for _, kw := range f.Named {
				kv, err := evalExpr(kw.Value, rc)
				if err != nil {
					return value.Undefined(), err
				}
				kwargs[kw.Name] = kv
			}
		}
		fn, ok := rc.env.getFilter(f.Name)
		if !ok {
			if rc.env.strictFilters {
				return value.Undefined(), &Error{Kind: ErrFilter, Message: fmt.Sprintf("unknown filter %q", f.Name)}
			}
			continue
		}
		v, err = fn(rc, v, args, kwargs)
		if err != nil {
			if fe2, ok := err.(*Error); ok {
				return value.Undefined(), fe2
			}
			return value.Undefined(), &Error{Kind: ErrFilter, Message: err.Error()}
		}
	}
	return v, nil
}

// writeValue prints v honoring the undefined-print policy and the
// auto-escape hook.
func writeValue(rc *RenderContext, out writer, v value.Value) error {
	if v.IsUndefined() {
		ub := rc.env.undefinedBehavior
		if !ub.AllowPrint() {
			return &Error{Kind: ErrUndefined, Message: (&value.UndefinedError{Path: v.UndefinedPath()}).Error()}
		}
		return out.WriteString(ub.DescribeForPrint(v))
	}
	s := v.String()
	escape := rc.env.autoEscape && !v.IsSafe()
	if d, ok := v.AsDrop(); ok {
		if h, ok := d.(value.HTMLer); ok {
			if _, ok := h.ToHTML(); ok {
				escape = false
			}
		}
	}
	if escape {
		s = html.EscapeString(s)
	}
	return out.WriteString(s)
}

// --- tag rendering ---

func renderIf(n parser.IfNode, rc *RenderContext, out writer) (ctrlSignal, error) {
	for _, b := range n.Branches {
		ok, err := evalTruthyExpr(b.Cond, rc)
		if err != nil {
			return ctrlNone, err
		}
		if ok {
			return renderNodes(b.Body, rc, out)
		}
	}
	return renderNodes(n.Else, rc, out)
}

func renderUnless(n parser.UnlessNode, rc *RenderContext, out writer) (ctrlSignal, error) {
	ok, err := evalTruthyExpr(n.Cond, rc)
	if err != nil {
		return ctrlNone, err
	}
	if !ok {
		return renderNodes(n.Body, rc, out)
	}
	return renderNodes(n.Else, rc, out)
}

func renderCase(n parser.CaseNode, rc *RenderContext, out writer) (ctrlSignal, error) {
	subj, err := evalExpr(n.Subject, rc)
	if err != nil {
		return ctrlNone, err
	}
	// Every matching branch renders, not just the first; else renders
	// only when none matched.
	matched := false
	for _, w := range n.Whens {
		for _, cand := range w.Values {
			cv, err := evalExpr(cand, rc)
			if err != nil {
				return ctrlNone, err
			}
			if value.Equal(subj, cv) {
				matched = true
				sig, err := renderNodes(w.Body, rc, out)
				if err != nil || sig != ctrlNone {
					return sig, err
				}
				break
			}
		}
	}
	if !matched {
		return renderNodes(n.Else, rc, out)
	}
	return ctrlNone, nil
}

func renderFor(n parser.ForNode, rc *RenderContext, out writer) (ctrlSignal, error) {
	loop := n.Loop
	iterVal, err := evalExpr(loop.Iterable, rc)
	if err != nil {
		return ctrlNone, err
	}
	if iterVal.IsUndefined() && !rc.env.undefinedBehavior.AllowIteration() {
		return ctrlNone, &Error{Kind: ErrUndefined, Message: (&value.UndefinedError{Path: iterVal.UndefinedPath()}).Error()}
	}
	items := iterVal.Iter()

	offsetKey := rc.LoopOffsetKey(loop.Name, exprSignature(loop.Iterable))
	offset := 0
	switch {
	case loop.OffsetContinue:
		offset = rc.LoopOffsetGet(offsetKey)
	case loop.Offset != nil:
		ov, err := evalExpr(loop.Offset, rc)
		if err != nil {
			return ctrlNone, err
		}
		offset = int(toInt64(ov))
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]

	if loop.Limit != nil {
		lv, err := evalExpr(loop.Limit, rc)
		if err != nil {
			return ctrlNone, err
		}
		limit := int(toInt64(lv))
		if limit < 0 {
			limit = 0
		}
		if limit < len(items) {
			items = items[:limit]
		}
	}

	// Every loop records where it stopped so a later same-named loop over
	// the same iterable can pick up with `offset: continue`.
	rc.LoopOffsetSet(offsetKey, offset+len(items))

	if loop.Reversed {
		rev := make([]value.Value, len(items))
		for i, it := range items {
			rev[len(items)-1-i] = it
		}
		items = rev
	}

	if len(items) == 0 {
		return renderNodes(n.Else, rc, out)
	}

	frame := rc.PushLoop(loop.Name, len(items), 0)
	defer rc.PopLoop()
	rc.pushLocals()
	defer rc.popLocals()

	for i, item := range items {
		select {
		case <-rc.ctx.Done():
			return ctrlNone, rc.ctx.Err()
		default:
		}
		if !rc.loopLimiter.consume(1) {
			return ctrlNone, &Error{Kind: ErrLoopIterationLimit, Message: "loop iteration limit exceeded"}
		}
		frame.index = i
		locals := rc.topLocals()
		locals[loop.Name] = item
		locals["forloop"] = loopValue(frame)
		sig, err := renderNodes(n.Body, rc, out)
		if err != nil {
			return ctrlNone, err
		}
		if sig == ctrlBreak {
			break
		}
	}
	return ctrlNone, nil
}

func renderTableRow(n parser.TableRowNode, rc *RenderContext, out writer) error {
	loop := n.Loop
	iterVal, err := evalExpr(loop.Iterable, rc)
	if err != nil {
		return err
	}
	if iterVal.IsUndefined() && !rc.env.undefinedBehavior.AllowIteration() {
		return &Error{Kind: ErrUndefined, Message: (&value.UndefinedError{Path: iterVal.UndefinedPath()}).Error()}
	}
	items := iterVal.Iter()

	if loop.Offset != nil {
		ov, err := evalExpr(loop.Offset, rc)
		if err != nil {
			return err
		}
		off := int(toInt64(ov))
		if off > len(items) {
			off = len(items)
		}
		if off > 0 {
			items = items[off:]
		}
	}
	if loop.Limit != nil {
		lv, err := evalExpr(loop.Limit, rc)
		if err != nil {
			return err
		}
		lim := int(toInt64(lv))
		if lim < len(items) {
			items = items[:lim]
		}
	}
	cols := len(items)
	if loop.Cols != nil {
		cv, err := evalExpr(loop.Cols, rc)
		if err != nil {
			return err
		}
		if c := int(toInt64(cv)); c > 0 {
			cols = c
		}
	}
	if cols == 0 {
		cols = 1
	}

	if len(items) == 0 {
		return nil
	}

	frame := rc.PushLoop(loop.Name, len(items), 0)
	defer rc.PopLoop()
	rc.pushLocals()
	defer rc.popLocals()

	for i, item := range items {
		if !rc.loopLimiter.consume(1) {
			return &Error{Kind: ErrLoopIterationLimit, Message: "loop iteration limit exceeded"}
		}
		col := i % cols
		if col == 0 {
			if err := out.WriteString(fmt.Sprintf(`<tr class="row%d">`, i/cols+1)); err != nil {
				return err
			}
		}
		if err := out.WriteString(fmt.Sprintf(`<td class="col%d">`, col+1)); err != nil {
			return err
		}
		frame.index = i
		locals := rc.topLocals()
		locals[loop.Name] = item
		locals["tablerowloop"] = loopValue(frame)
		sig, err := renderNodes(n.Body, rc, out)
		if err != nil {
			return err
		}
		if err := out.WriteString("</td>"); err != nil {
			return err
		}
		if col == cols-1 || i == len(items)-1 {
			if err := out.WriteString("</tr>"); err != nil {
				return err
			}
		}
		if sig == ctrlBreak {
			break
		}
	}
	return nil
}

func renderCapture(n parser.CaptureNode, rc *RenderContext, out writer) error {
	var sw stringWriter
	if _, err := renderNodes(n.Body, rc, &sw); err != nil {
		return err
	}
	return rc.Assign(n.Name, value.FromString(sw.String()))
}

func renderAssign(n parser.AssignNode, rc *RenderContext) error {
	v, err := evalFiltered(n.Value, rc)
	if err != nil {
		return err
	}
	return rc.Assign(n.Name, v)
}

func renderCycle(n parser.CycleNode, rc *RenderContext, out writer) error {
	if len(n.Args) == 0 {
		return nil
	}
	group := ""
	if n.Group != nil {
		group = *n.Group
	}
	parts := make([]string, 0, len(n.Args)+1)
	parts = append(parts, group)
	for _, a := range n.Args {
		parts = append(parts, exprSignature(a))
	}
	key := strings.Join(parts, "\x1f")
	idx := rc.CycleIndex(key, len(n.Args))
	v, err := evalExpr(n.Args[idx], rc)
	if err != nil {
		return err
	}
	return writeValue(rc, out, v)
}

func renderIfChanged(n parser.IfChangedNode, rc *RenderContext, out writer) error {
	var sw stringWriter
	if _, err := renderNodes(n.Body, rc, &sw); err != nil {
		return err
	}
	rendered := sw.String()
	key := fmt.Sprintf("ifchanged@%d", n.Span().StartOffset)
	if rc.IfChanged(key, rendered) {
		return out.WriteString(rendered)
	}
	return nil
}

func renderInclude(n parser.IncludeNode, rc *RenderContext, out writer) error {
	if rc.IsTagDisabled("include") {
		return &Error{Kind: ErrDisabledTag, Message: "include is disabled inside render"}
	}
	return renderIncludeLike(n.Name, n.With, n.ForLoop, n.As, n.Keywords, rc, out, false)
}

func renderRender(n parser.RenderNode, rc *RenderContext, out writer) error {
	return renderIncludeLike(n.Name, n.With, n.ForLoop, n.As, n.Keywords, rc, out, true)
}

// renderIncludeLike implements both `include` (shares the caller's
// locals frame; assigns made by the partial persist in the caller) and
// `render` (fresh, isolated locals with `include` disabled inside).
func renderIncludeLike(nameExpr, withExpr parser.Expr, forLoop bool, as string, kws []parser.KeywordArg, rc *RenderContext, out writer, isRender bool) error {
	nameV, err := evalExpr(nameExpr, rc)
	if err != nil {
		return err
	}
	name, ok := nameV.AsString()
	if !ok {
		name = nameV.String()
	}
	tmpl, err := rc.env.getTemplateFor(name, rc)
	if err != nil {
		return err
	}
	if err := rc.EnterDepth(); err != nil {
		return err
	}
	defer rc.LeaveDepth()

	varName := as
	if varName == "" {
		varName = defaultPartialVar(name)
	}

	kwVals := make(map[string]value.Value, len(kws))
	for _, kw := range kws {
		kv, err := evalExpr(kw.Value, rc)
		if err != nil {
			return err
		}
		kwVals[kw.Name] = kv
	}

	runOnce := func(item value.Value, hasItem bool) error {
		if isRender {
			prevLocals := rc.locals
			prevDisabled := rc.disabledTags
			frame := map[string]value.Value{}
			if hasItem {
				frame[varName] = item
			}
			for k, v := range kwVals {
				frame[k] = v
			}
			rc.locals = []map[string]value.Value{frame}
			rc.disabledTags = make(map[string]bool, 1)
			rc.DisableTag("include")
			defer func() { rc.locals = prevLocals; rc.disabledTags = prevDisabled }()
		} else {
			// The partial shares the caller's top frame, so its assigns
			// persist after the include; only the bound item and keyword
			// arguments are scoped to the partial and restored afterwards.
			top := rc.topLocals()
			scoped := make(map[string]value.Value, len(kwVals)+1)
			for k, v := range kwVals {
				scoped[k] = v
			}
			if hasItem {
				scoped[varName] = item
			}
			saved := make(map[string]value.Value, len(scoped))
			present := make(map[string]bool, len(scoped))
			for k, v := range scoped {
				if old, ok := top[k]; ok {
					saved[k] = old
					present[k] = true
				}
				top[k] = v
			}
			defer func() {
				for k := range scoped {
					if present[k] {
						top[k] = saved[k]
					} else {
						delete(top, k)
					}
				}
			}()
		}
		prevName := rc.name
		rc.name = tmpl.name
		defer func() { rc.name = prevName }()
		_, err := renderNodes(tmpl.ast, rc, out)
		return err
	}

	if withExpr == nil {
		return runOnce(value.Undefined(), false)
	}
	wv, err := evalExpr(withExpr, rc)
	if err != nil {
		return err
	}
	if forLoop {
		for _, item := range wv.Iter() {
			if err := runOnce(item, true); err != nil {
				return err
			}
		}
		return nil
	}
	return runOnce(wv, true)
}

func defaultPartialVar(name string) string {
	s := name
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return s
}

// exprSignature produces a stable structural key for an expression AST.
// `cycle` keys its cursors by group name plus argument signatures, and
// `for ... offset: continue` keys resume positions by loop name plus
// iterable signature; both need a key derived from the expression's
// shape, not its evaluated value.
func exprSignature(e parser.Expr) string {
	switch t := e.(type) {
	case *parser.Literal:
		switch {
		case t.IsInt:
			return fmt.Sprintf("i%d", t.Int)
		case t.IsFloat:
			return fmt.Sprintf("f%v", t.Float)
		case t.IsStr:
			return "s:" + t.Str
		case t.IsBool:
			return fmt.Sprintf("b%v", t.Bool)
		case t.IsNil:
			return "nil"
		default:
			return fmt.Sprintf("lit%d", t.Kind)
		}
	case *parser.Path:
		var b strings.Builder
		for _, seg := range t.Segments {
			switch {
			case seg.HasName:
				b.WriteString("." + seg.Name)
			case seg.HasIdx:
				fmt.Fprintf(&b, "[%d]", seg.Index)
			case seg.Dynamic != nil:
				b.WriteString("[" + exprSignature(seg.Dynamic) + "]")
			}
		}
		return b.String()
	case *parser.RangeLiteral:
		return "(" + exprSignature(t.Start) + ".." + exprSignature(t.Stop) + ")"
	case *parser.BooleanExpression:
		return fmt.Sprintf("(%s %d %s)", exprSignature(t.Left), t.Op, exprSignature(t.Right))
	case *parser.FilteredExpression:
		s := exprSignature(t.Head)
		for _, f := range t.Filters {
			s += "|" + f.Name
		}
		return s
	default:
		return "?"
	}
}

package liquid

import (
	"encoding/base64"
	"html"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/osteele/tuesday"

	"github.com/liquidgo/liquid/value"
)

// registerDefaultFilters installs the built-in filter table. Every
// filter here follows the package's lenient-coercion rule: wrong-kind
// input/arguments degrade to a zero-ish value rather than panicking,
// except the few that raise an explicit filter error (e.g. `divided_by`
// by zero).
func registerDefaultFilters(e *Environment) {
	// --- string family ---
	e.AddFilter("append", filterAppend)
	e.AddFilter("prepend", filterPrepend)
	e.AddFilter("capitalize", filterCapitalize)
	e.AddFilter("downcase", stringFilter(strings.ToLower))
	e.AddFilter("upcase", stringFilter(strings.ToUpper))
	e.AddFilter("strip", stringFilter(strings.TrimSpace))
	e.AddFilter("lstrip", stringFilter(func(s string) string { return strings.TrimLeft(s, " \t\r\n") }))
	e.AddFilter("rstrip", stringFilter(func(s string) string { return strings.TrimRight(s, " \t\r\n") }))
	e.AddFilter("strip_newlines", stringFilter(func(s string) string {
		return strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(s)
	}))
	e.AddFilter("newline_to_br", stringFilter(func(s string) string {
		return strings.NewReplacer("\r\n", "<br />\n", "\n", "<br />\n").Replace(s)
	}))
	e.AddFilter("escape", filterEscape)
	e.AddFilter("escape_once", filterEscapeOnce)
	e.AddFilter("safe", filterSafe)
	e.AddFilter("url_encode", stringFilter(url.QueryEscape))
	e.AddFilter("url_decode", func(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
		s, err := url.QueryUnescape(in.String())
		if err != nil {
			return value.FromString(in.String()), nil
		}
		return value.FromString(s), nil
	})
	e.AddFilter("base64_encode", stringFilter(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }))
	e.AddFilter("base64_decode", func(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
		b, err := base64.StdEncoding.DecodeString(in.String())
		if err != nil {
			return value.Undefined(), &Error{Kind: ErrFilter, Message: "invalid base64 input"}
		}
		return value.FromString(string(b)), nil
	})
	e.AddFilter("base64_url_safe_encode", stringFilter(func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }))
	e.AddFilter("base64_url_safe_decode", func(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
		b, err := base64.URLEncoding.DecodeString(in.String())
		if err != nil {
			return value.Undefined(), &Error{Kind: ErrFilter, Message: "invalid base64 input"}
		}
		return value.FromString(string(b)), nil
	})
	e.AddFilter("replace", filterReplace)
	e.AddFilter("replace_first", filterReplaceFirst)
	e.AddFilter("replace_last", filterReplaceLast)
	e.AddFilter("remove", filterRemove)
	e.AddFilter("remove_first", filterRemoveFirst)
	e.AddFilter("remove_last", filterRemoveLast)
	e.AddFilter("split", filterSplit)
	e.AddFilter("truncate", filterTruncate)
	e.AddFilter("truncatewords", filterTruncateWords)
	e.AddFilter("slice", filterSlice)
	e.AddFilter("strip_html", stringFilter(stripHTML))

	// --- numeric family ---
	e.AddFilter("abs", filterAbs)
	e.AddFilter("ceil", filterCeil)
	e.AddFilter("floor", filterFloor)
	e.AddFilter("round", filterRound)
	e.AddFilter("plus", binaryArith(value.Add))
	e.AddFilter("minus", binaryArith(value.Sub))
	e.AddFilter("times", binaryArith(value.Mul))
	e.AddFilter("divided_by", filterDividedBy)
	e.AddFilter("modulo", filterModulo)
	e.AddFilter("at_least", filterAtLeast)
	e.AddFilter("at_most", filterAtMost)

	// --- array family ---
	e.AddFilter("join", filterJoin)
	e.AddFilter("first", filterFirst)
	e.AddFilter("last", filterLast)
	e.AddFilter("size", filterSize)
	e.AddFilter("reverse", filterReverse)
	e.AddFilter("sort", filterSort)
	e.AddFilter("sort_natural", filterSortNatural)
	e.AddFilter("uniq", filterUniq)
	e.AddFilter("compact", filterCompact)
	e.AddFilter("map", filterMap)
	e.AddFilter("where", filterWhere)
	e.AddFilter("concat", filterConcat)
	e.AddFilter("sum", filterSum)

	// --- object family ---
	e.AddFilter("default", filterDefault)

	// --- date family ---
	e.AddFilter("date", filterDate)
}

func stringFilter(f func(string) string) FilterFunc {
	return func(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
		return value.FromString(f(in.String())), nil
	}
}

func argStr(args []value.Value, i int) string {
	if i < len(args) {
		return args[i].String()
	}
	return ""
}

func argInt(args []value.Value, i int, def int64) int64 {
	if i < len(args) {
		return toInt64(args[i])
	}
	return def
}

func filterAppend(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(in.String() + argStr(args, 0)), nil
}

func filterPrepend(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(argStr(args, 0) + in.String()), nil
}

func filterCapitalize(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	s := in.String()
	if s == "" {
		return value.FromString(s), nil
	}
	return value.FromString(strings.ToUpper(s[:1]) + strings.ToLower(s[1:])), nil
}

func filterEscape(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(html.EscapeString(in.String())), nil
}

// filterSafe marks its input as pre-escaped markup; writeValue skips
// HTML-escaping for any Value where IsSafe() is true.
func filterSafe(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromSafeString(in.String()), nil
}

var reAlreadyEscaped = regexp.MustCompile(`&(amp|lt|gt|quot|#39);`)

func filterEscapeOnce(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(escapeOnce(in.String())), nil
}

func escapeOnce(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if m := reAlreadyEscaped.FindString(s[i:]); m != "" && strings.HasPrefix(s[i:], m) {
			b.WriteString(m)
			i += len(m)
			continue
		}
		switch s[i] {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteByte(s[i])
		}
		i++
	}
	return b.String()
}

func filterReplace(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(strings.ReplaceAll(in.String(), argStr(args, 0), argStr(args, 1))), nil
}

func filterReplaceFirst(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(strings.Replace(in.String(), argStr(args, 0), argStr(args, 1), 1)), nil
}

func filterReplaceLast(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	s := in.String()
	old := argStr(args, 0)
	idx := strings.LastIndex(s, old)
	if idx < 0 || old == "" {
		return value.FromString(s), nil
	}
	return value.FromString(s[:idx] + argStr(args, 1) + s[idx+len(old):]), nil
}

func filterRemove(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(strings.ReplaceAll(in.String(), argStr(args, 0), "")), nil
}

func filterRemoveFirst(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	return value.FromString(strings.Replace(in.String(), argStr(args, 0), "", 1)), nil
}

func filterRemoveLast(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	s := in.String()
	old := argStr(args, 0)
	idx := strings.LastIndex(s, old)
	if idx < 0 || old == "" {
		return value.FromString(s), nil
	}
	return value.FromString(s[:idx] + s[idx+len(old):]), nil
}

func filterSplit(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	sep := argStr(args, 0)
	var parts []string
	if sep == "" {
		parts = strings.Split(in.String(), "")
	} else {
		parts = strings.Split(in.String(), sep)
	}
	items := make([]value.Value, len(parts))
	for i, p := range parts {
		items[i] = value.FromString(p)
	}
	return value.FromSlice(items), nil
}

func filterTruncate(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	s := []rune(in.String())
	n := int(argInt(args, 0, 50))
	suffix := "..."
	if len(args) > 1 {
		suffix = args[1].String()
	}
	if len(s) <= n {
		return value.FromString(string(s)), nil
	}
	cut := n - len([]rune(suffix))
	if cut < 0 {
		cut = 0
	}
	return value.FromString(string(s[:cut]) + suffix), nil
}

func filterTruncateWords(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	words := strings.Fields(in.String())
	n := int(argInt(args, 0, 15))
	suffix := "..."
	if len(args) > 1 {
		suffix = args[1].String()
	}
	if n < 0 {
		n = 0
	}
	if len(words) <= n {
		return value.FromString(in.String()), nil
	}
	return value.FromString(strings.Join(words[:n], " ") + suffix), nil
}

func filterSlice(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	start := int(argInt(args, 0, 0))
	length := int(argInt(args, 1, 1))
	if items, ok := in.AsSlice(); ok {
		n := len(items)
		if start < 0 {
			start += n
		}
		if start < 0 {
			start = 0
		}
		if start > n {
			start = n
		}
		end := start + length
		if end > n {
			end = n
		}
		if end < start {
			end = start
		}
		return value.FromSlice(items[start:end]), nil
	}
	s := []rune(in.String())
	n := len(s)
	if start < 0 {
		start += n
	}
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := start + length
	if end > n {
		end = n
	}
	if end < start {
		end = start
	}
	return value.FromString(string(s[start:end])), nil
}

var reTag = regexp.MustCompile(`(?s)<[^>]*>`)

func stripHTML(s string) string { return reTag.ReplaceAllString(s, "") }

// undefinedArithGuard applies the undefined protocol to arithmetic
// filter operands: under Lenient the whole filter yields undefined, any
// other variant raises.
func undefinedArithGuard(rc *RenderContext, vs ...value.Value) (bool, value.Value, error) {
	for _, v := range vs {
		if !v.IsUndefined() {
			continue
		}
		if rc.env.undefinedBehavior == value.Lenient {
			return true, value.Undefined(), nil
		}
		return true, value.Undefined(), &Error{Kind: ErrUndefined, Message: (&value.UndefinedError{Path: v.UndefinedPath()}).Error()}
	}
	return false, value.Value{}, nil
}

func numericFilter(f func(float64) float64) FilterFunc {
	return func(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
		n := value.CoerceNumber(in)
		fv, _ := n.AsFloat()
		if iv, ok := n.AsInt(); ok {
			fv = float64(iv)
		}
		return floatOrInt(f(fv), n), nil
	}
}

func floatOrInt(f float64, orig value.Value) value.Value {
	if orig.Kind() == value.KindInt && f == math.Trunc(f) {
		return value.FromInt(int64(f))
	}
	return value.FromFloat(f)
}

func filterAbs(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	if hit, v, err := undefinedArithGuard(rc, in); hit {
		return v, err
	}
	n := value.CoerceNumber(in)
	if i, ok := n.AsInt(); ok {
		if i < 0 {
			i = -i
		}
		return value.FromInt(i), nil
	}
	f, _ := n.AsFloat()
	return value.FromFloat(math.Abs(f)), nil
}

func filterCeil(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	if hit, v, err := undefinedArithGuard(rc, in); hit {
		return v, err
	}
	n := value.CoerceNumber(in)
	f, _ := n.AsFloat()
	if i, ok := n.AsInt(); ok {
		return value.FromInt(i), nil
	}
	return value.FromInt(int64(math.Ceil(f))), nil
}

func filterFloor(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	if hit, v, err := undefinedArithGuard(rc, in); hit {
		return v, err
	}
	n := value.CoerceNumber(in)
	f, _ := n.AsFloat()
	if i, ok := n.AsInt(); ok {
		return value.FromInt(i), nil
	}
	return value.FromInt(int64(math.Floor(f))), nil
}

func filterRound(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	if hit, v, err := undefinedArithGuard(rc, in); hit {
		return v, err
	}
	n := value.CoerceNumber(in)
	f, _ := n.AsFloat()
	if i, ok := n.AsInt(); ok {
		f = float64(i)
	}
	if len(args) == 0 {
		return value.FromInt(int64(math.Round(f))), nil
	}
	prec := int(argInt(args, 0, 0))
	mult := math.Pow(10, float64(prec))
	return value.FromFloat(math.Round(f*mult) / mult), nil
}

func binaryArith(op func(a, b value.Value) value.Value) FilterFunc {
	return func(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
		b := value.FromInt(0)
		if len(args) > 0 {
			b = args[0]
		}
		if hit, v, err := undefinedArithGuard(rc, in, b); hit {
			return v, err
		}
		return op(in, b), nil
	}
}

func filterDividedBy(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	b := value.FromInt(0)
	if len(args) > 0 {
		b = args[0]
	}
	if hit, v, err := undefinedArithGuard(rc, in, b); hit {
		return v, err
	}
	v, ok := value.DivResult(in, b)
	if !ok {
		return value.Undefined(), &Error{Kind: ErrFilter, Message: "divided_by: division by zero"}
	}
	return v, nil
}

func filterModulo(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	b := value.FromInt(0)
	if len(args) > 0 {
		b = args[0]
	}
	if hit, v, err := undefinedArithGuard(rc, in, b); hit {
		return v, err
	}
	v, ok := value.Mod(in, b)
	if !ok {
		return value.Undefined(), &Error{Kind: ErrFilter, Message: "modulo: division by zero"}
	}
	return v, nil
}

func filterAtLeast(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	b := value.FromInt(0)
	if len(args) > 0 {
		b = args[0]
	}
	if hit, v, err := undefinedArithGuard(rc, in, b); hit {
		return v, err
	}
	if res, ok := value.Compare(value.CoerceNumber(in), value.CoerceNumber(b)); ok && res < 0 {
		return value.CoerceNumber(b), nil
	}
	return value.CoerceNumber(in), nil
}

func filterAtMost(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	b := value.FromInt(0)
	if len(args) > 0 {
		b = args[0]
	}
	if hit, v, err := undefinedArithGuard(rc, in, b); hit {
		return v, err
	}
	if res, ok := value.Compare(value.CoerceNumber(in), value.CoerceNumber(b)); ok && res > 0 {
		return value.CoerceNumber(b), nil
	}
	return value.CoerceNumber(in), nil
}

func filterJoin(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	sep := " "
	if len(args) > 0 {
		sep = args[0].String()
	}
	items := in.Iter()
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return value.FromString(strings.Join(parts, sep)), nil
}

func filterFirst(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	v, _ := in.GetMember("first")
	return v, nil
}

func filterLast(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	v, _ := in.GetMember("last")
	return v, nil
}

func filterSize(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	n, ok := in.Len()
	if !ok {
		return value.FromInt(0), nil
	}
	return value.FromInt(int64(n)), nil
}

func filterReverse(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	items := in.Iter()
	out := make([]value.Value, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return value.FromSlice(out), nil
}

func sortKeyFor(v value.Value, prop string) value.Value {
	if prop == "" {
		return v
	}
	mv, ok := v.GetMember(prop)
	if !ok {
		return value.Nil()
	}
	return mv
}

func filterSort(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	prop := argStr(args, 0)
	items := append([]value.Value(nil), in.Iter()...)
	sort.SliceStable(items, func(i, j int) bool {
		res, ok := value.Compare(sortKeyFor(items[i], prop), sortKeyFor(items[j], prop))
		return ok && res < 0
	})
	return value.FromSlice(items), nil
}

func filterSortNatural(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	prop := argStr(args, 0)
	items := append([]value.Value(nil), in.Iter()...)
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(sortKeyFor(items[i], prop).String()) < strings.ToLower(sortKeyFor(items[j], prop).String())
	})
	return value.FromSlice(items), nil
}

func filterUniq(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	prop := argStr(args, 0)
	items := in.Iter()
	var out []value.Value
	var seen []value.Value
	for _, it := range items {
		key := sortKeyFor(it, prop)
		dup := false
		for _, s := range seen {
			if value.Equal(s, key) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, key)
			out = append(out, it)
		}
	}
	return value.FromSlice(out), nil
}

func filterCompact(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	prop := argStr(args, 0)
	items := in.Iter()
	var out []value.Value
	for _, it := range items {
		probe := it
		if prop != "" {
			probe = sortKeyFor(it, prop)
		}
		if !probe.IsNil() && !probe.IsUndefined() {
			out = append(out, it)
		}
	}
	return value.FromSlice(out), nil
}

func filterMap(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	prop := argStr(args, 0)
	items := in.Iter()
	out := make([]value.Value, len(items))
	for i, it := range items {
		v, _ := it.GetMember(prop)
		out[i] = v
	}
	return value.FromSlice(out), nil
}

func filterWhere(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	prop := argStr(args, 0)
	hasTarget := len(args) > 1
	var target value.Value
	if hasTarget {
		target = args[1]
	}
	items := in.Iter()
	var out []value.Value
	for _, it := range items {
		v, ok := it.GetMember(prop)
		if !ok {
			continue
		}
		if hasTarget {
			if value.Equal(v, target) {
				out = append(out, it)
			}
		} else if v.IsTrue() {
			out = append(out, it)
		}
	}
	return value.FromSlice(out), nil
}

func filterConcat(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	out := append([]value.Value(nil), in.Iter()...)
	if len(args) > 0 {
		out = append(out, args[0].Iter()...)
	}
	return value.FromSlice(out), nil
}

func filterSum(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	prop := argStr(args, 0)
	total := value.FromInt(0)
	for _, it := range in.Iter() {
		v := it
		if prop != "" {
			v, _ = it.GetMember(prop)
		}
		total = value.Add(total, v)
	}
	return total, nil
}

func filterDefault(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	allowFalse := false
	if v, ok := kw["allow_false"]; ok {
		allowFalse = v.IsTrue()
	}
	falsy := in.IsNil() || in.IsUndefined() || value.EqualsEmpty(in)
	if !allowFalse {
		if b, ok := in.AsBool(); ok && !b {
			falsy = true
		}
	}
	if falsy && len(args) > 0 {
		return args[0], nil
	}
	return in, nil
}

// filterDate implements strftime-style formatting for the `date`
// filter. Unparsable input passes through untouched.
func filterDate(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
	t, ok := parseDateValue(in)
	if !ok {
		return value.FromString(in.String()), nil
	}
	s, err := tuesday.Strftime(argStr(args, 0), t)
	if err != nil {
		return value.Undefined(), &Error{Kind: ErrFilter, Message: "date: " + err.Error()}
	}
	return value.FromString(s), nil
}

func parseDateValue(v value.Value) (time.Time, bool) {
	s := v.String()
	if s == "now" || s == "today" {
		return time.Now(), true
	}
	if i, ok := v.AsInt(); ok {
		return time.Unix(i, 0), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

package liquid

import (
	"context"
	"strings"
	"testing"

	"github.com/liquidgo/liquid/lexer"
	"github.com/liquidgo/liquid/parser"
	"github.com/liquidgo/liquid/value"
)

func render(t *testing.T, env *Environment, src string, vars map[string]any) string {
	t.Helper()
	tmpl, err := env.ParseTemplate("t", src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := tmpl.Render(vars)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	return out
}

// Scenario A: plain output and variable interpolation.
func TestRenderOutput(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "Hello, {{ name }}!", map[string]any{"name": "World"})
	if got != "Hello, World!" {
		t.Errorf("got %q", got)
	}
}

// Scenario B: if/else control flow, with truthiness rules (only nil/false
// are falsy; 0 and "" are truthy).
func TestRenderIfTruthiness(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% if zero %}yes{% else %}no{% endif %}", map[string]any{"zero": 0})
	if got != "yes" {
		t.Errorf("0 should be truthy, got %q", got)
	}
	got = render(t, env, "{% if empty_str %}yes{% else %}no{% endif %}", map[string]any{"empty_str": ""})
	if got != "yes" {
		t.Errorf(`"" should be truthy, got %q`, got)
	}
	got = render(t, env, "{% if missing %}yes{% else %}no{% endif %}", map[string]any{})
	if got != "no" {
		t.Errorf("undefined should be falsy under lenient mode, got %q", got)
	}
}

// Scenario C: for loop with forloop metadata, break/continue.
func TestRenderForLoop(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for i in items %}{{ forloop.index }}:{{ i }}{% unless forloop.last %},{% endunless %}{% endfor %}",
		map[string]any{"items": []any{"a", "b", "c"}})
	if got != "1:a,2:b,3:c" {
		t.Errorf("got %q", got)
	}
}

func TestRenderForBreakContinue(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for i in (1..5) %}{% if i == 3 %}{% break %}{% endif %}{{ i }}{% endfor %}", nil)
	if got != "12" {
		t.Errorf("break: got %q", got)
	}
	got = render(t, env, "{% for i in (1..5) %}{% if i == 3 %}{% continue %}{% endif %}{{ i }}{% endfor %}", nil)
	if got != "1245" {
		t.Errorf("continue: got %q", got)
	}
}

// Scenario D: filters, including chained filters.
func TestRenderFilters(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, `{{ "hello" | upcase | append: "!" }}`, nil)
	if got != "HELLO!" {
		t.Errorf("got %q", got)
	}
}

// Scenario E: assign/capture.
func TestRenderAssignCapture(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% assign x = 5 %}{{ x }}{% capture y %}abc{% endcapture %}{{ y | upcase }}", nil)
	if got != "5ABC" {
		t.Errorf("got %q", got)
	}
}

// Scenario F: include/render semantics — shared vs isolated locals.
func TestRenderIncludeSharesLocals(t *testing.T) {
	env := NewEnvironment()
	loader := NewMapLoader(map[string]string{
		"partial": "{{ shared }}",
	})
	env.SetLoader(loader)
	got := render(t, env, "{% assign shared = \"visible\" %}{% include 'partial' %}", nil)
	if got != "visible" {
		t.Errorf("include should see caller locals, got %q", got)
	}
}

func TestRenderRenderIsolatesLocals(t *testing.T) {
	env := NewEnvironment()
	loader := NewMapLoader(map[string]string{
		"partial": "{% if shared %}visible{% else %}hidden{% endif %}",
	})
	env.SetLoader(loader)
	got := render(t, env, "{% assign shared = \"x\" %}{% render 'partial' %}", nil)
	if got != "hidden" {
		t.Errorf("render should isolate locals, got %q", got)
	}
}

func TestRenderRenderDisablesInclude(t *testing.T) {
	env := NewEnvironment()
	loader := NewMapLoader(map[string]string{
		"outer": "{% include 'inner' %}",
		"inner": "x",
	})
	env.SetLoader(loader)
	_, err := env.ParseTemplate("t", "{% render 'outer' %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	tmpl, _ := env.ParseTemplate("t", "{% render 'outer' %}")
	_, err = tmpl.Render(nil)
	if err == nil {
		t.Fatal("expected error: include disabled inside render")
	}
}

// Undefined protocol: four variants.
func TestUndefinedVariants(t *testing.T) {
	env := NewEnvironment()
	env.SetUndefinedBehavior(value.Strict)
	tmpl, err := env.ParseTemplate("t", "{{ missing }}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = tmpl.Render(nil)
	if err == nil {
		t.Fatal("strict undefined print should error")
	}
}

// Resource limits: loop iteration cap.
func TestLoopIterationLimit(t *testing.T) {
	env := NewEnvironment()
	n := uint64(3)
	env.SetLoopIterationLimit(&n)
	tmpl, err := env.ParseTemplate("t", "{% for i in (1..10) %}{{ i }}{% endfor %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = tmpl.Render(nil)
	if err == nil {
		t.Fatal("expected loop iteration limit error")
	}
}

// Resource limits: output stream cap, partial-prefix property.
func TestOutputStreamLimit(t *testing.T) {
	env := NewEnvironment()
	n := uint64(5)
	env.SetOutputStreamLimit(&n)
	tmpl, err := env.ParseTemplate("t", "hello world")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := tmpl.Render(nil)
	if err == nil {
		t.Fatal("expected output stream limit error")
	}
	if out != "hello" {
		t.Errorf("expected fitting prefix 'hello', got %q", out)
	}
}

// Resource limits: context depth (include/render nesting).
func TestContextDepthLimit(t *testing.T) {
	env := NewEnvironment()
	env.SetContextDepthLimit(2)
	loader := NewMapLoader(map[string]string{
		"a": "{% include 'a' %}",
	})
	env.SetLoader(loader)
	tmpl, err := env.ParseTemplate("t", "{% include 'a' %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = tmpl.Render(nil)
	if err == nil {
		t.Fatal("expected context depth limit error")
	}
}

// cycle group + args-key cursor behavior.
func TestCycle(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, strings.Repeat("{% cycle 'a', 'b', 'c' %}", 4), nil)
	if got != "abca" {
		t.Errorf("got %q", got)
	}
}

// ifchanged.
func TestIfChanged(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for i in (1..3) %}{% ifchanged %}{{ i | modulo: 2 }}{% endifchanged %}{% endfor %}", nil)
	if got != "101" {
		t.Errorf("got %q", got)
	}
}

// for ... offset: continue.
func TestForOffsetContinue(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for i in (1..6) limit: 2 %}{{ i }}{% endfor %}|{% for i in (1..6) offset: continue limit: 2 %}{{ i }}{% endfor %}", nil)
	if got != "12|34" {
		t.Errorf("got %q", got)
	}
}

// Context propagation / cancellation.
func TestRenderContextCancellation(t *testing.T) {
	env := NewEnvironment()
	tmpl, err := env.ParseTemplate("t", "{% for i in (1..1000000) %}{{ i }}{% endfor %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tmpl.RenderContext(ctx, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

// Whitespace control.
func TestWhitespaceControl(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "  {%- if true -%}  yes  {%- endif -%}  ", nil)
	if got != "yes" {
		t.Errorf("got %q", got)
	}
}

// liquid tag: line-oriented sub-grammar.
func TestLiquidTag(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% liquid\nassign x = 1\necho x\n%}", nil)
	if got != "1" {
		t.Errorf("got %q", got)
	}
}

// tablerow.
func TestTableRow(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% tablerow i in (1..4) cols:2 %}{{ i }}{% endtablerow %}", nil)
	if !strings.Contains(got, "<tr") || !strings.Contains(got, "<td") {
		t.Errorf("expected tablerow markup, got %q", got)
	}
}

// Plain strings are escaped under auto-escape, but the `safe` filter
// wraps its input as unescaped markup.
func TestAutoEscape(t *testing.T) {
	env := NewEnvironment()
	env.SetAutoEscape(true)

	got := render(t, env, "{{ markup }}", map[string]any{"markup": "<b>hi</b>"})
	if got != "&lt;b&gt;hi&lt;/b&gt;" {
		t.Errorf("expected escaped output, got %q", got)
	}

	got = render(t, env, "{{ markup | safe }}", map[string]any{"markup": "<b>hi</b>"})
	if got != "<b>hi</b>" {
		t.Errorf("expected safe filter to bypass escaping, got %q", got)
	}

	got = render(t, env, "{{ 'raw' | escape }}", nil)
	if got != "raw" {
		t.Errorf("got %q", got)
	}
}

// `and`/`or` share one precedence level and associate right-to-left.
func TestBooleanRightAssociativity(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{{ true and false and false or true }}", nil)
	if got != "false" {
		t.Errorf("got %q, want %q", got, "false")
	}
}

func TestContainsOperator(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, `{% if "hello" contains "ell" %}y{% else %}n{% endif %}`, nil)
	if got != "y" {
		t.Errorf("substring: got %q", got)
	}
	got = render(t, env, `{% if tags contains "go" %}y{% else %}n{% endif %}`,
		map[string]any{"tags": []any{"go", "liquid"}})
	if got != "y" {
		t.Errorf("membership: got %q", got)
	}
}

func TestEmptyBlankSentinels(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% if things == empty %}none{% endif %}", map[string]any{"things": []any{}})
	if got != "none" {
		t.Errorf("empty: got %q", got)
	}
	got = render(t, env, "{% if note == blank %}blank{% endif %}", map[string]any{"note": "   "})
	if got != "blank" {
		t.Errorf("blank: got %q", got)
	}
}

// Cursors are keyed by group name plus the argument tuple, so the same
// group with different arguments advances independently.
func TestCycleDistinctCursors(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% cycle 'g': 'a', 'b' %}{% cycle 'g': '1', '2' %}{% cycle 'g': 'a', 'b' %}", nil)
	if got != "a1b" {
		t.Errorf("got %q, want %q", got, "a1b")
	}
}

// Assigns made inside an included partial persist in the caller; the
// keyword arguments bound for the partial do not.
func TestIncludeAssignLeaksKeywordsDoNot(t *testing.T) {
	env := NewEnvironment()
	env.SetLoader(NewMapLoader(map[string]string{
		"partial": "{% assign leaked = 'yes' %}[{{ k }}]",
	}))
	got := render(t, env, "{% include 'partial', k: 'v' %}{{ leaked }}{{ k }}", nil)
	if got != "[v]yes" {
		t.Errorf("got %q, want %q", got, "[v]yes")
	}
}

func TestRenderWithAs(t *testing.T) {
	env := NewEnvironment()
	env.SetLoader(NewMapLoader(map[string]string{
		"card": "{{ u.name }}",
	}))
	got := render(t, env, "{% render 'card' with user as u %}",
		map[string]any{"user": map[string]any{"name": "Sue"}})
	if got != "Sue" {
		t.Errorf("got %q", got)
	}
}

func TestIncludeForIteratesPartial(t *testing.T) {
	env := NewEnvironment()
	env.SetLoader(NewMapLoader(map[string]string{
		"item": "({{ item }})",
	}))
	got := render(t, env, "{% include 'item' for things %}",
		map[string]any{"things": []any{1, 2, 3}})
	if got != "(1)(2)(3)" {
		t.Errorf("got %q", got)
	}
}

func TestWarnToleranceCollectsAndContinues(t *testing.T) {
	env := NewEnvironment()
	env.SetTolerance(parser.Warn)
	tmpl, err := env.ParseTemplate("t", "{% bogus %}ok")
	if err != nil {
		t.Fatalf("warn tolerance should not abort: %v", err)
	}
	if len(tmpl.ParseWarnings()) != 1 {
		t.Fatalf("expected 1 recovered error, got %d", len(tmpl.ParseWarnings()))
	}
	out, err := tmpl.Render(nil)
	if err != nil || out != "ok" {
		t.Errorf("got %q, %v", out, err)
	}
}

func TestStrictToleranceAbortsParse(t *testing.T) {
	env := NewEnvironment()
	env.SetTolerance(parser.Strict)
	_, err := env.ParseTemplate("t", "{% bogus %}ok")
	if err == nil {
		t.Fatal("strict tolerance should abort on unknown tag")
	}
}

func TestDebugUndefinedPrintsPath(t *testing.T) {
	env := NewEnvironment()
	env.SetUndefinedBehavior(value.Debug)
	got := render(t, env, "{{ missing.name }}", nil)
	if got != "{{ undefined value missing.name }}" {
		t.Errorf("got %q", got)
	}
}

func TestFalsyStrictUndefined(t *testing.T) {
	env := NewEnvironment()
	env.SetUndefinedBehavior(value.FalsyStrict)
	got := render(t, env, "{% if missing %}a{% else %}b{% endif %}", nil)
	if got != "b" {
		t.Errorf("boolean position should be falsy, got %q", got)
	}
	got = render(t, env, "{% for x in missing %}{{ x }}{% else %}none{% endfor %}", nil)
	if got != "none" {
		t.Errorf("iterating undefined should yield zero elements, got %q", got)
	}
	tmpl, err := env.ParseTemplate("t", "{{ missing }}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := tmpl.Render(nil); err == nil {
		t.Fatal("printing should raise outside boolean position")
	}
}

func TestNestedLoopParentloop(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for i in (1..2) %}{% for j in (1..2) %}{{ forloop.parentloop.index }}{% endfor %}{% endfor %}", nil)
	if got != "1122" {
		t.Errorf("got %q", got)
	}
}

// Every matching branch of a case renders; else only when none did.
func TestCaseMultipleMatches(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% case 2 %}{% when 1, 2 %}a{% when 2 %}b{% else %}c{% endcase %}", nil)
	if got != "ab" {
		t.Errorf("got %q, want %q", got, "ab")
	}
	got = render(t, env, "{% case 9 %}{% when 1 %}a{% else %}c{% endcase %}", nil)
	if got != "c" {
		t.Errorf("got %q, want %q", got, "c")
	}
}

func TestRawAndComment(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% raw %}{{ not evaluated }}{% endraw %}", nil)
	if got != "{{ not evaluated }}" {
		t.Errorf("raw: got %q", got)
	}
	got = render(t, env, "a{% comment %}hidden {{ x }}{% endcomment %}b", nil)
	if got != "ab" {
		t.Errorf("comment: got %q", got)
	}
}

func TestEchoWithFilters(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, `{% echo "hi" | upcase %}`, nil)
	if got != "HI" {
		t.Errorf("got %q", got)
	}
}

func TestIncrementDecrement(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% increment n %}{% increment n %}{% decrement m %}{% decrement m %}", nil)
	if got != "01-1-2" {
		t.Errorf("got %q", got)
	}
	// Counters live apart from assigned locals of the same name.
	got = render(t, env, "{% assign n = 10 %}{% increment n %}{{ n }}", nil)
	if got != "010" {
		t.Errorf("counter/local separation: got %q", got)
	}
}

func TestForElseBranch(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for x in things %}{{ x }}{% else %}nothing{% endfor %}",
		map[string]any{"things": []any{}})
	if got != "nothing" {
		t.Errorf("got %q", got)
	}
}

func TestForReversedAndSlicing(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for i in (1..5) offset: 1 limit: 3 reversed %}{{ i }}{% endfor %}", nil)
	if got != "432" {
		t.Errorf("got %q", got)
	}
}

func TestMappingIterationYieldsPairs(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "{% for pair in m %}{{ pair[0] }}={{ pair[1] }};{% endfor %}",
		map[string]any{"m": map[string]any{"a": 1, "b": 2}})
	if got != "a=1;b=2;" {
		t.Errorf("got %q", got)
	}
}

func TestCustomDelimiters(t *testing.T) {
	env := NewEnvironment()
	cfg := lexer.DefaultSyntaxConfig()
	cfg.StatementStart = "[["
	cfg.StatementEnd = "]]"
	env.SetDelimiters(cfg)
	got := render(t, env, "Hello, [[ name ]]! {{ ignored }}", map[string]any{"name": "World"})
	if got != "Hello, World! {{ ignored }}" {
		t.Errorf("got %q", got)
	}
}

func TestTemplateComments(t *testing.T) {
	env := NewEnvironment()
	cfg := lexer.DefaultSyntaxConfig()
	cfg.EnableComments = true
	env.SetDelimiters(cfg)
	got := render(t, env, "a{# not shown #}b", nil)
	if got != "ab" {
		t.Errorf("got %q", got)
	}
}

func TestLocalNamespaceLimit(t *testing.T) {
	env := NewEnvironment()
	n := uint64(64)
	env.SetLocalNamespaceLimit(&n)
	tmpl, err := env.ParseTemplate("t", "{% capture big %}{% for i in (1..50) %}xxxxxxxx{% endfor %}{% endcapture %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := tmpl.Render(nil); err == nil {
		t.Fatal("expected local namespace limit error")
	}
}

func TestDropMemberAccess(t *testing.T) {
	env := NewEnvironment()
	drop := value.NewMapDrop(map[string]value.Value{
		"name": value.FromString("widget"),
	})
	got := render(t, env, "{{ product.name }}/{{ product.missing }}",
		map[string]any{"product": drop})
	if got != "widget/" {
		t.Errorf("got %q", got)
	}
}

// Conditional/loop blocks whose output is only whitespace are dropped
// unless the environment opts in to keeping them.
func TestWhitespaceOnlyBlockSuppression(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, "a{% if true %}   {% endif %}b", nil)
	if got != "ab" {
		t.Errorf("suppressed: got %q", got)
	}
	env.SetRenderWhitespaceOnlyBlocks(true)
	got = render(t, env, "a{% if true %}   {% endif %}b", nil)
	if got != "a   b" {
		t.Errorf("kept: got %q", got)
	}
}

func TestExpressionCacheReuse(t *testing.T) {
	env := NewEnvironment()
	env.SetExpressionCacheSize(16)
	for i := 0; i < 3; i++ {
		got := render(t, env, "{{ user.name | upcase }}",
			map[string]any{"user": map[string]any{"name": "sue"}})
		if got != "SUE" {
			t.Fatalf("got %q", got)
		}
	}
}

func TestTableRowUndefinedIterable(t *testing.T) {
	env := NewEnvironment()
	env.SetUndefinedBehavior(value.Strict)
	tmpl, err := env.ParseTemplate("t", "{% tablerow i in missing %}{{ i }}{% endtablerow %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := tmpl.Render(nil); err == nil {
		t.Fatal("strict undefined iterable should raise in tablerow too")
	}
}

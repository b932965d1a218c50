package liquid

import (
	"strings"
	"testing"

	"github.com/liquidgo/liquid/value"
)

// Most filters are exercised end-to-end through a template, since that
// is the only surface they have: input coercion, argument parsing, and
// stringification all participate.
func TestStringFilters(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"append", `{{ "a" | append: "b" }}`, "ab"},
		{"prepend", `{{ "b" | prepend: "a" }}`, "ab"},
		{"capitalize", `{{ "hello WORLD" | capitalize }}`, "Hello world"},
		{"downcase", `{{ "HI" | downcase }}`, "hi"},
		{"upcase", `{{ "hi" | upcase }}`, "HI"},
		{"strip", `{{ "  x  " | strip }}`, "x"},
		{"lstrip", `{{ "  x  " | lstrip }}`, "x  "},
		{"rstrip", `{{ "  x  " | rstrip }}`, "  x"},
		{"replace", `{{ "a-a" | replace: "a", "b" }}`, "b-b"},
		{"replace_first", `{{ "a-a" | replace_first: "a", "b" }}`, "b-a"},
		{"replace_last", `{{ "a-a" | replace_last: "a", "b" }}`, "a-b"},
		{"remove", `{{ "a-a" | remove: "a" }}`, "-"},
		{"remove_first", `{{ "a-a" | remove_first: "a" }}`, "-a"},
		{"remove_last", `{{ "a-a" | remove_last: "a" }}`, "a-"},
		{"split and join", `{{ "a,b,c" | split: "," | join: "-" }}`, "a-b-c"},
		{"truncate", `{{ "Ground control to Major Tom." | truncate: 20 }}`, "Ground control to..."},
		{"truncate custom ellipsis", `{{ "Ground control" | truncate: 12, "--" }}`, "Ground con--"},
		{"truncatewords", `{{ "one two three four" | truncatewords: 2 }}`, "one two..."},
		{"slice string", `{{ "Liquid" | slice: 2, 3 }}`, "qui"},
		{"slice negative", `{{ "Liquid" | slice: -3, 2 }}`, "ui"},
		{"strip_html", `{{ "<p>hi <b>there</b></p>" | strip_html }}`, "hi there"},
		{"strip_newlines", "{{ body | strip_newlines }}", "ab"},
		{"newline_to_br", "{{ body | newline_to_br }}", "a<br />\nb"},
		{"url_encode", `{{ "a b&c" | url_encode }}`, "a+b%26c"},
		{"url_decode", `{{ "a+b%26c" | url_decode }}`, "a b&c"},
		{"base64_encode", `{{ "hi" | base64_encode }}`, "aGk="},
		{"base64_decode", `{{ "aGk=" | base64_decode }}`, "hi"},
		{"escape", `{{ "<a>" | escape }}`, "&lt;a&gt;"},
		{"escape_once", `{{ "&lt;a&gt; <b>" | escape_once }}`, "&lt;a&gt; &lt;b&gt;"},
		{"stringified number input", `{{ 42 | append: "!" }}`, "42!"},
	}
	env := NewEnvironment()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, env, tt.src, map[string]any{"body": "a\nb"})
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNumericFilters(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"abs negative", `{{ -5 | abs }}`, "5"},
		{"abs float", `{{ -1.5 | abs }}`, "1.5"},
		{"ceil", `{{ 1.2 | ceil }}`, "2"},
		{"floor", `{{ 1.8 | floor }}`, "1"},
		{"round", `{{ 2.5 | round }}`, "3"},
		{"round digits", `{{ 1.2345 | round: 2 }}`, "1.23"},
		{"plus", `{{ 1 | plus: 2 }}`, "3"},
		{"minus", `{{ 5 | minus: 2 }}`, "3"},
		{"times", `{{ 3 | times: 4 }}`, "12"},
		{"divided_by int truncates", `{{ 7 | divided_by: 2 }}`, "3"},
		{"divided_by float", `{{ 7.0 | divided_by: 2 }}`, "3.5"},
		{"modulo", `{{ 7 | modulo: 3 }}`, "1"},
		{"at_least", `{{ 4 | at_least: 5 }}`, "5"},
		{"at_most", `{{ 4 | at_most: 3 }}`, "3"},
		{"string parses as number", `{{ "3" | plus: 2 }}`, "5"},
		{"unparsable string is zero", `{{ "10,000.23" | plus: 1 }}`, "1"},
	}
	env := NewEnvironment()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, env, tt.src, nil)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDividedByZeroRaises(t *testing.T) {
	env := NewEnvironment()
	tmpl, err := env.ParseTemplate("t", `{{ 5 | divided_by: 0 }}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = tmpl.Render(nil)
	if err == nil {
		t.Fatal("expected division-by-zero filter error")
	}
	le, ok := err.(*Error)
	if !ok || le.Kind != ErrFilter {
		t.Errorf("expected ErrFilter, got %v", err)
	}
}

func TestArrayFilters(t *testing.T) {
	vars := map[string]any{
		"nums":  []any{3, 1, 2},
		"words": []any{"b", "A", "c"},
		"dups":  []any{1, 1, 2, 3, 3},
		"holes": []any{1, nil, 2, nil},
		"pages": []any{
			map[string]any{"title": "intro", "draft": false, "weight": 2},
			map[string]any{"title": "setup", "draft": true, "weight": 1},
			map[string]any{"title": "usage", "draft": true, "weight": 3},
		},
	}
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"first", `{{ nums | first }}`, "3"},
		{"last", `{{ nums | last }}`, "2"},
		{"size", `{{ nums | size }}`, "3"},
		{"size member", `{{ nums.size }}`, "3"},
		{"reverse", `{{ nums | reverse | join: "" }}`, "213"},
		{"sort", `{{ nums | sort | join: "" }}`, "123"},
		{"sort by key", `{{ pages | sort: "weight" | map: "title" | join: "," }}`, "setup,intro,usage"},
		{"sort_natural", `{{ words | sort_natural | join: "" }}`, "Abc"},
		{"uniq", `{{ dups | uniq | join: "" }}`, "123"},
		{"compact", `{{ holes | compact | join: "" }}`, "12"},
		{"map", `{{ pages | map: "title" | join: "," }}`, "intro,setup,usage"},
		{"where value", `{{ pages | where: "weight", 1 | map: "title" }}`, "setup"},
		{"where truthy", `{{ pages | where: "draft" | map: "title" | join: "," }}`, "setup,usage"},
		{"concat", `{{ nums | concat: dups | size }}`, "8"},
		{"sum", `{{ nums | sum }}`, "6"},
		{"sum by key", `{{ pages | sum: "weight" }}`, "6"},
		{"join default separator", `{{ nums | join }}`, "3 1 2"},
	}
	env := NewEnvironment()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, env, tt.src, vars)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultFilter(t *testing.T) {
	env := NewEnvironment()
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"nil triggers", `{{ nil | default: "x" }}`, "x"},
		{"undefined triggers", `{{ missing | default: "x" }}`, "x"},
		{"empty string triggers", `{{ "" | default: "x" }}`, "x"},
		{"false triggers", `{{ false | default: "x" }}`, "x"},
		{"false kept with allow_false", `{{ false | default: "x", allow_false: true }}`, "false"},
		{"value passes through", `{{ "y" | default: "x" }}`, "y"},
		{"zero passes through", `{{ 0 | default: "x" }}`, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, env, tt.src, nil)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDateFilter(t *testing.T) {
	env := NewEnvironment()
	got := render(t, env, `{{ "2016-03-14" | date: "%d %b %Y" }}`, nil)
	if got != "14 Mar 2016" {
		t.Errorf("got %q", got)
	}
	got = render(t, env, `{{ "2016-03-14 15:04:05" | date: "%H:%M" }}`, nil)
	if got != "15:04" {
		t.Errorf("got %q", got)
	}
	// "now" formats the current clock; just check the century.
	got = render(t, env, `{{ "now" | date: "%Y" }}`, nil)
	if !strings.HasPrefix(got, "20") {
		t.Errorf("expected a current year, got %q", got)
	}
	// Unparsable input passes through untouched.
	got = render(t, env, `{{ "not a date" | date: "%Y" }}`, nil)
	if got != "not a date" {
		t.Errorf("got %q", got)
	}
}

func TestUnknownFilter(t *testing.T) {
	env := NewEnvironment()
	// Default: unknown filters behave as identity.
	got := render(t, env, `{{ "x" | nope }}`, nil)
	if got != "x" {
		t.Errorf("got %q", got)
	}

	env.SetStrictFilters(true)
	tmpl, err := env.ParseTemplate("t", `{{ "x" | nope }}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = tmpl.Render(nil)
	if err == nil {
		t.Fatal("expected unknown-filter error under strict filters")
	}
}

func TestCustomFilter(t *testing.T) {
	env := NewEnvironment()
	env.AddFilter("shout", func(rc *RenderContext, in value.Value, args []value.Value, kw map[string]value.Value) (value.Value, error) {
		return value.FromString(strings.ToUpper(in.String()) + "!"), nil
	})
	got := render(t, env, `{{ "hey" | shout }}`, nil)
	if got != "HEY!" {
		t.Errorf("got %q", got)
	}
}

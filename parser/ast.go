// Package parser turns the lexer's token stream into an AST: text
// literals, one node variant per tag, and the filtered/boolean/loop
// expression sub-grammars each tag reparses from its own raw Expression
// text.
package parser

import "github.com/liquidgo/liquid/syntax"

// Node is a template AST node. Every node carries a source position.
type Node interface {
	Span() syntax.Span
	node()
}

type base struct{ span syntax.Span }

func (b base) Span() syntax.Span { return b.span }
func (base) node()               {}

// TextLiteral is a run of literal template bytes.
type TextLiteral struct {
	base
	Text string
}

// Output is a `{{ expr }}` statement.
type Output struct {
	base
	Expr *FilteredExpression
}

// IfBranch is one `if`/`elsif` arm.
type IfBranch struct {
	Cond Expr
	Body []Node
}

// IfNode is `{% if %}...{% elsif %}...{% else %}...{% endif %}`.
type IfNode struct {
	base
	Branches []IfBranch
	Else     []Node
}

// UnlessNode is `{% unless %}...{% else %}...{% endunless %}`.
type UnlessNode struct {
	base
	Cond Expr
	Body []Node
	Else []Node
}

// WhenBranch is one `when` arm of a `case`; Values holds the (possibly
// comma-separated) candidate values that branch matches.
type WhenBranch struct {
	Values []Expr
	Body   []Node
}

// CaseNode is `{% case %}...{% when %}...{% else %}...{% endcase %}`.
type CaseNode struct {
	base
	Subject Expr
	Whens   []WhenBranch
	Else    []Node
}

// ForNode is `{% for %}...{% else %}...{% endfor %}`.
type ForNode struct {
	base
	Loop LoopExpression
	Body []Node
	Else []Node
}

// TableRowNode is `{% tablerow %}...{% endtablerow %}`.
type TableRowNode struct {
	base
	Loop LoopExpression
	Body []Node
}

// CaptureNode is `{% capture name %}...{% endcapture %}`.
type CaptureNode struct {
	base
	Name string
	Body []Node
}

// AssignNode is `{% assign name = expr %}`.
type AssignNode struct {
	base
	Name  string
	Value *FilteredExpression
}

// IncrementNode is `{% increment name %}`.
type IncrementNode struct {
	base
	Name string
}

// DecrementNode is `{% decrement name %}`.
type DecrementNode struct {
	base
	Name string
}

// CycleNode is `{% cycle [group:] a, b, c %}`.
type CycleNode struct {
	base
	Group *string
	Args  []Expr
}

// KeywordArg is a `key: value` pair used by `include`/`render`.
type KeywordArg struct {
	Name  string
	Value Expr
}

// IncludeNode is `{% include 'name' (with|for) expr as id, k: v %}`.
type IncludeNode struct {
	base
	Name     Expr
	With     Expr
	ForLoop  bool
	As       string
	Keywords []KeywordArg
}

// RenderNode is `{% render 'name' (with|for) expr as id, k: v %}`.
type RenderNode struct {
	base
	Name     Expr
	With     Expr
	ForLoop  bool
	As       string
	Keywords []KeywordArg
}

// RawNode is `{% raw %}...{% endraw %}`; Text renders literally.
type RawNode struct {
	base
	Text string
}

// CommentNode is `{% comment %}...{% endcomment %}`; it renders nothing.
type CommentNode struct {
	base
}

// EchoNode is `{% echo expr %}`, equivalent to `{{ expr }}`.
type EchoNode struct {
	base
	Expr *FilteredExpression
}

// LiquidNode is `{% liquid ... %}`, a sequence of line-oriented tags.
type LiquidNode struct {
	base
	Body []Node
}

// IfChangedNode is `{% ifchanged %}...{% endifchanged %}`.
type IfChangedNode struct {
	base
	Body []Node
}

// BreakNode is `{% break %}`.
type BreakNode struct{ base }

// ContinueNode is `{% continue %}`.
type ContinueNode struct{ base }

// --- expressions ---

// Expr is an expression AST node.
type Expr interface {
	Span() syntax.Span
	expr()
}

type exprBase struct{ span syntax.Span }

func (b exprBase) Span() syntax.Span { return b.span }
func (exprBase) expr()               {}

// LiteralKind distinguishes the sentinel literals from ordinary values.
type LiteralKind int

const (
	LitPlain LiteralKind = iota
	LitEmpty
	LitBlank
)

// Literal is a literal int/float/string/bool/nil, or the `empty`/
// `blank` sentinels.
type Literal struct {
	exprBase
	Kind LiteralKind
	// Int, Float, Str, Bool are populated according to which scalar this
	// literal holds; IsNil marks the nil/null literal.
	IsInt   bool
	Int     int64
	IsFloat bool
	Float   float64
	IsStr   bool
	Str     string
	IsBool  bool
	Bool    bool
	IsNil   bool
}

// Segment is one step of a Path: a name, a positional index, or a
// dynamically-evaluated key.
type Segment struct {
	Name    string
	HasName bool
	Index   int64
	HasIdx  bool
	Dynamic Expr
}

// Path is an ordered list of Segments; the first is always a Name and
// resolves against locals-then-globals.
type Path struct {
	exprBase
	Segments []Segment
}

// RangeLiteral is `(start..stop)`, materialized lazily at eval time.
type RangeLiteral struct {
	exprBase
	Start, Stop Expr
}

// Filter is one `| name: args` step of a FilteredExpression.
type Filter struct {
	Name      string
	Span      syntax.Span
	Positional []Expr
	Named      []KeywordArg
}

// FilteredExpression is `head | f1: ... | f2: ...`.
type FilteredExpression struct {
	exprBase
	Head    Expr
	Filters []Filter
}

// BoolOp identifies a boolean/comparison operator.
type BoolOp int

const (
	OpAnd BoolOp = iota
	OpOr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpContains
)

// BooleanExpression is a right-associative binary boolean/comparison
// node: `a op b`, where b may itself be a BooleanExpression, so
// `a op1 b op2 c` parses as `a op1 (b op2 c)`.
type BooleanExpression struct {
	exprBase
	Op          BoolOp
	Left, Right Expr
}

// LoopExpression is a `for`/`tablerow` loop header.
type LoopExpression struct {
	Name           string
	Iterable       Expr
	Limit          Expr
	Offset         Expr
	OffsetContinue bool
	Reversed       bool
	Cols           Expr
}

package lexer

import "github.com/liquidgo/liquid/syntax"

// TokenKind identifies a template-level token.
type TokenKind int

const (
	TextLiteral TokenKind = iota
	StatementStart
	StatementEnd
	TagStart
	TagEnd
	TagName
	Expression
	TemplateComment
	EOF
)

func (k TokenKind) String() string {
	switch k {
	case TextLiteral:
		return "text"
	case StatementStart:
		return "statement-start"
	case StatementEnd:
		return "statement-end"
	case TagStart:
		return "tag-start"
	case TagEnd:
		return "tag-end"
	case TagName:
		return "tag-name"
	case Expression:
		return "expression"
	case TemplateComment:
		return "comment"
	case EOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Token is one template-level token. Text is the exact raw source span
// the token covers, including any whitespace-control `-` marker adjacent
// to a delimiter, so concatenating every token's Text reproduces the
// source byte-for-byte.
type Token struct {
	Kind TokenKind
	Text string
	Span syntax.Span
}

// ExprTokenKind identifies an expression-layer token, produced when the
// parser reenters the lexer on the raw text of an Expression
// template-level token.
type ExprTokenKind int

const (
	ExprEOF ExprTokenKind = iota
	ExprInt
	ExprFloat
	ExprString
	ExprIdent
	ExprKeyword
	ExprDot
	ExprColon
	ExprComma
	ExprPipe
	ExprLParen
	ExprRParen
	ExprLBracket
	ExprRBracket
	ExprDotDot
	ExprEq
	ExprNe
	ExprLt
	ExprLe
	ExprGt
	ExprGe
)

var exprTokenKindNames = map[ExprTokenKind]string{
	ExprEOF:      "eof",
	ExprInt:      "integer",
	ExprFloat:    "float",
	ExprString:   "string",
	ExprIdent:    "identifier",
	ExprKeyword:  "keyword",
	ExprDot:      ".",
	ExprColon:    ":",
	ExprComma:    ",",
	ExprPipe:     "|",
	ExprLParen:   "(",
	ExprRParen:   ")",
	ExprLBracket: "[",
	ExprRBracket: "]",
	ExprDotDot:   "..",
	ExprEq:       "==",
	ExprNe:       "!=",
	ExprLt:       "<",
	ExprLe:       "<=",
	ExprGt:       ">",
	ExprGe:       ">=",
}

func (k ExprTokenKind) String() string {
	if s, ok := exprTokenKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Keywords is the expression layer's reserved-word set.
var Keywords = map[string]bool{
	"and": true, "or": true, "contains": true, "in": true, "with": true,
	"for": true, "as": true, "limit": true, "offset": true,
	"reversed": true, "empty": true, "blank": true, "nil": true,
	"null": true, "true": true, "false": true, "if": true, "else": true,
}

// ExprToken is one expression-layer token.
type ExprToken struct {
	Kind   ExprTokenKind
	Text   string
	Offset int // byte offset within the expression's raw text
}

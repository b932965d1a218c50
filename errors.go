package liquid

import (
	"fmt"

	"github.com/liquidgo/liquid/syntax"
)

// ErrorKind classifies a failure raised anywhere in the engine. Every
// *Error carries exactly one kind plus the source position it occurred
// at.
type ErrorKind int

const (
	// ErrLexer covers unterminated delimiters and unexpected bytes inside
	// an expression.
	ErrLexer ErrorKind = iota
	// ErrSyntax covers malformed expressions, unbalanced blocks, and
	// illegal tag placement.
	ErrSyntax
	// ErrType covers an operator applied to incompatible kinds while in
	// strict tolerance.
	ErrType
	// ErrUndefined covers an access forbidden by the configured undefined
	// behavior.
	ErrUndefined
	// ErrFilter covers an unknown filter (under strict filters), a bad
	// filter argument, or a bad input value.
	ErrFilter
	// ErrTemplateNotFound is raised by loaders when a name does not
	// resolve.
	ErrTemplateNotFound
	// ErrDisabledTag covers e.g. `include` used inside `render`.
	ErrDisabledTag
	// ErrContextDepth is raised when include/render nesting exceeds the
	// configured limit.
	ErrContextDepth
	// ErrLoopIterationLimit is raised when the summed loop-iteration
	// budget for a render is exceeded.
	ErrLoopIterationLimit
	// ErrLocalNamespaceLimit is raised when the running total of the
	// approximate byte sizes of values assigned to locals during a
	// render exceeds the configured cap.
	ErrLocalNamespaceLimit
	// ErrOutputStreamLimit is raised when the sink would emit more bytes
	// than the configured cap.
	ErrOutputStreamLimit
	// ErrTemplateTraversal covers an analysis visitor failing to descend
	// a node; the core does not raise this itself but reserves the kind
	// for host-side analysis tooling.
	ErrTemplateTraversal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrLexer:
		return "lexer error"
	case ErrSyntax:
		return "syntax error"
	case ErrType:
		return "type error"
	case ErrUndefined:
		return "undefined error"
	case ErrFilter:
		return "filter error"
	case ErrTemplateNotFound:
		return "template not found"
	case ErrDisabledTag:
		return "disabled tag"
	case ErrContextDepth:
		return "context depth exceeded"
	case ErrLoopIterationLimit:
		return "loop iteration limit exceeded"
	case ErrLocalNamespaceLimit:
		return "local namespace limit exceeded"
	case ErrOutputStreamLimit:
		return "output stream limit exceeded"
	case ErrTemplateTraversal:
		return "template traversal error"
	default:
		return "error"
	}
}

// Error is the engine's single error type. All errors carry the line,
// column, and template name they occurred at when known.
type Error struct {
	Kind    ErrorKind
	Message string
	Span    *syntax.Span
	Name    string
	Source  string
}

func (e *Error) Error() string {
	if e.Name != "" && e.Span != nil {
		return fmt.Sprintf("%s: %s (in %q at line %d)", e.Kind, e.Message, e.Name, e.Span.StartLine)
	}
	if e.Span != nil {
		return fmt.Sprintf("%s: %s (at line %d)", e.Kind, e.Message, e.Span.StartLine)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a new *Error. Filters and tags constructed by a host
// use this to report failures with the same taxonomy the core uses.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WithSpan attaches a source span and returns the receiver for chaining.
func (e *Error) WithSpan(span syntax.Span) *Error {
	e.Span = &span
	return e
}

// WithName attaches the owning template's name.
func (e *Error) WithName(name string) *Error {
	e.Name = name
	return e
}

// WithSource attaches the template source, used for richer diagnostics.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// Line returns the 1-based line of the error, or 0 if no span is set.
func (e *Error) Line() int {
	if e.Span == nil {
		return 0
	}
	return int(e.Span.StartLine)
}

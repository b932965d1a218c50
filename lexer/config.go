// Package lexer implements a two-layered scanner: a template-level
// scanner that segments source into text literals, delimiters, tag
// names, and raw expression spans, plus an expression-level scanner the
// parser reenters on each Expression token's raw text.
package lexer

// SyntaxConfig holds the configurable delimiter strings: output
// `{{ }}`, tag `{% %}`, and an optional comment `{# #}`. A zero-value
// SyntaxConfig is invalid; use DefaultSyntaxConfig.
type SyntaxConfig struct {
	StatementStart string
	StatementEnd   string
	TagStart       string
	TagEnd         string
	CommentStart   string
	CommentEnd     string
	// EnableComments toggles recognition of `{# … #}` as a comment
	// rather than plain text.
	EnableComments bool
}

// DefaultSyntaxConfig returns Liquid's conventional delimiters.
func DefaultSyntaxConfig() SyntaxConfig {
	return SyntaxConfig{
		StatementStart: "{{",
		StatementEnd:   "}}",
		TagStart:       "{%",
		TagEnd:         "%}",
		CommentStart:   "{#",
		CommentEnd:     "#}",
		EnableComments: false,
	}
}

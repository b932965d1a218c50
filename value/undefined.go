package value

import "fmt"

// UndefinedBehavior selects how undefined values behave. The
// environment holds exactly one configured variant; the renderer
// consults it at every lookup miss, iteration, arithmetic operand, and
// equality comparison involving an undefined value.
type UndefinedBehavior int

const (
	// Lenient: undefined renders as empty, iterates as empty, is falsy,
	// and an arithmetic filter given an undefined operand yields
	// undefined rather than raising (see AllowArithmetic below).
	Lenient UndefinedBehavior = iota
	// Strict: any access raises UndefinedError, including printing,
	// iteration, arithmetic, and boolean context.
	Strict
	// Debug: like Lenient for iteration and printing, except printing
	// emits a marker describing the access path that produced the
	// undefined value rather than an empty string; arithmetic raises.
	Debug
	// FalsyStrict: falsy in boolean position (if/unless/and/or/default),
	// iterates as empty and compares equal to nil; printing and
	// arithmetic raise as under Strict.
	FalsyStrict
)

func (b UndefinedBehavior) String() string {
	switch b {
	case Lenient:
		return "lenient"
	case Strict:
		return "strict"
	case Debug:
		return "debug"
	case FalsyStrict:
		return "falsy_strict"
	default:
		return "unknown"
	}
}

// AllowBoolean reports whether an undefined value may be consulted for
// truthiness without raising.
func (b UndefinedBehavior) AllowBoolean() bool {
	switch b {
	case Lenient, Debug, FalsyStrict:
		return true
	default:
		return false
	}
}

// AllowIteration reports whether an undefined value may be iterated
// (yielding zero elements) without raising; only Strict raises.
func (b UndefinedBehavior) AllowIteration() bool {
	switch b {
	case Lenient, Debug, FalsyStrict:
		return true
	default:
		return false
	}
}

// AllowPrint reports whether an undefined value may be printed without
// raising (Debug prints a marker instead of an empty string).
func (b UndefinedBehavior) AllowPrint() bool {
	switch b {
	case Lenient, Debug:
		return true
	default:
		return false
	}
}

// AllowArithmetic reports whether an undefined value may participate in
// arithmetic without raising; only Lenient does, and the arithmetic
// then yields undefined.
func (b UndefinedBehavior) AllowArithmetic() bool { return b == Lenient }

// DescribeForPrint renders v (assumed undefined) according to this
// behavior's print policy. Callers must have already checked
// AllowPrint(); this never raises.
func (b UndefinedBehavior) DescribeForPrint(v Value) string {
	if b == Debug {
		if path := v.UndefinedPath(); path != "" {
			return fmt.Sprintf("{{ undefined value %s }}", path)
		}
		return "{{ undefined value }}"
	}
	return ""
}

// UndefinedError is the error raised when a variant's table forbids an
// access; the root package's evaluator wraps its message into the
// engine's *Error type (ErrUndefined) without a source span.
type UndefinedError struct {
	Path string
}

func (e *UndefinedError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%q is undefined", e.Path)
	}
	return "value is undefined"
}

package value

import (
	"math/big"
	"strconv"
	"strings"
)

// Equal implements structural equality: Int/Float compare numerically,
// String with String, sequences element-wise, mappings ignoring order;
// two Nils are equal, and any Undefined equals Nil and any other
// Undefined.
func Equal(a, b Value) bool {
	a = a.ToPrimitive()
	b = b.ToPrimitive()

	if a.IsUndefined() || b.IsUndefined() {
		if a.IsUndefined() && b.IsUndefined() {
			return true
		}
		other := a
		if a.IsUndefined() {
			other = b
		}
		return other.IsNil()
	}
	if a.IsNil() && b.IsNil() {
		return true
	}

	switch {
	case isNumeric(a) && isNumeric(b):
		af, _ := numericFloat(a)
		bf, _ := numericFloat(b)
		return af == bf
	}

	ak, bk := a.Kind(), b.Kind()
	if ak != bk {
		return false
	}
	switch ak {
	case KindNil:
		return true
	case KindBool:
		av, _ := a.AsBool()
		bv, _ := b.AsBool()
		return av == bv
	case KindString:
		av, _ := a.AsString()
		bv, _ := b.AsString()
		return av == bv
	case KindRange:
		as, ae, _ := a.AsRange()
		bs, be, _ := b.AsRange()
		return as == bs && ae == be
	case KindSequence:
		av, _ := a.AsSlice()
		bv, _ := b.AsSlice()
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		ak := a.Keys()
		bk := b.Keys()
		if len(ak) != len(bk) {
			return false
		}
		for _, k := range ak {
			av, ok1 := a.MapGet(k)
			bv, ok2 := b.MapGet(k)
			if !ok1 || !ok2 || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// EqualsEmpty reports whether v compares equal to the `empty` sentinel:
// any empty sequence, mapping, or string.
func EqualsEmpty(v Value) bool {
	switch v.Kind() {
	case KindSequence, KindMapping, KindString:
		return v.IsEmpty()
	default:
		return false
	}
}

// EqualsBlank reports whether v compares equal to the `blank` sentinel:
// empty, or a string of only whitespace.
func EqualsBlank(v Value) bool {
	switch v.Kind() {
	case KindString:
		return v.IsBlank()
	case KindSequence, KindMapping:
		return v.IsEmpty()
	default:
		return false
	}
}

func isNumeric(v Value) bool {
	return v.Kind() == KindInt || v.Kind() == KindFloat
}

func numericFloat(v Value) (float64, bool) {
	switch v.Kind() {
	case KindInt:
		if i, ok := v.AsInt(); ok {
			return float64(i), true
		}
		if b, ok := v.AsBigInt(); ok {
			f := new(big.Float).SetInt(b)
			out, _ := f.Float64()
			return out, true
		}
	case KindFloat:
		if f, ok := v.AsFloat(); ok {
			return f, true
		}
	}
	return 0, false
}

// Compare implements a total order within a kind for the `<,<=,>,>=`
// operators: numeric vs numeric, string vs string. ok is false when the
// kinds are not comparable; the caller decides whether that is an error
// or simply false.
func Compare(a, b Value) (result int, ok bool) {
	a = a.ToPrimitive()
	b = b.ToPrimitive()
	if isNumeric(a) && isNumeric(b) {
		af, _ := numericFloat(a)
		bf, _ := numericFloat(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if as, aok := a.AsString(); aok {
		if bs, bok := b.AsString(); bok {
			return strings.Compare(as, bs), true
		}
	}
	return 0, false
}

// Contains implements the `contains` boolean operator: substring test
// for strings, element membership for sequences, key membership for
// mappings.
func Contains(haystack, needle Value) bool {
	switch haystack.Kind() {
	case KindString:
		hs, _ := haystack.AsString()
		ns := needle.String()
		return strings.Contains(hs, ns)
	case KindSequence:
		for _, item := range haystack.Iter() {
			if Equal(item, needle) {
				return true
			}
		}
		return false
	case KindMapping:
		ns, ok := needle.AsString()
		if !ok {
			return false
		}
		_, found := haystack.MapGet(ns)
		return found
	default:
		return false
	}
}

// CoerceNumber implements the arithmetic filters' lenient coercion:
// numbers pass through; strings parse as Int/Float only if the entire
// literal parses, otherwise 0; anything else is 0.
func CoerceNumber(v Value) Value {
	v = v.ToPrimitive()
	switch v.Kind() {
	case KindInt, KindFloat:
		return v
	case KindString:
		s, _ := v.AsString()
		s = strings.TrimSpace(s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return FromInt(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FromFloat(f)
		}
		return FromInt(0)
	default:
		return FromInt(0)
	}
}

// arith applies an int op and a float op with int-vs-float promotion:
// if either operand is a Float, the result is a Float.
func arith(a, b Value, intOp func(x, y int64) int64, floatOp func(x, y float64) float64) Value {
	a = CoerceNumber(a)
	b = CoerceNumber(b)
	if a.Kind() == KindFloat || b.Kind() == KindFloat {
		af, _ := numericFloat(a)
		bf, _ := numericFloat(b)
		return FromFloat(floatOp(af, bf))
	}
	ai, aok := a.AsInt()
	bi, bok := b.AsInt()
	if aok && bok {
		return FromInt(intOp(ai, bi))
	}
	ab, _ := a.AsBigInt()
	bb, _ := b.AsBigInt()
	if ab == nil {
		ab = big.NewInt(0)
	}
	if bb == nil {
		bb = big.NewInt(0)
	}
	af, _ := numericFloat(a)
	bf, _ := numericFloat(b)
	return FromFloat(floatOp(af, bf))
}

// Add implements the `plus` filter's numeric addition (string
// concatenation is a separate, explicit operation at the expression
// level via the `append` filter, not overloaded onto `+`, since Liquid
// has no `+` operator in expressions).
func Add(a, b Value) Value {
	return arith(a, b, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
}

// Sub implements the `minus` filter.
func Sub(a, b Value) Value {
	return arith(a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y })
}

// Mul implements the `times` filter.
func Mul(a, b Value) Value {
	return arith(a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y })
}

// DivResult distinguishes the two cases of `divided_by`: truncating
// when both operands are integers, a float division otherwise.
func DivResult(a, b Value) (Value, bool) {
	a = CoerceNumber(a)
	b = CoerceNumber(b)
	if a.Kind() == KindInt && b.Kind() == KindInt {
		ai, _ := a.AsInt()
		bi, _ := b.AsInt()
		if bi == 0 {
			return Undefined(), false
		}
		// Both Go and Liquid truncate integer division toward zero, so
		// the native quotient is already correct.
		return FromInt(ai / bi), true
	}
	af, _ := numericFloat(a)
	bf, _ := numericFloat(b)
	if bf == 0 {
		return Undefined(), false
	}
	return FromFloat(af / bf), true
}

// Mod implements the `modulo` filter.
func Mod(a, b Value) (Value, bool) {
	a = CoerceNumber(a)
	b = CoerceNumber(b)
	if a.Kind() == KindInt && b.Kind() == KindInt {
		ai, _ := a.AsInt()
		bi, _ := b.AsInt()
		if bi == 0 {
			return Undefined(), false
		}
		return FromInt(ai % bi), true
	}
	af, _ := numericFloat(a)
	bf, _ := numericFloat(b)
	if bf == 0 {
		return Undefined(), false
	}
	r := af - bf*float64(int64(af/bf))
	return FromFloat(r), true
}

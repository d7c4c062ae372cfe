// Package types defines the tagged value variant stored in every record
// field, plus the schema constraints validated against it.
package types

import (
	"fmt"
	"math"
)

// ValueKind tags which case of Value is populated.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindFloat
	KindBool
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Boolean"
	case KindString:
		return "String"
	default:
		return "Unknown"
	}
}

// floatEpsilon bounds the tolerance used when comparing two Float values.
const floatEpsilon = 1e-9

// Value is the tagged variant every record field and schema default holds.
// Only one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	Int  int64
	Flt  float64
	Bool bool
	Str  string
}

func NewInt(v int64) Value    { return Value{Kind: KindInt, Int: v} }
func NewFloat(v float64) Value { return Value{Kind: KindFloat, Flt: v} }
func NewBool(v bool) Value    { return Value{Kind: KindBool, Bool: v} }
func NewString(v string) Value { return Value{Kind: KindString, Str: v} }

// AsFloat widens Int/Float values to float64; it panics on Bool/String,
// callers must only use it after a type check.
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.Int)
	case KindFloat:
		return v.Flt
	default:
		panic(fmt.Sprintf("AsFloat called on non-numeric Value kind %s", v.Kind))
	}
}

// Equal implements the NaN-equal, epsilon-tolerant comparison rule of the
// data model: two NaNs are equal, other float pairs compare via
// |a-b| < epsilon, and the remaining kinds compare exactly.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		if math.IsNaN(v.Flt) && math.IsNaN(o.Flt) {
			return true
		}
		return math.Abs(v.Flt-o.Flt) < floatEpsilon
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	default:
		return false
	}
}

// HashKey returns a value usable as a Go map key. Floats are keyed by
// their bit pattern, as the data model requires, so NaN collides with
// NaN; unlike Equal there is no epsilon, so two floats Equal treats as
// equal but whose bits differ (e.g. 1.0 and 1.0+1e-12) get different keys.
func (v Value) HashKey() any {
	switch v.Kind {
	case KindInt:
		return [2]any{KindInt, v.Int}
	case KindFloat:
		return [2]any{KindFloat, math.Float64bits(v.Flt)}
	case KindBool:
		return [2]any{KindBool, v.Bool}
	case KindString:
		return [2]any{KindString, v.Str}
	default:
		return [2]any{v.Kind, nil}
	}
}

// MatchesType reports whether v can satisfy a field declared as t — a
// Float field accepts both Float and Integer values (integer widening).
func (t FieldType) MatchesType(v Value) bool {
	switch t {
	case TypeString:
		return v.Kind == KindString
	case TypeInteger:
		return v.Kind == KindInt
	case TypeFloat:
		return v.Kind == KindFloat || v.Kind == KindInt
	case TypeBoolean:
		return v.Kind == KindBool
	default:
		return false
	}
}

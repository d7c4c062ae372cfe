package types

import "testing"

func TestValueEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same int", NewInt(5), NewInt(5), true},
		{"different int", NewInt(5), NewInt(6), false},
		{"different kind", NewInt(5), NewFloat(5), false},
		{"float within epsilon", NewFloat(1.0), NewFloat(1.0 + 1e-12), true},
		{"float outside epsilon", NewFloat(1.0), NewFloat(1.1), false},
		{"nan equals nan", NewFloat(nan()), NewFloat(nan()), true},
		{"bool match", NewBool(true), NewBool(true), true},
		{"bool mismatch", NewBool(true), NewBool(false), false},
		{"string match", NewString("a"), NewString("a"), true},
		{"string mismatch", NewString("a"), NewString("b"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Equal(c.b); got != c.want {
				t.Errorf("Equal(%+v, %+v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestHashKeyNaNCollides(t *testing.T) {
	a := NewFloat(nan()).HashKey()
	b := NewFloat(nan()).HashKey()
	if a != b {
		t.Fatalf("expected NaN HashKey to collide with itself, got %v != %v", a, b)
	}
}

func TestMatchesTypeIntegerWidening(t *testing.T) {
	if !TypeFloat.MatchesType(NewInt(3)) {
		t.Fatal("expected a Float field to accept an Integer value")
	}
	if TypeInteger.MatchesType(NewFloat(3.0)) {
		t.Fatal("did not expect an Integer field to accept a Float value")
	}
	if TypeString.MatchesType(NewInt(3)) {
		t.Fatal("did not expect a String field to accept an Integer value")
	}
}

func TestAsFloatWidensInt(t *testing.T) {
	if got := NewInt(4).AsFloat(); got != 4.0 {
		t.Fatalf("AsFloat() = %v, want 4.0", got)
	}
}

func TestAsFloatPanicsOnNonNumeric(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected AsFloat on a String value to panic")
		}
	}()
	NewString("x").AsFloat()
}

func nan() float64 {
	var zero float64
	return zero / zero
}

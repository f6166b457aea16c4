package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", Null(), false},
		{"false", Bool(false), false},
		{"true", Bool(true), true},
		{"zero int", Int(0), true},
		{"empty string", Str(""), false},
		{"non-empty string", Str("x"), true},
		{"empty array", Arr(), false},
		{"non-empty array", Arr(Int(1)), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.v.Truthy())
		})
	}
}

func TestEqualNumericCoercion(t *testing.T) {
	assert.True(t, Equal(Int(3), Uint(3)))
	assert.True(t, Equal(Int(3), Float(3.0)))
	assert.True(t, Equal(Uint(3), Float(3.0)))
	assert.False(t, Equal(Int(3), Str("3")))
}

func TestEqualCollections(t *testing.T) {
	a := Arr(Int(1), Str("x"))
	b := Arr(Int(1), Str("x"))
	assert.True(t, Equal(a, b))

	m1 := NewOrderedMap()
	m1.Set("a", Int(1))
	m2 := NewOrderedMap()
	m2.Set("a", Int(1))
	assert.True(t, Equal(MapVal(m1), MapVal(m2)))

	m2.Set("b", Int(2))
	assert.False(t, Equal(MapVal(m1), MapVal(m2)))
}

func TestCloneIsDeep(t *testing.T) {
	inner := NewOrderedMap()
	inner.Set("x", Int(1))
	v := Arr(MapVal(inner))

	clone := v.Clone()
	clone.AsArray()[0].AsMap().Set("x", Int(99))

	orig, _ := v.AsArray()[0].AsMap().Get("x")
	assert.Equal(t, Int(1), orig)
}

func TestCompareOrdering(t *testing.T) {
	c, err := Compare(Int(1), Int(2))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(Str("a"), Str("b"))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	_, err = Compare(Int(1), Str("a"))
	require.Error(t, err)
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, KindTypeMismatch, f.Kind)
}

func TestCompareNaN(t *testing.T) {
	_, err := Compare(Float(0), Int(1))
	require.NoError(t, err)

	nan := Float(0)
	nan.float = nan.float / nan.float // produce NaN without importing math here
	_, err = Compare(nan, Int(1))
	require.Error(t, err)
}

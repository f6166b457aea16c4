package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultErrorMessage(t *testing.T) {
	f := NewFault(KindDivisionByZero, "divide by zero")
	assert.Equal(t, "division_by_zero: divide by zero", f.Error())

	bare := NewFault(KindStackOverflow, "")
	assert.Equal(t, "stack_overflow", bare.Error())
}

func TestFaultIsMatchesByKind(t *testing.T) {
	a := NewFault(KindTypeMismatch, "wanted int")
	b := NewFault(KindTypeMismatch, "wanted string")
	assert.True(t, errors.Is(a, b))

	c := NewFault(KindValue, "bad value")
	assert.False(t, errors.Is(a, c))
}

func TestWithSiteStampsLocation(t *testing.T) {
	f := NewFault(KindUnhandled, "boom").WithSite(Address(7), PC(42))
	assert.Equal(t, Address(7), f.Process)
	assert.Equal(t, PC(42), f.Counter)
}

func TestAsFaultUnwraps(t *testing.T) {
	var err error = NewFaultf(KindConversion, "cannot convert %s", "x")
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, KindConversion, f.Kind)
}

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinRegistryRegisterLookup(t *testing.T) {
	r := NewBuiltinRegistry()
	r.Register("double", func(p *ProcessContext, args []Value) (Value, error) {
		return Int(args[0].AsInt() * 2), nil
	})

	fn, ok := r.Lookup("double")
	require.True(t, ok)
	result, err := fn(nil, []Value{Int(21)})
	require.NoError(t, err)
	assert.Equal(t, Int(42), result)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

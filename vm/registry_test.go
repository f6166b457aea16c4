package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessRegistryRegisterWhereis(t *testing.T) {
	r := NewProcessRegistry()
	require.NoError(t, r.Register("logger", 1))

	addr, ok := r.Whereis("logger")
	require.True(t, ok)
	assert.Equal(t, Address(1), addr)

	err := r.Register("logger", 2)
	assert.Error(t, err)
}

func TestProcessRegistryUnregister(t *testing.T) {
	r := NewProcessRegistry()
	require.NoError(t, r.Register("logger", 1))

	assert.True(t, r.Unregister("logger"))
	assert.False(t, r.Unregister("logger"))
	_, ok := r.Whereis("logger")
	assert.False(t, ok)
}

func TestProcessRegistryUnregisterAddress(t *testing.T) {
	r := NewProcessRegistry()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 1))
	require.NoError(t, r.Register("c", 2))

	r.UnregisterAddress(1)
	_, ok := r.Whereis("a")
	assert.False(t, ok)
	_, ok = r.Whereis("b")
	assert.False(t, ok)
	addr, ok := r.Whereis("c")
	assert.True(t, ok)
	assert.Equal(t, Address(2), addr)
}

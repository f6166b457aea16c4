package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(addrs ...Address) (*LinkRegistry, map[Address]*ProcessContext) {
	procs := make(map[Address]*ProcessContext, len(addrs))
	for _, a := range addrs {
		procs[a] = newProcessContext(a, nil, PriorityNormal, 10, time.Now())
	}
	lookup := func(addr Address) (*ProcessContext, bool) {
		p, ok := procs[addr]
		return p, ok
	}
	return NewLinkRegistry(lookup), procs
}

func TestLinkIsSymmetric(t *testing.T) {
	r, procs := newTestRegistry(1, 2)
	r.Link(1, 2)

	_, ok := procs[1].Links[2]
	assert.True(t, ok)
	_, ok = procs[2].Links[1]
	assert.True(t, ok)

	r.Unlink(1, 2)
	_, ok = procs[1].Links[2]
	assert.False(t, ok)
	_, ok = procs[2].Links[1]
	assert.False(t, ok)
}

func TestMonitorIsAsymmetric(t *testing.T) {
	r, procs := newTestRegistry(1, 2)
	ref, err := r.Monitor(1, 2, 0)
	require.NoError(t, err)

	_, ok := procs[1].Monitors[ref.ID]
	assert.True(t, ok)
	_, ok = procs[2].Watchers[ref.ID]
	assert.True(t, ok)
	assert.Len(t, procs[2].Monitors, 0)

	assert.True(t, r.Demonitor(ref))
	assert.False(t, r.Demonitor(ref))
}

func TestCleanupReportsLinksAndWatchers(t *testing.T) {
	r, procs := newTestRegistry(1, 2, 3)
	r.Link(1, 2)
	ref, err := r.Monitor(3, 1, 0)
	require.NoError(t, err)

	linked, watchers := r.Cleanup(1)
	assert.Equal(t, []Address{2}, linked)
	require.Len(t, watchers, 1)
	assert.Equal(t, ref.ID, watchers[0].ID)

	_, ok := procs[2].Links[1]
	assert.False(t, ok)
	_, ok = procs[3].Monitors[ref.ID]
	assert.False(t, ok)
}

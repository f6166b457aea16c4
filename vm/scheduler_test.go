package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDrainsHighestPriorityFirst(t *testing.T) {
	s := NewScheduler()
	s.Enqueue(1, PriorityLow)
	s.Enqueue(2, PriorityMax)
	s.Enqueue(3, PriorityNormal)
	s.Enqueue(4, PriorityHigh)

	order := []Address{}
	for {
		addr, ok := s.Next()
		if !ok {
			break
		}
		order = append(order, addr)
	}
	assert.Equal(t, []Address{2, 4, 3, 1}, order)
}

func TestSchedulerWaitingRoundTrip(t *testing.T) {
	s := NewScheduler()
	s.MarkWaiting(1)
	assert.False(t, s.Idle())
	assert.Equal(t, []Address{1}, s.Waiting())

	assert.True(t, s.Resume(1))
	assert.False(t, s.Resume(1))
	s.Enqueue(1, PriorityNormal)

	addr, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, Address(1), addr)
}

func TestSchedulerRemove(t *testing.T) {
	s := NewScheduler()
	s.Enqueue(1, PriorityNormal)
	s.Enqueue(2, PriorityNormal)
	s.Remove(1)

	addr, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, Address(2), addr)
	_, ok = s.Next()
	assert.False(t, ok)
}

func TestSchedulerIdle(t *testing.T) {
	s := NewScheduler()
	assert.True(t, s.Idle())
	s.Enqueue(1, PriorityLow)
	assert.False(t, s.Idle())
}

func TestReductionBudgetScalesByPriority(t *testing.T) {
	assert.Equal(t, 4000, ReductionBudget(4000, PriorityMax))
	assert.Equal(t, 2000, ReductionBudget(4000, PriorityHigh))
	assert.Equal(t, 1000, ReductionBudget(4000, PriorityNormal))
	assert.Equal(t, 500, ReductionBudget(4000, PriorityLow))
	assert.Equal(t, 1, ReductionBudget(4, PriorityLow))
}

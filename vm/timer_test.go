package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerManagerOrdersByDeadline(t *testing.T) {
	tm := NewTimerManager()
	now := time.Now()

	tm.ScheduleDelivery(now.Add(30*time.Millisecond), 1, Message{Body: Int(3)})
	tm.ScheduleDelivery(now.Add(10*time.Millisecond), 1, Message{Body: Int(1)})
	tm.ScheduleDelivery(now.Add(20*time.Millisecond), 1, Message{Body: Int(2)})

	due := tm.Due(now.Add(25 * time.Millisecond))
	require.Len(t, due, 2)
	assert.Equal(t, Int(1), due[0].msg.Body)
	assert.Equal(t, Int(2), due[1].msg.Body)

	deadline, ok := tm.NextDeadline()
	require.True(t, ok)
	assert.True(t, deadline.Equal(now.Add(30 * time.Millisecond)))
}

func TestTimerManagerCancel(t *testing.T) {
	tm := NewTimerManager()
	now := time.Now()
	id := tm.ScheduleWake(now.Add(time.Millisecond), 5)

	assert.True(t, tm.Cancel(id))
	assert.False(t, tm.Cancel(id))

	due := tm.Due(now.Add(time.Hour))
	assert.Len(t, due, 0)
}

func TestTimerManagerScheduleWake(t *testing.T) {
	tm := NewTimerManager()
	now := time.Now()
	tm.ScheduleWake(now.Add(-time.Millisecond), 9)

	due := tm.Due(now)
	require.Len(t, due, 1)
	assert.Equal(t, Address(9), due[0].wake)
}

package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxFIFO(t *testing.T) {
	mb := NewMailbox(2)
	require.True(t, mb.Enqueue(Message{Body: Int(1)}))
	require.True(t, mb.Enqueue(Message{Body: Int(2)}))
	assert.False(t, mb.Enqueue(Message{Body: Int(3)}))
	assert.True(t, mb.Full())

	msg, ok := mb.Dequeue()
	require.True(t, ok)
	assert.Equal(t, Int(1), msg.Body)

	msg, ok = mb.Dequeue()
	require.True(t, ok)
	assert.Equal(t, Int(2), msg.Body)

	_, ok = mb.Dequeue()
	assert.False(t, ok)
}

func TestMailboxSelect(t *testing.T) {
	mb := NewMailbox(0)
	mb.Enqueue(Message{Body: Sym("a")})
	mb.Enqueue(Message{Body: Sym("b")})
	mb.Enqueue(Message{Body: Sym("c")})

	msg, ok := mb.Select(Sym("b"))
	require.True(t, ok)
	assert.Equal(t, Sym("b"), msg.Body)
	assert.Equal(t, 2, mb.Len())

	first, _ := mb.Dequeue()
	assert.Equal(t, Sym("a"), first.Body)
	second, _ := mb.Dequeue()
	assert.Equal(t, Sym("c"), second.Body)
}

func TestMailboxCleanupExpired(t *testing.T) {
	mb := NewMailbox(0)
	now := time.Now()
	mb.Enqueue(Message{Body: Int(1), ExpiresAt: now.Add(-time.Second)})
	mb.Enqueue(Message{Body: Int(2), ExpiresAt: now.Add(time.Hour)})

	removed := mb.CleanupExpired(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, mb.Len())

	msg, ok := mb.Dequeue()
	require.True(t, ok)
	assert.Equal(t, Int(2), msg.Body)
}

package vm

import (
	"sync"
	"time"
)

// Message is an envelope sitting in a process's mailbox (spec §4.4).
type Message struct {
	From      Address
	Body      Value
	SentAt    time.Time
	ExpiresAt time.Time // zero means no expiry
	Ack       bool      // whether the sender wants an acknowledgment
}

func (m Message) expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// Mailbox is a bounded, FIFO, pattern-scannable message queue. Locking is
// its own (rather than the process's) since sends arrive from arbitrary
// goroutines/processes concurrently with the owner scanning it.
type Mailbox struct {
	mu       sync.Mutex
	messages []Message
	capacity int
}

func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{capacity: capacity}
}

func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.messages)
}

// Full reports whether the mailbox is at capacity.
func (mb *Mailbox) Full() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.capacity > 0 && len(mb.messages) >= mb.capacity
}

// Enqueue appends a message, returning false if the mailbox is full (the
// caller decides what MailboxFullBehavior means for that case).
func (mb *Mailbox) Enqueue(msg Message) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.capacity > 0 && len(mb.messages) >= mb.capacity {
		return false
	}
	mb.messages = append(mb.messages, msg)
	return true
}

// Dequeue removes and returns the oldest message (plain RECEIVE).
func (mb *Mailbox) Dequeue() (Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.messages) == 0 {
		return Message{}, false
	}
	msg := mb.messages[0]
	mb.messages = mb.messages[1:]
	return msg, true
}

// Peek returns the oldest message without removing it.
func (mb *Mailbox) Peek() (Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.messages) == 0 {
		return Message{}, false
	}
	return mb.messages[0], true
}

// Select scans for the first message matching pattern (RECEIVE_SELECTIVE,
// spec §4.3) and removes it, preserving the relative order of what remains.
func (mb *Mailbox) Select(pattern Value) (Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i, msg := range mb.messages {
		if MatchesPattern(msg.Body, pattern) {
			mb.removeAt(i)
			return msg, true
		}
	}
	return Message{}, false
}

// removeAt must be called with mu held.
func (mb *Mailbox) removeAt(i int) {
	mb.messages = append(mb.messages[:i], mb.messages[i+1:]...)
}

// CleanupExpired drops messages whose TTL has elapsed, returning how many
// were removed (spec §4.4 message expiry).
func (mb *Mailbox) CleanupExpired(now time.Time) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	kept := mb.messages[:0]
	removed := 0
	for _, msg := range mb.messages {
		if msg.expired(now) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	mb.messages = kept
	return removed
}

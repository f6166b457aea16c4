package vm

import "time"

// Scheduler holds one FIFO run queue per priority level (spec §4.2) and
// picks the next runnable process by always draining Max before High
// before Normal before Low, round-robin within a level.
type Scheduler struct {
	queues map[Priority][]Address
	// waiting holds processes blocked on a WaitPred (RECEIVE with no
	// matching message yet, etc); they re-enter a run queue once their
	// predicate is satisfied or their deadline passes.
	waiting map[Address]struct{}
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		queues:  make(map[Priority][]Address),
		waiting: make(map[Address]struct{}),
	}
	for _, p := range priorityOrder {
		s.queues[p] = nil
	}
	return s
}

// Enqueue appends addr to the back of its priority's run queue.
func (s *Scheduler) Enqueue(addr Address, priority Priority) {
	s.queues[priority] = append(s.queues[priority], addr)
}

// Next pops the next runnable address, scanning priorities from Max to Low
// (spec §4.2 "a process at a higher priority always preempts").
func (s *Scheduler) Next() (Address, bool) {
	for _, p := range priorityOrder {
		q := s.queues[p]
		if len(q) == 0 {
			continue
		}
		addr := q[0]
		s.queues[p] = q[1:]
		return addr, true
	}
	return 0, false
}

// MarkWaiting records that addr has left the run queues to block on a
// predicate (spec §4.2 Waiting state).
func (s *Scheduler) MarkWaiting(addr Address) {
	s.waiting[addr] = struct{}{}
}

// Resume removes addr from the waiting set, returning whether it had been
// waiting (the caller re-enqueues it afterward).
func (s *Scheduler) Resume(addr Address) bool {
	if _, ok := s.waiting[addr]; !ok {
		return false
	}
	delete(s.waiting, addr)
	return true
}

// Waiting reports every address currently blocked, for the scheduler's
// periodic predicate re-check pass.
func (s *Scheduler) Waiting() []Address {
	out := make([]Address, 0, len(s.waiting))
	for a := range s.waiting {
		out = append(out, a)
	}
	return out
}

// Remove drops addr from whichever queue it might currently sit in (used
// when a process is killed while merely runnable, not yet dispatched).
func (s *Scheduler) Remove(addr Address) {
	delete(s.waiting, addr)
	for p, q := range s.queues {
		for i, a := range q {
			if a == addr {
				s.queues[p] = append(q[:i], q[i+1:]...)
				return
			}
		}
	}
}

// ReductionBudget returns the reduction-slice size for a priority (spec
// §4.2): Max gets the full per-slice budget, each step down gets half,
// floored so Low always gets at least one reduction.
func ReductionBudget(maxPerSlice int, p Priority) int {
	switch p {
	case PriorityMax:
		return maxPerSlice
	case PriorityHigh:
		return maxPerSlice / 2
	case PriorityNormal:
		return maxPerSlice / 4
	default:
		n := maxPerSlice / 8
		if n < 1 {
			n = 1
		}
		return n
	}
}

// Idle reports whether there is nothing runnable and nothing waiting,
// meaning the engine can either sleep until the next timer or halt.
func (s *Scheduler) Idle() bool {
	if len(s.waiting) != 0 {
		return false
	}
	for _, q := range s.queues {
		if len(q) != 0 {
			return false
		}
	}
	return true
}

// timeoutExpired reports whether a non-zero deadline has passed as of now.
func timeoutExpired(deadline time.Time, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

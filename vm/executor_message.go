package vm

import "time"

// execMessageOp implements SEND/RECEIVE and their variants (spec §4.3,
// §4.4). Blocking receives are implemented by rewinding PC so the same
// instruction re-dispatches once the process is woken, rather than keeping
// any separate "resume point" bookkeeping.
func (e *Engine) execMessageOp(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpSend:
		if len(proc.Data) < 2 {
			return underflow()
		}
		body, _ := proc.popData()
		targetVal, _ := proc.popData()
		return e.send(proc, Address(targetVal.AsUint()), body)

	case OpSendAfter:
		if len(proc.Data) < 3 {
			return underflow()
		}
		delayVal, _ := proc.popData()
		body, _ := proc.popData()
		targetVal, _ := proc.popData()
		deadline := time.Now().Add(time.Duration(delayVal.AsInt()) * time.Millisecond)
		e.mu.Lock()
		id := e.timers.ScheduleDelivery(deadline, Address(targetVal.AsUint()), Message{
			From: proc.Address, Body: body, SentAt: time.Now(),
		})
		e.mu.Unlock()
		proc.pushData(Uint(id))

	case OpReceive:
		msg, ok := proc.Mailbox.Dequeue()
		if ok {
			proc.pushData(msg.Body)
			return nil
		}
		e.blockWaitingForMailbox(proc, hasAnyMessage)

	case OpReceiveWithTimeout:
		timeoutMs := instr.Arg.AsInt()
		msg, ok := proc.Mailbox.Dequeue()
		if ok {
			proc.WaitUntil = time.Time{}
			proc.pushData(msg.Body)
			return nil
		}
		if e.timedOut(proc) {
			proc.pushData(Null())
			return nil
		}
		e.blockWithTimeout(proc, timeoutMs, hasAnyMessage)

	case OpReceiveSelective:
		pattern := instr.Arg
		msg, ok := proc.Mailbox.Select(pattern)
		if ok {
			proc.pushData(msg.Body)
			return nil
		}
		e.blockWaitingForMailbox(proc, matchesPredicate(pattern))

	case OpReceiveSelectiveWithTimeout:
		args := instr.Arg.AsArray()
		pattern, timeoutVal := args[0], args[1]
		msg, ok := proc.Mailbox.Select(pattern)
		if ok {
			proc.WaitUntil = time.Time{}
			proc.pushData(msg.Body)
			return nil
		}
		if e.timedOut(proc) {
			proc.pushData(Null())
			return nil
		}
		e.blockWithTimeout(proc, timeoutVal.AsInt(), matchesPredicate(pattern))

	case OpPeek:
		msg, ok := proc.Mailbox.Peek()
		if !ok {
			proc.pushData(Null())
			return nil
		}
		proc.pushData(msg.Body)

	case OpMailboxSize:
		proc.pushData(Int(int64(proc.Mailbox.Len())))

	case OpCancelTimer:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		e.mu.Lock()
		canceled := e.timers.Cancel(v.AsUint())
		e.mu.Unlock()
		proc.pushData(Bool(canceled))
	}
	return nil
}

func hasAnyMessage(p *ProcessContext) bool { return p.Mailbox.Len() > 0 }

func matchesPredicate(pattern Value) waitPredicate {
	return func(p *ProcessContext) bool {
		// only probing from wakeSatisfiedWaiters here: nothing is removed,
		// so the mailbox order is untouched; the real dequeue happens when
		// the instruction re-dispatches.
		mb := p.Mailbox
		mb.mu.Lock()
		defer mb.mu.Unlock()
		for _, msg := range mb.messages {
			if MatchesPattern(msg.Body, pattern) {
				return true
			}
		}
		return false
	}
}

// timedOut reports whether proc's previously-recorded receive deadline has
// passed, clearing it either way.
func (e *Engine) timedOut(proc *ProcessContext) bool {
	if proc.WaitUntil.IsZero() {
		return false
	}
	if time.Now().Before(proc.WaitUntil) {
		return false
	}
	proc.WaitUntil = time.Time{}
	return true
}

// blockWaitingForMailbox parks proc indefinitely until pred is satisfied
// (spec §4.3 RECEIVE with no message available).
func (e *Engine) blockWaitingForMailbox(proc *ProcessContext, pred waitPredicate) {
	proc.PC--
	proc.State = StateWaiting
	proc.WaitPred = pred
	e.mu.Lock()
	e.sched.MarkWaiting(proc.Address)
	e.mu.Unlock()
}

// blockWithTimeout parks proc until pred is satisfied or its deadline
// passes, scheduling the timer wake only on the first attempt (proc.WaitUntil
// stays set across re-dispatches of the same rewound instruction).
func (e *Engine) blockWithTimeout(proc *ProcessContext, timeoutMs int64, pred waitPredicate) {
	if proc.WaitUntil.IsZero() {
		deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
		proc.WaitUntil = deadline
		e.mu.Lock()
		e.timers.ScheduleWake(deadline, proc.Address)
		e.mu.Unlock()
	}
	e.blockWaitingForMailbox(proc, pred)
}

// send implements the MailboxFullBehavior policy of spec §4.4.
func (e *Engine) send(proc *ProcessContext, target Address, body Value) *Fault {
	targetProc, ok := e.process(target)
	if !ok {
		return NewFault(KindInvalidAddress, "send target does not exist")
	}
	msg := Message{From: proc.Address, Body: body, SentAt: time.Now()}
	if e.cfg.DefaultMessageTTL > 0 {
		msg.ExpiresAt = msg.SentAt.Add(e.cfg.DefaultMessageTTL)
	}
	if targetProc.Mailbox.Enqueue(msg) {
		e.mu.Lock()
		if targetProc.State == StateWaiting {
			e.resumeLocked(targetProc)
		}
		e.mu.Unlock()
		return nil
	}

	switch e.cfg.MailboxFullBehavior {
	case MailboxFullDrop:
		return nil
	case MailboxFullKillSender:
		return NewFault(KindMailboxOverflow, "mailbox full, sender killed")
	default: // MailboxFullBlock
		proc.PC--
		proc.State = StateBlocked
		proc.WaitPred = func(p *ProcessContext) bool { return !targetProc.Mailbox.Full() }
		e.mu.Lock()
		e.sched.MarkWaiting(proc.Address)
		e.mu.Unlock()
		return nil
	}
}

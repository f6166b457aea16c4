package vm

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// exitEvent is one process's departure, queued for asynchronous signal
// propagation (spec §4.5: exit processing happens off the scheduler's
// critical path so a slow link fan-out never stalls the dispatch loop).
type exitEvent struct {
	addr   Address
	reason Reason
}

// FaultHandler delivers exit signals to linked/monitoring processes and
// produces crash dumps for unhandled Faults. It runs as its own goroutine
// alongside the scheduler's dispatch loop (spec §4.5).
type FaultHandler struct {
	e       *Engine
	events  chan exitEvent
	crashes []CrashDump
}

// CrashDump is a captured unhandled-Fault report (spec §9 supplemental
// feature: a process that dies with no trap_exit and no surviving links
// still leaves behind a diagnosable record).
type CrashDump struct {
	Process Address
	Fault   *Fault
	Stack   error // github.com/pkg/errors-wrapped, carries a stack trace
	// Origin is the goroutine the underlying Fault was recovered on
	// ("dispatch" for a panicking opcode, "fault_handler" for a panic while
	// delivering exit signals), empty for an ordinary unhandled exception.
	Origin string
}

func NewFaultHandler(e *Engine) *FaultHandler {
	return &FaultHandler{e: e, events: make(chan exitEvent, 256)}
}

func (fh *FaultHandler) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fh.events:
			if !ok {
				return nil
			}
			fh.safeDeliver(ev)
		}
	}
}

func (fh *FaultHandler) stop() { close(fh.events) }

// enqueue is called by the executor/engine whenever a process exits.
func (fh *FaultHandler) enqueue(addr Address, reason Reason) {
	fh.events <- exitEvent{addr: addr, reason: reason}
}

// safeDeliver recovers a panic during signal fan-out so one bad delivery
// never takes down the fault-handler goroutine itself.
func (fh *FaultHandler) safeDeliver(ev exitEvent) {
	defer func() {
		if r := recover(); r != nil {
			fh.e.cfg.Logger.Error().Interface("panic", r).Msg("fault handler recovered a panic")
			fh.crashes = append(fh.crashes, CrashDump{
				Process: ev.addr,
				Fault:   &Fault{Kind: KindRuntime, Message: fmt.Sprintf("recovered panic: %v", r), Origin: "fault_handler"},
				Origin:  "fault_handler",
			})
		}
	}()
	fh.deliver(ev)
}

// deliver fans the exit out to links and monitors, and records a crash
// dump for unhandled exceptions (spec §4.5, §4.6).
func (fh *FaultHandler) deliver(ev exitEvent) {
	e := fh.e
	e.mu.Lock()
	linkedPeers, watcherRefs := e.links.Cleanup(ev.addr)
	e.registry.UnregisterAddress(ev.addr)
	e.mu.Unlock()

	if ev.reason.Kind == ReasonException {
		fh.crashes = append(fh.crashes, CrashDump{
			Process: ev.addr,
			Fault:   ev.reason.Fault,
			Stack:   errors.WithStack(ev.reason.Fault),
			Origin:  ev.reason.Fault.Origin,
		})
		e.cfg.Logger.Error().
			Uint64("address", uint64(ev.addr)).
			Str("fault_kind", string(ev.reason.Fault.Kind)).
			Msg("process crashed")
	}

	for _, peer := range linkedPeers {
		fh.signalLink(peer, ev.addr, ev.reason)
	}
	for _, ref := range watcherRefs {
		fh.signalMonitor(ref, ev.reason)
		e.supervisorsMu.Lock()
		sup, ok := e.supervisors[ref.Watcher]
		e.supervisorsMu.Unlock()
		if ok {
			sup.HandleExit(ev.addr, ev.reason)
		}
	}
}

// signalLink delivers the EXIT propagation of spec §4.5: if peer traps
// exits and the reason is trappable (anything but Kill), it receives a
// mailbox message; otherwise, unless the reason is Normal, peer dies with
// the same reason (cascading failure).
func (fh *FaultHandler) signalLink(peer, from Address, reason Reason) {
	e := fh.e
	e.mu.Lock()
	p, ok := e.processes[peer]
	e.mu.Unlock()
	if !ok {
		return
	}
	if p.TrapExit && reason.Trappable() {
		msg := NewOrderedMap()
		msg.Set("type", Sym(string(LinkTypeLink)))
		msg.Set("from", Uint(uint64(from)))
		msg.Set("reason", reason.ToValue())
		p.Mailbox.Enqueue(Message{From: from, Body: MapVal(msg)})
		fh.wake(p)
		return
	}
	if reason.Kind == ReasonNormal {
		return
	}
	e.exitProcess(p, reason)
}

// signalMonitor always delivers a DOWN message, regardless of trap_exit
// (spec §4.6: monitors are asymmetric and never cascade a kill).
func (fh *FaultHandler) signalMonitor(ref MonitorRef, reason Reason) {
	e := fh.e
	e.mu.Lock()
	p, ok := e.processes[ref.Watcher]
	e.mu.Unlock()
	if !ok {
		return
	}
	msg := NewOrderedMap()
	msg.Set("type", Sym(string(LinkTypeMonitor)))
	msg.Set("ref", MonitorRefVal(ref))
	msg.Set("from", Uint(uint64(ref.Watched)))
	msg.Set("reason", reason.ToValue())
	p.Mailbox.Enqueue(Message{From: ref.Watched, Body: MapVal(msg)})
	fh.wake(p)
}

func (fh *FaultHandler) wake(p *ProcessContext) { fh.e.wake(p) }

// Crashes returns every crash dump recorded so far, for diagnostics/tests.
func (fh *FaultHandler) Crashes() []CrashDump {
	return append([]CrashDump(nil), fh.crashes...)
}

// raiseFault is the executor's single entry point for a Fault produced by
// an instruction (spec §4.1 THROW, §4.7): unwind to the nearest TRY_BEGIN
// handler if one exists, restoring every depth it snapshotted — data
// stack, call stack, locals and frame pointer — otherwise escalate into
// process exit. Restoring only the data stack (and leaving a THROW inside
// a nested CALL with stale call frames and the callee's frame pointer) is
// exactly the mismatch spec §9's open question on indirect-call unwinding
// warns about.
func (e *Engine) raiseFault(proc *ProcessContext, f *Fault) {
	h, ok := proc.popHandler()
	if !ok {
		e.exitProcess(proc, ExceptionReason(f))
		return
	}
	if h.DataDepth < len(proc.Data) {
		proc.Data = proc.Data[:h.DataDepth]
	}
	if h.CallDepth < len(proc.Calls) {
		frame := proc.Calls[h.CallDepth]
		proc.Instructions = frame.ReturnInstrs
		proc.CurrentClosure = frame.ReturnClosure
		proc.Locals = frame.ReturnLocals
		proc.Calls = proc.Calls[:h.CallDepth]
	}
	if h.LocalsDepth < len(proc.Locals) {
		proc.Locals = proc.Locals[:h.LocalsDepth]
	}
	proc.FramePointer = h.FramePointer
	proc.CurrentException = f
	proc.State = StateAlive
	proc.PC = h.CatchPC
}

// exitProcess transitions proc to Dead and queues asynchronous signal
// delivery (spec §4.5 exit_process).
func (e *Engine) exitProcess(proc *ProcessContext, reason Reason) {
	e.mu.Lock()
	if proc.State == StateDead {
		e.mu.Unlock()
		return
	}
	proc.State = StateDead
	proc.ExitReason = reason
	e.sched.Remove(proc.Address)
	e.mu.Unlock()

	e.cfg.Logger.Debug().Uint64("address", uint64(proc.Address)).Str("reason", string(reason.Kind)).Msg("process exited")
	e.faults.enqueue(proc.Address, reason)
}

// killProcess is KILL/the supervisor's forced-stop path: unlike exitProcess
// triggered by falling off the end of the program, a Kill reason is never
// trappable (spec §4.5).
func (e *Engine) killProcess(proc *ProcessContext, reason Reason) {
	e.exitProcess(proc, reason)
}

package vm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine owns the whole process table and drives the scheduler loop. It is
// the analogue of the teacher's VM, generalized from "one program, one
// stack" to "many processes, one scheduler, one fault handler" (spec §1,
// §4.2).
type Engine struct {
	cfg Config

	mu        sync.Mutex
	processes map[Address]*ProcessContext
	nextAddr  uint64

	sched    *Scheduler
	registry *ProcessRegistry
	links    *LinkRegistry
	timers   *TimerManager
	builtins *BuiltinRegistry
	faults   *FaultHandler

	supervisorsMu sync.Mutex
	supervisors   map[Address]*Supervisor

	debugger Debugger
}

// NewEngine constructs an Engine, applying opts over the documented
// defaults (spec §9).
func NewEngine(opts ...Option) (*Engine, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:         cfg,
		processes:   make(map[Address]*ProcessContext),
		sched:       NewScheduler(),
		registry:    NewProcessRegistry(),
		timers:      NewTimerManager(),
		builtins:    NewBuiltinRegistry(),
		supervisors: make(map[Address]*Supervisor),
	}
	e.links = NewLinkRegistry(e.lookupLocked)
	e.faults = NewFaultHandler(e)
	return e, nil
}

// lookupLocked is the LinkRegistry's process accessor. Callers into
// LinkRegistry already hold e.mu via the executor's single-goroutine
// ownership model, so no additional locking happens here; see doc.go for
// the concurrency model.
func (e *Engine) lookupLocked(addr Address) (*ProcessContext, bool) {
	p, ok := e.processes[addr]
	return p, ok
}

// Builtins exposes the builtin registry so callers can Register host
// functions before Run.
func (e *Engine) Builtins() *BuiltinRegistry { return e.builtins }

// SetDebugger installs a Debugger hook consulted before every instruction
// (spec §4.8). Pass nil to disable.
func (e *Engine) SetDebugger(d Debugger) { e.debugger = d }

// Spawn creates a new process running instrs and enqueues it for
// scheduling (spec §4.6 SPAWN family).
func (e *Engine) Spawn(instrs []Instruction, priority Priority, parent Address, hasParent bool) (Address, error) {
	return e.spawn(instrs, nil, nil, priority, parent, hasParent)
}

// SpawnChild creates a process from a supervisor's ChildSpec: instructions
// and globals are cloned per-child, subroutines are shared with whatever
// table the spec carries (spec §4.6 add_child: "cloning instructions and
// globals, sharing subroutines").
func (e *Engine) SpawnChild(spec ChildSpec, parent Address) (Address, error) {
	body := append([]Instruction(nil), spec.Body...)
	return e.spawn(body, spec.Subroutines, spec.Globals, spec.Priority, parent, true)
}

func (e *Engine) spawn(instrs []Instruction, subroutines map[string]PC, globals *OrderedMap, priority Priority, parent Address, hasParent bool) (Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.processes) >= e.cfg.MaxProcesses {
		return 0, NewFault(KindValue, "max_processes exceeded")
	}
	e.nextAddr++
	addr := Address(e.nextAddr)
	p := newProcessContext(addr, instrs, priority, e.cfg.MaxMailboxSize, time.Now())
	p.Parent = parent
	p.HasParent = hasParent
	p.Subroutines = subroutines
	if globals != nil {
		p.Globals = globals.Clone()
	}
	e.processes[addr] = p
	e.sched.Enqueue(addr, priority)
	e.cfg.Logger.Debug().Uint64("address", uint64(addr)).Str("priority", priority.String()).Msg("process spawned")
	return addr, nil
}

func (e *Engine) process(addr Address) (*ProcessContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookupLocked(addr)
}

// Run drives the scheduler until every process has exited or ctx is
// cancelled, running the fault handler concurrently the way the teacher's
// main loop and a background worker would, coordinated via errgroup (spec
// §4.5 async fault delivery).
func (e *Engine) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return e.faults.run(gctx)
	})

	group.Go(func() error {
		defer e.faults.stop()
		return e.dispatchLoop(gctx)
	})

	return group.Wait()
}

// dispatchLoop is the cooperative scheduling loop (spec §4.2): pick the
// highest-priority runnable process, give it a reduction-budgeted slice,
// and repeat until nothing is left to do.
func (e *Engine) dispatchLoop(ctx context.Context) error {
	cleanupTicker := time.NewTicker(e.cfg.MessageCleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanupTicker.C:
			e.cleanupExpiredMessages()
		default:
		}

		e.mu.Lock()
		e.wakeDueTimers()
		e.wakeSatisfiedWaiters()
		addr, ok := e.sched.Next()
		if !ok {
			idle := e.sched.Idle()
			e.mu.Unlock()
			if idle {
				return nil
			}
			// nothing runnable right now but something is waiting on a
			// deadline; yield briefly rather than busy-spinning.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
			continue
		}
		proc := e.processes[addr]
		e.mu.Unlock()

		e.runSlice(ctx, proc)
	}
}

// runSlice executes up to the process's reduction budget worth of
// instructions, then reschedules it if it's still alive and not blocked
// (spec §4.2 reduction counting).
func (e *Engine) runSlice(ctx context.Context, proc *ProcessContext) {
	budget := ReductionBudget(e.cfg.MaxReductionsPerSlice, proc.Priority)
	for i := 0; i < budget; i++ {
		if proc.State != StateAlive {
			break
		}
		if e.debugger != nil {
			switch e.debugger.Before(proc) {
			case DebugAbort:
				e.killProcess(proc, KillReason())
				break
			case DebugStepOver, DebugStep:
				// a single instruction is exactly one step; nothing extra
				// to do for either over or into, since this VM has no
				// nested-call single-step distinction beyond PC movement.
			}
		}
		if proc.State != StateAlive {
			break
		}
		e.step(proc)
		proc.Reductions++
		if proc.State == StateWaiting || proc.State == StateBlocked {
			return
		}
		if proc.State == StateDead {
			return
		}
		if proc.Yielded {
			proc.Yielded = false
			break
		}
	}
	if proc.State == StateAlive {
		e.mu.Lock()
		e.sched.Enqueue(proc.Address, proc.Priority)
		e.mu.Unlock()
	}
}

// cleanupExpiredMessages sweeps every live mailbox (spec §4.4 TTL cleanup).
func (e *Engine) cleanupExpiredMessages() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for _, p := range e.processes {
		p.Mailbox.CleanupExpired(now)
	}
}

// wakeDueTimers delivers SEND_AFTER messages and RECEIVE_WITH_TIMEOUT
// wakeups whose deadlines have passed. Caller must hold e.mu.
func (e *Engine) wakeDueTimers() {
	for _, pm := range e.timers.Due(time.Now()) {
		if pm.wake != 0 {
			if p, ok := e.processes[pm.wake]; ok && p.State == StateWaiting {
				p.CurrentException = nil
				e.resumeLocked(p)
			}
			continue
		}
		if p, ok := e.processes[pm.deliverTo]; ok {
			p.Mailbox.Enqueue(pm.msg)
			if p.State == StateWaiting {
				e.resumeLocked(p)
			}
		}
	}
}

// wakeSatisfiedWaiters re-checks every waiting process's WaitPred, moving
// satisfied ones back onto a run queue. Caller must hold e.mu.
func (e *Engine) wakeSatisfiedWaiters() {
	for _, addr := range e.sched.Waiting() {
		p, ok := e.processes[addr]
		if !ok {
			continue
		}
		if p.WaitPred != nil && p.WaitPred(p) {
			e.resumeLocked(p)
		}
	}
}

// resumeLocked moves a waiting process back onto its run queue. Caller
// must hold e.mu.
func (e *Engine) resumeLocked(p *ProcessContext) {
	if !e.sched.Resume(p.Address) {
		return
	}
	p.State = StateAlive
	p.WaitPred = nil
	e.sched.Enqueue(p.Address, p.Priority)
}

// wake resumes p if it is currently parked waiting on its mailbox, the way
// the fault handler wakes a process it just delivered a message to.
func (e *Engine) wake(p *ProcessContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.State == StateWaiting {
		e.resumeLocked(p)
	}
}

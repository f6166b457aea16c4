package vm

import "time"

// ExceptionHandler is a single TRY_BEGIN/TRY_END frame: the PC to jump to on
// a thrown Fault, and the depths (data stack, call stack, locals, frame
// pointer) to unwind back to (spec §3 "Exception Handler frame", §4.7
// THROW). A THROW that crosses a CALL/LAMBDA_INVOKE boundary has to unwind
// all four, not just the data stack, or the handler resumes with a stale
// call stack and frame pointer.
type ExceptionHandler struct {
	CatchPC      PC
	DataDepth    int
	CallDepth    int
	LocalsDepth  int
	FramePointer int
}

// callFrame is a saved caller site, pushed by CALL/CALL_DYNAMIC/LAMBDA_INVOKE
// and popped by RETURN/RETURN_VALUE (spec §4.1 call/return). ReturnLocals is
// the full locals slice as it stood before the call; restoring it on return
// both caps off any locals the callee appended (CALL opens a new frame atop
// the same array) and swaps back a lambda's fresh locals array entirely.
type callFrame struct {
	ReturnPC      PC
	ReturnInstrs  []Instruction
	ReturnLocals  []Value
	ReturnClosure *Lambda
	FramePointer  int
}

// waitPredicate is the condition a blocked process is waiting on, used by
// the scheduler to decide whether a Waiting process becomes runnable again
// (spec §4.2 scheduling states).
type waitPredicate func(p *ProcessContext) bool

// ProcessContext is the full execution state of a single lightweight
// process (spec §3). It is only ever mutated by the scheduler goroutine
// that currently owns it, except for Mailbox, which has its own lock, and
// the exit fields (State, ExitReason) that exitProcess sets under Engine.mu,
// also from the fault-handler goroutine.
type ProcessContext struct {
	Address  Address
	State    State
	Priority Priority

	PC           PC
	Instructions []Instruction

	Data   []Value
	Locals []Value

	FramePointer int
	Calls        []callFrame

	CurrentClosure *Lambda

	// Subroutines is the name -> start-address table CALL/CALL_DYNAMIC
	// resolve against (spec §3). Children spawned from a supervisor's
	// ChildSpec share their parent's table rather than each getting a copy
	// (spec §4.6 add_child: "sharing subroutines").
	Subroutines map[string]PC

	Globals    *OrderedMap
	Mailbox    *Mailbox

	Handlers         []ExceptionHandler
	CurrentException *Fault

	TrapExit bool
	Yielded  bool
	Flags    *OrderedMap

	RegisteredName string
	Parent         Address
	HasParent      bool
	ExitReason     Reason

	Reductions int64
	CreatedAt  time.Time

	WaitSince   time.Time
	WaitUntil   time.Time
	WaitPred    waitPredicate
	WaitReplace Instruction // instruction to retry once unblocked, if any

	Links    map[Address]struct{}
	Monitors map[uint64]MonitorRef // monitors this process owns (it is the watcher)
	Watchers map[uint64]MonitorRef // monitors watching this process
}

func newProcessContext(addr Address, instrs []Instruction, priority Priority, mailboxCap int, now time.Time) *ProcessContext {
	return &ProcessContext{
		Address:      addr,
		State:        StateAlive,
		Priority:     priority,
		Instructions: instrs,
		Globals:      NewOrderedMap(),
		Mailbox:      NewMailbox(mailboxCap),
		Flags:        NewOrderedMap(),
		CreatedAt:    now,
		Links:        make(map[Address]struct{}),
		Monitors:     make(map[uint64]MonitorRef),
		Watchers:     make(map[uint64]MonitorRef),
	}
}

func (p *ProcessContext) pushData(v Value) { p.Data = append(p.Data, v) }

func (p *ProcessContext) popData() (Value, bool) {
	if len(p.Data) == 0 {
		return Value{}, false
	}
	v := p.Data[len(p.Data)-1]
	p.Data = p.Data[:len(p.Data)-1]
	return v, true
}

func (p *ProcessContext) peekData() (Value, bool) {
	if len(p.Data) == 0 {
		return Value{}, false
	}
	return p.Data[len(p.Data)-1], true
}

func (p *ProcessContext) peekDataAt(depth int) (Value, bool) {
	i := len(p.Data) - 1 - depth
	if i < 0 || i >= len(p.Data) {
		return Value{}, false
	}
	return p.Data[i], true
}

// pushHandler / popHandler manage the exception-handler stack for
// TRY_BEGIN/TRY_END (spec §4.7).
func (p *ProcessContext) pushHandler(h ExceptionHandler) { p.Handlers = append(p.Handlers, h) }

func (p *ProcessContext) popHandler() (ExceptionHandler, bool) {
	if len(p.Handlers) == 0 {
		return ExceptionHandler{}, false
	}
	h := p.Handlers[len(p.Handlers)-1]
	p.Handlers = p.Handlers[:len(p.Handlers)-1]
	return h, true
}

// Info renders the GET_INFO map shape (spec §6): address, state, priority,
// reduction count, mailbox size, registered name.
func (p *ProcessContext) Info() Value {
	m := NewOrderedMap()
	m.Set("address", Uint(uint64(p.Address)))
	m.Set("state", Sym(p.State.String()))
	m.Set("priority", Sym(p.Priority.String()))
	m.Set("reductions", Int(p.Reductions))
	m.Set("mailbox_size", Int(int64(p.Mailbox.Len())))
	if p.RegisteredName != "" {
		m.Set("registered_name", Str(p.RegisteredName))
	}
	return MapVal(m)
}

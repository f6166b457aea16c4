package vm

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// RestartStrategy selects how a supervisor reacts to one of its children
// exiting abnormally (spec §4.6).
type RestartStrategy uint8

const (
	OneForOne RestartStrategy = iota
	OneForAll
	RestForOne
	SimpleOneForOne
)

// RestartPolicy is a per-child decision about whether an exit warrants a
// restart at all (spec §4.6).
type RestartPolicy uint8

const (
	RestartPermanent RestartPolicy = iota // always restart
	RestartTransient                      // restart only on abnormal exit
	RestartTemporary                      // never restart
)

// ChildType distinguishes a plain worker from a nested supervisor (spec §3
// child specification: "type ∈ {Worker, Supervisor}").
type ChildType uint8

const (
	ChildWorker ChildType = iota
	ChildSupervisor
)

// ShutdownKind selects how a supervisor stops one of its children (spec
// §4.6 "Shutdown"): Brutal kills outright, Timeout/Infinity push a
// shutdown message and poll for the child's own graceful exit first.
type ShutdownKind uint8

const (
	ShutdownBrutal ShutdownKind = iota
	ShutdownTimeout
	ShutdownInfinity
)

// ShutdownPolicy is the shutdown ∈ {Brutal, Timeout(d), Infinity} field of
// a child spec. Timeout is ignored outside ShutdownTimeout.
type ShutdownPolicy struct {
	Kind    ShutdownKind
	Timeout time.Duration
}

func BrutalShutdown() ShutdownPolicy                { return ShutdownPolicy{Kind: ShutdownBrutal} }
func TimeoutShutdown(d time.Duration) ShutdownPolicy { return ShutdownPolicy{Kind: ShutdownTimeout, Timeout: d} }
func InfinityShutdown() ShutdownPolicy              { return ShutdownPolicy{Kind: ShutdownInfinity} }

// shutdownPollInterval paces StopChild's poll loop while it waits for a
// Timeout/Infinity child to exit on its own.
const shutdownPollInterval = 5 * time.Millisecond

// ChildSpec describes one supervised child, enough to (re)spawn it from
// scratch (spec §3, §4.6 child_spec).
type ChildSpec struct {
	ID          string
	Body        []Instruction
	Subroutines map[string]PC
	Globals     *OrderedMap
	Type        ChildType
	Priority    Priority
	Restart     RestartPolicy
	Shutdown    ShutdownPolicy
}

type childState struct {
	spec  ChildSpec
	addr  Address
	alive bool
}

// Supervisor owns a fixed (OneForOne/OneForAll/RestForOne) or dynamic
// (SimpleOneForOne) set of children, restarting them per Strategy within a
// restart-rate window. The window is enforced with the same sliding-window
// limiter the rest of the pack uses for request throttling, repurposed
// here as a restart-intensity guard (spec §4.6 "restart window").
type Supervisor struct {
	e        *Engine
	Owner    Address
	Strategy RestartStrategy
	children []*childState
	limiter  *catrate.Limiter
	template ChildSpec // for SimpleOneForOne: the spec new children are stamped from
}

// NewSupervisor builds a Supervisor owned by owner. maxRestarts restarts
// are allowed within window before the supervisor gives up and lets the
// offending child stay dead (spec §4.6 restart intensity).
func NewSupervisor(e *Engine, owner Address, strategy RestartStrategy, maxRestarts int, window time.Duration) *Supervisor {
	return &Supervisor{
		e:        e,
		Owner:    owner,
		Strategy: strategy,
		limiter:  catrate.NewLimiter(map[time.Duration]int{window: maxRestarts}),
	}
}

// StartChild spawns spec as a new supervised child, linking it via monitor
// so the supervisor learns of its exit.
func (s *Supervisor) StartChild(spec ChildSpec) (Address, error) {
	addr, err := s.e.SpawnChild(spec, s.Owner)
	if err != nil {
		return 0, err
	}
	if _, err := s.e.links.Monitor(s.Owner, addr, time.Now().UnixNano()); err != nil {
		return 0, err
	}
	s.children = append(s.children, &childState{spec: spec, addr: addr, alive: true})
	if s.Strategy == SimpleOneForOne {
		s.template = spec
	}
	return addr, nil
}

// StopChild stops one child by id, without restarting it, honoring its
// ShutdownPolicy (spec §4.6 "Shutdown").
func (s *Supervisor) StopChild(id string) error {
	cs := s.find(id)
	if cs == nil || !cs.alive {
		return NewFault(KindInvalidAddress, "no such child")
	}
	s.shutdownChild(cs)
	cs.alive = false
	return nil
}

// shutdownChild stops cs per its ShutdownPolicy: Brutal kills outright;
// Timeout/Infinity push a shutdown message to the child's mailbox and poll
// for its own death, force-killing only once a Timeout expires (spec §4.6:
// "Timeout(d) pushes a shutdown message... polls for death up to d,
// force-killing on expiry; Infinity pushes the shutdown message and polls
// indefinitely"). This blocks the caller for the duration of the poll —
// acceptable for STOP_CHILD, which is not on any process's hot path.
func (s *Supervisor) shutdownChild(cs *childState) {
	p, ok := s.e.process(cs.addr)
	if !ok {
		return
	}
	if cs.spec.Shutdown.Kind == ShutdownBrutal {
		s.e.killProcess(p, ShutdownReason())
		return
	}

	msg := NewOrderedMap()
	msg.Set("type", Sym("shutdown"))
	p.Mailbox.Enqueue(Message{From: s.Owner, Body: MapVal(msg)})
	s.e.wake(p)

	var deadline time.Time
	if cs.spec.Shutdown.Kind == ShutdownTimeout {
		deadline = time.Now().Add(cs.spec.Shutdown.Timeout)
	}
	for {
		cur, ok := s.e.process(cs.addr)
		if !ok || cur.State == StateDead {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		time.Sleep(shutdownPollInterval)
	}
	if cur, ok := s.e.process(cs.addr); ok && cur.State != StateDead {
		s.e.killProcess(cur, ShutdownReason())
	}
}

// RestartChild force-restarts one child regardless of its RestartPolicy,
// replacing its address with a freshly spawned process.
func (s *Supervisor) RestartChild(id string) (Address, error) {
	cs := s.find(id)
	if cs == nil {
		return 0, NewFault(KindInvalidAddress, "no such child")
	}
	if cs.alive {
		s.shutdownChild(cs)
	}
	addr, err := s.e.SpawnChild(cs.spec, s.Owner)
	if err != nil {
		return 0, err
	}
	if _, merr := s.e.links.Monitor(s.Owner, addr, time.Now().UnixNano()); merr != nil {
		return 0, merr
	}
	cs.addr = addr
	cs.alive = true
	return addr, nil
}

// ListChildren renders the child table as a Value (spec §6 LIST_CHILDREN).
func (s *Supervisor) ListChildren() Value {
	items := make([]Value, len(s.children))
	for i, cs := range s.children {
		m := NewOrderedMap()
		m.Set("id", Str(cs.spec.ID))
		m.Set("address", Uint(uint64(cs.addr)))
		m.Set("alive", Bool(cs.alive))
		items[i] = MapVal(m)
	}
	return Arr(items...)
}

func (s *Supervisor) CountChildren() int { return len(s.children) }

func (s *Supervisor) find(id string) *childState {
	for _, cs := range s.children {
		if cs.spec.ID == id {
			return cs
		}
	}
	return nil
}

func (s *Supervisor) findByAddr(addr Address) *childState {
	for _, cs := range s.children {
		if cs.addr == addr {
			return cs
		}
	}
	return nil
}

// HandleExit reacts to one of this supervisor's children exiting, applying
// Strategy (spec §4.6). It is invoked by the fault handler whenever a
// monitored address it recognizes as a child dies.
func (s *Supervisor) HandleExit(child Address, reason Reason) {
	cs := s.findByAddr(child)
	if cs == nil {
		return
	}
	cs.alive = false

	if !s.shouldRestart(cs.spec.Restart, reason) {
		return
	}
	if _, allowed := s.limiter.Allow(cs.spec.ID); !allowed {
		s.e.cfg.Logger.Warn().Uint64("supervisor", uint64(s.Owner)).Str("child", cs.spec.ID).Msg("restart intensity exceeded, giving up")
		return
	}

	switch s.Strategy {
	case OneForOne, SimpleOneForOne:
		s.respawn(cs)
	case OneForAll:
		for _, other := range s.children {
			if other.alive && other != cs {
				s.shutdownChild(other)
				other.alive = false
			}
		}
		for _, other := range s.children {
			s.respawn(other)
		}
	case RestForOne:
		restart := false
		for _, other := range s.children {
			if other == cs {
				restart = true
			}
			if !restart {
				continue
			}
			if other.alive && other != cs {
				s.shutdownChild(other)
				other.alive = false
			}
		}
		restart = false
		for _, other := range s.children {
			if other == cs {
				restart = true
			}
			if restart {
				s.respawn(other)
			}
		}
	}
}

func (s *Supervisor) respawn(cs *childState) {
	addr, err := s.e.SpawnChild(cs.spec, s.Owner)
	if err != nil {
		return
	}
	s.e.links.Monitor(s.Owner, addr, time.Now().UnixNano())
	cs.addr = addr
	cs.alive = true
}

func (s *Supervisor) shouldRestart(policy RestartPolicy, reason Reason) bool {
	switch policy {
	case RestartTemporary:
		return false
	case RestartTransient:
		return reason.Kind != ReasonNormal && reason.Kind != ReasonShutdown
	default: // Permanent
		return true
	}
}

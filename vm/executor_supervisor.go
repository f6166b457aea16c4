package vm

import "time"

const (
	defaultMaxRestarts    = 3
	defaultRestartWindow  = 5 * time.Second
)

// execSupervisorOp implements START_CHILD/STOP_CHILD/RESTART_CHILD/
// LIST_CHILDREN/COUNT_CHILDREN (spec §4.6). The owning process's
// Supervisor is created lazily on the first START_CHILD, with strategy
// and restart-window taken from its flags (SET_FLAG "supervisor_strategy"/
// "max_restarts"/"restart_window_ms"), defaulting to OneForOne.
func (e *Engine) execSupervisorOp(proc *ProcessContext, instr Instruction) *Fault {
	sup := e.supervisorFor(proc)

	switch instr.Op {
	case OpStartChild:
		m := instr.Arg.AsMap()
		spec, err := childSpecFromValue(m)
		if err != nil {
			return err
		}
		addr, serr := sup.StartChild(spec)
		if serr != nil {
			return serr.(*Fault)
		}
		proc.pushData(Uint(uint64(addr)))

	case OpStopChild:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		if err := sup.StopChild(v.AsString()); err != nil {
			return err.(*Fault)
		}

	case OpRestartChild:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		addr, err := sup.RestartChild(v.AsString())
		if err != nil {
			return err.(*Fault)
		}
		proc.pushData(Uint(uint64(addr)))

	case OpListChildren:
		proc.pushData(sup.ListChildren())

	case OpCountChildren:
		proc.pushData(Int(int64(sup.CountChildren())))
	}
	return nil
}

// supervisorFor returns proc's Supervisor, creating it on first use with
// whatever strategy/limits are currently in its flags.
func (e *Engine) supervisorFor(proc *ProcessContext) *Supervisor {
	e.supervisorsMu.Lock()
	defer e.supervisorsMu.Unlock()
	if sup, ok := e.supervisors[proc.Address]; ok {
		return sup
	}
	strategy := OneForOne
	if v, ok := proc.Flags.Get("supervisor_strategy"); ok {
		strategy = strategyFromSymbol(v.AsString())
	}
	maxRestarts := defaultMaxRestarts
	if v, ok := proc.Flags.Get("max_restarts"); ok {
		maxRestarts = int(v.AsInt())
	}
	window := defaultRestartWindow
	if v, ok := proc.Flags.Get("restart_window_ms"); ok {
		window = time.Duration(v.AsInt()) * time.Millisecond
	}
	sup := NewSupervisor(e, proc.Address, strategy, maxRestarts, window)
	e.supervisors[proc.Address] = sup
	return sup
}

func strategyFromSymbol(s string) RestartStrategy {
	switch s {
	case "one_for_all":
		return OneForAll
	case "rest_for_one":
		return RestForOne
	case "simple_one_for_one":
		return SimpleOneForOne
	default:
		return OneForOne
	}
}

func childSpecFromValue(m *OrderedMap) (ChildSpec, *Fault) {
	if m == nil {
		return ChildSpec{}, NewFault(KindTypeMismatch, "START_CHILD requires a child_spec map")
	}
	idVal, _ := m.Get("id")
	bodyVal, ok := m.Get("body")
	if !ok {
		return ChildSpec{}, NewFault(KindValue, "child_spec missing body")
	}
	priority := PriorityNormal
	if pv, ok := m.Get("priority"); ok {
		priority = priorityFromSymbol(pv.AsString())
	}
	restart := RestartPermanent
	if rv, ok := m.Get("restart"); ok {
		restart = restartFromSymbol(rv.AsString())
	}
	childType := ChildWorker
	if tv, ok := m.Get("type"); ok && tv.AsString() == "supervisor" {
		childType = ChildSupervisor
	}
	var subroutines map[string]PC
	if sv, ok := m.Get("subroutines"); ok && sv.Tag == TagMap {
		subroutines = make(map[string]PC, sv.AsMap().Len())
		for _, name := range sv.AsMap().Keys() {
			addr, _ := sv.AsMap().Get(name)
			subroutines[name] = PC(addr.AsInt())
		}
	}
	var globals *OrderedMap
	if gv, ok := m.Get("globals"); ok && gv.Tag == TagMap {
		globals = gv.AsMap()
	}
	shutdown := BrutalShutdown()
	if sv, ok := m.Get("shutdown"); ok {
		shutdown = shutdownFromValue(sv)
	}
	return ChildSpec{
		ID:          idVal.AsString(),
		Body:        bodyVal.AsInstructions(),
		Subroutines: subroutines,
		Globals:     globals,
		Type:        childType,
		Priority:    priority,
		Restart:     restart,
		Shutdown:    shutdown,
	}, nil
}

// shutdownFromValue decodes the shutdown field of a child_spec map: either
// the bare symbols 'brutal'/'infinity', or a map {kind: "timeout", ms: N}
// for Timeout(d).
func shutdownFromValue(v Value) ShutdownPolicy {
	if v.Tag == TagSymbol {
		if v.AsString() == "infinity" {
			return InfinityShutdown()
		}
		return BrutalShutdown()
	}
	if v.Tag == TagMap {
		kind, _ := v.AsMap().Get("kind")
		if kind.AsString() == "timeout" {
			ms, _ := v.AsMap().Get("ms")
			return TimeoutShutdown(time.Duration(ms.AsInt()) * time.Millisecond)
		}
		if kind.AsString() == "infinity" {
			return InfinityShutdown()
		}
	}
	return BrutalShutdown()
}

func priorityFromSymbol(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "max":
		return PriorityMax
	default:
		return PriorityNormal
	}
}

func restartFromSymbol(s string) RestartPolicy {
	switch s {
	case "transient":
		return RestartTransient
	case "temporary":
		return RestartTemporary
	default:
		return RestartPermanent
	}
}

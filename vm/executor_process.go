package vm

import "time"

// execProcessOp implements the process-management opcode family (spec
// §4.5, §4.6): spawning, exiting, linking, monitoring, registration and
// per-process flags.
func (e *Engine) execProcessOp(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpSpawn:
		bodyVal, ok := proc.popData()
		if !ok {
			return underflow()
		}
		body := bodyVal.AsInstructions()
		addr, err := e.Spawn(body, PriorityNormal, proc.Address, true)
		if err != nil {
			return err.(*Fault)
		}
		proc.pushData(Uint(uint64(addr)))

	case OpSpawnLinked:
		bodyVal, ok := proc.popData()
		if !ok {
			return underflow()
		}
		body := bodyVal.AsInstructions()
		addr, err := e.Spawn(body, PriorityNormal, proc.Address, true)
		if err != nil {
			return err.(*Fault)
		}
		e.links.Link(proc.Address, addr)
		proc.pushData(Uint(uint64(addr)))

	case OpSpawnMonitored:
		bodyVal, ok := proc.popData()
		if !ok {
			return underflow()
		}
		body := bodyVal.AsInstructions()
		addr, err := e.Spawn(body, PriorityNormal, proc.Address, true)
		if err != nil {
			return err.(*Fault)
		}
		ref, merr := e.links.Monitor(proc.Address, addr, time.Now().UnixNano())
		if merr != nil {
			return merr.(*Fault)
		}
		proc.pushData(Arr(Uint(uint64(addr)), MonitorRefVal(ref)))

	case OpSelf:
		proc.pushData(Uint(uint64(proc.Address)))

	case OpExit:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		e.exitProcess(proc, reasonFromValue(v))

	case OpExitRemote:
		if len(proc.Data) < 2 {
			return underflow()
		}
		reasonVal, _ := proc.popData()
		targetVal, _ := proc.popData()
		target, ok := e.process(Address(targetVal.AsUint()))
		if !ok {
			return NewFault(KindInvalidAddress, "exit target does not exist")
		}
		reason := reasonFromValue(reasonVal)
		if reason.Kind == ReasonKill || !target.TrapExit {
			e.killProcess(target, reason)
			return nil
		}
		msg := NewOrderedMap()
		msg.Set("type", Sym(string(LinkTypeLink)))
		msg.Set("from", Uint(uint64(proc.Address)))
		msg.Set("reason", reason.ToValue())
		target.Mailbox.Enqueue(Message{From: proc.Address, Body: MapVal(msg)})

	case OpKill:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		target, ok := e.process(Address(v.AsUint()))
		if !ok {
			return NewFault(KindInvalidAddress, "kill target does not exist")
		}
		e.killProcess(target, KillReason())

	case OpSleep:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		deadline := time.Now().Add(time.Duration(v.AsInt()) * time.Millisecond)
		e.mu.Lock()
		e.timers.ScheduleWake(deadline, proc.Address)
		e.sched.MarkWaiting(proc.Address)
		e.mu.Unlock()
		proc.State = StateWaiting
		proc.WaitUntil = deadline

	case OpYield:
		proc.Yielded = true

	case OpLink:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		target := Address(v.AsUint())
		if tp, ok := e.process(target); !ok || tp.State == StateDead {
			e.linkDeadTarget(proc, target)
			return nil
		}
		e.links.Link(proc.Address, target)

	case OpUnlink:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		e.links.Unlink(proc.Address, Address(v.AsUint()))

	case OpMonitor:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		target := Address(v.AsUint())
		if tp, ok := e.process(target); !ok || tp.State == StateDead {
			ref := e.links.SyntheticMonitor(proc.Address, target, time.Now().UnixNano())
			e.deliverDownForDeadTarget(proc, ref)
			proc.pushData(MonitorRefVal(ref))
			return nil
		}
		ref, err := e.links.Monitor(proc.Address, target, time.Now().UnixNano())
		if err != nil {
			return err.(*Fault)
		}
		proc.pushData(MonitorRefVal(ref))

	case OpDemonitor:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		ref, ok := v.AsMonitorRef()
		if !ok {
			return NewFaultf(KindTypeMismatch, "DEMONITOR requires a monitor ref, got %s", v.Tag)
		}
		proc.pushData(Bool(e.links.Demonitor(ref)))

	case OpTrapExitEnable:
		proc.TrapExit = true

	case OpTrapExitDisable:
		proc.TrapExit = false

	case OpIsAlive:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		target, ok := e.process(Address(v.AsUint()))
		proc.pushData(Bool(ok && target.State != StateDead))

	case OpGetInfo:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		target, ok := e.process(Address(v.AsUint()))
		if !ok {
			proc.pushData(Null())
			return nil
		}
		proc.pushData(target.Info())

	case OpRegister:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		name := v.AsString()
		if err := e.registry.Register(name, proc.Address); err != nil {
			return err.(*Fault)
		}
		proc.RegisteredName = name

	case OpUnregister:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		e.registry.Unregister(v.AsString())
		if proc.RegisteredName == v.AsString() {
			proc.RegisteredName = ""
		}

	case OpWhereis:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		addr, found := e.registry.Whereis(v.AsString())
		if !found {
			proc.pushData(Null())
			return nil
		}
		proc.pushData(Uint(uint64(addr)))

	case OpSetFlag:
		if len(proc.Data) < 2 {
			return underflow()
		}
		val, _ := proc.popData()
		key, _ := proc.popData()
		proc.Flags.Set(key.AsString(), val)

	case OpGetFlag:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		flag, found := proc.Flags.Get(v.AsString())
		if !found {
			flag = Null()
		}
		proc.pushData(flag)
	}
	return nil
}

// linkDeadTarget implements LINK's dead/nonexistent-target branch (spec
// §4.1): a trapping process gets a DOWN message in its own mailbox, an
// untrapped one pays for it with its own life.
func (e *Engine) linkDeadTarget(proc *ProcessContext, target Address) {
	if proc.TrapExit {
		msg := NewOrderedMap()
		msg.Set("type", Sym(string(LinkTypeMonitor)))
		msg.Set("from", Uint(uint64(target)))
		msg.Set("reason", InvalidProcessReason("link target does not exist").ToValue())
		proc.Mailbox.Enqueue(Message{From: target, Body: MapVal(msg)})
		return
	}
	e.exitProcess(proc, InvalidProcessReason("link target does not exist"))
}

// deliverDownForDeadTarget implements MONITOR's dead/nonexistent-target
// branch (spec §4.1): the watcher survives unconditionally and gets an
// immediate DOWN, same shape signalMonitor uses for a real exit.
func (e *Engine) deliverDownForDeadTarget(proc *ProcessContext, ref MonitorRef) {
	msg := NewOrderedMap()
	msg.Set("type", Sym(string(LinkTypeMonitor)))
	msg.Set("ref", MonitorRefVal(ref))
	msg.Set("from", Uint(uint64(ref.Watched)))
	msg.Set("reason", InvalidProcessReason("monitor target does not exist").ToValue())
	proc.Mailbox.Enqueue(Message{From: ref.Watched, Body: MapVal(msg)})
}

// reasonFromValue decodes the map shape produced by Reason.ToValue, with a
// few symbol shorthands for the common cases (spec §4.5).
func reasonFromValue(v Value) Reason {
	if v.Tag == TagSymbol {
		switch v.AsString() {
		case string(ReasonNormal):
			return NormalReason()
		case string(ReasonShutdown):
			return ShutdownReason()
		case string(ReasonKill):
			return KillReason()
		}
	}
	if v.Tag == TagMap {
		kindVal, _ := v.AsMap().Get("kind")
		msgVal, _ := v.AsMap().Get("message")
		return Reason{Kind: ReasonKind(kindVal.AsString()), Message: msgVal.AsString()}
	}
	return Reason{Kind: ReasonException, Message: v.AsString()}
}

package vm

// execControl implements jumps, calls, returns and HALT (spec §4.1 control
// flow). It takes *Engine so OpCallBuiltin can reach the builtin registry
// and HALT/RETURN can end the process through exitProcess; everything else
// only touches proc.
func (e *Engine) execControl(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpJump:
		target := PC(instr.Arg.AsInt())
		if int(target) < 0 || int(target) > len(proc.Instructions) {
			return NewFaultf(KindInvalidJumpTarget, "jump target %d out of range", target)
		}
		proc.PC = target
	case OpJumpFwd:
		proc.PC += PC(instr.Arg.AsInt())
	case OpJumpBwd:
		proc.PC -= PC(instr.Arg.AsInt())
	case OpJumpIfTrue, OpJumpIfTrueKeep:
		v, ok := popOrPeek(proc, instr.Op == OpJumpIfTrueKeep)
		if !ok {
			return underflow()
		}
		if v.Truthy() {
			proc.PC += PC(instr.Arg.AsInt())
		}
	case OpJumpIfFalse, OpJumpIfFalseKeep:
		v, ok := popOrPeek(proc, instr.Op == OpJumpIfFalseKeep)
		if !ok {
			return underflow()
		}
		if !v.Truthy() {
			proc.PC += PC(instr.Arg.AsInt())
		}
	case OpCall:
		target, fault := resolveSubroutine(proc, instr.Arg.AsString())
		if fault != nil {
			return fault
		}
		return e.doCall(proc, target, proc.CurrentClosure)
	case OpCallDynamic:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		target, fault := resolveSubroutine(proc, v.AsString())
		if fault != nil {
			return fault
		}
		return e.doCall(proc, target, proc.CurrentClosure)
	case OpCallIndirect:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		return e.doCallIndirect(proc, v)
	case OpCallBuiltin:
		name := instr.Arg.AsString()
		fn, ok := e.builtins.Lookup(name)
		if !ok {
			return NewFaultf(KindUndefinedFunction, "undefined builtin %q", name)
		}
		argc, _ := proc.popData()
		n := int(argc.AsInt())
		if len(proc.Data) < n {
			return underflow()
		}
		args := append([]Value(nil), proc.Data[len(proc.Data)-n:]...)
		proc.Data = proc.Data[:len(proc.Data)-n]
		result, err := fn(proc, args)
		if err != nil {
			if f, ok := AsFault(err); ok {
				return f
			}
			return NewFault(KindRuntime, err.Error())
		}
		proc.pushData(result)
	case OpReturn, OpReturnValue:
		return e.doReturn(proc, instr.Op == OpReturnValue)
	case OpHalt:
		e.exitProcess(proc, NormalReason())
	}
	return nil
}

func popOrPeek(proc *ProcessContext, keep bool) (Value, bool) {
	if keep {
		return proc.peekData()
	}
	return proc.popData()
}

// resolveSubroutine looks name up in proc's subroutine table (spec §3, §4.1
// CALL/CALL_DYNAMIC): "name -> code block + start address". Subroutines
// share the process's own Instructions, so only the start PC is recorded.
func resolveSubroutine(proc *ProcessContext, name string) (PC, *Fault) {
	target, ok := proc.Subroutines[name]
	if !ok {
		return 0, NewFaultf(KindUndefinedSubroutine, "undefined subroutine %q", name)
	}
	return target, nil
}

// doCall pushes a return frame and jumps to target, opening a new locals
// frame at the current locals length (spec §4.1 CALL: "sets frame_pointer
// to locals.len"). The locals array itself is left alone — CALL doesn't
// swap it out the way LAMBDA_INVOKE does, it just claims the slots above
// the new frame pointer, so nested calls stack their locals in one array.
func (e *Engine) doCall(proc *ProcessContext, target PC, closure *Lambda) *Fault {
	if int(target) < 0 || int(target) > len(proc.Instructions) {
		return NewFaultf(KindInvalidJumpTarget, "call target %d out of range", target)
	}
	proc.Calls = append(proc.Calls, callFrame{
		ReturnPC:      proc.PC,
		ReturnInstrs:  proc.Instructions,
		ReturnLocals:  proc.Locals,
		ReturnClosure: proc.CurrentClosure,
		FramePointer:  proc.FramePointer,
	})
	proc.FramePointer = len(proc.Locals)
	proc.CurrentClosure = closure
	proc.PC = target
	return nil
}

// doCallIndirect implements CALL_INDIRECT (spec §4.1): the popped value is
// an instruction block or a lambda, switched to directly at PC 0, with a
// frame pushed so RETURN finds its way back. A lambda callee additionally
// installs current_closure and splices its captured environment into
// globals (the same mechanism LAMBDA_INVOKE uses, minus argument binding).
func (e *Engine) doCallIndirect(proc *ProcessContext, v Value) *Fault {
	var body []Instruction
	var closure *Lambda
	switch v.Tag {
	case TagInstructions:
		body = v.AsInstructions()
	case TagLambda:
		closure = v.AsLambda()
		if closure == nil {
			return NewFaultf(KindTypeMismatch, "CALL_INDIRECT requires an instruction block or lambda, got %s", v.Tag)
		}
		body = closure.Body
	default:
		return NewFaultf(KindTypeMismatch, "CALL_INDIRECT requires an instruction block or lambda, got %s", v.Tag)
	}
	proc.Calls = append(proc.Calls, callFrame{
		ReturnPC:      proc.PC,
		ReturnInstrs:  proc.Instructions,
		ReturnLocals:  proc.Locals,
		ReturnClosure: proc.CurrentClosure,
		FramePointer:  proc.FramePointer,
	})
	proc.FramePointer = len(proc.Locals)
	proc.Instructions = body
	proc.PC = 0
	if closure != nil {
		proc.CurrentClosure = closure
		if closure.Captured != nil {
			for _, name := range closure.Captured.Keys() {
				cv, _ := closure.Captured.Get(name)
				proc.Globals.Set(name, cv)
			}
		}
	}
	return nil
}

// doReturn pops the current call frame. returnValue indicates RETURN_VALUE,
// which keeps the top data-stack value across the frame boundary. The data
// stack is untouched by CALL/RETURN (spec §4.1 never mentions it for these
// opcodes) — only locals, instructions and the frame pointer unwind.
func (e *Engine) doReturn(proc *ProcessContext, returnValue bool) *Fault {
	var result Value
	if returnValue {
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		result = v
	}
	if len(proc.Calls) == 0 {
		e.exitProcess(proc, NormalReason())
		return nil
	}
	frame := proc.Calls[len(proc.Calls)-1]
	proc.Calls = proc.Calls[:len(proc.Calls)-1]
	proc.Instructions = frame.ReturnInstrs
	proc.PC = frame.ReturnPC
	proc.Locals = frame.ReturnLocals
	proc.CurrentClosure = frame.ReturnClosure
	proc.FramePointer = frame.FramePointer
	if returnValue {
		proc.pushData(result)
	}
	return nil
}

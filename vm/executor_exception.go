package vm

// execExceptionOp implements THROW/RETHROW/TRY_BEGIN/TRY_END/CATCH/
// GET_STACKTRACE (spec §4.7).
func execExceptionOp(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpThrow:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		return &Fault{Kind: KindUnhandled, Message: "user exception", Payload: v}

	case OpRethrow:
		if proc.CurrentException == nil {
			return NewFault(KindRuntime, "RETHROW with no active exception")
		}
		return proc.CurrentException

	case OpTryBegin:
		target := proc.PC + PC(instr.Arg.AsInt())
		if int(target) < 0 || int(target) > len(proc.Instructions) {
			return NewFaultf(KindInvalidJumpTarget, "try target %d out of range", target)
		}
		proc.pushHandler(ExceptionHandler{
			CatchPC:      target,
			DataDepth:    len(proc.Data),
			CallDepth:    len(proc.Calls),
			LocalsDepth:  len(proc.Locals),
			FramePointer: proc.FramePointer,
		})

	case OpTryEnd:
		if _, ok := proc.popHandler(); !ok {
			return NewFault(KindRuntime, "TRY_END with no active handler")
		}

	case OpCatch:
		if proc.CurrentException == nil {
			proc.pushData(Null())
			return nil
		}
		proc.pushData(proc.CurrentException.Payload)
		proc.CurrentException = nil

	case OpGetStacktrace:
		if proc.CurrentException == nil {
			proc.pushData(Null())
			return nil
		}
		m := NewOrderedMap()
		m.Set("kind", Sym(string(proc.CurrentException.Kind)))
		m.Set("message", Str(proc.CurrentException.Message))
		m.Set("process", Uint(uint64(proc.CurrentException.Process)))
		m.Set("pc", Int(int64(proc.CurrentException.Counter)))
		proc.pushData(MapVal(m))
	}
	return nil
}

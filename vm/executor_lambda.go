package vm

// execLambda implements LAMBDA_CREATE/INVOKE/BIND (spec §4.1 closures).
// LAMBDA_CREATE's operand is a template Lambda (Body/Params/UpNames
// prepared ahead of time); creating it snapshots the referenced names out
// of Globals into Upvalues, which is how a closure keeps working after its
// defining frame returns. Captures come from globals only — locals are
// positional slots with no stable name to capture by — and a name absent
// from globals is simply skipped rather than raising UndefinedVariable
// (spec §4.1 LAMBDA_CREATE, §9 open question: "missing names are skipped
// rather than errored, matching source behavior").
func execLambda(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpLambdaCreate:
		tmpl := instr.Arg.AsLambda()
		if tmpl == nil {
			return NewFaultf(KindTypeMismatch, "LAMBDA_CREATE requires a lambda template, got %s", instr.Arg.Tag)
		}
		up := make([]Value, len(tmpl.UpNames))
		for i, name := range tmpl.UpNames {
			if v, ok := proc.Globals.Get(name); ok {
				up[i] = v
			}
		}
		l := &Lambda{
			Body:     tmpl.Body,
			Params:   tmpl.Params,
			UpNames:  tmpl.UpNames,
			Upvalues: up,
			Captured: tmpl.Captured,
		}
		proc.pushData(LambdaVal(l))

	case OpLambdaInvoke:
		argc := int(instr.Arg.AsInt())
		if len(proc.Data) < argc+1 {
			return underflow()
		}
		args := append([]Value(nil), proc.Data[len(proc.Data)-argc:]...)
		proc.Data = proc.Data[:len(proc.Data)-argc]
		v, _ := proc.popData()

		var l *Lambda
		var bound []Value
		if bl, ok := v.AsBoundLambda(); ok {
			l = bl.Lambda
			bound = bl.Bound
		} else {
			l = v.AsLambda()
		}
		if l == nil {
			return NewFaultf(KindTypeMismatch, "LAMBDA_INVOKE requires a lambda, got %s", v.Tag)
		}
		args = append(append([]Value(nil), bound...), args...)
		return invokeLambdaArgs(proc, l, args)

	case OpLambdaBind:
		argc := int(instr.Arg.AsInt())
		if len(proc.Data) < argc+1 {
			return underflow()
		}
		args := append([]Value(nil), proc.Data[len(proc.Data)-argc:]...)
		proc.Data = proc.Data[:len(proc.Data)-argc]
		v, _ := proc.popData()

		var l *Lambda
		var already []Value
		if bl, ok := v.AsBoundLambda(); ok {
			l = bl.Lambda
			already = bl.Bound
		} else {
			l = v.AsLambda()
		}
		if l == nil {
			return NewFaultf(KindTypeMismatch, "LAMBDA_BIND requires a lambda, got %s", v.Tag)
		}
		proc.pushData(BoundLambdaVal(BoundLambda{Lambda: l, Bound: append(append([]Value(nil), already...), args...)}))
	}
	return nil
}

// invokeLambda is a zero-arg convenience wrapper around invokeLambdaArgs.
func (e *Engine) invokeLambda(proc *ProcessContext, l *Lambda) *Fault {
	return invokeLambdaArgs(proc, l, nil)
}

func invokeLambdaArgs(proc *ProcessContext, l *Lambda, args []Value) *Fault {
	proc.Calls = append(proc.Calls, callFrame{
		ReturnPC:      proc.PC,
		ReturnInstrs:  proc.Instructions,
		ReturnLocals:  proc.Locals,
		ReturnClosure: proc.CurrentClosure,
		FramePointer:  proc.FramePointer,
	})
	// fresh locals, bound positionally (spec §4.1 LAMBDA_INVOKE: "extra args
	// become additional locals, missing args are Null").
	n := len(l.Params)
	if len(args) > n {
		n = len(args)
	}
	locals := make([]Value, n)
	for i := range locals {
		if i < len(args) {
			locals[i] = args[i]
		} else {
			locals[i] = Null()
		}
	}
	proc.Locals = locals
	proc.CurrentClosure = l
	proc.Instructions = l.Body
	proc.PC = 0
	proc.FramePointer = 0

	// the alternate upvalue path (spec §9 open question): a lambda can also
	// carry a name->value snapshot that gets spliced into globals on invoke,
	// so a closure can share named bindings with its defining scope via
	// LOAD_GLOBAL/STORE_GLOBAL instead of LOAD_UPVALUE/STORE_UPVALUE.
	if l.Captured != nil {
		for _, name := range l.Captured.Keys() {
			v, _ := l.Captured.Get(name)
			proc.Globals.Set(name, v)
		}
	}
	return nil
}

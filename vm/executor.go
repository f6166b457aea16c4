package vm

import (
	"fmt"
	"math"
)

// step executes exactly one instruction for proc, mirroring the shape of
// the teacher's execNextInstruction: fetch at PC, pre-advance PC, dispatch
// on opcode, and assign a Fault into a well-known slot on failure. Here
// that slot is proc.CurrentException, which raiseFault either routes to a
// handler frame or escalates into a process exit.
func (e *Engine) step(proc *ProcessContext) {
	if int(proc.PC) >= len(proc.Instructions) {
		e.exitProcess(proc, NormalReason())
		return
	}

	instr := proc.Instructions[proc.PC]
	if !instr.Op.IsAbsoluteJump() {
		proc.PC++
	}

	fault := e.safeDispatch(proc, instr)
	if fault != nil {
		e.raiseFault(proc, fault.WithSite(proc.Address, proc.PC))
	}
}

// safeDispatch recovers a host-level panic from a single instruction's
// dispatch, turning it into the same kind of Fault an opcode would return,
// tagged with the goroutine it came from for the crash dump (spec §9
// supplemental: the engine now runs two goroutines, not the teacher's one).
func (e *Engine) safeDispatch(proc *ProcessContext, instr Instruction) (fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &Fault{Kind: KindRuntime, Message: fmt.Sprintf("recovered panic: %v", r), Origin: "dispatch"}
		}
	}()
	return e.dispatch(proc, instr)
}

// dispatch is the big per-family switch. Families living in other files
// are delegated to (control/lambda/process/message/exception/supervisor);
// everything self-contained enough to need no Engine state lives here.
func (e *Engine) dispatch(proc *ProcessContext, instr Instruction) *Fault {
	switch {
	case instr.Op >= OpPop && instr.Op <= OpRoll:
		return execStack(proc, instr)
	case instr.Op >= OpPushNull && instr.Op <= OpPushInstructions:
		return execPushLiteral(proc, instr)
	case instr.Op >= OpAdd && instr.Op <= OpMax:
		return execArithmetic(proc, instr)
	case instr.Op >= OpBAnd && instr.Op <= OpShrU:
		return execBitwise(proc, instr)
	case instr.Op >= OpLAnd && instr.Op <= OpLXor:
		return execLogical(proc, instr)
	case instr.Op >= OpEq && instr.Op <= OpIsNotNull:
		return execComparison(proc, instr)
	case instr.Op >= OpLoadLocal && instr.Op <= OpStoreUpvalue:
		return execVariable(proc, instr)
	case instr.Op >= OpJump && instr.Op <= OpHalt:
		return e.execControl(proc, instr)
	case instr.Op >= OpLambdaCreate && instr.Op <= OpLambdaBind:
		return execLambda(proc, instr)
	case instr.Op >= OpSpawn && instr.Op <= OpGetFlag:
		return e.execProcessOp(proc, instr)
	case instr.Op >= OpSend && instr.Op <= OpCancelTimer:
		return e.execMessageOp(proc, instr)
	case instr.Op >= OpStartChild && instr.Op <= OpCountChildren:
		return e.execSupervisorOp(proc, instr)
	case instr.Op >= OpThrow && instr.Op <= OpGetStacktrace:
		return execExceptionOp(proc, instr)
	case instr.Op == OpNop:
		return nil
	default:
		return NewFaultf(KindInvalidInstruction, "unknown opcode %d", instr.Op)
	}
}

func underflow() *Fault { return NewFault(KindStackUnderflow, "data stack underflow") }

func execStack(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpPop:
		if _, ok := proc.popData(); !ok {
			return underflow()
		}
	case OpDup:
		v, ok := proc.peekData()
		if !ok {
			return underflow()
		}
		proc.pushData(v)
	case OpDup2:
		if len(proc.Data) < 2 {
			return underflow()
		}
		a, b := proc.Data[len(proc.Data)-2], proc.Data[len(proc.Data)-1]
		proc.pushData(a)
		proc.pushData(b)
	case OpSwap:
		n := len(proc.Data)
		if n < 2 {
			return underflow()
		}
		proc.Data[n-1], proc.Data[n-2] = proc.Data[n-2], proc.Data[n-1]
	case OpRotUp:
		n := len(proc.Data)
		if n < 3 {
			return underflow()
		}
		top := proc.Data[n-1]
		copy(proc.Data[n-3+1:], proc.Data[n-3:n-1])
		proc.Data[n-3] = top
	case OpRotDown:
		n := len(proc.Data)
		if n < 3 {
			return underflow()
		}
		bottom := proc.Data[n-3]
		copy(proc.Data[n-3:n-1], proc.Data[n-3+1:])
		proc.Data[n-1] = bottom
	case OpNip:
		n := len(proc.Data)
		if n < 2 {
			return underflow()
		}
		proc.Data[n-2] = proc.Data[n-1]
		proc.Data = proc.Data[:n-1]
	case OpTuck:
		n := len(proc.Data)
		if n < 2 {
			return underflow()
		}
		top := proc.Data[n-1]
		proc.Data = append(proc.Data, Value{})
		copy(proc.Data[n-1:], proc.Data[n-2:n])
		proc.Data[n-2] = top
	case OpDepth:
		proc.pushData(Int(int64(len(proc.Data))))
	case OpPick:
		depth := int(instr.Arg.AsInt())
		v, ok := proc.peekDataAt(depth)
		if !ok {
			return underflow()
		}
		proc.pushData(v)
	case OpRoll:
		depth := int(instr.Arg.AsInt())
		n := len(proc.Data)
		i := n - 1 - depth
		if i < 0 || i >= n {
			return underflow()
		}
		v := proc.Data[i]
		copy(proc.Data[i:], proc.Data[i+1:])
		proc.Data[n-1] = v
	}
	return nil
}

func execPushLiteral(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpPushNull:
		proc.pushData(Null())
	case OpPushTrue:
		proc.pushData(Bool(true))
	case OpPushFalse:
		proc.pushData(Bool(false))
	case OpPushInt, OpPushUint, OpPushFloat, OpPushString, OpPushSymbol, OpPushCustom, OpPushInstructions:
		proc.pushData(instr.Arg)
	}
	return nil
}

func bothNumeric(a, b Value) bool { return a.IsNumeric() && b.IsNumeric() }

// arithResult picks the numeric result type per spec §4.1: float
// contaminates, otherwise unsigned only if both sides are unsigned, else
// integer.
func arithResult(a, b Value, fi func(x, y int64) (int64, *Fault), fu func(x, y uint64) (uint64, *Fault), ff func(x, y float64) float64) (Value, *Fault) {
	if !bothNumeric(a, b) {
		return Value{}, NewFaultf(KindTypeMismatch, "arithmetic requires numeric operands, got %s and %s", a.Tag, b.Tag)
	}
	if a.Tag == TagFloat || b.Tag == TagFloat {
		return Float(ff(numAsFloat(a), numAsFloat(b))), nil
	}
	if a.Tag == TagUnsigned && b.Tag == TagUnsigned {
		r, f := fu(a.AsUint(), b.AsUint())
		if f != nil {
			return Value{}, f
		}
		return Uint(r), nil
	}
	r, f := fi(a.AsInt(), b.AsInt())
	if f != nil {
		return Value{}, f
	}
	return Int(r), nil
}

func execArithmetic(proc *ProcessContext, instr Instruction) *Fault {
	unary := func(fn func(Value) (Value, *Fault)) *Fault {
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		r, f := fn(v)
		if f != nil {
			return f
		}
		proc.pushData(r)
		return nil
	}
	binary := func(fi func(x, y int64) (int64, *Fault), fu func(x, y uint64) (uint64, *Fault), ff func(x, y float64) float64) *Fault {
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		r, f := arithResult(a, b, fi, fu, ff)
		if f != nil {
			return f
		}
		proc.pushData(r)
		return nil
	}

	switch instr.Op {
	case OpAdd:
		return binary(
			func(x, y int64) (int64, *Fault) { return x + y, nil },
			func(x, y uint64) (uint64, *Fault) { return x + y, nil },
			func(x, y float64) float64 { return x + y },
		)
	case OpSub:
		return binary(
			func(x, y int64) (int64, *Fault) { return x - y, nil },
			func(x, y uint64) (uint64, *Fault) { return x - y, nil },
			func(x, y float64) float64 { return x - y },
		)
	case OpMul:
		return binary(
			func(x, y int64) (int64, *Fault) { return x * y, nil },
			func(x, y uint64) (uint64, *Fault) { return x * y, nil },
			func(x, y float64) float64 { return x * y },
		)
	case OpDiv:
		return binary(
			func(x, y int64) (int64, *Fault) {
				if y == 0 {
					return 0, NewFault(KindDivisionByZero, "division by zero")
				}
				return x / y, nil
			},
			func(x, y uint64) (uint64, *Fault) {
				if y == 0 {
					return 0, NewFault(KindDivisionByZero, "division by zero")
				}
				return x / y, nil
			},
			func(x, y float64) float64 { return x / y },
		)
	case OpMod:
		return binary(
			func(x, y int64) (int64, *Fault) {
				if y == 0 {
					return 0, NewFault(KindDivisionByZero, "modulo by zero")
				}
				return x % y, nil
			},
			func(x, y uint64) (uint64, *Fault) {
				if y == 0 {
					return 0, NewFault(KindDivisionByZero, "modulo by zero")
				}
				return x % y, nil
			},
			math.Mod,
		)
	case OpPow:
		return binary(
			func(x, y int64) (int64, *Fault) { return int64(math.Pow(float64(x), float64(y))), nil },
			func(x, y uint64) (uint64, *Fault) { return uint64(math.Pow(float64(x), float64(y))), nil },
			math.Pow,
		)
	case OpMin:
		return binary(
			func(x, y int64) (int64, *Fault) { return int64(math.Min(float64(x), float64(y))), nil },
			func(x, y uint64) (uint64, *Fault) {
				if x < y {
					return x, nil
				}
				return y, nil
			},
			math.Min,
		)
	case OpMax:
		return binary(
			func(x, y int64) (int64, *Fault) { return int64(math.Max(float64(x), float64(y))), nil },
			func(x, y uint64) (uint64, *Fault) {
				if x > y {
					return x, nil
				}
				return y, nil
			},
			math.Max,
		)
	case OpNeg:
		return unary(func(v Value) (Value, *Fault) {
			switch v.Tag {
			case TagFloat:
				return Float(-v.AsFloat()), nil
			case TagInteger:
				return Int(-v.AsInt()), nil
			case TagUnsigned:
				return Int(-int64(v.AsUint())), nil
			default:
				return Value{}, NewFaultf(KindTypeMismatch, "cannot negate %s", v.Tag)
			}
		})
	case OpAbs:
		return unary(func(v Value) (Value, *Fault) {
			switch v.Tag {
			case TagFloat:
				return Float(math.Abs(v.AsFloat())), nil
			case TagInteger:
				n := v.AsInt()
				if n < 0 {
					n = -n
				}
				return Int(n), nil
			case TagUnsigned:
				return v, nil
			default:
				return Value{}, NewFaultf(KindTypeMismatch, "cannot take abs of %s", v.Tag)
			}
		})
	case OpInc:
		return unary(func(v Value) (Value, *Fault) {
			r, f := arithResult(v, Int(1), func(x, y int64) (int64, *Fault) { return x + y, nil }, func(x, y uint64) (uint64, *Fault) { return x + y, nil }, func(x, y float64) float64 { return x + y })
			return r, f
		})
	case OpDec:
		return unary(func(v Value) (Value, *Fault) {
			r, f := arithResult(v, Int(1), func(x, y int64) (int64, *Fault) { return x - y, nil }, func(x, y uint64) (uint64, *Fault) { return x - y, nil }, func(x, y float64) float64 { return x - y })
			return r, f
		})
	case OpFloor:
		return unary(func(v Value) (Value, *Fault) { return Float(math.Floor(numAsFloat(v))), nil })
	case OpCeil:
		return unary(func(v Value) (Value, *Fault) { return Float(math.Ceil(numAsFloat(v))), nil })
	case OpRound:
		return unary(func(v Value) (Value, *Fault) { return Float(math.Round(numAsFloat(v))), nil })
	}
	return nil
}

func execBitwise(proc *ProcessContext, instr Instruction) *Fault {
	intBinary := func(fn func(x, y int64) int64) *Fault {
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		if a.Tag != TagInteger && a.Tag != TagUnsigned {
			return NewFaultf(KindTypeMismatch, "bitwise ops require integers, got %s", a.Tag)
		}
		if a.Tag == TagUnsigned && b.Tag == TagUnsigned {
			proc.pushData(Uint(uint64(fn(int64(a.AsUint()), int64(b.AsUint())))))
			return nil
		}
		proc.pushData(Int(fn(a.AsInt(), b.AsInt())))
		return nil
	}
	switch instr.Op {
	case OpBAnd:
		return intBinary(func(x, y int64) int64 { return x & y })
	case OpBOr:
		return intBinary(func(x, y int64) int64 { return x | y })
	case OpBXor:
		return intBinary(func(x, y int64) int64 { return x ^ y })
	case OpShl:
		return intBinary(func(x, y int64) int64 { return x << uint(y) })
	case OpShr:
		return intBinary(func(x, y int64) int64 { return x >> uint(y) })
	case OpShrU:
		return intBinary(func(x, y int64) int64 { return int64(uint64(x) >> uint(y)) })
	case OpBNot:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		if v.Tag == TagUnsigned {
			proc.pushData(Uint(^v.AsUint()))
			return nil
		}
		if v.Tag != TagInteger {
			return NewFaultf(KindTypeMismatch, "NOT requires integer, got %s", v.Tag)
		}
		proc.pushData(Int(^v.AsInt()))
	}
	return nil
}

func execLogical(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpLAnd:
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		proc.pushData(Bool(a.Truthy() && b.Truthy()))
	case OpLOr:
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		proc.pushData(Bool(a.Truthy() || b.Truthy()))
	case OpLXor:
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		proc.pushData(Bool(a.Truthy() != b.Truthy()))
	case OpLNot:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		proc.pushData(Bool(!v.Truthy()))
	}
	return nil
}

func execComparison(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpEq, OpNeq:
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		eq := Equal(a, b)
		if instr.Op == OpNeq {
			eq = !eq
		}
		proc.pushData(Bool(eq))
	case OpIdentical, OpNotIdentical:
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		ident := a.Tag == b.Tag && Equal(a, b)
		if instr.Op == OpNotIdentical {
			ident = !ident
		}
		proc.pushData(Bool(ident))
	case OpLt, OpLe, OpGt, OpGe:
		if len(proc.Data) < 2 {
			return underflow()
		}
		b, _ := proc.popData()
		a, _ := proc.popData()
		c, err := Compare(a, b)
		if err != nil {
			return err
		}
		var result bool
		switch instr.Op {
		case OpLt:
			result = c < 0
		case OpLe:
			result = c <= 0
		case OpGt:
			result = c > 0
		case OpGe:
			result = c >= 0
		}
		proc.pushData(Bool(result))
	case OpIsNull, OpIsNotNull:
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		isNull := v.IsNull()
		if instr.Op == OpIsNotNull {
			isNull = !isNull
		}
		proc.pushData(Bool(isNull))
	}
	return nil
}

func execVariable(proc *ProcessContext, instr Instruction) *Fault {
	switch instr.Op {
	case OpLoadLocal:
		idx := proc.FramePointer + int(instr.Arg.AsInt())
		if idx < 0 || idx >= len(proc.Locals) {
			return NewFaultf(KindUndefinedVariable, "undefined local at slot %d", instr.Arg.AsInt())
		}
		proc.pushData(proc.Locals[idx])
	case OpStoreLocal:
		idx := proc.FramePointer + int(instr.Arg.AsInt())
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		if idx < 0 {
			return NewFaultf(KindUndefinedVariable, "undefined local at slot %d", instr.Arg.AsInt())
		}
		if idx >= len(proc.Locals) {
			grown := make([]Value, idx+1)
			copy(grown, proc.Locals)
			for i := len(proc.Locals); i < idx; i++ {
				grown[i] = Null()
			}
			proc.Locals = grown
		}
		proc.Locals[idx] = v
	case OpLoadGlobal:
		name := instr.Arg.AsString()
		v, ok := proc.Globals.Get(name)
		if !ok {
			return NewFaultf(KindUndefinedVariable, "undefined global %q", name)
		}
		proc.pushData(v)
	case OpStoreGlobal:
		name := instr.Arg.AsString()
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		proc.Globals.Set(name, v)
	case OpLoadUpvalue:
		idx := int(instr.Arg.AsInt())
		if proc.CurrentClosure == nil || idx < 0 || idx >= len(proc.CurrentClosure.Upvalues) {
			return NewFault(KindUndefinedVariable, "no such upvalue")
		}
		proc.pushData(proc.CurrentClosure.Upvalues[idx])
	case OpStoreUpvalue:
		idx := int(instr.Arg.AsInt())
		v, ok := proc.popData()
		if !ok {
			return underflow()
		}
		if proc.CurrentClosure == nil || idx < 0 || idx >= len(proc.CurrentClosure.Upvalues) {
			return NewFault(KindUndefinedVariable, "no such upvalue")
		}
		proc.CurrentClosure.Upvalues[idx] = v
	}
	return nil
}

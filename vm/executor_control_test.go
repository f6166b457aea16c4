package vm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCallResolvesSubroutineByName exercises CALL against the process-local
// subroutine table added alongside the CALL/CALL_DYNAMIC split (spec §4.6:
// "sharing subroutines").
func TestCallResolvesSubroutineByName(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	body := []Instruction{
		InstrArg(OpPushInt, Int(21)),    // 0: argument goes on the data stack
		InstrArg(OpCall, Str("double")), // 1
		Instr(OpHalt),                   // 2
		InstrArg(OpStoreLocal, Int(0)),  // 3: double's entry point, binds the arg
		InstrArg(OpLoadLocal, Int(0)),   // 4
		InstrArg(OpPushInt, Int(2)),     // 5
		Instr(OpMul),                    // 6
		Instr(OpReturnValue),            // 7
	}
	addr, err := e.Spawn(body, PriorityNormal, 0, false)
	require.NoError(t, err)

	proc, ok := e.process(addr)
	require.True(t, ok)
	proc.Subroutines = map[string]PC{"double": 3}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	proc, ok = e.process(addr)
	require.True(t, ok)
	require.Len(t, proc.Data, 1)
	assert.Equal(t, Int(42), proc.Data[0])
}

// TestCallUndefinedSubroutineFaults confirms a miss raises
// KindUndefinedSubroutine rather than silently treating the name as an
// address.
func TestCallUndefinedSubroutineFaults(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	body := []Instruction{
		InstrArg(OpCall, Str("missing")),
		Instr(OpHalt),
	}
	addr, err := e.Spawn(body, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	proc, ok := e.process(addr)
	require.True(t, ok)
	assert.Equal(t, StateDead, proc.State)
	require.NotNil(t, proc.ExitReason.Fault)
	assert.Equal(t, KindUndefinedSubroutine, proc.ExitReason.Fault.Kind)
}

// TestCallDynamicResolvesPoppedName confirms CALL_DYNAMIC resolves the
// subroutine name it pops off the data stack, not a lambda value.
func TestCallDynamicResolvesPoppedName(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	body := []Instruction{
		InstrArg(OpPushString, Str("answer")), // 0
		Instr(OpCallDynamic),                  // 1
		Instr(OpHalt),                         // 2
		InstrArg(OpPushInt, Int(42)),          // 3: answer's entry point
		Instr(OpReturnValue),                  // 4
	}
	addr, err := e.Spawn(body, PriorityNormal, 0, false)
	require.NoError(t, err)

	proc, ok := e.process(addr)
	require.True(t, ok)
	proc.Subroutines = map[string]PC{"answer": 3}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	proc, ok = e.process(addr)
	require.True(t, ok)
	require.Len(t, proc.Data, 1)
	assert.Equal(t, Int(42), proc.Data[0])
}

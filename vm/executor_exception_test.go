package vm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryCatchRecoversThrownValue(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	// TRY_BEGIN offset=3 (counter is already past TRY_BEGIN itself, so
	// counter+3 lands on the CATCH at index 4); THROW "boom"; (catch:) CATCH; HALT
	body := []Instruction{
		InstrArg(OpTryBegin, Int(3)),
		InstrArg(OpPushString, Str("boom")),
		Instr(OpThrow),
		Instr(OpHalt), // skipped when the throw unwinds to the catch handler
		Instr(OpCatch),
		Instr(OpHalt),
	}
	addr, err := e.Spawn(body, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	proc, ok := e.process(addr)
	require.True(t, ok)
	require.Len(t, proc.Data, 1)
	assert.Equal(t, Str("boom"), proc.Data[0])
}

func TestArithmeticPromotesToFloat(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	body := []Instruction{
		InstrArg(OpPushInt, Int(3)),
		InstrArg(OpPushFloat, Float(0.5)),
		Instr(OpAdd),
		Instr(OpHalt),
	}
	addr, err := e.Spawn(body, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	proc, ok := e.process(addr)
	require.True(t, ok)
	require.Len(t, proc.Data, 1)
	assert.Equal(t, Float(3.5), proc.Data[0])
}

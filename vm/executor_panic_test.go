package vm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanickingBuiltinBecomesRuntimeFault(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	e.Builtins().Register("boom", func(p *ProcessContext, args []Value) (Value, error) {
		panic("builtin exploded")
	})

	body := []Instruction{
		InstrArg(OpPushUint, Uint(0)),
		InstrArg(OpCallBuiltin, Str("boom")),
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
	assert.Equal(t, ReasonException, proc.ExitReason.Kind)
	require.NotNil(t, proc.ExitReason.Fault)
	assert.Equal(t, KindRuntime, proc.ExitReason.Fault.Kind)
	assert.Equal(t, "dispatch", proc.ExitReason.Fault.Origin)
}

package vm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineSendReceive(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	receiverBody := []Instruction{Instr(OpReceive)}
	receiverAddr, err := e.Spawn(receiverBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	senderBody := []Instruction{
		InstrArg(OpPushUint, Uint(uint64(receiverAddr))),
		InstrArg(OpPushString, Str("ping")),
		Instr(OpSend),
		Instr(OpHalt),
	}
	_, err = e.Spawn(senderBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = e.Run(ctx)
	assert.True(t, err == nil || err == context.DeadlineExceeded)

	receiver, ok := e.process(receiverAddr)
	require.True(t, ok)
	assert.Equal(t, StateDead, receiver.State)
	require.Len(t, receiver.Data, 1)
	assert.Equal(t, Str("ping"), receiver.Data[0])
}

func TestEngineLinkedExitCascades(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	childBody := []Instruction{
		InstrArg(OpPushString, Str("boom")),
		Instr(OpThrow),
	}

	parentBody := []Instruction{
		InstrArg(OpPushInstructions, InstructionsVal(childBody)),
		Instr(OpSpawnLinked),
		Instr(OpPop),
		Instr(OpReceive), // parent has nothing else to do but block; the
		// cascading kill from the link ends it before this ever unblocks.
	}
	parentAddr, err := e.Spawn(parentBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	parent, ok := e.process(parentAddr)
	require.True(t, ok)
	assert.Equal(t, StateDead, parent.State)
	assert.Equal(t, ReasonException, parent.ExitReason.Kind)
}

func TestEngineMonitorDelivesDown(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	childBody := []Instruction{
		InstrArg(OpPushString, Str("boom")),
		Instr(OpThrow),
	}

	parentBody := []Instruction{
		InstrArg(OpPushInstructions, InstructionsVal(childBody)),
		Instr(OpSpawnMonitored),
		Instr(OpPop), // drop [addr, ref] tuple
		Instr(OpReceive),
	}
	parentAddr, err := e.Spawn(parentBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	parent, ok := e.process(parentAddr)
	require.True(t, ok)
	require.Len(t, parent.Data, 1)
	down := parent.Data[0]
	require.Equal(t, TagMap, down.Tag)
	typ, ok := down.AsMap().Get("type")
	require.True(t, ok)
	assert.Equal(t, Sym(string(LinkTypeMonitor)), typ)
}

func TestMonitorOfDeadProcessDeliversDownImmediately(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	watcherBody := []Instruction{
		InstrArg(OpPushUint, Uint(9999)),
		Instr(OpMonitor),
		Instr(OpPop), // drop the synthesized ref
		Instr(OpReceive),
	}
	watcherAddr, err := e.Spawn(watcherBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	watcher, ok := e.process(watcherAddr)
	require.True(t, ok)
	assert.Equal(t, StateDead, watcher.State)
	require.Len(t, watcher.Data, 1)
	down := watcher.Data[0]
	require.Equal(t, TagMap, down.Tag)
	typ, _ := down.AsMap().Get("type")
	assert.Equal(t, Sym(string(LinkTypeMonitor)), typ)
	from, _ := down.AsMap().Get("from")
	assert.Equal(t, Uint(9999), from)
	reason, _ := down.AsMap().Get("reason")
	kind, _ := reason.AsMap().Get("kind")
	assert.Equal(t, string(ReasonInvalid), kind.AsString())
}

func TestLinkToDeadProcessTrappingGetsDownMessage(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	linkerBody := []Instruction{
		Instr(OpTrapExitEnable),
		InstrArg(OpPushUint, Uint(9999)),
		Instr(OpLink),
		Instr(OpReceive),
	}
	linkerAddr, err := e.Spawn(linkerBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	linker, ok := e.process(linkerAddr)
	require.True(t, ok)
	assert.Equal(t, StateDead, linker.State)
	require.Len(t, linker.Data, 1)
	down := linker.Data[0]
	require.Equal(t, TagMap, down.Tag)
	reason, _ := down.AsMap().Get("reason")
	kind, _ := reason.AsMap().Get("kind")
	assert.Equal(t, string(ReasonInvalid), kind.AsString())
}

func TestLinkToDeadProcessNonTrappingSelfTerminates(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	linkerBody := []Instruction{
		InstrArg(OpPushUint, Uint(9999)),
		Instr(OpLink),
		Instr(OpReceive), // never reached: LINK kills this process first
	}
	linkerAddr, err := e.Spawn(linkerBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	linker, ok := e.process(linkerAddr)
	require.True(t, ok)
	assert.Equal(t, StateDead, linker.State)
	assert.Equal(t, ReasonInvalid, linker.ExitReason.Kind)
}

func TestSupervisorOneForOneRestartsChild(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	ownerBody := []Instruction{Instr(OpReceive)}
	ownerAddr, err := e.Spawn(ownerBody, PriorityNormal, 0, false)
	require.NoError(t, err)

	sup := NewSupervisor(e, ownerAddr, OneForOne, 3, time.Second)
	e.supervisorsMu.Lock()
	e.supervisors[ownerAddr] = sup
	e.supervisorsMu.Unlock()
	childBody := []Instruction{
		InstrArg(OpPushString, Str("boom")),
		Instr(OpThrow),
	}
	firstAddr, err := sup.StartChild(ChildSpec{ID: "worker", Body: childBody, Priority: PriorityNormal, Restart: RestartPermanent})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	require.Len(t, sup.children, 1)
	assert.True(t, sup.children[0].alive)
	assert.NotEqual(t, firstAddr, sup.children[0].addr)
}

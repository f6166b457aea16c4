package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"wisp/vm"
)

var debugFlag = flag.Bool("debug", false, "run with a console logger at debug level")

// pingPong builds two processes, wired with SPAWN_LINKED: the first sends
// the second a single "hello" message and halts; the second receives it,
// drops it and halts. There is no
// assembler in this engine (see SPEC_FULL.md), so the demo program is
// assembled by hand as an Instruction slice.
func pingPong() []vm.Instruction {
	pong := []vm.Instruction{
		vm.Instr(vm.OpReceive),
		vm.Instr(vm.OpPop),
		vm.Instr(vm.OpHalt),
	}

	return []vm.Instruction{
		vm.InstrArg(vm.OpPushInstructions, vm.InstructionsVal(pong)),
		vm.Instr(vm.OpSpawnLinked),
		vm.InstrArg(vm.OpStoreLocal, vm.Int(0)),
		vm.InstrArg(vm.OpLoadLocal, vm.Int(0)),
		vm.InstrArg(vm.OpPushString, vm.Str("hello")),
		vm.Instr(vm.OpSend),
		vm.Instr(vm.OpHalt),
	}
}

func main() {
	flag.Parse()

	level := zerolog.InfoLevel
	if *debugFlag {
		level = zerolog.DebugLevel
	}
	logger := vm.NewConsoleLogger(level)

	engine, err := vm.NewEngine(vm.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if _, err := engine.Spawn(pingPong(), vm.PriorityNormal, 0, false); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := engine.Run(ctx); err != nil && err != context.DeadlineExceeded {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package kfmt

import (
	"sync/atomic"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	// panicking is set by the first call to Panic. A fault raised while the
	// panic report is being printed (e.g. by a broken output sink) halts
	// straight away.
	panicking uint32
)

const panicRule = "\n===================================\n"

// Panic reports the supplied error (if not nil) to every attached output
// channel and halts the CPU. Calls to Panic never return. Panic also works as
// a redirection target for calls to panic() (resolved via runtime.gopanic) so
// the fatal conditions raised by the memory management code with panic(err)
// end up here.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	if !atomic.CompareAndSwapUint32(&panicking, 0, 1) {
		cpuHaltFn()
		return
	}

	var err *kernel.Error
	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf(panicRule)
	if err != nil {
		Printf("[%s] fatal: %s\n", err.Module, err.Message)
	}
	Printf("kernel panic: system halted")
	Printf(panicRule)

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}

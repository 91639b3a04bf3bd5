package hal

import (
	"io"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/cpu"
)

const debugConPort = 0xe9

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// DebugCon writes to the 0xE9 debug port provided by Bochs and QEMU.
type DebugCon struct{}

// Write implements io.Writer.
func (DebugCon) Write(p []byte) (int, error) {
	for _, b := range p {
		portWriteByteFn(debugConPort, b)
	}
	return len(p), nil
}

// DriverName returns the name of this driver.
func (DebugCon) DriverName() string { return "debugcon" }

// DriverVersion returns the version of this driver.
func (DebugCon) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }

// DriverInit initializes this driver.
func (DebugCon) DriverInit(_ io.Writer) *kernel.Error { return nil }

// probeDebugCon checks for the debug port. Emulators that implement it return
// the port number when it is read.
func probeDebugCon() Driver {
	if portReadByteFn(debugConPort) != debugConPort {
		return nil
	}
	return DebugCon{}
}

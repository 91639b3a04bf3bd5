package hal

import (
	"io"

	"github.com/caelyx-os/caelyx/kernel"
)

// Driver is an interface implemented by all output channel drivers.
type Driver interface {
	io.Writer

	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device. If the driver init code needs to
	// log some output, it can use the supplied io.Writer in conjunction
	// with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular piece of
// hardware and returns a driver for it or nil if the hardware is missing.
type ProbeFn func() Driver

// outputProbes lists the output channels in detection order. The list is a
// fixed array because probing runs before the Go allocator is available.
var outputProbes = [...]ProbeFn{
	probeDebugCon,
	probeSerial,
}

package hal

import (
	"io"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
)

// COM1 is the I/O base of the first serial port.
const COM1 = 0x3f8

// 16550 UART register offsets from the port base.
const (
	regData        = 0
	regIntEnable   = 1
	regFIFOControl = 2
	regLineControl = 3
	regModemCtrl   = 4
	regLineStatus  = 5

	lineControlDLAB = 0x80
	lineControl8N1  = 0x03
	fifoEnableClear = 0xc7
	modemLoopback   = 0x1e
	modemNormal     = 0x0f
	lineStatusTHRE  = 0x20

	loopbackPattern = 0xae

	// baudDivisor selects 38400 baud from the 115200 base clock.
	baudDivisor = 3

	// maxTxSpins bounds the wait for the transmit register so a stuck UART
	// cannot hang kernel logging.
	maxTxSpins = 1 << 16
)

var errSerialLoopback = &kernel.Error{Module: "hal", Message: "serial loopback test failed"}

// Serial drives a 16550-compatible UART.
type Serial struct {
	port uint16
}

// NewSerial returns a driver for the UART at the given I/O base.
func NewSerial(port uint16) *Serial {
	return &Serial{port: port}
}

// DriverName returns the name of this driver.
func (s *Serial) DriverName() string { return "serial" }

// DriverVersion returns the version of this driver.
func (s *Serial) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }

// DriverInit programs the UART for 38400 8N1 with FIFOs enabled and verifies
// it with a loopback test.
func (s *Serial) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(s.port+regIntEnable, 0)
	portWriteByteFn(s.port+regLineControl, lineControlDLAB)
	portWriteByteFn(s.port+regData, baudDivisor&0xff)
	portWriteByteFn(s.port+regIntEnable, baudDivisor>>8)
	portWriteByteFn(s.port+regLineControl, lineControl8N1)
	portWriteByteFn(s.port+regFIFOControl, fifoEnableClear)

	portWriteByteFn(s.port+regModemCtrl, modemLoopback)
	portWriteByteFn(s.port+regData, loopbackPattern)
	if portReadByteFn(s.port+regData) != loopbackPattern {
		return errSerialLoopback
	}

	portWriteByteFn(s.port+regModemCtrl, modemNormal)
	kfmt.Fprintf(w, "port 0x%x, 38400 8N1\n", s.port)
	return nil
}

// Write implements io.Writer. Line feeds are sent as CR LF.
func (s *Serial) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			s.writeByte('\r')
		}
		s.writeByte(b)
	}
	return len(p), nil
}

func (s *Serial) writeByte(b byte) {
	for spins := 0; spins < maxTxSpins && portReadByteFn(s.port+regLineStatus)&lineStatusTHRE == 0; spins++ {
	}
	portWriteByteFn(s.port+regData, b)
}

var com1 = Serial{port: COM1}

// probeSerial reports COM1 unless its line status register reads as a
// floating bus.
func probeSerial() Driver {
	if portReadByteFn(COM1+regLineStatus) == 0xff {
		return nil
	}
	return &com1
}

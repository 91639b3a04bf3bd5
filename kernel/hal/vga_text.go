package hal

import (
	"io"
	"unsafe"

	"github.com/caelyx-os/caelyx/kernel"
)

// VgaTextConsole is an output channel that renders text on an EGA-compatible
// text framebuffer. Each cell holds the character code in the low byte and
// the foreground and background colors in the high byte.
//
// Output starts at the top-left corner with light gray text on a black
// background; the console scrolls up once the last row is full.
type VgaTextConsole struct {
	width  uint32
	height uint32

	fb []uint16

	col, row uint32
	attr     uint16
}

const (
	vgaDefaultAttr = 0x07 << 8
	vgaTabWidth    = 4
)

// NewVgaTextConsole creates a console for a columns x rows text framebuffer
// mapped at fbVirtAddr.
func NewVgaTextConsole(columns, rows uint32, fbVirtAddr uintptr) *VgaTextConsole {
	cons := &VgaTextConsole{}
	cons.init(columns, rows, fbVirtAddr)
	return cons
}

func (cons *VgaTextConsole) init(columns, rows uint32, fbVirtAddr uintptr) {
	cons.width = columns
	cons.height = rows
	cons.fb = unsafe.Slice((*uint16)(unsafe.Pointer(fbVirtAddr)), columns*rows)
	cons.col, cons.row = 0, 0
	cons.attr = vgaDefaultAttr
}

// DriverName returns the name of this driver.
func (cons *VgaTextConsole) DriverName() string { return "vga_text_console" }

// DriverVersion returns the version of this driver.
func (cons *VgaTextConsole) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }

// DriverInit clears the screen.
func (cons *VgaTextConsole) DriverInit(_ io.Writer) *kernel.Error {
	cons.clearRows(0, cons.height)
	cons.col, cons.row = 0, 0
	return nil
}

// Write implements io.Writer.
func (cons *VgaTextConsole) Write(p []byte) (int, error) {
	for _, ch := range p {
		switch ch {
		case '\n':
			cons.newLine()
		case '\r':
			cons.col = 0
		case '\t':
			for n := vgaTabWidth - cons.col%vgaTabWidth; n > 0; n-- {
				cons.put(' ')
			}
		default:
			cons.put(ch)
		}
	}
	return len(p), nil
}

func (cons *VgaTextConsole) put(ch byte) {
	if cons.col == cons.width {
		cons.newLine()
	}
	cons.fb[cons.row*cons.width+cons.col] = cons.attr | uint16(ch)
	cons.col++
}

func (cons *VgaTextConsole) newLine() {
	cons.col = 0
	if cons.row+1 < cons.height {
		cons.row++
		return
	}
	cons.scrollUp()
}

// scrollUp moves every row up by one and clears the last row.
func (cons *VgaTextConsole) scrollUp() {
	copy(cons.fb, cons.fb[cons.width:])
	cons.clearRows(cons.height-1, 1)
}

func (cons *VgaTextConsole) clearRows(first, count uint32) {
	blank := cons.attr | ' '
	for i := first * cons.width; i < (first+count)*cons.width; i++ {
		cons.fb[i] = blank
	}
}

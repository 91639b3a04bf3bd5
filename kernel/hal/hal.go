// Package hal detects the kernel output channels and relocates the boot
// framebuffer into the kernel address space.
package hal

import (
	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm/vmm"
	"github.com/caelyx-os/caelyx/kernel/multiboot"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapRegionFn     = vmm.MapRegion
	addOutputSinkFn = kfmt.AddOutputSink

	// ErrNoTextFramebuffer is returned by AttachConsole when the boot
	// loader did not set up a remapped EGA text framebuffer.
	ErrNoTextFramebuffer = &kernel.Error{Module: "hal", Message: "no text framebuffer available"}

	fb struct {
		info     multiboot.FramebufferInfo
		present  bool
		virtAddr uintptr
	}

	console VgaTextConsole
)

// InitOutputs probes for every known output channel, initializes it and
// attaches it to kfmt. It returns the number of attached channels.
func InitOutputs() int {
	var (
		prefix   [32]byte
		attached int
	)

	for _, probe := range outputProbes {
		drv := probe()
		if drv == nil {
			continue
		}

		if !attach(drv, prefix[:0]) {
			continue
		}
		attached++
	}

	return attached
}

// attach initializes drv and registers it as a kfmt output sink. The driver
// init log lines are prefixed with the driver name and version.
func attach(drv Driver, prefixBuf []byte) bool {
	buf := bytesWriter{buf: prefixBuf}
	major, minor, patch := drv.DriverVersion()
	kfmt.Fprintf(&buf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
	w := kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: buf.buf}

	if err := drv.DriverInit(&w); err != nil {
		kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
		return false
	}

	if !addOutputSinkFn(drv) {
		kfmt.Fprintf(&w, "no free output slot\n")
		return false
	}

	kfmt.Fprintf(&w, "attached\n")
	return true
}

// SetFramebuffer records the framebuffer reported by the boot loader so that
// RemapFramebuffer can relocate it.
func SetFramebuffer(info multiboot.FramebufferInfo) {
	fb.info = info
	fb.present = true
	fb.virtAddr = 0
}

// Framebuffer returns the framebuffer description and its virtual address.
// The address is 0 until RemapFramebuffer has run.
func Framebuffer() (multiboot.FramebufferInfo, uintptr, bool) {
	return fb.info, fb.virtAddr, fb.present
}

// RemapFramebuffer maps the boot framebuffer into the kernel address space
// with caching disabled. It is installed as the early fix-up of vmm.Init and
// is a no-op when no framebuffer was reported.
func RemapFramebuffer() *kernel.Error {
	if !fb.present {
		return nil
	}

	virtAddr, err := mapRegionFn(uintptr(fb.info.PhysAddr), uintptr(fb.info.Size()), vmm.FlagWritable|vmm.FlagCacheDisable)
	if err != nil {
		return err
	}

	fb.virtAddr = virtAddr
	kfmt.Printf("[hal] framebuffer 0x%8x remapped to 0x%8x\n", uintptr(fb.info.PhysAddr), virtAddr)
	return nil
}

// AttachConsole adds the remapped text framebuffer as an output channel. It
// must only be called once paging is enabled.
func AttachConsole() *kernel.Error {
	if !fb.present || fb.virtAddr == 0 || fb.info.Type != multiboot.FramebufferTypeEGA {
		return ErrNoTextFramebuffer
	}
	if fb.info.Width == 0 || fb.info.Height == 0 {
		kfmt.Printf("[hal] ignoring %dx%d text framebuffer\n", fb.info.Width, fb.info.Height)
		return ErrNoTextFramebuffer
	}

	console.init(fb.info.Width, fb.info.Height, fb.virtAddr)

	var prefix [32]byte
	if !attach(&console, prefix[:0]) {
		return ErrNoTextFramebuffer
	}
	return nil
}

// bytesWriter appends to a caller-supplied buffer without growing it.
type bytesWriter struct {
	buf []byte
}

func (w *bytesWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[len(w.buf):cap(w.buf)], p)
	w.buf = w.buf[:len(w.buf)+n]
	return n, nil
}

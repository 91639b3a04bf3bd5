package kmain

import (
	"io"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/goruntime"
	"github.com/caelyx-os/caelyx/kernel/hal"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm/heap"
	"github.com/caelyx-os/caelyx/kernel/mm/pmm"
	"github.com/caelyx-os/caelyx/kernel/mm/vmm"
	"github.com/caelyx-os/caelyx/kernel/multiboot"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	initOutputsFn      = hal.InitOutputs
	pmmInitFn          = pmm.Init
	pmmSelfTestFn      = pmm.SelfTest
	virtualPagesInitFn = vmm.VirtualPages.Init
	vmmInitFn          = vmm.Init
	attachConsoleFn    = hal.AttachConsole
	heapInitFn         = heap.Init
	goruntimeInitFn    = goruntime.Init
	panicFn            = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code after
// setting up the GDT and setting up a a minimal g0 struct that allows Go code
// using the 4K stack allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	attached := initOutputsFn()
	kfmt.Printf("[kmain] %d output channel(s) attached\n", attached)

	bootInfo, err := multiboot.NewReader(multibootInfoPtr)
	if err != nil {
		panic(err)
	}
	logBootInfo(kfmt.GetOutputSink(), &bootInfo)

	var cmdLine []byte
	if tag, ok := bootInfo.FindTag(multiboot.TagCmdLine); ok {
		if cmdLine, err = tag.CmdLine(); err != nil {
			panic(err)
		}
	}
	cfg := parseConfig(cmdLine)

	if tag, ok := bootInfo.FindTag(multiboot.TagFramebuffer); ok {
		fbInfo, err := tag.Framebuffer()
		if err != nil {
			panic(err)
		}
		hal.SetFramebuffer(fbInfo)
	}

	if err = pmmInitFn(&bootInfo, kernelStart, kernelEnd, cfg.pmmPolicy); err != nil {
		panic(err)
	}

	if cfg.pmmSelfTest {
		if err = pmmSelfTestFn(); err != nil {
			panic(err)
		}
	}

	// The framebuffer fix-up reserves virtual pages while vmm.Init runs.
	virtualPagesInitFn()

	if err = vmmInitFn(hal.RemapFramebuffer); err != nil {
		panic(err)
	}

	if err = attachConsoleFn(); err != nil && err != hal.ErrNoTextFramebuffer {
		panic(err)
	}

	if err = heapInitFn(cfg.heapPages); err != nil {
		panic(err)
	} else if err = goruntimeInitFn(); err != nil {
		panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// logBootInfo reports the boot loader name and the basic memory sizes when
// the boot loader provided them.
func logBootInfo(w io.Writer, r *multiboot.Reader) {
	if tag, ok := r.FindTag(multiboot.TagBootLoaderName); ok {
		if name, err := tag.BootLoaderName(); err == nil {
			kfmt.Fprintf(w, "[kmain] booted by %s\n", name)
		}
	}

	if tag, ok := r.FindTag(multiboot.TagBasicMemInfo); ok {
		if lowerKb, upperKb, err := tag.BasicMemInfo(); err == nil {
			kfmt.Fprintf(w, "[kmain] lower memory: %d KiB, upper memory: %d KiB\n", lowerKb, upperKb)
		}
	}
}

// Package vmm implements the two-level 32-bit paging core and the kernel
// virtual page allocator.
//
// There is a single page directory. Page tables are allocated from the
// physical memory manager on first use and released when their last entry is
// unmapped. Directory entry 1023 points back at the directory so that once
// paging is enabled every page table is reachable in the top 4 MiB of the
// address space.
package vmm

import (
	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/cpu"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	hasFeatureFn   = cpu.HasFeature
	enablePSEFn    = cpu.EnablePSE
	switchPDTFn    = cpu.SwitchPDT
	activePDTFn    = cpu.ActivePDT
	enablePagingFn = cpu.EnablePaging

	// ErrNoPSE is returned by Init when the CPU cannot map 4 MiB pages.
	ErrNoPSE = &kernel.Error{Module: "vmm", Message: "CPU does not support page size extensions"}

	// ErrPDTNotActive is returned by Init when CR3 does not hold the kernel
	// page directory after it has been loaded.
	ErrPDTNotActive = &kernel.Error{Module: "vmm", Message: "kernel page directory is not active"}
)

// Init builds the kernel page directory and turns paging on. The first 4 MiB
// of physical memory, which hold the kernel image, are identity mapped with a
// single large page. earlyFixupFn, if not nil, runs after the directory is
// loaded into CR3 but before paging is enabled, while page tables can still
// be reached through their physical address.
func Init(earlyFixupFn func() *kernel.Error) *kernel.Error {
	if !hasFeatureFn(cpu.FeaturePSE) {
		return ErrNoPSE
	}
	enablePSEFn()

	pagingEnabled = false
	kernelPDT.init()
	kernelPDT.Map4MB(0, 0, FlagWritable)

	kfmt.Printf("[vmm] page directory at 0x%8x\n", kernelPDT.physAddr())
	switchPDTFn(kernelPDT.physAddr())
	if active := activePDTFn(); active != kernelPDT.physAddr() {
		kfmt.Printf("[vmm] CR3 holds 0x%8x after loading the page directory\n", active)
		return ErrPDTNotActive
	}

	if earlyFixupFn != nil {
		if err := earlyFixupFn(); err != nil {
			return err
		}
	}

	enablePagingFn()
	pagingEnabled = true
	kfmt.Printf("[vmm] paging enabled\n")
	return nil
}

// Package pmm implements the physical memory manager. It discovers usable RAM
// from the boot loader memory map and hands out physically contiguous page
// runs from a bitmap covering the 32-bit physical address space.
package pmm

import (
	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/multiboot"
)

var (
	// FrameAllocator is the allocator instance used for all physical page
	// allocations once Init returns.
	FrameAllocator BitmapAllocator

	// ErrMmapTagMissing is returned by Init when the boot information has
	// no memory map tag.
	ErrMmapTagMissing = &kernel.Error{Module: "pmm", Message: "boot information does not contain a memory map"}

	// ErrNoUsableMemory is returned by Init when the memory map contains no
	// page-sized span of available memory outside the kernel image.
	ErrNoUsableMemory = &kernel.Error{Module: "pmm", Message: "no usable memory region found"}

	errSelfTestMismatch = &kernel.Error{Module: "pmm", Message: "allocator self-test left pages allocated"}
)

// Init sets up the kernel physical memory allocation sub-system using the
// memory map found by r. The kernel image [kernelStart, kernelEnd) is never
// handed out.
func Init(r *multiboot.Reader, kernelStart, kernelEnd uintptr, policy RegionPolicy) *kernel.Error {
	tag, found := r.FindTag(multiboot.TagMemoryMap)
	if !found {
		if err := r.Err(); err != nil {
			return err
		}
		return ErrMmapTagMissing
	}

	mmap, err := tag.MemoryMap()
	if err != nil {
		return err
	}

	printMemoryMap(mmap)
	kfmt.Printf("[pmm] kernel image: [0x%8x - 0x%8x]\n", kernelStart, kernelEnd)

	var regions [maxRegions]Region
	count := selectRegions(mmap, kernelStart, kernelEnd, policy, &regions)
	if count == 0 {
		return ErrNoUsableMemory
	}

	FrameAllocator.init(regions[:count])
	FrameAllocator.printRegions(policy)

	mm.SetFrameAllocator(allocFrame)
	mm.SetFrameReleaser(releaseFrame)
	return nil
}

// Allocate reserves count physically contiguous pages using FrameAllocator.
func Allocate(count uint32) (uintptr, *kernel.Error) {
	return FrameAllocator.Allocate(count)
}

// Free releases count pages starting at addr using FrameAllocator.
func Free(addr uintptr, count uint32) {
	FrameAllocator.Free(addr, count)
}

// FreePageCount returns the number of free pages in FrameAllocator.
func FreePageCount() uint32 {
	return FrameAllocator.FreePageCount()
}

// TotalPageCount returns the number of pages managed by FrameAllocator.
func TotalPageCount() uint32 {
	return FrameAllocator.TotalPageCount()
}

// Regions returns the regions managed by FrameAllocator.
func Regions() ([maxRegions]Region, int) {
	return FrameAllocator.Regions()
}

// SelfTest allocates runs of 1 to 15 pages, frees them and repeats once. It
// reports an error if the free page count does not return to its starting
// value.
func SelfTest() *kernel.Error {
	var addrs [15]uintptr

	before := FreePageCount()
	for pass := 0; pass < 2; pass++ {
		for i := range addrs {
			addr, err := Allocate(uint32(i + 1))
			if err != nil {
				addrs[i] = 0
				continue
			}
			addrs[i] = addr
			kfmt.Printf("[pmm] self-test: allocated 0x%8x (x%d)\n", addr, i+1)
		}

		for i, addr := range addrs {
			if addr == 0 {
				continue
			}
			Free(addr, uint32(i+1))
		}
	}

	if FreePageCount() != before {
		return errSelfTestMismatch
	}
	return nil
}

// allocFrame and releaseFrame adapt FrameAllocator to the single-frame
// interface used by the vmm package.
func allocFrame() (mm.Frame, *kernel.Error) {
	addr, err := FrameAllocator.Allocate(1)
	if err != nil {
		return mm.InvalidFrame, err
	}
	return mm.FrameFromAddress(addr), nil
}

func releaseFrame(f mm.Frame) {
	FrameAllocator.Free(f.Address(), 1)
}

package pmm

import (
	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/mm/bitmap"
	"github.com/caelyx-os/caelyx/kernel/sync"
)

var (
	// ErrOutOfMemory is returned when no run of free pages of the
	// requested length exists.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrInvalidFree is raised when a free targets an unaligned address or
	// a range that is not inside a single managed region.
	ErrInvalidFree = &kernel.Error{Module: "pmm", Message: "invalid free"}

	// ErrDoubleFree is raised when a free targets a page that is already
	// free.
	ErrDoubleFree = &kernel.Error{Module: "pmm", Message: "double free"}

	// bitmapStorage holds one bit per frame of the 32-bit physical address
	// space. Frame n is tracked by bit n so every region owns the slice of
	// the bitmap that matches its frame range.
	bitmapStorage [mm.MaxPhysPages / 32]uint32
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the managed regions using a single bitmap.
type BitmapAllocator struct {
	mutex sync.Mutex

	pages bitmap.Bitmap

	regions     [maxRegions]Region
	regionCount int

	// totalPages tracks the total number of pages across all regions.
	totalPages uint32

	// freePages tracks the number of unallocated pages across all regions.
	freePages uint32
}

// init marks every frame outside the supplied regions as permanently
// allocated and every frame inside them as free.
func (alloc *BitmapAllocator) init(regions []Region) {
	alloc.mutex.Lock()
	defer alloc.mutex.Unlock()

	alloc.pages.Init(bitmapStorage[:], mm.MaxPhysPages)
	alloc.pages.SetAll()

	alloc.regionCount = copy(alloc.regions[:], regions)
	alloc.totalPages = 0
	for i := 0; i < alloc.regionCount; i++ {
		r := alloc.regions[i]
		alloc.pages.ClearRange(uint32(r.FirstPage), r.PageCount)
		alloc.totalPages += r.PageCount
	}
	alloc.freePages = alloc.totalPages
}

// Allocate reserves count physically contiguous pages and returns the
// address of the first one. Runs never cross region boundaries.
func (alloc *BitmapAllocator) Allocate(count uint32) (uintptr, *kernel.Error) {
	if count == 0 {
		return 0, ErrOutOfMemory
	}

	alloc.mutex.Lock()
	defer alloc.mutex.Unlock()

	if count > alloc.freePages {
		return 0, ErrOutOfMemory
	}

	for i := 0; i < alloc.regionCount; i++ {
		r := &alloc.regions[i]
		if r.PageCount < count {
			continue
		}

		index, found := alloc.pages.FindClear(uint32(r.FirstPage), uint32(r.LastPage), count)
		if !found {
			continue
		}

		alloc.pages.SetRange(index, count)
		alloc.freePages -= count
		return mm.Frame(index).Address(), nil
	}

	return 0, ErrOutOfMemory
}

// Free returns count pages starting at addr to the allocator. The whole range
// is validated before any page is released, so a rejected free leaves the
// allocator untouched.
func (alloc *BitmapAllocator) Free(addr uintptr, count uint32) {
	if !mm.IsAligned(addr, mm.PageSize) || count == 0 {
		kfmt.Printf("[pmm] invalid free of %d page(s) at 0x%8x\n", count, addr)
		panic(ErrInvalidFree)
	}

	first := mm.FrameFromAddress(addr)

	alloc.mutex.Lock()
	if !alloc.managed(first, count) {
		alloc.mutex.Unlock()
		kfmt.Printf("[pmm] invalid free of %d page(s) at 0x%8x\n", count, addr)
		panic(ErrInvalidFree)
	}

	if !alloc.pages.AllSet(uint32(first), count) {
		alloc.mutex.Unlock()
		kfmt.Printf("[pmm] double free of %d page(s) at 0x%8x\n", count, addr)
		panic(ErrDoubleFree)
	}

	alloc.pages.ClearRange(uint32(first), count)
	alloc.freePages += count
	alloc.mutex.Unlock()
}

// managed reports whether the range lies inside a single managed region.
func (alloc *BitmapAllocator) managed(first mm.Frame, count uint32) bool {
	for i := 0; i < alloc.regionCount; i++ {
		if alloc.regions[i].contains(first, count) {
			return true
		}
	}
	return false
}

// FreePageCount returns the number of pages that can still be allocated.
func (alloc *BitmapAllocator) FreePageCount() uint32 {
	alloc.mutex.Lock()
	defer alloc.mutex.Unlock()
	return alloc.freePages
}

// TotalPageCount returns the number of pages under management.
func (alloc *BitmapAllocator) TotalPageCount() uint32 {
	alloc.mutex.Lock()
	defer alloc.mutex.Unlock()
	return alloc.totalPages
}

// Regions returns a copy of the managed regions.
func (alloc *BitmapAllocator) Regions() ([maxRegions]Region, int) {
	alloc.mutex.Lock()
	defer alloc.mutex.Unlock()
	return alloc.regions, alloc.regionCount
}

func (alloc *BitmapAllocator) printRegions(policy RegionPolicy) {
	regions, count := alloc.Regions()

	kfmt.Printf("[pmm] region policy: %s\n", policy.String())
	for i := 0; i < count; i++ {
		kfmt.Printf("[pmm] using %d pages at [0x%8x - 0x%8x]\n", regions[i].PageCount, regions[i].FirstPage.Address(), regions[i].LastPage.Address())
	}
	kfmt.Printf("[pmm] page bitmap: %d/%d pages free\n", alloc.FreePageCount(), alloc.TotalPageCount())
}

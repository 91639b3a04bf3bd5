package vmm

import (
	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/mm/bitmap"
	"github.com/caelyx-os/caelyx/kernel/sync"
)

const (
	// virtualPageCount is the number of pages in [KernelSpaceStart, 4G).
	virtualPageCount = uint32((1<<32 - uint64(KernelSpaceStart)) >> mm.PageShift)

	// recursiveWindowPage is the index of the first page of the 4 MiB
	// window occupied by the recursively mapped page tables. It is never
	// handed out.
	recursiveWindowPage = uint32((uint64(recursiveTablesAddr) - uint64(KernelSpaceStart)) >> mm.PageShift)
)

var (
	// ErrAddressSpaceExhausted is returned when no run of free virtual pages
	// of the requested length exists.
	ErrAddressSpaceExhausted = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}

	// ErrInvalidRelease is raised when releasing an unaligned address or a
	// range outside the managed address space.
	ErrInvalidRelease = &kernel.Error{Module: "vmm", Message: "invalid virtual page release"}

	// ErrDoubleRelease is raised when releasing a virtual page that is not
	// reserved.
	ErrDoubleRelease = &kernel.Error{Module: "vmm", Message: "virtual page released twice"}

	virtualBitmapStorage [virtualPageCount / 32]uint32

	// VirtualPages hands out kernel virtual address ranges.
	VirtualPages AddressSpace
)

// AddressSpace tracks which pages of [KernelSpaceStart, 4G) are reserved.
// Reserving pages does not create mappings.
type AddressSpace struct {
	mutex sync.Mutex
	pages bitmap.Bitmap
}

// Init marks the whole kernel address space as free except for the page
// table window.
func (as *AddressSpace) Init() {
	as.mutex.Lock()
	as.pages.Init(virtualBitmapStorage[:], virtualPageCount)
	as.pages.ClearRange(0, virtualPageCount)
	as.pages.SetRange(recursiveWindowPage, virtualPageCount-recursiveWindowPage)
	as.mutex.Unlock()

	kfmt.Printf("[vmm] virtual page allocator: %d pages at 0x%8x\n", recursiveWindowPage, KernelSpaceStart)
}

// ReservePages reserves count contiguous virtual pages and returns the
// address of the first one.
func (as *AddressSpace) ReservePages(count uint32) (uintptr, *kernel.Error) {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	index, found := as.pages.FindClear(0, recursiveWindowPage, count)
	if !found {
		return 0, ErrAddressSpaceExhausted
	}

	as.pages.SetRange(index, count)
	return KernelSpaceStart + uintptr(index)<<mm.PageShift, nil
}

// ReleasePages returns count pages starting at addr to the allocator. The
// range is validated before any page is released.
func (as *AddressSpace) ReleasePages(addr uintptr, count uint32) {
	if !mm.IsAligned(addr, mm.PageSize) || addr < KernelSpaceStart || count == 0 {
		kfmt.Printf("[vmm] invalid release of %d page(s) at 0x%8x\n", count, addr)
		panic(ErrInvalidRelease)
	}

	index := uint32((addr - KernelSpaceStart) >> mm.PageShift)
	if uint64(index)+uint64(count) > uint64(recursiveWindowPage) {
		kfmt.Printf("[vmm] invalid release of %d page(s) at 0x%8x\n", count, addr)
		panic(ErrInvalidRelease)
	}

	as.mutex.Lock()
	if !as.pages.AllSet(index, count) {
		as.mutex.Unlock()
		kfmt.Printf("[vmm] double release of %d page(s) at 0x%8x\n", count, addr)
		panic(ErrDoubleRelease)
	}
	as.pages.ClearRange(index, count)
	as.mutex.Unlock()
}

// FreePageCount returns the number of virtual pages that can be reserved.
func (as *AddressSpace) FreePageCount() uint32 {
	as.mutex.Lock()
	defer as.mutex.Unlock()
	return recursiveWindowPage - as.pages.CountSet(0, recursiveWindowPage)
}

// ReservePages reserves count contiguous pages from VirtualPages.
func ReservePages(count uint32) (uintptr, *kernel.Error) {
	return VirtualPages.ReservePages(count)
}

// ReleasePages releases count pages starting at addr to VirtualPages.
func ReleasePages(addr uintptr, count uint32) {
	VirtualPages.ReleasePages(addr, count)
}

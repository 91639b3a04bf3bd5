package vmm

import (
	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/mm"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapFn          = Map
	unmapFn        = Unmap
	reservePagesFn = ReservePages
	releasePagesFn = ReleasePages
)

// Map establishes a mapping between the 4 KiB page at virt and the physical
// page at phys in the kernel page directory. It returns an error only when a
// page table is needed and no physical frame is available for it.
func Map(phys, virt uintptr, flags MapFlag) *kernel.Error {
	return kernelPDT.Map(phys, virt, flags)
}

// Map4MB maps a 4 MiB page at virt to phys in the kernel page directory.
func Map4MB(phys, virt uintptr, flags MapFlag) {
	kernelPDT.Map4MB(phys, virt, flags)
}

// Unmap removes a mapping previously installed via a call to Map or Map4MB.
func Unmap(virt uintptr) {
	kernelPDT.Unmap(virt)
}

// Lookup returns the mapping installed for virt.
func Lookup(virt uintptr) (Mapping, *kernel.Error) {
	return kernelPDT.Lookup(virt)
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(virt uintptr) (uintptr, *kernel.Error) {
	return kernelPDT.Translate(virt)
}

// MapRegion reserves virtual pages and maps the physical region
// [phys, phys+size) onto them. phys need not be page aligned; the returned
// virtual address carries the same page offset. On failure every page mapped
// so far is unmapped and the reservation is released.
func MapRegion(phys, size uintptr, flags MapFlag) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, ErrInvalidMapping
	}

	offset := PageOffset(phys)
	physBase := phys - offset
	pageCount := uint32((uint64(offset) + uint64(size) + uint64(mm.PageSize-1)) >> mm.PageShift)

	virtBase, err := reservePagesFn(pageCount)
	if err != nil {
		return 0, err
	}

	for i := uint32(0); i < pageCount; i++ {
		pageOffset := uintptr(i) << mm.PageShift
		if err = mapFn(physBase+pageOffset, virtBase+pageOffset, flags); err != nil {
			for j := uint32(0); j < i; j++ {
				unmapFn(virtBase + uintptr(j)<<mm.PageShift)
			}
			releasePagesFn(virtBase, pageCount)
			return 0, err
		}
	}

	return virtBase + offset, nil
}

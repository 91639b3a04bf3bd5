package vmm

import (
	"unsafe"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/cpu"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/sync"
)

var (
	// ErrDoubleMap is raised when mapping an address that is already
	// mapped.
	ErrDoubleMap = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}

	// ErrUnmapNotPresent is raised when unmapping an address that is not
	// mapped.
	ErrUnmapNotPresent = &kernel.Error{Module: "vmm", Message: "virtual address is not mapped"}

	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// pagingEnabled is set once CR0.PG is on. Before that page tables are
	// accessed through their physical address; afterwards through the
	// recursive directory slot.
	pagingEnabled bool

	// pdtStorage is twice the size of a page directory so a 4 KiB aligned
	// directory can always be carved out of it.
	pdtStorage [2 * tableEntries]pageTableEntry

	// kernelPDT is the one and only page directory.
	kernelPDT PageDirectory
)

// MapFlag selects the attributes of a new mapping. The zero value maps a
// read-only, supervisor-only, write-back cached page.
type MapFlag uint8

const (
	// FlagWritable allows writes to the page.
	FlagWritable MapFlag = 1 << iota

	// FlagUser allows ring 3 access to the page.
	FlagUser

	// FlagCacheDisable disables caching for the page; used for MMIO.
	FlagCacheDisable

	// FlagWriteThrough selects write-through caching for the page.
	FlagWriteThrough
)

// Mapping describes the translation installed for a virtual address.
type Mapping struct {
	// PhysAddr is the address of the mapped page (4 KiB or 4 MiB aligned).
	PhysAddr uintptr

	Flags     MapFlag
	LargePage bool
}

// PageDirectory owns the top-level paging structure and every page table
// reachable from it. All updates are serialized by its mutex; the mutex is
// never held while calling into the physical memory manager.
type PageDirectory struct {
	mutex   sync.Mutex
	entries *[tableEntries]pageTableEntry
}

// init carves a page aligned directory out of pdtStorage, clears it and
// installs the recursive slot.
func (pd *PageDirectory) init() {
	aligned := (uintptr(unsafe.Pointer(&pdtStorage[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)

	pd.mutex.Lock()
	pd.entries = (*[tableEntries]pageTableEntry)(unsafe.Pointer(aligned))
	for i := range pd.entries {
		pd.entries[i].store(0)
	}
	pd.entries[recursiveSlot].store(DirectoryEntry{Present: true, Writable: true, PhysAddr: aligned}.encode())
	pd.mutex.Unlock()
}

// physAddr returns the physical address of the directory. The kernel image
// is identity mapped so this is also its virtual address.
func (pd *PageDirectory) physAddr() uintptr {
	return uintptr(unsafe.Pointer(pd.entries))
}

// table returns the page table referenced by directory entry dirIndex.
func (pd *PageDirectory) table(dirIndex uintptr, pde pageTableEntry) *[tableEntries]pageTableEntry {
	return (*[tableEntries]pageTableEntry)(unsafe.Pointer(tableAddr(dirIndex, decodeDirectoryEntry(pde).PhysAddr)))
}

// tableAddr returns the address through which the page table for directory
// entry dirIndex, located at physical address tablePhys, can be accessed.
func tableAddr(dirIndex, tablePhys uintptr) uintptr {
	if pagingEnabled {
		return recursiveTablesAddr + dirIndex<<mm.PageShift
	}
	return tablePhys
}

func splitAddr(virt uintptr) (dirIndex, tableIndex uintptr) {
	return virt >> dirShift, (virt >> tableShift) & indexMask
}

// Map maps the 4 KiB page at phys to virt, allocating and installing a page
// table if needed. Mapping an address that is already mapped, including one
// covered by a 4 MiB page, is fatal.
func (pd *PageDirectory) Map(phys, virt uintptr, flags MapFlag) *kernel.Error {
	if !mm.IsAligned(phys, mm.PageSize) || !mm.IsAligned(virt, mm.PageSize) {
		kfmt.Printf("[vmm] unaligned mapping 0x%8x -> 0x%8x\n", virt, phys)
		panic(ErrUnalignedAddress)
	}

	dirIndex, tableIndex := splitAddr(virt)

	pd.mutex.Lock()
	pde := pd.entries[dirIndex].load()
	for !pde.HasFlags(flagPresent) {
		// The table frame comes from the physical memory manager which
		// must not be called with the directory lock held.
		pd.mutex.Unlock()
		frame, err := mm.AllocFrame()
		if err != nil {
			return err
		}
		pd.mutex.Lock()

		if pde = pd.entries[dirIndex].load(); pde.HasFlags(flagPresent) {
			pd.mutex.Unlock()
			mm.FreeFrame(frame)
			pd.mutex.Lock()
			pde = pd.entries[dirIndex].load()
			continue
		}

		pde = pd.installTable(dirIndex, frame.Address())
	}

	if pde.HasFlags(flagPageSize) || dirIndex == recursiveSlot {
		pd.mutex.Unlock()
		kfmt.Printf("[vmm] 0x%8x is already covered by a 4MB page\n", virt)
		panic(ErrDoubleMap)
	}

	table := pd.table(dirIndex, pde)
	if table[tableIndex].load().HasFlags(flagPresent) {
		pd.mutex.Unlock()
		kfmt.Printf("[vmm] 0x%8x is already mapped\n", virt)
		panic(ErrDoubleMap)
	}

	table[tableIndex].store(TableEntry{
		Present:      true,
		Writable:     flags&FlagWritable != 0,
		User:         flags&FlagUser != 0,
		WriteThrough: flags&FlagWriteThrough != 0,
		CacheDisable: flags&FlagCacheDisable != 0,
		PhysAddr:     phys,
	}.encode())

	// The directory entry must grant user access for any user page below it.
	if flags&FlagUser != 0 && !pde.HasFlags(flagUser) {
		pd.entries[dirIndex].store(pde | pageTableEntry(flagUser))
	}

	flushTLBEntryFn(virt)
	pd.mutex.Unlock()
	return nil
}

// installTable points directory entry dirIndex at the page table frame at
// tablePhys and clears the table. The caller must hold the mutex.
func (pd *PageDirectory) installTable(dirIndex, tablePhys uintptr) pageTableEntry {
	pde := DirectoryEntry{Present: true, Writable: true, PhysAddr: tablePhys}.encode()
	pd.entries[dirIndex].store(pde)

	addr := tableAddr(dirIndex, tablePhys)
	if pagingEnabled {
		flushTLBEntryFn(addr)
	}
	kernel.Memset(addr, 0, mm.PageSize)
	return pde
}

// Map4MB maps the 4 MiB page at phys to virt using a single directory
// entry. Both addresses must be 4 MiB aligned and the directory slot must be
// unused.
func (pd *PageDirectory) Map4MB(phys, virt uintptr, flags MapFlag) {
	if !mm.IsAligned(phys, mm.LargePageSize) || !mm.IsAligned(virt, mm.LargePageSize) {
		kfmt.Printf("[vmm] unaligned 4MB mapping 0x%8x -> 0x%8x\n", virt, phys)
		panic(ErrUnalignedAddress)
	}

	dirIndex, _ := splitAddr(virt)

	pd.mutex.Lock()
	if pd.entries[dirIndex].load().HasFlags(flagPresent) {
		pd.mutex.Unlock()
		kfmt.Printf("[vmm] 4MB page at 0x%8x is already mapped\n", virt)
		panic(ErrDoubleMap)
	}

	pd.entries[dirIndex].store(DirectoryEntry{
		Present:      true,
		Writable:     flags&FlagWritable != 0,
		User:         flags&FlagUser != 0,
		WriteThrough: flags&FlagWriteThrough != 0,
		CacheDisable: flags&FlagCacheDisable != 0,
		LargePage:    true,
		PhysAddr:     phys,
	}.encode())

	flushTLBEntryFn(virt)
	pd.mutex.Unlock()
}

// Unmap removes the mapping for the page containing virt. A 4 MiB page is
// removed as a whole. When the last entry of a page table is cleared the
// table frame is returned to the physical memory manager.
func (pd *PageDirectory) Unmap(virt uintptr) {
	dirIndex, tableIndex := splitAddr(virt)
	virt &^= mm.PageSize - 1

	pd.mutex.Lock()
	pde := pd.entries[dirIndex].load()
	if !pde.HasFlags(flagPresent) || dirIndex == recursiveSlot {
		pd.mutex.Unlock()
		kfmt.Printf("[vmm] unmap of unmapped address 0x%8x\n", virt)
		panic(ErrUnmapNotPresent)
	}

	if pde.HasFlags(flagPageSize) {
		pd.entries[dirIndex].store(0)
		flushTLBEntryFn(virt &^ (mm.LargePageSize - 1))
		pd.mutex.Unlock()
		return
	}

	table := pd.table(dirIndex, pde)
	if !table[tableIndex].load().HasFlags(flagPresent) {
		pd.mutex.Unlock()
		kfmt.Printf("[vmm] unmap of unmapped address 0x%8x\n", virt)
		panic(ErrUnmapNotPresent)
	}

	table[tableIndex].store(0)
	flushTLBEntryFn(virt)

	releasedTable := mm.InvalidFrame
	if tableIsEmpty(table) {
		pd.entries[dirIndex].store(0)
		if pagingEnabled {
			flushTLBEntryFn(tableAddr(dirIndex, 0))
		}
		releasedTable = mm.FrameFromAddress(decodeDirectoryEntry(pde).PhysAddr)
	}
	pd.mutex.Unlock()

	if releasedTable.Valid() {
		mm.FreeFrame(releasedTable)
	}
}

func tableIsEmpty(table *[tableEntries]pageTableEntry) bool {
	for i := range table {
		if table[i].load().HasFlags(flagPresent) {
			return false
		}
	}
	return true
}

// Lookup returns the mapping installed for virt or ErrInvalidMapping.
func (pd *PageDirectory) Lookup(virt uintptr) (Mapping, *kernel.Error) {
	dirIndex, tableIndex := splitAddr(virt)

	pd.mutex.Lock()
	defer pd.mutex.Unlock()

	pde := pd.entries[dirIndex].load()
	if !pde.HasFlags(flagPresent) || dirIndex == recursiveSlot {
		return Mapping{}, ErrInvalidMapping
	}

	if pde.HasFlags(flagPageSize) {
		e := decodeDirectoryEntry(pde)
		return Mapping{
			PhysAddr:  e.PhysAddr,
			Flags:     mapFlags(e.Writable, e.User, e.CacheDisable, e.WriteThrough),
			LargePage: true,
		}, nil
	}

	pte := pd.table(dirIndex, pde)[tableIndex].load()
	if !pte.HasFlags(flagPresent) {
		return Mapping{}, ErrInvalidMapping
	}

	e := decodeTableEntry(pte)
	return Mapping{
		PhysAddr: e.PhysAddr,
		Flags:    mapFlags(e.Writable, e.User, e.CacheDisable, e.WriteThrough),
	}, nil
}

// Translate returns the physical address that corresponds to virt or
// ErrInvalidMapping if virt is not mapped.
func (pd *PageDirectory) Translate(virt uintptr) (uintptr, *kernel.Error) {
	m, err := pd.Lookup(virt)
	if err != nil {
		return 0, err
	}

	if m.LargePage {
		return m.PhysAddr + virt&(mm.LargePageSize-1), nil
	}
	return m.PhysAddr + PageOffset(virt), nil
}

func mapFlags(writable, user, cacheDisable, writeThrough bool) MapFlag {
	var flags MapFlag
	if writable {
		flags |= FlagWritable
	}
	if user {
		flags |= FlagUser
	}
	if cacheDisable {
		flags |= FlagCacheDisable
	}
	if writeThrough {
		flags |= FlagWriteThrough
	}
	return flags
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}

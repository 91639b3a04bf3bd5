package vmm

import (
	"sync/atomic"
	"unsafe"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
)

var (
	// ErrUnalignedAddress is raised when an address handed to the paging
	// code is not aligned to the page size it is used with.
	ErrUnalignedAddress = &kernel.Error{Module: "vmm", Message: "address is not page aligned"}
)

// entryFlag describes a hardware flag bit of a page directory or page table
// entry.
type entryFlag uint32

const (
	flagPresent entryFlag = 1 << iota
	flagRW
	flagUser
	flagWriteThrough
	flagCacheDisable
	flagAccessed
	flagDirty

	// flagPageSize marks a directory entry as a 4 MiB page. The same bit
	// selects the PAT entry in a page table entry.
	flagPageSize

	flagGlobal

	flagPTEPAT = flagPageSize

	// flagLargePAT selects the PAT entry of a 4 MiB page.
	flagLargePAT entryFlag = 1 << 12
)

// pageTableEntry is the packed 32-bit form of a page directory or page
// table entry.
type pageTableEntry uint32

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags entryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// load atomically reads the entry.
func (pte *pageTableEntry) load() pageTableEntry {
	return pageTableEntry(atomic.LoadUint32((*uint32)(unsafe.Pointer(pte))))
}

// store atomically replaces the entry.
func (pte *pageTableEntry) store(v pageTableEntry) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(pte)), uint32(v))
}

func boolFlag(set bool, flag entryFlag) uint32 {
	if set {
		return uint32(flag)
	}
	return 0
}

// TableEntry is the decoded form of a page table entry mapping a 4 KiB page.
type TableEntry struct {
	Present      bool
	Writable     bool
	User         bool
	WriteThrough bool
	CacheDisable bool
	Accessed     bool
	Dirty        bool
	PAT          bool
	Global       bool

	// PhysAddr is the 4 KiB aligned address of the mapped page.
	PhysAddr uintptr
}

func (e TableEntry) encode() pageTableEntry {
	if !mm.IsAligned(e.PhysAddr, mm.PageSize) {
		kfmt.Printf("[vmm] cannot encode page table entry for unaligned address 0x%8x\n", e.PhysAddr)
		panic(ErrUnalignedAddress)
	}

	return pageTableEntry(uint32(e.PhysAddr)&ptePhysPageMask |
		boolFlag(e.Present, flagPresent) |
		boolFlag(e.Writable, flagRW) |
		boolFlag(e.User, flagUser) |
		boolFlag(e.WriteThrough, flagWriteThrough) |
		boolFlag(e.CacheDisable, flagCacheDisable) |
		boolFlag(e.Accessed, flagAccessed) |
		boolFlag(e.Dirty, flagDirty) |
		boolFlag(e.PAT, flagPTEPAT) |
		boolFlag(e.Global, flagGlobal))
}

func decodeTableEntry(pte pageTableEntry) TableEntry {
	return TableEntry{
		Present:      pte.HasFlags(flagPresent),
		Writable:     pte.HasFlags(flagRW),
		User:         pte.HasFlags(flagUser),
		WriteThrough: pte.HasFlags(flagWriteThrough),
		CacheDisable: pte.HasFlags(flagCacheDisable),
		Accessed:     pte.HasFlags(flagAccessed),
		Dirty:        pte.HasFlags(flagDirty),
		PAT:          pte.HasFlags(flagPTEPAT),
		Global:       pte.HasFlags(flagGlobal),
		PhysAddr:     uintptr(uint32(pte) & ptePhysPageMask),
	}
}

// DirectoryEntry is the decoded form of a page directory entry. It either
// points to a page table or, when LargePage is set, maps a 4 MiB page.
type DirectoryEntry struct {
	Present      bool
	Writable     bool
	User         bool
	WriteThrough bool
	CacheDisable bool
	Accessed     bool
	LargePage    bool

	// Only meaningful for large pages.
	Dirty  bool
	Global bool
	PAT    bool

	// PhysAddr is the address of the page table (4 KiB aligned) or of the
	// large page (4 MiB aligned).
	PhysAddr uintptr
}

func (e DirectoryEntry) encode() pageTableEntry {
	common := boolFlag(e.Present, flagPresent) |
		boolFlag(e.Writable, flagRW) |
		boolFlag(e.User, flagUser) |
		boolFlag(e.WriteThrough, flagWriteThrough) |
		boolFlag(e.CacheDisable, flagCacheDisable) |
		boolFlag(e.Accessed, flagAccessed)

	if !e.LargePage {
		if !mm.IsAligned(e.PhysAddr, mm.PageSize) {
			kfmt.Printf("[vmm] cannot encode directory entry for unaligned table address 0x%8x\n", e.PhysAddr)
			panic(ErrUnalignedAddress)
		}
		return pageTableEntry(uint32(e.PhysAddr)&ptePhysPageMask | common)
	}

	if !mm.IsAligned(e.PhysAddr, mm.LargePageSize) {
		kfmt.Printf("[vmm] cannot encode directory entry for unaligned large page 0x%8x\n", e.PhysAddr)
		panic(ErrUnalignedAddress)
	}

	return pageTableEntry(uint32(e.PhysAddr)&largePagePhysMask |
		common |
		uint32(flagPageSize) |
		boolFlag(e.Dirty, flagDirty) |
		boolFlag(e.Global, flagGlobal) |
		boolFlag(e.PAT, flagLargePAT))
}

func decodeDirectoryEntry(pte pageTableEntry) DirectoryEntry {
	e := DirectoryEntry{
		Present:      pte.HasFlags(flagPresent),
		Writable:     pte.HasFlags(flagRW),
		User:         pte.HasFlags(flagUser),
		WriteThrough: pte.HasFlags(flagWriteThrough),
		CacheDisable: pte.HasFlags(flagCacheDisable),
		Accessed:     pte.HasFlags(flagAccessed),
		LargePage:    pte.HasFlags(flagPageSize),
	}

	if !e.LargePage {
		e.PhysAddr = uintptr(uint32(pte) & ptePhysPageMask)
		return e
	}

	e.Dirty = pte.HasFlags(flagDirty)
	e.Global = pte.HasFlags(flagGlobal)
	e.PAT = pte.HasFlags(flagLargePAT)
	e.PhysAddr = uintptr(uint32(pte) & largePagePhysMask)
	return e
}

package multiboot

import (
	"encoding/binary"

	"github.com/caelyx-os/caelyx/kernel"
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBadRAM marks defective memory.
	MemBadRAM

	// MemUnknown is reported for every type code the boot protocol does not
	// define.
	MemUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemBadRAM:
		return "bad RAM"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// End returns the first physical address past the region. The result
// saturates instead of wrapping around.
func (e MemoryMapEntry) End() uint64 {
	end := e.PhysAddress + e.Length
	if end < e.PhysAddress {
		return ^uint64(0)
	}
	return end
}

// MemRegionVisitor defines a visitor function that gets invoked by Visit for
// each memory region provided by the boot loader. The visitor must return
// true to continue or false to abort the scan.
type MemRegionVisitor func(MemoryMapEntry) bool

// MemoryMap is a view over the entries of a memory map tag.
type MemoryMap struct {
	entrySize uint32
	entries   []byte
}

// MemoryMap decodes the memory map header of the tag. The entry size declared
// by the boot loader is honored so newer entry versions with extra trailing
// fields are read correctly.
func (t Tag) MemoryMap() (MemoryMap, *kernel.Error) {
	if t.Type != TagMemoryMap {
		return MemoryMap{}, errTagTypeMismatch
	}
	if len(t.payload) < mmapHeaderSize {
		return MemoryMap{}, ErrMalformedMemoryMap
	}

	entrySize := binary.LittleEndian.Uint32(t.payload)
	if entrySize < minMmapEntrySize {
		return MemoryMap{}, ErrMalformedMemoryMap
	}

	return MemoryMap{entrySize: entrySize, entries: t.payload[mmapHeaderSize:]}, nil
}

// Len returns the number of complete entries in the map.
func (m MemoryMap) Len() int {
	if m.entrySize == 0 {
		return 0
	}
	return len(m.entries) / int(m.entrySize)
}

// Entry decodes the i-th entry of the map.
func (m MemoryMap) Entry(i int) MemoryMapEntry {
	raw := m.entries[i*int(m.entrySize):]

	entryType := MemoryEntryType(binary.LittleEndian.Uint32(raw[16:]))
	if entryType < MemAvailable || entryType > MemBadRAM {
		entryType = MemUnknown
	}

	return MemoryMapEntry{
		PhysAddress: binary.LittleEndian.Uint64(raw),
		Length:      binary.LittleEndian.Uint64(raw[8:]),
		Type:        entryType,
	}
}

// Visit invokes visitor for each entry in the map until it returns false.
func (m MemoryMap) Visit(visitor MemRegionVisitor) {
	for i, n := 0, m.Len(); i < n; i++ {
		if !visitor(m.Entry(i)) {
			return
		}
	}
}

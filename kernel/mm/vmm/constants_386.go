package vmm

const (
	// tableEntries is the number of entries in the page directory and in
	// each page table.
	tableEntries = 1024

	// dirShift and tableShift select the page directory and page table
	// indices from a virtual address.
	dirShift   = 22
	tableShift = 12
	indexMask  = tableEntries - 1

	// ptePhysPageMask extracts the physical address of a page table or a
	// 4 KiB page from an entry (bits 12-31).
	ptePhysPageMask = uint32(0xfffff000)

	// largePagePhysMask extracts the physical address of a 4 MiB page from
	// a directory entry (bits 22-31).
	largePagePhysMask = uint32(0xffc00000)

	// recursiveSlot is the directory entry that points back at the page
	// directory. Once paging is enabled the page table for directory entry
	// i can be accessed at recursiveTablesAddr + i*PageSize.
	recursiveSlot       = tableEntries - 1
	recursiveTablesAddr = uintptr(recursiveSlot) << dirShift

	// KernelSpaceStart is the first address managed by the virtual page
	// allocator.
	KernelSpaceStart = uintptr(0xc0000000)
)

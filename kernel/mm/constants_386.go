package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(2)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// LargePageShift is equal to log2(LargePageSize).
	LargePageShift = uintptr(22)

	// LargePageSize is the size of a page mapped directly by a page
	// directory entry when page size extensions are enabled.
	LargePageSize = uintptr(1 << LargePageShift)

	// MaxPhysPages is the number of frames needed to cover the 4 GiB
	// physical address space.
	MaxPhysPages = uint32(1 << (32 - PageShift))
)

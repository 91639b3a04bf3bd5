package pmm

import (
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/multiboot"
)

const (
	// maxRegions bounds the number of regions managed under PolicyAll.
	maxRegions = 16

	physLimit = uint64(1) << 32
	pageMask  = uint64(mm.PageSize - 1)
)

// RegionPolicy selects which usable memory regions the allocator manages.
type RegionPolicy uint8

const (
	// PolicyLargest manages only the usable region with the most pages.
	// When several regions tie, the first one in memory map order wins.
	PolicyLargest RegionPolicy = iota

	// PolicyAll manages every usable region, up to maxRegions of them.
	PolicyAll
)

// String implements fmt.Stringer for RegionPolicy.
func (p RegionPolicy) String() string {
	switch p {
	case PolicyLargest:
		return "largest"
	case PolicyAll:
		return "all"
	default:
		return "unknown"
	}
}

// Region is a page-aligned span of physical memory managed by the allocator.
// LastPage is exclusive.
type Region struct {
	FirstPage mm.Frame
	LastPage  mm.Frame
	PageCount uint32
}

// contains reports whether the count pages starting at first lie inside the
// region.
func (r Region) contains(first mm.Frame, count uint32) bool {
	return first >= r.FirstPage && uint64(first)+uint64(count) <= uint64(r.LastPage)
}

// visitUsableRegions invokes visitor for each page-aligned fragment of
// available memory in mmap. Memory at or above 4 GiB is ignored and the
// kernel image [kernelStart, kernelEnd) is carved out, so a single entry can
// produce zero, one or two fragments. Frame 0 is never reported.
func visitUsableRegions(mmap multiboot.MemoryMap, kernelStart, kernelEnd uintptr, visitor func(Region)) {
	kStart, kEnd := uint64(kernelStart), uint64(kernelEnd)

	mmap.Visit(func(entry multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable || entry.PhysAddress >= physLimit {
			return true
		}

		start, end := entry.PhysAddress, entry.End()
		if end > physLimit {
			end = physLimit
		}

		if kStart < kEnd && kStart < end && kEnd > start {
			if start < kStart {
				emitRegion(start, kStart, visitor)
			}
			if kEnd < end {
				emitRegion(kEnd, end, visitor)
			}
			return true
		}

		emitRegion(start, end, visitor)
		return true
	})
}

func emitRegion(start, end uint64, visitor func(Region)) {
	first := (start + pageMask) &^ pageMask
	if first == 0 {
		first = uint64(mm.PageSize)
	}
	last := end &^ pageMask
	if first >= last {
		return
	}

	visitor(Region{
		FirstPage: mm.Frame(first >> mm.PageShift),
		LastPage:  mm.Frame(last >> mm.PageShift),
		PageCount: uint32((last - first) >> mm.PageShift),
	})
}

// selectRegions applies policy to the usable regions of mmap, stores the
// chosen ones in out and returns how many were stored.
func selectRegions(mmap multiboot.MemoryMap, kernelStart, kernelEnd uintptr, policy RegionPolicy, out *[maxRegions]Region) int {
	var count int

	visitUsableRegions(mmap, kernelStart, kernelEnd, func(r Region) {
		switch policy {
		case PolicyAll:
			count = addDisjointRegion(out, count, r)
		default:
			if count == 0 || r.PageCount > out[0].PageCount {
				out[0] = r
				count = 1
			}
		}
	})

	return count
}

// addDisjointRegion stores the parts of r that do not overlap any of the
// first count regions in out and returns the new count. Firmware may report
// overlapping available entries; each page must be managed only once.
func addDisjointRegion(out *[maxRegions]Region, count int, r Region) int {
	if r.PageCount == 0 {
		return count
	}

	for i := 0; i < count; i++ {
		s := out[i]
		if r.LastPage <= s.FirstPage || r.FirstPage >= s.LastPage {
			continue
		}

		if r.FirstPage < s.FirstPage {
			count = addDisjointRegion(out, count, Region{FirstPage: r.FirstPage, LastPage: s.FirstPage, PageCount: uint32(s.FirstPage - r.FirstPage)})
		}
		if r.LastPage > s.LastPage {
			count = addDisjointRegion(out, count, Region{FirstPage: s.LastPage, LastPage: r.LastPage, PageCount: uint32(r.LastPage - s.LastPage)})
		}
		return count
	}

	if count == maxRegions {
		kfmt.Printf("[pmm] ignoring region [0x%8x - 0x%8x]: region limit reached\n", r.FirstPage.Address(), r.LastPage.Address())
		return count
	}

	out[count] = r
	return count + 1
}

// printMemoryMap logs the memory map reported by the boot loader.
func printMemoryMap(mmap multiboot.MemoryMap) {
	var (
		totalFree mm.Size
		w         = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[pmm] ")}
	)

	kfmt.Fprintf(&w, "system memory map:\n")
	mmap.Visit(func(region multiboot.MemoryMapEntry) bool {
		kfmt.Fprintf(&w, "  [0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.End(), region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	})
	kfmt.Fprintf(&w, "available memory: %dKb\n", uint64(totalFree/mm.Kb))
}

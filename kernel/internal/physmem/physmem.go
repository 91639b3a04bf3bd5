// Package physmem backs simulated physical memory with anonymous host
// mappings so the memory management packages can be tested without a
// machine. Mapped pages are page-aligned, which lets page tables be written
// through their "physical" address exactly as the kernel does before paging
// is enabled.
package physmem

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/mm/pmm"
	"github.com/caelyx-os/caelyx/kernel/multiboot"
	"github.com/caelyx-os/caelyx/kernel/multiboot/multiboottest"
	"github.com/caelyx-os/caelyx/kernel/sync"
)

// Arena is a block of page-aligned host memory standing in for RAM.
type Arena struct {
	mem []byte
}

// New maps an arena of the given number of pages.
func New(pages int) (*Arena, error) {
	mem, err := unix.Mmap(-1, 0, pages*int(mm.PageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, err
	}
	return &Arena{mem: mem}, nil
}

// Base returns the address of the first page of the arena.
func (a *Arena) Base() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// Size returns the arena size in bytes.
func (a *Arena) Size() uintptr {
	return uintptr(len(a.mem))
}

// Contains reports whether addr falls inside the arena.
func (a *Arena) Contains(addr uintptr) bool {
	return addr >= a.Base() && addr-a.Base() < a.Size()
}

// MemoryMapEntry describes the arena as available memory.
func (a *Arena) MemoryMapEntry() multiboot.MemoryMapEntry {
	return multiboot.MemoryMapEntry{
		PhysAddress: uint64(a.Base()),
		Length:      uint64(a.Size()),
		Type:        multiboot.MemAvailable,
	}
}

// Release unmaps the arena.
func (a *Arena) Release() error {
	return unix.Munmap(a.mem)
}

// Setup maps an arena, hands it to the physical memory manager as its only
// region and registers cleanup with tb. Interrupt masking is replaced with
// no-ops because CLI faults outside ring 0.
func Setup(tb testing.TB, pages int) *Arena {
	tb.Helper()

	sync.SetInterruptHooks(func() bool { return false }, func() {}, func() {})

	arena, err := New(pages)
	if err != nil {
		tb.Fatalf("unable to map %d pages of simulated memory: %v", pages, err)
	}

	r, kErr := multiboot.ReaderFromBytes(multiboottest.NewBuilder().AddMemoryMap(arena.MemoryMapEntry()).Bytes())
	if kErr != nil {
		tb.Fatal(kErr)
	}
	if kErr = pmm.Init(&r, 0, 0, pmm.PolicyLargest); kErr != nil {
		tb.Fatal(kErr)
	}

	tb.Cleanup(func() {
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
		if err := arena.Release(); err != nil {
			tb.Errorf("unable to release simulated memory: %v", err)
		}
	})

	return arena
}

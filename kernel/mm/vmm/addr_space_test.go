package vmm

import (
	"testing"

	ksync "github.com/caelyx-os/caelyx/kernel/sync"
)

func init() {
	ksync.SetInterruptHooks(func() bool { return false }, func() {}, func() {})
}

func TestAddressSpaceReserveRelease(t *testing.T) {
	var as AddressSpace
	as.Init()

	if exp, got := recursiveWindowPage, as.FreePageCount(); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}

	first, err := as.ReservePages(3)
	if err != nil {
		t.Fatal(err)
	}
	if first != KernelSpaceStart {
		t.Fatalf("expected first reservation at %#x; got %#x", KernelSpaceStart, first)
	}

	second, err := as.ReservePages(1)
	if err != nil {
		t.Fatal(err)
	}
	if exp := KernelSpaceStart + 0x3000; second != exp {
		t.Fatalf("expected second reservation at %#x; got %#x", exp, second)
	}

	if exp, got := recursiveWindowPage-4, as.FreePageCount(); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}

	// The released hole is reused by the next request that fits.
	as.ReleasePages(first, 3)
	third, err := as.ReservePages(2)
	if err != nil {
		t.Fatal(err)
	}
	if third != first {
		t.Fatalf("expected reservation to reuse %#x; got %#x", first, third)
	}

	// A request larger than the hole is placed after the second reservation.
	fourth, err := as.ReservePages(2)
	if err != nil {
		t.Fatal(err)
	}
	if exp := KernelSpaceStart + 0x4000; fourth != exp {
		t.Fatalf("expected reservation at %#x; got %#x", exp, fourth)
	}
}

func TestAddressSpaceExhausted(t *testing.T) {
	var as AddressSpace
	as.Init()

	if _, err := as.ReservePages(recursiveWindowPage + 1); err != ErrAddressSpaceExhausted {
		t.Fatalf("expected error: %v; got %v", ErrAddressSpaceExhausted, err)
	}

	addr, err := as.ReservePages(recursiveWindowPage)
	if err != nil {
		t.Fatal(err)
	}
	if addr != KernelSpaceStart {
		t.Fatalf("expected reservation at %#x; got %#x", KernelSpaceStart, addr)
	}

	if _, err = as.ReservePages(1); err != ErrAddressSpaceExhausted {
		t.Fatalf("expected error: %v; got %v", ErrAddressSpaceExhausted, err)
	}

	if got := as.FreePageCount(); got != 0 {
		t.Fatalf("expected no free pages; got %d", got)
	}
}

func TestAddressSpaceRecursiveWindowReserved(t *testing.T) {
	var as AddressSpace
	as.Init()

	// Leave a single free page right below the window.
	if _, err := as.ReservePages(recursiveWindowPage - 1); err != nil {
		t.Fatal(err)
	}

	if _, err := as.ReservePages(2); err != ErrAddressSpaceExhausted {
		t.Fatalf("expected the page table window to stay reserved; got %v", err)
	}

	addr, err := as.ReservePages(1)
	if err != nil {
		t.Fatal(err)
	}
	if exp := uintptr(recursiveTablesAddr - 0x1000); addr != exp {
		t.Fatalf("expected reservation at %#x; got %#x", exp, addr)
	}
}

func TestAddressSpaceReleaseErrors(t *testing.T) {
	var as AddressSpace
	as.Init()

	addr, err := as.ReservePages(2)
	if err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		descr  string
		addr   uintptr
		count  uint32
		expErr interface{}
	}{
		{"unaligned address", addr + 1, 1, ErrInvalidRelease},
		{"zero count", addr, 0, ErrInvalidRelease},
		{"below kernel space", 0x1000, 1, ErrInvalidRelease},
		{"inside page table window", recursiveTablesAddr, 1, ErrInvalidRelease},
		{"range overlapping page table window", recursiveTablesAddr - 0x1000, 2, ErrInvalidRelease},
		{"page not reserved", addr + 0x2000, 1, ErrDoubleRelease},
		{"range partially reserved", addr + 0x1000, 2, ErrDoubleRelease},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			defer func() {
				if err := recover(); err != spec.expErr {
					t.Fatalf("expected panic with %v; got %v", spec.expErr, err)
				}
			}()
			as.ReleasePages(spec.addr, spec.count)
		})
	}

	// Failed releases leave the reservation intact.
	if exp, got := recursiveWindowPage-2, as.FreePageCount(); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}

	as.ReleasePages(addr, 2)
	defer func() {
		if err := recover(); err != ErrDoubleRelease {
			t.Fatalf("expected panic with %v; got %v", ErrDoubleRelease, err)
		}
	}()
	as.ReleasePages(addr, 1)
}

func TestPackageLevelReservation(t *testing.T) {
	VirtualPages.Init()

	addr, err := ReservePages(4)
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := recursiveWindowPage-4, VirtualPages.FreePageCount(); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}

	ReleasePages(addr, 4)
	if exp, got := recursiveWindowPage, VirtualPages.FreePageCount(); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}
}

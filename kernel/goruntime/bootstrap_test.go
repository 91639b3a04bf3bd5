package goruntime

import (
	"testing"
	"unsafe"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/internal/physmem"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/mm/heap"
	"github.com/caelyx-os/caelyx/kernel/mm/pmm"
	"github.com/caelyx-os/caelyx/kernel/mm/vmm"
)

func TestSysReserve(t *testing.T) {
	defer func() {
		reservePagesFn = vmm.ReservePages
	}()

	t.Run("success", func(t *testing.T) {
		specs := []struct {
			reqSize      uintptr
			expPageCount uint32
		}{
			// exact multiple of page size
			{100 << mm.PageShift, 100},
			// size should be rounded up to nearest page size
			{2*mm.PageSize - 1, 2},
			{1, 1},
		}

		for specIndex, spec := range specs {
			reservePagesFn = func(count uint32) (uintptr, *kernel.Error) {
				if count != spec.expPageCount {
					t.Errorf("[spec %d] expected reservation of %d pages; got %d", specIndex, spec.expPageCount, count)
				}

				return 0xd0000000, nil
			}

			if got := uintptr(sysReserve(nil, spec.reqSize)); got != 0xd0000000 {
				t.Errorf("[spec %d] expected sysReserve to return 0xd0000000; got %#x", specIndex, got)
			}
		}
	})

	t.Run("zero size", func(t *testing.T) {
		reservePagesFn = func(_ uint32) (uintptr, *kernel.Error) {
			t.Fatal("unexpected call to ReservePages")
			return 0, nil
		}

		if got := sysReserve(nil, 0); got != nil {
			t.Fatalf("expected nil; got %#x", uintptr(got))
		}
	})

	t.Run("fail", func(t *testing.T) {
		defer func() {
			if err := recover(); err != vmm.ErrAddressSpaceExhausted {
				t.Fatalf("expected sysReserve to panic with %v; got %v", vmm.ErrAddressSpaceExhausted, err)
			}
		}()

		reservePagesFn = func(_ uint32) (uintptr, *kernel.Error) {
			return 0, vmm.ErrAddressSpaceExhausted
		}

		sysReserve(nil, 0xf00)
	})
}

func TestSysMap(t *testing.T) {
	defer func() {
		mapFn = vmm.Map
		allocatePagesFn = pmm.Allocate
		memsetFn = kernel.Memset
	}()

	t.Run("success", func(t *testing.T) {
		specs := []struct {
			reqAddr  uintptr
			reqSize  uintptr
			expPages []uintptr
		}{
			// exact multiple of page size
			{0xd0000000, 2 * mm.PageSize, []uintptr{0xd0000000, 0xd0001000}},
			// unaligned start covers the page it falls in
			{0xd0000010, mm.PageSize, []uintptr{0xd0000000, 0xd0001000}},
			// size should be rounded up to nearest page size
			{0xd0004000, mm.PageSize + 1, []uintptr{0xd0004000, 0xd0005000}},
		}

		for specIndex, spec := range specs {
			var (
				sysStat     uint64
				nextFrame   = uintptr(0x100000)
				mappedPages []uintptr
				zeroedPages []uintptr
			)

			allocatePagesFn = func(count uint32) (uintptr, *kernel.Error) {
				if count != 1 {
					t.Errorf("[spec %d] expected single page allocations; got %d", specIndex, count)
				}
				nextFrame += mm.PageSize
				return nextFrame, nil
			}

			mapFn = func(phys, virt uintptr, flags vmm.MapFlag) *kernel.Error {
				if flags != vmm.FlagWritable {
					t.Errorf("[spec %d] expected map flags to be %d; got %d", specIndex, vmm.FlagWritable, flags)
				}
				if phys != nextFrame {
					t.Errorf("[spec %d] expected freshly allocated frame %#x to be mapped; got %#x", specIndex, nextFrame, phys)
				}
				mappedPages = append(mappedPages, virt)
				return nil
			}

			memsetFn = func(addr uintptr, value byte, size uintptr) {
				if value != 0 || size != mm.PageSize {
					t.Errorf("[spec %d] expected page to be zeroed; got Memset(%#x, %d, %d)", specIndex, addr, value, size)
				}
				zeroedPages = append(zeroedPages, addr)
			}

			sysMap(unsafe.Pointer(spec.reqAddr), spec.reqSize, &sysStat)

			if len(mappedPages) != len(spec.expPages) || len(zeroedPages) != len(spec.expPages) {
				t.Errorf("[spec %d] expected pages %#x to be mapped and zeroed; got %#x and %#x", specIndex, spec.expPages, mappedPages, zeroedPages)
				continue
			}
			for i, exp := range spec.expPages {
				if mappedPages[i] != exp || zeroedPages[i] != exp {
					t.Errorf("[spec %d] expected page %d to be %#x; got %#x mapped, %#x zeroed", specIndex, i, exp, mappedPages[i], zeroedPages[i])
				}
			}

			if exp := uint64(len(spec.expPages)) << mm.PageShift; sysStat != exp {
				t.Errorf("[spec %d] expected stat counter to be %d; got %d", specIndex, exp, sysStat)
			}
		}
	})

	t.Run("frame allocation fails", func(t *testing.T) {
		defer func() {
			if err := recover(); err != pmm.ErrOutOfMemory {
				t.Fatalf("expected sysMap to panic with %v; got %v", pmm.ErrOutOfMemory, err)
			}
		}()

		allocatePagesFn = func(_ uint32) (uintptr, *kernel.Error) {
			return 0, pmm.ErrOutOfMemory
		}

		var sysStat uint64
		sysMap(unsafe.Pointer(uintptr(0xd0000000)), 1, &sysStat)
	})

	t.Run("map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}
		defer func() {
			if err := recover(); err != expErr {
				t.Fatalf("expected sysMap to panic with %v; got %v", expErr, err)
			}
		}()

		allocatePagesFn = func(_ uint32) (uintptr, *kernel.Error) { return 0x100000, nil }
		mapFn = func(_, _ uintptr, _ vmm.MapFlag) *kernel.Error { return expErr }

		var sysStat uint64
		sysMap(unsafe.Pointer(uintptr(0xd0000000)), 1, &sysStat)
	})
}

func TestSysAlloc(t *testing.T) {
	defer func() {
		heapAllocFn = heap.Alloc
		memsetFn = kernel.Memset
	}()

	specs := []struct {
		reqSize    uintptr
		expRegion  uintptr
		expStatInc uint64
	}{
		// exact multiple of page size
		{4 * mm.PageSize, 4 * mm.PageSize, 4 << mm.PageShift},
		// round up to nearest page size
		{(4 * mm.PageSize) + 1, 5 * mm.PageSize, 5 << mm.PageShift},
	}

	for specIndex, spec := range specs {
		var (
			sysStat      uint64
			memsetCalled bool
		)

		heapAllocFn = func(size, align uintptr) uintptr {
			if size != spec.expRegion || align != mm.PageSize {
				t.Errorf("[spec %d] expected Alloc(%d, %d); got Alloc(%d, %d)", specIndex, spec.expRegion, mm.PageSize, size, align)
			}
			return 0xd0010000
		}

		memsetFn = func(addr uintptr, value byte, size uintptr) {
			memsetCalled = true
			if addr != 0xd0010000 || value != 0 || size != spec.expRegion {
				t.Errorf("[spec %d] expected Memset(0xd0010000, 0, %d); got Memset(%#x, %d, %d)", specIndex, spec.expRegion, addr, value, size)
			}
		}

		if got := uintptr(sysAlloc(spec.reqSize, &sysStat)); got != 0xd0010000 {
			t.Errorf("[spec %d] expected sysAlloc to return 0xd0010000; got %#x", specIndex, got)
		}

		if !memsetCalled {
			t.Errorf("[spec %d] expected the allocated region to be zeroed", specIndex)
		}

		if sysStat != spec.expStatInc {
			t.Errorf("[spec %d] expected stat counter to be %d; got %d", specIndex, spec.expStatInc, sysStat)
		}
	}
}

func TestSysMapWithSimulatedMemory(t *testing.T) {
	defer func() {
		mapFn = vmm.Map
	}()
	physmem.Setup(t, 32)

	// Map pages 1:1 so the zeroing of the backing frames is observable.
	mapFn = func(phys, virt uintptr, _ vmm.MapFlag) *kernel.Error {
		if phys != virt {
			t.Errorf("unexpected mapping %#x -> %#x", virt, phys)
		}
		return nil
	}

	frameAddr, err := pmm.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	kernel.Memset(frameAddr, 0xaa, mm.PageSize)
	pmm.Free(frameAddr, 1)

	freeBefore := pmm.FreePageCount()

	var sysStat uint64
	sysMap(unsafe.Pointer(frameAddr), mm.PageSize, &sysStat)

	if exp, got := freeBefore-1, pmm.FreePageCount(); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}

	page := unsafe.Slice((*byte)(unsafe.Pointer(frameAddr)), mm.PageSize)
	for i, b := range page {
		if b != 0 {
			t.Fatalf("expected mapped page to be zeroed; got %#x at offset %d", b, i)
		}
	}
}

func TestSysFree(t *testing.T) {
	var sysStat uint64 = 4096
	sysFree(unsafe.Pointer(uintptr(0xd0000000)), 4096, &sysStat)

	if sysStat != 4096 {
		t.Fatalf("expected sysFree to leave the stat counter untouched; got %d", sysStat)
	}
}

func TestInit(t *testing.T) {
	defer func() {
		heapReadyFn = heap.Heap.Ready
	}()

	heapReadyFn = func() bool { return false }
	if err := Init(); err != ErrHeapNotReady {
		t.Fatalf("expected error: %v; got %v", ErrHeapNotReady, err)
	}

	heapReadyFn = func() bool { return true }
	if err := Init(); err != nil {
		t.Fatal(err)
	}
}

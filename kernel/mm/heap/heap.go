// Package heap provides the forward-only allocator that backs dynamic memory
// allocations once paging is up. Memory handed out by the heap is never
// reclaimed.
package heap

import (
	"sync/atomic"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/mm/pmm"
	"github.com/caelyx-os/caelyx/kernel/mm/vmm"
)

// DefaultPageCount is the heap size used when the command line does not
// override it.
const DefaultPageCount = 256

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	allocatePagesFn = pmm.Allocate
	freePagesFn     = pmm.Free
	reservePagesFn  = vmm.ReservePages
	releasePagesFn  = vmm.ReleasePages
	mapFn           = vmm.Map
	unmapFn         = vmm.Unmap

	// ErrHeapExhausted is raised when an allocation does not fit in the
	// remaining heap space.
	ErrHeapExhausted = &kernel.Error{Module: "heap", Message: "heap exhausted"}

	// ErrInvalidAlignment is raised when an allocation requests an
	// alignment that is not a power of two.
	ErrInvalidAlignment = &kernel.Error{Module: "heap", Message: "alignment must be a power of two"}

	// ErrAlreadyInitialized is returned by Init if the global heap has
	// already been set up.
	ErrAlreadyInitialized = &kernel.Error{Module: "heap", Message: "heap already initialized"}

	// Heap is the kernel heap.
	Heap BumpHeap
)

// BumpHeap hands out memory from a fixed virtual range by advancing a cursor.
// Allocations are lock-free so they can be issued from interrupt context.
type BumpHeap struct {
	base uintptr
	size uintptr

	// offset is the distance of the cursor from base and is only updated
	// atomically.
	offset uintptr
}

// Init backs the global heap with pageCount physical pages mapped onto a
// freshly reserved virtual range.
func Init(pageCount uint32) *kernel.Error {
	if Heap.size != 0 {
		return ErrAlreadyInitialized
	}

	physBase, err := allocatePagesFn(pageCount)
	if err != nil {
		return err
	}

	virtBase, err := reservePagesFn(pageCount)
	if err != nil {
		freePagesFn(physBase, pageCount)
		return err
	}

	for i := uint32(0); i < pageCount; i++ {
		pageOffset := uintptr(i) << mm.PageShift
		if err = mapFn(physBase+pageOffset, virtBase+pageOffset, vmm.FlagWritable); err != nil {
			for j := uint32(0); j < i; j++ {
				unmapFn(virtBase + uintptr(j)<<mm.PageShift)
			}
			releasePagesFn(virtBase, pageCount)
			freePagesFn(physBase, pageCount)
			return err
		}
	}

	Heap.init(virtBase, uintptr(pageCount)<<mm.PageShift)
	kfmt.Printf("[heap] %d pages at 0x%8x (phys 0x%8x)\n", pageCount, virtBase, physBase)
	return nil
}

func (h *BumpHeap) init(base, size uintptr) {
	h.base = base
	h.size = size
	atomic.StoreUintptr(&h.offset, 0)
}

// Alloc returns the address of size bytes aligned to align, which must be a
// power of two. Running out of heap space is fatal.
func (h *BumpHeap) Alloc(size, align uintptr) uintptr {
	if align == 0 || align&(align-1) != 0 {
		kfmt.Printf("[heap] invalid alignment %d\n", align)
		panic(ErrInvalidAlignment)
	}

	for {
		cur := atomic.LoadUintptr(&h.offset)

		start := (h.base + cur + align - 1) &^ (align - 1)
		end := start + size
		if start < h.base || end < start || end-h.base > h.size {
			kfmt.Printf("[heap] cannot allocate %d bytes (used %d of %d)\n", size, cur, h.size)
			panic(ErrHeapExhausted)
		}

		if atomic.CompareAndSwapUintptr(&h.offset, cur, end-h.base) {
			return start
		}
	}
}

// Free is a no-op; the heap never reclaims memory.
func (h *BumpHeap) Free(_ uintptr) {}

// Used returns the number of bytes consumed so far, including alignment
// padding.
func (h *BumpHeap) Used() uintptr { return atomic.LoadUintptr(&h.offset) }

// Size returns the heap capacity in bytes.
func (h *BumpHeap) Size() uintptr { return h.size }

// Base returns the virtual address of the first heap byte.
func (h *BumpHeap) Base() uintptr { return h.base }

// Ready reports whether the heap has been backed by memory.
func (h *BumpHeap) Ready() bool { return h.size != 0 }

// Alloc allocates from the global heap.
func Alloc(size, align uintptr) uintptr { return Heap.Alloc(size, align) }

// Free releases memory to the global heap, which ignores it.
func Free(ptr uintptr) { Heap.Free(ptr) }

// Package goruntime routes the memory requests of the Go allocator to the
// kernel memory managers.
//
// The functions in this package replace their runtime counterparts in the
// linked kernel image. The redirects tool locates them through their
// go:redirect-from directives and patches the runtime symbols to jump here.
package goruntime

import (
	"sync/atomic"
	"unsafe"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm"
	"github.com/caelyx-os/caelyx/kernel/mm/heap"
	"github.com/caelyx-os/caelyx/kernel/mm/pmm"
	"github.com/caelyx-os/caelyx/kernel/mm/vmm"
)

var (
	reservePagesFn  = vmm.ReservePages
	mapFn           = vmm.Map
	allocatePagesFn = pmm.Allocate
	heapAllocFn     = heap.Alloc
	heapReadyFn     = heap.Heap.Ready
	memsetFn        = kernel.Memset

	// ErrHeapNotReady is returned by Init when the kernel heap has not been
	// set up yet.
	ErrHeapNotReady = &kernel.Error{Module: "goruntime", Message: "kernel heap not initialized"}
)

// pageCount returns the number of pages needed to hold size bytes.
func pageCount(size uintptr) uint32 {
	return uint32((uint64(size) + uint64(mm.PageSize-1)) >> mm.PageShift)
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	regionStartAddr, err := reservePagesFn(pageCount(size))
	if err != nil {
		panic(err)
	}

	return unsafe.Pointer(regionStartAddr)
}

// sysMap backs a region previously returned by sysReserve with zeroed
// physical pages.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, sysStat *uint64) {
	if size == 0 {
		return
	}

	// The allocator always maps ranges inside a reservation so rounding
	// the start down stays within reserved pages.
	regionStartAddr := uintptr(virtAddr) &^ (mm.PageSize - 1)
	count := pageCount(uintptr(virtAddr) - regionStartAddr + size)

	for i := uint32(0); i < count; i++ {
		page := regionStartAddr + uintptr(i)<<mm.PageShift

		frameAddr, err := allocatePagesFn(1)
		if err != nil {
			panic(err)
		}

		if err = mapFn(frameAddr, page, vmm.FlagWritable); err != nil {
			panic(err)
		}

		memsetFn(page, 0, mm.PageSize)
	}

	atomic.AddUint64(sysStat, uint64(count)<<mm.PageShift)
}

// sysAlloc returns a page-aligned block of zeroed memory carved from the
// kernel heap.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	regionSize := uintptr(pageCount(size)) << mm.PageShift
	regionStartAddr := heapAllocFn(regionSize, mm.PageSize)
	memsetFn(regionStartAddr, 0, regionSize)

	atomic.AddUint64(sysStat, uint64(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// sysFree is a no-op as the kernel heap never reclaims memory.
//
//go:redirect-from runtime.sysFree
//go:nosplit
func sysFree(_ unsafe.Pointer, _ uintptr, _ *uint64) {}

// Init verifies that the memory the Go allocator depends on is available.
// Once it returns, Go code may allocate through the redirected runtime
// hooks.
func Init() *kernel.Error {
	if !heapReadyFn() {
		return ErrHeapNotReady
	}

	kfmt.Printf("[goruntime] allocator hooks ready\n")
	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var stat uint64

	sysReserve(nil, 0)
	sysMap(nil, 0, &stat)
	sysAlloc(0, &stat)
	sysFree(nil, 0, &stat)
}

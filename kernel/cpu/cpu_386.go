// Package cpu exposes the privileged 386 instructions used by the memory
// management code. The functions without a body are implemented in
// cpu_386.s.
package cpu

var (
	cpuidFn = ID
)

// Feature describes a CPU capability reported by CPUID leaf 1 in EDX.
type Feature uint32

// The subset of CPUID leaf 1 EDX features that the kernel queries.
const (
	FeatureFPU   Feature = 1 << 0
	FeatureVME   Feature = 1 << 1
	FeatureDE    Feature = 1 << 2
	FeaturePSE   Feature = 1 << 3
	FeatureTSC   Feature = 1 << 4
	FeatureMSR   Feature = 1 << 5
	FeaturePAE   Feature = 1 << 6
	FeatureAPIC  Feature = 1 << 9
	FeaturePGE   Feature = 1 << 13
	FeaturePAT   Feature = 1 << 16
	FeaturePSE36 Feature = 1 << 17
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag is set in EFLAGS.
func InterruptsEnabled() bool

// Halt disables interrupts and stops instruction execution. It never returns.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// EnablePSE sets the page size extension bit (bit 4) in CR4 so page directory
// entries can map 4MB pages.
func EnablePSE()

// EnablePaging sets the PG bit (bit 31) in CR0.
func EnablePaging()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// HasFeature returns true if CPUID leaf 1 reports the requested feature.
func HasFeature(feature Feature) bool {
	if maxLeaf, _, _, _ := cpuidFn(0); maxLeaf < 1 {
		return false
	}

	_, _, _, edx := cpuidFn(1)
	return edx&uint32(feature) == uint32(feature)
}

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

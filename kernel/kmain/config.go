package kmain

import (
	"github.com/caelyx-os/caelyx/kernel/kfmt"
	"github.com/caelyx-os/caelyx/kernel/mm/heap"
	"github.com/caelyx-os/caelyx/kernel/mm/pmm"
	"github.com/caelyx-os/caelyx/kernel/multiboot"
)

// maxHeapPages caps the heapPages option to the number of frames in the
// 4 GiB physical address space.
const maxHeapPages = 1 << 20

// bootConfig holds the settings that can be overridden from the boot command
// line.
type bootConfig struct {
	// pmmPolicy selects which usable memory regions the physical memory
	// manager takes over ("pmm=largest" or "pmm=all").
	pmmPolicy pmm.RegionPolicy

	// heapPages is the number of pages backing the kernel heap
	// ("heapPages=N").
	heapPages uint32

	// pmmSelfTest runs the physical allocator self test after init
	// ("pmmtest").
	pmmSelfTest bool
}

func defaultConfig() bootConfig {
	return bootConfig{
		pmmPolicy: pmm.PolicyLargest,
		heapPages: heap.DefaultPageCount,
	}
}

// parseConfig extracts the boot settings from the command line. Unknown keys
// are ignored and malformed values keep their defaults.
func parseConfig(cmdLine []byte) bootConfig {
	cfg := defaultConfig()

	if v, ok := multiboot.CmdLineValue(cmdLine, "pmm"); ok {
		switch string(v) {
		case "largest":
			cfg.pmmPolicy = pmm.PolicyLargest
		case "all":
			cfg.pmmPolicy = pmm.PolicyAll
		default:
			kfmt.Printf("[kmain] ignoring invalid pmm policy %s\n", v)
		}
	}

	if v, ok := multiboot.CmdLineValue(cmdLine, "heapPages"); ok {
		if pages, valid := parseUint32(v); valid && pages != 0 && pages <= maxHeapPages {
			cfg.heapPages = pages
		} else {
			kfmt.Printf("[kmain] ignoring invalid heapPages value %s\n", v)
		}
	}

	if v, ok := multiboot.CmdLineValue(cmdLine, "pmmtest"); ok {
		cfg.pmmSelfTest = string(v) != "off" && string(v) != "0"
	}

	return cfg
}

// parseUint32 parses a decimal number without allocating.
func parseUint32(v []byte) (uint32, bool) {
	if len(v) == 0 {
		return 0, false
	}

	var n uint64
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		if n = n*10 + uint64(ch-'0'); n > 1<<32-1 {
			return 0, false
		}
	}

	return uint32(n), true
}

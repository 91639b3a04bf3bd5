package kmain

import (
	"testing"

	"github.com/caelyx-os/caelyx/kernel/mm/heap"
	"github.com/caelyx-os/caelyx/kernel/mm/pmm"
)

func TestParseConfig(t *testing.T) {
	specs := []struct {
		cmdLine string
		exp     bootConfig
	}{
		{"", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"pmm=all", bootConfig{pmmPolicy: pmm.PolicyAll, heapPages: heap.DefaultPageCount}},
		{"pmm=largest heapPages=64", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: 64}},
		{"console=ttyS0 heapPages=1024 pmm=all", bootConfig{pmmPolicy: pmm.PolicyAll, heapPages: 1024}},
		{"pmmtest", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount, pmmSelfTest: true}},
		{"pmmtest=on", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount, pmmSelfTest: true}},
		{"pmmtest=off", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"pmmtest=0", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		// malformed values keep the defaults
		{"pmm=smallest", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"pmm", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"heapPages=0", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"heapPages=12ab", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"heapPages=", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"heapPages=1048577", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		{"heapPages=99999999999", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
		// keys must match exactly
		{"heapPagesX=12 xpmm=all", bootConfig{pmmPolicy: pmm.PolicyLargest, heapPages: heap.DefaultPageCount}},
	}

	for specIndex, spec := range specs {
		if got := parseConfig([]byte(spec.cmdLine)); got != spec.exp {
			t.Errorf("[spec %d] expected config %+v for %q; got %+v", specIndex, spec.exp, spec.cmdLine, got)
		}
	}
}

func TestParseUint32(t *testing.T) {
	specs := []struct {
		input    string
		exp      uint32
		expValid bool
	}{
		{"0", 0, true},
		{"256", 256, true},
		{"4294967295", 1<<32 - 1, true},
		{"4294967296", 0, false},
		{"", 0, false},
		{"-1", 0, false},
		{"1 2", 0, false},
	}

	for specIndex, spec := range specs {
		got, valid := parseUint32([]byte(spec.input))
		if got != spec.exp || valid != spec.expValid {
			t.Errorf("[spec %d] expected parseUint32(%q) to return (%d, %t); got (%d, %t)", specIndex, spec.input, spec.exp, spec.expValid, got, valid)
		}
	}
}

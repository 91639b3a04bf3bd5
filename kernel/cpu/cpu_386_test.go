package cpu

import "testing"

func TestIsIntel(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		eax, ebx, ecx, edx uint32
		exp                bool
	}{
		// CPUID output from an Intel CPU
		{0xd, 0x756e6547, 0x6c65746e, 0x49656e69, true},
		// CPUID output from an AMD Athlon CPU
		{0x1, 68747541, 0x444d4163, 0x69746e65, false},
	}

	for specIndex, spec := range specs {
		cpuidFn = func(_ uint32) (uint32, uint32, uint32, uint32) {
			return spec.eax, spec.ebx, spec.ecx, spec.edx
		}

		if got := IsIntel(); got != spec.exp {
			t.Errorf("[spec %d] expected IsIntel to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}

func TestHasFeature(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		maxLeaf uint32
		edx     uint32
		feature Feature
		exp     bool
	}{
		// leaf 1 EDX captured from qemu32
		{0xd, 0x078bfbfd, FeaturePSE, true},
		{0xd, 0x078bfbfd, FeaturePAE | FeaturePSE, true},
		{0xd, 0x078bfbf5, FeaturePSE, false},
		{0xd, 0x078bfbfd, FeaturePSE36 | FeatureDE, true},
		// leaf 1 not supported
		{0x0, 0xffffffff, FeaturePSE, false},
	}

	for specIndex, spec := range specs {
		cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
			if leaf == 0 {
				return spec.maxLeaf, 0, 0, 0
			}
			return 0, 0, 0, spec.edx
		}

		if got := HasFeature(spec.feature); got != spec.exp {
			t.Errorf("[spec %d] expected HasFeature(0x%x) to return %t; got %t", specIndex, spec.feature, spec.exp, got)
		}
	}
}

package vmm

import (
	"testing"

	"github.com/caelyx-os/caelyx/kernel"
	"github.com/caelyx-os/caelyx/kernel/cpu"
)

func TestInit(t *testing.T) {
	defer func() {
		hasFeatureFn = cpu.HasFeature
		enablePSEFn = cpu.EnablePSE
		switchPDTFn = cpu.SwitchPDT
		activePDTFn = cpu.ActivePDT
		enablePagingFn = cpu.EnablePaging
		flushTLBEntryFn = cpu.FlushTLBEntry
		pagingEnabled = false
	}()

	var (
		calls  []string
		loaded uintptr
	)
	reset := func() {
		calls = calls[:0]
		pagingEnabled = false
		hasFeatureFn = func(_ cpu.Feature) bool { return true }
		enablePSEFn = func() { calls = append(calls, "enablePSE") }
		switchPDTFn = func(pdtPhys uintptr) {
			if exp := kernelPDT.physAddr(); pdtPhys != exp {
				t.Errorf("expected CR3 to be loaded with %#x; got %#x", exp, pdtPhys)
			}
			loaded = pdtPhys
			calls = append(calls, "switchPDT")
		}
		activePDTFn = func() uintptr { return loaded }
		enablePagingFn = func() { calls = append(calls, "enablePaging") }
		flushTLBEntryFn = func(_ uintptr) {}
	}

	t.Run("success", func(t *testing.T) {
		reset()

		fixup := func() *kernel.Error {
			if pagingEnabled {
				t.Error("expected early fix-up to run before paging is enabled")
			}
			calls = append(calls, "fixup")
			return nil
		}

		if err := Init(fixup); err != nil {
			t.Fatal(err)
		}

		exp := []string{"enablePSE", "switchPDT", "fixup", "enablePaging"}
		if len(calls) != len(exp) {
			t.Fatalf("expected calls %v; got %v", exp, calls)
		}
		for i := range exp {
			if calls[i] != exp[i] {
				t.Fatalf("expected calls %v; got %v", exp, calls)
			}
		}

		if !pagingEnabled {
			t.Fatal("expected paging to be flagged as enabled")
		}

		pagingEnabled = false
		m, err := Lookup(0x3ff000)
		if err != nil {
			t.Fatal(err)
		}
		if expMapping := (Mapping{PhysAddr: 0, Flags: FlagWritable, LargePage: true}); m != expMapping {
			t.Fatalf("expected the first 4MB to be identity mapped as %+v; got %+v", expMapping, m)
		}

		if phys, _ := Translate(0x123456); phys != 0x123456 {
			t.Fatalf("expected identity translation; got %#x", phys)
		}
	})

	t.Run("nil fix-up", func(t *testing.T) {
		reset()

		if err := Init(nil); err != nil {
			t.Fatal(err)
		}

		if exp := 3; len(calls) != exp {
			t.Fatalf("expected %d calls; got %v", exp, calls)
		}
	})

	t.Run("missing PSE support", func(t *testing.T) {
		reset()
		hasFeatureFn = func(f cpu.Feature) bool { return f != cpu.FeaturePSE }

		if err := Init(nil); err != ErrNoPSE {
			t.Fatalf("expected error: %v; got %v", ErrNoPSE, err)
		}

		if len(calls) != 0 {
			t.Fatalf("expected no CPU state changes; got %v", calls)
		}
	})

	t.Run("directory not active after load", func(t *testing.T) {
		reset()
		activePDTFn = func() uintptr { return 0 }

		if err := Init(func() *kernel.Error {
			t.Error("expected the fix-up to be skipped")
			return nil
		}); err != ErrPDTNotActive {
			t.Fatalf("expected error: %v; got %v", ErrPDTNotActive, err)
		}

		if pagingEnabled {
			t.Fatal("expected paging to remain disabled")
		}
	})

	t.Run("fix-up fails", func(t *testing.T) {
		reset()
		expErr := &kernel.Error{Module: "test", Message: "fix-up failed"}

		if err := Init(func() *kernel.Error { return expErr }); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}

		for _, call := range calls {
			if call == "enablePaging" {
				t.Fatal("expected paging to remain disabled")
			}
		}
		if pagingEnabled {
			t.Fatal("expected paging to be flagged as disabled")
		}
	})
}

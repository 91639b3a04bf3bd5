package sync

import (
	"runtime"
	"sync"
	"testing"

	"github.com/caelyx-os/caelyx/kernel/cpu"
)

// mockInterrupts replaces the interrupt control functions with versions that
// track a simulated IF flag.
func mockInterrupts(enabled bool) (ifFlag *bool, restore func()) {
	flag := enabled
	interruptsEnabledFn = func() bool { return flag }
	disableInterruptsFn = func() { flag = false }
	enableInterruptsFn = func() { flag = true }

	return &flag, func() {
		interruptsEnabledFn = cpu.InterruptsEnabled
		disableInterruptsFn = cpu.DisableInterrupts
		enableInterruptsFn = cpu.EnableInterrupts
	}
}

func TestMutexInterruptState(t *testing.T) {
	specs := []struct {
		interruptsOnEntry bool
	}{
		{true},
		{false},
	}

	for specIndex, spec := range specs {
		ifFlag, restore := mockInterrupts(spec.interruptsOnEntry)

		var m Mutex
		m.Lock()
		if *ifFlag {
			t.Errorf("[spec %d] expected interrupts to be disabled while the mutex is held", specIndex)
		}

		if m.lock.TryToAcquire() {
			t.Errorf("[spec %d] expected underlying spinlock to be held", specIndex)
		}

		m.Unlock()
		if *ifFlag != spec.interruptsOnEntry {
			t.Errorf("[spec %d] expected interrupt state after Unlock to be %t; got %t", specIndex, spec.interruptsOnEntry, *ifFlag)
		}

		restore()
	}
}

func TestMutexNestedDifferentLocks(t *testing.T) {
	ifFlag, restore := mockInterrupts(true)
	defer restore()

	var outer, inner Mutex
	outer.Lock()
	inner.Lock()
	inner.Unlock()

	if *ifFlag {
		t.Fatal("expected interrupts to stay disabled while the outer mutex is held")
	}

	outer.Unlock()
	if !*ifFlag {
		t.Fatal("expected interrupts to be re-enabled after releasing the outer mutex")
	}
}

func TestMutexMutualExclusion(t *testing.T) {
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = runtime.Gosched

	// Interrupt state is per-CPU; with goroutines we only care about mutual
	// exclusion so the interrupt functions become no-ops.
	SetInterruptHooks(func() bool { return false }, func() {}, func() {})
	defer SetInterruptHooks(cpu.InterruptsEnabled, cpu.DisableInterrupts, cpu.EnableInterrupts)

	var (
		m          Mutex
		wg         sync.WaitGroup
		counter    int
		numWorkers = 8
		numIncs    = 1000
	)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numIncs; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	if exp := numWorkers * numIncs; counter != exp {
		t.Fatalf("expected counter to be %d; got %d", exp, counter)
	}
}

package sync

import "github.com/caelyx-os/caelyx/kernel/cpu"

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// SetInterruptHooks replaces the functions Mutex uses to query, mask and
// unmask interrupts. Hosted tests of packages built on Mutex install no-op
// hooks because CLI and STI fault outside ring 0.
func SetInterruptHooks(enabledFn func() bool, disableFn, enableFn func()) {
	interruptsEnabledFn = enabledFn
	disableInterruptsFn = disableFn
	enableInterruptsFn = enableFn
}

// Mutex is a spinlock that also masks interrupt delivery for the duration of
// the critical section. An interrupt handler can therefore never spin on a
// lock held by the context it interrupted.
//
// Lock records whether interrupts were enabled before masking them and
// Unlock restores that state, so critical sections entered from interrupt
// context (where interrupts are already off) leave them off.
//
// Like Spinlock, Mutex is not reentrant: locking a Mutex already held by the
// same execution context deadlocks.
type Mutex struct {
	lock Spinlock

	// restoreInterrupts is only written by the lock holder.
	restoreInterrupts bool
}

// Lock masks interrupts and acquires the mutex.
func (m *Mutex) Lock() {
	enabled := interruptsEnabledFn()
	disableInterruptsFn()

	m.lock.Acquire()
	m.restoreInterrupts = enabled
}

// Unlock releases the mutex and re-enables interrupts if they were enabled
// when Lock was called.
func (m *Mutex) Unlock() {
	restore := m.restoreInterrupts
	m.restoreInterrupts = false
	m.lock.Release()

	if restore {
		enableInterruptsFn()
	}
}

// Package futex implements the engine's serializing lock: a three-state
// (unlocked, locked-uncontended, locked-contended) futex-backed mutex,
// following the reference loader's futex.c protocol exactly so that
// uncontended locks never cross into the kernel.
package futex

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait = 0
	futexWake = 1
)

const (
	unlocked          = 0
	lockedUncontended = 1
	lockedContended   = 2
)

// Mutex is the engine-wide lock guarding the link-map, every File, the
// TLS templates, and the debugger rendezvous structure. It is acquired
// around every public API entry point and released before running
// constructors/destructors, per the concurrency model.
type Mutex struct {
	state int32
}

// Lock acquires the mutex, parking on the futex only when contended.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapInt32(&m.state, unlocked, lockedUncontended) {
		return
	}
	for atomic.SwapInt32(&m.state, lockedContended) != unlocked {
		wait(&m.state, lockedContended)
	}
}

// Unlock releases the mutex, waking one waiter if the lock was contended.
func (m *Mutex) Unlock() {
	if atomic.AddInt32(&m.state, -1) != unlocked {
		atomic.StoreInt32(&m.state, unlocked)
		wake(&m.state, 1)
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	return atomic.CompareAndSwapInt32(&m.state, unlocked, lockedUncontended)
}

func wait(addr *int32, expect int32) {
	for {
		_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(addr)), futexWait, uintptr(expect), 0, 0, 0)
		switch errno {
		case 0, unix.EAGAIN:
			return
		case unix.EINTR:
			continue
		default:
			// Unsupported platform/sandbox: fall back to a scheduler yield
			// rather than busy-spinning the CPU.
			runtime.Gosched()
			return
		}
	}
}

func wake(addr *int32, n int) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWake, uintptr(n), 0, 0, 0)
}

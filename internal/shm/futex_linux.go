//go:build linux

/*
 *
 * Copyright 2026 The shmipc authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// Linux futex constants. The shared (non-private) operations are required
// here: the waiter and the waker are different processes mapping the same
// region, so FUTEX_PRIVATE_FLAG must not be set.
const (
	FUTEX_WAIT = 0
	FUTEX_WAKE = 1
)

// futexWait waits for the value at addr to change from val.
// It returns when either:
//   - The value at addr is no longer equal to val
//   - Another process or thread calls futexWake on the same address
//   - The system call is interrupted
//
// This function should only be called when the logical condition is unmet
// and *addr == val. Always re-check the condition after this returns due
// to possible spurious wakeups.
func futexWait(addr *uint32, val uint32) error {
	// Critical: Re-check the value atomically before entering the syscall
	// This prevents the lost-wake race where another party increments
	// the sequence and wakes us between our snapshot and futex entry
	if atomic.LoadUint32(addr) != val {
		return nil // Value already changed, no need to wait
	}

	// Waits can park for a long time; Syscall6 (unlike RawSyscall6) tells
	// the runtime the thread is blocked so the P is handed off instead of
	// stalling other goroutines.
	r1, _, errno := syscall.Syscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wait on
		FUTEX_WAIT,                    // futex_op - shared wait operation
		uintptr(val),                  // val - expected value
		0,                             // timeout - infinite (NULL)
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	if errno != 0 {
		// EAGAIN means the value didn't match - this is expected and not an error
		if errno == syscall.EAGAIN {
			return nil
		}
		// EINTR means interrupted by signal - also not a real error for our purposes
		if errno == syscall.EINTR {
			return nil
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}

	// r1 == 0 means successful wait and wake
	_ = r1
	return nil
}

// futexWaitTimeout waits on addr until the value changes from val or timeout
// elapses. timeout is specified in nanoseconds. Returns ErrFutexTimeout if
// the wait times out.
//
// This function should only be called when the logical condition is unmet
// and *addr == val. Always re-check the condition after this returns due
// to possible spurious wakeups.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if timeoutNs <= 0 {
		return futexWait(addr, val) // No timeout, use infinite wait
	}

	// Critical: Re-check the value atomically before entering the syscall
	// This prevents the lost-wake race where another party increments
	// the sequence and wakes us between our snapshot and futex entry
	if atomic.LoadUint32(addr) != val {
		return nil // Value already changed, no need to wait
	}

	// Convert nanoseconds to timespec
	ts := syscall.NsecToTimespec(timeoutNs)

	r1, _, errno := syscall.Syscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wait on
		FUTEX_WAIT,                    // futex_op - shared wait operation
		uintptr(val),                  // val - expected value
		uintptr(unsafe.Pointer(&ts)),  // timeout - timespec pointer
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	if errno != 0 {
		// EAGAIN means the value didn't match - not an error
		if errno == syscall.EAGAIN {
			return nil
		}
		// EINTR means interrupted by signal - not an error
		if errno == syscall.EINTR {
			return nil
		}
		// ETIMEDOUT means the wait timed out
		if errno == syscall.ETIMEDOUT {
			return ErrFutexTimeout
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}

	// r1 == 0 means successful wait and wake
	_ = r1
	return nil
}

// futexWake wakes up to n waiters on addr, in this process or any other
// process mapping the region. Returns the number of waiters actually woken.
func futexWake(addr *uint32, n int) (int, error) {
	// Wakes never block; the raw variant avoids scheduler bookkeeping.
	r1, _, errno := syscall.RawSyscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wake on
		FUTEX_WAKE,                    // futex_op - shared wake operation
		uintptr(n),                    // val - number of waiters to wake
		0,                             // timeout - unused for wake
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}

	// r1 contains the number of waiters woken
	return int(r1), nil
}

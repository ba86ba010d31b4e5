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
	"errors"
	"sync/atomic"
	"time"
)

// ErrLockTimeout is returned when the allocation mutex could not be
// acquired within the caller's retry budget. A holder that died while
// locked looks exactly like this; callers treat it as a session-level
// problem, not something to spin on.
var ErrLockTimeout = errors.New("shared mutex acquisition timed out")

// Futex mutex states
const (
	mutexFree      = uint32(0)
	mutexLocked    = uint32(1)
	mutexContended = uint32(2)
)

// FutexMutex is a mutual-exclusion lock over a futex word in shared
// memory, usable from every process mapping the region. Three states:
// free, locked with no waiters, locked with waiters. Unlock only issues
// a wake when the contended state says someone may be parked.
type FutexMutex struct {
	word *uint32
}

// NewFutexMutex wraps a futex word. The word must live inside the shared
// region and be zero-initialized (free) by the region's creator.
func NewFutexMutex(word *uint32) *FutexMutex {
	return &FutexMutex{word: word}
}

// TryLock attempts to acquire the mutex without waiting.
func (m *FutexMutex) TryLock() bool {
	return atomic.CompareAndSwapUint32(m.word, mutexFree, mutexLocked)
}

// Lock acquires the mutex, waiting indefinitely.
func (m *FutexMutex) Lock() error {
	if atomic.CompareAndSwapUint32(m.word, mutexFree, mutexLocked) {
		return nil
	}
	for {
		// Advertise a waiter so Unlock knows to issue a wake.
		if atomic.LoadUint32(m.word) == mutexContended ||
			atomic.CompareAndSwapUint32(m.word, mutexLocked, mutexContended) {
			if err := futexWait(m.word, mutexContended); err != nil {
				return err
			}
		}
		if atomic.CompareAndSwapUint32(m.word, mutexFree, mutexContended) {
			return nil
		}
	}
}

// LockTimeout acquires the mutex with a bounded wait: up to attempts
// waits of wait each. Exhausting the budget returns ErrLockTimeout,
// which is how a dead lock holder eventually surfaces to callers.
func (m *FutexMutex) LockTimeout(wait time.Duration, attempts int) error {
	if atomic.CompareAndSwapUint32(m.word, mutexFree, mutexLocked) {
		return nil
	}
	for i := 0; i < attempts; i++ {
		if atomic.LoadUint32(m.word) == mutexContended ||
			atomic.CompareAndSwapUint32(m.word, mutexLocked, mutexContended) {
			err := futexWaitTimeout(m.word, mutexContended, wait.Nanoseconds())
			if err != nil && !errors.Is(err, ErrFutexTimeout) {
				return err
			}
		}
		if atomic.CompareAndSwapUint32(m.word, mutexFree, mutexContended) {
			return nil
		}
	}
	return ErrLockTimeout
}

// Unlock releases the mutex and wakes one waiter if any was advertised.
// The release store must precede the wake so the woken party observes
// the free state.
func (m *FutexMutex) Unlock() {
	if atomic.AddUint32(m.word, ^uint32(0)) != mutexFree {
		atomic.StoreUint32(m.word, mutexFree)
		futexWake(m.word, 1)
	}
}

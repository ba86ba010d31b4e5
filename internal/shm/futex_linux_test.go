//go:build linux

/*
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
 */

package shm

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestFutexLostWakeRace checks that the atomic re-check in futexWait
// prevents the lost-wake race between snapshot and syscall entry.
func TestFutexLostWakeRace(t *testing.T) {
	var counter uint32
	const iterations = 100
	const numWakers = 10

	for iter := 0; iter < iterations; iter++ {
		atomic.StoreUint32(&counter, 0)
		var wg sync.WaitGroup
		startCh := make(chan struct{})

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-startCh

			snapshot := atomic.LoadUint32(&counter)

			// Widen the window between snapshot and futex entry
			time.Sleep(10 * time.Microsecond)

			// Must not hang: the re-check sees the moved counter
			futexWait(&counter, snapshot)
		}()

		for i := 0; i < numWakers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-startCh
				atomic.AddUint32(&counter, 1)
				futexWake(&counter, 1)
			}()
		}

		close(startCh)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Fatalf("Iteration %d: futexWait appears to have hung - possible lost-wake race", iter)
		}
	}
}

// TestFutexWaitTimeout checks the three outcomes of a timed wait: value
// already moved, woken in time, timed out.
func TestFutexWaitTimeout(t *testing.T) {
	data := make([]uint32, 1)
	addr := &data[0]

	// Value already changed: returns immediately without error
	atomic.StoreUint32(addr, 11)
	start := time.Now()
	if err := futexWaitTimeout(addr, 10, int64(time.Second)); err != nil {
		t.Fatalf("futexWaitTimeout returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("futexWaitTimeout took %v when value already changed", elapsed)
	}

	// Woken before the timeout
	atomic.StoreUint32(addr, 100)
	done := make(chan error, 1)
	go func() {
		done <- futexWaitTimeout(addr, 100, int64(5*time.Second))
	}()
	time.Sleep(10 * time.Millisecond)
	atomic.StoreUint32(addr, 101)
	futexWake(addr, 1)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("woken wait returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("futexWaitTimeout did not wake after value change and wake")
	}

	// Nobody wakes us: must time out with the sentinel
	atomic.StoreUint32(addr, 7)
	start = time.Now()
	err := futexWaitTimeout(addr, 7, int64(50*time.Millisecond))
	elapsed := time.Since(start)
	if !errors.Is(err, ErrFutexTimeout) {
		t.Fatalf("expected ErrFutexTimeout, got %v", err)
	}
	if elapsed < 30*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %v, expected ~50ms", elapsed)
	}
}

// TestFutexWakeCount checks that futexWake reports how many waiters it
// released.
func TestFutexWakeCount(t *testing.T) {
	data := make([]uint32, 1)
	addr := &data[0]

	const waiters = 3
	var ready sync.WaitGroup
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		ready.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready.Done()
			futexWaitTimeout(addr, 0, int64(5*time.Second))
		}()
	}
	ready.Wait()

	// Give the waiters time to actually park in the kernel
	time.Sleep(50 * time.Millisecond)

	atomic.StoreUint32(addr, 1)
	woken, err := futexWake(addr, 1<<30)
	if err != nil {
		t.Fatalf("futexWake failed: %v", err)
	}
	// Some waiters may not have parked yet (their re-check sees the new
	// value instead); woken can be below the count but never above it
	if woken > waiters {
		t.Errorf("futexWake woke %d, more than the %d waiters", woken, waiters)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiters did not all return after wake")
	}
}

// TestConcurrentFutexOperations hammers mixed waits and wakes looking for
// deadlocks.
func TestConcurrentFutexOperations(t *testing.T) {
	var addr uint32
	var wg sync.WaitGroup
	const numGoroutines = 6
	const numIterations = 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				if (id+j)%2 == 0 {
					val := atomic.LoadUint32(&addr)
					futexWaitTimeout(&addr, val, int64(5*time.Millisecond))
				} else {
					atomic.AddUint32(&addr, 1)
					futexWake(&addr, 5)
				}
				time.Sleep(100 * time.Microsecond)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent futex test timed out - possible deadlock or lost-wake race")
	}
}

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
	"fmt"
	"os"
	"time"
)

// Allocation errors
var (
	// ErrNoFreeSlots is returned when every slot is occupied at allocation
	// time. Allocation is fail-fast: it never waits for capacity.
	ErrNoFreeSlots = errors.New("no free slot available")

	// ErrNotAccepting is returned when the server has begun shutting down
	// and no longer admits new occupancies.
	ErrNotAccepting = errors.New("server is not accepting new requests")
)

// Allocation mutex retry budget. A client that died while holding the
// lock must surface as ErrLockTimeout to everyone else, not as a hang.
const (
	allocLockWait     = time.Second
	allocLockAttempts = 5
)

// Table drives the slot protocol over a mapped region. The same protocol
// runs on both sides: clients allocate, wait and consume; server workers
// claim and complete.
type Table struct {
	region *Region
	lock   *FutexMutex
}

// NewTable wraps a mapped region.
func NewTable(r *Region) *Table {
	return &Table{
		region: r,
		lock:   NewFutexMutex(r.Header().AllocLockWord()),
	}
}

// Capacity returns the slot count of the underlying region.
func (t *Table) Capacity() uint32 {
	return t.region.Capacity()
}

// Allocate claims a Free slot for a new request: under the allocation
// mutex it scans lowest-index-first, stamps the current generation and a
// fresh request id, lets fill write the operands, and publishes the slot
// as Filled. After the mutex is released it bumps the class submission
// counter and wakes one worker.
//
// Fail-fast contract: a full table returns ErrNoFreeSlots immediately, a
// draining server returns ErrNotAccepting, and an unobtainable mutex
// returns ErrLockTimeout. Allocation never waits for capacity.
func (t *Table) Allocate(opcode, mode uint32, fill func(*Slot) error) (uint32, uint64, error) {
	class, err := OpcodeClass(opcode)
	if err != nil {
		return 0, 0, err
	}
	if mode != ModeBlocking && mode != ModeAsync {
		return 0, 0, fmt.Errorf("unknown mode %d", mode)
	}

	if err := t.lock.LockTimeout(allocLockWait, allocLockAttempts); err != nil {
		return 0, 0, err
	}

	h := t.region.Header()
	if !h.Accepting() {
		t.lock.Unlock()
		return 0, 0, ErrNotAccepting
	}

	var slot *Slot
	var idx uint32
	capacity := h.Capacity()
	for i := uint32(0); i < capacity; i++ {
		if s := t.region.Slot(i); s.State() == SlotFree {
			slot, idx = s, i
			break
		}
	}
	if slot == nil {
		t.lock.Unlock()
		return 0, 0, ErrNoFreeSlots
	}

	reqID := h.MintRequestID()
	slot.ClearPayload()
	slot.SetOpcode(opcode)
	slot.SetMode(mode)
	slot.SetOwnerPID(uint32(os.Getpid()))
	slot.SetStatus(StatusOK)
	slot.SetOwnerGeneration(h.Generation())
	slot.SetRequestID(reqID)
	if fill != nil {
		if err := fill(slot); err != nil {
			// The slot never left Free; its fields stay meaningless until
			// a later occupancy publishes over them.
			t.lock.Unlock()
			return 0, 0, err
		}
	}
	slot.SetState(SlotFilled)
	t.lock.Unlock()

	// One submission, one woken worker. Publish outside the critical
	// section; workers claim without the allocation mutex.
	h.BumpClassSeq(class)
	futexWake(h.ClassSeqWord(class), 1)

	return idx, reqID, nil
}

// Quiesce acquires and releases the allocation mutex once. After the
// accepting flag is cleared, this waits out any allocator that read the
// flag before the store; every allocation starting afterwards observes
// the cleared flag. A dead lock holder surfaces as ErrLockTimeout.
func (t *Table) Quiesce() error {
	if err := t.lock.LockTimeout(allocLockWait, allocLockAttempts); err != nil {
		return err
	}
	t.lock.Unlock()
	return nil
}

// Claim finds a Filled slot of the given class and takes exclusive
// ownership of it via CAS. Exactly one worker can win a slot.
func (t *Table) Claim(class uint32) (*Slot, uint32, bool) {
	capacity := t.region.Capacity()
	for i := uint32(0); i < capacity; i++ {
		s := t.region.Slot(i)
		if s.State() != SlotFilled {
			continue
		}
		if c, err := OpcodeClass(s.Opcode()); err != nil || c != class {
			continue
		}
		if s.CasState(SlotFilled, SlotClaimed) {
			return s, i, true
		}
	}
	return nil, 0, false
}

// Complete publishes a claimed slot as Done. The worker must have fully
// written the result area before calling; the status store, the Done
// store and the sequence bump happen after the result so the waiter can
// never observe a half-written payload.
func (t *Table) Complete(s *Slot, status uint32) {
	s.SetStatus(status)
	s.SetState(SlotDone)
	s.BumpDoneSeq()
	futexWake(s.DoneSeqWord(), 1)
}

// ClassSeq returns the current submission counter for a class. Workers
// snapshot it before scanning so a submission between scan and wait
// turns the wait into a no-op instead of a lost wakeup.
func (t *Table) ClassSeq(class uint32) uint32 {
	return t.region.Header().ClassSeq(class)
}

// WaitClass parks the caller until the class submission counter moves
// past the snapshot or the timeout elapses.
func (t *Table) WaitClass(class uint32, seq uint32, timeout time.Duration) error {
	return futexWaitTimeout(t.region.Header().ClassSeqWord(class), seq, timeout.Nanoseconds())
}

// KickClass bumps a class counter and wakes every worker parked on it.
// Used at shutdown so no worker sleeps through the stop flag.
func (t *Table) KickClass(class uint32) {
	h := t.region.Header()
	h.BumpClassSeq(class)
	futexWake(h.ClassSeqWord(class), 1<<30)
}

// WaitDone blocks until the slot completes for the given request id or
// the timeout slice elapses (ErrFutexTimeout). Callers loop over slices,
// re-checking session freshness between them.
func (t *Table) WaitDone(s *Slot, reqID uint64, slice time.Duration) error {
	deadline := time.Now().Add(slice)
	for {
		seq := s.DoneSeq()
		if s.State() == SlotDone && s.RequestID() == reqID {
			return nil
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return ErrFutexTimeout
		}
		if err := futexWaitTimeout(s.DoneSeqWord(), seq, remain.Nanoseconds()); err != nil {
			if errors.Is(err, ErrFutexTimeout) {
				if s.State() == SlotDone && s.RequestID() == reqID {
					return nil
				}
				return ErrFutexTimeout
			}
			return err
		}
	}
}

// Consume releases a Done slot back to Free after its owner has read the
// result. Only the owner of reqID may call this; the CAS guarantees a
// slot is recycled exactly once.
func (t *Table) Consume(s *Slot, reqID uint64) bool {
	if s.RequestID() != reqID {
		return false
	}
	return s.CasState(SlotDone, SlotFree)
}

// Find locates the occupied slot holding a request id. Free slots are
// skipped: their fields are leftovers without meaning.
func (t *Table) Find(reqID uint64) (*Slot, uint32, bool) {
	capacity := t.region.Capacity()
	for i := uint32(0); i < capacity; i++ {
		s := t.region.Slot(i)
		if s.State() != SlotFree && s.RequestID() == reqID {
			return s, i, true
		}
	}
	return nil, 0, false
}

// PendingForClass reports whether any Filled slot of the class is still
// waiting for a claim. Draining pools stop once this goes false and the
// last claimed slots complete.
func (t *Table) PendingForClass(class uint32) bool {
	capacity := t.region.Capacity()
	for i := uint32(0); i < capacity; i++ {
		s := t.region.Slot(i)
		if s.State() != SlotFilled {
			continue
		}
		if c, err := OpcodeClass(s.Opcode()); err == nil && c == class {
			return true
		}
	}
	return false
}

// Occupancy is a point-in-time count of slots by state.
type Occupancy struct {
	Free    uint32
	Filled  uint32
	Claimed uint32
	Done    uint32
}

// InFlight returns the number of slots the server still owes work on.
func (o Occupancy) InFlight() uint32 {
	return o.Filled + o.Claimed
}

// Occupancy scans the table and counts slots by state. The scan is
// lock-free; the counts are a snapshot, not a fence.
func (t *Table) Occupancy() Occupancy {
	var o Occupancy
	capacity := t.region.Capacity()
	for i := uint32(0); i < capacity; i++ {
		switch t.region.Slot(i).State() {
		case SlotFree:
			o.Free++
		case SlotFilled:
			o.Filled++
		case SlotClaimed:
			o.Claimed++
		case SlotDone:
			o.Done++
		}
	}
	return o
}

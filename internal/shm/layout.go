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

// Package shm implements the shared memory substrate: the session region
// layout, the slot table protocol, and the futex-based primitives that
// coordinate client processes with the server across the region.
package shm

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Memory layout constants
const (
	// Magic bytes for region identification
	RegionMagic = "SHMIPC\x00\x00"

	// Current layout version
	LayoutVersion = uint32(1)

	// Session header size (aligned to 128 bytes)
	HeaderSize = 128

	// Slot size (aligned to 64 bytes)
	SlotSize = 192

	// Default slot count per region
	DefaultCapacity = uint32(16)

	// Maximum slot count per region
	MaxCapacity = uint32(4096)

	// Operand area size within a slot
	ArgsSize = 40

	// Result area size within a slot
	ResultSize = 64

	// Maximum length of one string operand in bytes
	MaxStringLen = 16
)

// Slot states. Transitions are Free->Filled->Claimed->Done->Free, strictly
// in that order; the state word is only ever advanced by the party the
// protocol puts in charge of the transition.
const (
	SlotFree    = uint32(0)
	SlotFilled  = uint32(1)
	SlotClaimed = uint32(2)
	SlotDone    = uint32(3)
)

// Submission modes
const (
	ModeBlocking = uint32(0)
	ModeAsync    = uint32(1)
)

// Operation tags. The set is closed: workers dispatch by matching on the
// tag, and the numeric/string pool split is a static partition of it.
const (
	OpAdd    = uint32(0)
	OpSub    = uint32(1)
	OpMul    = uint32(2)
	OpDiv    = uint32(3)
	OpConcat = uint32(4)
	OpSearch = uint32(5)

	opcodeCount = uint32(6)
)

// Operation classes, one per worker pool
const (
	ClassNumeric = uint32(0)
	ClassString  = uint32(1)

	classCount = uint32(2)
)

// Status codes written by workers. All of them are Done outcomes: a failed
// operation still completes its slot normally.
const (
	StatusOK           = uint32(0)
	StatusDivByZero    = uint32(1)
	StatusNotFound     = uint32(2)
	StatusStrTooLong   = uint32(3)
	StatusInvalidInput = uint32(4)
	StatusInternal     = uint32(5)
)

// ValidOpcode reports whether op is a known operation tag.
func ValidOpcode(op uint32) bool {
	return op < opcodeCount
}

// OpcodeClass returns the worker class responsible for op.
func OpcodeClass(op uint32) (uint32, error) {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv:
		return ClassNumeric, nil
	case OpConcat, OpSearch:
		return ClassString, nil
	default:
		return 0, fmt.Errorf("unknown opcode %d", op)
	}
}

// OpcodeName returns a human-readable name for an operation tag.
func OpcodeName(op uint32) string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpConcat:
		return "concat"
	case OpSearch:
		return "search"
	default:
		return fmt.Sprintf("opcode(%d)", op)
	}
}

// StateName returns a human-readable name for a slot state.
func StateName(state uint32) string {
	switch state {
	case SlotFree:
		return "free"
	case SlotFilled:
		return "filled"
	case SlotClaimed:
		return "claimed"
	case SlotDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", state)
	}
}

// StatusName returns a human-readable name for a status code.
func StatusName(status uint32) string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusDivByZero:
		return "div_by_zero"
	case StatusNotFound:
		return "not_found"
	case StatusStrTooLong:
		return "str_too_long"
	case StatusInvalidInput:
		return "invalid_input"
	case StatusInternal:
		return "internal"
	default:
		return fmt.Sprintf("status(%d)", status)
	}
}

// ModeName returns a human-readable name for a submission mode.
func ModeName(mode uint32) string {
	switch mode {
	case ModeBlocking:
		return "blocking"
	case ModeAsync:
		return "async"
	default:
		return fmt.Sprintf("mode(%d)", mode)
	}
}

// SessionHeader is the first 128 bytes of the shared region, written once
// by the server at startup and read-only for clients except for the futex
// words and the request id allocator.
type SessionHeader struct {
	magic         [8]byte  // 0x00: "SHMIPC\0\0"
	version       uint32   // 0x08: layout version
	headerSize    uint32   // 0x0C: header size in bytes
	generation    uint64   // 0x10: server incarnation id
	nextRequestID uint64   // 0x18: request id allocator, first issued id is 1
	capacity      uint32   // 0x20: slot count
	slotSize      uint32   // 0x24: bytes per slot
	allocLock     uint32   // 0x28: futex word, allocation mutex
	accepting     uint32   // 0x2C: 1 while the server accepts allocations
	numericSeq    uint32   // 0x30: futex word, numeric-class submission counter
	stringSeq     uint32   // 0x34: futex word, string-class submission counter
	serverPID     uint32   // 0x38: server process ID
	pad           uint32   // 0x3C: padding
	reserved      [64]byte // 0x40-0x7F: reserved/padding to 128B
}

// SessionHeader atomic access methods

// Magic returns the magic bytes
func (h *SessionHeader) Magic() [8]byte {
	return h.magic
}

// SetMagic sets the magic bytes
func (h *SessionHeader) SetMagic(magic [8]byte) {
	h.magic = magic
}

// Version returns the layout version
func (h *SessionHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// SetVersion sets the layout version
func (h *SessionHeader) SetVersion(version uint32) {
	atomic.StoreUint32(&h.version, version)
}

// HeaderBytes returns the recorded header size
func (h *SessionHeader) HeaderBytes() uint32 {
	return atomic.LoadUint32(&h.headerSize)
}

// SetHeaderBytes sets the recorded header size
func (h *SessionHeader) SetHeaderBytes(size uint32) {
	atomic.StoreUint32(&h.headerSize, size)
}

// Generation returns the server incarnation id
func (h *SessionHeader) Generation() uint64 {
	return atomic.LoadUint64(&h.generation)
}

// SetGeneration sets the server incarnation id
func (h *SessionHeader) SetGeneration(gen uint64) {
	atomic.StoreUint64(&h.generation, gen)
}

// MintRequestID atomically issues the next request id. Ids start at 1;
// zero is never issued so it can mark a never-assigned slot.
func (h *SessionHeader) MintRequestID() uint64 {
	return atomic.AddUint64(&h.nextRequestID, 1)
}

// Capacity returns the slot count
func (h *SessionHeader) Capacity() uint32 {
	return atomic.LoadUint32(&h.capacity)
}

// SetCapacity sets the slot count
func (h *SessionHeader) SetCapacity(capacity uint32) {
	atomic.StoreUint32(&h.capacity, capacity)
}

// SlotBytes returns the recorded per-slot size
func (h *SessionHeader) SlotBytes() uint32 {
	return atomic.LoadUint32(&h.slotSize)
}

// SetSlotBytes sets the recorded per-slot size
func (h *SessionHeader) SetSlotBytes(size uint32) {
	atomic.StoreUint32(&h.slotSize, size)
}

// AllocLockWord returns the address of the allocation mutex futex word
func (h *SessionHeader) AllocLockWord() *uint32 {
	return &h.allocLock
}

// Accepting returns whether the server accepts new allocations
func (h *SessionHeader) Accepting() bool {
	return atomic.LoadUint32(&h.accepting) != 0
}

// SetAccepting sets the accepting flag
func (h *SessionHeader) SetAccepting(accepting bool) {
	var val uint32
	if accepting {
		val = 1
	}
	atomic.StoreUint32(&h.accepting, val)
}

// ClassSeq returns the submission counter for a worker class
func (h *SessionHeader) ClassSeq(class uint32) uint32 {
	return atomic.LoadUint32(h.classSeqWord(class))
}

// BumpClassSeq atomically increments the submission counter for a class
func (h *SessionHeader) BumpClassSeq(class uint32) uint32 {
	return atomic.AddUint32(h.classSeqWord(class), 1)
}

// ClassSeqWord returns the address of a class submission futex word
func (h *SessionHeader) ClassSeqWord(class uint32) *uint32 {
	return h.classSeqWord(class)
}

// classSeqWord maps a class to its futex word; unknown classes fall back
// to the numeric word so a bad caller blocks instead of faulting.
func (h *SessionHeader) classSeqWord(class uint32) *uint32 {
	if class == ClassString {
		return &h.stringSeq
	}
	return &h.numericSeq
}

// ServerPID returns the server process ID
func (h *SessionHeader) ServerPID() uint32 {
	return atomic.LoadUint32(&h.serverPID)
}

// SetServerPID sets the server process ID
func (h *SessionHeader) SetServerPID(pid uint32) {
	atomic.StoreUint32(&h.serverPID, pid)
}

// Slot is one reusable request/response record of the table. The fixed
// fields are accessed atomically; the args/result areas are plain memory
// published by the state word (written before the release-store that
// advances state, read after the acquire-load that observes it).
type Slot struct {
	state     uint32           // 0x00: Free/Filled/Claimed/Done
	opcode    uint32           // 0x04: operation tag
	mode      uint32           // 0x08: Blocking or Async
	doneSeq   uint32           // 0x0C: futex word, per-slot completion signal
	requestID uint64           // 0x10: unique within a generation
	ownerGen  uint64           // 0x18: generation of the current occupancy
	ownerPID  uint32           // 0x20: submitting process ID
	status    uint32           // 0x24: outcome code, valid once Done
	args      [ArgsSize]byte   // 0x28: operand encoding
	result    [ResultSize]byte // 0x50: result encoding, valid once Done
	reserved  [48]byte         // 0x90-0xBF: reserved/padding to 192B
}

// Slot atomic access methods

// State returns the slot state
func (s *Slot) State() uint32 {
	return atomic.LoadUint32(&s.state)
}

// SetState sets the slot state
func (s *Slot) SetState(state uint32) {
	atomic.StoreUint32(&s.state, state)
}

// CasState advances the slot state only if it currently equals old.
// This is the exclusive-claim primitive: exactly one caller wins.
func (s *Slot) CasState(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&s.state, old, new)
}

// Opcode returns the operation tag
func (s *Slot) Opcode() uint32 {
	return atomic.LoadUint32(&s.opcode)
}

// SetOpcode sets the operation tag
func (s *Slot) SetOpcode(op uint32) {
	atomic.StoreUint32(&s.opcode, op)
}

// Mode returns the submission mode
func (s *Slot) Mode() uint32 {
	return atomic.LoadUint32(&s.mode)
}

// SetMode sets the submission mode
func (s *Slot) SetMode(mode uint32) {
	atomic.StoreUint32(&s.mode, mode)
}

// DoneSeq returns the completion sequence number
func (s *Slot) DoneSeq() uint32 {
	return atomic.LoadUint32(&s.doneSeq)
}

// BumpDoneSeq atomically increments the completion sequence number
func (s *Slot) BumpDoneSeq() uint32 {
	return atomic.AddUint32(&s.doneSeq, 1)
}

// DoneSeqWord returns the address of the completion futex word
func (s *Slot) DoneSeqWord() *uint32 {
	return &s.doneSeq
}

// RequestID returns the request id of the current occupancy
func (s *Slot) RequestID() uint64 {
	return atomic.LoadUint64(&s.requestID)
}

// SetRequestID sets the request id of the current occupancy
func (s *Slot) SetRequestID(id uint64) {
	atomic.StoreUint64(&s.requestID, id)
}

// OwnerGeneration returns the generation that created this occupancy
func (s *Slot) OwnerGeneration() uint64 {
	return atomic.LoadUint64(&s.ownerGen)
}

// SetOwnerGeneration sets the generation of this occupancy
func (s *Slot) SetOwnerGeneration(gen uint64) {
	atomic.StoreUint64(&s.ownerGen, gen)
}

// OwnerPID returns the submitting process ID
func (s *Slot) OwnerPID() uint32 {
	return atomic.LoadUint32(&s.ownerPID)
}

// SetOwnerPID sets the submitting process ID
func (s *Slot) SetOwnerPID(pid uint32) {
	atomic.StoreUint32(&s.ownerPID, pid)
}

// Status returns the outcome code
func (s *Slot) Status() uint32 {
	return atomic.LoadUint32(&s.status)
}

// SetStatus sets the outcome code
func (s *Slot) SetStatus(status uint32) {
	atomic.StoreUint32(&s.status, status)
}

// Operand and result encoding
//
// Numeric operations: two int64 values at args+0x00 and args+0x08,
// little-endian; the int64 result sits at result+0x00.
// String operations: two length-prefixed strings, len1 at args+0x00,
// bytes at args+0x01..0x10, len2 at args+0x11, bytes at args+0x12..0x21;
// concat writes a length-prefixed string at result+0x00, search writes
// the int64 byte position (or -1) at result+0x00.

// SetNumericArgs encodes two integer operands into the args area.
func (s *Slot) SetNumericArgs(a, b int64) {
	binary.LittleEndian.PutUint64(s.args[0:8], uint64(a))
	binary.LittleEndian.PutUint64(s.args[8:16], uint64(b))
}

// NumericArgs decodes two integer operands from the args area.
func (s *Slot) NumericArgs() (a, b int64) {
	a = int64(binary.LittleEndian.Uint64(s.args[0:8]))
	b = int64(binary.LittleEndian.Uint64(s.args[8:16]))
	return a, b
}

// SetStringArgs encodes two string operands into the args area. Each
// operand must be 1..MaxStringLen bytes.
func (s *Slot) SetStringArgs(s1, s2 []byte) error {
	if len(s1) < 1 || len(s1) > MaxStringLen {
		return fmt.Errorf("string operand 1 length %d out of range 1..%d", len(s1), MaxStringLen)
	}
	if len(s2) < 1 || len(s2) > MaxStringLen {
		return fmt.Errorf("string operand 2 length %d out of range 1..%d", len(s2), MaxStringLen)
	}
	for i := range s.args {
		s.args[i] = 0
	}
	s.args[0] = byte(len(s1))
	copy(s.args[1:1+MaxStringLen], s1)
	s.args[1+MaxStringLen] = byte(len(s2))
	copy(s.args[2+MaxStringLen:2+2*MaxStringLen], s2)
	return nil
}

// StringArgs decodes two string operands from the args area. The returned
// slices are copies, safe to hold after the slot is reused.
func (s *Slot) StringArgs() (s1, s2 []byte, err error) {
	n1 := int(s.args[0])
	n2 := int(s.args[1+MaxStringLen])
	if n1 < 1 || n1 > MaxStringLen {
		return nil, nil, fmt.Errorf("string operand 1 length %d out of range 1..%d", n1, MaxStringLen)
	}
	if n2 < 1 || n2 > MaxStringLen {
		return nil, nil, fmt.Errorf("string operand 2 length %d out of range 1..%d", n2, MaxStringLen)
	}
	s1 = make([]byte, n1)
	copy(s1, s.args[1:1+n1])
	s2 = make([]byte, n2)
	copy(s2, s.args[2+MaxStringLen:2+MaxStringLen+n2])
	return s1, s2, nil
}

// SetNumericResult overwrites the full result area with an integer result.
func (s *Slot) SetNumericResult(v int64) {
	for i := range s.result {
		s.result[i] = 0
	}
	binary.LittleEndian.PutUint64(s.result[0:8], uint64(v))
}

// NumericResult decodes an integer result.
func (s *Slot) NumericResult() int64 {
	return int64(binary.LittleEndian.Uint64(s.result[0:8]))
}

// SetStringResult overwrites the full result area with a length-prefixed
// string result. The value must fit the area with its length byte.
func (s *Slot) SetStringResult(b []byte) error {
	if len(b) > ResultSize-1 {
		return fmt.Errorf("string result length %d exceeds %d", len(b), ResultSize-1)
	}
	for i := range s.result {
		s.result[i] = 0
	}
	s.result[0] = byte(len(b))
	copy(s.result[1:], b)
	return nil
}

// StringResult decodes a length-prefixed string result as a copy.
func (s *Slot) StringResult() ([]byte, error) {
	n := int(s.result[0])
	if n > ResultSize-1 {
		return nil, fmt.Errorf("string result length %d exceeds %d", n, ResultSize-1)
	}
	out := make([]byte, n)
	copy(out, s.result[1:1+n])
	return out, nil
}

// ResultBytes returns a copy of the raw result area.
func (s *Slot) ResultBytes() [ResultSize]byte {
	return s.result
}

// ClearPayload zeroes the operand and result areas. Called during
// allocation so a new occupancy never starts from prior bytes.
func (s *Slot) ClearPayload() {
	for i := range s.args {
		s.args[i] = 0
	}
	for i := range s.result {
		s.result[i] = 0
	}
}

// Layout calculation and validation helpers

// RegionSize returns the total region size for a slot count.
func RegionSize(capacity uint32) (uint64, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return 0, fmt.Errorf("capacity %d out of range 1..%d", capacity, MaxCapacity)
	}
	return uint64(HeaderSize) + uint64(capacity)*uint64(SlotSize), nil
}

// magicBytes returns the magic constant as a fixed array.
func magicBytes() [8]byte {
	var m [8]byte
	copy(m[:], RegionMagic)
	return m
}

// ValidateHeader validates a mapped session header for consistency.
func ValidateHeader(h *SessionHeader, mappedSize uint64) error {
	if h.Magic() != magicBytes() {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != LayoutVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), LayoutVersion)
	}
	if h.HeaderBytes() != HeaderSize {
		return fmt.Errorf("header size mismatch: got %d, expected %d", h.HeaderBytes(), HeaderSize)
	}
	if h.SlotBytes() != SlotSize {
		return fmt.Errorf("slot size mismatch: got %d, expected %d", h.SlotBytes(), SlotSize)
	}
	expected, err := RegionSize(h.Capacity())
	if err != nil {
		return fmt.Errorf("layout calculation failed: %w", err)
	}
	if mappedSize != expected {
		return fmt.Errorf("region size mismatch: got %d, expected %d", mappedSize, expected)
	}
	return nil
}

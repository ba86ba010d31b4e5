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

package shmipc

import "shmipc/internal/shm"

// Op identifies one operation of the closed dispatch set.
type Op uint32

// Operations. Add/Sub/Mul/Div are served by the numeric pool, Concat and
// Search by the string pool.
const (
	OpAdd    = Op(shm.OpAdd)
	OpSub    = Op(shm.OpSub)
	OpMul    = Op(shm.OpMul)
	OpDiv    = Op(shm.OpDiv)
	OpConcat = Op(shm.OpConcat)
	OpSearch = Op(shm.OpSearch)
)

// String returns the operation name.
func (op Op) String() string {
	return shm.OpcodeName(uint32(op))
}

// Status is the outcome code of a completed operation. Every status is a
// served outcome: the request ran and its slot was recycled normally.
type Status uint32

// Status codes.
const (
	StatusOK           = Status(shm.StatusOK)
	StatusDivByZero    = Status(shm.StatusDivByZero)
	StatusNotFound     = Status(shm.StatusNotFound)
	StatusStrTooLong   = Status(shm.StatusStrTooLong)
	StatusInvalidInput = Status(shm.StatusInvalidInput)
	StatusInternal     = Status(shm.StatusInternal)
)

// String returns the status name.
func (st Status) String() string {
	return shm.StatusName(uint32(st))
}

// MaxStringLen is the length limit of one string operand in bytes.
const MaxStringLen = shm.MaxStringLen

// RequestID names an asynchronous submission. Ids are unique within one
// server generation; a restart invalidates all outstanding ids.
type RequestID uint64

// Request describes one submission. A and B carry the operands of numeric
// operations; S1 and S2 carry string operands (1..MaxStringLen bytes each):
// the two inputs for Concat, haystack and needle for Search.
type Request struct {
	Op     Op
	A, B   int64
	S1, S2 string
}

// Result is a decoded completion. Int holds the value of numeric
// operations and the byte position for Search (-1 when absent); Str holds
// the Concat output. Poll delivers Status as data, never as an error.
type Result struct {
	Op     Op
	Status Status
	Int    int64
	Str    string
}

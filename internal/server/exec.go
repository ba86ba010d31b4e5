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

// Package server implements the daemon side of the shared-memory substrate:
// the operation executor, the per-class worker pools, the lifecycle
// controller, the status report, the incarnation registry and the
// single-instance lock.
package server

import (
	"bytes"
	"context"
	"time"

	"shmipc/internal/shm"
)

// Executor evaluates claimed slots. It writes the result and returns the
// status; the Done transition belongs to the caller. Execution is
// deterministic except for the configured slow-operation latency.
type Executor struct {
	slowOpDelay time.Duration
}

// NewExecutor returns an executor. slowOpDelay is the artificial latency
// applied to mul and div; zero disables it.
func NewExecutor(slowOpDelay time.Duration) *Executor {
	return &Executor{slowOpDelay: slowOpDelay}
}

// Execute runs the slot's operation and fills the result area. A non-nil
// error means ctx aborted the operation mid-flight and nothing was
// published; every other outcome, including operand errors, is a status.
func (e *Executor) Execute(ctx context.Context, s *shm.Slot) (uint32, error) {
	switch op := s.Opcode(); op {
	case shm.OpAdd, shm.OpSub, shm.OpMul, shm.OpDiv:
		return e.executeNumeric(ctx, op, s)
	case shm.OpConcat, shm.OpSearch:
		return e.executeString(op, s)
	default:
		// Allocation validates opcodes; an unknown tag here means the
		// table was corrupted underneath us.
		s.SetNumericResult(0)
		return shm.StatusInternal, nil
	}
}

func (e *Executor) executeNumeric(ctx context.Context, op uint32, s *shm.Slot) (uint32, error) {
	a, b := s.NumericArgs()

	if op == shm.OpMul || op == shm.OpDiv {
		if err := e.slowOp(ctx); err != nil {
			return 0, err
		}
	}

	var v int64
	switch op {
	case shm.OpAdd:
		v = a + b
	case shm.OpSub:
		v = a - b
	case shm.OpMul:
		v = a * b
	case shm.OpDiv:
		if b == 0 {
			s.SetNumericResult(0)
			return shm.StatusDivByZero, nil
		}
		// MinInt64 / -1 wraps to MinInt64, same as the other ops overflow
		v = a / b
	}
	s.SetNumericResult(v)
	return shm.StatusOK, nil
}

func (e *Executor) executeString(op uint32, s *shm.Slot) (uint32, error) {
	s1, s2, err := s.StringArgs()
	if err != nil {
		s.SetNumericResult(0)
		return shm.StatusInvalidInput, nil
	}

	switch op {
	case shm.OpConcat:
		if len(s1)+len(s2) > 2*shm.MaxStringLen {
			s.SetStringResult(nil)
			return shm.StatusStrTooLong, nil
		}
		out := make([]byte, 0, len(s1)+len(s2))
		out = append(out, s1...)
		out = append(out, s2...)
		if err := s.SetStringResult(out); err != nil {
			return shm.StatusInternal, nil
		}
		return shm.StatusOK, nil

	case shm.OpSearch:
		// Byte position of the first occurrence, -1 when absent. An
		// absent needle is a NotFound completion, not a failure.
		pos := int64(bytes.Index(s1, s2))
		s.SetNumericResult(pos)
		if pos < 0 {
			return shm.StatusNotFound, nil
		}
		return shm.StatusOK, nil
	}

	s.SetNumericResult(0)
	return shm.StatusInternal, nil
}

// slowOp sleeps for the configured latency. ctx cancellation cuts the sleep
// short; the caller abandons the slot in that case.
func (e *Executor) slowOp(ctx context.Context) error {
	if e.slowOpDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(e.slowOpDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

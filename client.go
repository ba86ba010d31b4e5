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

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"shmipc/internal/shm"
)

// waitSlice bounds one futex sleep of a blocking submission. Between
// slices the waiter re-checks context cancellation and session freshness.
const waitSlice = 250 * time.Millisecond

// Client is an attached handle to a server's shared region. A Client is
// safe for concurrent use. Close must not run while calls are in flight:
// it unmaps the memory those calls read.
type Client struct {
	mu         sync.Mutex
	region     *shm.Region
	table      *shm.Table
	generation uint64
	regionName string
	log        *zap.Logger

	// pending tags every outstanding async id with the generation it was
	// submitted under, so a stale id is reported exactly once.
	pending map[RequestID]uint64

	// retired holds mappings replaced by a reattach. They stay mapped
	// until Close: a blocking waiter may still be parked on their memory.
	retired []*shm.Region

	closed bool
}

// Attach opens the shared region and returns a client handle. The server
// must already be running; clients never create regions.
func Attach(opts ...Option) (*Client, error) {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}
	region, err := shm.OpenRegion(o.region)
	if err != nil {
		return nil, attachError(o.region, err)
	}
	return &Client{
		region:     region,
		table:      shm.NewTable(region),
		generation: region.Header().Generation(),
		regionName: o.region,
		log:        o.log,
		pending:    make(map[RequestID]uint64),
	}, nil
}

// attachError maps region-open failures onto the library sentinels.
func attachError(name string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrNotRunning
	case errors.Is(err, shm.ErrUnsupportedPlatform):
		return ErrUnsupportedPlatform
	default:
		return fmt.Errorf("attaching to region %q: %w", name, err)
	}
}

// Close detaches from the region. It only releases local mappings; the
// server owns the region's lifetime. Outstanding async ids are forgotten.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for _, r := range c.retired {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.retired = nil
	if err := c.region.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.pending = nil
	return firstErr
}

// SubmitBlocking submits a request and waits for its completion. Failure
// statuses come back as *OperationError, except a Search miss, which is a
// normal Result with Status StatusNotFound and Int -1.
//
// Cancelling ctx abandons the wait, not the request: a worker still
// executes the slot, and its occupancy is reclaimed on the way out only
// if it is already Done.
func (c *Client) SubmitBlocking(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err := c.ensureFreshLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	table, region, gen := c.table, c.region, c.generation
	s, reqID, err := c.submitLocked(req, shm.ModeBlocking)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for {
		err := table.WaitDone(s, reqID, waitSlice)
		if err == nil {
			break
		}
		if !errors.Is(err, shm.ErrFutexTimeout) {
			return nil, fmt.Errorf("waiting for completion: %w", err)
		}
		if cerr := ctx.Err(); cerr != nil {
			if s.State() == shm.SlotDone && s.RequestID() == reqID {
				table.Consume(s, reqID)
			}
			return nil, cerr
		}
		stale, serr := sessionStale(region, gen)
		if serr != nil {
			return nil, serr
		}
		if stale {
			// The request died with its session. Reattach for the next
			// caller; this call reports the loss.
			c.mu.Lock()
			if !c.closed {
				_ = c.ensureFreshLocked()
			}
			c.mu.Unlock()
			return nil, ErrServerRestarted
		}
	}

	res, err := decodeResult(s)
	if err != nil {
		table.Consume(s, reqID)
		return nil, err
	}
	table.Consume(s, reqID)
	if res.Status != StatusOK && res.Status != StatusNotFound {
		return nil, &OperationError{Op: res.Op, Status: res.Status}
	}
	return res, nil
}

// SubmitAsync submits a request and returns its id immediately. The
// result is retrieved with Poll; until then the request occupies a slot.
func (c *Client) SubmitAsync(req Request) (RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if err := c.ensureFreshLocked(); err != nil {
		return 0, err
	}
	_, reqID, err := c.submitLocked(req, shm.ModeAsync)
	if err != nil {
		return 0, err
	}
	id := RequestID(reqID)
	c.pending[id] = c.generation
	return id, nil
}

// Poll retrieves the result of an asynchronous submission. It returns
// ErrNotReady while the request is in flight. A ready result consumes the
// slot and forgets the id; the Status travels in the Result, never as an
// error. An id submitted under a previous server generation yields
// ErrServerRestarted exactly once and is unknown afterwards.
func (c *Client) Poll(id RequestID) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	gen, tracked := c.pending[id]
	ferr := c.ensureFreshLocked()
	if ferr != nil && !errors.Is(ferr, ErrServerRestarted) {
		// Reattach failed; stale ids stay pending so their notification
		// still fires once a reattach succeeds.
		return nil, ferr
	}
	if !tracked {
		if ferr != nil {
			return nil, ferr
		}
		return nil, ErrUnknownRequest
	}
	if gen != c.generation {
		delete(c.pending, id)
		return nil, ErrServerRestarted
	}

	// A reattach would have moved c.generation away from gen, so from
	// here on the mapped table is the one the request lives in.
	s, _, ok := c.table.Find(uint64(id))
	if !ok {
		delete(c.pending, id)
		return nil, ErrUnknownRequest
	}
	if s.State() != shm.SlotDone {
		return nil, ErrNotReady
	}
	res, err := decodeResult(s)
	c.table.Consume(s, uint64(id))
	delete(c.pending, id)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Add submits a blocking addition and returns the sum.
func (c *Client) Add(ctx context.Context, a, b int64) (int64, error) {
	res, err := c.SubmitBlocking(ctx, Request{Op: OpAdd, A: a, B: b})
	if err != nil {
		return 0, err
	}
	return res.Int, nil
}

// Subtract submits a blocking subtraction and returns a-b.
func (c *Client) Subtract(ctx context.Context, a, b int64) (int64, error) {
	res, err := c.SubmitBlocking(ctx, Request{Op: OpSub, A: a, B: b})
	if err != nil {
		return 0, err
	}
	return res.Int, nil
}

// Multiply submits an asynchronous multiplication.
func (c *Client) Multiply(a, b int64) (RequestID, error) {
	return c.SubmitAsync(Request{Op: OpMul, A: a, B: b})
}

// Divide submits an asynchronous division. Division by zero completes
// with Status StatusDivByZero in the polled Result.
func (c *Client) Divide(a, b int64) (RequestID, error) {
	return c.SubmitAsync(Request{Op: OpDiv, A: a, B: b})
}

// Concat submits an asynchronous concatenation of two strings, each
// 1..MaxStringLen bytes.
func (c *Client) Concat(s1, s2 string) (RequestID, error) {
	return c.SubmitAsync(Request{Op: OpConcat, S1: s1, S2: s2})
}

// Search submits an asynchronous substring search for needle in haystack.
// A miss completes with Status StatusNotFound and position -1.
func (c *Client) Search(haystack, needle string) (RequestID, error) {
	return c.SubmitAsync(Request{Op: OpSearch, S1: haystack, S2: needle})
}

// ensureFreshLocked verifies the mapped session is still the live one and
// reattaches when it is not. The call that performed the reattach gets
// ErrServerRestarted; with the cache updated, later calls proceed
// normally. Caller holds mu.
func (c *Client) ensureFreshLocked() error {
	same, err := c.region.SameFile()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking region freshness: %w", err)
	}
	if err == nil && same && c.region.Header().Generation() == c.generation {
		return nil
	}
	next, err := shm.OpenRegion(c.regionName)
	if err != nil {
		return attachError(c.regionName, err)
	}
	c.log.Info("server restarted, reattached",
		zap.String("region", c.regionName),
		zap.Uint64("old_generation", c.generation),
		zap.Uint64("generation", next.Header().Generation()))
	c.retired = append(c.retired, c.region)
	c.region = next
	c.table = shm.NewTable(next)
	c.generation = next.Header().Generation()
	return ErrServerRestarted
}

// sessionStale reports whether the captured session is no longer the live
// one. A missing region file counts as stale: the server is gone and the
// wait can never be satisfied.
func sessionStale(region *shm.Region, gen uint64) (bool, error) {
	same, err := region.SameFile()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("checking region freshness: %w", err)
	}
	return !same || region.Header().Generation() != gen, nil
}

// submitLocked allocates and fills one slot. Caller holds mu.
func (c *Client) submitLocked(req Request, mode uint32) (*shm.Slot, uint64, error) {
	fill, err := fillFunc(req)
	if err != nil {
		return nil, 0, err
	}
	idx, reqID, err := c.table.Allocate(uint32(req.Op), mode, fill)
	if err != nil {
		return nil, 0, submitError(err)
	}
	return c.region.Slot(idx), reqID, nil
}

// fillFunc returns the operand writer for a request.
func fillFunc(req Request) (func(*shm.Slot) error, error) {
	class, err := shm.OpcodeClass(uint32(req.Op))
	if err != nil {
		return nil, err
	}
	if class == shm.ClassString {
		s1, s2 := []byte(req.S1), []byte(req.S2)
		return func(s *shm.Slot) error {
			return s.SetStringArgs(s1, s2)
		}, nil
	}
	return func(s *shm.Slot) error {
		s.SetNumericArgs(req.A, req.B)
		return nil
	}, nil
}

// submitError maps allocation failures onto the library sentinels.
// ErrLockTimeout already is one and passes through.
func submitError(err error) error {
	switch {
	case errors.Is(err, shm.ErrNoFreeSlots):
		return ErrNoCapacity
	case errors.Is(err, shm.ErrNotAccepting):
		return ErrShuttingDown
	default:
		return err
	}
}

// decodeResult reads a Done slot's payload into a Result.
func decodeResult(s *shm.Slot) (*Result, error) {
	res := &Result{
		Op:     Op(s.Opcode()),
		Status: Status(s.Status()),
	}
	switch s.Opcode() {
	case shm.OpConcat:
		b, err := s.StringResult()
		if err != nil {
			return nil, fmt.Errorf("decoding concat result: %w", err)
		}
		res.Str = string(b)
	default:
		res.Int = s.NumericResult()
	}
	return res, nil
}

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

package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shmipc/internal/shm"
)

// claimWaitSlice bounds each futex park in the claim loop so stop and
// drain flags are observed promptly even without a kick.
const claimWaitSlice = 100 * time.Millisecond

// Pool is a fixed set of workers serving one operation class. Workers
// claim Filled slots of their class, execute, and publish Done; they
// never touch the other class's slots.
type Pool struct {
	name  string
	class uint32
	size  int
	table *shm.Table
	exec  *Executor
	log   *zap.Logger

	busy      atomic.Int32
	completed atomic.Uint64
	draining  atomic.Bool
	stopping  atomic.Bool
	wg        sync.WaitGroup
}

// NewPool builds a pool of size workers for the given class. Start launches
// them.
func NewPool(name string, class uint32, size int, table *shm.Table, exec *Executor, log *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name:  name,
		class: class,
		size:  size,
		table: table,
		exec:  exec,
		log:   log.Named(name),
	}
}

// Name returns the pool name used in status reports.
func (p *Pool) Name() string { return p.name }

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// Busy returns the number of workers currently executing an operation.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Completed returns the number of operations this pool has published Done.
func (p *Pool) Completed() uint64 { return p.completed.Load() }

// Start launches the workers. ctx aborts in-flight slow operations on
// immediate shutdown; it does not by itself stop the claim loop.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("pool starting", zap.Int("workers", p.size))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Drain tells workers to exit once no claimable or claimed work of their
// class remains. In-flight operations run to completion.
func (p *Pool) Drain() {
	p.draining.Store(true)
	p.table.KickClass(p.class)
}

// Stop tells workers to exit without finishing pending work. The caller
// cancels the Start context alongside so slow operations abort.
func (p *Pool) Stop() {
	p.stopping.Store(true)
	p.table.KickClass(p.class)
}

// Join blocks until every worker has exited.
func (p *Pool) Join() {
	p.wg.Wait()
	p.log.Info("pool stopped", zap.Uint64("completed", p.completed.Load()))
}

// worker is the claim loop: snapshot the class counter, try to claim, park
// on the counter when the scan comes up empty. The snapshot-first order
// turns a submission racing the scan into an immediate wakeup.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker", id))
	log.Debug("worker running")

	for {
		if p.stopping.Load() {
			log.Debug("worker exiting", zap.String("reason", "stop"))
			return
		}

		seq := p.table.ClassSeq(p.class)
		s, idx, ok := p.table.Claim(p.class)
		if !ok {
			if p.stopping.Load() {
				log.Debug("worker exiting", zap.String("reason", "stop"))
				return
			}
			if p.draining.Load() && !p.table.PendingForClass(p.class) {
				log.Debug("worker exiting", zap.String("reason", "drained"))
				return
			}
			if err := p.table.WaitClass(p.class, seq, claimWaitSlice); err != nil && !errors.Is(err, shm.ErrFutexTimeout) {
				// Fall back to a polling cadence if the futex word is
				// unusable.
				log.Warn("class wait failed", zap.Error(err))
				time.Sleep(claimWaitSlice)
			}
			continue
		}

		// Capture identity fields now: after Complete the owner may
		// consume the slot and a new occupancy can overwrite them.
		op, reqID := s.Opcode(), s.RequestID()

		p.busy.Add(1)
		status, err := p.exec.Execute(ctx, s)
		if err != nil {
			// Aborted mid-flight by immediate shutdown. The slot stays
			// Claimed and is counted with the discarded work.
			p.busy.Add(-1)
			log.Debug("operation aborted",
				zap.Uint32("slot", idx),
				zap.String("op", shm.OpcodeName(op)),
				zap.Uint64("request_id", reqID))
			return
		}
		p.table.Complete(s, status)
		p.completed.Add(1)
		p.busy.Add(-1)
		log.Debug("operation completed",
			zap.Uint32("slot", idx),
			zap.String("op", shm.OpcodeName(op)),
			zap.Uint64("request_id", reqID),
			zap.String("status", shm.StatusName(status)))
	}
}

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
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shmipc/internal/shm"
)

// Mode selects what happens to in-flight work at shutdown.
type Mode int

const (
	// ModeDrain finishes every submitted request before stopping.
	ModeDrain Mode = iota
	// ModeImmediate stops right away and discards unfinished requests.
	ModeImmediate
)

// String returns the configuration spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDrain:
		return "drain"
	case ModeImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a configuration spelling of a shutdown mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "drain":
		return ModeDrain, nil
	case "immediate":
		return ModeImmediate, nil
	default:
		return 0, fmt.Errorf("unknown shutdown mode %q", s)
	}
}

// Lifecycle states
const (
	stateStarting = uint32(iota)
	stateRunning
	stateDraining
	stateDiscarding
	stateStopped
)

// ErrServerNotRunning is returned by lifecycle calls against a server that
// is not in the Running state.
var ErrServerNotRunning = errors.New("server is not running")

// Options configures a server instance.
type Options struct {
	RegionName     string
	Slots          uint32
	ThreadsPerPool int // 0 = auto-size
	ShutdownMode   Mode
	SlowOpDelay    time.Duration
	LockFile       string // "" = DefaultLockPath()
	RegistryPath   string // "" disables the incarnation registry
	StatusJSON     bool
	Logger         *zap.Logger // nil = no-op logger
	Output         io.Writer   // nil = os.Stdout
}

// Server owns the shared region and the worker pools for one incarnation.
type Server struct {
	opts Options
	log  *zap.Logger
	out  io.Writer

	lock   *InstanceLock
	reg    *Registry
	region *shm.Region
	table  *shm.Table
	pools  []*Pool
	cancel context.CancelFunc

	generation uint64
	threads    int
	started    time.Time
	state      atomic.Uint32
}

// Summary reports what happened to in-flight work during shutdown.
type Summary struct {
	Mode      Mode
	Finished  uint64 // completions during the drain window
	Discarded uint64 // slots abandoned Filled or Claimed
}

// New builds a server from options. Start brings it up.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.RegionName == "" {
		opts.RegionName = "default"
	}
	if opts.Slots == 0 {
		opts.Slots = shm.DefaultCapacity
	}
	if opts.LockFile == "" {
		opts.LockFile = DefaultLockPath()
	}
	return &Server{
		opts: opts,
		log:  log.Named("server"),
		out:  out,
	}
}

// autoPoolSize derives the per-pool worker count from the machine: half the
// CPUs not reserved for the dispatcher, at least one.
func autoPoolSize() int {
	n := (runtime.NumCPU() - 1) / 2
	if n < 1 {
		n = 1
	}
	return n
}

// Start acquires the instance lock, mints a generation, creates the region
// and launches both pools. On success the server accepts requests.
func (s *Server) Start() error {
	if s.state.Load() != stateStarting {
		return errors.New("server already started")
	}

	lock, err := AcquireInstanceLock(s.opts.LockFile)
	if err != nil {
		return err
	}

	// The generation must never repeat across incarnations. The registry
	// rowid guarantees that durably; without a registry the nanosecond
	// clock stands in.
	var reg *Registry
	generation := uint64(time.Now().UnixNano())
	if s.opts.RegistryPath != "" {
		reg, err = OpenRegistry(s.opts.RegistryPath, s.log)
		if err != nil {
			lock.Release()
			return err
		}
		generation, err = reg.Begin(os.Getpid(), s.opts.RegionName, s.opts.ShutdownMode.String())
		if err != nil {
			reg.Close()
			lock.Release()
			return err
		}
	}

	region, err := shm.CreateRegion(s.opts.RegionName, s.opts.Slots, generation)
	if err != nil {
		if reg != nil {
			reg.Close()
		}
		lock.Release()
		return fmt.Errorf("failed to create region: %w", err)
	}

	threads := s.opts.ThreadsPerPool
	if threads <= 0 {
		threads = autoPoolSize()
	}

	table := shm.NewTable(region)
	exec := NewExecutor(s.opts.SlowOpDelay)
	ctx, cancel := context.WithCancel(context.Background())

	s.lock = lock
	s.reg = reg
	s.region = region
	s.table = table
	s.cancel = cancel
	s.generation = generation
	s.threads = threads
	s.pools = []*Pool{
		NewPool("math", shm.ClassNumeric, threads, table, exec, s.log),
		NewPool("string", shm.ClassString, threads, table, exec, s.log),
	}
	for _, p := range s.pools {
		p.Start(ctx)
	}

	s.started = time.Now()
	s.state.Store(stateRunning)

	fmt.Fprintf(s.out, "[READY] pid=%d region=%s generation=%d threads=%d mode=%s\n",
		os.Getpid(), region.Path, generation, threads, s.opts.ShutdownMode)
	s.log.Info("server running",
		zap.String("region", region.Path),
		zap.Uint64("generation", generation),
		zap.Uint32("slots", s.opts.Slots),
		zap.Int("threads_per_pool", threads),
		zap.Stringer("shutdown_mode", s.opts.ShutdownMode))
	return nil
}

// Shutdown stops the server using the configured mode, reports the
// in-flight summary on the output stream, and tears down every resource
// Start acquired.
func (s *Server) Shutdown() (Summary, error) {
	target := stateDraining
	if s.opts.ShutdownMode == ModeImmediate {
		target = stateDiscarding
	}
	if !s.state.CompareAndSwap(stateRunning, target) {
		return Summary{}, ErrServerNotRunning
	}
	s.log.Info("shutdown requested", zap.Stringer("mode", s.opts.ShutdownMode))

	// Close the gate, then wait out allocators that raced the store.
	// Afterwards the set of submitted requests is final.
	s.region.Header().SetAccepting(false)
	if err := s.table.Quiesce(); err != nil {
		s.log.Warn("allocation mutex unavailable during shutdown", zap.Error(err))
	}

	summary := Summary{Mode: s.opts.ShutdownMode}
	switch s.opts.ShutdownMode {
	case ModeDrain:
		before := s.completedTotal()
		for _, p := range s.pools {
			p.Drain()
		}
		for _, p := range s.pools {
			p.Join()
		}
		s.cancel()
		summary.Finished = s.completedTotal() - before
		fmt.Fprintf(s.out, "[SHUTDOWN] drain complete: %d task(s) finished\n", summary.Finished)

	case ModeImmediate:
		s.cancel()
		for _, p := range s.pools {
			p.Stop()
		}
		for _, p := range s.pools {
			p.Join()
		}
		summary.Discarded = uint64(s.table.Occupancy().InFlight())
		fmt.Fprintf(s.out, "[SHUTDOWN] immediate: %d task(s) discarded\n", summary.Discarded)
	}

	if s.reg != nil {
		if err := s.reg.Finish(s.generation, summary.Finished, summary.Discarded); err != nil {
			s.log.Warn("failed to record shutdown", zap.Error(err))
		}
		if err := s.reg.Close(); err != nil {
			s.log.Warn("failed to close registry", zap.Error(err))
		}
	}

	// Unlink before unmapping: attached clients keep their mappings, new
	// attach attempts find no region.
	if err := s.region.Unlink(); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to unlink region", zap.Error(err))
	}
	if err := s.region.Close(); err != nil {
		s.log.Warn("failed to close region", zap.Error(err))
	}
	if err := s.lock.Release(); err != nil {
		s.log.Warn("failed to release instance lock", zap.Error(err))
	}

	s.state.Store(stateStopped)
	s.log.Info("server stopped",
		zap.Uint64("finished", summary.Finished),
		zap.Uint64("discarded", summary.Discarded))
	return summary, nil
}

// ReportStatus writes the status report to the output stream without
// touching shared state.
func (s *Server) ReportStatus() error {
	switch s.state.Load() {
	case stateRunning, stateDraining, stateDiscarding:
	default:
		return ErrServerNotRunning
	}
	snap := s.Snapshot()
	if s.opts.StatusJSON {
		return snap.WriteJSON(s.out)
	}
	return snap.WriteText(s.out)
}

// Snapshot collects the current status.
func (s *Server) Snapshot() Snapshot {
	o := s.table.Occupancy()
	snap := Snapshot{
		PID:        os.Getpid(),
		Uptime:     formatUptime(time.Since(s.started)),
		Mode:       s.opts.ShutdownMode.String(),
		Generation: s.generation,
		Slots: SlotStatus{
			Free:     o.Free,
			Filled:   o.Filled,
			Claimed:  o.Claimed,
			Done:     o.Done,
			Capacity: s.table.Capacity(),
		},
	}
	for _, p := range s.pools {
		snap.Pools = append(snap.Pools, PoolStatus{
			Name:      p.Name(),
			Size:      p.Size(),
			Busy:      p.Busy(),
			Idle:      p.Size() - p.Busy(),
			Completed: p.Completed(),
		})
	}
	return snap
}

// Generation returns the incarnation id minted at Start.
func (s *Server) Generation() uint64 {
	return s.generation
}

// RegionPath returns the region file path, empty before Start.
func (s *Server) RegionPath() string {
	if s.region == nil {
		return ""
	}
	return s.region.Path
}

// Running reports whether the server accepts requests.
func (s *Server) Running() bool {
	return s.state.Load() == stateRunning
}

func (s *Server) completedTotal() uint64 {
	var n uint64
	for _, p := range s.pools {
		n += p.Completed()
	}
	return n
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"
)

// filterState mirrors BatchBuffer's CREATED -> RUNNING -> STOPPED
// lifecycle (spec §3: "a filter is either never-started,
// started-and-running, or stopped; a stopped filter cannot be restarted
// in place").
type filterState uint32

const (
	filterCreated filterState = iota
	filterRunning
	filterStopped
)

// WorkerFunc is the function a filter implementation supplies. It is
// run on its own goroutine by Filter.Start and must obey the worker
// contract documented there.
type WorkerFunc func(f *Filter)

// Filter is a named unit owning zero or more input BatchBuffers,
// non-owning references to downstream sink buffers, and a worker
// goroutine (spec §3, §4.2). It reduces every concrete filter
// implementation (generator, aligner, zoh, csv writer, ...) to a single
// WorkerFunc plus this shared lifecycle/connection/error surface.
type Filter struct {
	name     string
	filtType FilterType
	inputs   []*BatchBuffer
	output   BuffConfig // declared output shape, checked by SinkConnect

	mu       sync.Mutex
	sinks    []*BatchBuffer
	maxSinks int

	worker  WorkerFunc
	timeout time.Duration
	log     *zap.Logger

	state   atomix.Uint32
	running atomix.Bool
	wg      sync.WaitGroup

	workerErr atomic.Pointer[Error]
}

// NewFilter validates cfg, allocates cfg.NInputs owned input buffers
// (each shaped by cfg.Buff), and records worker for Start to spawn.
// Returns InvalidConfig synchronously on misconfiguration (spec §4.2).
func NewFilter(cfg FilterConfig, worker WorkerFunc) (*Filter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if worker == nil {
		return nil, NewInvalidConfig("NewFilter: worker must not be nil")
	}

	f := &Filter{
		name:     cfg.Name,
		filtType: cfg.Type,
		output:   cfg.Buff,
		maxSinks: cfg.MaxSinks,
		worker:   worker,
		timeout:  cfg.Timeout,
		log:      cfg.logger(),
	}

	if cfg.NInputs > 0 {
		f.inputs = make([]*BatchBuffer, cfg.NInputs)
		for i := range f.inputs {
			bb, err := NewBatchBuffer(cfg.Buff)
			if err != nil {
				return nil, err
			}
			f.inputs[i] = bb
		}
	}
	return f, nil
}

// Name returns the filter's configured name.
func (f *Filter) Name() string { return f.name }

// Type returns the filter's topological role.
func (f *Filter) Type() FilterType { return f.filtType }

// Inputs returns the filter's owned input buffers (empty for SOURCE).
func (f *Filter) Inputs() []*BatchBuffer { return f.inputs }

// Timeout returns the default blocking timeout for worker I/O.
func (f *Filter) Timeout() time.Duration { return f.timeout }

// Log returns the filter's structured logger (never nil).
func (f *Filter) Log() *zap.Logger { return f.log }

// Running reports whether the worker should keep looping. It turns
// false once Stop is called or the worker function has returned. Every
// worker implementation must check this at least once per iteration
// (spec §4.2 step 1, §5 cancellation).
func (f *Filter) Running() bool { return f.running.LoadAcquire() }

// Sinks returns a snapshot of currently connected sink buffers, in
// SinkConnect order.
func (f *Filter) Sinks() []*BatchBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*BatchBuffer, len(f.sinks))
	copy(out, f.sinks)
	return out
}

// SinkConnect binds downstream's BatchBuffer at outputIndex. It rejects
// a dtype or batch-capacity mismatch against the filter's declared
// output shape, an index outside [0, MaxSinks), or re-binding an
// already-connected index (spec §4.2, §9 "Shape negotiation": no raw,
// unchecked connect variant is offered).
func (f *Filter) SinkConnect(outputIndex int, downstream *BatchBuffer) error {
	if downstream == nil {
		return newErr(NullPointer, "SinkConnect")
	}
	if outputIndex < 0 || outputIndex >= f.maxSinks {
		return NewInvalidConfig("SinkConnect: output_index out of range")
	}
	if downstream.DType() != f.output.DType {
		return NewTypeMismatch(fmt.Sprintf("SinkConnect: dtype %s != %s", downstream.DType(), f.output.DType))
	}
	if downstream.BatchCapacity() != f.output.BatchCapacity() {
		return NewTypeMismatch("SinkConnect: batch_capacity_expo mismatch")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sinks) <= outputIndex {
		grown := make([]*BatchBuffer, f.maxSinks)
		copy(grown, f.sinks)
		f.sinks = grown
	}
	if f.sinks[outputIndex] != nil {
		return NewInvalidConfig("SinkConnect: output_index already bound")
	}
	f.sinks[outputIndex] = downstream
	return nil
}

// Start transitions the filter to running, starts every owned input
// buffer, and spawns the worker goroutine.
//
// # Worker contract
//
// Every WorkerFunc must:
//  1. Check f.Running() on every loop iteration and exit promptly when
//     false.
//  2. Consume inputs via GetTail(timeout): treat a Timeout error as a
//     reason to continue looping, a Stopped error as a reason to exit,
//     and a batch with Status==Complete as the start of its own
//     shutdown (after forwarding Complete to every sink).
//  3. Produce outputs via GetHead+Submit(timeout): treat Stopped or
//     FilterStopping as a reason to exit.
//  4. On an unrecoverable internal invariant violation, call
//     f.Fail(kind, msg) (or simply panic — Start recovers it) and
//     return.
//  5. Before exiting for any reason other than a fatal error, submit a
//     Complete sentinel to every connected sink (see ForwardComplete).
//
// This is a cooperative contract: Start does not mechanically enforce
// steps 2-3 and 5, only step 1 (via Running) and a safety net for step
// 4 (a panicking worker is recovered and latched into WorkerErr rather
// than crashing the process).
func (f *Filter) Start() error {
	if !f.state.CompareAndSwapAcqRel(uint32(filterCreated), uint32(filterRunning)) {
		return newErr(AlreadyRunning, "Start")
	}
	f.running.StoreRelease(true)
	for _, in := range f.inputs {
		in.Start()
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.running.StoreRelease(false)
		defer f.recoverPanic()
		f.worker(f)
	}()
	return nil
}

func (f *Filter) recoverPanic() {
	if r := recover(); r != nil {
		_, file, line, ok := runtime.Caller(3)
		if !ok {
			file, line = "unknown", 0
		}
		f.workerErr.CompareAndSwap(nil, &Error{
			Kind: InvalidConfig,
			Op:   fmt.Sprintf("worker panic: %v", r),
			File: file,
			Line: line,
		})
		f.log.Error("filter worker panicked", zap.String("filter", f.name), zap.Any("recover", r))
		f.running.StoreRelease(false)
	}
}

// Fail latches err as the filter's first-observed worker error, if one
// isn't already recorded. Worker implementations call this from step 4
// of the contract rather than panicking, when they want a clean kind
// instead of InvalidConfig.
func (f *Filter) Fail(kind ErrKind, msg string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "unknown", 0
	}
	e := &Error{Kind: kind, Op: msg, File: file, Line: line}
	f.workerErr.CompareAndSwap(nil, e)
	f.log.Error("filter worker failed", zap.String("filter", f.name), zap.String("kind", kind.String()), zap.String("msg", msg))
}

// WorkerErr returns the first error the worker observed, or nil if none
// has been recorded (spec §7 "user-visible failure behavior").
func (f *Filter) WorkerErr() *Error { return f.workerErr.Load() }

// Stop clears Running, stops every owned input buffer (unblocking any
// consumer parked in GetTail), and joins the worker goroutine.
// Idempotent.
func (f *Filter) Stop() {
	if !f.state.CompareAndSwapAcqRel(uint32(filterRunning), uint32(filterStopped)) {
		if f.state.LoadAcquire() == uint32(filterCreated) {
			// never started: nothing to join.
			f.state.StoreRelease(uint32(filterStopped))
		}
		return
	}
	f.running.StoreRelease(false)
	for _, in := range f.inputs {
		in.Stop()
	}
	f.wg.Wait()
}

// Deinit releases owned input buffers. Call after Stop.
func (f *Filter) Deinit() {
	for _, in := range f.inputs {
		in.Deinit()
	}
}

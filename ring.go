// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

import (
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// bufferState is the BatchBuffer lifecycle tag (spec §4.1's
// CREATED -> RUNNING -> STOPPED -> DEINIT state machine).
type bufferState uint32

const (
	stateCreated bufferState = iota
	stateRunning
	stateStopped
	stateDeinit
)

// BatchBuffer is an SPSC ring of pre-allocated Batch slots. Exactly one
// producer goroutine calls GetHead/Submit; exactly one consumer goroutine
// calls GetTail/DelTail. The mutex here protects only index mutation and
// condition-variable predicates — sample data itself is never touched
// while the mutex is held (spec §5).
type BatchBuffer struct {
	dtype    DType
	batchCap int
	ringCap  uint64 // power of two, slots[] length
	mask     uint64
	overflow OverflowPolicy

	slots []Batch

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	state    bufferState

	_ pad
	// head/tail are atomics, advanced only while mu is held, so
	// Occupancy/IsEmpty/IsFull can be read without taking the mutex, in
	// the spirit of the teacher's cached-index SPSC optimization; mu+cond
	// remain the source of truth for blocking coordination. Padded apart so the
	// producer's head writes and the consumer's tail writes never
	// false-share a cache line (see internal/layout).
	head atomix.Uint64
	_    pad
	tail atomix.Uint64
	_    pad

	droppedByProducer atomix.Uint64
	timeouts          atomix.Uint64
}

// pad occupies one cache line, used to separate hot fields that are
// written by different goroutines (here: the producer's head and the
// consumer's tail) so they never false-share, mirroring the teacher's
// own padding convention for SPSC ring fields.
type pad [64]byte

// NewBatchBuffer allocates a BatchBuffer per cfg. All Batch data regions
// are allocated here, once; the steady-state path never allocates again
// (spec §5).
func NewBatchBuffer(cfg BuffConfig) (*BatchBuffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ringCap := uint64(cfg.RingCapacity())
	batchCap := cfg.BatchCapacity()

	b := &BatchBuffer{
		dtype:    cfg.DType,
		batchCap: batchCap,
		ringCap:  ringCap,
		mask:     ringCap - 1,
		overflow: cfg.Overflow,
		slots:    make([]Batch, ringCap),
	}
	for i := range b.slots {
		b.slots[i] = newBatchData(cfg.DType, batchCap)
	}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b, nil
}

// DType returns the buffer's immutable element type.
func (b *BatchBuffer) DType() DType { return b.dtype }

// BatchCapacity returns each slot's sample capacity (2^BatchCapacityExpo).
func (b *BatchBuffer) BatchCapacity() int { return b.batchCap }

// RingCapacity returns the number of physical slots (one reserved empty).
func (b *BatchBuffer) RingCapacity() int { return int(b.ringCap) }

// Start transitions CREATED -> RUNNING. No-op if already running.
func (b *BatchBuffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateCreated {
		b.state = stateRunning
	}
}

// Stop transitions to STOPPED, waking every blocked producer and
// consumer exactly once via broadcast on both conditions. Idempotent:
// calling Stop twice has the same effect as once (spec §4.1, §8).
func (b *BatchBuffer) Stop() {
	b.mu.Lock()
	if b.state == stateRunning || b.state == stateCreated {
		b.state = stateStopped
		b.notFull.Broadcast()
		b.notEmpty.Broadcast()
	}
	b.mu.Unlock()
}

// Deinit releases buffer resources after Stop. Operations after Deinit
// are undefined; callers must not submit/get_tail concurrently with it.
func (b *BatchBuffer) Deinit() {
	b.mu.Lock()
	b.state = stateDeinit
	b.slots = nil
	b.mu.Unlock()
}

func (b *BatchBuffer) running() bool {
	return b.state == stateRunning || b.state == stateCreated
}

// Occupancy returns the number of live (unread) batches.
func (b *BatchBuffer) Occupancy() int {
	return int(b.head.LoadAcquire() - b.tail.LoadAcquire())
}

// IsEmpty reports whether Occupancy() == 0.
func (b *BatchBuffer) IsEmpty() bool { return b.Occupancy() == 0 }

// IsFull reports whether Occupancy() == RingCapacity()-1 (one slot is
// always reserved empty so full/empty are distinguishable).
func (b *BatchBuffer) IsFull() bool { return uint64(b.Occupancy()) >= b.mask }

// DroppedByProducer returns the count of batches discarded by an
// overflow policy (DropHead: newest discarded; DropTail: oldest evicted).
func (b *BatchBuffer) DroppedByProducer() uint64 { return b.droppedByProducer.LoadAcquire() }

// Timeouts returns the count of operations that returned Timeout.
func (b *BatchBuffer) Timeouts() uint64 { return b.timeouts.LoadAcquire() }

// GetHead returns a reference to the next writable slot. Always
// succeeds — the slot is pre-allocated — but its contents belong to the
// producer only until Submit is called.
func (b *BatchBuffer) GetHead() *Batch {
	head := b.head.LoadRelaxed()
	return &b.slots[head&b.mask]
}

// Submit advances head, publishing the slot GetHead most recently
// returned. Behavior on a full ring depends on the configured
// OverflowPolicy (spec §4.1):
//
//   - Block: waits up to timeout for room; returns Timeout or Stopped.
//   - DropHead: does not advance head; returns nil, increments
//     DroppedByProducer. The caller's just-written data is discarded —
//     the next GetHead call overwrites the same slot.
//   - DropTail: advances tail by one (discarding the oldest batch) to
//     make room, then advances head; returns nil, increments
//     DroppedByProducer.
func (b *BatchBuffer) Submit(timeout time.Duration) error {
	b.mu.Lock()
	if !b.running() {
		b.mu.Unlock()
		return NewStopped("Submit")
	}

	if uint64(b.Occupancy()) < b.mask {
		// fast path: room available.
		b.head.StoreRelease(b.head.LoadRelaxed() + 1)
		b.notEmpty.Signal()
		b.mu.Unlock()
		return nil
	}

	switch b.overflow {
	case DropHead:
		b.droppedByProducer.AddAcqRel(1)
		b.mu.Unlock()
		return nil
	case DropTail:
		b.tail.StoreRelease(b.tail.LoadRelaxed() + 1)
		b.head.StoreRelease(b.head.LoadRelaxed() + 1)
		b.droppedByProducer.AddAcqRel(1)
		b.notEmpty.Signal()
		b.mu.Unlock()
		return nil
	default: // Block
		b.mu.Unlock()
		if err := b.waitFor(b.notFull, timeout, func() bool {
			return uint64(b.Occupancy()) < b.mask
		}); err != nil {
			return err
		}
		b.mu.Lock()
		if !b.running() {
			b.mu.Unlock()
			return NewStopped("Submit")
		}
		b.head.StoreRelease(b.head.LoadRelaxed() + 1)
		b.notEmpty.Signal()
		b.mu.Unlock()
		return nil
	}
}

// forceSubmitComplete submits a Complete sentinel using the Block
// discipline regardless of the buffer's configured overflow policy, per
// spec §9's completion-under-DROP-policies rule: a COMPLETE sentinel
// must never be silently dropped. Used only by completion propagation.
func (b *BatchBuffer) forceSubmitComplete(timeout time.Duration) error {
	b.mu.Lock()
	if !b.running() {
		b.mu.Unlock()
		return NewStopped("Submit")
	}
	if uint64(b.Occupancy()) < b.mask {
		b.head.StoreRelease(b.head.LoadRelaxed() + 1)
		b.notEmpty.Signal()
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	if err := b.waitFor(b.notFull, timeout, func() bool {
		return uint64(b.Occupancy()) < b.mask
	}); err != nil {
		return err
	}
	b.mu.Lock()
	if !b.running() {
		b.mu.Unlock()
		return NewStopped("Submit")
	}
	b.head.StoreRelease(b.head.LoadRelaxed() + 1)
	b.notEmpty.Signal()
	b.mu.Unlock()
	return nil
}

// GetTail returns a reference to the oldest valid slot, blocking up to
// timeout if the ring is empty.
func (b *BatchBuffer) GetTail(timeout time.Duration) (*Batch, error) {
	b.mu.Lock()
	if !b.running() {
		b.mu.Unlock()
		return nil, NewStopped("GetTail")
	}
	if b.Occupancy() > 0 {
		tail := b.tail.LoadRelaxed()
		slot := &b.slots[tail&b.mask]
		b.mu.Unlock()
		return slot, nil
	}
	b.mu.Unlock()

	if err := b.waitFor(b.notEmpty, timeout, func() bool {
		return b.Occupancy() > 0
	}); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running() {
		return nil, NewStopped("GetTail")
	}
	tail := b.tail.LoadRelaxed()
	return &b.slots[tail&b.mask], nil
}

// DelTail advances tail, releasing the slot most recently returned by
// GetTail and waking a producer blocked in Submit.
func (b *BatchBuffer) DelTail() {
	b.mu.Lock()
	tail := b.tail.LoadRelaxed()
	b.slots[tail&b.mask].reset()
	b.tail.StoreRelease(tail + 1)
	b.notFull.Signal()
	b.mu.Unlock()
}

// waitFor blocks on cond until pred() is true, the buffer stops, or
// timeout elapses. It spins briefly first (code.hybscloud.com/spin),
// then parks on cond guarded by a deadline timer that broadcasts on
// expiry — sync.Cond has no native timeout, so a watchdog timer is the
// standard way to bound the wait without abandoning the mutex+cond
// shape spec §5 requires.
func (b *BatchBuffer) waitFor(cond *sync.Cond, timeout time.Duration, pred func() bool) error {
	sw := spin.Wait{}
	for i := 0; i < 64; i++ {
		b.mu.Lock()
		if !b.running() {
			b.mu.Unlock()
			return NewStopped("wait")
		}
		if pred() {
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		sw.Once()
	}

	if timeout <= 0 {
		b.timeouts.AddAcqRel(1)
		return NewTimeout("wait")
	}

	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		cond.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.running() && !pred() {
		if !time.Now().Before(deadline) {
			b.timeouts.AddAcqRel(1)
			return NewTimeout("wait")
		}
		cond.Wait()
	}
	if !b.running() {
		return NewStopped("wait")
	}
	if !pred() {
		b.timeouts.AddAcqRel(1)
		return NewTimeout("wait")
	}
	return nil
}

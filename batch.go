// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

// DType identifies the numeric element type a BatchBuffer carries. It is
// immutable after BatchBuffer init, and is the first thing SinkConnect
// checks when binding a producer's output to a downstream input.
type DType uint8

const (
	F32 DType = iota
	F64
	I32
	U32
)

func (d DType) String() string {
	switch d {
	case F32:
		return "F32"
	case F64:
		return "F64"
	case I32:
		return "I32"
	case U32:
		return "U32"
	default:
		return "UNKNOWN"
	}
}

// elemSize returns the size in bytes of one sample of this dtype.
func (d DType) elemSize() int {
	switch d {
	case F32, I32, U32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

// StatusCode tags a Batch as ordinary data, the end-of-stream sentinel,
// or a producer-set error condition carried in-band on the same channel
// data flows through (spec §4.3, §7).
type StatusCode uint8

const (
	// OK is an ordinary, non-sentinel batch.
	OK StatusCode = iota
	// Complete is the end-of-stream sentinel. Count must be 0.
	Complete
	// ErrStatus means the producer observed an error and is reporting
	// it in-band; the consumer should treat count as 0 and inspect the
	// producing filter's WorkerErr for detail.
	ErrStatus
)

// Batch is a fixed-capacity, pre-allocated region of samples of a single
// declared DType, plus timing and status metadata. Batches are never
// dynamically resized after BatchBuffer allocates them; the sample
// slice's backing array never changes after init (spec §3, §5: "no
// in-buffer copying", "data pointer never changes after init").
type Batch struct {
	// The sample data holds up to Capacity() samples; exactly one of the
	// typed slices below is non-nil, selected by the owning
	// BatchBuffer's DType at allocation time.
	f32 []float32
	f64 []float64
	i32 []int32
	u32 []uint32

	// Count is the number of valid samples from offset 0. Invariant:
	// for a non-sentinel batch, 1 <= Count <= Capacity(); for Complete,
	// Count == 0.
	Count int
	// TNs is the wall-agnostic start timestamp of sample 0.
	TNs uint64
	// PeriodNs is the nominal spacing between consecutive samples.
	PeriodNs uint64
	// BatchID is a producer-assigned monotonic sequence number.
	BatchID uint64
	// Status is OK, Complete, or ErrStatus.
	Status StatusCode
}

// F32 returns the batch's sample slice as float32. If the owning
// buffer's dtype is not F32 the returned slice is empty, so indexing it
// panics — callers know the dtype statically because they hold a
// reference to a BatchBuffer they configured themselves.
func (b *Batch) F32() []float32 { return b.f32[:cap(b.f32)] }

// F64 returns the batch's sample slice as float64.
func (b *Batch) F64() []float64 { return b.f64[:cap(b.f64)] }

// I32 returns the batch's sample slice as int32.
func (b *Batch) I32() []int32 { return b.i32[:cap(b.i32)] }

// U32 returns the batch's sample slice as uint32.
func (b *Batch) U32() []uint32 { return b.u32[:cap(b.u32)] }

// Capacity returns the number of samples this batch's backing array can
// hold, regardless of Count.
func (b *Batch) Capacity() int {
	switch {
	case b.f32 != nil:
		return cap(b.f32)
	case b.f64 != nil:
		return cap(b.f64)
	case b.i32 != nil:
		return cap(b.i32)
	case b.u32 != nil:
		return cap(b.u32)
	default:
		return 0
	}
}

// reset clears metadata (but never reallocates Data) so a recycled slot
// starts from a known state; called by DelTail, under the buffer mutex,
// just before it advances tail past this slot, never on the hot data
// path that a still-live consumer reference might be reading.
func (b *Batch) reset() {
	b.Count = 0
	b.TNs = 0
	b.PeriodNs = 0
	b.BatchID = 0
	b.Status = OK
}

// MarkComplete turns b into the end-of-stream sentinel: Count=0,
// Status=Complete. Timing metadata (TNs, PeriodNs, BatchID) is left as
// the caller set it, since a monotonic BatchID on the sentinel is still
// meaningful for consumers tracking gaps.
func (b *Batch) MarkComplete() {
	b.Count = 0
	b.Status = Complete
}

func newBatchData(dtype DType, capacity int) Batch {
	switch dtype {
	case F32:
		return Batch{f32: make([]float32, capacity)}
	case F64:
		return Batch{f64: make([]float64, capacity)}
	case I32:
		return Batch{i32: make([]int32, capacity)}
	case U32:
		return Batch{u32: make([]uint32, capacity)}
	default:
		return Batch{}
	}
}

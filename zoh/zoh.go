// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package zoh implements the zero-order-hold multi-input resampler
// filter: it merges N independently timed input streams onto one
// output grid by holding each input's most recently observed sample.
package zoh

import (
	"math"

	"bpipe.dev/bpipe"
	"code.hybscloud.com/atomix"
	"go.uber.org/zap"
)

// Config configures a ZOH filter.
type Config struct {
	bpipe.FilterConfig
	// OutputPeriodNs is the output grid spacing in nanoseconds.
	OutputPeriodNs uint64
	// DropOnUnderrun skips a tick entirely when any input consumed no new
	// sample for it, rather than emitting that input's held last value.
	// The underrun counter is incremented either way.
	DropOnUnderrun bool
}

// inputMetrics holds the externally-observable counters for one input,
// all updated only by the worker goroutine and read by any goroutine.
type inputMetrics struct {
	samplesProcessed   atomix.Uint64
	underrunCount      atomix.Uint64
	discontinuityCount atomix.Uint64
	lastValueBits      atomix.Uint64
	lastTNs            atomix.Uint64
	firstTNs           atomix.Uint64
	hasData            atomix.Bool
}

// inputState is one input's cursor into its BatchBuffer plus its
// metrics. cur/idx/lastBatchID/haveLastBatchID/terminal are touched
// only by the worker goroutine.
type inputState struct {
	metrics inputMetrics

	buf             *bpipe.BatchBuffer
	cur             *bpipe.Batch
	idx             int
	lastBatchID     uint64
	haveLastBatchID bool
	terminal        bool
	// dirty is set whenever consumeSample runs and cleared once the
	// main loop has used it to judge a tick's freshness; it survives
	// across the advanceInput call boundary so a sample consumed
	// during priming (or while catching up past several ticks) still
	// counts as fresh for the very next tick it covers.
	dirty bool
}

// ZOH is a MULTI_IN filter: the generic Filter lifecycle plus per-input
// state and metrics (spec §4.5).
type ZOH struct {
	*bpipe.Filter
	dtype          bpipe.DType
	outputPeriodNs uint64
	inputs         []*inputState
}

// SamplesProcessed returns the count of samples input i has contributed.
func (z *ZOH) SamplesProcessed(i int) uint64 { return z.inputs[i].metrics.samplesProcessed.LoadAcquire() }

// UnderrunCount returns how many ticks input i lacked fresh data for.
func (z *ZOH) UnderrunCount(i int) uint64 { return z.inputs[i].metrics.underrunCount.LoadAcquire() }

// DiscontinuityCount returns how many non-consecutive batch_id
// transitions input i has observed.
func (z *ZOH) DiscontinuityCount(i int) uint64 {
	return z.inputs[i].metrics.discontinuityCount.LoadAcquire()
}

// HasData reports whether input i has ever produced a sample.
func (z *ZOH) HasData(i int) bool { return z.inputs[i].metrics.hasData.LoadAcquire() }

// AvgInputRateHz estimates input i's sample rate from its observed
// timestamp span, or 0 if fewer than two samples have been seen.
func (z *ZOH) AvgInputRateHz(i int) float64 {
	st := z.inputs[i]
	n := st.metrics.samplesProcessed.LoadAcquire()
	if n < 2 {
		return 0
	}
	span := st.metrics.lastTNs.LoadAcquire() - st.metrics.firstTNs.LoadAcquire()
	if span == 0 {
		return 0
	}
	return float64(n-1) * 1e9 / float64(span)
}

// New builds a ZOH filter. It is a MULTI_IN filter with cfg.NInputs
// independently timed inputs, all sharing cfg.Buff's dtype, merged onto
// an OutputPeriodNs grid.
func New(cfg Config) (*ZOH, error) {
	cfg.Type = bpipe.MultiIn
	if cfg.NInputs < 1 {
		return nil, bpipe.NewInvalidConfig("zoh: n_inputs must be >= 1")
	}
	if cfg.OutputPeriodNs == 0 {
		return nil, bpipe.NewInvalidConfig("zoh: output_period_ns must be non-zero")
	}
	if cfg.Buff.DType > bpipe.U32 {
		return nil, bpipe.NewInvalidConfig("zoh: dtype must be numeric")
	}

	z := &ZOH{
		dtype:          cfg.Buff.DType,
		outputPeriodNs: cfg.OutputPeriodNs,
		inputs:         make([]*inputState, cfg.NInputs),
	}
	for i := range z.inputs {
		z.inputs[i] = &inputState{}
	}

	f, err := bpipe.NewFilter(cfg.FilterConfig, z.run(cfg))
	if err != nil {
		return nil, err
	}
	z.Filter = f
	for i, st := range z.inputs {
		st.buf = f.Inputs()[i]
	}
	return z, nil
}

// run builds the ZOH worker (spec §4.5's algorithm).
func (z *ZOH) run(cfg Config) bpipe.WorkerFunc {
	n := len(z.inputs)
	period := z.outputPeriodNs

	return func(f *bpipe.Filter) {
		primed := make([]bool, n)
		primedCount := 0
		var maxFirstT uint64

		for primedCount < n && f.Running() {
			for i, st := range z.inputs {
				if primed[i] {
					continue
				}
				b, err := st.buf.GetTail(f.Timeout())
				if err != nil {
					if bpipe.IsTimeout(err) {
						continue
					}
					bpipe.ForwardComplete(f.Sinks(), 0, 0, period, f.Timeout(), f.Log())
					return
				}
				if b.Status == bpipe.Complete {
					st.buf.DelTail()
					f.Fail(bpipe.InvalidConfig, "zoh: input completed before producing any sample")
					return
				}
				z.bindBatch(st, b)
				z.consumeSample(st, 0)
				t0 := st.metrics.lastTNs.LoadAcquire()
				if t0 > maxFirstT {
					maxFirstT = t0
				}
				st.metrics.firstTNs.StoreRelease(t0)
				primed[i] = true
				primedCount++
			}
		}
		if !f.Running() {
			bpipe.ForwardComplete(f.Sinks(), 0, 0, period, f.Timeout(), f.Log())
			return
		}

		nextOut := ceilToGrid(maxFirstT, period)

		var out *bpipe.Batch
		var outT uint64
		var outRows int
		var outBatchID uint64

		flush := func() {
			if out == nil || outRows == 0 {
				return
			}
			out.Count = outRows * n
			out.TNs = outT
			out.PeriodNs = period
			out.BatchID = outBatchID
			outBatchID++
			for _, sink := range f.Sinks() {
				if sink == nil {
					continue
				}
				if err := sink.Submit(f.Timeout()); err != nil {
					f.Log().Debug("zoh: sink submit stopped", zap.Error(err))
				}
			}
			out = nil
			outRows = 0
		}

		emitRow := func(values []float64, tns uint64) {
			if out == nil {
				var picked *bpipe.BatchBuffer
				for _, s := range f.Sinks() {
					if s != nil {
						picked = s
						break
					}
				}
				if picked == nil {
					return
				}
				out = picked.GetHead()
				outT = tns
				outRows = 0
			}
			base := outRows * n
			for col, v := range values {
				setSample(out, z.dtype, base+col, v)
			}
			outRows++
			if outRows*n >= out.Capacity() {
				flush()
			}
		}

		row := make([]float64, n)
		fresh := make([]bool, n)
		for f.Running() {
			for i, st := range z.inputs {
				z.advanceInput(f, st, nextOut)
				fresh[i] = st.dirty
				st.dirty = false
			}

			terminated := false
			for _, st := range z.inputs {
				if st.terminal {
					terminated = true
				}
			}
			if terminated {
				break
			}

			// A tick is an underrun for input i when it was served a
			// stale (held) value rather than a sample newly consumed
			// for this tick (spec §4.5: "hold the input's previous
			// last_value (same counter still incremented)").
			anyStale := false
			for i, st := range z.inputs {
				if !fresh[i] {
					anyStale = true
					st.metrics.underrunCount.AddAcqRel(1)
				}
			}
			if anyStale && cfg.DropOnUnderrun {
				nextOut += period
				continue
			}

			for i, st := range z.inputs {
				row[i] = math.Float64frombits(st.metrics.lastValueBits.LoadAcquire())
			}
			emitRow(row, nextOut)
			nextOut += period
		}

		flush()
		bpipe.ForwardComplete(f.Sinks(), outBatchID, nextOut, period, f.Timeout(), f.Log())
	}
}

// bindBatch records a freshly pulled batch as input st's cursor,
// detecting a non-consecutive batch_id (spec §4.5 "discontinuity
// detection").
func (z *ZOH) bindBatch(st *inputState, b *bpipe.Batch) {
	if st.haveLastBatchID && b.BatchID != st.lastBatchID+1 {
		st.metrics.discontinuityCount.AddAcqRel(1)
	}
	st.lastBatchID = b.BatchID
	st.haveLastBatchID = true
	st.cur = b
	st.idx = 0
}

// consumeSample records sample idx of st.cur as the input's latest
// observed value.
func (z *ZOH) consumeSample(st *inputState, idx int) {
	v := getSample(st.cur, z.dtype, idx)
	t := st.cur.TNs + uint64(idx)*st.cur.PeriodNs
	st.metrics.lastValueBits.StoreRelease(math.Float64bits(v))
	st.metrics.lastTNs.StoreRelease(t)
	st.metrics.hasData.StoreRelease(true)
	st.metrics.samplesProcessed.AddAcqRel(1)
	st.idx = idx + 1
	st.dirty = true
}

// advanceInput consumes samples from st until the next unconsumed
// sample's timestamp exceeds target, or no more data is immediately
// available (spec §4.5 "advance through its batch until the sample
// straddling next_out is found"). Each consumed sample marks st dirty;
// the caller judges this tick's freshness from that flag.
func (z *ZOH) advanceInput(f *bpipe.Filter, st *inputState, target uint64) {
	for {
		if st.cur != nil && st.idx < st.cur.Count {
			t := st.cur.TNs + uint64(st.idx)*st.cur.PeriodNs
			if t > target {
				return
			}
			z.consumeSample(st, st.idx)
			continue
		}

		if st.cur != nil {
			st.buf.DelTail()
			st.cur = nil
		}
		b, err := st.buf.GetTail(f.Timeout())
		if err != nil {
			if bpipe.IsTimeout(err) {
				return
			}
			st.terminal = true
			return
		}
		if b.Status == bpipe.Complete {
			st.buf.DelTail()
			st.terminal = true
			return
		}
		z.bindBatch(st, b)
	}
}

// ceilToGrid rounds t up to the nearest multiple of period.
func ceilToGrid(t, period uint64) uint64 {
	rem := t % period
	if rem == 0 {
		return t
	}
	return t - rem + period
}

func getSample(b *bpipe.Batch, dtype bpipe.DType, i int) float64 {
	switch dtype {
	case bpipe.F32:
		return float64(b.F32()[i])
	case bpipe.F64:
		return b.F64()[i]
	case bpipe.I32:
		return float64(b.I32()[i])
	case bpipe.U32:
		return float64(b.U32()[i])
	default:
		return 0
	}
}

func setSample(b *bpipe.Batch, dtype bpipe.DType, i int, v float64) {
	switch dtype {
	case bpipe.F32:
		b.F32()[i] = float32(v)
	case bpipe.F64:
		b.F64()[i] = v
	case bpipe.I32:
		b.I32()[i] = int32(v)
	case bpipe.U32:
		b.U32()[i] = uint32(v)
	}
}

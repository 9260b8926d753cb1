// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aligner implements the sample aligner filter: a phase-
// correcting interpolator that re-grids an input stream whose samples
// arrive at nominal period_ns but arbitrarily phased t_ns onto an
// aligned grid, where every output sample's t_ns is a multiple of
// period_ns.
package aligner

import (
	"bpipe.dev/bpipe"
	"code.hybscloud.com/atomix"
	"go.uber.org/zap"
)

// Method selects how an aligned output sample is computed from the
// surrounding input window.
type Method uint8

const (
	// MethodNearest picks whichever of prev/cur is temporally closer.
	MethodNearest Method = iota
	// MethodLinear interpolates linearly between prev and cur.
	MethodLinear
)

// Alignment selects how the first aligned output timestamp is derived
// from the first input batch's t_ns.
type Alignment uint8

const (
	// AlignNearest rounds to the nearest grid point.
	AlignNearest Alignment = iota
	// AlignBackward floors to the grid point at or before t_ns.
	AlignBackward
	// AlignForward ceils to the grid point at or after t_ns.
	AlignForward
)

// Boundary selects behavior before the first usable input pair exists.
type Boundary uint8

const (
	// BoundaryHold repeats the first observed value.
	BoundaryHold Boundary = iota
	// BoundaryDrop emits nothing until a real pair is available.
	BoundaryDrop
)

// Config configures a SampleAligner filter.
type Config struct {
	bpipe.FilterConfig
	Method    Method
	Alignment Alignment
	Boundary  Boundary
}

// Aligner is a SampleAligner filter: the generic Filter lifecycle plus
// the metrics spec §4.4 names.
type Aligner struct {
	*bpipe.Filter
	maxPhaseCorrectionNs atomix.Uint64
	samplesInterpolated  atomix.Uint64
	samplesEmitted       atomix.Uint64
}

// MaxPhaseCorrectionNs returns the largest phase offset (|t_ns mod
// period_ns|, folded to the alignment chosen) this aligner has
// corrected for.
func (a *Aligner) MaxPhaseCorrectionNs() uint64 { return a.maxPhaseCorrectionNs.LoadAcquire() }

// SamplesInterpolated returns the count of output samples computed via
// interpolation (as opposed to emitted verbatim, e.g. zero phase).
func (a *Aligner) SamplesInterpolated() uint64 { return a.samplesInterpolated.LoadAcquire() }

// SamplesEmitted returns the total count of output samples produced.
func (a *Aligner) SamplesEmitted() uint64 { return a.samplesEmitted.LoadAcquire() }

// New builds a SampleAligner filter. It is a MAP filter with exactly
// one input, shaped by cfg.Buff.
func New(cfg Config) (*Aligner, error) {
	cfg.Type = bpipe.Map
	cfg.NInputs = 1
	if cfg.Buff.DType > bpipe.U32 {
		return nil, bpipe.NewInvalidDType("aligner: dtype must be numeric")
	}

	a := &Aligner{}
	f, err := bpipe.NewFilter(cfg.FilterConfig, a.run(cfg))
	if err != nil {
		return nil, err
	}
	a.Filter = f
	return a, nil
}

// state is the sliding two-sample window the algorithm maintains
// (spec §4.4).
type state struct {
	haveWindow bool
	prevVal    float64
	prevT      uint64
	curVal     float64
	curT       uint64

	nextOut  uint64
	periodNs uint64
	started  bool

	batchID uint64
}

func (a *Aligner) run(cfg Config) bpipe.WorkerFunc {
	return func(f *bpipe.Filter) {
		in := f.Inputs()[0]
		var st state
		var out *bpipe.Batch
		var outIdx int
		var outT uint64

		flush := func() {
			if out == nil || outIdx == 0 {
				return
			}
			out.Count = outIdx
			out.TNs = outT
			out.PeriodNs = st.periodNs
			out.BatchID = st.batchID
			st.batchID++
			for _, sink := range f.Sinks() {
				if sink == nil {
					continue
				}
				if err := sink.Submit(f.Timeout()); err != nil {
					f.Log().Debug("aligner: sink submit stopped", zap.Error(err))
				}
			}
			out = nil
			outIdx = 0
		}

		emit := func(val float64, tns uint64, interpolated bool) {
			if out == nil {
				sinks := f.Sinks()
				var picked *bpipe.BatchBuffer
				for _, s := range sinks {
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
				outIdx = 0
			}
			setSample(out, in.DType(), outIdx, val)
			outIdx++
			a.samplesEmitted.AddAcqRel(1)
			if interpolated {
				a.samplesInterpolated.AddAcqRel(1)
			}
			if outIdx >= out.Capacity() {
				flush()
			}
		}

		for f.Running() {
			b, err := in.GetTail(f.Timeout())
			if err != nil {
				if bpipe.IsTimeout(err) {
					continue
				}
				flush()
				bpipe.ForwardComplete(f.Sinks(), st.batchID, st.nextOut, st.periodNs, f.Timeout(), f.Log())
				return
			}
			if b.Status == bpipe.Complete {
				in.DelTail()
				flush()
				bpipe.ForwardComplete(f.Sinks(), st.batchID, st.nextOut, st.periodNs, f.Timeout(), f.Log())
				return
			}
			if b.PeriodNs == 0 {
				f.Fail(bpipe.InvalidConfig, "aligner: period_ns must be non-zero")
				in.DelTail()
				return
			}
			if st.periodNs == 0 {
				st.periodNs = b.PeriodNs
			} else if st.periodNs != b.PeriodNs {
				f.Fail(bpipe.InvalidConfig, "aligner: period_ns changed mid-stream")
				in.DelTail()
				return
			}

			for i := 0; i < b.Count; i++ {
				val := getSample(b, in.DType(), i)
				t := b.TNs + uint64(i)*b.PeriodNs

				if !st.started {
					st.started = true
					st.nextOut = firstAlignedOut(t, b.PeriodNs, cfg.Alignment)
					correction := phaseCorrection(t, st.nextOut)
					bumpMax(&a.maxPhaseCorrectionNs, correction)

					st.curVal, st.curT = val, t
					for st.nextOut < st.curT {
						if cfg.Boundary == BoundaryHold {
							emit(st.curVal, st.nextOut, false)
						}
						st.nextOut += st.periodNs
					}
					continue
				}

				st.prevVal, st.prevT = st.curVal, st.curT
				st.curVal, st.curT = val, t
				st.haveWindow = true

				for st.nextOut <= st.curT {
					var v float64
					interpolated := true
					switch cfg.Method {
					case MethodLinear:
						if st.curT == st.prevT {
							v = st.curVal
						} else {
							frac := float64(st.nextOut-st.prevT) / float64(st.curT-st.prevT)
							v = st.prevVal + (st.curVal-st.prevVal)*frac
						}
						interpolated = st.nextOut != st.curT && st.nextOut != st.prevT
					default: // MethodNearest
						if st.nextOut-st.prevT <= st.curT-st.nextOut {
							v = st.prevVal
						} else {
							v = st.curVal
						}
						interpolated = st.nextOut != st.curT && st.nextOut != st.prevT
					}
					emit(v, st.nextOut, interpolated)
					st.nextOut += st.periodNs
				}
			}
			in.DelTail()
		}
		flush()
		bpipe.ForwardComplete(f.Sinks(), st.batchID, st.nextOut, st.periodNs, f.Timeout(), f.Log())
	}
}

// firstAlignedOut computes the first output timestamp satisfying
// t_ns mod period_ns == 0, per Alignment (spec §4.4).
func firstAlignedOut(t, period uint64, align Alignment) uint64 {
	rem := t % period
	if rem == 0 {
		return t
	}
	switch align {
	case AlignBackward:
		return t - rem
	case AlignForward:
		return t - rem + period
	default: // AlignNearest
		if rem*2 >= period {
			return t - rem + period
		}
		return t - rem
	}
}

func phaseCorrection(t, aligned uint64) uint64 {
	if t > aligned {
		return t - aligned
	}
	return aligned - t
}

// bumpMax performs a CAS-loop monotonic max update, per spec §9's
// "min/max latency updates use the standard CAS-loop pattern".
func bumpMax(v *atomix.Uint64, candidate uint64) {
	for {
		cur := v.LoadAcquire()
		if candidate <= cur {
			return
		}
		if v.CompareAndSwapAcqRel(cur, candidate) {
			return
		}
	}
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

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package leaf

import "bpipe.dev/bpipe"

// GainConfig configures a Gain filter.
type GainConfig struct {
	bpipe.FilterConfig
	// Factor multiplies every sample: out = in * Factor.
	Factor float64
}

// Gain is a MAP filter computing out = in * factor, standing in for the
// "arithmetic ops" leaf spec.md §1 places outside core scope but a
// connectable demo graph still needs (SPEC_FULL.md §10).
type Gain struct {
	*bpipe.Filter
}

// NewGain builds a Gain filter with exactly one input, shaped by cfg.Buff.
func NewGain(cfg GainConfig) (*Gain, error) {
	cfg.Type = bpipe.Map
	cfg.NInputs = 1
	if cfg.Buff.DType > bpipe.U32 {
		return nil, bpipe.NewInvalidConfig("leaf.Gain: dtype must be numeric")
	}

	g := &Gain{}
	f, err := bpipe.NewFilter(cfg.FilterConfig, g.run(cfg))
	if err != nil {
		return nil, err
	}
	g.Filter = f
	return g, nil
}

func (g *Gain) run(cfg GainConfig) bpipe.WorkerFunc {
	return func(f *bpipe.Filter) {
		in := f.Inputs()[0]
		for f.Running() {
			b, err := in.GetTail(f.Timeout())
			if err != nil {
				if bpipe.IsTimeout(err) {
					continue
				}
				bpipe.ForwardComplete(f.Sinks(), 0, 0, 0, f.Timeout(), f.Log())
				return
			}
			if b.Status == bpipe.Complete {
				in.DelTail()
				bpipe.ForwardComplete(f.Sinks(), b.BatchID, b.TNs, b.PeriodNs, f.Timeout(), f.Log())
				return
			}

			var picked *bpipe.BatchBuffer
			for _, s := range f.Sinks() {
				if s != nil {
					picked = s
					break
				}
			}
			if picked == nil {
				in.DelTail()
				continue
			}
			out := picked.GetHead()
			for i := 0; i < b.Count; i++ {
				setSample(out, in.DType(), i, getSample(b, in.DType(), i)*cfg.Factor)
			}
			out.Count = b.Count
			out.TNs = b.TNs
			out.PeriodNs = b.PeriodNs
			out.BatchID = b.BatchID
			in.DelTail()

			if err := picked.Submit(f.Timeout()); err != nil {
				bpipe.ForwardComplete(f.Sinks(), 0, 0, 0, f.Timeout(), f.Log())
				return
			}
		}
	}
}

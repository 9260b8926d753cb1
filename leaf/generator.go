// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package leaf provides minimal reference external collaborators — a
// SOURCE, a SINK, and a trivial MAP — sufficient to build a runnable
// demo graph. None of these are part of the core runtime (spec.md §4.6
// treats leaf producers/sinks as external); bpipe/cmd/bpipe-run wires
// them only for the CLI launcher.
package leaf

import (
	"math"

	"bpipe.dev/bpipe"
)

// Waveform selects Generator's output shape.
type Waveform uint8

const (
	// Sine emits Amplitude*sin(2*pi*FrequencyHz*t).
	Sine Waveform = iota
	// Ramp emits a sawtooth rising from 0 to Amplitude over 1/FrequencyHz.
	Ramp
)

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	bpipe.FilterConfig
	Waveform    Waveform
	FrequencyHz float64
	Amplitude   float64
	PeriodNs    uint64
	// NumBatches bounds how many batches are emitted before Generator
	// forwards Complete. Zero means unbounded (runs until Stop).
	NumBatches uint64
}

// Generator is a SOURCE filter emitting a synthetic signal, used to
// exercise a demo graph end-to-end (spec.md §4.6's "leaf producers
// originate batch_id from 0 and stamp t_ns monotonically").
type Generator struct {
	*bpipe.Filter
}

// NewGenerator builds a Generator filter. It has no inputs.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	cfg.Type = bpipe.Source
	cfg.NInputs = 0
	if cfg.PeriodNs == 0 {
		return nil, bpipe.NewInvalidConfig("leaf.Generator: period_ns must be non-zero")
	}
	if cfg.Buff.DType != bpipe.F32 && cfg.Buff.DType != bpipe.F64 {
		return nil, bpipe.NewInvalidConfig("leaf.Generator: dtype must be F32 or F64")
	}

	g := &Generator{}
	f, err := bpipe.NewFilter(cfg.FilterConfig, g.run(cfg))
	if err != nil {
		return nil, err
	}
	g.Filter = f
	return g, nil
}

func (g *Generator) run(cfg GeneratorConfig) bpipe.WorkerFunc {
	return func(f *bpipe.Filter) {
		var batchID, sampleIdx uint64
		for f.Running() {
			if cfg.NumBatches > 0 && batchID >= cfg.NumBatches {
				break
			}
			var picked *bpipe.BatchBuffer
			for _, s := range f.Sinks() {
				if s != nil {
					picked = s
					break
				}
			}
			if picked == nil {
				break
			}

			head := picked.GetHead()
			cap := head.Capacity()
			tNs := sampleIdx * cfg.PeriodNs
			for i := 0; i < cap; i++ {
				v := g.sample(cfg, sampleIdx+uint64(i))
				setSample(head, cfg.Buff.DType, i, v)
			}
			head.Count = cap
			head.TNs = tNs
			head.PeriodNs = cfg.PeriodNs
			head.BatchID = batchID

			if err := picked.Submit(f.Timeout()); err != nil {
				break
			}
			batchID++
			sampleIdx += uint64(cap)
		}
		bpipe.ForwardComplete(f.Sinks(), batchID, 0, cfg.PeriodNs, f.Timeout(), f.Log())
	}
}

func (g *Generator) sample(cfg GeneratorConfig, idx uint64) float64 {
	tSec := float64(idx) * float64(cfg.PeriodNs) / 1e9
	switch cfg.Waveform {
	case Ramp:
		period := 1 / cfg.FrequencyHz
		phase := math.Mod(tSec, period) / period
		return cfg.Amplitude * phase
	default: // Sine
		return cfg.Amplitude * math.Sin(2*math.Pi*cfg.FrequencyHz*tSec)
	}
}


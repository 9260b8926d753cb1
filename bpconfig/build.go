// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpconfig

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"bpipe.dev/bpipe"
	"bpipe.dev/bpipe/aligner"
	"bpipe.dev/bpipe/leaf"
	"bpipe.dev/bpipe/zoh"
)

// Node is the subset of every concrete filter's surface the graph
// needs: every wrapper type (leaf.Generator, leaf.Gain, leaf.CSVWriter,
// aligner.Aligner, zoh.ZOH) satisfies it by embedding *bpipe.Filter.
type Node interface {
	Name() string
	Inputs() []*bpipe.BatchBuffer
	SinkConnect(outputIndex int, downstream *bpipe.BatchBuffer) error
	Start() error
	Stop()
	Running() bool
	WorkerErr() *bpipe.Error
}

// Graph is a built, connected, but not-yet-started set of filters. order
// holds filters in the sequence Build encountered them in the TOML
// document, which Start/Stop treat as source-to-sink order (spec.md §5's
// "start in source->intermediate->sink order... stop in reverse").
type Graph struct {
	nodes   map[string]Node
	order   []string
	closers []func() error
}

// Node returns the named filter, or nil if no such filter was built.
func (g *Graph) Node(name string) Node { return g.nodes[name] }

// Start starts every filter in source-to-sink order. If any Start call
// fails, already-started filters are stopped in reverse before returning
// the error.
func (g *Graph) Start() error {
	started := 0
	for _, name := range g.order {
		if err := g.nodes[name].Start(); err != nil {
			for i := started - 1; i >= 0; i-- {
				g.nodes[g.order[i]].Stop()
			}
			return fmt.Errorf("bpconfig: start %q: %w", name, err)
		}
		started++
	}
	return nil
}

// Stop stops every filter in reverse (sink-to-source) order and closes
// any files Build opened (e.g. a CSVWriter's out_path).
func (g *Graph) Stop() {
	for i := len(g.order) - 1; i >= 0; i-- {
		g.nodes[g.order[i]].Stop()
	}
	for _, close := range g.closers {
		_ = close()
	}
}

// WorkerErrs returns every filter's WorkerErr, keyed by name, omitting
// filters that have none.
func (g *Graph) WorkerErrs() map[string]*bpipe.Error {
	out := make(map[string]*bpipe.Error)
	for name, n := range g.nodes {
		if err := n.WorkerErr(); err != nil {
			out[name] = err
		}
	}
	return out
}

// Build constructs every filter named in cfg.Filters, wires cfg.Connections
// via SinkConnect, and returns the resulting Graph unstarted. metrics may
// be nil to skip Prometheus wiring entirely.
func Build(cfg *GraphConfig, metrics *bpipe.MetricsRegistry) (*Graph, error) {
	g := &Graph{nodes: make(map[string]Node, len(cfg.Filters))}

	for _, spec := range cfg.Filters {
		if spec.Name == "" {
			return nil, fmt.Errorf("bpconfig: filter with empty name")
		}
		if _, dup := g.nodes[spec.Name]; dup {
			return nil, fmt.Errorf("bpconfig: duplicate filter name %q", spec.Name)
		}
		n, closer, err := buildFilter(spec, metrics)
		if err != nil {
			return nil, fmt.Errorf("bpconfig: build %q: %w", spec.Name, err)
		}
		g.nodes[spec.Name] = n
		g.order = append(g.order, spec.Name)
		if closer != nil {
			g.closers = append(g.closers, closer)
		}
	}

	for _, conn := range cfg.Connections {
		from, ok := g.nodes[conn.From]
		if !ok {
			return nil, fmt.Errorf("bpconfig: connection from unknown filter %q", conn.From)
		}
		to, ok := g.nodes[conn.To]
		if !ok {
			return nil, fmt.Errorf("bpconfig: connection to unknown filter %q", conn.To)
		}
		inputs := to.Inputs()
		if conn.ToInput < 0 || conn.ToInput >= len(inputs) {
			return nil, fmt.Errorf("bpconfig: connection %s->%s: to_input %d out of range", conn.From, conn.To, conn.ToInput)
		}
		if err := from.SinkConnect(conn.FromOutput, inputs[conn.ToInput]); err != nil {
			return nil, fmt.Errorf("bpconfig: connect %s->%s: %w", conn.From, conn.To, err)
		}
	}

	return g, nil
}

func buildFilter(spec FilterSpec, metrics *bpipe.MetricsRegistry) (Node, func() error, error) {
	fc, err := spec.filterConfig()
	if err != nil {
		return nil, nil, err
	}

	var n Node
	var closer func() error

	switch spec.Kind {
	case "generator":
		waveform, err := parseWaveform(spec.Waveform)
		if err != nil {
			return nil, nil, err
		}
		n, err = leaf.NewGenerator(leaf.GeneratorConfig{
			FilterConfig: fc,
			Waveform:     waveform,
			FrequencyHz:  spec.FrequencyHz,
			Amplitude:    spec.Amplitude,
			PeriodNs:     spec.PeriodNs,
			NumBatches:   spec.NumBatches,
		})
		if err != nil {
			return nil, nil, err
		}

	case "gain":
		g, err := leaf.NewGain(leaf.GainConfig{FilterConfig: fc, Factor: spec.Factor})
		if err != nil {
			return nil, nil, err
		}
		n = g

	case "csvwriter":
		if spec.OutPath == "" {
			return nil, nil, fmt.Errorf("csvwriter %q: out_path must be set", spec.Name)
		}
		file, err := os.Create(spec.OutPath)
		if err != nil {
			return nil, nil, fmt.Errorf("csvwriter %q: %w", spec.Name, err)
		}
		w, err := leaf.NewCSVWriter(leaf.CSVWriterConfig{
			FilterConfig:     fc,
			Writer:           file,
			MaxFileSizeBytes: spec.MaxFileSizeBytes,
		})
		if err != nil {
			file.Close()
			return nil, nil, err
		}
		n, closer = w, file.Close

	case "aligner":
		method, err := parseMethod(spec.Method)
		if err != nil {
			return nil, nil, err
		}
		alignment, err := parseAlignment(spec.Alignment)
		if err != nil {
			return nil, nil, err
		}
		boundary, err := parseBoundary(spec.Boundary)
		if err != nil {
			return nil, nil, err
		}
		a, err := aligner.New(aligner.Config{
			FilterConfig: fc,
			Method:       method,
			Alignment:    alignment,
			Boundary:     boundary,
		})
		if err != nil {
			return nil, nil, err
		}
		registerAlignerMetrics(metrics, spec.Name, a)
		n = a

	case "zoh":
		z, err := zoh.New(zoh.Config{
			FilterConfig:   fc,
			OutputPeriodNs: spec.OutputPeriodNs,
			DropOnUnderrun: spec.DropOnUnderrun,
		})
		if err != nil {
			return nil, nil, err
		}
		registerZOHMetrics(metrics, spec.Name, z)
		n = z

	default:
		return nil, nil, fmt.Errorf("unknown kind %q", spec.Kind)
	}

	registerBufferMetrics(metrics, spec.Name, n)
	return n, closer, nil
}

// registerBufferMetrics registers one bpipe.BufferCollector per owned
// input buffer, exposing spec.md §5's dropped_by_producer/timeouts
// counters regardless of filter kind.
func registerBufferMetrics(metrics *bpipe.MetricsRegistry, name string, n Node) {
	if metrics == nil {
		return
	}
	for i, in := range n.Inputs() {
		label := fmt.Sprintf("%s.%d", name, i)
		_ = metrics.Register(bpipe.NewBufferCollector(label, in))
	}
}

func registerAlignerMetrics(metrics *bpipe.MetricsRegistry, name string, a *aligner.Aligner) {
	if metrics == nil {
		return
	}
	_ = metrics.Register(bpipe.NewFuncCollector(
		prometheus.Labels{"aligner": name},
		bpipe.FuncGauge{Name: "bpipe_aligner_max_phase_correction_ns", Help: "Largest phase correction applied.", Value: func() float64 { return float64(a.MaxPhaseCorrectionNs()) }},
		bpipe.FuncGauge{Name: "bpipe_aligner_samples_interpolated_total", Help: "Output samples computed via interpolation.", Value: func() float64 { return float64(a.SamplesInterpolated()) }},
		bpipe.FuncGauge{Name: "bpipe_aligner_samples_emitted_total", Help: "Total output samples emitted.", Value: func() float64 { return float64(a.SamplesEmitted()) }},
	))
}

func registerZOHMetrics(metrics *bpipe.MetricsRegistry, name string, z *zoh.ZOH) {
	if metrics == nil {
		return
	}
	for i := range z.Inputs() {
		i := i
		_ = metrics.Register(bpipe.NewFuncCollector(
			prometheus.Labels{"zoh": name, "input": fmt.Sprintf("%d", i)},
			bpipe.FuncGauge{Name: "bpipe_zoh_underrun_total", Help: "Ticks this input lacked fresh data for.", Value: func() float64 { return float64(z.UnderrunCount(i)) }},
			bpipe.FuncGauge{Name: "bpipe_zoh_discontinuity_total", Help: "Non-consecutive batch_id transitions observed.", Value: func() float64 { return float64(z.DiscontinuityCount(i)) }},
			bpipe.FuncGauge{Name: "bpipe_zoh_samples_processed_total", Help: "Samples this input has contributed.", Value: func() float64 { return float64(z.SamplesProcessed(i)) }},
		))
	}
}

func parseWaveform(s string) (leaf.Waveform, error) {
	switch s {
	case "", "sine", "SINE":
		return leaf.Sine, nil
	case "ramp", "RAMP":
		return leaf.Ramp, nil
	default:
		return 0, fmt.Errorf("unknown waveform %q", s)
	}
}

func parseMethod(s string) (aligner.Method, error) {
	switch s {
	case "", "nearest", "NEAREST":
		return aligner.MethodNearest, nil
	case "linear", "LINEAR":
		return aligner.MethodLinear, nil
	default:
		return 0, fmt.Errorf("unknown aligner method %q", s)
	}
}

func parseAlignment(s string) (aligner.Alignment, error) {
	switch s {
	case "", "nearest", "NEAREST":
		return aligner.AlignNearest, nil
	case "backward", "BACKWARD":
		return aligner.AlignBackward, nil
	case "forward", "FORWARD":
		return aligner.AlignForward, nil
	default:
		return 0, fmt.Errorf("unknown alignment %q", s)
	}
}

func parseBoundary(s string) (aligner.Boundary, error) {
	switch s {
	case "", "hold", "HOLD":
		return aligner.BoundaryHold, nil
	case "drop", "DROP":
		return aligner.BoundaryDrop, nil
	default:
		return 0, fmt.Errorf("unknown boundary %q", s)
	}
}

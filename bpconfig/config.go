// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bpconfig loads a graph of filters from a TOML file. It is the
// one place spec.md §6's "no file format is part of the core" boundary
// is crossed: bpipe, bpipe/aligner, and bpipe/zoh never import it.
package bpconfig

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"bpipe.dev/bpipe"
)

// BuffSpec is the TOML shape of a bpipe.BuffConfig.
type BuffSpec struct {
	DType             string `toml:"dtype"`
	BatchCapacityExpo uint8  `toml:"batch_capacity_expo"`
	RingCapacityExpo  uint8  `toml:"ring_capacity_expo"`
	Overflow          string `toml:"overflow"`
}

func (s BuffSpec) toBuffConfig() (bpipe.BuffConfig, error) {
	dtype, err := parseDType(s.DType)
	if err != nil {
		return bpipe.BuffConfig{}, err
	}
	overflow, err := parseOverflow(s.Overflow)
	if err != nil {
		return bpipe.BuffConfig{}, err
	}
	return bpipe.BuffConfig{
		DType:             dtype,
		BatchCapacityExpo: s.BatchCapacityExpo,
		RingCapacityExpo:  s.RingCapacityExpo,
		Overflow:          overflow,
	}, nil
}

// FilterSpec is one [[filters]] table. Kind selects which fields below
// apply; unused fields are simply left at their zero value.
type FilterSpec struct {
	Name      string   `toml:"name"`
	Kind      string   `toml:"kind"`
	Buff      BuffSpec `toml:"buff"`
	NInputs   int      `toml:"n_inputs"`
	MaxSinks  int      `toml:"max_sinks"`
	TimeoutMs int      `toml:"timeout_ms"`

	// leaf.Generator
	Waveform    string  `toml:"waveform"`
	FrequencyHz float64 `toml:"frequency_hz"`
	Amplitude   float64 `toml:"amplitude"`
	PeriodNs    uint64  `toml:"period_ns"`
	NumBatches  uint64  `toml:"num_batches"`

	// leaf.Gain
	Factor float64 `toml:"factor"`

	// leaf.CSVWriter
	OutPath          string `toml:"out_path"`
	MaxFileSizeBytes int64  `toml:"max_file_size_bytes"`

	// aligner.Aligner
	Method    string `toml:"method"`
	Alignment string `toml:"alignment"`
	Boundary  string `toml:"boundary"`

	// zoh.ZOH
	OutputPeriodNs uint64 `toml:"output_period_ns"`
	DropOnUnderrun bool   `toml:"drop_on_underrun"`
}

func (s FilterSpec) timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func (s FilterSpec) filterConfig() (bpipe.FilterConfig, error) {
	buff, err := s.Buff.toBuffConfig()
	if err != nil {
		return bpipe.FilterConfig{}, fmt.Errorf("filter %q: %w", s.Name, err)
	}
	return bpipe.FilterConfig{
		Name:     s.Name,
		NInputs:  s.NInputs,
		Buff:     buff,
		MaxSinks: s.MaxSinks,
		Timeout:  s.timeout(),
	}, nil
}

// ConnectionSpec is one [[connections]] table, binding an upstream
// filter's output slot to a downstream filter's input buffer.
type ConnectionSpec struct {
	From       string `toml:"from"`
	FromOutput int    `toml:"from_output"`
	To         string `toml:"to"`
	ToInput    int    `toml:"to_input"`
}

// GraphConfig is the top-level TOML document shape: a list of filters
// and the connections binding their outputs to downstream inputs.
type GraphConfig struct {
	Filters     []FilterSpec     `toml:"filters"`
	Connections []ConnectionSpec `toml:"connections"`
}

// Load parses path as a GraphConfig.
func Load(path string) (*GraphConfig, error) {
	var cfg GraphConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("bpconfig: decode %s: %w", path, err)
	}
	return &cfg, nil
}

func parseDType(s string) (bpipe.DType, error) {
	switch s {
	case "F32", "f32":
		return bpipe.F32, nil
	case "F64", "f64":
		return bpipe.F64, nil
	case "I32", "i32":
		return bpipe.I32, nil
	case "U32", "u32":
		return bpipe.U32, nil
	default:
		return 0, fmt.Errorf("bpconfig: unknown dtype %q", s)
	}
}

func parseOverflow(s string) (bpipe.OverflowPolicy, error) {
	switch s {
	case "", "BLOCK", "block":
		return bpipe.Block, nil
	case "DROP_HEAD", "drop_head":
		return bpipe.DropHead, nil
	case "DROP_TAIL", "drop_tail":
		return bpipe.DropTail, nil
	default:
		return 0, fmt.Errorf("bpconfig: unknown overflow policy %q", s)
	}
}

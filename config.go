// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

import (
	"time"

	"go.uber.org/zap"
)

// BuffConfig configures a BatchBuffer (spec §6).
type BuffConfig struct {
	// DType is the element type carried by every slot.
	DType DType
	// BatchCapacityExpo sets each slot's sample capacity to 2^expo.
	// Must be in [1, 16].
	BatchCapacityExpo uint8
	// RingCapacityExpo sets the ring to 2^expo slots (one of which is
	// reserved empty). Must be in [1, 16].
	RingCapacityExpo uint8
	// Overflow selects the policy applied when Submit finds the ring
	// full. Zero value is Block.
	Overflow OverflowPolicy
}

// BatchCapacity returns 2^BatchCapacityExpo.
func (c BuffConfig) BatchCapacity() int {
	return 1 << c.BatchCapacityExpo
}

// RingCapacity returns 2^RingCapacityExpo, the number of physical slots
// (one of which is always kept empty).
func (c BuffConfig) RingCapacity() int {
	return 1 << c.RingCapacityExpo
}

func (c BuffConfig) validate() error {
	if c.BatchCapacityExpo < 1 || c.BatchCapacityExpo > 16 {
		return NewInvalidConfig("BuffConfig.BatchCapacityExpo out of [1,16]")
	}
	if c.RingCapacityExpo < 1 || c.RingCapacityExpo > 16 {
		return NewInvalidConfig("BuffConfig.RingCapacityExpo out of [1,16]")
	}
	return nil
}

// FilterConfig is the configuration shared by every filter kind (spec §6).
// Filter-specific configs (aligner.Config, zoh.Config) embed this.
type FilterConfig struct {
	// Name identifies the filter in logs, metrics, and worker_err
	// reporting.
	Name string
	// Type classifies the filter for documentation/validation purposes;
	// the base does not itself enforce behavior from it beyond
	// rejecting a SOURCE filter with NInputs != 0.
	Type FilterType
	// NInputs is the number of owned input BatchBuffers to allocate.
	// Zero for SOURCE filters.
	NInputs int
	// Buff configures every owned input buffer identically and is also
	// the declared output shape SinkConnect checks downstream buffers
	// against. There is no per-input shape: aligner and zoh allocate all
	// of their inputs from this one shape too.
	Buff BuffConfig
	// MaxSinks bounds how many downstream buffers SinkConnect accepts.
	MaxSinks int
	// Timeout is the default blocking timeout the worker applies to
	// GetTail/Submit calls when it doesn't pass an explicit one.
	Timeout time.Duration
	// Log receives structured lifecycle events. Defaults to a no-op
	// logger when nil, so callers that don't care about logging never
	// need to construct one.
	Log *zap.Logger
}

// FilterType classifies a filter's topological role (spec §3).
type FilterType uint8

const (
	Source FilterType = iota
	Map
	MultiIn
	Sink
)

func (t FilterType) String() string {
	switch t {
	case Source:
		return "SOURCE"
	case Map:
		return "MAP"
	case MultiIn:
		return "MULTI_IN"
	case Sink:
		return "SINK"
	default:
		return "UNKNOWN"
	}
}

func (c FilterConfig) validate() error {
	if c.Name == "" {
		return NewInvalidConfig("FilterConfig.Name must not be empty")
	}
	if c.NInputs < 0 {
		return NewInvalidConfig("FilterConfig.NInputs must be >= 0")
	}
	if c.Type == Source && c.NInputs != 0 {
		return NewInvalidConfig("SOURCE filters must have NInputs == 0")
	}
	if c.MaxSinks < 0 {
		return NewInvalidConfig("FilterConfig.MaxSinks must be >= 0")
	}
	return nil
}

func (c FilterConfig) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

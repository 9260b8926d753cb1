// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bpipe provides a real-time, in-process pipeline runtime for
// sample-oriented numeric streams (audio, telemetry, signal processing).
//
// Producers, transforms, and sinks ("filters") exchange fixed-shape
// batches of samples through bounded single-producer/single-consumer
// ring buffers ([BatchBuffer]). Each filter owns a worker goroutine and
// composes with others only through these buffers — there is no central
// scheduler.
//
// # Quick Start
//
// Build a buffer, wrap a worker function in a [Filter], connect it to a
// downstream sink, and start both:
//
//	shape := bpipe.BuffConfig{
//		DType:             bpipe.F32,
//		BatchCapacityExpo: 6,
//		RingCapacityExpo:  4,
//		Overflow:          bpipe.Block,
//	}
//
//	src, _ := bpipe.NewFilter(bpipe.FilterConfig{
//		Name:     "gen",
//		Type:     bpipe.Source,
//		Buff:     shape, // declared output shape, checked by SinkConnect
//		MaxSinks: 1,
//		Timeout:  5 * time.Millisecond,
//	}, myGeneratorWorker)
//
//	dst, _ := bpipe.NewBatchBuffer(shape)
//
//	_ = src.SinkConnect(0, dst)
//	_ = src.Start()
//	defer src.Stop()
//
// # Worker Contract
//
// Every filter implementation must obey the contract in [Filter.Start]'s
// documentation: check running on each iteration, treat [Timeout] as a
// reason to continue, [Stopped] as a reason to exit, forward [Complete]
// to every sink before exiting for any non-fatal reason.
//
// # Concurrency
//
// Each [BatchBuffer] has exactly one producer goroutine and one consumer
// goroutine. Cross-filter mutable sharing is forbidden; the only shared
// state between filters is the BatchBuffer itself, guarded by a mutex
// and two condition variables (not-full, not-empty). Counters are
// lock-free atomics from [code.hybscloud.com/atomix].
package bpipe

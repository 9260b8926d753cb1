// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zoh_test

import (
	"testing"
	"time"

	"bpipe.dev/bpipe"
	"bpipe.dev/bpipe/zoh"
)

// TestTwoInputInterleave is scenario S6: input A at 1kHz (values 1..32),
// input B at 800Hz (values 100..139), output at 500Hz. Rows must
// interleave [a,b] with t_ns increasing by the output period per row.
func TestTwoInputInterleave(t *testing.T) {
	z, err := zoh.New(zoh.Config{
		FilterConfig: bpipe.FilterConfig{
			Name:     "zoh",
			Buff:     bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 6, RingCapacityExpo: 3},
			NInputs:  2,
			MaxSinks: 1,
			Timeout:  20 * time.Millisecond,
		},
		OutputPeriodNs: 2_000_000,
	})
	if err != nil {
		t.Fatalf("zoh.New: %v", err)
	}
	out, err := bpipe.NewBatchBuffer(bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 6, RingCapacityExpo: 4})
	if err != nil {
		t.Fatalf("NewBatchBuffer: %v", err)
	}
	if err := z.SinkConnect(0, out); err != nil {
		t.Fatalf("SinkConnect: %v", err)
	}
	out.Start()
	if err := z.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer z.Stop()

	inA, inB := z.Inputs()[0], z.Inputs()[1]
	inA.Start()
	inB.Start()

	submit := func(buf *bpipe.BatchBuffer, tns, period uint64, batchID uint64, values []float32) {
		t.Helper()
		head := buf.GetHead()
		row := head.F32()
		copy(row, values)
		head.Count = len(values)
		head.TNs = tns
		head.PeriodNs = period
		head.BatchID = batchID
		if err := buf.Submit(time.Second); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	valsA := make([]float32, 32)
	for i := range valsA {
		valsA[i] = float32(i + 1)
	}
	valsB := make([]float32, 40)
	for i := range valsB {
		valsB[i] = float32(i + 100)
	}
	submit(inA, 0, 1_000_000, 0, valsA)
	submit(inB, 0, 1_250_000, 0, valsB)

	b, err := out.GetTail(time.Second)
	if err != nil {
		t.Fatalf("GetTail: %v", err)
	}
	row := b.F32()
	if b.PeriodNs != 2_000_000 {
		t.Fatalf("output period_ns = %d, want 2000000", b.PeriodNs)
	}
	if b.Count%2 != 0 {
		t.Fatalf("output count %d not a multiple of 2", b.Count)
	}
	prevT := b.TNs
	for r := 0; r < b.Count/2; r++ {
		a, bb := row[r*2], row[r*2+1]
		if a < 1 || a > 32 {
			t.Fatalf("row %d: a=%v out of [1,32]", r, a)
		}
		if bb < 100 || bb > 139 {
			t.Fatalf("row %d: b=%v out of [100,139]", r, bb)
		}
		tns := b.TNs + uint64(r)*b.PeriodNs
		if r > 0 && tns != prevT+2_000_000 {
			t.Fatalf("row %d: t_ns jumped by %d, want 2000000", r, tns-prevT)
		}
		prevT = tns
	}
}

// TestDiscontinuityDetection verifies a non-consecutive batch_id on an
// input bumps that input's discontinuity counter (spec §4.5
// "discontinuity detection") without otherwise disrupting output.
func TestDiscontinuityDetection(t *testing.T) {
	z, err := zoh.New(zoh.Config{
		FilterConfig: bpipe.FilterConfig{
			Name:     "zoh",
			Buff:     bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 4, RingCapacityExpo: 4},
			NInputs:  2,
			MaxSinks: 1,
			Timeout:  20 * time.Millisecond,
		},
		OutputPeriodNs: 1_000_000,
	})
	if err != nil {
		t.Fatalf("zoh.New: %v", err)
	}
	out, _ := bpipe.NewBatchBuffer(bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 4, RingCapacityExpo: 4})
	if err := z.SinkConnect(0, out); err != nil {
		t.Fatalf("SinkConnect: %v", err)
	}
	out.Start()
	if err := z.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer z.Stop()

	inA, inB := z.Inputs()[0], z.Inputs()[1]
	inA.Start()
	inB.Start()

	submit := func(buf *bpipe.BatchBuffer, tns uint64, batchID uint64, v float32) {
		t.Helper()
		head := buf.GetHead()
		head.F32()[0] = v
		head.Count = 1
		head.TNs = tns
		head.PeriodNs = 1_000_000
		head.BatchID = batchID
		if err := buf.Submit(time.Second); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	submit(inA, 0, 0, 1)
	submit(inB, 0, 0, 100)
	if _, err := out.GetTail(time.Second); err != nil {
		t.Fatalf("GetTail: %v", err)
	}
	out.DelTail()

	// input A jumps from batch_id 0 straight to 5, skipping 1-4.
	submit(inA, 1_000_000, 5, 2)
	submit(inB, 1_000_000, 1, 101)

	deadline := time.Now().Add(time.Second)
	for z.DiscontinuityCount(0) == 0 && time.Now().Before(deadline) {
		if _, err := out.GetTail(10 * time.Millisecond); err == nil {
			out.DelTail()
		}
	}
	if got := z.DiscontinuityCount(0); got != 1 {
		t.Fatalf("DiscontinuityCount(0) = %d, want 1", got)
	}
	if got := z.DiscontinuityCount(1); got != 0 {
		t.Fatalf("DiscontinuityCount(1) = %d, want 0", got)
	}
}

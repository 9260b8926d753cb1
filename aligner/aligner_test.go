// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aligner_test

import (
	"testing"
	"time"

	"bpipe.dev/bpipe"
	"bpipe.dev/bpipe/aligner"
)

func newGraph(t *testing.T, method aligner.Method, align aligner.Alignment) (*aligner.Aligner, *bpipe.BatchBuffer) {
	t.Helper()
	a, err := aligner.New(aligner.Config{
		FilterConfig: bpipe.FilterConfig{
			Name:     "aligner",
			Buff:     bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 6, RingCapacityExpo: 3},
			MaxSinks: 1,
			Timeout:  20 * time.Millisecond,
		},
		Method:    method,
		Alignment: align,
		Boundary:  aligner.BoundaryHold,
	})
	if err != nil {
		t.Fatalf("aligner.New: %v", err)
	}
	out, err := bpipe.NewBatchBuffer(bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 6, RingCapacityExpo: 4})
	if err != nil {
		t.Fatalf("NewBatchBuffer: %v", err)
	}
	if err := a.SinkConnect(0, out); err != nil {
		t.Fatalf("SinkConnect: %v", err)
	}
	out.Start()
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a, out
}

// TestAlignerNearestZeroPhaseIdentity: phase_offset == 0 and
// method=NEAREST must reproduce the input sample-for-sample.
func TestAlignerNearestZeroPhaseIdentity(t *testing.T) {
	a, out := newGraph(t, aligner.MethodNearest, aligner.AlignNearest)
	defer a.Stop()

	in := a.Inputs()[0]
	in.Start()

	const period = uint64(1_000_000)
	head := in.GetHead()
	row := head.F32()
	for i := range row {
		row[i] = float32(i)
	}
	head.Count = len(row)
	head.TNs = 0
	head.PeriodNs = period
	head.BatchID = 0
	if err := in.Submit(time.Second); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	head2 := in.GetHead()
	row2 := head2.F32()
	for i := range row2 {
		row2[i] = float32(len(row) + i)
	}
	head2.Count = len(row2)
	head2.TNs = uint64(len(row)) * period
	head2.PeriodNs = period
	head2.BatchID = 1
	if err := in.Submit(time.Second); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	b, err := out.GetTail(time.Second)
	if err != nil {
		t.Fatalf("GetTail: %v", err)
	}
	if b.TNs%period != 0 {
		t.Fatalf("output t_ns %d not aligned to period %d", b.TNs, period)
	}
	outRow := b.F32()
	for i := 0; i < b.Count && i < len(row); i++ {
		if outRow[i] != row[i] {
			t.Fatalf("sample[%d] = %v, want %v (identity expected at zero phase)", i, outRow[i], row[i])
		}
	}
	out.DelTail()
}

// TestAlignerPhaseOffsets is scenario S5: several phase offsets all
// produce aligned output, and under NEAREST alignment the reported
// max-phase-correction is the distance to the chosen grid point: the
// supplied offset up to half a period, period-offset above it.
func TestAlignerPhaseOffsets(t *testing.T) {
	const period = uint64(1_000_000)
	offsets := []uint64{0, period / 4, period / 2, period - 1}

	for _, offset := range offsets {
		a, out := newGraph(t, aligner.MethodNearest, aligner.AlignNearest)
		in := a.Inputs()[0]
		in.Start()

		head := in.GetHead()
		row := head.F32()
		for i := range row {
			row[i] = float32(i)
		}
		head.Count = len(row)
		head.TNs = offset
		head.PeriodNs = period
		head.BatchID = 0
		if err := in.Submit(time.Second); err != nil {
			t.Fatalf("offset %d: Submit: %v", offset, err)
		}
		head2 := in.GetHead()
		row2 := head2.F32()
		for i := range row2 {
			row2[i] = float32(len(row) + i)
		}
		head2.Count = len(row2)
		head2.TNs = offset + uint64(len(row))*period
		head2.PeriodNs = period
		head2.BatchID = 1
		if err := in.Submit(time.Second); err != nil {
			t.Fatalf("offset %d: Submit: %v", offset, err)
		}

		b, err := out.GetTail(time.Second)
		if err != nil {
			t.Fatalf("offset %d: GetTail: %v", offset, err)
		}
		if b.TNs%period != 0 {
			t.Fatalf("offset %d: output t_ns %d not aligned", offset, b.TNs)
		}

		wantCorrection := offset
		if offset > period/2 {
			wantCorrection = period - offset
		}
		if got := a.MaxPhaseCorrectionNs(); got != wantCorrection {
			t.Fatalf("offset %d: MaxPhaseCorrectionNs = %d, want %d", offset, got, wantCorrection)
		}
		out.DelTail()
		a.Stop()
	}
}

// TestAlignerRejectsNonNumericDType: spec's failure semantics for
// SampleAligner init require INVALID_DTYPE for a non-numeric dtype.
func TestAlignerRejectsNonNumericDType(t *testing.T) {
	_, err := aligner.New(aligner.Config{
		FilterConfig: bpipe.FilterConfig{
			Name:     "aligner",
			Buff:     bpipe.BuffConfig{DType: bpipe.DType(99), BatchCapacityExpo: 6, RingCapacityExpo: 3},
			MaxSinks: 1,
			Timeout:  20 * time.Millisecond,
		},
		Method:    aligner.MethodNearest,
		Alignment: aligner.AlignNearest,
		Boundary:  aligner.BoundaryHold,
	})
	if k, ok := bpipe.KindOf(err); !ok || k != bpipe.InvalidDType {
		t.Fatalf("aligner.New with non-numeric dtype: got %v, want InvalidDType", err)
	}
}

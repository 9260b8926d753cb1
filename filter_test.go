// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe_test

import (
	"testing"
	"time"

	"bpipe.dev/bpipe"
)

func sourceConfig(name string) bpipe.FilterConfig {
	return bpipe.FilterConfig{
		Name:     name,
		Type:     bpipe.Source,
		Buff:     bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 2, RingCapacityExpo: 2},
		MaxSinks: 1,
		Timeout:  10 * time.Millisecond,
	}
}

// countingSource emits n batches then forwards Complete to every sink.
func countingSource(n int) bpipe.WorkerFunc {
	return func(f *bpipe.Filter) {
		for i := 0; i < n && f.Running(); i++ {
			head := f.Sinks()
			if len(head) == 0 {
				return
			}
			sink := head[0]
			b := sink.GetHead()
			row := b.F32()
			for j := range row {
				row[j] = float32(i)
			}
			b.Count = len(row)
			b.BatchID = uint64(i)
			b.TNs = uint64(i) * 1000
			b.PeriodNs = 1000
			if err := sink.Submit(f.Timeout()); err != nil {
				return
			}
		}
		bpipe.ForwardComplete(f.Sinks(), uint64(n), uint64(n)*1000, 1000, f.Timeout(), f.Log())
	}
}

func TestFilterSinkConnectTypeMismatch(t *testing.T) {
	src, err := bpipe.NewFilter(sourceConfig("src"), countingSource(1))
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	dst, err := bpipe.NewBatchBuffer(bpipe.BuffConfig{DType: bpipe.F64, BatchCapacityExpo: 2, RingCapacityExpo: 2})
	if err != nil {
		t.Fatalf("NewBatchBuffer: %v", err)
	}
	if err := src.SinkConnect(0, dst); !isTypeMismatch(err) {
		t.Fatalf("SinkConnect dtype mismatch: got %v, want TypeMismatch", err)
	}
}

func isTypeMismatch(err error) bool {
	k, ok := bpipe.KindOf(err)
	return ok && k == bpipe.TypeMismatch
}

func TestFilterSinkConnectMaxSinksExceeded(t *testing.T) {
	src, err := bpipe.NewFilter(sourceConfig("src"), countingSource(1))
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	dst1, _ := bpipe.NewBatchBuffer(bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 2, RingCapacityExpo: 2})
	dst2, _ := bpipe.NewBatchBuffer(bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 2, RingCapacityExpo: 2})

	if err := src.SinkConnect(0, dst1); err != nil {
		t.Fatalf("SinkConnect(0): %v", err)
	}
	if err := src.SinkConnect(1, dst2); err == nil {
		t.Fatal("SinkConnect(1) on MaxSinks=1 filter: want error, got nil")
	}
}

func TestFilterLifecycleAndCompletion(t *testing.T) {
	src, err := bpipe.NewFilter(sourceConfig("src"), countingSource(5))
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	dst, err := bpipe.NewBatchBuffer(bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 2, RingCapacityExpo: 3})
	if err != nil {
		t.Fatalf("NewBatchBuffer: %v", err)
	}
	if err := src.SinkConnect(0, dst); err != nil {
		t.Fatalf("SinkConnect: %v", err)
	}
	dst.Start()
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(); !isAlreadyRunning(err) {
		t.Fatalf("double Start: got %v, want AlreadyRunning", err)
	}

	seen := 0
	for {
		b, err := dst.GetTail(time.Second)
		if err != nil {
			t.Fatalf("GetTail: %v", err)
		}
		if b.Status == bpipe.Complete {
			dst.DelTail()
			break
		}
		seen++
		dst.DelTail()
	}
	if seen != 5 {
		t.Fatalf("batches seen before Complete: got %d, want 5", seen)
	}

	src.Stop()
	src.Stop() // idempotent
	if err := src.WorkerErr(); err != nil {
		t.Fatalf("WorkerErr: got %v, want nil", err)
	}
}

func isAlreadyRunning(err error) bool {
	k, ok := bpipe.KindOf(err)
	return ok && k == bpipe.AlreadyRunning
}

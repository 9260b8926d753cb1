// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

import (
	"testing"
	"unsafe"

	"bpipe.dev/bpipe/internal/layout"
)

// TestBatchBufferHeadTailCacheLinesApart guards the layout contract
// documented in internal/layout: head (producer-written) and tail
// (consumer-written) must never share a cache line.
func TestBatchBufferHeadTailCacheLinesApart(t *testing.T) {
	var b BatchBuffer
	headOff := unsafe.Offsetof(b.head)
	tailOff := unsafe.Offsetof(b.tail)

	if !layout.CacheLinesApart(headOff, int(unsafe.Sizeof(b.head)), tailOff, int(unsafe.Sizeof(b.tail))) {
		t.Fatalf("head (offset %d) and tail (offset %d) share a cache line", headOff, tailOff)
	}
}

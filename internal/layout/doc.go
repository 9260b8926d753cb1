// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package layout verifies cache-line-sensitive struct layouts used by
// the hot path.
//
// Layout contract: BatchBuffer's head/tail index fields must not share
// a cache line with each other or with the mutex/cond block, or the
// producer and consumer threads generate false-sharing traffic on every
// submit/get_tail even though they never touch the same logical field.
// This package holds CacheLinesApart, the helper that the head/tail
// offset assertion in package bpipe's layout_test.go uses to keep that
// contract honest as BatchBuffer's field order changes.
package layout

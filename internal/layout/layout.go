// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package layout

// CacheLineSize is the assumed cache line size for false-sharing
// checks. 64 bytes covers every mainstream x86/arm target; a
// conservative assumption here only ever causes a spurious "not far
// enough apart" failure, never a silently wrong pass.
const CacheLineSize = 64

// CacheLinesApart reports whether offsets a and b, given field sizes
// sizeA and sizeB (in bytes), fall on different cache lines.
func CacheLinesApart(a uintptr, sizeA int, b uintptr, sizeB int) bool {
	lineA := a / CacheLineSize
	lastA := (a + uintptr(sizeA) - 1) / CacheLineSize
	lineB := b / CacheLineSize
	lastB := (b + uintptr(sizeB) - 1) / CacheLineSize
	return lastA < lineB || lastB < lineA
}

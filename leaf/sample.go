// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package leaf

import "bpipe.dev/bpipe"

// getSample and setSample give the leaf filters dtype-generic element
// access without reaching for Go generics (same closed-enum approach
// bpipe.BatchBuffer itself uses).

func getSample(b *bpipe.Batch, dtype bpipe.DType, i int) float64 {
	switch dtype {
	case bpipe.F32:
		return float64(b.F32()[i])
	case bpipe.F64:
		return b.F64()[i]
	case bpipe.I32:
		return float64(b.I32()[i])
	case bpipe.U32:
		return float64(b.U32()[i])
	default:
		return 0
	}
}

func setSample(b *bpipe.Batch, dtype bpipe.DType, i int, v float64) {
	switch dtype {
	case bpipe.F32:
		b.F32()[i] = float32(v)
	case bpipe.F64:
		b.F64()[i] = v
	case bpipe.I32:
		b.I32()[i] = int32(v)
	case bpipe.U32:
		b.U32()[i] = uint32(v)
	}
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

import (
	"time"

	"go.uber.org/zap"
)

// ForwardComplete submits a Complete sentinel to every sink in sinks,
// using the Block discipline regardless of that sink's own configured
// overflow policy — spec §9's explicit choice for "completion semantics
// under DROP policies": a COMPLETE sentinel must never be silently
// dropped. It returns the subset of sinks that accepted the sentinel; a
// sink whose submit returned any error (Stopped, or Timeout after
// waiting up to timeout) is left out, so a caller iterating multiple
// times (e.g. a retry) only targets sinks still listening, per spec
// §4.3 ("if a sink is stopped, stop forwarding to it").
//
// Nil entries (an output_index never connected) are skipped silently.
func ForwardComplete(sinks []*BatchBuffer, batchID uint64, tNs uint64, periodNs uint64, timeout time.Duration, log *zap.Logger) []*BatchBuffer {
	if log == nil {
		log = zap.NewNop()
	}
	live := make([]*BatchBuffer, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		head := sink.GetHead()
		head.MarkComplete()
		head.BatchID = batchID
		head.TNs = tNs
		head.PeriodNs = periodNs

		if err := sink.forceSubmitComplete(timeout); err != nil {
			log.Debug("completion forwarding stopped", zap.Error(err))
			continue
		}
		live = append(live, sink)
	}
	return live
}

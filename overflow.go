// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

// OverflowPolicy selects what a producer does when Submit finds the ring
// full (spec §3, §4.1).
type OverflowPolicy uint8

const (
	// Block waits on a not-full condition up to the caller's timeout.
	Block OverflowPolicy = iota
	// DropHead discards the newest submission: head is not advanced,
	// dropped_by_producer increments, and the caller observes OK.
	DropHead
	// DropTail discards the oldest queued batch to make room: tail is
	// advanced by one before head advances, dropped_by_producer
	// increments, and consumers may observe a batch_id gap.
	DropTail
)

func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "BLOCK"
	case DropHead:
		return "DROP_HEAD"
	case DropTail:
		return "DROP_TAIL"
	default:
		return "UNKNOWN"
	}
}

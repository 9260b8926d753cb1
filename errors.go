// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

import (
	"errors"
	"fmt"
	"runtime"

	"code.hybscloud.com/iox"
)

// ErrKind classifies the errors this package returns. It intentionally
// mirrors a closed taxonomy rather than distinct error types, so callers
// can switch on Kind without an ever-growing set of sentinel values.
type ErrKind uint8

const (
	// InvalidConfig is returned synchronously from init-time validation.
	InvalidConfig ErrKind = iota
	// InvalidDType is returned by aligner.New when configured with a
	// dtype outside F32/F64/I32/U32. zoh.New and the leaf filters report
	// the same condition as InvalidConfig.
	InvalidDType
	// TypeMismatch is returned by SinkConnect when dtype or shape differ.
	TypeMismatch
	// NullPointer is returned when a required reference is nil.
	NullPointer
	// AlreadyRunning is returned by Filter.Start on a filter that has
	// already left the CREATED state. BatchBuffer.Start returns no error;
	// on a buffer that is not CREATED it does nothing.
	AlreadyRunning
	// NoSpace reports that a destination has no room left; CSVWriter
	// latches it on reaching MaxFileSizeBytes. A DropHead Submit that
	// discards the newest batch returns nil, not NoSpace.
	NoSpace
	// Timeout is returned when a blocking op exceeds its deadline.
	// It is a recoverable transport condition (wraps iox.ErrWouldBlock).
	Timeout
	// Stopped is returned when an op is attempted against, or is
	// unblocked by, a stopped BatchBuffer. Terminal for a waiter.
	Stopped
	// FilterStopping is returned on the output path when the filter
	// itself has been asked to stop.
	FilterStopping
	// NoSink is returned when an operation requires at least one
	// connected sink and none is bound.
	NoSink
)

func (k ErrKind) String() string {
	switch k {
	case InvalidConfig:
		return "INVALID_CONFIG"
	case InvalidDType:
		return "INVALID_DTYPE"
	case TypeMismatch:
		return "TYPE_MISMATCH"
	case NullPointer:
		return "NULL_POINTER"
	case AlreadyRunning:
		return "ALREADY_RUNNING"
	case NoSpace:
		return "NO_SPACE"
	case Timeout:
		return "TIMEOUT"
	case Stopped:
		return "STOPPED"
	case FilterStopping:
		return "FILTER_STOPPING"
	case NoSink:
		return "NO_SINK"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type returned by this package. It carries
// enough to satisfy spec §7's "first captured error (kind + file + line)"
// user-visible failure requirement.
type Error struct {
	Kind ErrKind
	Op   string
	File string
	Line int
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("bpipe: %s (%s:%d)", e.Kind, e.File, e.Line)
	}
	return fmt.Sprintf("bpipe: %s: %s (%s:%d)", e.Op, e.Kind, e.File, e.Line)
}

// Unwrap lets errors.Is(err, iox.ErrWouldBlock) succeed for Timeout,
// so callers already using iox's semantic-error vocabulary keep working
// across this package's boundary.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case Timeout:
		return iox.ErrWouldBlock
	default:
		return nil
	}
}

// newErr captures the call site two frames up from newErr itself, i.e.
// the frame that called the exported constructor (NewStopped, etc.).
func newErr(kind ErrKind, op string) *Error {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file, line = "unknown", 0
	}
	return &Error{Kind: kind, Op: op, File: file, Line: line}
}

// NewInvalidConfig returns an InvalidConfig error captured at the caller.
func NewInvalidConfig(op string) error { return newErr(InvalidConfig, op) }

// NewInvalidDType returns an InvalidDType error captured at the caller.
func NewInvalidDType(op string) error { return newErr(InvalidDType, op) }

// NewTypeMismatch returns a TypeMismatch error captured at the caller.
func NewTypeMismatch(op string) error { return newErr(TypeMismatch, op) }

// NewTimeout returns a Timeout error captured at the caller.
func NewTimeout(op string) error { return newErr(Timeout, op) }

// NewStopped returns a Stopped error captured at the caller.
func NewStopped(op string) error { return newErr(Stopped, op) }

// NewFilterStopping returns a FilterStopping error captured at the caller.
func NewFilterStopping(op string) error { return newErr(FilterStopping, op) }

// NewNoSink returns a NoSink error captured at the caller.
func NewNoSink(op string) error { return newErr(NoSink, op) }

// KindOf extracts the ErrKind of err, if err (or something it wraps) is
// a *Error. The zero ErrKind (InvalidConfig) and ok=false are returned
// otherwise — callers must check ok.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTimeout reports whether err is a Timeout condition.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Timeout
}

// IsStopped reports whether err is a Stopped condition.
func IsStopped(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Stopped
}

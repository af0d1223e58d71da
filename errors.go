// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package hwcompose is the public entry point: it enumerates
// displays, wires each one's plane manager, compositor, and display
// queue together, and exposes the per-display present/config API.
package hwcompose

import (
	"errors"

	"hwcompose/display"
	"hwcompose/fence"
	"hwcompose/kms"
	"hwcompose/queue"
)

// Kind classifies a failure the way callers need to react to it,
// rather than by which package produced it.
type Kind int

// Error kinds.
const (
	// NoResources means an allocation (buffer, surface, plane state)
	// failed.
	NoResources Kind = iota
	// InvalidArgument means a caller-supplied value was malformed: a
	// layer count over the per-plane region limit, a degenerate rect.
	InvalidArgument
	// CapabilityMismatch means a plane cannot perform the requested
	// transform, format, or blend.
	CapabilityMismatch
	// CommitFailed means the kernel rejected an atomic request.
	CommitFailed
	// ModesetFailed means a property blob (mode or gamma) could not be
	// created.
	ModesetFailed
	// FenceWaitTimeout means the previous frame's fence did not signal
	// in time.
	FenceWaitTimeout
	// Disconnected means the operation was attempted on a display that
	// is disconnected or mid-disconnect.
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case NoResources:
		return "no resources"
	case InvalidArgument:
		return "invalid argument"
	case CapabilityMismatch:
		return "capability mismatch"
	case CommitFailed:
		return "commit failed"
	case ModesetFailed:
		return "modeset failed"
	case FenceWaitTimeout:
		return "fence wait timeout"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Error wraps an underlying failure with its semantic Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "hwcompose: " + e.Kind.String()
	}
	return "hwcompose: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps a lower-layer sentinel/typed error to its semantic
// Kind, the way the display queue and plane manager report failures
// without every package needing to know this taxonomy.
func classify(err error) Kind {
	switch {
	case errors.Is(err, queue.ErrNoCRTC), errors.Is(err, display.ErrDisconnected):
		return Disconnected
	case errors.Is(err, fence.ErrTimeout):
		return FenceWaitTimeout
	default:
		var commitErr *kms.ErrCommitFailed
		if errors.As(err, &commitErr) {
			return CommitFailed
		}
		return NoResources
	}
}

// wrap produces an *Error classifying err, or nil if err is nil.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Err: err}
}

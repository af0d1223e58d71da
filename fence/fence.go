// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package fence provides a move-only owned file descriptor type for
// KMS/sync-file fences, plus a helper for waiting on them.
//
// Every sync fd that crosses a component boundary (acquire fences
// from clients, retire/release fences produced by a commit, the
// renderer's out-fence) is modeled as a Fence so that double-close
// and silent-leak bugs cannot occur: a Fence is either owned exactly
// once or it is invalid.
package fence

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Invalid is the value of a Fence that carries no descriptor, mirroring
// the convention that a release fence of -1 means "not scheduled" or
// "commit failed".
const Invalid = -1

// ErrTimeout is returned by Wait when the fence does not signal within
// the requested deadline.
var ErrTimeout = errors.New("fence: wait timed out")

// Fence is a move-only handle to a sync-file descriptor.
// The zero value is Invalid and owns nothing.
type Fence struct {
	fd int
}

// New wraps fd, taking ownership of it. Passing a negative fd produces
// an invalid Fence.
func New(fd int) Fence {
	if fd < 0 {
		return Fence{Invalid}
	}
	return Fence{fd}
}

// FD returns the underlying descriptor without transferring ownership.
func (f Fence) FD() int { return f.fd }

// Valid reports whether f owns a descriptor.
func (f Fence) Valid() bool { return f.fd >= 0 }

// Release returns the underlying descriptor and clears f, transferring
// ownership to the caller. The caller becomes responsible for closing
// it (or wrapping it in a new Fence).
func (f *Fence) Release() int {
	fd := f.fd
	f.fd = Invalid
	return fd
}

// Close closes the owned descriptor, if any, and invalidates f.
// Close is idempotent.
func (f *Fence) Close() error {
	if f.fd < 0 {
		return nil
	}
	fd := f.fd
	f.fd = Invalid
	return unix.Close(fd)
}

// Dup returns a new Fence that owns an independent copy of the
// descriptor, leaving f untouched. It is used when the same
// out-fence must be handed to more than one collaborator (the
// caller's retire fence, the compositor's next acquire fence, and
// the fence thread's wait queue).
func (f Fence) Dup() (Fence, error) {
	if f.fd < 0 {
		return Fence{Invalid}, nil
	}
	nfd, err := unix.Dup(f.fd)
	if err != nil {
		return Fence{Invalid}, err
	}
	return Fence{nfd}, nil
}

// Wait blocks until f signals or timeoutMs elapses (-1 blocks
// forever). It does not take ownership and does not close f.
func (f Fence) Wait(timeoutMs int) error {
	if f.fd < 0 {
		return nil
	}
	fds := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		return nil
	}
}

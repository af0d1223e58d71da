// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package null provides a simulated kms.ModeClient with no kernel
// backing, used by tests and by virtual displays that have no real
// KMS object to drive.
package null

import (
	"hwcompose/fence"
	"hwcompose/kms"
)

// Client is a fake ModeClient that always accepts commits and hands
// out incrementing blob IDs, recording every request it receives so
// tests can assert on what the plane manager and display queue
// produced.
type Client struct {
	Caps      kms.PlaneCaps
	NextFence int

	Commits []*kms.Request
	Blobs   []kms.Blob

	// FailCommit, when non-nil, is returned by the next non-test-only
	// Commit instead of succeeding, then cleared.
	FailCommit error

	nextBlob uint32
}

// New creates a Client with rotation, alpha and IN_FENCE_FD support
// enabled by default, mirroring the common case for a modern overlay
// plane.
func New() *Client {
	return &Client{
		Caps:      kms.PlaneCaps{HasRotationProp: true, HasAlphaProp: true, HasInFenceProp: true},
		NextFence: fence.Invalid,
	}
}

// PlaneCaps returns the Client's configured capability set,
// regardless of which plane is asked about.
func (c *Client) PlaneCaps(uint32) (kms.PlaneCaps, error) {
	return c.Caps, nil
}

// CreateBlob hands out a strictly increasing blob ID without storing
// data anywhere real.
func (c *Client) CreateBlob(data []byte) (kms.Blob, error) {
	c.nextBlob++
	b := kms.Blob{ID: c.nextBlob}
	c.Blobs = append(c.Blobs, b)
	return b, nil
}

// DestroyBlob removes b from the Client's bookkeeping.
func (c *Client) DestroyBlob(b kms.Blob) error {
	for i, x := range c.Blobs {
		if x.ID == b.ID {
			c.Blobs = append(c.Blobs[:i], c.Blobs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Commit records req and returns an out-fence built from NextFence,
// unless FailCommit is set, in which case it fails this one commit
// and clears the failure.
func (c *Client) Commit(req *kms.Request) (kms.CommitResult, error) {
	c.Commits = append(c.Commits, req)
	if req.TestOnly {
		return kms.CommitResult{}, nil
	}
	if c.FailCommit != nil {
		err := c.FailCommit
		c.FailCommit = nil
		return kms.CommitResult{}, &kms.ErrCommitFailed{Err: err}
	}
	return kms.CommitResult{OutFence: fence.New(c.NextFence)}, nil
}

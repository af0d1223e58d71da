// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package kms abstracts the KMS/DRM atomic ioctl surface.
//
// The kernel mode-setting interface itself is an external
// collaborator ("mode client"): this package defines the object
// model (an atomic request accumulating per-object property sets)
// and the capability surface a concrete DRM binding must provide.
package kms

import "hwcompose/fence"

// ObjType identifies the kind of KMS object a property belongs to.
type ObjType int

// KMS object types.
const (
	ObjCRTC ObjType = iota
	ObjConnector
	ObjPlane
)

// PropSet is one (object, property, value) triple accumulated into
// an atomic Request.
type PropSet struct {
	ObjID    uint32
	ObjType  ObjType
	Name     string
	Value    uint64
}

// Request accumulates the property sets for a single atomic commit.
// Committed per frame: CRTC.{ACTIVE,MODE_ID,OUT_FENCE_PTR,GAMMA_LUT},
// Connector.{CRTC_ID,DPMS}, Plane.{CRTC_ID,FB_ID,CRTC_X,CRTC_Y,CRTC_W,
// CRTC_H,SRC_X,SRC_Y,SRC_W,SRC_H,rotation,alpha,IN_FENCE_FD}.
type Request struct {
	Props []PropSet
	// TestOnly marks this as a dry-run commit used to probe
	// capability without affecting the screen.
	TestOnly bool
	// AllowModeset permits a modeset as part of this commit; when
	// false the commit must be rejected rather than silently
	// perform one (NONBLOCK semantics).
	AllowModeset bool
}

// Add appends a property set to the request.
func (r *Request) Add(objType ObjType, objID uint32, name string, value uint64) {
	r.Props = append(r.Props, PropSet{ObjID: objID, ObjType: objType, Name: name, Value: value})
}

// Blob is an opaque kernel property blob handle (used for MODE_ID and
// GAMMA_LUT).
type Blob struct {
	ID uint32
}

// PlaneCaps describes one plane's atomic property availability and is
// used to decide whether a Plane can accept a given layer (validate
// rotation/alpha support) without probing the kernel each time.
type PlaneCaps struct {
	HasRotationProp bool
	HasAlphaProp    bool
	HasInFenceProp  bool
}

// CommitResult is returned by ModeClient.Commit.
type CommitResult struct {
	// OutFence is populated when the request asked for OUT_FENCE_PTR
	// and the commit succeeded.
	OutFence fence.Fence
}

// ModeClient is the capability surface the KMS/DRM ioctl layer must
// provide. Concrete implementations (libdrm bindings, a simulated
// backend for virtual displays) live outside this module.
type ModeClient interface {
	// PlaneCaps returns the atomic property availability for the
	// plane identified by planeID.
	PlaneCaps(planeID uint32) (PlaneCaps, error)

	// CreateBlob uploads data as a new property blob (a mode or a
	// gamma LUT) and returns its handle.
	CreateBlob(data []byte) (Blob, error)

	// DestroyBlob releases a previously created blob.
	DestroyBlob(b Blob) error

	// Commit submits req. If req.TestOnly is set, the kernel only
	// validates the request and nothing is displayed.
	Commit(req *Request) (CommitResult, error)
}

// ErrCommitFailed wraps a non-test-only Commit rejection.
type ErrCommitFailed struct{ Err error }

func (e *ErrCommitFailed) Error() string { return "kms: commit failed: " + e.Err.Error() }
func (e *ErrCommitFailed) Unwrap() error { return e.Err }

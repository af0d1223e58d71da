// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package buffer abstracts the DMA-buf allocator and importer.
//
// The allocator and DMA-buf import path are treated as an external
// collaborator: this package defines the capability surface the rest
// of the pipeline depends on (Handler) and a reference-counted handle
// type (Handle) whose destruction is deferred until the fence thread
// confirms KMS is done reading it. Concrete implementations (gbm,
// ANativeWindow, ...) live outside this module.
package buffer

import "fmt"

// FourCC is a DRM four-character-code pixel format.
type FourCC uint32

// Modifier is a DRM format modifier (tiling/compression layout).
type Modifier uint64

// ModNone is the "linear, no modifier" sentinel used as the fallback
// when a preferred modifier is rejected by the driver.
const ModNone Modifier = 0

// Desc describes the geometry and format of a buffer to allocate.
type Desc struct {
	Width, Height int
	Format        FourCC
	Modifier      Modifier
	// Scanout requests a buffer usable as a KMS framebuffer, as
	// opposed to one only ever sampled by the GPU.
	Scanout bool
}

// Handle is a reference-counted DMA-buf backed buffer.
//
// Handles are shared across the overlay layer that references them,
// the plane that may scan them out directly, and the renderer that
// may import them as a texture. They are only released once the
// frame's KMS fence has signalled, which is why Release is queued
// through the fence thread rather than called synchronously.
type Handle struct {
	h        any
	desc     Desc
	refCount int32
}

// Wrap creates a Handle around an opaque native handle (e.g. a
// platform HAL buffer_handle_t) with a starting reference count of 1.
func Wrap(native any, desc Desc) *Handle {
	return &Handle{h: native, desc: desc, refCount: 1}
}

// Native returns the opaque platform handle.
func (h *Handle) Native() any { return h.h }

// Desc returns the buffer's geometry and format.
func (h *Handle) Desc() Desc { return h.desc }

// Ref increments the reference count and returns h for chaining.
func (h *Handle) Ref() *Handle {
	h.refCount++
	return h
}

// Unref decrements the reference count and reports whether it reached
// zero, meaning the buffer should now be released through the
// Handler.
func (h *Handle) Unref() bool {
	h.refCount--
	if h.refCount < 0 {
		panic("buffer: Unref on handle with zero refs")
	}
	return h.refCount == 0
}

func (h *Handle) String() string {
	return fmt.Sprintf("buffer{%dx%d fmt=%#x mod=%#x}", h.desc.Width, h.desc.Height, h.desc.Format, h.desc.Modifier)
}

// Framebuffer identifies a KMS framebuffer object created for a
// Handle, cached so that repeated presentations of the same buffer
// do not re-create it every frame.
type Framebuffer struct {
	ID     uint32
	Format FourCC
}

// Handler is the capability surface that the buffer allocator and
// DMA-buf importer must provide. It is the external collaborator
// named "buffer handler" in the design: allocation, import and
// destruction happen outside this module's control.
type Handler interface {
	// Create allocates a new buffer matching desc. It returns
	// ErrModifierRejected if desc.Modifier could not be honored,
	// in which case the caller should retry with ModNone.
	Create(desc Desc) (*Handle, error)

	// Import wraps an externally-allocated native handle (e.g. one
	// received across the HAL boundary) without allocating memory.
	Import(native any) (*Handle, error)

	// CreateFrameBuffer registers h as a KMS framebuffer, returning
	// its object ID for use in CRTC_ID/FB_ID properties.
	CreateFrameBuffer(h *Handle) (Framebuffer, error)

	// DestroyFrameBuffer releases a framebuffer object previously
	// returned by CreateFrameBuffer.
	DestroyFrameBuffer(fb Framebuffer) error

	// Destroy releases the underlying memory for h. It must only be
	// called once h's reference count has reached zero.
	Destroy(h *Handle) error
}

// ErrModifierRejected means the driver could not accept the
// requested format modifier for a buffer allocation.
var ErrModifierRejected = modifierRejectedError{}

type modifierRejectedError struct{}

func (modifierRejectedError) Error() string { return "buffer: modifier rejected by driver" }

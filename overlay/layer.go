// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package overlay defines the per-frame surface record (OverlayLayer)
// that the plane manager and compositor operate on.
package overlay

import (
	"errors"

	"hwcompose/buffer"
	"hwcompose/fence"
	"hwcompose/geom"
)

// Blending is the per-layer blend mode.
type Blending int

// Blend modes.
const (
	BlendNone Blending = iota
	BlendPremult
	BlendCoverage
)

// Coefficient returns the blend-equation coefficient associated with
// the mode, used by the renderer to scale a layer's effective alpha.
func (b Blending) Coefficient() float32 {
	if b == BlendNone {
		return 1
	}
	return 1
}

// Layer is the normalized, per-frame record of one submitted surface.
//
// A Layer is built fresh each frame from the client's layer
// description; its buffer reference is held until the frame's KMS
// fence signals, at which point the fence thread releases it.
type Layer struct {
	Index int

	// Transform is the buffer transform requested by the client.
	// PlaneTransform is the transform actually realized in hardware
	// once the plane manager decides whether rotation happens on
	// the plane or in the GPU compositor.
	Transform      geom.Transform
	PlaneTransform geom.Transform

	Alpha    uint8 // 0..255
	Blending Blending

	SourceCrop   geom.RectF
	DisplayFrame geom.Rect

	AcquireFence fence.Fence
	ReleaseFence fence.Fence

	Buffer *buffer.Handle

	IsCursor       bool
	IsVideo        bool
	IsSolidColor   bool
	SolidColorRGBA [4]uint8
}

// ErrInvalidCrop is returned by New when the source crop is not
// contained within the backing buffer's dimensions.
var ErrInvalidCrop = errors.New("overlay: source crop exceeds buffer bounds")

// ErrEmptyFrame is returned by New when the display frame has zero or
// negative area.
var ErrEmptyFrame = errors.New("overlay: display frame is empty")

// New validates and constructs a Layer. bufW/bufH are the backing
// buffer's pixel dimensions; they are ignored for solid-color layers,
// which carry no buffer.
func New(index int, buf *buffer.Handle, crop geom.RectF, frame geom.Rect, bufW, bufH int) (Layer, error) {
	l := Layer{
		Index:          index,
		Buffer:         buf,
		SourceCrop:     crop,
		DisplayFrame:   frame,
		Alpha:          255,
		AcquireFence:   fence.New(fence.Invalid),
		ReleaseFence:   fence.New(fence.Invalid),
	}
	if frame.Empty() {
		return Layer{}, ErrEmptyFrame
	}
	if buf != nil {
		bounds := geom.RectF{Left: 0, Top: 0, Right: float32(bufW), Bottom: float32(bufH)}
		if !crop.ContainedIn(bounds) {
			return Layer{}, ErrInvalidCrop
		}
	}
	return l, nil
}

// HasChangedFrom reports whether l differs from prev in ways the
// display queue must track for damage accounting: attribute changes
// (transform/alpha/blend/crop/frame), content changes (a different
// buffer), and dimension changes (display frame size).
func (l *Layer) HasChangedFrom(prev *Layer) (attrs, content, dims bool) {
	if prev == nil {
		return true, true, true
	}
	attrs = l.Transform != prev.Transform ||
		l.Alpha != prev.Alpha ||
		l.Blending != prev.Blending ||
		l.SourceCrop != prev.SourceCrop ||
		l.DisplayFrame != prev.DisplayFrame
	content = l.Buffer != prev.Buffer
	dims = l.DisplayFrame.Width() != prev.DisplayFrame.Width() ||
		l.DisplayFrame.Height() != prev.DisplayFrame.Height()
	return
}

// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package surface pools and recycles the off-screen render targets a
// render plane composites into.
package surface

import (
	"hwcompose/buffer"
	"hwcompose/geom"
)

// ClearType describes how much of a Target must be cleared before
// the next draw.
type ClearType int

// Clear requirements.
const (
	ClearNone ClearType = iota
	ClearPartial
	ClearFull
)

// Age identifies a Target's position in its plane's triple-buffer
// ring. AgeFree means the surface is owned by the pool but not
// currently bound to any plane.
type Age int

// Ring ages. AgeFront is the buffer about to be (or currently) on
// screen; each frame promotes the ring 1->0, 2->1, 0->2 so the
// oldest buffer is ready by the time the GPU returns to it two
// vsyncs later.
const (
	AgeFree  Age = -1
	AgeFront Age = 0
	Age1     Age = 1
	Age2     Age = 2
)

// Target is one off-screen render target: a recycled buffer plus the
// bookkeeping the pool and compositor need to decide whether it can
// be reused as-is or must be cleared/damaged.
type Target struct {
	Buffer   *buffer.Handle
	Age      Age
	Format   buffer.FourCC
	Modifier buffer.Modifier

	ClearType     ClearType
	SurfaceDamage geom.Rect
	Transform     geom.Transform

	// OnScreen reports whether this target is held by a plane: the
	// pool sets it in Acquire and clears it in Release. Invariant:
	// OnScreen implies Age is 0, 1 or 2 (never AgeFree).
	OnScreen bool

	displayFrame geom.Rect
	sourceCrop   geom.RectF
}

// Retarget re-points a recycled Target at a new display frame/source
// crop, updating its clear requirements: geometry-preserving reuse
// only needs a partial clear of the union of dirty damage, while a
// geometry change forces a full clear.
func (t *Target) Retarget(frame geom.Rect, crop geom.RectF, damage geom.Rect) {
	geometryChanged := frame != t.displayFrame
	t.displayFrame = frame
	t.sourceCrop = crop
	if geometryChanged {
		t.ClearType = ClearFull
		t.SurfaceDamage = frame
		return
	}
	if t.ClearType == ClearFull {
		return
	}
	t.ClearType = ClearPartial
	t.SurfaceDamage = t.SurfaceDamage.Union(damage)
}

// DisplayFrame returns the target's current destination rectangle.
func (t *Target) DisplayFrame() geom.Rect { return t.displayFrame }

// SourceCrop returns the target's current source crop.
func (t *Target) SourceCrop() geom.RectF { return t.sourceCrop }

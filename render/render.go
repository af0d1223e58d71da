// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package render defines the abstract GPU compositing back end.
//
// Two concrete implementations are expected in a full platform build
// (GL and VK, as driver.GPU has for IntuitionEngine-style renderers);
// this module defines only the capability surface the rest of the
// pipeline programs against, following the same small-interface style
// as hwcompose's GPU driver contracts: a handful of verbs (begin a
// frame, draw, fence) rather than an inheritance hierarchy.
package render

import (
	"hwcompose/buffer"
	"hwcompose/fence"
	"hwcompose/geom"
	"hwcompose/surface"
)

// Matrix2 is a 2x2 texture-space matrix, picked from a fixed table
// (identity or swap-xy) based on a layer's rotation bit.
type Matrix2 [4]float32

// IdentityMatrix2 leaves texture coordinates unchanged.
var IdentityMatrix2 = Matrix2{1, 0, 0, 1}

// SwapXYMatrix2 swaps the U and V texture axes, used for 90/270
// degree rotations realized on the GPU rather than the plane.
var SwapXYMatrix2 = Matrix2{0, 1, 1, 0}

// MatrixFor returns the texture matrix associated with t.
func MatrixFor(t geom.Transform) Matrix2 {
	if t.Rotated() {
		return SwapXYMatrix2
	}
	return IdentityMatrix2
}

// LayerState is the per-texture draw input for one region: the
// source texture (nil for a solid-color layer), its normalized crop,
// texture matrix, and blend parameters.
type LayerState struct {
	Buffer      *buffer.Handle
	Crop        geom.RectF
	Matrix      Matrix2
	Alpha       float32
	Premult     bool
	IsSolid     bool
	SolidColor  [4]uint8
}

// RenderState is one draw: a scissored region of the off-screen
// target and the ordered set of layers blended "over" into it.
// Empty states (no layers) are skipped by callers before reaching
// the renderer.
type RenderState struct {
	Scissor geom.Rect
	Layers  []LayerState
}

// Renderer is the interface that a GL or VK back end implements to
// execute a compositor draw.
type Renderer interface {
	// BeginFrame acquires a rendering context for the frame. If
	// disableExplicitSync is set, the renderer must not rely on
	// in/out fences and should instead block until prior work
	// completes.
	BeginFrame(disableExplicitSync bool) (bool, error)

	// Draw executes one draw per RenderState within a single
	// viewport/scissor pass into surf. If clear is true and surf's
	// damage covers the whole frame, the whole surface is cleared;
	// otherwise only the damaged region is scissor-cleared.
	// The renderer binds one texture per source layer and selects a
	// shader specialized to the layer count of each state.
	Draw(states []RenderState, surf *surface.Target, clear bool) (bool, error)

	// InsertFence makes the renderer wait on an incoming KMS/sync
	// fence before its next draw. Ownership of fd transfers in.
	InsertFence(f fence.Fence)

	// SyncFD produces an out-fence for the draws submitted so far,
	// used as the plane's IN_FENCE_FD for the next KMS commit.
	SyncFD() (fence.Fence, error)
}

// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package null provides a no-op render.Renderer, useful for exercising
// the plane manager, compositor and display queue without a real GL
// or VK back end, following the same role as wsi's dummy platform.
package null

import (
	"hwcompose/fence"
	"hwcompose/render"
	"hwcompose/surface"
)

// Renderer is a render.Renderer that performs no GPU work. Draw calls
// are recorded for test assertions.
type Renderer struct {
	BeginFrameCalls int
	DrawCalls       []DrawCall
	NextSyncFD      int
}

// DrawCall records the arguments of one Draw invocation.
type DrawCall struct {
	States []render.RenderState
	Clear  bool
}

// New creates a null renderer.
func New() *Renderer { return &Renderer{NextSyncFD: fence.Invalid} }

// BeginFrame always succeeds.
func (r *Renderer) BeginFrame(disableExplicitSync bool) (bool, error) {
	r.BeginFrameCalls++
	return true, nil
}

// Draw records the call and always succeeds.
func (r *Renderer) Draw(states []render.RenderState, surf *surface.Target, clear bool) (bool, error) {
	r.DrawCalls = append(r.DrawCalls, DrawCall{States: states, Clear: clear})
	return true, nil
}

// InsertFence closes the incoming fence immediately: there is no GPU
// work to gate on it.
func (r *Renderer) InsertFence(f fence.Fence) {
	f.Close()
}

// SyncFD returns an invalid fence unless NextSyncFD was set by the
// test, in which case it wraps that value.
func (r *Renderer) SyncFD() (fence.Fence, error) {
	return fence.New(r.NextSyncFD), nil
}

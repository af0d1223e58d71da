// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package planemgr assigns a frame's overlay layers to hardware
// planes, falling back to GPU composition for layers or groups of
// layers a plane cannot scan out directly.
package planemgr

import (
	"hwcompose/geom"
	"hwcompose/kms"
	"hwcompose/overlay"
	"hwcompose/plane"
	"hwcompose/surface"
)

// Manager owns a display's hardware planes and decides, frame by
// frame, which layers each plane scans out directly and which are
// squashed into a shared GPU-composited region.
type Manager struct {
	mode        kms.ModeClient
	planes      []*plane.Plane
	cursorPlane *plane.Plane
	total       int

	enableDownscaling bool
}

// New creates a Manager over planes, belonging to a CRTC driven
// through mode. If one of planes is a dedicated cursor plane, pass it
// as cursorPlane so cursor layers are routed to it instead of being
// walked like ordinary overlay layers.
func New(mode kms.ModeClient, overlayPlanes []*plane.Plane, cursorPlane *plane.Plane) *Manager {
	return &Manager{mode: mode, planes: overlayPlanes, cursorPlane: cursorPlane, total: len(overlayPlanes)}
}

// SetEnableDownscaling controls whether the revalidation pass may put
// a plane into display downscaling, mirroring the ENABLE_DOWNSCALING
// environment flag: off by default, since not every plane's scalar
// supports minification.
func (m *Manager) SetEnableDownscaling(v bool) { m.enableDownscaling = v }

// ValidateLayers assigns every layer in layers (starting at addIndex,
// so a previous, still-valid assignment in composition can be
// extended rather than redone) to a plane state, appending to and
// returning composition. disableOverlay forces every layer onto a
// single GPU-composited plane regardless of hardware plane
// availability.
func (m *Manager) ValidateLayers(layers []overlay.Layer, addIndex int, disableOverlay bool, composition []*plane.State) []*plane.State {
	if disableOverlay || (m.total == 1 && len(layers) > 1) {
		return m.forceGPUForAll(layers, composition)
	}

	for _, p := range m.planes[len(composition):] {
		p.SetInUse(false)
	}

	var cursorLayers []int
	idx := addIndex
	for idx < len(layers) {
		layer := &layers[idx]

		if layer.IsCursor && m.cursorPlane != nil {
			cursorLayers = append(cursorLayers, idx)
			idx++
			continue
		}

		if len(composition) < len(m.planes) {
			p := m.planes[len(composition)]
			supportsTransform := layer.PlaneTransform == geom.TransformNone || p.Caps.HasRotationProp
			state := plane.NewState(p, layer, idx, layer.PlaneTransform, supportsTransform)
			if m.fallbackToGPU(p, layer, composition) {
				state.ForceGPURendering()
			}
			composition = append(composition, state)
		} else {
			// Planes exhausted: squash this layer into the most
			// recently assigned plane that can still absorb another
			// layer's region. A video plane never squashes with
			// another plane, so skip back past any that can't.
			target := squashTarget(composition)
			if target == nil {
				// Every plane is carrying video; there is nowhere
				// left to squash into without breaking the
				// invariant. Force the last plane anyway rather than
				// drop the layer outright.
				target = composition[len(composition)-1]
				target.ForceGPURendering()
			}
			target.AddLayer(layer, idx)
		}
		idx++
	}

	if len(cursorLayers) > 0 && m.cursorPlane != nil {
		layer := &layers[cursorLayers[0]]
		state := plane.NewState(m.cursorPlane, layer, cursorLayers[0], layer.PlaneTransform, true)
		if m.fallbackToGPU(m.cursorPlane, layer, composition) {
			// The cursor plane can't take this layer directly either;
			// fold it into the last render plane instead of wasting a
			// plane on a forced-GPU single-layer state.
			if target := squashTarget(composition); target != nil {
				target.AddLayer(layer, cursorLayers[0])
			} else {
				state.ForceGPURendering()
				composition = append(composition, state)
			}
		} else {
			composition = append(composition, state)
		}
	}

	for _, s := range composition {
		m.validateForDisplayTransform(s)
		m.validateForDisplayScaling(s)
		m.validateForDownScaling(s)
	}

	return composition
}

// squashTarget returns the plane state in composition that an
// overflow layer should be folded into, searching backward so the
// most recently assigned plane is preferred. A video plane is never a
// candidate, by the data-model invariant that a video plane never
// squashes with another plane. The first non-video candidate found is
// forced into render mode if it isn't already (CanSquash requires
// StateRender), since a plane still in direct scanout has nothing to
// composite with yet. Returns nil only if every plane in composition
// is carrying video.
func squashTarget(composition []*plane.State) *plane.State {
	for i := len(composition) - 1; i >= 0; i-- {
		s := composition[i]
		if s.IsVideo() {
			continue
		}
		if !s.CanSquash() {
			s.ForceGPURendering()
		}
		return s
	}
	return nil
}

// testCommitOK runs a TEST_ONLY dry-run commit after a tentative
// revalidation change (rotation, plane scalar, or downscale factor).
// The request carries no plane properties, so it only checks that the
// kernel accepts a test commit at all.
func (m *Manager) testCommitOK() bool {
	_, err := m.mode.Commit(&kms.Request{TestOnly: true})
	return err == nil
}

// validateForDisplayTransform re-checks a plane carrying a
// non-identity transform: it tries display rotation first and falls
// back to GPU rotation if the dry-run commit rejects it.
func (m *Manager) validateForDisplayTransform(s *plane.State) {
	if s.PlaneTransform() == geom.TransformNone {
		return
	}
	if s.RevalidationType()&plane.RevalidateRotation == 0 {
		return
	}
	s.RevalidationDone(plane.RevalidateRotation)

	original := s.RotationType()
	s.SetRotationType(plane.RotationDisplay)
	if !m.testCommitOK() {
		s.SetRotationType(plane.RotationGPU)
	}
	if original != s.RotationType() {
		s.RefreshSurfaces(surface.ClearFull, true)
	}
}

// validateForDisplayScaling decides whether a plane should use its
// own scalar hardware to perform an upscale instead of the GPU: a
// video plane never uses the plane scalar, and the decision is undone
// if the kernel's dry-run commit rejects it.
func (m *Manager) validateForDisplayScaling(s *plane.State) {
	if s.RevalidationType()&plane.RevalidateUpscale == 0 {
		return
	}
	s.RevalidationDone(plane.RevalidateUpscale)

	old := s.UsingPlaneScalar()
	if old {
		s.SetUsePlaneScalar(false)
	}
	if !s.CanUseDisplayUpscaling() {
		if old {
			s.RefreshSurfaces(surface.ClearFull, true)
		}
		return
	}
	if s.IsVideo() {
		s.SetUsePlaneScalar(false)
		return
	}

	s.SetUsePlaneScalar(true)
	if !m.testCommitOK() {
		s.SetUsePlaneScalar(false)
	}
	if old != s.UsingPlaneScalar() {
		s.RefreshSurfaces(surface.ClearFull, true)
	}
}

// validateForDownScaling decides whether a plane should use display
// downscaling instead of the GPU to minify an oversized source crop,
// gated behind the ENABLE_DOWNSCALING flag since not every plane's
// scalar supports minification.
func (m *Manager) validateForDownScaling(s *plane.State) {
	if !m.enableDownscaling {
		return
	}
	if s.RevalidationType()&plane.RevalidateDownscale == 0 {
		return
	}
	s.RevalidationDone(plane.RevalidateDownscale)

	original := s.DownscaleFactor()
	s.SetDownscaleFactor(0)
	if !s.UsingPlaneScalar() && s.CanUseGPUDownscaling() {
		s.SetDownscaleFactor(4)
		if !m.testCommitOK() {
			s.SetDownscaleFactor(0)
		}
	}
	if original != s.DownscaleFactor() {
		s.RefreshSurfaces(surface.ClearFull, true)
	}
}

// forceGPUForAll collapses every layer into a single composited plane
// state bound to the first plane and forced into GPU rendering, used
// when overlay use is disabled or the display has a single plane and
// more than one layer.
func (m *Manager) forceGPUForAll(layers []overlay.Layer, composition []*plane.State) []*plane.State {
	for _, p := range m.planes {
		p.SetInUse(false)
	}
	if len(layers) == 0 {
		return composition[:0]
	}
	p := m.planes[0]
	state := plane.NewState(p, &layers[0], 0, layers[0].PlaneTransform, true)
	for i := 1; i < len(layers); i++ {
		state.AddLayer(&layers[i], i)
	}
	state.ForceGPURendering()
	p.SetInUse(true)
	state.RevalidationDone(plane.RevalidateScanout)
	return []*plane.State{state}
}

// fallbackToGPU reports whether layer must be GPU-composited instead
// of scanned out on target: solid-color and video content always
// needs the GPU, the plane's own capability check may reject it, and
// finally a TEST_ONLY dry-run commit must succeed. That request
// carries no plane properties, so it does not test this particular
// plane/layer pairing.
func (m *Manager) fallbackToGPU(target *plane.Plane, layer *overlay.Layer, composition []*plane.State) bool {
	if layer.IsSolidColor || layer.IsVideo {
		return true
	}
	if !target.ValidateLayer(layer) {
		return true
	}
	if layer.Buffer == nil {
		return true
	}
	req := &kms.Request{TestOnly: true}
	if _, err := m.mode.Commit(req); err != nil {
		return true
	}
	return false
}

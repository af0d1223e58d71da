package plane

import (
	"hwcompose/geom"
	"hwcompose/overlay"
	"hwcompose/region"
	"hwcompose/surface"
)

// CompositeKind distinguishes a plane state scanning out a buffer
// produced by the GPU compositor from one scanning out a source
// layer's buffer directly.
type CompositeKind int

// Composite kinds.
const (
	StateScanout CompositeKind = iota
	StateRender
)

// ContentType classifies what a PlaneState's current source layers
// represent, used by the plane manager's squash heuristics and by
// ValidateLayer's alpha/rotation exceptions.
type ContentType int

// Content types.
const (
	ContentNormal ContentType = iota
	ContentCursor
	ContentVideo
)

// RotationType records whether a non-identity transform is being
// carried out by the display's own rotation property or has fallen
// back to the GPU compositor because the plane lacks one.
type RotationType int

// Rotation types.
const (
	RotationDisplay RotationType = iota
	RotationGPU
)

// Revalidation is a bitmask of the capability checks a PlaneState
// needs re-run after its geometry changed, so the plane manager does
// not have to redo every check on every frame.
type Revalidation uint32

// Revalidation bits.
const (
	RevalidateNone        Revalidation = 0
	RevalidateScanout     Revalidation = 1 << iota
	RevalidateUpscale
	RevalidateRotation
	RevalidateDownscale
)

const identityTransform = geom.TransformNone

// State binds one hardware Plane to the one or more source layers it
// is scanning out this frame (more than one only when the plane is
// serving as the GPU compositor's render target for a squashed
// region). It owns the plane's off-screen target ring when in
// StateRender mode.
type State struct {
	Plane *Plane

	sourceLayers []int
	displayFrame geom.Rect
	sourceCrop   geom.RectF
	rectUpdated  bool

	kind          CompositeKind
	content       ContentType
	planeTransform geom.Transform
	rotationType  RotationType
	unsupportedRotation bool

	ring           *surface.Ring
	surfaceSwapped bool
	recycledSurface bool
	refreshNeeded  bool

	compositionRegion []region.CompositionRegion
	reValidate        Revalidation
	usePlaneScalar    bool
	downscaleFactor   float32
}

// NewState creates a PlaneState directly scanning out layer (index
// layerIndex) on p, applying planeTransform as the display rotation
// to request. If p cannot carry out planeTransform itself, rotation
// falls back to the GPU compositor and the plane is put in render
// mode by the caller.
func NewState(p *Plane, layer *overlay.Layer, layerIndex int, planeTransform geom.Transform, planeSupportsTransform bool) *State {
	s := &State{
		Plane:          p,
		sourceLayers:   []int{layerIndex},
		displayFrame:   layer.DisplayFrame,
		sourceCrop:     layer.SourceCrop,
		rectUpdated:    true,
		kind:           StateScanout,
		planeTransform: planeTransform,
	}
	switch {
	case layer.IsCursor:
		s.content = ContentCursor
	case layer.IsVideo:
		s.content = ContentVideo
	}
	p.SetInUse(true)
	if !planeSupportsTransform {
		s.rotationType = RotationGPU
		s.unsupportedRotation = true
	} else {
		s.rotationType = RotationDisplay
	}
	return s
}

// DisplayFrame returns the plane's current on-screen destination
// rectangle, the union of every source layer it is carrying.
func (s *State) DisplayFrame() geom.Rect { return s.displayFrame }

// SourceCrop returns the plane's current source sample rectangle.
func (s *State) SourceCrop() geom.RectF { return s.sourceCrop }

// SourceLayers returns the z-order indices of the layers this plane
// is currently responsible for, in ascending (bottom-to-top) order.
func (s *State) SourceLayers() []int { return s.sourceLayers }

// AddLayer folds layer (index layerIndex) into this plane's region,
// switching it into render mode: once a plane carries more than one
// layer the GPU compositor, not the display, must combine them.
func (s *State) AddLayer(layer *overlay.Layer, layerIndex int) {
	targetFrame := s.displayFrame.Union(layer.DisplayFrame)
	targetCrop := s.sourceCrop.Union(layer.SourceCrop)
	s.sourceLayers = append(s.sourceLayers, layerIndex)
	s.kind = StateRender

	rectUpdated := true
	if len(s.sourceLayers) > 2 && s.displayFrame == targetFrame && s.sourceCrop == targetCrop {
		rectUpdated = false
	} else {
		s.displayFrame = targetFrame
		s.sourceCrop = targetCrop
	}
	if !s.rectUpdated {
		s.rectUpdated = rectUpdated
	}

	if !layer.IsCursor && s.content == ContentCursor {
		// content is settled by the check below: a plane holding more
		// than one layer becomes ContentNormal, so no record of an
		// earlier cursor layer is kept.
	} else if layer.IsCursor {
		s.content = ContentCursor
	}

	if len(s.sourceLayers) == 1 && s.content == ContentCursor {
		// no-op: single cursor layer keeps its content type.
	} else {
		s.content = ContentNormal
	}

	s.reValidate &^= RevalidateScanout
	s.compositionRegion = nil
	s.refreshNeeded = true
}

// ResetLayers rebuilds the plane's source-layer set from layers,
// dropping every index at or above removeIndex.
func (s *State) ResetLayers(layers []overlay.Layer, removeIndex int) {
	hadCursor := s.content == ContentCursor
	var kept []int
	var frame geom.Rect
	var crop geom.RectF
	initialized := false
	hasCursor := false
	hasVideo := false

	for _, idx := range s.sourceLayers {
		if idx >= removeIndex {
			break
		}
		layer := &layers[idx]
		if layer.IsCursor {
			if !hadCursor {
				continue
			}
			hasCursor = true
		} else if !hasVideo {
			hasVideo = layer.IsVideo
		}

		if !initialized {
			frame, crop = layer.DisplayFrame, layer.SourceCrop
			initialized = true
		} else {
			frame = frame.Union(layer.DisplayFrame)
			crop = crop.Union(layer.SourceCrop)
		}
		kept = append(kept, idx)
	}

	s.content = ContentNormal
	if hasCursor {
		s.content = ContentCursor
	}

	if len(kept) == 0 {
		s.sourceLayers = nil
		return
	}

	s.sourceLayers = kept
	rectUpdated := true
	if s.displayFrame == frame && s.sourceCrop == crop {
		rectUpdated = false
	} else {
		s.displayFrame, s.sourceCrop = frame, crop
	}
	if !s.rectUpdated {
		s.rectUpdated = rectUpdated
	}

	if len(kept) == 1 {
		switch {
		case hasCursor:
			s.content = ContentCursor
		case hasVideo:
			s.content = ContentVideo
		default:
			s.content = ContentNormal
		}
		if !hasVideo {
			s.reValidate |= RevalidateScanout
		}
	} else {
		s.content = ContentNormal
	}

	s.compositionRegion = nil
	s.refreshNeeded = true
}

// ForceGPURendering puts the plane into render mode without changing
// its source layers, used when the plane manager decides a direct
// scanout candidate must be composited anyway (e.g. a failed dry-run
// commit).
func (s *State) ForceGPURendering() { s.kind = StateRender }

// DisableGPURendering reverts a plane to direct scanout.
func (s *State) DisableGPURendering() { s.kind = StateScanout }

// NeedsRender reports whether this plane's source layers must be
// composited by the GPU (true) as opposed to scanned out directly
// from a single layer's own buffer (false).
func (s *State) NeedsRender() bool { return s.kind == StateRender }

// IsVideo reports whether this plane's content is a video layer.
func (s *State) IsVideo() bool { return s.content == ContentVideo }

// PlaneTransform returns the display rotation this plane was asked to
// carry out, regardless of whether it ended up falling back to the
// GPU compositor instead.
func (s *State) PlaneTransform() geom.Transform { return s.planeTransform }

// RotationType reports whether the plane's rotation is currently
// being carried out by the display hardware or the GPU compositor.
func (s *State) RotationType() RotationType { return s.rotationType }

// SetRotationType updates how the plane's rotation is carried out,
// used by the plane manager's revalidation pass once it has confirmed
// (or ruled out) hardware support for the current transform.
func (s *State) SetRotationType(t RotationType) { s.rotationType = t }

// UsingPlaneScalar reports whether the plane's own scaling hardware is
// currently being used to magnify its source crop up to its display
// frame, rather than the GPU compositor.
func (s *State) UsingPlaneScalar() bool { return s.usePlaneScalar }

// SetUsePlaneScalar toggles whether the plane's own scalar performs
// the upscale, set by the plane manager's revalidation pass.
func (s *State) SetUsePlaneScalar(v bool) { s.usePlaneScalar = v }

// DownscaleFactor returns the display downscaling factor currently
// applied, or 0 if the plane is not using display downscaling.
func (s *State) DownscaleFactor() float32 { return s.downscaleFactor }

// SetDownscaleFactor updates the display downscaling factor, set by
// the plane manager's revalidation pass.
func (s *State) SetDownscaleFactor(f float32) { s.downscaleFactor = f }

// CanUseDisplayUpscaling reports whether the plane's source crop is
// smaller than its display frame, i.e. the plane's own scalar (rather
// than the GPU) could perform the magnification.
func (s *State) CanUseDisplayUpscaling() bool { return s.canUseDisplayUpscaling() }

// CanUseGPUDownscaling reports whether the plane's source crop is
// larger than its display frame, i.e. the GPU (rather than the
// typically upscale-only display scalar) must perform the
// minification.
func (s *State) CanUseGPUDownscaling() bool { return s.canUseGPUDownscaling() }

// CanSquash reports whether this plane is a candidate for absorbing
// another plane's layers into its own composited region: a direct
// scanout plane or a video plane can't.
func (s *State) CanSquash() bool {
	return s.kind != StateScanout && s.content != ContentVideo
}

// Ring returns the plane's off-screen target ring, allocating one on
// first use.
func (s *State) Ring() *surface.Ring {
	if s.ring == nil {
		s.ring = surface.NewRing()
	}
	return s.ring
}

// SetOffScreenTarget installs t as the newest member of the ring
// (ring position 0), applying the plane's own rotation unless that
// rotation is being carried out by the GPU compositor instead (in
// which case the target is presented without additional rotation).
func (s *State) SetOffScreenTarget(t *surface.Target) {
	rotation := s.planeTransform
	if s.rotationType != RotationDisplay {
		rotation = identityTransform
	}
	t.Transform = rotation
	s.Ring().PushFront(t)

	s.recycledSurface = false
	s.refreshNeeded = true
	s.surfaceSwapped = true
}

// OffScreenTarget returns the ring's current front target, or nil if
// none has been assigned yet.
func (s *State) OffScreenTarget() *surface.Target {
	return s.Ring().Front()
}

// SurfaceRecycled reports whether ReUseOffScreenTarget was called for
// the current frame instead of rotating the ring.
func (s *State) SurfaceRecycled() bool { return s.recycledSurface }

// ReUseOffScreenTarget marks the current front target as reused
// as-is this frame (no swap, no new allocation) — the common case
// when nothing changed since the previous commit.
func (s *State) ReUseOffScreenTarget() { s.recycledSurface = true }

// SwapSurfaceIfNeeded rotates the target ring once per frame: a
// StateRender plane normally swaps exactly once between AddLayer and
// commit, and calling this more than once for the same frame is a
// no-op (guarded by surfaceSwapped, which ResetFrameState clears).
func (s *State) SwapSurfaceIfNeeded() {
	if s.surfaceSwapped {
		return
	}
	s.Ring().Swap()
	s.surfaceSwapped = true
	s.recycledSurface = false
}

// ResetFrameState clears the per-frame swap latch, so the next
// SwapSurfaceIfNeeded rotates the ring again.
func (s *State) ResetFrameState() {
	s.surfaceSwapped = false
}

// RefreshSurfaces propagates the plane's current display frame and
// source crop to every target in its ring and upgrades each target's
// clear requirement to at least clearType, skipping the work
// entirely when nothing changed and force is false.
func (s *State) RefreshSurfaces(clearType surface.ClearType, force bool) {
	if !s.refreshNeeded && !s.rectUpdated && !force {
		return
	}
	for _, t := range s.Ring().Targets() {
		if t == nil {
			continue
		}
		t.Retarget(s.displayFrame, s.sourceCrop, s.displayFrame)
		if t.ClearType < clearType {
			t.ClearType = clearType
		}
	}
	s.refreshNeeded = false
	s.recycledSurface = false
	if s.rectUpdated {
		s.validateRevalidation()
	}
}

// CompositionRegion returns the disjoint regions the GPU compositor
// must draw to fill this plane's off-screen target, computed by the
// compositor via region.SeparateLayers and cached here until the
// source-layer set changes again.
func (s *State) CompositionRegion() []region.CompositionRegion { return s.compositionRegion }

// SetCompositionRegion installs the regions the compositor computed
// for this plane.
func (s *State) SetCompositionRegion(regions []region.CompositionRegion) {
	s.compositionRegion = regions
}

// RevalidationType returns the bitmask of checks the plane manager
// still owes this plane since its geometry last changed.
func (s *State) RevalidationType() Revalidation { return s.reValidate }

// RevalidationDone clears the bits in done from the plane's pending
// revalidation mask.
func (s *State) RevalidationDone(done Revalidation) {
	s.reValidate &^= done
}

// validateRevalidation recomputes which capability checks the plane
// manager must redo after a geometry change: rotation if the plane is
// carrying out a non-identity transform itself, scanout if it has
// dropped back to a single non-video layer, or scalar usage if the
// up/down-scaling decision may have flipped.
func (s *State) validateRevalidation() {
	if !s.rectUpdated {
		return
	}
	if s.planeTransform != identityTransform && !s.unsupportedRotation {
		s.reValidate |= RevalidateRotation
	}

	if len(s.sourceLayers) == 1 && s.content != ContentVideo {
		s.reValidate |= RevalidateScanout
		return
	}

	useScalar := s.canUseDisplayUpscaling()
	if s.usePlaneScalar != useScalar {
		s.reValidate |= RevalidateUpscale
		return
	}
	downscale := s.canUseGPUDownscaling()
	if (s.downscaleFactor > 0) != downscale {
		s.reValidate |= RevalidateDownscale
	}
}

// canUseDisplayUpscaling reports whether the source crop is smaller
// than the display frame, i.e. the plane's own scalar (rather than
// the GPU) can perform the magnification.
func (s *State) canUseDisplayUpscaling() bool {
	cropW := s.sourceCrop.Right - s.sourceCrop.Left
	cropH := s.sourceCrop.Bottom - s.sourceCrop.Top
	return cropW < float32(s.displayFrame.Width()) || cropH < float32(s.displayFrame.Height())
}

// canUseGPUDownscaling reports whether the source crop is larger than
// the display frame, requiring the GPU compositor to minify rather
// than the (typically upscale-only) display scalar.
func (s *State) canUseGPUDownscaling() bool {
	cropW := s.sourceCrop.Right - s.sourceCrop.Left
	cropH := s.sourceCrop.Bottom - s.sourceCrop.Top
	return cropW > float32(s.displayFrame.Width()) || cropH > float32(s.displayFrame.Height())
}

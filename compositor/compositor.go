// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package compositor drives the GPU renderer over the regions a
// render plane is responsible for, decomposing overlapping source
// layers into the disjoint regions the region engine computes.
package compositor

import (
	"errors"

	"hwcompose/geom"
	"hwcompose/overlay"
	"hwcompose/plane"
	"hwcompose/region"
	"hwcompose/render"
	"hwcompose/surface"
)

// ErrNoRenderer is returned by BeginFrame and Draw when the
// Compositor was created without a renderer.
var ErrNoRenderer = errors.New("compositor: renderer not initialized")

// Compositor owns the renderer adapter for one display and composites
// every render-mode plane in a frame's composition list.
type Compositor struct {
	renderer render.Renderer
}

// New creates a Compositor driving frames through r.
func New(r render.Renderer) *Compositor {
	return &Compositor{renderer: r}
}

// BeginFrame starts a new frame on the underlying renderer.
func (c *Compositor) BeginFrame(disableExplicitSync bool) error {
	if c.renderer == nil {
		return ErrNoRenderer
	}
	ok, err := c.renderer.BeginFrame(disableExplicitSync)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("compositor: renderer failed to begin frame")
	}
	return nil
}

// Draw composites every render-mode plane in composition. Planes in
// scanout mode contribute their source layers as "dedicated" (hole
// punches) for the render-mode planes beneath them in z-order, per
// spec.md's dedicated-layer hole-punching rule; a render-mode plane's
// composition regions are computed once and cached on the plane
// state until its source-layer set changes.
func (c *Compositor) Draw(composition []*plane.State, layers []overlay.Layer, frames []geom.Rect) error {
	if c.renderer == nil {
		return ErrNoRenderer
	}

	for i, ps := range composition {
		if !ps.NeedsRender() {
			continue
		}

		regions := ps.CompositionRegion()
		if len(regions) == 0 {
			var dedicated []int
			for _, above := range composition[i+1:] {
				if !above.NeedsRender() {
					dedicated = append(dedicated, above.SourceLayers()...)
				}
			}
			regions = region.SeparateLayers(ps.SourceLayers(), dedicated, frames, nil)
			ps.SetCompositionRegion(regions)
		}
		if len(regions) == 0 {
			continue
		}

		for _, idx := range ps.SourceLayers() {
			if idx < 0 || idx >= len(layers) {
				continue
			}
			layer := &layers[idx]
			if layer.AcquireFence.Valid() {
				c.renderer.InsertFence(layer.AcquireFence)
			}
		}

		target := ps.OffScreenTarget()
		if target == nil {
			return errors.New("compositor: render-mode plane has no off-screen target")
		}
		if err := c.render(layers, target, regions); err != nil {
			return err
		}
	}
	return nil
}

// render issues a single Draw call carrying one RenderState per
// composition region, translating each region's source layers into
// renderer-facing LayerState values.
func (c *Compositor) render(layers []overlay.Layer, target *surface.Target, regions []region.CompositionRegion) error {
	states := make([]render.RenderState, 0, len(regions))
	for _, reg := range regions {
		rs := render.RenderState{Scissor: reg.Rect}
		for _, idx := range reg.SourceLayers {
			if idx < 0 || idx >= len(layers) {
				continue
			}
			layer := &layers[idx]
			crop := layer.SourceCrop
			if layer.Buffer != nil {
				if d := layer.Buffer.Desc(); d.Width > 0 && d.Height > 0 {
					w, h := float32(d.Width), float32(d.Height)
					crop = geom.RectF{Left: crop.Left / w, Top: crop.Top / h, Right: crop.Right / w, Bottom: crop.Bottom / h}
				}
			}
			ls := render.LayerState{
				Buffer:   layer.Buffer,
				Crop:     crop,
				Matrix:   render.MatrixFor(layer.Transform),
				Alpha:    float32(layer.Alpha) / 255,
				Premult:  layer.Blending == overlay.BlendPremult,
				IsSolid:  layer.IsSolidColor,
				SolidColor: layer.SolidColorRGBA,
			}
			rs.Layers = append(rs.Layers, ls)
		}
		if len(rs.Layers) == 0 {
			continue
		}
		states = append(states, rs)
	}

	clear := target.ClearType != surface.ClearNone
	ok, err := c.renderer.Draw(states, target, clear)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("compositor: renderer failed to draw composition regions")
	}
	return nil
}

// Renderer returns the underlying renderer, so the caller can pull a
// sync fd (render.Renderer.SyncFD) for the frame just drawn and
// attach it as the new acquire fence of the targets that were
// composited into.
func (c *Compositor) Renderer() render.Renderer { return c.renderer }

// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package queue sequences one display's frames: it walks the plane
// manager and compositor to build a composition, emits the atomic KMS
// commit for it, and gates the next frame behind the previous one's
// fences.
package queue

import (
	"errors"

	"hwcompose/buffer"
	"hwcompose/compositor"
	"hwcompose/fence"
	"hwcompose/geom"
	"hwcompose/kms"
	"hwcompose/overlay"
	"hwcompose/plane"
	"hwcompose/planemgr"
)

// ErrNoCRTC is returned by Present when the queue was created with
// CRTC id 0.
var ErrNoCRTC = errors.New("queue: no CRTC bound")

// Queue drives one physical or virtual display's presentation
// pipeline: layer validation, GPU composition, and the atomic commit.
type Queue struct {
	mode       kms.ModeClient
	planeMgr   *planemgr.Manager
	compositor *compositor.Compositor
	fbCache    *buffer.FramebufferCache
	fenceWork  *fence.Worker

	crtcID       uint32
	needsModeset bool
	modeBlob     kms.Blob
	color        ColorCorrection

	previousLayers      []overlay.Layer
	previousComposition []*plane.State
	inFlight            []*plane.State
}

// New creates a Queue for the CRTC identified by crtcID.
func New(mode kms.ModeClient, planeMgr *planemgr.Manager, comp *compositor.Compositor, fbCache *buffer.FramebufferCache, worker *fence.Worker, crtcID uint32) *Queue {
	return &Queue{
		mode:       mode,
		planeMgr:   planeMgr,
		compositor: comp,
		fbCache:    fbCache,
		fenceWork:  worker,
		crtcID:     crtcID,
		color:      NewColorCorrection(),
	}
}

// RequestModeset marks that the next Present must include a modeset
// (ALLOW_MODESET), used after SetActiveConfig or reconnect.
func (q *Queue) RequestModeset(modeBlob kms.Blob) {
	q.needsModeset = true
	q.modeBlob = modeBlob
}

// SetGamma schedules a gamma LUT update for the next Present.
func (q *Queue) SetGamma(red, green, blue float32) { q.color.SetGamma(red, green, blue) }

// SetContrast schedules a contrast LUT update for the next Present.
func (q *Queue) SetContrast(red, green, blue uint32) { q.color.SetContrast(red, green, blue) }

// SetBrightness schedules a brightness LUT update for the next
// Present.
func (q *Queue) SetBrightness(red, green, blue uint32) { q.color.SetBrightness(red, green, blue) }

// Present validates layers against the display's planes, composites
// whatever can't be scanned out directly, commits the frame, and
// returns a retire fence the caller can wait on to know the frame has
// been latched.
func (q *Queue) Present(layers []overlay.Layer) (fence.Fence, error) {
	if q.crtcID == 0 {
		return fence.Fence{}, ErrNoCRTC
	}

	layersChanged := len(layers) != len(q.previousLayers)
	for i := range layers {
		if i >= len(q.previousLayers) {
			break
		}
		attrs, content, dims := layers[i].HasChangedFrom(&q.previousLayers[i])
		if attrs || content || dims {
			layersChanged = true
		}
	}

	frames := make([]geom.Rect, len(layers))
	for i := range layers {
		frames[i] = layers[i].DisplayFrame
	}

	var composition []*plane.State
	if layersChanged || q.needsModeset || len(q.previousComposition) == 0 {
		composition = q.planeMgr.ValidateLayers(layers, 0, false, nil)
	} else {
		composition = q.previousComposition
	}

	if err := q.compositor.BeginFrame(false); err != nil {
		return fence.Fence{}, err
	}
	if err := q.compositor.Draw(composition, layers, frames); err != nil {
		return fence.Fence{}, err
	}

	req := &kms.Request{AllowModeset: q.needsModeset}
	if q.needsModeset {
		req.Add(kms.ObjCRTC, q.crtcID, "MODE_ID", uint64(q.modeBlob.ID))
		req.Add(kms.ObjCRTC, q.crtcID, "ACTIVE", 1)
	}
	req.Add(kms.ObjCRTC, q.crtcID, "OUT_FENCE_PTR", 0)

	if err := q.emitPlaneProperties(req, composition, layers); err != nil {
		return fence.Fence{}, err
	}
	if err := q.applyColorCorrection(req); err != nil {
		return fence.Fence{}, err
	}

	if q.fenceWork != nil {
		if err := q.fenceWork.EnsureReadyForNextFrame(); err != nil {
			return fence.Fence{}, err
		}
	}

	result, err := q.mode.Commit(req)
	if err != nil {
		// Recover locally: the next Present must run with a full
		// modeset and revalidate the whole frame from scratch rather
		// than reuse a composition the kernel just rejected.
		q.needsModeset = true
		q.previousComposition = nil
		return fence.Fence{}, err
	}
	q.needsModeset = false

	retire, err := result.OutFence.Dup()
	if err != nil {
		return fence.Fence{}, err
	}

	for i := range layers {
		layers[i].ReleaseFence.Close()
		rf, err := retire.Dup()
		if err != nil {
			return retire, err
		}
		layers[i].ReleaseFence = rf
	}

	if q.fenceWork != nil {
		bufs := collectBuffers(layers)
		if err := q.fenceWork.WaitFence(result.OutFence, bufs); err != nil {
			return retire, err
		}
	}

	q.previousLayers = layers
	q.previousComposition = composition
	q.inFlight = q.inFlight[:0]
	for _, ps := range composition {
		if ps.NeedsRender() {
			q.inFlight = append(q.inFlight, ps)
		}
	}

	return retire, nil
}

// emitPlaneProperties appends the per-plane atomic property sets for
// composition's current assignment: a render-mode plane scans out its
// off-screen target, everything else scans out its single source
// layer's own buffer directly.
func (q *Queue) emitPlaneProperties(req *kms.Request, composition []*plane.State, layers []overlay.Layer) error {
	for _, ps := range composition {
		p := ps.Plane
		if ps.NeedsRender() {
			target := ps.OffScreenTarget()
			if target == nil || target.Buffer == nil {
				continue
			}
			fb, err := q.fbCache.Get(target.Buffer)
			if err != nil {
				return err
			}
			outFence := fence.Fence{}
			if q.compositor.Renderer() != nil {
				f, err := q.compositor.Renderer().SyncFD()
				if err != nil {
					return err
				}
				outFence = f
			}
			syntheticLayer := overlay.Layer{
				DisplayFrame:   ps.DisplayFrame(),
				SourceCrop:     ps.SourceCrop(),
				PlaneTransform: target.Transform,
				Alpha:          255,
			}
			p.UpdateProperties(req, q.crtcID, &syntheticLayer, target.Buffer, fb, outFence)
			continue
		}

		layerIdx := ps.SourceLayers()[0]
		if layerIdx < 0 || layerIdx >= len(layers) {
			continue
		}
		layer := &layers[layerIdx]
		if layer.Buffer == nil {
			continue
		}
		fb, err := q.fbCache.Get(layer.Buffer)
		if err != nil {
			return err
		}
		p.UpdateProperties(req, q.crtcID, layer, layer.Buffer, fb, layer.AcquireFence)
	}
	return nil
}

// applyColorCorrection uploads a fresh GAMMA_LUT blob when the
// display's color correction settings have changed since the last
// frame.
func (q *Queue) applyColorCorrection(req *kms.Request) error {
	if !q.color.Dirty() {
		return nil
	}
	if q.color.IsIdentity() {
		req.Add(kms.ObjCRTC, q.crtcID, "GAMMA_LUT", 0)
		q.color.ClearDirty()
		return nil
	}
	lut := q.color.Build()
	blob, err := q.mode.CreateBlob(lut.Bytes())
	if err != nil {
		return err
	}
	req.Add(kms.ObjCRTC, q.crtcID, "GAMMA_LUT", uint64(blob.ID))
	q.color.ClearDirty()
	return nil
}

func collectBuffers(layers []overlay.Layer) []*buffer.Handle {
	var out []*buffer.Handle
	for i := range layers {
		if layers[i].Buffer != nil {
			out = append(out, layers[i].Buffer)
		}
	}
	return out
}

// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package plane models a single hardware overlay plane: its
// capability set, and the translation of an OverlayLayer's geometry
// and a render plane's surface into the KMS atomic properties that
// scan it out.
package plane

import (
	"hwcompose/buffer"
	"hwcompose/fence"
	"hwcompose/geom"
	"hwcompose/kms"
	"hwcompose/overlay"
)

// Type is the DRM plane type.
type Type int

// Plane types, ordered the way the kernel enumerates them.
const (
	TypeOverlay Type = iota
	TypePrimary
	TypeCursor
)

// Plane is one hardware overlay plane belonging to a CRTC.
type Plane struct {
	ID               uint32
	PossibleCRTCMask uint32
	PlaneType        Type

	SupportedFormats     []buffer.FourCC
	SupportedModifiers   map[buffer.FourCC][]buffer.Modifier
	PreferredFormat      buffer.FourCC
	PreferredVideoFormat buffer.FourCC
	PreferredModifier    buffer.Modifier

	Caps kms.PlaneCaps

	inUse             bool
	lastValidFormat   buffer.FourCC
	lastValidFormatOK bool
}

// SupportsCRTC reports whether this plane can be bound to the CRTC
// driving pipe.
func (p *Plane) SupportsCRTC(pipe uint32) bool {
	return p.PossibleCRTCMask&(1<<pipe) != 0
}

// InUse reports whether a render plane currently owns this plane.
func (p *Plane) InUse() bool { return p.inUse }

// SetInUse marks the plane as claimed or released by a render plane.
func (p *Plane) SetInUse(v bool) { p.inUse = v }

// IsSupportedFormat reports whether format can be scanned out by this
// plane, caching the last positive match the way the driver does to
// avoid a slice scan on the common path of repeated frames of the
// same layer.
func (p *Plane) IsSupportedFormat(format buffer.FourCC) bool {
	if p.lastValidFormatOK && p.lastValidFormat == format {
		return true
	}
	for _, f := range p.SupportedFormats {
		if f == format {
			p.lastValidFormat = format
			p.lastValidFormatOK = true
			return true
		}
	}
	return false
}

// FormatForFrameBuffer returns the format to allocate the scanout
// buffer with. Primary planes fall back from an alpha format to its
// opaque counterpart when the alpha variant isn't directly supported,
// since the primary plane never blends against anything beneath it.
func (p *Plane) FormatForFrameBuffer(format buffer.FourCC) buffer.FourCC {
	if p.IsSupportedFormat(format) {
		return format
	}
	if p.PlaneType == TypePrimary {
		switch format {
		case fourccABGR8888:
			return fourccXBGR8888
		case fourccARGB8888:
			return fourccXRGB8888
		}
	}
	return format
}

// Well-known little-endian DRM FourCC codes used only for the
// primary-plane alpha-to-opaque fallback above.
const (
	fourccXRGB8888 buffer.FourCC = 0x34325258
	fourccARGB8888 buffer.FourCC = 0x34325241
	fourccXBGR8888 buffer.FourCC = 0x34324258
	fourccABGR8888 buffer.FourCC = 0x34324241
)

// ValidateLayer reports whether this plane can scan layer out
// directly, given its current capability set: alpha blending on an
// overlay plane needs the alpha property unless it's opaque,
// non-identity rotation needs
// the rotation property, and the buffer format must be supported.
func (p *Plane) ValidateLayer(layer *overlay.Layer) bool {
	alpha := uint8(0xFF)
	if layer.Blending == overlay.BlendPremult {
		alpha = layer.Alpha
	}

	if p.PlaneType == TypeOverlay && alpha != 0 && alpha != 0xFF && !p.Caps.HasAlphaProp {
		return false
	}
	if layer.PlaneTransform != geom.TransformNone && !p.Caps.HasRotationProp {
		return false
	}
	if layer.Buffer != nil && !p.IsSupportedFormat(layer.Buffer.Desc().Format) {
		return false
	}
	return true
}

// UpdateProperties appends the atomic property sets needed to scan
// buf out on this plane with layer's geometry to req, against the
// CRTC identified by crtcID.
func (p *Plane) UpdateProperties(req *kms.Request, crtcID uint32, layer *overlay.Layer, buf *buffer.Handle, fb buffer.Framebuffer, out fence.Fence) {
	req.Add(kms.ObjPlane, p.ID, "CRTC_ID", uint64(crtcID))
	req.Add(kms.ObjPlane, p.ID, "FB_ID", uint64(fb.ID))
	req.Add(kms.ObjPlane, p.ID, "CRTC_X", uint64(int64(layer.DisplayFrame.Left)))
	req.Add(kms.ObjPlane, p.ID, "CRTC_Y", uint64(int64(layer.DisplayFrame.Top)))

	if layer.IsCursor {
		d := buf.Desc()
		req.Add(kms.ObjPlane, p.ID, "CRTC_W", uint64(d.Width))
		req.Add(kms.ObjPlane, p.ID, "CRTC_H", uint64(d.Height))
		req.Add(kms.ObjPlane, p.ID, "SRC_W", uint64(geom.Fixed16(float32(d.Width))))
		req.Add(kms.ObjPlane, p.ID, "SRC_H", uint64(geom.Fixed16(float32(d.Height))))
	} else {
		req.Add(kms.ObjPlane, p.ID, "CRTC_W", uint64(layer.DisplayFrame.Width()))
		req.Add(kms.ObjPlane, p.ID, "CRTC_H", uint64(layer.DisplayFrame.Height()))
		req.Add(kms.ObjPlane, p.ID, "SRC_W", uint64(geom.Fixed16(layer.SourceCrop.Right-layer.SourceCrop.Left)))
		req.Add(kms.ObjPlane, p.ID, "SRC_H", uint64(geom.Fixed16(layer.SourceCrop.Bottom-layer.SourceCrop.Top)))
	}

	req.Add(kms.ObjPlane, p.ID, "SRC_X", uint64(geom.Fixed16(layer.SourceCrop.Left)))
	req.Add(kms.ObjPlane, p.ID, "SRC_Y", uint64(geom.Fixed16(layer.SourceCrop.Top)))

	if p.Caps.HasRotationProp {
		req.Add(kms.ObjPlane, p.ID, "rotation", uint64(layer.PlaneTransform))
	}

	if p.Caps.HasAlphaProp {
		alpha := uint64(0xFF)
		if layer.Blending == overlay.BlendPremult {
			alpha = uint64(layer.Alpha)
		}
		req.Add(kms.ObjPlane, p.ID, "alpha", alpha)
	}

	if p.Caps.HasInFenceProp && out.Valid() {
		req.Add(kms.ObjPlane, p.ID, "IN_FENCE_FD", uint64(out.FD()))
	}
}

// Disable appends the property sets that turn this plane off: an
// unset CRTC_ID and FB_ID scan out nothing.
func (p *Plane) Disable(req *kms.Request) {
	p.inUse = false
	req.Add(kms.ObjPlane, p.ID, "CRTC_ID", 0)
	req.Add(kms.ObjPlane, p.ID, "FB_ID", 0)
}

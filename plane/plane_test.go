package plane

import (
	"testing"

	"hwcompose/buffer"
	"hwcompose/fence"
	"hwcompose/geom"
	"hwcompose/kms"
	"hwcompose/overlay"
)

func mustLayer(t *testing.T, idx int, buf *buffer.Handle, crop geom.RectF, frame geom.Rect, w, h int) overlay.Layer {
	t.Helper()
	l, err := overlay.New(idx, buf, crop, frame, w, h)
	if err != nil {
		t.Fatalf("overlay.New: %v", err)
	}
	return l
}

func TestValidateLayerRejectsUnsupportedFormat(t *testing.T) {
	p := &Plane{SupportedFormats: []buffer.FourCC{fourccXRGB8888}}
	buf := buffer.Wrap(nil, buffer.Desc{Width: 64, Height: 64, Format: fourccARGB8888})
	l := mustLayer(t, 0, buf, geom.RectF{Right: 64, Bottom: 64}, geom.Rect{Right: 64, Bottom: 64}, 64, 64)
	if p.ValidateLayer(&l) {
		t.Fatal("expected ValidateLayer to reject an unsupported format")
	}
}

func TestValidateLayerRejectsRotationWithoutProperty(t *testing.T) {
	p := &Plane{SupportedFormats: []buffer.FourCC{fourccXRGB8888}}
	buf := buffer.Wrap(nil, buffer.Desc{Width: 64, Height: 64, Format: fourccXRGB8888})
	l := mustLayer(t, 0, buf, geom.RectF{Right: 64, Bottom: 64}, geom.Rect{Right: 64, Bottom: 64}, 64, 64)
	l.PlaneTransform = geom.TransformRot90
	if p.ValidateLayer(&l) {
		t.Fatal("expected ValidateLayer to reject rotation when rotation property is absent")
	}
}

func TestFormatForFrameBufferFallsBackOnPrimary(t *testing.T) {
	p := &Plane{PlaneType: TypePrimary, SupportedFormats: []buffer.FourCC{fourccXRGB8888}}
	got := p.FormatForFrameBuffer(fourccARGB8888)
	if got != fourccXRGB8888 {
		t.Fatalf("FormatForFrameBuffer = %#x, want XRGB8888 fallback", got)
	}
}

func TestFormatForFrameBufferNoFallbackOnOverlay(t *testing.T) {
	p := &Plane{PlaneType: TypeOverlay, SupportedFormats: []buffer.FourCC{fourccXRGB8888}}
	got := p.FormatForFrameBuffer(fourccARGB8888)
	if got != fourccARGB8888 {
		t.Fatalf("FormatForFrameBuffer = %#x, want unchanged (no fallback off primary)", got)
	}
}

func TestUpdatePropertiesCursorUsesBufferDimensions(t *testing.T) {
	p := &Plane{ID: 7, Caps: kms.PlaneCaps{HasAlphaProp: true, HasRotationProp: true}}
	buf := buffer.Wrap(nil, buffer.Desc{Width: 32, Height: 32, Format: fourccARGB8888})
	l := mustLayer(t, 0, buf, geom.RectF{Right: 32, Bottom: 32}, geom.Rect{Left: 10, Top: 10, Right: 20, Bottom: 20}, 32, 32)
	l.IsCursor = true

	var req kms.Request
	p.UpdateProperties(&req, 3, &l, buf, buffer.Framebuffer{ID: 9}, fence.Fence{})

	want := map[string]uint64{"CRTC_W": 32, "CRTC_H": 32}
	for _, ps := range req.Props {
		if v, ok := want[ps.Name]; ok && ps.Value != v {
			t.Errorf("%s = %d, want %d", ps.Name, ps.Value, v)
		}
	}
}

func TestUpdatePropertiesNonCursorUsesDisplayFrame(t *testing.T) {
	p := &Plane{ID: 7}
	buf := buffer.Wrap(nil, buffer.Desc{Width: 1920, Height: 1080, Format: fourccXRGB8888})
	l := mustLayer(t, 0, buf, geom.RectF{Right: 1920, Bottom: 1080}, geom.Rect{Left: 0, Top: 0, Right: 800, Bottom: 600}, 1920, 1080)

	var req kms.Request
	p.UpdateProperties(&req, 3, &l, buf, buffer.Framebuffer{ID: 9}, fence.Fence{})

	for _, ps := range req.Props {
		switch ps.Name {
		case "CRTC_W":
			if ps.Value != 800 {
				t.Errorf("CRTC_W = %d, want 800", ps.Value)
			}
		case "CRTC_H":
			if ps.Value != 600 {
				t.Errorf("CRTC_H = %d, want 600", ps.Value)
			}
		}
	}
}

func TestUpdatePropertiesOmitsAbsentCaps(t *testing.T) {
	p := &Plane{ID: 1}
	buf := buffer.Wrap(nil, buffer.Desc{Width: 64, Height: 64, Format: fourccXRGB8888})
	l := mustLayer(t, 0, buf, geom.RectF{Right: 64, Bottom: 64}, geom.Rect{Right: 64, Bottom: 64}, 64, 64)

	var req kms.Request
	p.UpdateProperties(&req, 1, &l, buf, buffer.Framebuffer{ID: 1}, fence.Fence{})

	for _, ps := range req.Props {
		if ps.Name == "rotation" || ps.Name == "alpha" || ps.Name == "IN_FENCE_FD" {
			t.Errorf("unexpected property %s emitted with no matching capability", ps.Name)
		}
	}
}

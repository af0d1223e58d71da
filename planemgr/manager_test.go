package planemgr

import (
	"testing"

	"errors"

	"hwcompose/buffer"
	"hwcompose/geom"
	"hwcompose/kms"
	kmsnull "hwcompose/kms/null"
	"hwcompose/overlay"
	"hwcompose/plane"
)

var errTestCommitRejected = errors.New("commit rejected")

func testLayer(t *testing.T, idx int, frame geom.Rect) overlay.Layer {
	t.Helper()
	buf := buffer.Wrap(nil, buffer.Desc{Width: 1920, Height: 1080, Format: 0x34325258})
	l, err := overlay.New(idx, buf, geom.RectF{Right: float32(frame.Width()), Bottom: float32(frame.Height())}, frame, 1920, 1080)
	if err != nil {
		t.Fatalf("overlay.New: %v", err)
	}
	return l
}

func testPlanes(n int) []*plane.Plane {
	caps := kms.PlaneCaps{HasRotationProp: true, HasAlphaProp: true, HasInFenceProp: true}
	ps := make([]*plane.Plane, n)
	for i := range ps {
		ps[i] = &plane.Plane{ID: uint32(i), SupportedFormats: []buffer.FourCC{0x34325258}, Caps: caps}
	}
	return ps
}

func TestValidateLayersOneLayerPerPlane(t *testing.T) {
	client := kmsnull.New()
	planes := testPlanes(3)
	mgr := New(client, planes, nil)

	layers := []overlay.Layer{
		testLayer(t, 0, geom.Rect{Right: 100, Bottom: 100}),
		testLayer(t, 1, geom.Rect{Left: 200, Right: 300, Bottom: 100}),
	}
	comp := mgr.ValidateLayers(layers, 0, false, nil)
	if len(comp) != 2 {
		t.Fatalf("len(composition) = %d, want 2 (one plane per layer)", len(comp))
	}
	for i, s := range comp {
		if len(s.SourceLayers()) != 1 || s.SourceLayers()[0] != i {
			t.Errorf("plane %d source layers = %v, want [%d]", i, s.SourceLayers(), i)
		}
	}
}

func TestValidateLayersSquashesWhenPlanesExhausted(t *testing.T) {
	client := kmsnull.New()
	planes := testPlanes(2)
	mgr := New(client, planes, nil)

	layers := []overlay.Layer{
		testLayer(t, 0, geom.Rect{Right: 100, Bottom: 100}),
		testLayer(t, 1, geom.Rect{Left: 100, Right: 200, Bottom: 100}),
		testLayer(t, 2, geom.Rect{Left: 200, Right: 300, Bottom: 100}),
	}
	comp := mgr.ValidateLayers(layers, 0, false, nil)
	if len(comp) != 2 {
		t.Fatalf("len(composition) = %d, want 2 planes for 3 layers with only 2 planes", len(comp))
	}
	last := comp[len(comp)-1]
	if len(last.SourceLayers()) != 2 {
		t.Fatalf("last plane source layers = %v, want the final two layers squashed together", last.SourceLayers())
	}
}

func TestValidateLayersSquashSkipsVideoPlane(t *testing.T) {
	client := kmsnull.New()
	planes := testPlanes(2)
	mgr := New(client, planes, nil)

	video := testLayer(t, 1, geom.Rect{Left: 100, Right: 200, Bottom: 100})
	video.IsVideo = true

	layers := []overlay.Layer{
		testLayer(t, 0, geom.Rect{Right: 100, Bottom: 100}),
		video,
		testLayer(t, 2, geom.Rect{Left: 200, Right: 300, Bottom: 100}),
	}
	comp := mgr.ValidateLayers(layers, 0, false, nil)
	if len(comp) != 2 {
		t.Fatalf("len(composition) = %d, want 2 planes for 3 layers with only 2 planes", len(comp))
	}
	if !comp[1].IsVideo() {
		t.Fatalf("plane 1 should keep hosting the video layer")
	}
	if got := comp[1].SourceLayers(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("video plane source layers = %v, want only the video layer", got)
	}
	if got := comp[0].SourceLayers(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("non-video plane source layers = %v, want the overflow layer squashed in instead of the video plane", got)
	}
}

func TestValidateLayersForcesGPUWithSinglePlane(t *testing.T) {
	client := kmsnull.New()
	planes := testPlanes(1)
	mgr := New(client, planes, nil)

	layers := []overlay.Layer{
		testLayer(t, 0, geom.Rect{Right: 100, Bottom: 100}),
		testLayer(t, 1, geom.Rect{Left: 100, Right: 200, Bottom: 100}),
	}
	comp := mgr.ValidateLayers(layers, 0, false, nil)
	if len(comp) != 1 {
		t.Fatalf("len(composition) = %d, want 1 (single plane forces full GPU composition)", len(comp))
	}
	if len(comp[0].SourceLayers()) != 2 {
		t.Fatalf("source layers = %v, want both layers on the one plane", comp[0].SourceLayers())
	}
}

func TestFallbackToGPUAlwaysTrueForSolidColor(t *testing.T) {
	client := kmsnull.New()
	planes := testPlanes(2)
	mgr := New(client, planes, nil)

	l := testLayer(t, 0, geom.Rect{Right: 100, Bottom: 100})
	l.IsSolidColor = true
	if !mgr.fallbackToGPU(planes[0], &l, nil) {
		t.Fatal("expected a solid-color layer to always fall back to GPU composition")
	}
}

func TestFallbackToGPUIgnoresFailCommitForDryRun(t *testing.T) {
	client := kmsnull.New()
	client.FailCommit = errTestCommitRejected
	planes := testPlanes(2)
	mgr := New(client, planes, nil)

	l := testLayer(t, 0, geom.Rect{Right: 100, Bottom: 100})
	// TestOnly commits never fail in the null client (it only honors
	// FailCommit for non-test commits), so this should still scan out.
	if mgr.fallbackToGPU(planes[0], &l, nil) {
		t.Fatal("expected the dry-run test commit to succeed regardless of FailCommit")
	}
}

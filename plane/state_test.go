package plane

import (
	"testing"

	"hwcompose/buffer"
	"hwcompose/geom"
	"hwcompose/overlay"
	"hwcompose/surface"
)

func newTestLayer(t *testing.T, idx int, frame geom.Rect) overlay.Layer {
	t.Helper()
	buf := buffer.Wrap(nil, buffer.Desc{Width: 1920, Height: 1080, Format: fourccXRGB8888})
	l, err := overlay.New(idx, buf, geom.RectF{Right: float32(frame.Width()), Bottom: float32(frame.Height())}, frame, 1920, 1080)
	if err != nil {
		t.Fatalf("overlay.New: %v", err)
	}
	return l
}

func TestNewStateStartsInScanout(t *testing.T) {
	p := &Plane{}
	l := newTestLayer(t, 0, geom.Rect{Right: 100, Bottom: 100})
	s := NewState(p, &l, 0, geom.TransformNone, true)
	if s.kind != StateScanout {
		t.Fatalf("kind = %v, want StateScanout", s.kind)
	}
	if !p.InUse() {
		t.Fatal("expected plane to be marked in-use")
	}
	if s.CanSquash() {
		t.Fatal("a fresh scanout state should not be squashable until forced into render mode")
	}
}

func TestNewStateFallsBackToGPURotation(t *testing.T) {
	p := &Plane{}
	l := newTestLayer(t, 0, geom.Rect{Right: 100, Bottom: 100})
	s := NewState(p, &l, 0, geom.TransformRot90, false)
	if s.rotationType != RotationGPU {
		t.Fatalf("rotationType = %v, want RotationGPU when plane can't carry the transform", s.rotationType)
	}
}

func TestAddLayerSwitchesToRenderAndUnionsFrame(t *testing.T) {
	p := &Plane{}
	l0 := newTestLayer(t, 0, geom.Rect{Left: 0, Top: 0, Right: 100, Bottom: 100})
	s := NewState(p, &l0, 0, geom.TransformNone, true)

	l1 := newTestLayer(t, 1, geom.Rect{Left: 50, Top: 50, Right: 200, Bottom: 200})
	s.AddLayer(&l1, 1)

	if s.kind != StateRender {
		t.Fatalf("kind = %v, want StateRender after AddLayer", s.kind)
	}
	want := geom.Rect{Left: 0, Top: 0, Right: 200, Bottom: 200}
	if s.DisplayFrame() != want {
		t.Fatalf("DisplayFrame = %+v, want %+v", s.DisplayFrame(), want)
	}
	if len(s.SourceLayers()) != 2 {
		t.Fatalf("SourceLayers = %v, want 2 entries", s.SourceLayers())
	}
	if !s.CanSquash() {
		t.Fatal("a render-mode non-video state should still be squashable")
	}
}

func TestCanSquashFalseForVideo(t *testing.T) {
	p := &Plane{}
	l := newTestLayer(t, 0, geom.Rect{Right: 100, Bottom: 100})
	l.IsVideo = true
	s := NewState(p, &l, 0, geom.TransformNone, true)
	s.content = ContentVideo
	if s.CanSquash() {
		t.Fatal("a video plane state must never be squashable")
	}
}

func TestResetLayersDropsAtAndAboveRemoveIndex(t *testing.T) {
	p := &Plane{}
	l0 := newTestLayer(t, 0, geom.Rect{Left: 0, Top: 0, Right: 100, Bottom: 100})
	s := NewState(p, &l0, 0, geom.TransformNone, true)
	l1 := newTestLayer(t, 1, geom.Rect{Left: 0, Top: 0, Right: 300, Bottom: 300})
	s.AddLayer(&l1, 1)
	l2 := newTestLayer(t, 2, geom.Rect{Left: 0, Top: 0, Right: 500, Bottom: 500})
	s.AddLayer(&l2, 2)

	layers := []overlay.Layer{l0, l1, l2}
	s.ResetLayers(layers, 2)

	if len(s.SourceLayers()) != 2 {
		t.Fatalf("SourceLayers after reset = %v, want [0 1]", s.SourceLayers())
	}
	for _, idx := range s.SourceLayers() {
		if idx >= 2 {
			t.Fatalf("ResetLayers kept index %d, which is >= removeIndex 2", idx)
		}
	}
}

func TestSwapSurfaceIfNeededIsOncePerFrame(t *testing.T) {
	p := &Plane{}
	l := newTestLayer(t, 0, geom.Rect{Right: 100, Bottom: 100})
	s := NewState(p, &l, 0, geom.TransformNone, true)

	s.SetOffScreenTarget(&surface.Target{Age: surface.AgeFront})
	s.SetOffScreenTarget(&surface.Target{Age: surface.Age1})
	s.SetOffScreenTarget(&surface.Target{Age: surface.Age2})

	s.ResetFrameState()
	s.SwapSurfaceIfNeeded()
	front := s.OffScreenTarget()
	s.SwapSurfaceIfNeeded() // second call same frame must be a no-op
	if s.OffScreenTarget() != front {
		t.Fatal("SwapSurfaceIfNeeded rotated the ring a second time within the same frame")
	}
}

func TestRevalidationDoneClearsOnlyRequestedBits(t *testing.T) {
	p := &Plane{}
	l := newTestLayer(t, 0, geom.Rect{Right: 100, Bottom: 100})
	s := NewState(p, &l, 0, geom.TransformNone, true)
	s.reValidate = RevalidateRotation | RevalidateScanout

	s.RevalidationDone(RevalidateScanout)

	if s.RevalidationType()&RevalidateScanout != 0 {
		t.Fatal("RevalidateScanout bit should have been cleared")
	}
	if s.RevalidationType()&RevalidateRotation == 0 {
		t.Fatal("RevalidateRotation bit should not have been touched")
	}
}

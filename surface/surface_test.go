package surface

import (
	"testing"

	"hwcompose/buffer"
	"hwcompose/geom"
)

type fakeHandler struct {
	created   int
	destroyed int
	rejectMod buffer.Modifier
}

func (h *fakeHandler) Create(desc buffer.Desc) (*buffer.Handle, error) {
	if h.rejectMod != 0 && desc.Modifier == h.rejectMod {
		return nil, buffer.ErrModifierRejected
	}
	h.created++
	return buffer.Wrap(h.created, desc), nil
}
func (h *fakeHandler) Import(native any) (*buffer.Handle, error) { return nil, nil }
func (h *fakeHandler) CreateFrameBuffer(b *buffer.Handle) (buffer.Framebuffer, error) {
	return buffer.Framebuffer{ID: 1}, nil
}
func (h *fakeHandler) DestroyFrameBuffer(buffer.Framebuffer) error { return nil }
func (h *fakeHandler) Destroy(b *buffer.Handle) error {
	h.destroyed++
	return nil
}

func TestRingSwapAges(t *testing.T) {
	r := NewRing()
	for i := 0; i < 3; i++ {
		r.Add(&Target{Age: Age(i)})
	}
	r.Swap()
	ages := map[Age]bool{}
	for _, t := range r.Targets() {
		if ages[t.Age] {
			panic("duplicate age")
		}
		ages[t.Age] = true
	}
	if r.Front().Age != AgeFront {
		t.Fatalf("front age = %v, want AgeFront", r.Front().Age)
	}
	if len(ages) != 3 {
		t.Fatalf("expected 3 distinct ages, got %d", len(ages))
	}
}

func TestPoolRecyclesMatchingFreeSurface(t *testing.T) {
	h := &fakeHandler{}
	p := NewPool(h)
	frame := geom.Rect{Left: 0, Top: 0, Right: 100, Bottom: 100}
	crop := geom.RectF{Left: 0, Top: 0, Right: 100, Bottom: 100}

	t1, err := p.Acquire(100, 100, 0x34325258, buffer.ModNone, false, frame, crop, frame)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(t1)
	if h.created != 1 {
		t.Fatalf("created = %d, want 1", h.created)
	}

	t2, err := p.Acquire(100, 100, 0x34325258, buffer.ModNone, false, frame, crop, frame)
	if err != nil {
		t.Fatal(err)
	}
	if t2 != t1 {
		t.Fatal("expected the free surface to be recycled, got a new allocation")
	}
	if h.created != 1 {
		t.Fatalf("created = %d, want 1 (no new allocation)", h.created)
	}
	if t2.Age != AgeFront {
		t.Fatalf("recycled surface age = %v, want AgeFront", t2.Age)
	}
}

func TestPoolFallsBackToModNoneOnRejection(t *testing.T) {
	h := &fakeHandler{rejectMod: 7}
	p := NewPool(h)
	frame := geom.Rect{Left: 0, Top: 0, Right: 10, Bottom: 10}
	crop := geom.RectF{Left: 0, Top: 0, Right: 10, Bottom: 10}

	tgt, err := p.Acquire(10, 10, 1, 7, false, frame, crop, frame)
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Modifier != buffer.ModNone {
		t.Fatalf("modifier = %v, want ModNone after blacklist fallback", tgt.Modifier)
	}
	if !p.blacklistedModifier {
		t.Fatal("expected modifier to be blacklisted")
	}
}

func TestReleaseFreeDestroysUnusedSurfaces(t *testing.T) {
	h := &fakeHandler{}
	p := NewPool(h)
	frame := geom.Rect{Left: 0, Top: 0, Right: 10, Bottom: 10}
	crop := geom.RectF{Left: 0, Top: 0, Right: 10, Bottom: 10}
	tgt, _ := p.Acquire(10, 10, 1, buffer.ModNone, false, frame, crop, frame)
	p.Release(tgt)
	p.ReleaseFree()
	if h.destroyed != 1 {
		t.Fatalf("destroyed = %d, want 1", h.destroyed)
	}
	if len(p.free) != 0 {
		t.Fatalf("pool still holds %d free surfaces", len(p.free))
	}
}

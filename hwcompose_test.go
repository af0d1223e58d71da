package hwcompose

import (
	"testing"

	"hwcompose/buffer"
	"hwcompose/geom"
	kmsnull "hwcompose/kms/null"
	"hwcompose/overlay"
	"hwcompose/plane"
	"hwcompose/render"
	rendernull "hwcompose/render/null"
)

type fakeHandler struct{}

func (fakeHandler) Create(buffer.Desc) (*buffer.Handle, error) { return nil, nil }
func (fakeHandler) Import(any) (*buffer.Handle, error)         { return nil, nil }
func (fakeHandler) CreateFrameBuffer(h *buffer.Handle) (buffer.Framebuffer, error) {
	return buffer.Framebuffer{ID: 1}, nil
}
func (fakeHandler) DestroyFrameBuffer(buffer.Framebuffer) error { return nil }
func (fakeHandler) Destroy(*buffer.Handle) error                { return nil }

func testLayer(t *testing.T, frame geom.Rect) overlay.Layer {
	t.Helper()
	buf := buffer.Wrap(nil, buffer.Desc{Width: 200, Height: 200, Format: 1})
	l, err := overlay.New(0, buf, geom.RectF{Right: float32(frame.Width()), Bottom: float32(frame.Height())}, frame, 200, 200)
	if err != nil {
		t.Fatalf("overlay.New: %v", err)
	}
	return l
}

func TestInitializeBuildsOneDisplayPerConnector(t *testing.T) {
	client := kmsnull.New()
	conn := Connector{
		DisplayID:   1,
		CRTCID:      10,
		ConnectorID: 20,
		Width:       1920,
		Height:      1080,
		OverlayPlanes: []*plane.Plane{
			{ID: 30, SupportedFormats: []buffer.FourCC{1}, Caps: client.Caps},
		},
	}

	c, err := Initialize(client, fakeHandler{}, func() render.Renderer { return rendernull.New() }, []Connector{conn})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	displays := c.GetDisplays()
	if len(displays) != 1 {
		t.Fatalf("len(displays) = %d, want 1", len(displays))
	}
	if displays[0].ID() != 1 {
		t.Fatalf("display ID = %d, want 1", displays[0].ID())
	}
}

func TestPresentOnUnknownDisplayIsUnknownDisplayError(t *testing.T) {
	client := kmsnull.New()
	c, err := Initialize(client, fakeHandler{}, func() render.Renderer { return rendernull.New() }, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := c.Present(99, nil); err == nil {
		t.Fatal("expected an error presenting to an unknown display")
	}
}

func TestVirtualDisplayPresentsViaGPUFallback(t *testing.T) {
	client := kmsnull.New()
	c, err := Initialize(client, fakeHandler{}, func() render.Renderer { return rendernull.New() }, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	d, err := c.CreateVirtualDisplay(800, 600)
	if err != nil {
		t.Fatalf("CreateVirtualDisplay: %v", err)
	}

	layers := []overlay.Layer{testLayer(t, geom.Rect{Right: 800, Bottom: 600})}
	if _, err := c.Present(d.ID(), layers); err != nil {
		t.Fatalf("Present: %v", err)
	}
}

func TestConnectedDisplayScansOutDirectlyOnASupportedPlane(t *testing.T) {
	client := kmsnull.New()
	conn := Connector{
		DisplayID:   1,
		CRTCID:      10,
		ConnectorID: 20,
		Width:       1920,
		Height:      1080,
		OverlayPlanes: []*plane.Plane{
			{ID: 30, SupportedFormats: []buffer.FourCC{1}, Caps: client.Caps},
		},
	}
	c, err := Initialize(client, fakeHandler{}, func() render.Renderer { return rendernull.New() }, []Connector{conn})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	d, err := c.Display(1)
	if err != nil {
		t.Fatalf("Display: %v", err)
	}
	if err := d.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	layers := []overlay.Layer{testLayer(t, geom.Rect{Right: 1920, Bottom: 1080})}
	if _, err := c.Present(1, layers); err != nil {
		t.Fatalf("Present: %v", err)
	}
}

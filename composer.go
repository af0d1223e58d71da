// Copyright 2024 The hwcompose Authors. All rights reserved.

package hwcompose

import (
	"errors"
	"fmt"
	"sync"

	"hwcompose/buffer"
	"hwcompose/compositor"
	"hwcompose/config"
	"hwcompose/display"
	"hwcompose/fence"
	"hwcompose/kms"
	kmsnull "hwcompose/kms/null"
	"hwcompose/overlay"
	"hwcompose/plane"
	"hwcompose/planemgr"
	"hwcompose/queue"
	"hwcompose/render"
	rendernull "hwcompose/render/null"
)

// fbCacheSize bounds the number of live framebuffer objects a single
// display keeps around; the same budget the original composer's
// implicit per-frame reuse map aims for.
const fbCacheSize = 32

// Connector describes one KMS connector discovered by the caller's
// enumeration of the mode client — the composer does not itself walk
// libdrm's resource lists, since that enumeration is the same external
// collaborator boundary as ModeClient and buffer.Handler.
type Connector struct {
	DisplayID      uint32
	Pipe           uint32
	CRTCID         uint32
	ConnectorID    uint32
	Width, Height  int
	DPIX, DPIY     int
	RefreshMilliHz int

	OverlayPlanes []*plane.Plane
	CursorPlane   *plane.Plane
}

// Composer owns every display's pipeline and is the module's single
// entry point.
type Composer struct {
	mu       sync.Mutex
	mode     kms.ModeClient
	handler  buffer.Handler
	displays map[uint32]*display.Display
	nextID   uint32
}

// ErrUnknownDisplay is returned by Display when id names no display
// the composer owns.
var ErrUnknownDisplay = errors.New("hwcompose: unknown display id")

// Initialize builds a Composer over the connectors the caller
// discovered through mode, sharing handler as every display's buffer
// allocator/importer. newRenderer is called once per connector to
// build that display's GPU compositor back end. Each connector gets
// its own plane manager, compositor, fence worker, and display queue.
func Initialize(mode kms.ModeClient, handler buffer.Handler, newRenderer func() render.Renderer, connectors []Connector) (*Composer, error) {
	c := &Composer{
		mode:     mode,
		handler:  handler,
		displays: make(map[uint32]*display.Display),
	}
	for _, conn := range connectors {
		if err := c.addDisplay(conn, newRenderer()); err != nil {
			return nil, fmt.Errorf("hwcompose: initialize display %d: %w", conn.DisplayID, err)
		}
	}
	return c, nil
}

func (c *Composer) addDisplay(conn Connector, r render.Renderer) error {
	mgr := planemgr.New(c.mode, conn.OverlayPlanes, conn.CursorPlane)
	mgr.SetEnableDownscaling(config.FlagsFromEnv().EnableDownscaling)
	comp := compositor.New(r)
	fbCache := buffer.NewFramebufferCache(c.handler, fbCacheSize)
	worker := fence.NewWorker(c.handler)
	q := queue.New(c.mode, mgr, comp, fbCache, worker, conn.CRTCID)

	d := display.New(display.Config{
		ID:             conn.DisplayID,
		Pipe:           conn.Pipe,
		CRTCID:         conn.CRTCID,
		ConnectorID:    conn.ConnectorID,
		Width:          conn.Width,
		Height:         conn.Height,
		DPIX:           conn.DPIX,
		DPIY:           conn.DPIY,
		RefreshMilliHz: conn.RefreshMilliHz,
	}, q)

	c.mu.Lock()
	c.displays[conn.DisplayID] = d
	if conn.DisplayID >= c.nextID {
		c.nextID = conn.DisplayID + 1
	}
	c.mu.Unlock()
	return nil
}

// CreateVirtualDisplay allocates an off-screen composite target with
// no real KMS backing: every frame is GPU-composited and nothing is
// ever scanned out. Returns the new display.
func (c *Composer) CreateVirtualDisplay(width, height int) (*display.Display, error) {
	client := kmsnull.New()
	// A plane with no supported formats fails plane.ValidateLayer for
	// every layer that has a buffer, and layers without one go to the
	// GPU anyway, so planemgr.Manager falls back to GPU composition for
	// every layer without needing a second, disableOverlay code path.
	mgr := planemgr.New(client, []*plane.Plane{{}}, nil)
	comp := compositor.New(rendernull.New())
	fbCache := buffer.NewFramebufferCache(c.handler, fbCacheSize)
	q := queue.New(client, mgr, comp, fbCache, nil, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	d := display.New(display.Config{ID: id, Width: width, Height: height}, q)
	if err := d.Connect(); err != nil {
		return nil, wrap(err)
	}

	c.mu.Lock()
	c.displays[id] = d
	c.mu.Unlock()
	return d, nil
}

// GetDisplays returns every display the composer currently knows
// about, connected or not.
func (c *Composer) GetDisplays() []*display.Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*display.Display, 0, len(c.displays))
	for _, d := range c.displays {
		out = append(out, d)
	}
	return out
}

// Display returns the display identified by id.
func (c *Composer) Display(id uint32) (*display.Display, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.displays[id]
	if !ok {
		return nil, ErrUnknownDisplay
	}
	return d, nil
}

// Present validates and commits layers on the display identified by
// id, classifying any failure into the package's semantic error Kind.
func (c *Composer) Present(id uint32, layers []overlay.Layer) (fence.Fence, error) {
	d, err := c.Display(id)
	if err != nil {
		return fence.Fence{}, wrap(err)
	}
	retire, err := d.Present(layers)
	return retire, wrap(err)
}

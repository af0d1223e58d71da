// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package display owns a physical (or virtual) display's connection
// lifecycle, power mode, and clone relationships, and sequences
// Present calls across a clone tree.
package display

import (
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"hwcompose/fence"
	"hwcompose/kms"
	"hwcompose/overlay"
)

// State is the display lifecycle bitmask.
type State uint32

// Lifecycle bits.
const (
	Connected State = 1 << iota
	NeedsModeset
	PendingPowerMode
	UpdateDisplay
	DisconnectionInProgress
	Initialized
	RefreshClones
)

// PowerMode mirrors the DPMS connector property values.
type PowerMode int

// Power modes, ordered the way the kernel property enumerates them.
const (
	PowerOff PowerMode = iota
	PowerDoze
	PowerDozeSuspend
	PowerOn
)

// VsyncCallback is invoked once per refresh with the display's id and
// a monotonic timestamp in nanoseconds.
type VsyncCallback func(displayID uint32, timestampNs int64)

// HotplugCallback is invoked from the plug-change path whenever a
// display's connected state changes, and once immediately upon
// registration with the current state.
type HotplugCallback func(displayID uint32, connected bool)

// ErrDisconnected is returned by Present whenever the display is not
// updating the screen: when it is disconnected, and also when it is
// connected but its power mode (Off or Doze) leaves updates off.
var ErrDisconnected = errors.New("display: disconnected")

// Presenter is the per-frame pipeline a Display drives: a display
// queue (or a fake, in tests) that validates layers, composites, and
// commits.
type Presenter interface {
	Present(layers []overlay.Layer) (fence.Fence, error)
	RequestModeset(blob kms.Blob)
	SetGamma(red, green, blue float32)
	SetContrast(red, green, blue uint32)
	SetBrightness(red, green, blue uint32)
}

// Display is one scan-out pipe: its identity, current mode, power
// state, and its relationship to any displays cloning it.
type Display struct {
	mu sync.Mutex

	id          uint32
	pipe        uint32
	crtcID      uint32
	connectorID uint32

	configIndex    uint32
	width, height  int
	dpiX, dpiY     int
	refreshMilliHz int

	state     State
	powerMode PowerMode

	queue Presenter

	sourceDisplay  *Display
	clonedDisplays []*Display // displays cloning us, as registered via CloneDisplay
	clones         []*Display // the live subset of clonedDisplays, refreshed lazily
	scaleX, scaleY float32

	hotplugID uint32
	hotplugCB HotplugCallback
	vsyncCB   VsyncCallback
}

// Config describes a display's fixed geometry at construction time.
type Config struct {
	ID             uint32
	Pipe           uint32
	CRTCID         uint32
	ConnectorID    uint32
	Width, Height  int
	DPIX, DPIY     int
	RefreshMilliHz int
}

// New creates a Display driven through queue, starting powered on but
// disconnected.
func New(cfg Config, queue Presenter) *Display {
	return &Display{
		id:             cfg.ID,
		pipe:           cfg.Pipe,
		crtcID:         cfg.CRTCID,
		connectorID:    cfg.ConnectorID,
		width:          cfg.Width,
		height:         cfg.Height,
		dpiX:           cfg.DPIX,
		dpiY:           cfg.DPIY,
		refreshMilliHz: cfg.RefreshMilliHz,
		powerMode:      PowerOn,
		queue:          queue,
		scaleX:         1,
		scaleY:         1,
	}
}

// ID returns the display's stable identifier, used in vsync/hotplug
// callbacks.
func (d *Display) ID() uint32 { return d.id }

// Width and Height return the display's current mode geometry.
func (d *Display) Width() int  { d.mu.Lock(); defer d.mu.Unlock(); return d.width }
func (d *Display) Height() int { d.mu.Lock(); defer d.mu.Unlock(); return d.height }

// IsConnected reports whether the display can currently accept
// Present calls: it is connected and not in the middle of a
// disconnect.
func (d *Display) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state&DisconnectionInProgress == 0 && d.state&Connected != 0
}

// PowerMode returns the display's current power mode.
func (d *Display) PowerMode() PowerMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerMode
}

// MarkForDisconnect flags the display for disconnection; the clone
// tree is refreshed on the next Present/PresentClone rather than
// synchronously, so an in-flight frame is never interrupted.
func (d *Display) MarkForDisconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state |= DisconnectionInProgress | RefreshClones
}

// Disconnect tears the display down: powers it off and clears
// Connected. A no-op if the display was never connected.
func (d *Display) Disconnect() {
	d.mu.Lock()
	d.state &^= DisconnectionInProgress
	connected := d.state&Connected != 0
	d.mu.Unlock()
	if !connected {
		return
	}

	d.SetPowerMode(PowerOff)

	d.mu.Lock()
	d.state &^= Connected
	d.mu.Unlock()
	d.notifyHotplug(false)
}

// Connect brings the display up: marks it Connected and Initialized
// and applies whatever power mode was pending while it was
// disconnected. The queue's own state is not reset.
func (d *Display) Connect() error {
	d.mu.Lock()
	d.state &^= DisconnectionInProgress
	if d.state&Connected != 0 {
		d.mu.Unlock()
		return nil
	}
	d.state |= Connected | Initialized
	d.mu.Unlock()

	err := d.updatePowerMode()
	d.notifyHotplug(true)
	return err
}

// SetActiveConfig selects a display mode, queuing a modeset for the
// next Present.
func (d *Display) SetActiveConfig(configIndex uint32, modeBlob kms.Blob) {
	d.mu.Lock()
	d.configIndex = configIndex
	d.state |= NeedsModeset
	d.mu.Unlock()
	d.queue.RequestModeset(modeBlob)
}

// ActiveConfig returns the currently selected mode index.
func (d *Display) ActiveConfig() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configIndex
}

// SetPowerMode requests a power mode transition. If the display is
// disconnected or mid-disconnect, the request is stashed and applied
// the next time the display connects.
func (d *Display) SetPowerMode(mode PowerMode) error {
	d.mu.Lock()
	if d.powerMode == mode {
		d.mu.Unlock()
		return nil
	}
	d.powerMode = mode
	if d.state&Connected == 0 || d.state&DisconnectionInProgress != 0 {
		d.state |= PendingPowerMode
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.updatePowerMode()
}

// updatePowerMode propagates the current power mode to the queue:
// turning on forces a modeset, turning off (or to a doze state) drops
// UpdateDisplay so Present becomes a no-op.
func (d *Display) updatePowerMode() error {
	d.mu.Lock()
	d.state &^= PendingPowerMode
	turnedOn := d.powerMode == PowerOn
	if turnedOn {
		d.state |= NeedsModeset | UpdateDisplay
	} else {
		d.state &^= UpdateDisplay
	}
	initialized := d.state&Initialized != 0
	d.mu.Unlock()

	if !initialized || !turnedOn {
		return nil
	}
	d.mu.Lock()
	d.state &^= NeedsModeset
	d.mu.Unlock()
	d.queue.RequestModeset(kms.Blob{})
	return nil
}

// SetGamma, SetContrast and SetBrightness forward color correction
// settings to the display's queue, applied at the next commit.
func (d *Display) SetGamma(red, green, blue float32)     { d.queue.SetGamma(red, green, blue) }
func (d *Display) SetContrast(red, green, blue uint32)   { d.queue.SetContrast(red, green, blue) }
func (d *Display) SetBrightness(red, green, blue uint32) { d.queue.SetBrightness(red, green, blue) }

// RegisterVsyncCallback installs cb as the display's per-refresh
// callback.
func (d *Display) RegisterVsyncCallback(cb VsyncCallback) {
	d.mu.Lock()
	d.vsyncCB = cb
	d.mu.Unlock()
}

// NotifyVsync invokes the registered vsync callback, if any, with
// timestampNs. Called by whatever drives the refresh source (a real
// vblank event or a virtual display's timer).
func (d *Display) NotifyVsync(timestampNs int64) {
	d.mu.Lock()
	cb := d.vsyncCB
	id := d.id
	d.mu.Unlock()
	if cb != nil {
		cb(id, timestampNs)
	}
}

// RegisterHotplugCallback installs cb as the display's hotplug
// callback under displayID, and immediately delivers the display's
// current connected state.
func (d *Display) RegisterHotplugCallback(cb HotplugCallback, displayID uint32) {
	d.mu.Lock()
	d.hotplugID = displayID
	d.hotplugCB = cb
	connected := d.state&Connected != 0
	d.mu.Unlock()
	if cb != nil {
		cb(displayID, connected)
	}
}

// notifyHotplug delivers a connected-state change to the registered
// hotplug callback. Always called after the display's lock has been
// released, so the callback can safely call back into the display.
func (d *Display) notifyHotplug(connected bool) {
	d.mu.Lock()
	cb := d.hotplugCB
	id := d.hotplugID
	d.mu.Unlock()
	if cb != nil {
		cb(id, connected)
	}
}

// CloneDisplay makes d a clone of source, replacing any previous
// source. Pass nil to stop cloning.
func (d *Display) CloneDisplay(source *Display) {
	d.mu.Lock()
	old := d.sourceDisplay
	d.mu.Unlock()
	if old != nil {
		old.disownClone(d)
	}

	d.mu.Lock()
	d.sourceDisplay = source
	d.mu.Unlock()
	if source != nil {
		source.ownClone(d)
	}
}

func (d *Display) ownClone(clone *Display) {
	d.mu.Lock()
	d.clonedDisplays = append(d.clonedDisplays, clone)
	d.state |= RefreshClones
	d.mu.Unlock()
}

func (d *Display) disownClone(clone *Display) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clonedDisplays) == 0 {
		return
	}
	kept := d.clonedDisplays[:0]
	for _, c := range d.clonedDisplays {
		if c != clone {
			kept = append(kept, c)
		}
	}
	d.clonedDisplays = kept
	d.state |= RefreshClones
}

// refreshClones rebuilds the live clones list from clonedDisplays,
// dropping any that have since disconnected, and updates each
// survivor's scaling ratio against this display's current geometry.
// Must be called with d.mu held.
func (d *Display) refreshClones() {
	d.state &^= RefreshClones
	d.clones = d.clones[:0]
	for _, c := range d.clonedDisplays {
		if !c.IsConnected() {
			continue
		}
		d.clones = append(d.clones, c)
	}
	primaryW, primaryH := d.width, d.height
	for _, c := range d.clones {
		cw, ch := c.Width(), c.Height()
		if cw == primaryW && ch == primaryH {
			continue
		}
		c.UpdateScalingRatio(primaryW, primaryH, cw, ch)
	}
}

// UpdateScalingRatio records the ratio this display must apply to a
// source frame of primaryW x primaryH to fill its own displayW x
// displayH geometry.
func (d *Display) UpdateScalingRatio(primaryW, primaryH, displayW, displayH int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if primaryW == 0 || primaryH == 0 {
		return
	}
	d.scaleX = float32(displayW) / float32(primaryW)
	d.scaleY = float32(displayH) / float32(primaryH)
}

// ScalingRatio returns the ratio last computed by UpdateScalingRatio.
func (d *Display) ScalingRatio() (x, y float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scaleX, d.scaleY
}

// Present validates and commits layers on this display, then fans the
// same frame out to every live clone via PresentClone, waiting for all
// of them before returning. A disconnected display (outside
// DozeSuspend) returns ErrDisconnected rather than blocking a caller
// that isn't prepared to stop presenting during a hotplug.
func (d *Display) Present(layers []overlay.Layer) (fence.Fence, error) {
	d.mu.Lock()
	if d.sourceDisplay != nil {
		log.Printf("display: presenting display %d independently while cloned", d.id)
	}
	if d.state&UpdateDisplay == 0 {
		doze := d.powerMode == PowerDozeSuspend
		d.mu.Unlock()
		if doze {
			return fence.New(fence.Invalid), nil
		}
		return fence.New(fence.Invalid), ErrDisconnected
	}
	if d.state&RefreshClones != 0 {
		d.refreshClones()
	}
	clones := append([]*Display(nil), d.clones...)
	d.mu.Unlock()

	retire, err := d.queue.Present(layers)
	if err != nil || len(clones) == 0 {
		return retire, err
	}

	var g errgroup.Group
	for _, c := range clones {
		c := c
		g.Go(func() error {
			_, err := c.PresentClone(layers)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return retire, err
	}
	return retire, nil
}

// PresentClone presents layers on a display that is cloning another,
// called once per live clone by the source display's Present.
func (d *Display) PresentClone(layers []overlay.Layer) (fence.Fence, error) {
	d.mu.Lock()
	if d.state&RefreshClones != 0 {
		d.refreshClones()
	}
	d.mu.Unlock()
	return d.queue.Present(layers)
}

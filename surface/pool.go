package surface

import (
	"hwcompose/buffer"
	"hwcompose/geom"
)

// Pool allocates, recycles and releases off-screen Targets for a
// single display. It is touched only by that display's queue/
// compositor thread, so it holds no internal locking of its own.
type Pool struct {
	handler  buffer.Handler
	free     []*Target
	inFlight []*Target

	// blacklistedModifier, once set, forces every subsequent
	// allocation on this pool to request buffer.ModNone instead of
	// the plane's preferred modifier.
	blacklistedModifier bool
}

// NewPool creates a Pool that allocates through handler.
func NewPool(handler buffer.Handler) *Pool {
	return &Pool{handler: handler}
}

// Acquire returns a Target sized and formatted for a render plane.
// It first searches free (age -1) surfaces for an exact format and
// modifier match; on a hit, the surface is reset to age 0 and
// retargeted to the requested geometry. On a miss, a new Target is
// allocated via the buffer handler. If the driver rejects the
// preferred modifier, the pool blacklists it for this display and
// retries with buffer.ModNone.
func (p *Pool) Acquire(width, height int, preferredFormat buffer.FourCC, preferredModifier buffer.Modifier, isVideo bool, frame geom.Rect, crop geom.RectF, damage geom.Rect) (*Target, error) {
	modifier := preferredModifier
	if p.blacklistedModifier {
		modifier = buffer.ModNone
	}

	for i, t := range p.free {
		if t.Format == preferredFormat && t.Modifier == modifier {
			p.free = append(p.free[:i], p.free[i+1:]...)
			t.Age = AgeFront
			t.OnScreen = true
			t.Retarget(frame, crop, damage)
			p.inFlight = append(p.inFlight, t)
			return t, nil
		}
	}

	desc := buffer.Desc{Width: width, Height: height, Format: preferredFormat, Modifier: modifier, Scanout: true}
	h, err := p.handler.Create(desc)
	if err != nil {
		if err == buffer.ErrModifierRejected && modifier != buffer.ModNone {
			p.blacklistedModifier = true
			desc.Modifier = buffer.ModNone
			h, err = p.handler.Create(desc)
		}
		if err != nil {
			return nil, err
		}
	}

	t := &Target{
		Buffer:    h,
		Age:       AgeFront,
		Format:    preferredFormat,
		Modifier:  desc.Modifier,
		OnScreen:  true,
		ClearType: ClearFull,
	}
	t.Retarget(frame, crop, damage)
	p.inFlight = append(p.inFlight, t)
	return t, nil
}

// Release returns t to the free list with age -1, available for
// reuse by a future Acquire call with matching format/modifier.
func (p *Pool) Release(t *Target) {
	for i, x := range p.inFlight {
		if x == t {
			p.inFlight = append(p.inFlight[:i], p.inFlight[i+1:]...)
			break
		}
	}
	t.Age = AgeFree
	t.OnScreen = false
	p.free = append(p.free, t)
}

// ReleaseFree deletes every surface currently sitting unused (age -1)
// in the pool, destroying their buffers through the handler. It is
// only called explicitly: at disconnect, at end-of-frame when the
// caller requests recycling, or under memory pressure.
func (p *Pool) ReleaseFree() {
	for _, t := range p.free {
		if t.Buffer.Unref() {
			p.handler.Destroy(t.Buffer)
		}
	}
	p.free = nil
}

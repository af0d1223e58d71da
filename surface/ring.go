package surface

// Ring holds the up-to-three Targets a render plane keeps in flight
// (triple buffering): index 0 is the front (age 0) buffer, 1 and 2
// trail behind it.
type Ring struct {
	targets []*Target
}

// NewRing creates an empty Ring. Targets are added with Add or
// PushFront.
func NewRing() *Ring { return &Ring{} }

// Add appends t to the back of the ring.
func (r *Ring) Add(t *Target) { r.targets = append(r.targets, t) }

// maxTargets is the number of off-screen targets a render plane keeps
// alive at once (front plus two trailing).
const maxTargets = 3

// PushFront inserts t as the new front (ring position 0), pushing the
// existing targets back and dropping the oldest once the ring already
// holds maxTargets members.
func (r *Ring) PushFront(t *Target) {
	r.targets = append(r.targets, nil)
	copy(r.targets[1:], r.targets[:len(r.targets)-1])
	r.targets[0] = t
	if len(r.targets) > maxTargets {
		r.targets = r.targets[:maxTargets]
	}
}

// Front returns the current front (age-0) target, or nil if the ring
// is empty.
func (r *Ring) Front() *Target {
	if len(r.targets) == 0 {
		return nil
	}
	return r.targets[0]
}

// Targets returns the ring's targets in age order, front first.
func (r *Ring) Targets() []*Target { return r.targets }

// Len returns the number of targets currently in the ring.
func (r *Ring) Len() int { return len(r.targets) }

// Swap rotates the ring (1->0, 2->1, 0->2) so that the surface the
// renderer just finished with two frames ago becomes the new front,
// ready for the GPU to draw into again.
//
// Invariant (testable property 3): after Swap, the front surface's
// age is 0 and no two surfaces in the ring share the same age.
func (r *Ring) Swap() {
	n := len(r.targets)
	if n < 2 {
		if n == 1 {
			r.targets[0].Age = AgeFront
		}
		return
	}
	first := r.targets[0]
	copy(r.targets, r.targets[1:])
	r.targets[n-1] = first
	for i, t := range r.targets {
		t.Age = Age(i)
	}
}

// Clear requests a clear/damage requirement across every surface in
// the ring. force upgrades an existing Partial requirement to Full.
func (r *Ring) Clear(ct ClearType, force bool) {
	for _, t := range r.targets {
		if t.ClearType < ct {
			t.ClearType = ct
		}
		if force && t.ClearType == ClearPartial {
			t.ClearType = ClearFull
		}
	}
}

// Copyright 2024 The hwcompose Authors. All rights reserved.

package buffer

import (
	lru "github.com/hashicorp/golang-lru"
)

// FramebufferCache memoizes the framebuffer object a Handler created
// for a given Handle, so that a buffer presented across several
// consecutive frames (the common case for a largely-static overlay)
// does not pay the cost of CreateFrameBuffer/DestroyFrameBuffer every
// commit. Eviction releases the oldest framebuffer through the
// Handler that produced it.
type FramebufferCache struct {
	handler Handler
	cache   *lru.Cache
}

// NewFramebufferCache creates a cache holding up to size entries.
func NewFramebufferCache(handler Handler, size int) *FramebufferCache {
	onEvict := func(key, value interface{}) {
		handler.DestroyFrameBuffer(value.(Framebuffer))
	}
	c, err := lru.NewWithEvict(size, onEvict)
	if err != nil {
		// Only returned for size <= 0; fall back to a single entry
		// rather than propagating a constructor error for a cache.
		c, _ = lru.NewWithEvict(1, onEvict)
	}
	return &FramebufferCache{handler: handler, cache: c}
}

// Get returns the cached framebuffer for h, creating and caching one
// through the Handler on a miss.
func (c *FramebufferCache) Get(h *Handle) (Framebuffer, error) {
	if v, ok := c.cache.Get(h); ok {
		return v.(Framebuffer), nil
	}
	fb, err := c.handler.CreateFrameBuffer(h)
	if err != nil {
		return Framebuffer{}, err
	}
	c.cache.Add(h, fb)
	return fb, nil
}

// Forget evicts h's framebuffer, if cached, destroying it through the
// Handler. Used when a buffer's underlying allocation is torn down
// before the cache would naturally evict it (e.g. pool release-free).
func (c *FramebufferCache) Forget(h *Handle) {
	c.cache.Remove(h)
}

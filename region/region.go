// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package region implements the disjoint-rectangle decomposition used
// to reduce a set of overlapping, z-ordered layers into the minimal
// set of regions the GPU compositor must draw, honoring an
// exclusion mask (cursor/overflow rects that must never be drawn by
// the compositor) and a dedicated-layer mask (layers already placed
// on their own scanout plane, which punch holes through anything
// beneath them).
package region

import (
	"log"
	"sort"

	"hwcompose/geom"
)

// CompositionRegion is one disjoint, axis-aligned output rectangle
// tagged with the source layers that must be blended into it, in
// bottom-to-top order.
type CompositionRegion struct {
	Rect         geom.Rect
	SourceLayers []int
}

type role int

const (
	roleSource role = iota
	roleDedicated
	roleExclude
)

type taggedRect struct {
	rect  geom.Rect
	role  role
	layer int // original layer index; -1 for exclude rects
}

// SeparateLayers computes the maximal set of non-overlapping
// sub-rectangles tiling the composition area.
//
// sourceLayers and dedicatedLayers are layer indices into frames
// (display_frame, indexed by layer number). exclude holds additional
// rectangles (e.g. the cursor) that carve regions out entirely rather
// than attributing them to a source layer.
//
// Total rectangles are capped at Mask's 64-bit width: if
// len(sourceLayers)+len(dedicatedLayers) exceeds it, the excess is
// truncated from the tail; if that alone fills the budget, exclude
// rects are truncated (down to zero if necessary). Both cases log a
// warning; neither is a dynamic failure.
func SeparateLayers(sourceLayers, dedicatedLayers []int, frames []geom.Rect, exclude []geom.Rect) []CompositionRegion {
	rects := make([]taggedRect, 0, len(sourceLayers)+len(dedicatedLayers))
	for _, idx := range sourceLayers {
		rects = append(rects, taggedRect{frameOf(frames, idx), roleSource, idx})
	}
	for _, idx := range dedicatedLayers {
		rects = append(rects, taggedRect{frameOf(frames, idx), roleDedicated, idx})
	}
	if len(rects) > MaxRects {
		log.Printf("region: truncating %d source/dedicated rects to fit the 64-bit mask", len(rects)-MaxRects)
		rects = rects[:MaxRects]
	}
	budget := MaxRects - len(rects)
	if budget < 0 {
		budget = 0
	}
	if len(exclude) > budget {
		log.Printf("region: truncating %d exclude rects to fit the 64-bit mask", len(exclude)-budget)
		exclude = exclude[:budget]
	}
	for _, r := range exclude {
		rects = append(rects, taggedRect{r, roleExclude, -1})
	}

	cells := sweep(rects)
	return classify(rects, cells)
}

func frameOf(frames []geom.Rect, idx int) geom.Rect {
	if idx < 0 || idx >= len(frames) {
		return geom.Rect{}
	}
	return frames[idx]
}

// cellRect is an intermediate disjoint rectangle tagged with the raw
// bit mask of every rect (source, dedicated or exclude) covering it,
// prior to exclusion/hole-punch post-processing.
type cellRect struct {
	geom.Rect
	mask Mask
}

// sweep performs the coordinate-compression sweep: it builds a grid
// from the union of all rect edges, tags each grid cell with the set
// of rects covering it, then merges adjacent cells sharing an
// identical tag into maximal rectangles (first along rows, then
// down columns). This realizes the same contract as the classic
// sweep-line/active-band algorithm the region engine title refers to,
// without needing to special-case tie-breaks by hand: coordinate
// compression naturally orders starts before ends because interval
// membership is tested on a representative interior point.
func sweep(rects []taggedRect) []cellRect {
	var xs, ys []int
	seenX := map[int]bool{}
	seenY := map[int]bool{}
	for _, r := range rects {
		if r.rect.Empty() {
			continue
		}
		for _, x := range [...]int{r.rect.Left, r.rect.Right} {
			if !seenX[x] {
				seenX[x] = true
				xs = append(xs, x)
			}
		}
		for _, y := range [...]int{r.rect.Top, r.rect.Bottom} {
			if !seenY[y] {
				seenY[y] = true
				ys = append(ys, y)
			}
		}
	}
	if len(xs) < 2 || len(ys) < 2 {
		return nil
	}
	sort.Ints(xs)
	sort.Ints(ys)

	// Merge within each row first.
	type run struct {
		left, right int
		mask        Mask
	}
	var rowsOut [][]run
	for j := 0; j+1 < len(ys); j++ {
		cy := midpoint(ys[j], ys[j+1])
		var row []run
		var cur run
		curValid := false
		for i := 0; i+1 < len(xs); i++ {
			cx := midpoint(xs[i], xs[i+1])
			var m Mask
			for k, r := range rects {
				if r.rect.Empty() {
					continue
				}
				if cx >= r.rect.Left && cx < r.rect.Right && cy >= r.rect.Top && cy < r.rect.Bottom {
					m = m.add(k)
				}
			}
			if m.isEmpty() {
				if curValid {
					row = append(row, cur)
					curValid = false
				}
				continue
			}
			if curValid && cur.mask == m && cur.right == xs[i] {
				cur.right = xs[i+1]
				continue
			}
			if curValid {
				row = append(row, cur)
			}
			cur = run{xs[i], xs[i+1], m}
			curValid = true
		}
		if curValid {
			row = append(row, cur)
		}
		rowsOut = append(rowsOut, row)
	}

	// Merge vertically across rows with identical (left, right, mask).
	type active struct {
		idx int
		run run
	}
	var out []cellRect
	activeRuns := map[[3]int64]active{}
	key := func(r run) [3]int64 { return [3]int64{int64(r.left), int64(r.right), int64(r.mask)} }

	for j, row := range rowsOut {
		top := ys[j]
		bottom := ys[j+1]
		next := map[[3]int64]active{}
		for _, r := range row {
			k := key(r)
			if a, ok := activeRuns[k]; ok && out[a.idx].Bottom == top {
				out[a.idx].Bottom = bottom
				next[k] = a
				continue
			}
			out = append(out, cellRect{geom.Rect{Left: r.left, Top: top, Right: r.right, Bottom: bottom}, r.mask})
			next[k] = active{idx: len(out) - 1, run: r}
		}
		activeRuns = next
	}
	return out
}

func midpoint(a, b int) int { return a + (b-a)/2 }

// classify applies the exclude/dedicated masking rules to the raw
// swept cells and produces the final, ordered CompositionRegion list.
func classify(rects []taggedRect, cells []cellRect) []CompositionRegion {
	var out []CompositionRegion
	for _, c := range cells {
		excluded := false
		for _, b := range c.mask.indices() {
			if rects[b].role == roleExclude {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		mask := c.mask
		for _, b := range c.mask.indices() {
			if rects[b].role != roleDedicated {
				continue
			}
			dIdx := rects[b].layer
			for _, s := range mask.indices() {
				if rects[s].role == roleSource && rects[s].layer < dIdx {
					mask = mask.subtract(s)
				}
			}
		}

		var sources []int
		for _, b := range mask.indices() {
			if rects[b].role == roleSource {
				sources = append(sources, rects[b].layer)
			}
		}
		if len(sources) == 0 {
			continue
		}
		sort.Ints(sources)
		out = append(out, CompositionRegion{Rect: c.Rect, SourceLayers: sources})
	}
	return out
}

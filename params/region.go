/*
Package params parses and normalizes the region, size and rotation parameters of
image-region requests.  Everything here is pure: no I/O and no shared state.
*/
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/tiled/tiled"
)

type RegionKind uint8

const (
	RegionFull RegionKind = iota
	RegionPercent
	RegionPixels
)

func (k RegionKind) String() string {
	switch k {
	case RegionFull:
		return "full"
	case RegionPercent:
		return "percent"
	case RegionPixels:
		return "pixels"
	default:
		return fmt.Sprintf("region kind %d", k)
	}
}

// Region is the part of the master image a request covers.  Percent regions hold
// percentages in X, Y, Width and Height until normalized.
type Region struct {
	Kind   RegionKind
	X, Y   int
	Width  int
	Height int
}

// FullRegion is the region covering the whole image.
var FullRegion = Region{Kind: RegionFull}

var regionComponents = [4]string{"x", "y", "width", "height"}

// ParseRegion parses "full", "pct:x,y,w,h" or "x,y,w,h".
func ParseRegion(s string) (Region, error) {
	if strings.EqualFold(s, "full") {
		return FullRegion, nil
	}
	r := Region{Kind: RegionPixels}
	coords := s
	if strings.HasPrefix(s, "pct:") {
		r.Kind = RegionPercent
		coords = s[4:]
	}
	parts := strings.Split(coords, ",")
	if len(parts) != 4 {
		return Region{}, tiled.NewError(tiled.MalformedRegion,
			"incorrect number of region coords: %d (expected 4)", len(parts))
	}
	var vals [4]int
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return Region{}, tiled.NewError(tiled.MalformedRegion,
				"region's %s parameter (%s) isn't an integer", regionComponents[i], part)
		}
		vals[i] = v
	}
	r.X, r.Y, r.Width, r.Height = vals[0], vals[1], vals[2], vals[3]
	if r.X < 0 {
		return Region{}, tiled.NewError(tiled.MalformedRegion, "region's x parameter isn't a positive number: %d", r.X)
	}
	if r.Y < 0 {
		return Region{}, tiled.NewError(tiled.MalformedRegion, "region's y parameter isn't a positive number: %d", r.Y)
	}
	if r.Width <= 0 {
		return Region{}, tiled.NewError(tiled.MalformedRegion, "region's width parameter isn't greater than 0: %d", r.Width)
	}
	if r.Height <= 0 {
		return Region{}, tiled.NewError(tiled.MalformedRegion, "region's height parameter isn't greater than 0: %d", r.Height)
	}
	if r.Kind == RegionPercent {
		if r.Width > 100 {
			return Region{}, tiled.NewError(tiled.MalformedRegion, "region's width percent can't be more than 100%%")
		}
		if r.Height > 100 {
			return Region{}, tiled.NewError(tiled.MalformedRegion, "region's height percent can't be more than 100%%")
		}
	}
	return r, nil
}

// Normalize resolves the region into pixel coordinates of an image with the given
// dimensions.  Pixel boxes are clipped to the image and a box that exactly covers
// the image becomes a full region.
func (r Region) Normalize(imageW, imageH int) Region {
	n := r
	switch r.Kind {
	case RegionFull:
		n.X, n.Y, n.Width, n.Height = 0, 0, imageW, imageH
	case RegionPercent:
		n.X = percentOf(imageW, r.X)
		n.Y = percentOf(imageH, r.Y)
		n.Width = percentOf(imageW, r.Width)
		n.Height = percentOf(imageH, r.Height)
	}
	n.Kind = RegionPixels
	n.X, n.Width = clip(n.X, n.Width, imageW)
	n.Y, n.Height = clip(n.Y, n.Height, imageH)

	if n.X == 0 && n.Y == 0 && n.Width == imageW && n.Height == imageH {
		n.Kind = RegionFull
	}
	return n
}

// percentOf returns pct percent of total.  Percentages past 100 give total.
func percentOf(total, pct int) int {
	if pct > 100 {
		pct = 100
	}
	return total * pct / 100
}

// clip keeps an interval [start, start+length) inside [0, limit).
func clip(start, length, limit int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > limit {
		start = limit
	}
	if length > limit-start {
		length = limit - start
	}
	return start, length
}

// IsFull returns true if the region covers the entire image.
func (r Region) IsFull() bool {
	return r.Kind == RegionFull
}

// String returns the wire form of the region.  Normalized full regions print
// as "full" so equivalent encodings share one canonical string.
func (r Region) String() string {
	switch r.Kind {
	case RegionFull:
		return "full"
	case RegionPercent:
		return fmt.Sprintf("pct:%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
	default:
		return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
	}
}

// HasNegative reports whether a raw region string uses negative-number syntax.
// Such requests are rejected before any parsing or resolution.
func HasNegative(s string) bool {
	return strings.Contains(s, "-")
}

package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/tiled/tiled"
)

type SizeKind uint8

const (
	SizeFull SizeKind = iota
	SizePercent
	SizeWidth
	SizeHeight
	SizeExact
	SizeBestFit
)

func (k SizeKind) String() string {
	switch k {
	case SizeFull:
		return "full"
	case SizePercent:
		return "percent"
	case SizeWidth:
		return "width"
	case SizeHeight:
		return "height"
	case SizeExact:
		return "exact"
	case SizeBestFit:
		return "best-fit"
	default:
		return fmt.Sprintf("size kind %d", k)
	}
}

// Unset marks a dimension that was not requested.
const Unset = -1

// Size is the requested output size of a region.
type Size struct {
	Kind    SizeKind
	Percent int
	Width   int
	Height  int
}

// FullSize returns the region at its native size.
var FullSize = Size{Kind: SizeFull, Percent: Unset, Width: Unset, Height: Unset}

// ParseSize parses "full", "pct:N", ",h", "w,", "w,h" or "!w,h".
func ParseSize(s string) (Size, error) {
	if strings.EqualFold(s, "full") {
		return FullSize, nil
	}
	sz := Size{Percent: Unset, Width: Unset, Height: Unset}
	switch {
	case strings.HasPrefix(s, "pct:"):
		p, err := strconv.Atoi(s[4:])
		if err != nil {
			return Size{}, tiled.NewError(tiled.MalformedSize, "size percent isn't an integer: %s", s[4:])
		}
		if p < 0 || p > 100 {
			return Size{}, tiled.NewError(tiled.MalformedSize, "size percent isn't in the range of 0 to 100: %d", p)
		}
		sz.Kind = SizePercent
		sz.Percent = p
		return sz, nil

	case !strings.Contains(s, ","):
		return Size{}, tiled.NewError(tiled.MalformedSize, "size parameter isn't formatted correctly: %s", s)

	case s == ",":
		return Size{}, tiled.NewError(tiled.MalformedSize, "scaled size lacks a value")

	case strings.HasPrefix(s, ","):
		h, err := parseDim("height", s[1:])
		if err != nil {
			return Size{}, err
		}
		sz.Kind = SizeHeight
		sz.Height = h
		return sz, nil

	case strings.HasSuffix(s, ","):
		w, err := parseDim("width", s[:len(s)-1])
		if err != nil {
			return Size{}, err
		}
		sz.Kind = SizeWidth
		sz.Width = w
		return sz, nil
	}

	sz.Kind = SizeExact
	dims := s
	if strings.HasPrefix(s, "!") {
		sz.Kind = SizeBestFit
		dims = s[1:]
	}
	parts := strings.Split(dims, ",")
	if len(parts) != 2 {
		return Size{}, tiled.NewError(tiled.MalformedSize, "size shouldn't have more than 2 parts: %s", s)
	}
	var err error
	if sz.Width, err = parseDim("width", parts[0]); err != nil {
		return Size{}, err
	}
	if sz.Height, err = parseDim("height", parts[1]); err != nil {
		return Size{}, err
	}
	return sz, nil
}

func parseDim(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, tiled.NewError(tiled.MalformedSize, "size's %s isn't an integer: %s", name, s)
	}
	if v < 0 {
		return 0, tiled.NewError(tiled.MalformedSize, "size's %s may not be negative: %d", name, v)
	}
	return v, nil
}

// Normalize resolves full and percent sizes into pixel dimensions relative to an
// already normalized region.  Width-only and height-only sizes keep the
// unrequested dimension unset.
func (s Size) Normalize(regionW, regionH int) Size {
	n := s
	switch s.Kind {
	case SizeFull:
		n.Kind = SizeExact
		n.Width, n.Height = regionW, regionH
	case SizePercent:
		n.Kind = SizeExact
		n.Percent = Unset
		n.Width = regionW * s.Percent / 100
		n.Height = regionH * s.Percent / 100
	}
	return n
}

// PreservesAspect returns true if the size keeps the region's aspect ratio.
func (s Size) PreservesAspect() bool {
	return s.Kind != SizeExact
}

// HasWidth returns true if a width was requested or computed.
func (s Size) HasWidth() bool {
	return s.Width != Unset
}

// HasHeight returns true if a height was requested or computed.
func (s Size) HasHeight() bool {
	return s.Height != Unset
}

// IsFull returns true if the size asks for the region at native size.
func (s Size) IsFull() bool {
	return s.Kind == SizeFull
}

// ScaleFactor returns the single scaling factor implied by the size: the percentage
// for percent sizes and 1.0 for everything else.
func (s Size) ScaleFactor() float64 {
	if s.Kind == SizePercent {
		return float64(s.Percent) / 100
	}
	return 1.0
}

// BackendScale returns the scale argument handed to the codec: a single factor for
// full and percent sizes, or "w,h" with -1 for an unset dimension.
func (s Size) BackendScale() string {
	switch s.Kind {
	case SizeFull, SizePercent:
		factor := strconv.FormatFloat(s.ScaleFactor(), 'f', -1, 64)
		if !strings.Contains(factor, ".") {
			factor += ".0"
		}
		return factor
	default:
		return fmt.Sprintf("%d,%d", s.Width, s.Height)
	}
}

// String returns the canonical wire form of the size.
func (s Size) String() string {
	switch s.Kind {
	case SizeFull:
		return "full"
	case SizePercent:
		return fmt.Sprintf("pct:%d", s.Percent)
	case SizeWidth:
		return fmt.Sprintf("%d,", s.Width)
	case SizeHeight:
		return fmt.Sprintf(",%d", s.Height)
	case SizeBestFit:
		return fmt.Sprintf("!%d,%d", s.Width, s.Height)
	default:
		return fmt.Sprintf("%d,%d", s.Width, s.Height)
	}
}

package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/janelia-flyem/tiled/tiled"
)

// Params is the complete, normalized set of rendering parameters for one tile.
type Params struct {
	Level    int
	Region   Region
	Size     Size
	Rotation float64
	Layer    int
	Format   string

	// Explicit is true if the request named a region rather than the full image.
	Explicit bool

	// Scale is the effective scale factor of the requested size.
	Scale float64
}

// BackendRegion returns the region argument in the legacy codec convention of
// "row,col,height,width".  With no pyramid level (level < 1) the region's own
// dimensions are sent and a full region is the empty string.  The region must
// already be normalized.  When a level applies
// and the size has explicit dimensions, those replace the region's dimensions.
func BackendRegion(r Region, level int, s Size) string {
	if r.IsFull() && level < 1 {
		return ""
	}
	var b strings.Builder
	if r.IsFull() {
		b.WriteString("0,0,")
	} else {
		fmt.Fprintf(&b, "%d,%d,", r.Y, r.X)
	}
	if level < 1 || s.IsFull() || !s.HasWidth() || !s.HasHeight() {
		fmt.Fprintf(&b, "%d,%d", r.Height, r.Width)
	} else {
		fmt.Fprintf(&b, "%d,%d", s.Height, s.Width)
	}
	return b.String()
}

// BackendRegion returns the codec region argument for these parameters.
func (p Params) BackendRegion() string {
	return BackendRegion(p.Region, p.Level, p.Size)
}

var rotations = map[float64]struct{}{0: {}, 90: {}, 180: {}, 270: {}}

// ParseRotation parses a rotation in degrees.  Any finite value is accepted.
func ParseRotation(s string) (float64, error) {
	deg, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0, tiled.NewError(tiled.Unexpected, "rotation value isn't a float: %s", s)
	}
	return deg, nil
}

// SupportedRotation returns true for the right-angle rotations the codec is
// guaranteed to handle.  Other values are still forwarded.
func SupportedRotation(deg float64) bool {
	_, found := rotations[deg]
	return found
}

// RotationWarning returns a non-empty warning for rotations the codec may not
// handle correctly.
func RotationWarning(deg float64) string {
	if SupportedRotation(deg) {
		return ""
	}
	return fmt.Sprintf("%s° rotation not supported", FormatRotation(deg))
}

// FormatRotation prints a rotation without a trailing ".0" for whole degrees.
func FormatRotation(deg float64) string {
	return strconv.FormatFloat(deg, 'f', -1, 64)
}

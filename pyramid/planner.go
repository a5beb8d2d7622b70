/*
Package pyramid enumerates the region and scale queries needed to pre-populate a
tile cache for an image of known dimensions.
*/
package pyramid

import (
	"fmt"

	"github.com/janelia-flyem/tiled/params"
)

const (
	// BaseTileSize is the edge length of a tile at the deepest level.
	BaseTileSize = 256

	// FullImageLevels is the deepest level still served as a single full-image query.
	FullImageLevels = 8
)

// Query is one region/scale combination of the pyramid.
type Query struct {
	Level  int
	Scale  int
	Region params.Region
}

// String returns the legacy caching path: "/all/<scale>" for full-image levels and
// "/<y,x,h,w>/<scale>" for tiles.
func (q Query) String() string {
	if q.Region.IsFull() {
		return fmt.Sprintf("/all/%d", q.Scale)
	}
	r := q.Region
	return fmt.Sprintf("/%d,%d,%d,%d/%d", r.Y, r.X, r.Height, r.Width, q.Scale)
}

// log2 returns the smallest n with 2^n >= v.
func log2(v int) int {
	var n int
	for p := 1; p < v; p <<= 1 {
		n++
	}
	return n
}

func pow2(n int) int {
	return 1 << uint(n)
}

// MaxLevel returns ceil(log2(max(width, height))).
func MaxLevel(width, height int) int {
	if height > width {
		width = height
	}
	return log2(width)
}

// TileSize returns the edge length of tiles at the given level.
func TileSize(level, maxLevel int) int {
	return pow2(maxLevel-level) * BaseTileSize
}

// Each calls fn for every query of the pyramid in order, stopping at the first
// error, which is returned.
func Each(width, height int, fn func(Query) error) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("can't plan pyramid for image of %d x %d", width, height)
	}
	maxLevel := MaxLevel(width, height)
	for level := 0; level <= maxLevel; level++ {
		scale := pow2(level)
		if level <= FullImageLevels {
			if err := fn(Query{Level: level, Scale: scale, Region: params.FullRegion}); err != nil {
				return err
			}
			continue
		}
		tileSize := TileSize(level, maxLevel)
		for y := 0; y < height; y += tileSize {
			h := span(y, tileSize, height)
			for x := 0; x < width; x += tileSize {
				q := Query{
					Level: level,
					Scale: scale,
					Region: params.Region{
						Kind:   params.RegionPixels,
						X:      x,
						Y:      y,
						Width:  span(x, tileSize, width),
						Height: h,
					},
				}
				if err := fn(q); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// span returns the extent of a tile starting at pos.  Tiles at the origin are one
// pixel short and the last tile is clipped to the remainder.
func span(pos, tileSize, limit int) int {
	n := tileSize
	if pos == 0 {
		n--
	}
	if pos+n > limit {
		n = limit - pos
	}
	return n
}

// Plan returns every query of the pyramid for an image of the given dimensions.
func Plan(width, height int) ([]Query, error) {
	var queries []Query
	err := Each(width, height, func(q Query) error {
		queries = append(queries, q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return queries, nil
}

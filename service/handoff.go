package service

import (
	"fmt"
	"strings"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/tiled"
	"github.com/janelia-flyem/tiled/transform"
)

// Handoff describes a newly cached tile that may be moved into permanent storage.
type Handoff struct {
	// ID is the canonical image identifier.
	ID string

	// Key is the identifier joined with the tile's final file name.
	Key string

	// TempPath is where the tile was generated.
	TempPath string

	// CacheName is the tile's final file name.
	CacheName string

	cacheKey string
}

// Pairs returns the two associations of the hand-off: Key to TempPath and TempPath
// to CacheName.
func (h *Handoff) Pairs() map[string]string {
	return map[string]string{
		h.Key:      h.TempPath,
		h.TempPath: h.CacheName,
	}
}

// TileFileName returns the permanent file name of a tile in the given output
// format, e.g. "image_0_0-0-100-100_50-50_0.jpg".  An empty format means jpg.
func TileFileName(level int, region, scale string, rotation float64, format string) string {
	if region == "" {
		region = "full"
	}
	if scale == "" {
		scale = "full"
	}
	name := fmt.Sprintf("image_%d_%s_%s_%s.%s", level, region, scale, params.FormatRotation(rotation), tileExt(format))
	return strings.Replace(name, ",", "-", -1)
}

func tileExt(format string) string {
	switch format {
	case "", "jpeg":
		return "jpg"
	default:
		return format
	}
}

// CommitHandoff moves a hand-off's tile into the permanent tile store and drops
// the cache entry pointing at the temp file.  It returns the permanent path, or ""
// if the cache already evicted the tile.
func (s *Service) CommitHandoff(h *Handoff) (string, error) {
	if h == nil {
		return "", nil
	}
	if s.tiles == nil {
		return "", fmt.Errorf("no permanent tile store configured")
	}
	path, err := s.tiles.Adopt(h.TempPath, h.ID, h.CacheName)
	if err != nil {
		return "", err
	}
	if h.cacheKey != "" {
		s.cache.RemoveIf(h.cacheKey, h.TempPath)
	}
	if path != "" {
		tiled.Debugf("Committed tile %s to %s\n", h.Key, path)
	}
	return path, nil
}

// StoredTile returns a tile already in the permanent store for a request, with its
// content type, without rendering anything.  Only requests that no transform would
// alter, for images whose dimensions are already known, are eligible.
func (s *Service) StoredTile(req Request) (path, contentType string, found bool) {
	if s.tiles == nil || params.HasNegative(req.Region) {
		return "", "", false
	}
	format := req.Format
	if format == "" {
		format = s.config.Format
	}
	mimeType, supported := formats[format]
	if !supported {
		return "", "", false
	}
	props := transform.Props{transform.PropRequester: req.Requester, transform.PropReferrer: req.Referrer}
	if s.transform.IsTransformable(props) {
		return "", "", false
	}
	id, ok := s.resolver.ExtractID(req.Identifier)
	if !ok {
		return "", "", false
	}
	img, known := s.resolver.Lookup(id)
	if !known {
		return "", "", false
	}
	region, err := params.ParseRegion(req.Region)
	if err != nil {
		return "", "", false
	}
	size, err := params.ParseSize(req.Size)
	if err != nil {
		return "", "", false
	}
	s.metaMu.Lock()
	v, cached := s.meta.Get(img.Path)
	s.metaMu.Unlock()
	if !cached {
		return "", "", false
	}
	md := v.(codec.Metadata)
	norm := region.Normalize(md.Width, md.Height)
	name := TileFileName(req.Level, norm.String(), size.Normalize(norm.Width, norm.Height).String(), req.Rotation, format)
	if path, found = s.tiles.Lookup(id, name); !found {
		return "", "", false
	}
	return path, mimeType, true
}

package service

import (
	"context"

	"github.com/janelia-flyem/tiled/pyramid"
	"github.com/janelia-flyem/tiled/resolver"
)

const (
	iiifContext = "http://library.stanford.edu/iiif/image-api/1.1/context.json"
	iiifProfile = "http://library.stanford.edu/iiif/image-api/1.1/compliance.html#level1"

	// maxScaleExponent caps advertised scale factors at 2^9.
	maxScaleExponent = 9
)

// ImageInfo describes a resolved master image.
type ImageInfo struct {
	ID      string
	Width   int
	Height  int
	Levels  int
	Formats []string
}

// IIIFInfo is the IIIF Image API 1.1 info.json document.
type IIIFInfo struct {
	Context      string   `json:"@context"`
	ID           string   `json:"@id"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	ScaleFactors []int    `json:"scale_factors"`
	TileWidth    int      `json:"tile_width"`
	TileHeight   int      `json:"tile_height"`
	Formats      []string `json:"formats"`
	Qualities    []string `json:"qualities"`
	Profile      string   `json:"profile"`
}

// Info resolves an identifier and returns its image's dimensions.
func (s *Service) Info(ctx context.Context, raw string) (*ImageInfo, error) {
	img, err := s.resolver.ImageRecord(ctx, raw)
	if err != nil {
		return nil, err
	}
	md, err := s.Metadata(ctx, img.Path)
	if err != nil {
		return nil, err
	}
	levels := md.Levels
	if levels <= 0 {
		levels = pyramid.MaxLevel(md.Width, md.Height)
	}
	return &ImageInfo{
		ID:      img.ID,
		Width:   md.Width,
		Height:  md.Height,
		Levels:  levels,
		Formats: []string{"jpg", "png"},
	}, nil
}

// IIIF returns the info.json document for the image served under baseURL.
func (info *ImageInfo) IIIF(baseURL string) IIIFInfo {
	var factors []int
	for level, factor := 0, 1; level < info.Levels && level <= maxScaleExponent; level++ {
		factors = append(factors, factor)
		factor *= 2
	}
	return IIIFInfo{
		Context:      iiifContext,
		ID:           baseURL + "/" + resolver.PathSafetyEncode(info.ID),
		Width:        info.Width,
		Height:       info.Height,
		ScaleFactors: factors,
		TileWidth:    pyramid.BaseTileSize,
		TileHeight:   pyramid.BaseTileSize,
		Formats:      info.Formats,
		Qualities:    []string{"native"},
		Profile:      iiifProfile,
	}
}

/*
Package service resolves image-region requests into rendered tiles.  A Service ties
together identifier resolution, parameter normalization, the tile cache and the
codec, and reports every outcome as a status code with a body so the HTTP layer
stays thin.
*/
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/golang/groupcache/lru"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/resolver"
	"github.com/janelia-flyem/tiled/storage"
	"github.com/janelia-flyem/tiled/tilecache"
	"github.com/janelia-flyem/tiled/tiled"
	"github.com/janelia-flyem/tiled/transform"
)

const (
	// NegativeRegionMessage is the body returned for regions with negative numbers.
	NegativeRegionMessage = "Negative Region Arguments are not supported."

	// DefaultFormat is the output format when a request names none.
	DefaultFormat = "jpg"

	// DefaultMetadataEntries is the number of master image dimensions remembered.
	DefaultMetadataEntries = 1024
)

// output formats by extension
var formats = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"jp2":  "image/jp2",
	"tif":  "image/tiff",
	"bmp":  "image/bmp",
}

// MIMEType returns the content type for an output format extension.
func MIMEType(format string) (string, bool) {
	mimeType, found := formats[format]
	return mimeType, found
}

// Config holds the tunables of a Service.
type Config struct {
	// CacheDir receives generated tiles.  It is created on demand.
	CacheDir string

	// Capacity is the maximum number of tiles held by the cache.
	Capacity int

	// Exceptions are scale factors cached even for full-image requests.
	Exceptions []float64

	// Format is used for requests that name no output format.
	Format string

	// MetadataEntries bounds the master dimension cache.
	MetadataEntries int
}

// Deps are the collaborators of a Service.  Transform and Tiles are optional.
type Deps struct {
	Resolver  *resolver.Resolver
	Codec     codec.Codec
	Transform transform.Transform
	Tiles     *storage.TileStore
}

// Request is a parsed image-region request.  Region and Size are in wire form.
type Request struct {
	Identifier string
	Region     string
	Size       string
	Rotation   float64
	Level      int
	Layer      int
	Format     string
	Requester  string
	Referrer   string
}

// Response is the outcome of a request.  Failures carry a text/plain message in
// Body.  Handoff is only set for tiles newly added to the cache.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Handoff     *Handoff
	Warnings    []string
}

// Service resolves image-region requests.  Each Service has its own cache and can
// coexist with others.
type Service struct {
	config    Config
	resolver  *resolver.Resolver
	codec     codec.Codec
	transform transform.Transform
	tiles     *storage.TileStore

	cache  *tilecache.Cache
	policy tilecache.Policy

	metaMu sync.Mutex
	meta   *lru.Cache
}

// New returns a Service using the given collaborators.
func New(config Config, deps Deps) (*Service, error) {
	if deps.Resolver == nil {
		return nil, fmt.Errorf("service requires an identifier resolver")
	}
	if deps.Codec == nil {
		return nil, fmt.Errorf("service requires a codec")
	}
	if config.CacheDir == "" {
		config.CacheDir = filepath.Join(os.TempDir(), "tiled-cache")
	}
	if config.Format == "" {
		config.Format = DefaultFormat
	}
	if _, found := formats[config.Format]; !found {
		return nil, fmt.Errorf("unknown default output format %q", config.Format)
	}
	if config.MetadataEntries <= 0 {
		config.MetadataEntries = DefaultMetadataEntries
	}
	if deps.Transform == nil {
		var err error
		if deps.Transform, err = transform.ByName("none", nil); err != nil {
			return nil, err
		}
	}
	s := &Service{
		config:    config,
		resolver:  deps.Resolver,
		codec:     deps.Codec,
		transform: deps.Transform,
		tiles:     deps.Tiles,
		cache:     tilecache.New(config.Capacity, tilecache.RemoveFile),
		policy:    tilecache.Policy{Exceptions: config.Exceptions},
		meta:      lru.New(config.MetadataEntries),
	}
	return s, nil
}

// Cache returns the tile cache.
func (s *Service) Cache() *tilecache.Cache {
	return s.cache
}

// Resolver returns the identifier resolver.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

// Tiles returns the permanent tile store, which may be nil.
func (s *Service) Tiles() *storage.TileStore {
	return s.tiles
}

// StatusFor maps an error to the status code reported to clients.
func StatusFor(err error) int {
	switch tiled.KindOf(err) {
	case tiled.MalformedRegion, tiled.MalformedSize:
		return http.StatusBadRequest
	case tiled.UnresolvableIdentifier, tiled.NotFound, tiled.FetchFailed, tiled.ConvertFailed,
		tiled.UnsupportedFormat, tiled.CacheIOError, tiled.CodecFormat, tiled.CodecIO, tiled.CodecTimeout:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func textResponse(status int, msg string) *Response {
	return &Response{Status: status, ContentType: "text/plain", Body: []byte(msg)}
}

func errorResponse(err error) *Response {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		tiled.Errorf("Unexpected failure: %v\n", err)
	} else {
		tiled.Debugf("Request failed (%d): %v\n", status, err)
	}
	return textResponse(status, err.Error())
}

// Metadata returns the dimensions of a master image, caching them by path.
func (s *Service) Metadata(ctx context.Context, path string) (codec.Metadata, error) {
	s.metaMu.Lock()
	v, found := s.meta.Get(path)
	s.metaMu.Unlock()
	if found {
		return v.(codec.Metadata), nil
	}
	md, err := s.codec.Metadata(ctx, path)
	if err != nil {
		return codec.Metadata{}, err
	}
	if md.Width <= 0 || md.Height <= 0 {
		return codec.Metadata{}, tiled.NewError(tiled.CodecFormat, "master %s has no usable dimensions", path)
	}
	s.metaMu.Lock()
	s.meta.Add(path, md)
	s.metaMu.Unlock()
	return md, nil
}

// rendering is a request after resolution and normalization.
type rendering struct {
	img      *resolver.MasterImage
	params   params.Params
	ext      string
	mimeType string
	fp       tilecache.Params
	warnings []string
}

func (s *Service) prepare(ctx context.Context, req Request) (*rendering, error) {
	region, err := params.ParseRegion(req.Region)
	if err != nil {
		return nil, err
	}
	size, err := params.ParseSize(req.Size)
	if err != nil {
		return nil, err
	}
	r := &rendering{ext: req.Format}
	if r.ext == "" {
		r.ext = s.config.Format
	}
	var found bool
	if r.mimeType, found = formats[r.ext]; !found {
		return nil, tiled.NewError(tiled.UnsupportedFormat, "unsupported output format %q", r.ext)
	}
	if msg := params.RotationWarning(req.Rotation); msg != "" {
		tiled.Warningf("%s: %s\n", req.Identifier, msg)
		r.warnings = append(r.warnings, msg)
	}

	if r.img, err = s.resolver.ImageRecord(ctx, req.Identifier); err != nil {
		return nil, err
	}
	md, err := s.Metadata(ctx, r.img.Path)
	if err != nil {
		return nil, err
	}
	norm := region.Normalize(md.Width, md.Height)
	normSize := size.Normalize(norm.Width, norm.Height)
	r.params = params.Params{
		Level:    req.Level,
		Region:   norm,
		Size:     size,
		Rotation: req.Rotation,
		Layer:    req.Layer,
		Format:   r.mimeType,
		Explicit: !region.IsFull(),
		Scale:    size.ScaleFactor(),
	}
	r.fp = tilecache.Params{
		Level:    req.Level,
		Region:   norm.String(),
		Rotation: req.Rotation,
		Scale:    normSize.String(),
		Layer:    req.Layer,
	}
	return r, nil
}

// Resolve renders the requested region of an image.  Cacheable renderings come from
// or go to the tile cache; a newly cached tile is described by the response's
// Handoff so it can later be moved into permanent storage.
func (s *Service) Resolve(ctx context.Context, req Request) *Response {
	timedLog := tiled.NewTimeLog()
	if params.HasNegative(req.Region) {
		return textResponse(http.StatusNotFound, NegativeRegionMessage)
	}
	r, err := s.prepare(ctx, req)
	if err != nil {
		return errorResponse(err)
	}

	props := transform.Props{
		transform.PropRequester: req.Requester,
		transform.PropReferrer:  req.Referrer,
	}
	transformable := s.transform.IsTransformable(props)
	if err := s.transform.Apply(&r.params, props); err != nil {
		return errorResponse(err)
	}
	cacheable := s.policy.Cacheable(tilecache.Request{
		Transformable:  transformable,
		ScaleFactor:    r.params.Scale,
		ExplicitRegion: r.params.Explicit,
	})

	var resp *Response
	if cacheable {
		resp = s.cached(ctx, r)
	} else {
		resp = s.direct(ctx, r)
	}
	if resp.Status == http.StatusOK && len(resp.Body) == 0 {
		resp = textResponse(http.StatusNotFound, fmt.Sprintf("empty rendering of %s", r.img.ID))
	}
	resp.Warnings = append(resp.Warnings, r.warnings...)
	timedLog.Debugf("Resolved %s region %s size %s (status %d, cacheable %t)",
		r.img.ID, req.Region, req.Size, resp.Status, cacheable)
	return resp
}

// direct renders into memory without touching the cache.
func (s *Service) direct(ctx context.Context, r *rendering) *Response {
	var buf bytes.Buffer
	if err := s.codec.Extract(ctx, r.img.Path, &buf, codec.NewDecodeParams(r.params), r.mimeType); err != nil {
		return errorResponse(err)
	}
	return &Response{Status: http.StatusOK, ContentType: r.mimeType, Body: buf.Bytes()}
}

func (s *Service) cached(ctx context.Context, r *rendering) *Response {
	fp := tilecache.Compute(r.img.ID, r.fp)
	key := fp.Key(r.ext)
	if path, found := s.cache.Get(key); found {
		data, err := readTile(path)
		if err == nil {
			tiled.Debugf("Cache hit for %s (%s)\n", key, tilecache.Tuple(r.img.ID, r.fp))
			return &Response{Status: http.StatusOK, ContentType: r.mimeType, Body: data}
		}
		tiled.Infof("Treating unreadable cache entry %s as a miss: %v\n", key, err)
		s.cache.RemoveIf(key, path)
	}
	return s.generate(ctx, r, key)
}

func readTile(path string) ([]byte, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, tiled.WrapError(tiled.CacheIOError, err, "cached tile %s unreadable", path)
	}
	if len(data) == 0 {
		return nil, tiled.NewError(tiled.CacheIOError, "cached tile %s is empty", path)
	}
	return data, nil
}

// generate renders a tile into a new cache file.  Concurrent generations of the
// same tile all return their own bytes; only the one whose file enters the cache
// gets a hand-off.
func (s *Service) generate(ctx context.Context, r *rendering, key string) *Response {
	f, err := storage.TempFile(s.config.CacheDir, "tile-*."+r.ext)
	if err != nil {
		return errorResponse(tiled.WrapError(tiled.CacheIOError, err, "can't create tile file"))
	}
	tempPath := f.Name()
	var buf bytes.Buffer
	err = s.codec.Extract(ctx, r.img.Path, io.MultiWriter(f, &buf), codec.NewDecodeParams(r.params), r.mimeType)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = tiled.WrapError(tiled.CacheIOError, cerr, "can't write tile file %s", tempPath)
	}
	if err != nil || buf.Len() == 0 {
		os.Remove(tempPath)
		if err != nil {
			return errorResponse(err)
		}
		return textResponse(http.StatusNotFound, fmt.Sprintf("empty rendering of %s", r.img.ID))
	}
	resp := &Response{Status: http.StatusOK, ContentType: r.mimeType, Body: buf.Bytes()}

	if _, inserted := s.cache.PutIfAbsent(key, tempPath); !inserted {
		tiled.Debugf("Lost cache race for %s; discarding %s\n", key, tempPath)
		os.Remove(tempPath)
		return resp
	}
	tiled.Debugf("Cached %s tile %s as %s\n", humanize.Bytes(uint64(buf.Len())), key, tempPath)
	name := TileFileName(r.params.Level, r.fp.Region, r.fp.Scale, r.params.Rotation, r.ext)
	resp.Handoff = &Handoff{
		ID:        r.img.ID,
		Key:       r.img.ID + "_" + name,
		TempPath:  tempPath,
		CacheName: name,
		cacheKey:  key,
	}
	return resp
}

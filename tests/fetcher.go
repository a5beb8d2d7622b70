package tests

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"sync"
	"sync/atomic"

	"github.com/janelia-flyem/tiled/tiled"
)

// Resource is a fake remote object.
type Resource struct {
	Data        []byte
	ContentType string
}

// Fetcher serves fake remote resources and counts every fetch attempt.  When Gate
// is non-nil, each Open blocks until the gate is closed.
type Fetcher struct {
	Gate chan struct{}

	mu        sync.RWMutex
	resources map[string]Resource
	opens     int64
}

// NewFetcher returns an empty counting fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{resources: make(map[string]Resource)}
}

// Add makes a resource available at uri.
func (f *Fetcher) Add(uri string, data []byte, contentType string) {
	f.mu.Lock()
	f.resources[uri] = Resource{Data: data, ContentType: contentType}
	f.mu.Unlock()
}

// Opens returns the number of fetch attempts so far.
func (f *Fetcher) Opens() int {
	return int(atomic.LoadInt64(&f.opens))
}

// Open returns the resource at uri or a fetch failure.
func (f *Fetcher) Open(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	atomic.AddInt64(&f.opens, 1)
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, "", tiled.WrapError(tiled.FetchFailed, ctx.Err(), "fetch of %s interrupted", uri)
		}
	}
	f.mu.RLock()
	res, found := f.resources[uri]
	f.mu.RUnlock()
	if !found {
		return nil, "", tiled.NewError(tiled.FetchFailed, "no resource at %s", uri)
	}
	return ioutil.NopCloser(bytes.NewReader(res.Data)), res.ContentType, nil
}

package migrate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/tiled/storage"
	"github.com/janelia-flyem/tiled/tiled"
)

// Fetcher opens remote resources for migration.
type Fetcher interface {
	// Open returns the resource body and its content type, if known.
	Open(ctx context.Context, uri string) (io.ReadCloser, string, error)
}

// DefaultFetchTimeout bounds HTTP fetches when no client is supplied.
const DefaultFetchTimeout = 5 * time.Minute

// RemoteFetcher fetches http and https URLs with an HTTP client and gs, s3, file
// and mem URIs from blob buckets.  Buckets are opened once and reused.
type RemoteFetcher struct {
	client *http.Client

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewFetcher returns a fetcher using client for HTTP, or a default client if nil.
func NewFetcher(client *http.Client) *RemoteFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &RemoteFetcher{
		client:  client,
		buckets: make(map[string]*blob.Bucket),
	}
}

// Open fetches the resource at uri.
func (f *RemoteFetcher) Open(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return f.openHTTP(ctx, uri)
	}
	ref, key, err := storage.SplitBlobURI(uri)
	if err != nil {
		return nil, "", tiled.WrapError(tiled.FetchFailed, err, "can't fetch %s", uri)
	}
	bucket, err := f.Bucket(ctx, ref)
	if err != nil {
		return nil, "", tiled.WrapError(tiled.FetchFailed, err, "can't open bucket for %s", uri)
	}
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", tiled.NewError(tiled.FetchFailed, "no object at %s", uri)
		}
		return nil, "", tiled.WrapError(tiled.FetchFailed, err, "can't read %s", uri)
	}
	return r, r.ContentType(), nil
}

func (f *RemoteFetcher) openHTTP(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", tiled.WrapError(tiled.FetchFailed, err, "bad remote URL %s", uri)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", tiled.WrapError(tiled.FetchFailed, err, "can't fetch %s", uri)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", tiled.NewError(tiled.FetchFailed, "fetch of %s returned status %d", uri, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Bucket returns the open bucket for a reference, opening it on first use.  The
// lock isn't held while opening; if two callers race, the first bucket stored wins.
func (f *RemoteFetcher) Bucket(ctx context.Context, ref string) (*blob.Bucket, error) {
	f.mu.Lock()
	b, found := f.buckets[ref]
	f.mu.Unlock()
	if found {
		return b, nil
	}

	opened, err := storage.OpenBucket(ctx, ref)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if b, found = f.buckets[ref]; !found {
		f.buckets[ref] = opened
	}
	f.mu.Unlock()
	if found {
		opened.Close()
		return b, nil
	}
	return opened, nil
}

// Close closes every opened bucket.
func (f *RemoteFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for ref, b := range f.buckets {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing bucket %s: %v", ref, err)
		}
		delete(f.buckets, ref)
	}
	return firstErr
}

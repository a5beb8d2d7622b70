/*
Package resolver turns request identifiers into locally stored master images.
Identifiers are validated against configured patterns, looked up in local
content-addressed storage, and otherwise migrated from configured remote
locations with at most one migration in flight per identifier.
*/
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/janelia-flyem/tiled/storage"
	"github.com/janelia-flyem/tiled/tiled"
)

// DefaultJoinTimeout bounds how long a request waits on another request's
// migration of the same identifier.
const DefaultJoinTimeout = 300 * time.Second

// ErrInFlight is returned by a Converter when another migration of the same
// identifier holds the registry.
var ErrInFlight = errors.New("migration already in flight")

// MasterImage is a locally stored master.  It is never modified once created.
type MasterImage struct {
	ID    string            `json:"id"`
	Path  string            `json:"path"`
	Props map[string]string `json:"props,omitempty"`
}

// Converter migrates a remote resource into local storage, returning the master's
// path.  It must hold the identifier in the shared Registry while it works.
type Converter interface {
	Convert(ctx context.Context, id, uri string) (string, error)
}

// Config configures a Resolver.
type Config struct {
	// Patterns are regular expressions matched against the whole decoded
	// identifier in order.  The first capture group is the canonical id.
	Patterns []string

	// Templates are remote locations tried in order, with "%s" replaced by the
	// decoded id.
	Templates []string

	JoinTimeout time.Duration
	MemoBytes   int
	MemoTTL     time.Duration
}

// Resolver resolves identifiers to master images.
type Resolver struct {
	patterns    []*regexp.Regexp
	templates   []string
	joinTimeout time.Duration

	store    *storage.MasterStore
	registry *Registry
	memo     *Memo
	conv     Converter
}

// New returns a resolver.  The registry must be the one conv registers with.
func New(config Config, store *storage.MasterStore, registry *Registry, conv Converter) (*Resolver, error) {
	if store == nil || registry == nil {
		return nil, fmt.Errorf("resolver needs a master store and registry")
	}
	r := &Resolver{
		templates:   config.Templates,
		joinTimeout: config.JoinTimeout,
		store:       store,
		registry:    registry,
		memo:        NewMemo(config.MemoBytes, config.MemoTTL),
		conv:        conv,
	}
	if r.joinTimeout <= 0 {
		r.joinTimeout = DefaultJoinTimeout
	}
	for _, p := range config.Patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("bad identifier pattern %q: %v", p, err)
		}
		if re.NumSubexp() == 0 {
			return nil, fmt.Errorf("identifier pattern %q has no capture group", p)
		}
		r.patterns = append(r.patterns, re)
	}
	if len(r.templates) > 0 && conv == nil {
		return nil, fmt.Errorf("remote templates configured without a converter")
	}
	return r, nil
}

// Registry returns the in-flight migration registry.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Memo returns the remote image memo.
func (r *Resolver) Memo() *Memo {
	return r.memo
}

// PathSafetyDecode reverses the double-encoding of slashes and backslashes used to
// carry identifiers in URL paths.
func PathSafetyDecode(s string) string {
	s = strings.Replace(s, "%252F", "%2F", -1)
	return strings.Replace(s, "%255C", "%5C", -1)
}

// PathSafetyEncode double-encodes slashes and backslashes of an encoded id.
func PathSafetyEncode(s string) string {
	s = strings.Replace(s, "%2F", "%252F", -1)
	return strings.Replace(s, "%5C", "%255C", -1)
}

// ExtractID returns the canonical, single-encoded identifier within a raw request
// token.  No matching pattern is not an error; ok is simply false.
func (r *Resolver) ExtractID(raw string) (id string, ok bool) {
	decoded, err := url.QueryUnescape(PathSafetyDecode(raw))
	if err != nil {
		tiled.Debugf("Identifier %q isn't decodable: %v\n", raw, err)
		return "", false
	}
	for _, re := range r.patterns {
		m := re.FindStringSubmatch(decoded)
		if m == nil {
			continue
		}
		id = url.QueryEscape(m[1])
		tiled.Debugf("Match found for %s, id=%s\n", raw, id)
		return id, true
	}
	tiled.Debugf("No pattern matches %q\n", decoded)
	return "", false
}

// ImageRecord resolves a raw request token to its master image.
func (r *Resolver) ImageRecord(ctx context.Context, raw string) (*MasterImage, error) {
	id, ok := r.ExtractID(raw)
	if !ok {
		return nil, tiled.NewError(tiled.UnresolvableIdentifier, "identifier %q matches no known source", raw)
	}
	return r.Resolve(ctx, id)
}

// Lookup returns a master already available locally or in the memo.  It never
// touches the network.
func (r *Resolver) Lookup(id string) (*MasterImage, bool) {
	if path, found := r.store.Lookup(id); found {
		return &MasterImage{ID: id, Path: path}, true
	}
	return r.memo.Get(id)
}

// Resolve returns the master image for a canonical identifier, migrating it from
// the configured remote templates when it isn't stored locally.
func (r *Resolver) Resolve(ctx context.Context, id string) (*MasterImage, error) {
	if img, found := r.Lookup(id); found {
		return img, nil
	}
	decoded, err := url.QueryUnescape(id)
	if err != nil {
		return nil, tiled.WrapError(tiled.NotFound, err, "bad identifier encoding %q", id)
	}
	var lastErr error
	for _, tmpl := range r.templates {
		uri := strings.Replace(tmpl, "%s", decoded, -1)
		tiled.Debugf("Trying to resolve %s using %s\n", id, uri)
		img, err := r.remote(ctx, id, uri)
		if err == nil {
			return img, nil
		}
		tiled.Infof("Unable to access %s at %s: %v\n", id, uri, err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return nil, tiled.WrapError(tiled.NotFound, lastErr, "no master image for %q", id)
	}
	return nil, tiled.NewError(tiled.NotFound, "no master image for %q", id)
}

// remote migrates id from uri or, if another migration of id is in flight, waits
// for it and uses its result.
func (r *Resolver) remote(ctx context.Context, id, uri string) (*MasterImage, error) {
	for {
		if done, inflight := r.registry.Wait(id); inflight {
			img, err := r.join(ctx, id, done)
			if img != nil || err != nil {
				return img, err
			}
		}
		path, err := r.conv.Convert(ctx, id, uri)
		if errors.Is(err, ErrInFlight) {
			continue
		}
		if err != nil {
			return nil, err
		}
		img := &MasterImage{ID: id, Path: path}
		r.memo.Set(img)
		return img, nil
	}
}

// join waits for an in-flight migration of id.  A nil image and error means the
// other migration failed and the caller may try itself.
func (r *Resolver) join(ctx context.Context, id string, done <-chan struct{}) (*MasterImage, error) {
	tiled.Debugf("Waiting on in-flight migration of %s\n", id)
	timer := time.NewTimer(r.joinTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return nil, tiled.NewError(tiled.FetchFailed, "gave up waiting %s for migration of %q", r.joinTimeout, id)
	case <-ctx.Done():
		return nil, tiled.WrapError(tiled.FetchFailed, ctx.Err(), "stopped waiting for migration of %q", id)
	}
	if img, found := r.memo.Get(id); found {
		tiled.Debugf("Retrieving %s from remote image memo\n", id)
		return img, nil
	}
	if path, found := r.store.Lookup(id); found {
		img := &MasterImage{ID: id, Path: path}
		r.memo.Set(img)
		return img, nil
	}
	return nil, nil
}

// Status reports 200 for an available master, 202 while a migration is in flight,
// and 404 otherwise.  It never starts a migration.
func (r *Resolver) Status(ctx context.Context, raw string) int {
	id, ok := r.ExtractID(raw)
	if !ok {
		return http.StatusNotFound
	}
	if _, found := r.Lookup(id); found {
		return http.StatusOK
	}
	if r.registry.Contains(id) {
		return http.StatusAccepted
	}
	return http.StatusNotFound
}

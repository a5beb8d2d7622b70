/*
Package migrate fetches remote images and stores them as local JPEG 2000 masters,
converting other formats with the codec.
*/
package migrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/resolver"
	"github.com/janelia-flyem/tiled/storage"
	"github.com/janelia-flyem/tiled/tiled"
)

// ErrInFlight is returned when another migration of the identifier is running.
var ErrInFlight = resolver.ErrInFlight

// Config configures a Migrator.
type Config struct {
	// TempDir holds downloads awaiting conversion.  Defaults to the system temp dir.
	TempDir string

	// Encode are the parameters used when compressing non-JPEG 2000 sources.
	Encode codec.EncodeParams
}

// Migrator fetches remote resources into a master store.
type Migrator struct {
	config   Config
	store    *storage.MasterStore
	codec    codec.Codec
	fetcher  Fetcher
	registry *resolver.Registry
}

// New returns a migrator registering its work in registry.
func New(config Config, store *storage.MasterStore, c codec.Codec, f Fetcher, registry *resolver.Registry) *Migrator {
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &Migrator{
		config:   config,
		store:    store,
		codec:    c,
		fetcher:  f,
		registry: registry,
	}
}

// Convert fetches uri and stores it as the master for id, returning the master's
// path.  The id is held in the registry for the whole call; a concurrent call for
// the same id returns ErrInFlight without doing any work.
func (m *Migrator) Convert(ctx context.Context, id, uri string) (string, error) {
	leader, _ := m.registry.Begin(id)
	if !leader {
		return "", ErrInFlight
	}
	defer m.registry.End(id)

	timedLog := tiled.NewTimeLog()
	rc, contentType, err := m.fetcher.Open(ctx, uri)
	if err != nil {
		if tiled.KindOf(err) == tiled.Unexpected {
			err = tiled.WrapError(tiled.FetchFailed, err, "can't fetch %s", uri)
		}
		return "", err
	}
	defer rc.Close()

	path, err := m.migrateStream(ctx, id, uri, contentType, rc)
	if err != nil {
		return "", err
	}
	timedLog.Infof("Migrated %s from %s", id, uri)
	return path, nil
}

// ConvertFile stores a local file as the master for id, leaving the file in place.
// It registers the id just like Convert.
func (m *Migrator) ConvertFile(ctx context.Context, id, filename string) (string, error) {
	leader, _ := m.registry.Begin(id)
	if !leader {
		return "", ErrInFlight
	}
	defer m.registry.End(id)

	timedLog := tiled.NewTimeLog()
	f, err := os.Open(filename)
	if err != nil {
		return "", tiled.WrapError(tiled.FetchFailed, err, "can't open %s", filename)
	}
	defer f.Close()

	path, err := m.migrateStream(ctx, id, filename, "", f)
	if err != nil {
		return "", err
	}
	timedLog.Debugf("Ingested %s from %s", id, filename)
	return path, nil
}

// migrateStream sniffs a source and stores it as a master, converting when needed.
// name is the source's URI or file name, used for format detection and messages.
func (m *Migrator) migrateStream(ctx context.Context, id, name, contentType string, r io.Reader) (string, error) {
	br := bufio.NewReader(r)
	header, _ := br.Peek(codec.SniffLen)
	if len(header) == 0 {
		return "", tiled.NewError(tiled.FetchFailed, "empty resource at %s", name)
	}
	format := detectFormat(name, contentType, header)

	switch {
	case format.IsMaster():
		tiled.Infof("Processing JPEG 2000 file: %s\n", name)
		return m.storeMaster(ctx, id, br)
	case format.IsConvertible():
		tiled.Infof("Processing %s image: %s\n", format, name)
		return m.convertSource(ctx, id, format, br)
	default:
		return "", tiled.NewError(tiled.UnsupportedFormat, "unrecognized image format at %s (%q)", name, contentType)
	}
}

// detectFormat uses the URI extension, then the content type, then the leading
// bytes.  A JPEG 2000 signature always wins since masters are stored unconverted.
func detectFormat(uri, contentType string, header []byte) codec.Format {
	sniffed := codec.Sniff(header)
	if sniffed.IsMaster() {
		return sniffed
	}
	if f := codec.FormatForName(uri); f != codec.FormatUnknown {
		return f
	}
	if f := codec.FormatForMIME(contentType); f != codec.FormatUnknown {
		return f
	}
	return sniffed
}

// storeMaster checks a fetched JPEG 2000 file while it is still staged so an
// unreadable master never becomes visible to lookups.
func (m *Migrator) storeMaster(ctx context.Context, id string, r io.Reader) (string, error) {
	staged, err := m.store.Stage(id, r)
	if err != nil {
		return "", err
	}
	if _, err := m.codec.Metadata(ctx, staged.Path); err != nil {
		staged.Discard()
		return "", tiled.WrapError(tiled.ConvertFailed, err, "unknown JP2/JPX file format for %q", id)
	}
	path, err := staged.Publish()
	if err != nil {
		return "", err
	}
	tiled.Debugf("Stored retrieved JP2 for %s (%s) at %s\n", id, humanize.Bytes(uint64(staged.Size)), path)
	return path, nil
}

func (m *Migrator) convertSource(ctx context.Context, id string, format codec.Format, r io.Reader) (string, error) {
	src, err := storage.TempFile(m.config.TempDir, fmt.Sprintf("convert-*.%s", format))
	if err != nil {
		return "", err
	}
	defer os.Remove(src.Name())
	n, err := io.Copy(src, r)
	if cerr := src.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", tiled.WrapError(tiled.FetchFailed, err, "error downloading source for %q", id)
	}
	if n == 0 {
		return "", tiled.NewError(tiled.FetchFailed, "empty source for %q", id)
	}
	tiled.Debugf("Downloaded %s source for %s (%s)\n", format, id, humanize.Bytes(uint64(n)))

	out := filepath.Join(m.config.TempDir, fmt.Sprintf("%s%s", filepath.Base(src.Name()), storage.MasterExt))
	defer os.Remove(out)
	if err := m.codec.Compress(ctx, src.Name(), out, m.config.Encode); err != nil {
		return "", tiled.WrapError(tiled.ConvertFailed, err, "can't compress source for %q", id)
	}
	return m.store.CommitFile(id, out)
}

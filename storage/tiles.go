package storage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/janelia-flyem/tiled/tiled"
)

// TileStore is the permanent, pairtree-organized store of generated tiles.  Tiles
// arrive here by adopting temp files named in a cache hand-off.
type TileStore struct {
	mapper PathMapper
}

// NewTileStore returns a tile store with the given path mapping.
func NewTileStore(mapper PathMapper) *TileStore {
	return &TileStore{mapper: mapper}
}

// Path returns the permanent location of a named tile of an image.
func (ts *TileStore) Path(id, name string) string {
	return filepath.Join(ts.mapper.PathFor(id), name)
}

// Lookup returns the path of a stored, non-empty tile.
func (ts *TileStore) Lookup(id, name string) (string, bool) {
	path := ts.Path(id, name)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return "", false
	}
	return path, true
}

// Adopt moves a generated temp file into the permanent store.  A temp file that
// no longer exists is not an error since the cache may have evicted it.
func (ts *TileStore) Adopt(tempPath, id, name string) (string, error) {
	dest := ts.Path(id, name)
	if _, err := os.Stat(tempPath); os.IsNotExist(err) {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", tiled.WrapError(tiled.CacheIOError, err, "can't create tile directory for %q", id)
	}
	if err := os.Rename(tempPath, dest); err == nil {
		return dest, nil
	}
	if err := copyFile(tempPath, dest); err != nil {
		return "", tiled.WrapError(tiled.CacheIOError, err, "can't adopt tile %s", tempPath)
	}
	os.Remove(tempPath)
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := TempFile(filepath.Dir(dest), ".adopt-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return err
	}
	return os.Rename(out.Name(), dest)
}

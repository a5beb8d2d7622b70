package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/tiled/tiled"
)

// MasterExt is the file extension of stored master images.
const MasterExt = ".jp2"

// MasterStore is the content-addressed local store of master images.  Files are
// only ever published by renaming a completely written temp file, so readers never
// observe a partial master.
type MasterStore struct {
	mapper PathMapper
}

// NewMasterStore returns a master store using the given path mapping.
func NewMasterStore(mapper PathMapper) *MasterStore {
	return &MasterStore{mapper: mapper}
}

func (ms *MasterStore) String() string {
	return fmt.Sprintf("master store (%v)", ms.mapper)
}

// Path returns the location a master for the identifier would occupy.
func (ms *MasterStore) Path(id string) string {
	return filepath.Join(ms.mapper.PathFor(id), EncodeID(id))
}

// Lookup returns the path of a stored, non-empty master for the identifier.
func (ms *MasterStore) Lookup(id string) (string, bool) {
	path := ms.Path(id)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return "", false
	}
	return path, true
}

// Commit streams r into the master location for the identifier and returns the
// final path and number of bytes written.  An empty stream is an error and leaves
// nothing behind.
func (ms *MasterStore) Commit(id string, r io.Reader) (path string, n int64, err error) {
	st, err := ms.Stage(id, r)
	if err != nil {
		return "", 0, err
	}
	path, err = st.Publish()
	return path, st.Size, err
}

// Staged is a completely written master that is not yet visible to Lookup.  It must
// be published or discarded.
type Staged struct {
	ID   string
	Path string
	Size int64

	target string
}

// Stage streams r into a temp file next to the master location for the identifier.
// Readers can't find the staged file until Publish.
func (ms *MasterStore) Stage(id string, r io.Reader) (st *Staged, err error) {
	target := ms.Path(id)
	dir := filepath.Dir(target)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return nil, tiled.WrapError(tiled.CacheIOError, err, "can't create master directory %s", dir)
	}
	f, err := TempFile(dir, "staged-*")
	if err != nil {
		return nil, err
	}
	staged := f.Name()
	defer func() {
		if err != nil {
			os.Remove(staged)
		}
	}()
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return nil, tiled.WrapError(tiled.CacheIOError, err, "error writing master for %q", id)
	}
	if n == 0 {
		f.Close()
		err = tiled.NewError(tiled.FetchFailed, "empty master image for %q", id)
		return nil, err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return nil, tiled.WrapError(tiled.CacheIOError, err, "can't sync master for %q", id)
	}
	if err = f.Close(); err != nil {
		return nil, tiled.WrapError(tiled.CacheIOError, err, "can't close master for %q", id)
	}
	return &Staged{ID: id, Path: staged, Size: n, target: target}, nil
}

// Publish renames the staged file into the master location and returns its path.
func (st *Staged) Publish() (string, error) {
	if err := os.Rename(st.Path, st.target); err != nil {
		os.Remove(st.Path)
		return "", tiled.WrapError(tiled.CacheIOError, err, "can't publish master for %q", st.ID)
	}
	tiled.Debugf("Stored master for %q (%s) at %s\n", st.ID, humanize.Bytes(uint64(st.Size)), st.target)
	return st.target, nil
}

// Discard deletes the staged file.
func (st *Staged) Discard() {
	if err := os.Remove(st.Path); err != nil && !os.IsNotExist(err) {
		tiled.Warningf("Unable to remove staged master %s: %v\n", st.Path, err)
	}
}

// CommitFile moves an existing file into the master location for the identifier.
// If a rename across devices fails, the file is copied and the source removed.
func (ms *MasterStore) CommitFile(id, src string) (string, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return "", tiled.WrapError(tiled.CacheIOError, err, "can't stat converted file %s", src)
	}
	if fi.Size() == 0 {
		os.Remove(src)
		return "", tiled.NewError(tiled.ConvertFailed, "converted file for %q is empty", id)
	}
	path := ms.Path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", tiled.WrapError(tiled.CacheIOError, err, "can't create master directory for %q", id)
	}
	if err := os.Rename(src, path); err == nil {
		tiled.Debugf("Moved converted master for %q (%s) to %s\n", id, humanize.Bytes(uint64(fi.Size())), path)
		return path, nil
	}
	f, err := os.Open(src)
	if err != nil {
		return "", tiled.WrapError(tiled.CacheIOError, err, "can't open converted file %s", src)
	}
	defer func() {
		f.Close()
		os.Remove(src)
	}()
	path, _, err = ms.Commit(id, f)
	return path, err
}

// Available returns the free bytes on the file system holding the store.
func (ms *MasterStore) Available() (uint64, error) {
	return DiskFree(ms.mapper.RootDir())
}

// Remove deletes the stored master for the identifier, if any.
func (ms *MasterStore) Remove(id string) error {
	err := os.Remove(ms.Path(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// TempFile creates a uniquely named file in dir, creating dir on demand.  A '*' in
// the pattern is replaced by a random UUID.
func TempFile(dir, pattern string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, tiled.WrapError(tiled.CacheIOError, err, "can't create temp directory %s", dir)
	}
	name := filepath.Join(dir, replaceStar(pattern, fmt.Sprintf("%x", uuid.NewV4().Bytes())))
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, tiled.WrapError(tiled.CacheIOError, err, "can't create temp file %s", name)
	}
	return f, nil
}

func replaceStar(pattern, unique string) string {
	for i := len(pattern) - 1; i >= 0; i-- {
		if pattern[i] == '*' {
			return pattern[:i] + unique + pattern[i+1:]
		}
	}
	return pattern + unique
}

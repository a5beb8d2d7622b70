package resolver

import (
	"encoding/json"
	"time"

	"github.com/coocood/freecache"

	"github.com/janelia-flyem/tiled/tiled"
)

const (
	// DefaultMemoBytes is the memory bound of the remote image memo.
	DefaultMemoBytes = 8 << 20

	// DefaultMemoTTL is how long a migrated image is remembered.
	DefaultMemoTTL = time.Hour
)

// Memo remembers recently migrated master images.  Entries expire after a TTL and
// the least recently used are dropped once the memory bound is reached.
type Memo struct {
	cache *freecache.Cache
	ttl   int
}

// NewMemo returns a memo bounded to numBytes whose entries live for ttl.
func NewMemo(numBytes int, ttl time.Duration) *Memo {
	if numBytes <= 0 {
		numBytes = DefaultMemoBytes
	}
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &Memo{cache: freecache.NewCache(numBytes), ttl: secs}
}

// Get returns the remembered master for id.
func (m *Memo) Get(id string) (*MasterImage, bool) {
	data, err := m.cache.Get([]byte(id))
	if err != nil {
		if err != freecache.ErrNotFound {
			tiled.Errorf("Unable to read memo entry for %q: %v\n", id, err)
		}
		return nil, false
	}
	var img MasterImage
	if err := json.Unmarshal(data, &img); err != nil {
		tiled.Errorf("Corrupt memo entry for %q: %v\n", id, err)
		return nil, false
	}
	return &img, true
}

// Set remembers the master for its identifier.
func (m *Memo) Set(img *MasterImage) {
	data, err := json.Marshal(img)
	if err != nil {
		tiled.Errorf("Unable to encode memo entry for %q: %v\n", img.ID, err)
		return
	}
	if err := m.cache.Set([]byte(img.ID), data, m.ttl); err != nil {
		tiled.Warningf("Unable to memoize %q (%d bytes): %v\n", img.ID, len(data), err)
	}
}

// Delete forgets id.
func (m *Memo) Delete(id string) {
	m.cache.Del([]byte(id))
}

// Len returns the number of remembered images, including expired entries not yet
// reclaimed.
func (m *Memo) Len() int {
	return int(m.cache.EntryCount())
}

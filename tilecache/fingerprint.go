/*
Package tilecache maps rendering fingerprints to generated tile files.  It decides
which renderings are worth caching, computes their fingerprints, and holds a
bounded LRU table of tile paths shared by all request goroutines.
*/
package tilecache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Fingerprint is a SHA-1 digest identifying one rendering of one image.
type Fingerprint [sha1.Size]byte

// Params are the canonical rendering parameters covered by a fingerprint.  Region
// and Scale must be the canonical strings of normalized parameters so equivalent
// requests fingerprint identically.
type Params struct {
	Level    int
	Region   string
	Rotation float64
	Scale    string
	Layer    int
}

// Tuple returns the string that is digested, "id|level|region|rotation|scale|layer".
func Tuple(id string, p Params) string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%d", id, p.Level, p.Region,
		strconv.FormatFloat(p.Rotation, 'f', -1, 64), p.Scale, p.Layer)
}

// Compute returns the fingerprint of a rendering.
func Compute(id string, p Params) Fingerprint {
	return sha1.Sum([]byte(Tuple(id, p)))
}

// Hex returns the fingerprint as lowercase hex.
func (fp Fingerprint) Hex() string {
	return hex.EncodeToString(fp[:])
}

// Key returns the cache table key for the rendering in a given output format
// extension, e.g. "jpg".
func (fp Fingerprint) Key(ext string) string {
	return fp.Hex() + "." + ext
}

func (fp Fingerprint) String() string {
	return fp.Hex()
}

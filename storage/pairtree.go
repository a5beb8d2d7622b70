package storage

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
)

// PathMapper deterministically maps an identifier to the directory that holds its
// files.  Implementations must be pure functions of the identifier.
type PathMapper interface {
	PathFor(id string) string

	// RootDir is the directory every mapped path lies under.
	RootDir() string
}

// PairtreeRootDir is the directory under a pairtree root that holds all objects.
const PairtreeRootDir = "pairtree_root"

// Pairtree maps identifiers into a pairtree: the encoded identifier is split into
// two-character "shorties", each a directory level, ending with a directory named
// for the full encoded identifier.
type Pairtree struct {
	Root string
}

// PathFor returns the object directory for the identifier.
func (pt Pairtree) PathFor(id string) string {
	encoded := EncodeID(id)
	parts := []string{pt.Root, PairtreeRootDir}
	for i := 0; i < len(encoded); i += 2 {
		end := i + 2
		if end > len(encoded) {
			end = len(encoded)
		}
		parts = append(parts, encoded[i:end])
	}
	parts = append(parts, encoded)
	return filepath.Join(parts...)
}

func (pt Pairtree) RootDir() string {
	return pt.Root
}

func (pt Pairtree) String() string {
	return fmt.Sprintf("pairtree @ %s", pt.Root)
}

// Hashed maps identifiers into a fixed-depth tree of FNV hash prefixes, giving
// evenly filled directories regardless of identifier shape.
type Hashed struct {
	Root string
}

// PathFor returns the directory for the identifier.
func (hs Hashed) PathFor(id string) string {
	h := fnv.New32()
	h.Write([]byte(id))
	hexHash := hex.EncodeToString(h.Sum(nil))
	return filepath.Join(hs.Root, hexHash[0:2], hexHash[2:4], hexHash[4:])
}

func (hs Hashed) RootDir() string {
	return hs.Root
}

func (hs Hashed) String() string {
	return fmt.Sprintf("hashed tree @ %s", hs.Root)
}

// NewPathMapper returns the mapper for a layout name, "pairtree" or "hashed".
func NewPathMapper(layout, root string) (PathMapper, error) {
	switch strings.ToLower(layout) {
	case "", "pairtree":
		return Pairtree{Root: root}, nil
	case "hashed":
		return Hashed{Root: root}, nil
	default:
		return nil, fmt.Errorf("unknown storage layout %q", layout)
	}
}

const pairtreeHexChars = "\"*+,<=>?\\^|"

var pairtreeSubst = strings.NewReplacer("/", "=", ":", "+", ".", ",")

// EncodeID returns the pairtree cleaned form of an identifier, safe to use as a
// single file name.  Reserved and non-visible bytes become ^xx, then '/', ':' and
// '.' are swapped for '=', '+' and ','.
func EncodeID(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7e || strings.IndexByte(pairtreeHexChars, c) >= 0 {
			fmt.Fprintf(&b, "^%02x", c)
			continue
		}
		b.WriteByte(c)
	}
	return pairtreeSubst.Replace(b.String())
}

// DecodeID reverses EncodeID.
func DecodeID(encoded string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		switch c {
		case '=':
			b.WriteByte('/')
		case '+':
			b.WriteByte(':')
		case ',':
			b.WriteByte('.')
		case '^':
			if i+3 > len(encoded) {
				return "", fmt.Errorf("truncated hex escape in %q", encoded)
			}
			v, err := hex.DecodeString(encoded[i+1 : i+3])
			if err != nil {
				return "", fmt.Errorf("bad hex escape in %q: %v", encoded, err)
			}
			b.Write(v)
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

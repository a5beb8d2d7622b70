/*
	The tests package provides in-process collaborators for testing tiled
	components without an external codec or remote image servers.
*/
package tests

import (
	"bytes"
	"encoding/binary"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/janelia-flyem/tiled/tiled"
)

func init() {
	tiled.SetLogMode(tiled.WarningMode)
}

// RandomBytes returns a slices of random bytes.
func RandomBytes(numBytes int32) []byte {
	buf := make([]byte, numBytes)
	src := rand.NewSource(time.Now().UnixNano())
	var offset int32
	for {
		val := int64(src.Int63())
		for i := 0; i < 8; i++ {
			if offset >= numBytes {
				return buf
			}
			buf[offset] = byte(val)
			offset++
			val >>= 8
		}
	}
}

// JP2 returns a minimal JP2 file whose header describes an image of the given
// size and number of decomposition levels.  It holds no decodable image data.
func JP2(width, height, levels int) []byte {
	var b bytes.Buffer
	b.WriteString("\x00\x00\x00\x0cjP  \r\n\x87\n")
	writeBox(&b, "ftyp", []byte("jp2 \x00\x00\x00\x00jp2 "))

	ihdr := make([]byte, 14)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(height))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(width))
	binary.BigEndian.PutUint16(ihdr[8:10], 1)
	ihdr[10] = 7
	ihdr[11] = 7
	var jp2h bytes.Buffer
	writeBox(&jp2h, "ihdr", ihdr)
	writeBox(&b, "jp2h", jp2h.Bytes())

	writeBox(&b, "jp2c", Codestream(width, height, levels))
	return b.Bytes()
}

// Codestream returns a minimal raw JPEG 2000 codestream header.
func Codestream(width, height, levels int) []byte {
	var cs bytes.Buffer
	cs.Write([]byte{0xFF, 0x4F})

	siz := make([]byte, 36+3)
	binary.BigEndian.PutUint32(siz[2:6], uint32(width))
	binary.BigEndian.PutUint32(siz[6:10], uint32(height))
	binary.BigEndian.PutUint32(siz[18:22], uint32(width))
	binary.BigEndian.PutUint32(siz[22:26], uint32(height))
	binary.BigEndian.PutUint16(siz[34:36], 1)
	siz[36] = 7
	siz[37] = 1
	siz[38] = 1
	writeSegment(&cs, 0xFF51, siz)

	cod := []byte{0, 0, 0, 1, 0, byte(levels), 4, 4, 0, 1}
	writeSegment(&cs, 0xFF52, cod)

	cs.Write([]byte{0xFF, 0x90, 0x00, 0x0A, 0, 0, 0, 0, 0, 0, 0, 1})
	cs.Write([]byte{0xFF, 0x93, 0xFF, 0xD9})
	return cs.Bytes()
}

func writeBox(b *bytes.Buffer, boxType string, contents []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(8+len(contents)))
	copy(hdr[4:], boxType)
	b.Write(hdr[:])
	b.Write(contents)
}

func writeSegment(b *bytes.Buffer, marker uint16, contents []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], marker)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(2+len(contents)))
	b.Write(hdr[:])
	b.Write(contents)
}

// WriteJP2 writes a minimal JP2 file of the given size, creating directories as
// needed.
func WriteJP2(path string, width, height int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(path, JP2(width, height, 5), 0644)
}

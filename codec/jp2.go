package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/janelia-flyem/tiled/tiled"
)

// Marker is a JPEG 2000 codestream marker code.
type Marker uint16

const (
	SOC Marker = 0xFF4F // start of codestream
	SIZ Marker = 0xFF51 // image and tile size
	COD Marker = 0xFF52 // coding style default
	SOT Marker = 0xFF90 // start of tile-part
	SOD Marker = 0xFF93 // start of data
	EOC Marker = 0xFFD9 // end of codestream
)

// JP2Signature is the signature box that starts every JP2 file.
var JP2Signature = []byte("\x00\x00\x00\x0cjP  \r\n\x87\n")

// codestreamSignature is SOC immediately followed by SIZ.
var codestreamSignature = []byte{0xFF, 0x4F, 0xFF, 0x51}

// maxHeaderBox bounds how far into a JP2 file we skip while looking for the codestream.
const maxHeaderBox = 64 << 20

// ReadJP2Header reads the dimensions and resolution levels of a JP2 file or raw
// codestream without decoding any image data.
func ReadJP2Header(r io.Reader) (Metadata, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(JP2Signature))
	if err != nil && len(head) < len(codestreamSignature) {
		return Metadata{}, fmt.Errorf("too short for a JPEG 2000 image: %v", err)
	}
	switch {
	case bytes.HasPrefix(head, JP2Signature):
		if err := seekCodestream(br); err != nil {
			return Metadata{}, err
		}
	case bytes.HasPrefix(head, codestreamSignature):
	default:
		return Metadata{}, fmt.Errorf("not a JPEG 2000 image")
	}
	return readMainHeader(br)
}

// ReadJP2HeaderFile reads the header of a JPEG 2000 file.  Errors are classified
// as codec i/o or format errors.
func ReadJP2HeaderFile(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, tiled.WrapError(tiled.CodecIO, err, "can't open master %s", path)
	}
	defer f.Close()
	md, err := ReadJP2Header(f)
	if err != nil {
		return Metadata{}, tiled.WrapError(tiled.CodecFormat, err, "can't read header of %s", path)
	}
	return md, nil
}

// seekCodestream skips JP2 boxes until positioned at the contents of the
// contiguous codestream box.
func seekCodestream(br *bufio.Reader) error {
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return fmt.Errorf("no codestream box found: %v", err)
		}
		length := uint64(binary.BigEndian.Uint32(hdr[0:4]))
		boxType := string(hdr[4:8])
		headerLen := uint64(8)
		if length == 1 {
			var ext [8]byte
			if _, err := io.ReadFull(br, ext[:]); err != nil {
				return fmt.Errorf("truncated %q box: %v", boxType, err)
			}
			length = binary.BigEndian.Uint64(ext[:])
			headerLen = 16
		}
		if boxType == "jp2c" {
			return nil
		}
		if length == 0 {
			return fmt.Errorf("last box %q is not a codestream", boxType)
		}
		if length < headerLen || length-headerLen > maxHeaderBox {
			return fmt.Errorf("bad length %d for %q box", length, boxType)
		}
		if _, err := io.CopyN(io.Discard, br, int64(length-headerLen)); err != nil {
			return fmt.Errorf("truncated %q box: %v", boxType, err)
		}
	}
}

// readMainHeader parses codestream marker segments up to the first tile-part.
func readMainHeader(br *bufio.Reader) (Metadata, error) {
	var md Metadata
	var marker [2]byte
	if _, err := io.ReadFull(br, marker[:]); err != nil || Marker(binary.BigEndian.Uint16(marker[:])) != SOC {
		return md, fmt.Errorf("codestream doesn't start with SOC marker")
	}
	var sawSIZ, sawCOD bool
	for {
		if _, err := io.ReadFull(br, marker[:]); err != nil {
			return md, fmt.Errorf("truncated codestream header: %v", err)
		}
		m := Marker(binary.BigEndian.Uint16(marker[:]))
		if m == SOT || m == SOD || m == EOC {
			break
		}
		var lenBuf [2]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return md, fmt.Errorf("truncated marker segment 0x%04X: %v", uint16(m), err)
		}
		segLen := int(binary.BigEndian.Uint16(lenBuf[:]))
		if segLen < 2 {
			return md, fmt.Errorf("bad length %d for marker 0x%04X", segLen, uint16(m))
		}
		seg := make([]byte, segLen-2)
		if _, err := io.ReadFull(br, seg); err != nil {
			return md, fmt.Errorf("truncated marker segment 0x%04X: %v", uint16(m), err)
		}
		switch m {
		case SIZ:
			// Rsiz(2) Xsiz(4) Ysiz(4) XOsiz(4) YOsiz(4) ...
			if len(seg) < 18 {
				return md, fmt.Errorf("SIZ segment too short")
			}
			xsiz := binary.BigEndian.Uint32(seg[2:6])
			ysiz := binary.BigEndian.Uint32(seg[6:10])
			xosiz := binary.BigEndian.Uint32(seg[10:14])
			yosiz := binary.BigEndian.Uint32(seg[14:18])
			if xosiz >= xsiz || yosiz >= ysiz {
				return md, fmt.Errorf("SIZ has empty image area")
			}
			md.Width = int(xsiz - xosiz)
			md.Height = int(ysiz - yosiz)
			sawSIZ = true
		case COD:
			// Scod(1) progression(1) layers(2) MCT(1) decomposition levels(1) ...
			if len(seg) < 6 {
				return md, fmt.Errorf("COD segment too short")
			}
			md.Levels = int(seg[5])
			sawCOD = true
		}
		if sawSIZ && sawCOD {
			break
		}
	}
	if !sawSIZ {
		return md, fmt.Errorf("codestream has no SIZ marker")
	}
	if !sawCOD {
		md.Levels = ceilLog2(max(md.Width, md.Height))
	}
	return md, nil
}

func ceilLog2(v int) int {
	var n int
	for p := 1; p < v; p <<= 1 {
		n++
	}
	return n
}

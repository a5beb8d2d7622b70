package codec

import (
	"bytes"
	"mime"
	"path"
	"strings"
)

// Format is an image container format recognized by the migrator.
type Format string

const (
	FormatUnknown Format = ""
	FormatJP2     Format = "jp2"
	FormatJ2K     Format = "j2k"
	FormatJPX     Format = "jpx"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatTIFF    Format = "tiff"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatPNM     Format = "pnm"
)

// IsMaster returns true for JPEG 2000 formats that can be stored without
// conversion.
func (f Format) IsMaster() bool {
	return f == FormatJP2 || f == FormatJ2K || f == FormatJPX
}

// IsConvertible returns true for formats the codec can compress into a master.
func (f Format) IsConvertible() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatTIFF, FormatGIF, FormatBMP, FormatPNM:
		return true
	}
	return false
}

var extFormats = map[string]Format{
	"jp2":  FormatJP2,
	"jpf":  FormatJP2,
	"j2k":  FormatJ2K,
	"j2c":  FormatJ2K,
	"jpc":  FormatJ2K,
	"jpx":  FormatJPX,
	"jpm":  FormatJPX,
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"tif":  FormatTIFF,
	"tiff": FormatTIFF,
	"gif":  FormatGIF,
	"bmp":  FormatBMP,
	"pnm":  FormatPNM,
	"pgm":  FormatPNM,
	"ppm":  FormatPNM,
}

var mimeFormats = map[string]Format{
	"image/jp2":                FormatJP2,
	"image/jpx":                FormatJPX,
	"image/jpm":                FormatJPX,
	"image/j2k":                FormatJ2K,
	"image/jpeg":               FormatJPEG,
	"image/png":                FormatPNG,
	"image/tiff":               FormatTIFF,
	"image/gif":                FormatGIF,
	"image/bmp":                FormatBMP,
	"image/x-ms-bmp":           FormatBMP,
	"image/x-portable-anymap":  FormatPNM,
	"image/x-portable-pixmap":  FormatPNM,
	"image/x-portable-graymap": FormatPNM,
}

// FormatForName returns the format implied by a file name or URI path extension.
func FormatForName(name string) Format {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	return extFormats[ext]
}

// FormatForMIME returns the format for a Content-Type header value.
func FormatForMIME(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatUnknown
	}
	return mimeFormats[mt]
}

// SniffLen is the number of leading bytes Sniff needs to recognize every format.
const SniffLen = 12

// Sniff identifies a format from the leading bytes of a file.
func Sniff(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, JP2Signature):
		return FormatJP2
	case bytes.HasPrefix(header, codestreamSignature):
		return FormatJ2K
	case bytes.HasPrefix(header, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(header, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(header, []byte("II*\x00")), bytes.HasPrefix(header, []byte("MM\x00*")):
		return FormatTIFF
	case bytes.HasPrefix(header, []byte("GIF87a")), bytes.HasPrefix(header, []byte("GIF89a")):
		return FormatGIF
	case bytes.HasPrefix(header, []byte("BM")):
		return FormatBMP
	case len(header) >= 2 && header[0] == 'P' && header[1] >= '1' && header[1] <= '6':
		return FormatPNM
	}
	return FormatUnknown
}

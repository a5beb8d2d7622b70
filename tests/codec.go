package tests

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/tiled"
)

// Codec is a deterministic in-process codec.  Extract renders a description of its
// inputs so identical requests produce identical bytes, and Compress writes a
// minimal JP2 of the configured dimensions.
type Codec struct {
	// Width and Height of masters produced by Compress.
	Width, Height int

	// Delay is added to every Extract.
	Delay time.Duration

	// Empty makes Extract succeed without writing anything.
	Empty bool

	// Fail makes every operation fail with the given error kind.
	Fail *tiled.Kind

	// BeforeMetadata, if set, is called with the input of every Metadata call.
	BeforeMetadata func(in string)

	extracts   int64
	compresses int64
}

// NewCodec returns a fake codec producing masters of the given size.
func NewCodec(width, height int) *Codec {
	return &Codec{Width: width, Height: height}
}

// Extracts returns the number of Extract calls so far.
func (c *Codec) Extracts() int {
	return int(atomic.LoadInt64(&c.extracts))
}

// Compresses returns the number of Compress calls so far.
func (c *Codec) Compresses() int {
	return int(atomic.LoadInt64(&c.compresses))
}

func (c *Codec) failure(op string) error {
	if c.Fail == nil {
		return nil
	}
	return tiled.NewError(*c.Fail, "fake codec %s failure", op)
}

func (c *Codec) Compress(ctx context.Context, in, out string, p codec.EncodeParams) error {
	atomic.AddInt64(&c.compresses, 1)
	if err := c.failure("compress"); err != nil {
		return err
	}
	if _, err := os.Stat(in); err != nil {
		return tiled.WrapError(tiled.CodecIO, err, "codec input unavailable")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return tiled.WrapError(tiled.CodecIO, err, "can't create output directory")
	}
	return ioutil.WriteFile(out, JP2(c.Width, c.Height, p.Levels), 0644)
}

func (c *Codec) Extract(ctx context.Context, in string, w io.Writer, p codec.DecodeParams, mimeType string) error {
	atomic.AddInt64(&c.extracts, 1)
	if err := c.failure("extract"); err != nil {
		return err
	}
	if _, err := os.Stat(in); err != nil {
		return tiled.WrapError(tiled.CodecIO, err, "codec input unavailable")
	}
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return tiled.WrapError(tiled.CodecTimeout, ctx.Err(), "fake extract interrupted")
		}
	}
	if c.Empty {
		return nil
	}
	_, err := fmt.Fprintf(w, "%s|level=%d|region=%s|scale=%s|rotate=%v|layer=%d|%s",
		filepath.Base(in), p.Level, p.Region, p.Scale, p.Rotation, p.Layer, mimeType)
	return err
}

func (c *Codec) Metadata(ctx context.Context, in string) (codec.Metadata, error) {
	if c.BeforeMetadata != nil {
		c.BeforeMetadata(in)
	}
	if err := c.failure("metadata"); err != nil {
		return codec.Metadata{}, err
	}
	return codec.ReadJP2HeaderFile(in)
}

/*
Package codec defines the image codec collaborator that compresses source images
into JPEG 2000 masters and extracts rendered regions from them, plus an
implementation that runs an external codec program.
*/
package codec

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/blang/semver"

	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/tiled"
)

// Metadata describes a master image.
type Metadata struct {
	Width  int
	Height int
	Levels int
}

// EncodeParams control compression of a source image into a master.
type EncodeParams struct {
	Levels     int
	Layers     int
	Reversible bool
}

// DecodeParams select the rendering extracted from a master.  Region and Scale are
// in the codec's legacy string forms.
type DecodeParams struct {
	Level    int
	Region   string
	Scale    string
	Rotation float64
	Layer    int
}

// NewDecodeParams translates normalized rendering parameters into the codec's
// conventions.
func NewDecodeParams(p params.Params) DecodeParams {
	return DecodeParams{
		Level:    p.Level,
		Region:   p.BackendRegion(),
		Scale:    p.Size.BackendScale(),
		Rotation: p.Rotation,
		Layer:    p.Layer,
	}
}

// Codec compresses and extracts images.  Implementations are invoked concurrently.
type Codec interface {
	// Compress converts the image at in into a master at out.
	Compress(ctx context.Context, in, out string, p EncodeParams) error

	// Extract renders part of the master at in into w using the given output type.
	Extract(ctx context.Context, in string, w io.Writer, p DecodeParams, mimeType string) error

	// Metadata returns the dimensions and resolution levels of the master at in.
	Metadata(ctx context.Context, in string) (Metadata, error)
}

// Engine describes a codec implementation available to the server.
type Engine struct {
	Name        string
	Description string
	Version     semver.Version
	New         func(tiled.Config) (Codec, error)
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.Name, e.Version)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine makes a codec engine available by name.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, found := engines[e.Name]; found {
		tiled.Warningf("Codec engine %q registered twice; keeping %s\n", e.Name, e)
	}
	engines[e.Name] = e
}

// EngineByName returns a registered engine.
func EngineByName(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	if !found {
		return Engine{}, fmt.Errorf("no codec engine named %q is registered", name)
	}
	return e, nil
}

// Engines returns all registered engines sorted by name.
func Engines() []Engine {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	list := make([]Engine, 0, len(engines))
	for _, e := range engines {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

/*
Package transform holds the per-request rendering transforms selectable by name in
configuration.  A transform sees properties of the requester and may alter the
rendering parameters; altered renderings are never cached.
*/
package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/tiled"
)

// Well-known property keys.
const (
	PropRequester = "requester"
	PropReferrer  = "referrer"
)

// Props are per-request instance properties, e.g. requester and referrer hosts.
type Props map[string]string

// Transform adjusts rendering parameters for individual requests.
type Transform interface {
	Name() string

	// Setup configures the transform once at startup.
	Setup(config tiled.Config) error

	// IsTransformable returns true if Apply would alter a request with these props.
	IsTransformable(props Props) bool

	// Apply alters the rendering parameters for a request with these props.
	Apply(p *params.Params, props Props) error
}

// Factory returns a new, unconfigured transform.
type Factory func() Transform

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a transform available by name.  It panics on duplicate names
// since registration happens in init().
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[name]; found {
		panic(fmt.Sprintf("transform %q registered twice", name))
	}
	registry[name] = f
}

// ByName returns a new transform configured with config.
func ByName(name string, config tiled.Config) (Transform, error) {
	registryMu.RLock()
	f, found := registry[name]
	registryMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("no transform named %q (have %v)", name, Names())
	}
	t := f()
	if config == nil {
		config = tiled.NewConfig()
	}
	if err := t.Setup(config); err != nil {
		return nil, fmt.Errorf("can't set up transform %q: %v", name, err)
	}
	tiled.Infof("Using %q request transform\n", name)
	return t, nil
}

// Names returns the registered transform names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

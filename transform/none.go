package transform

import (
	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/tiled"
)

func init() {
	Register("none", func() Transform { return identity{} })
}

// identity leaves every request unchanged.
type identity struct{}

func (identity) Name() string { return "none" }
func (identity) Setup(tiled.Config) error { return nil }
func (identity) IsTransformable(Props) bool { return false }
func (identity) Apply(*params.Params, Props) error { return nil }

package transform

import (
	"fmt"
	"os"

	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/tiled"
)

// DefaultAccessMax is the largest edge served to restricted hosts.
const DefaultAccessMax = 256

func init() {
	Register("access", func() Transform { return &Access{} })
}

// Access limits hosts outside its host filter to small renderings.  Settings:
//
//	allow   hosts or IP prefixes with unrestricted access
//	deny    hosts or IP prefixes restricted to small renderings
//	order   "allow,deny" (default) or "deny,allow"
//	file    access rules file read in addition to the lists
//	max     largest edge of a restricted rendering, default 256
type Access struct {
	filter *HostFilter
	max    int
}

func (a *Access) Name() string {
	return "access"
}

// Filter returns the host filter in use.
func (a *Access) Filter() *HostFilter {
	return a.filter
}

func (a *Access) Setup(config tiled.Config) error {
	a.filter = new(HostFilter)
	if path, found, err := config.GetString("file"); err != nil {
		return err
	} else if found {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("can't open access file: %v", err)
		}
		defer f.Close()
		if a.filter, err = ReadHostFilter(f); err != nil {
			return fmt.Errorf("bad access file %s: %v", path, err)
		}
	}
	allow, _, err := config.GetStrings("allow")
	if err != nil {
		return err
	}
	deny, _, err := config.GetStrings("deny")
	if err != nil {
		return err
	}
	a.filter.Allow = append(a.filter.Allow, allow...)
	a.filter.Deny = append(a.filter.Deny, deny...)
	if s, found, err := config.GetString("order"); err != nil {
		return err
	} else if found {
		if a.filter.Order, err = ParseOrder(s); err != nil {
			return err
		}
	}
	a.max = DefaultAccessMax
	if limit, found, err := config.GetInt("max"); err != nil {
		return err
	} else if found {
		if limit <= 0 {
			return fmt.Errorf("access max must be positive, got %d", limit)
		}
		a.max = limit
	}
	return nil
}

// IsTransformable returns true if the requester or referrer isn't permitted.
func (a *Access) IsTransformable(props Props) bool {
	if !a.filter.Limited() {
		return false
	}
	for _, key := range []string{PropRequester, PropReferrer} {
		if v, found := props[key]; found && v != "" && !a.filter.Permits(HostOf(v)) {
			return true
		}
	}
	return false
}

// Apply bounds the output of restricted requests to fit within max x max.
func (a *Access) Apply(p *params.Params, props Props) error {
	if !a.IsTransformable(props) {
		return nil
	}
	p.Size = params.Size{Kind: params.SizeBestFit, Percent: params.Unset, Width: a.max, Height: a.max}
	p.Scale = 1.0
	return nil
}

package tilecache

// Request carries what the cacheability decision needs to know about a rendering.
type Request struct {
	// Transformable is true when a transform plugin altered the rendering for this
	// requester specifically.
	Transformable bool

	// ScaleFactor is the effective scale of the requested size.
	ScaleFactor float64

	// ExplicitRegion is true when the request named a region rather than the full image.
	ExplicitRegion bool
}

// Policy decides which renderings may enter the cache.
type Policy struct {
	// Exceptions are scale factors cached even for full-image requests.
	Exceptions []float64
}

// Cacheable returns false for transformed renderings and for scaled full-image
// renderings whose scale factor isn't an exception.
func (p Policy) Cacheable(r Request) bool {
	if r.Transformable {
		return false
	}
	if r.ScaleFactor != 1.0 && !r.ExplicitRegion && !p.isException(r.ScaleFactor) {
		return false
	}
	return true
}

func (p Policy) isException(scale float64) bool {
	for _, e := range p.Exceptions {
		if e == scale {
			return true
		}
	}
	return false
}

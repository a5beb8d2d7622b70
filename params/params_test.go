package params

import (
	"errors"
	"testing"

	"github.com/janelia-flyem/tiled/tiled"
)

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in   string
		want Region
	}{
		{"full", FullRegion},
		{"FULL", FullRegion},
		{"10,20,30,40", Region{Kind: RegionPixels, X: 10, Y: 20, Width: 30, Height: 40}},
		{"pct:0,0,100,100", Region{Kind: RegionPercent, Width: 100, Height: 100}},
	}
	for _, tc := range tests {
		got, err := ParseRegion(tc.in)
		if err != nil {
			t.Errorf("Unable to parse region %q: %v\n", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Region %q parsed to %v, expected %v\n", tc.in, got, tc.want)
		}
	}
}

func TestBadRegion(t *testing.T) {
	bad := []string{"", "1,2,3", "1,2,3,4,5", "a,0,10,10", "0,b,10,10", "0,0,0,10",
		"0,0,10,0", "pct:0,0,101,10", "pct:0,0,10,200", "1.5,0,10,10"}
	for _, s := range bad {
		_, err := ParseRegion(s)
		if err == nil {
			t.Errorf("Expected region %q to fail parsing\n", s)
			continue
		}
		if !errors.Is(err, tiled.ErrMalformedRegion) {
			t.Errorf("Expected malformed region error for %q, got %v\n", s, err)
		}
	}
}

func TestRegionNormalizeBounds(t *testing.T) {
	dims := [][2]int{{200, 200}, {1000, 333}, {7, 4097}}
	regions := []string{"full", "pct:0,0,100,100", "pct:50,50,100,100", "0,0,100,100",
		"150,150,300,300", "10,10,5000,5000", "pct:33,66,33,33", "9999,9999,10,10",
		"1,0,9223372036854775807,10", "0,1,10,9223372036854775807",
		"9223372036854775807,9223372036854775807,9223372036854775807,9223372036854775807",
		"pct:9223372036854775807,9223372036854775807,100,100"}
	for _, d := range dims {
		w, h := d[0], d[1]
		for _, s := range regions {
			r, err := ParseRegion(s)
			if err != nil {
				t.Fatalf("Unable to parse region %q: %v\n", s, err)
			}
			n := r.Normalize(w, h)
			if n.Width > w || n.Height > h {
				t.Errorf("Region %q on %dx%d normalized to %v: exceeds image\n", s, w, h, n)
			}
			if n.X+n.Width > w || n.Y+n.Height > h {
				t.Errorf("Region %q on %dx%d normalized to %v: extends past edge\n", s, w, h, n)
			}
			if n.X < 0 || n.Y < 0 || n.Width < 0 || n.Height < 0 {
				t.Errorf("Region %q on %dx%d normalized to %v: negative component\n", s, w, h, n)
			}
		}
	}
}

func TestHugeRegionClipped(t *testing.T) {
	r, err := ParseRegion("1,0,9223372036854775807,10")
	if err != nil {
		t.Fatalf("Unable to parse huge region: %v\n", err)
	}
	if n := r.Normalize(200, 200); n.String() != "1,0,199,10" {
		t.Errorf("Expected huge width clipped to 1,0,199,10, got %q\n", n)
	}
}

func TestPercentFullEquivalence(t *testing.T) {
	pct, _ := ParseRegion("pct:0,0,100,100")
	full, _ := ParseRegion("full")
	for _, d := range [][2]int{{1, 1}, {200, 200}, {640, 480}, {12345, 67}} {
		a := pct.Normalize(d[0], d[1])
		b := full.Normalize(d[0], d[1])
		if a != b {
			t.Errorf("On %dx%d, pct:0,0,100,100 gave %v but full gave %v\n", d[0], d[1], a, b)
		}
		if a.String() != b.String() {
			t.Errorf("On %dx%d canonical strings differ: %q vs %q\n", d[0], d[1], a, b)
		}
	}
	r, _ := ParseRegion("0,0,200,200")
	if n := r.Normalize(200, 200); !n.IsFull() {
		t.Errorf("Expected whole-image pixel region to normalize to full, got %v\n", n)
	}
	if n := r.Normalize(400, 400); n.String() != "0,0,200,200" {
		t.Errorf("Expected partial region to stay in pixels, got %q\n", n)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		kind    SizeKind
		w, h    int
		aspect  bool
		factor  float64
		backend string
	}{
		{"full", SizeFull, Unset, Unset, true, 1.0, "1.0"},
		{"pct:50", SizePercent, Unset, Unset, true, 0.5, "0.5"},
		{"pct:100", SizePercent, Unset, Unset, true, 1.0, "1.0"},
		{",120", SizeHeight, Unset, 120, true, 1.0, "-1,120"},
		{"120,", SizeWidth, 120, Unset, true, 1.0, "120,-1"},
		{"50,50", SizeExact, 50, 50, false, 1.0, "50,50"},
		{"!64,32", SizeBestFit, 64, 32, true, 1.0, "64,32"},
	}
	for _, tc := range tests {
		s, err := ParseSize(tc.in)
		if err != nil {
			t.Errorf("Unable to parse size %q: %v\n", tc.in, err)
			continue
		}
		if s.Kind != tc.kind || s.Width != tc.w || s.Height != tc.h {
			t.Errorf("Size %q parsed to %+v\n", tc.in, s)
		}
		if s.PreservesAspect() != tc.aspect {
			t.Errorf("Size %q aspect flag %t, expected %t\n", tc.in, s.PreservesAspect(), tc.aspect)
		}
		if s.ScaleFactor() != tc.factor {
			t.Errorf("Size %q scale factor %f, expected %f\n", tc.in, s.ScaleFactor(), tc.factor)
		}
		if s.BackendScale() != tc.backend {
			t.Errorf("Size %q backend scale %q, expected %q\n", tc.in, s.BackendScale(), tc.backend)
		}
		if s.String() != tc.in {
			t.Errorf("Size %q printed as %q\n", tc.in, s)
		}
	}
}

func TestBadSize(t *testing.T) {
	bad := []string{"", "big", ",", "pct:101", "pct:-1", "pct:x", "-5,10", "10,-5", "a,", ",b", "1,2,3", "!1,"}
	for _, s := range bad {
		_, err := ParseSize(s)
		if err == nil {
			t.Errorf("Expected size %q to fail parsing\n", s)
			continue
		}
		if tiled.KindOf(err) != tiled.MalformedSize {
			t.Errorf("Expected malformed size for %q, got %v\n", s, err)
		}
	}
}

func TestSizeNormalize(t *testing.T) {
	pct, _ := ParseSize("pct:50")
	exact, _ := ParseSize("50,50")
	a := pct.Normalize(100, 100)
	if a != exact.Normalize(100, 100) {
		t.Errorf("Expected pct:50 of 100x100 to match 50,50; got %v\n", a)
	}
	full := FullSize.Normalize(300, 200)
	if full.Width != 300 || full.Height != 200 || full.Kind != SizeExact {
		t.Errorf("Bad normalized full size: %+v\n", full)
	}
	width, _ := ParseSize("80,")
	if n := width.Normalize(300, 200); n.HasHeight() {
		t.Errorf("Width-only size should leave height unset after normalizing: %+v\n", n)
	}
}

func TestBackendRegion(t *testing.T) {
	r := Region{Kind: RegionPixels, X: 10, Y: 20, Width: 30, Height: 40}
	exact, _ := ParseSize("15,20")
	tests := []struct {
		region Region
		level  int
		size   Size
		want   string
	}{
		{FullRegion, 0, FullSize, ""},
		{Region{Kind: RegionFull, Width: 200, Height: 100}, 3, exact, "0,0,20,15"},
		{Region{Kind: RegionFull, Width: 200, Height: 100}, 3, FullSize, "0,0,100,200"},
		{r, 0, exact, "20,10,40,30"},
		{r, 2, exact, "20,10,20,15"},
		{r, 2, FullSize, "20,10,40,30"},
	}
	for i, tc := range tests {
		if got := BackendRegion(tc.region, tc.level, tc.size); got != tc.want {
			t.Errorf("Test %d: expected backend region %q, got %q\n", i, tc.want, got)
		}
	}
}

func TestRotation(t *testing.T) {
	for _, s := range []string{"0", "90", "180", "270"} {
		deg, err := ParseRotation(s)
		if err != nil {
			t.Fatalf("Unable to parse rotation %q: %v\n", s, err)
		}
		if !SupportedRotation(deg) || RotationWarning(deg) != "" {
			t.Errorf("Expected rotation %q to be supported\n", s)
		}
	}
	deg, err := ParseRotation("45.5")
	if err != nil {
		t.Fatalf("Arbitrary rotation should be accepted, got %v\n", err)
	}
	if SupportedRotation(deg) {
		t.Errorf("Rotation 45.5 should not be reported supported\n")
	}
	if RotationWarning(deg) == "" {
		t.Errorf("Expected a warning for rotation 45.5\n")
	}
	if _, err := ParseRotation("ninety"); err == nil {
		t.Errorf("Expected bad rotation to fail\n")
	}
	if !HasNegative("-10,0,100,100") || HasNegative("10,0,100,100") {
		t.Errorf("Bad negative region detection\n")
	}
}

package transform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/tiled"
)

func TestHostFilter(t *testing.T) {
	allowDeny := &HostFilter{Allow: []string{"192.168.", "example.org"}, Deny: []string{"bad.example.org"}}
	denyAllow := &HostFilter{Allow: []string{"10.0."}, Deny: []string{"all"}, Order: DenyAllow}
	tests := []struct {
		filter  *HostFilter
		host    string
		permits bool
	}{
		{allowDeny, "192.168.1.10", true},
		{allowDeny, "10.1.1.1", false},
		{allowDeny, "www.example.org", true},
		{allowDeny, "bad.example.org", false},
		{allowDeny, "example.com", false},
		{denyAllow, "10.0.0.5", true},
		{denyAllow, "10.1.0.5", false},
		{denyAllow, "anything.net", false},
		{&HostFilter{}, "anything.net", true},
		{&HostFilter{Deny: []string{"evil.net"}, Order: DenyAllow}, "good.net", true},
		{&HostFilter{Deny: []string{"evil.net"}, Order: DenyAllow}, "www.evil.net", false},
	}
	for i, tc := range tests {
		if got := tc.filter.Permits(tc.host); got != tc.permits {
			t.Errorf("Test %d: Permits(%q) = %t, expected %t\n", i, tc.host, got, tc.permits)
		}
	}
}

func TestReadHostFilter(t *testing.T) {
	rules := `# restricted access
order deny,allow
deny from all
allow from 127.0.0.1 library.example.edu
`
	hf, err := ReadHostFilter(strings.NewReader(rules))
	if err != nil {
		t.Fatalf("Unable to read rules: %v\n", err)
	}
	if hf.Order != DenyAllow || len(hf.Allow) != 2 || len(hf.Deny) != 1 {
		t.Errorf("Bad parsed filter: %+v\n", hf)
	}
	if !hf.Permits("127.0.0.1") || !hf.Permits("www.library.example.edu") || hf.Permits("8.8.8.8") {
		t.Errorf("Parsed filter permits wrong hosts\n")
	}
	if _, err := ReadHostFilter(strings.NewReader("permit everyone\n")); err == nil {
		t.Errorf("Expected bad rule to fail\n")
	}
}

func TestHostOf(t *testing.T) {
	for in, want := range map[string]string{
		"http://www.example.org:8080/viewer": "www.example.org",
		"192.168.1.2:5555":                   "192.168.1.2",
		"example.org":                        "example.org",
	} {
		if got := HostOf(in); got != want {
			t.Errorf("HostOf(%q) = %q, expected %q\n", in, got, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	names := Names()
	if len(names) < 2 || names[0] != "access" || names[1] != "none" {
		t.Errorf("Unexpected transform names: %v\n", names)
	}
	if _, err := ByName("bogus", nil); err == nil {
		t.Errorf("Expected unknown transform to fail\n")
	}
	none, err := ByName("none", nil)
	if err != nil {
		t.Fatalf("Unable to get identity transform: %v\n", err)
	}
	if none.IsTransformable(Props{PropRequester: "1.2.3.4"}) {
		t.Errorf("Identity transform shouldn't transform\n")
	}
}

func TestAccessTransform(t *testing.T) {
	dir := t.TempDir()
	rulesFile := filepath.Join(dir, "access.txt")
	os.WriteFile(rulesFile, []byte("allow from trusted.org\n"), 0644)

	config := tiled.NewConfig()
	config.Set("file", rulesFile)
	config.Set("allow", "10.0.")
	config.Set("max", 128)
	tr, err := ByName("access", config)
	if err != nil {
		t.Fatalf("Unable to set up access transform: %v\n", err)
	}

	size, _ := params.ParseSize("full")
	p := params.Params{Size: size, Scale: 1.0}
	trusted := Props{PropRequester: "10.0.3.4", PropReferrer: "https://www.trusted.org/page"}
	if tr.IsTransformable(trusted) {
		t.Errorf("Trusted request shouldn't be transformed\n")
	}
	if err := tr.Apply(&p, trusted); err != nil || p.Size != size {
		t.Errorf("Trusted request was altered: %+v, %v\n", p.Size, err)
	}

	outsider := Props{PropRequester: "8.8.8.8"}
	if !tr.IsTransformable(outsider) {
		t.Errorf("Outside request should be transformed\n")
	}
	if err := tr.Apply(&p, outsider); err != nil {
		t.Fatalf("Apply failed: %v\n", err)
	}
	if p.Size.Kind != params.SizeBestFit || p.Size.Width != 128 || p.Size.Height != 128 {
		t.Errorf("Outside request not bounded: %+v\n", p.Size)
	}
	if !tr.IsTransformable(Props{PropRequester: "10.0.0.1", PropReferrer: "http://elsewhere.com/"}) {
		t.Errorf("Untrusted referrer should be transformed\n")
	}

	bad := tiled.NewConfig()
	bad.Set("order", "sideways")
	if _, err := ByName("access", bad); err == nil {
		t.Errorf("Expected bad order to fail\n")
	}
}

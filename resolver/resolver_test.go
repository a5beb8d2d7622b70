package resolver_test

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/janelia-flyem/tiled/migrate"
	"github.com/janelia-flyem/tiled/resolver"
	"github.com/janelia-flyem/tiled/storage"
	"github.com/janelia-flyem/tiled/tests"
	"github.com/janelia-flyem/tiled/tiled"
)

type testEnv struct {
	store    *storage.MasterStore
	fetcher  *tests.Fetcher
	resolver *resolver.Resolver
}

func newTestEnv(t *testing.T, config resolver.Config) *testEnv {
	root := t.TempDir()
	store := storage.NewMasterStore(storage.Pairtree{Root: filepath.Join(root, "masters")})
	fetcher := tests.NewFetcher()
	registry := resolver.NewRegistry()
	m := migrate.New(migrate.Config{TempDir: filepath.Join(root, "tmp")}, store, tests.NewCodec(100, 100), fetcher, registry)
	r, err := resolver.New(config, store, registry, m)
	if err != nil {
		t.Fatalf("Unable to create resolver: %v\n", err)
	}
	return &testEnv{store: store, fetcher: fetcher, resolver: r}
}

var testConfig = resolver.Config{
	Patterns:  []string{`(ark:/\d+/\w+)`, `images/(.+)`},
	Templates: []string{"http://first.example.org/%s", "http://second.example.org/%s.jp2"},
}

func TestExtractID(t *testing.T) {
	env := newTestEnv(t, testConfig)
	cases := []struct {
		raw, id string
		ok      bool
	}{
		{"ark:/13030/xt12t3", "ark%3A%2F13030%2Fxt12t3", true},
		{"ark%3A%2F13030%2Fxt12t3", "ark%3A%2F13030%2Fxt12t3", true},
		{"ark%3A%252F13030%252Fxt12t3", "ark%3A%2F13030%2Fxt12t3", true},
		{"images/my+photo", "my+photo", true},
		{"images/a%20b", "a+b", true},
		{"prefix-ark:/13030/xt12t3", "", false},
		{"unknown", "", false},
		{"%zz", "", false},
	}
	for _, tc := range cases {
		id, ok := env.resolver.ExtractID(tc.raw)
		if ok != tc.ok || id != tc.id {
			t.Errorf("ExtractID(%q) = %q, %t; expected %q, %t\n", tc.raw, id, ok, tc.id, tc.ok)
		}
	}
	if resolver.PathSafetyEncode("a%2Fb%5Cc") != "a%252Fb%255Cc" {
		t.Errorf("Bad path safety encoding\n")
	}
}

func TestBadPatterns(t *testing.T) {
	root := t.TempDir()
	store := storage.NewMasterStore(storage.Hashed{Root: root})
	if _, err := resolver.New(resolver.Config{Patterns: []string{`no-group`}}, store, resolver.NewRegistry(), nil); err == nil {
		t.Errorf("Expected pattern without capture group to fail\n")
	}
	if _, err := resolver.New(resolver.Config{Patterns: []string{`(unclosed`}}, store, resolver.NewRegistry(), nil); err == nil {
		t.Errorf("Expected bad pattern to fail\n")
	}
	if _, err := resolver.New(resolver.Config{Templates: []string{"http://x/%s"}}, store, resolver.NewRegistry(), nil); err == nil {
		t.Errorf("Expected templates without converter to fail\n")
	}
}

func TestResolveLocalFirst(t *testing.T) {
	env := newTestEnv(t, testConfig)
	id, _ := env.resolver.ExtractID("images/local")
	if err := tests.WriteJP2(env.store.Path(id), 50, 50); err != nil {
		t.Fatalf("Unable to write local master: %v\n", err)
	}
	img, err := env.resolver.Resolve(context.Background(), id)
	if err != nil {
		t.Fatalf("Unable to resolve local master: %v\n", err)
	}
	if img.ID != id || img.Path != env.store.Path(id) {
		t.Errorf("Bad local master record: %+v\n", img)
	}
	if env.fetcher.Opens() != 0 {
		t.Errorf("Local resolution touched the network %d times\n", env.fetcher.Opens())
	}
}

func TestResolveTemplates(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.fetcher.Add("http://second.example.org/a b.jp2", tests.JP2(100, 100, 2), "")
	img, err := env.resolver.ImageRecord(context.Background(), "images/a%20b")
	if err != nil {
		t.Fatalf("Unable to resolve through second template: %v\n", err)
	}
	if img.ID != "a+b" {
		t.Errorf("Bad id for remote master: %q\n", img.ID)
	}
	if env.fetcher.Opens() != 2 {
		t.Errorf("Expected both templates tried, got %d fetches\n", env.fetcher.Opens())
	}
	if _, found := env.resolver.Memo().Get("a+b"); !found {
		t.Errorf("Migrated master should be memoized\n")
	}

	_, err = env.resolver.ImageRecord(context.Background(), "images/nowhere")
	if tiled.KindOf(err) != tiled.NotFound {
		t.Errorf("Expected not found for missing remote image, got %v\n", err)
	}
	_, err = env.resolver.ImageRecord(context.Background(), "no-such-source")
	if tiled.KindOf(err) != tiled.UnresolvableIdentifier {
		t.Errorf("Expected unresolvable identifier, got %v\n", err)
	}
}

func TestUnresolvableMakesNoFetch(t *testing.T) {
	env := newTestEnv(t, testConfig)
	for _, raw := range []string{"nope", "http://evil.example.org/x", ""} {
		if _, err := env.resolver.ImageRecord(context.Background(), raw); err == nil {
			t.Errorf("Expected %q to be unresolvable\n", raw)
		}
	}
	if env.fetcher.Opens() != 0 {
		t.Errorf("Unresolvable identifiers caused %d fetches\n", env.fetcher.Opens())
	}
}

func TestConcurrentResolveFetchesOnce(t *testing.T) {
	env := newTestEnv(t, resolver.Config{
		Patterns:  []string{`(.+)`},
		Templates: []string{"http://example.org/%s"},
	})
	env.fetcher.Add("http://example.org/shared", tests.JP2(100, 100, 2), "")
	env.fetcher.Gate = make(chan struct{})

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := env.resolver.ImageRecord(context.Background(), "shared")
			errs[i] = err
			if img != nil {
				paths[i] = img.Path
			}
		}(i)
	}
	for env.fetcher.Opens() == 0 {
		time.Sleep(time.Millisecond)
	}
	if status := env.resolver.Status(context.Background(), "shared"); status != http.StatusAccepted {
		t.Errorf("Expected 202 while migration in flight, got %d\n", status)
	}
	time.Sleep(20 * time.Millisecond)
	close(env.fetcher.Gate)
	wg.Wait()

	if env.fetcher.Opens() != 1 {
		t.Errorf("Expected exactly one fetch for %d concurrent resolves, got %d\n", n, env.fetcher.Opens())
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("Resolve %d failed: %v\n", i, errs[i])
		} else if paths[i] != paths[0] {
			t.Errorf("Resolve %d got path %q, expected %q\n", i, paths[i], paths[0])
		}
	}
	if status := env.resolver.Status(context.Background(), "shared"); status != http.StatusOK {
		t.Errorf("Expected 200 after migration, got %d\n", status)
	}
	if env.resolver.Registry().Len() != 0 {
		t.Errorf("Registry should be empty after migration\n")
	}
}

func TestJoinTimeout(t *testing.T) {
	env := newTestEnv(t, resolver.Config{
		Patterns:    []string{`(.+)`},
		Templates:   []string{"http://example.org/%s"},
		JoinTimeout: 30 * time.Millisecond,
	})
	env.resolver.Registry().Begin("stuck")
	defer env.resolver.Registry().End("stuck")

	start := time.Now()
	_, err := env.resolver.ImageRecord(context.Background(), "stuck")
	if err == nil {
		t.Fatalf("Expected resolution to fail while migration is stuck\n")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Join didn't honor timeout, took %s\n", elapsed)
	}
	if env.fetcher.Opens() != 0 {
		t.Errorf("Joiner shouldn't fetch, got %d\n", env.fetcher.Opens())
	}
	if status := env.resolver.Status(context.Background(), "nothing-here"); status != http.StatusNotFound {
		t.Errorf("Expected 404 status, got %d\n", status)
	}
}

func TestRegistry(t *testing.T) {
	r := resolver.NewRegistry()
	leader, done := r.Begin("a")
	if !leader {
		t.Fatalf("First Begin should lead\n")
	}
	again, done2 := r.Begin("a")
	if again || done2 != done {
		t.Errorf("Second Begin should join the first\n")
	}
	if !r.Contains("a") || r.Len() != 1 {
		t.Errorf("Registry should hold one entry\n")
	}
	r.End("a")
	select {
	case <-done:
	default:
		t.Errorf("End should close the completion channel\n")
	}
	if r.Contains("a") {
		t.Errorf("Registry still contains ended id\n")
	}
	r.End("a")
}

func TestMemo(t *testing.T) {
	m := resolver.NewMemo(0, 0)
	img := &resolver.MasterImage{ID: "x", Path: "/data/x.jp2", Props: map[string]string{"k": "v"}}
	m.Set(img)
	got, found := m.Get("x")
	if !found || got.Path != img.Path || got.Props["k"] != "v" {
		t.Errorf("Bad memo entry: %+v %t\n", got, found)
	}
	m.Delete("x")
	if _, found := m.Get("x"); found {
		t.Errorf("Deleted memo entry still found\n")
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/janelia-flyem/tiled/migrate"
	"github.com/janelia-flyem/tiled/resolver"
	"github.com/janelia-flyem/tiled/service"
	"github.com/janelia-flyem/tiled/storage"
	"github.com/janelia-flyem/tiled/tests"
)

type testEnv struct {
	root     string
	store    *storage.MasterStore
	tiles    *storage.TileStore
	codec    *tests.Codec
	migrator *migrate.Migrator
	server   *Server
}

func newTestServer(t *testing.T, config *Config) *testEnv {
	env := &testEnv{root: t.TempDir()}
	env.store = storage.NewMasterStore(storage.Pairtree{Root: filepath.Join(env.root, "masters")})
	env.tiles = storage.NewTileStore(storage.Pairtree{Root: filepath.Join(env.root, "tiles")})
	env.codec = tests.NewCodec(200, 200)
	registry := resolver.NewRegistry()
	m := migrate.New(migrate.Config{TempDir: filepath.Join(env.root, "tmp")}, env.store, env.codec, tests.NewFetcher(), registry)
	env.migrator = m
	r, err := resolver.New(resolver.Config{
		Patterns:  []string{`(img\w*)`},
		Templates: []string{"http://images.example.org/%s.jp2"},
	}, env.store, registry, m)
	if err != nil {
		t.Fatalf("Unable to create resolver: %v\n", err)
	}
	svc, err := service.New(service.Config{CacheDir: filepath.Join(env.root, "cache")},
		service.Deps{Resolver: r, Codec: env.codec, Tiles: env.tiles})
	if err != nil {
		t.Fatalf("Unable to create service: %v\n", err)
	}
	if env.server, err = New(config, svc); err != nil {
		t.Fatalf("Unable to create server: %v\n", err)
	}
	t.Cleanup(env.server.WaitCommits)
	if _, _, err := env.store.Commit("img", bytes.NewReader(tests.JP2(200, 200, 3))); err != nil {
		t.Fatalf("Unable to store master: %v\n", err)
	}
	return env
}

func TestImageRequest(t *testing.T) {
	env := newTestServer(t, nil)
	h := env.server.Handler()
	url := IIIFPath + "img/0,0,100,100/50,50/0/native.jpg"
	resp := TestHTTPResponse(t, h, "GET", url, nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad response (%d): %s\n", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s\n", ct)
	}
	body := resp.Body.Bytes()

	env.server.WaitCommits()
	name := service.TileFileName(0, "0,0,100,100", "50,50", 0, "jpg")
	stored, err := ioutil.ReadFile(env.tiles.Path("img", name))
	if err != nil || !bytes.Equal(stored, body) {
		t.Fatalf("Tile wasn't committed to the tile store: %v\n", err)
	}

	again := TestHTTP(t, h, "GET", url, nil)
	if !bytes.Equal(again, body) {
		t.Errorf("Stored tile differs from generated tile\n")
	}
	if env.codec.Extracts() != 1 {
		t.Errorf("Expected stored tile to be served without codec, got %d extracts\n", env.codec.Extracts())
	}

	png := TestHTTPResponse(t, h, "GET", IIIFPath+"img/full/full/0/native.png", nil, nil)
	if png.Code != http.StatusOK || png.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Bad png response (%d) %s\n", png.Code, png.Header().Get("Content-Type"))
	}
}

func TestRotationWarningHeader(t *testing.T) {
	env := newTestServer(t, nil)
	resp := TestHTTPResponse(t, env.server.Handler(), "GET", IIIFPath+"img/full/full/45/native.jpg", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad response (%d): %s\n", resp.Code, resp.Body.String())
	}
	if warning := resp.Header().Get("Warning"); !strings.Contains(warning, "45") {
		t.Errorf("Expected rotation warning, got %q\n", warning)
	}
}

func TestBadImageRequests(t *testing.T) {
	env := newTestServer(t, nil)
	h := env.server.Handler()
	cases := []struct {
		url    string
		status int
	}{
		{"img/-10,0,100,100/full/0/native.jpg", http.StatusNotFound},
		{"img/1,2,3/full/0/native.jpg", http.StatusBadRequest},
		{"img/full/huge/0/native.jpg", http.StatusBadRequest},
		{"img/full/full/sideways/native.jpg", http.StatusBadRequest},
		{"img/full/full/0/bogus.jpg", http.StatusBadRequest},
		{"img/full/full/0/native.webm", http.StatusBadRequest},
		{"unmatched/full/full/0/native.jpg", http.StatusNotFound},
		{"imgmissing/full/full/0/native.jpg", http.StatusNotFound},
	}
	for _, tc := range cases {
		if status := TestBadHTTP(t, h, "GET", IIIFPath+tc.url, nil); status != tc.status {
			t.Errorf("Expected %d for %s, got %d\n", tc.status, tc.url, status)
		}
	}
	resp := TestHTTPResponse(t, h, "GET", IIIFPath+"img/-10,0,100,100/full/0/native.jpg", nil, nil)
	if body := resp.Body.String(); body != service.NegativeRegionMessage {
		t.Errorf("Unexpected negative region body: %q\n", body)
	}
}

func TestInfoJSON(t *testing.T) {
	env := newTestServer(t, nil)
	data := TestHTTP(t, env.server.Handler(), "GET", IIIFPath+"img/info.json", nil)
	var info service.IIIFInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("Unable to parse info.json: %v\n%s\n", err, data)
	}
	if info.Width != 200 || info.Height != 200 || info.TileWidth != 256 {
		t.Errorf("Bad info.json: %s\n", data)
	}
	if !strings.HasSuffix(info.ID, "/iiif/img") {
		t.Errorf("Bad info.json id: %s\n", info.ID)
	}
	if status := TestBadHTTP(t, env.server.Handler(), "GET", IIIFPath+"nothing/info.json", nil); status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown image info, got %d\n", status)
	}
}

func TestStatusAndServerInfo(t *testing.T) {
	env := newTestServer(t, nil)
	h := env.server.Handler()
	TestHTTP(t, h, "GET", "/status/img", nil)
	if status := TestBadHTTP(t, h, "GET", "/status/imgunknown", nil); status != http.StatusNotFound {
		t.Errorf("Expected 404 status for unknown image, got %d\n", status)
	}

	data := TestHTTP(t, h, "GET", WebAPIPath+"server/info", nil)
	info := make(map[string]interface{})
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("Unable to parse server info: %v\n", err)
	}
	if info["Version"] != Version.String() {
		t.Errorf("Bad server info: %s\n", data)
	}
	TestBadHTTP(t, h, "GET", "/no/such/path", nil)
}

func TestIngestAPI(t *testing.T) {
	env := newTestServer(t, nil)
	h := env.server.Handler()
	if status := TestBadHTTP(t, h, "GET", WebAPIPath+"ingest", nil); status != http.StatusNotFound {
		t.Errorf("Expected 404 without an ingester, got %d\n", status)
	}

	src := filepath.Join(env.root, "incoming")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatalf("Unable to create source dir: %v\n", err)
	}
	if err := ioutil.WriteFile(filepath.Join(src, "imgnew.jp2"), tests.JP2(50, 40, 1), 0644); err != nil {
		t.Fatalf("Unable to write source image: %v\n", err)
	}
	ing, err := migrate.NewIngester(env.migrator, migrate.IngestConfig{SourceDir: src})
	if err != nil {
		t.Fatalf("Unable to create ingester: %v\n", err)
	}
	env.server.SetIngester(ing)

	resp := TestHTTPResponse(t, h, "POST", WebAPIPath+"ingest", nil, nil)
	if resp.Code != http.StatusAccepted || resp.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("Bad ingest start (%d): %s\n", resp.Code, resp.Body.String())
	}
	ing.Wait()

	var st migrate.IngestStatus
	if err := json.Unmarshal(TestHTTP(t, h, "GET", WebAPIPath+"ingest", nil), &st); err != nil {
		t.Fatalf("Unable to parse ingest status: %v\n", err)
	}
	if st.Running || st.Found != 1 || st.Ingested != 1 || st.SourceDir != src {
		t.Errorf("Bad ingest status: %+v\n", st)
	}
	data := TestHTTP(t, h, "GET", IIIFPath+"imgnew/info.json", nil)
	if !strings.Contains(string(data), `"width":50`) {
		t.Errorf("Ingested image not served: %s\n", data)
	}
}

func TestAccessControl(t *testing.T) {
	dir := t.TempDir()
	blockFile := filepath.Join(dir, "blocklist.txt")
	if err := ioutil.WriteFile(blockFile, []byte("# abusers\nip=10.1.*.*,scraping\n"), 0644); err != nil {
		t.Fatalf("Unable to write blocklist: %v\n", err)
	}
	config := &Config{Access: accessConfig{Deny: []string{"192.0.2."}, Order: "deny,allow", BlockListFile: blockFile}}
	env := newTestServer(t, config)
	h := env.server.Handler()
	url := IIIFPath + "img/full/full/0/native.jpg"

	if status := TestBadHTTP(t, h, "GET", url, nil); status != http.StatusForbidden {
		t.Errorf("Expected denied host to get 403, got %d\n", status)
	}
	resp := TestHTTPResponse(t, h, "GET", url, nil, http.Header{"X-Forwarded-For": []string{"10.1.2.3"}})
	if resp.Code != http.StatusTooManyRequests {
		t.Errorf("Expected blocked IP to get 429, got %d\n", resp.Code)
	}
	resp = TestHTTPResponse(t, h, "GET", url, nil, http.Header{"Forwarded": []string{"for=10.2.0.1;proto=http"}})
	if resp.Code != http.StatusOK {
		t.Errorf("Expected permitted host to get 200, got %d\n", resp.Code)
	}
}

func TestAuthorization(t *testing.T) {
	dir := t.TempDir()
	authFile := filepath.Join(dir, "users.json")
	if err := ioutil.WriteFile(authFile, []byte(`{"alice": "read", "bob": "write"}`), 0644); err != nil {
		t.Fatalf("Unable to write auth file: %v\n", err)
	}
	config := &Config{Auth: authConfig{SecretKey: "sekrit", AuthFile: authFile}}
	env := newTestServer(t, config)
	h := env.server.Handler()
	url := WebAPIPath + "server/info"

	if status := TestBadHTTP(t, h, "GET", url, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected missing token to get 401, got %d\n", status)
	}
	for user, expected := range map[string]int{"alice": http.StatusOK, "bob": http.StatusUnauthorized, "carol": http.StatusUnauthorized} {
		token, err := config.GenerateJWT(user)
		if err != nil {
			t.Fatalf("Unable to generate token: %v\n", err)
		}
		resp := TestHTTPResponse(t, h, "GET", url, nil, http.Header{"Authorization": []string{"Bearer " + token}})
		if resp.Code != expected {
			t.Errorf("Expected %d for user %s, got %d\n", expected, user, resp.Code)
		}
	}
	other := &Config{Auth: authConfig{SecretKey: "other"}}
	token, _ := other.GenerateJWT("alice")
	resp := TestHTTPResponse(t, h, "GET", url, nil, http.Header{"Authorization": []string{"Bearer " + token}})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected token with wrong key to get 401, got %d\n", resp.Code)
	}
}

const testTOML = `
[server]
httpAddress = "localhost:9999"
note = "test server"
max_connections = 16
shutdown_delay = "2s"

[ingest]
source_dir = "incoming"
exts = ["tif", "tiff"]
unattended = true

[logging]
logfile = "logs/tiled.log"
level = "warning"
max_log_backups = 3

[resolver]
master_dir = "masters"
layout = "hashed"
patterns = ['ark:/13030/(\w+)']
templates = ["file:///nonexistent/%s.jp2"]
join_timeout = "30s"
memo_ttl = "10m"

[cache]
dir = "cache"
tile_dir = "tiles"
capacity = 50
exceptions = [0.5]

[codec]
engine = "exec"
compress = ["cp", "{{.Input}}", "{{.Output}}"]
extract = ["cat", "{{.Input}}"]
timeout = "5s"
levels = 6

[transform]
name = "access"
file = "access.txt"
max = 128
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.toml")
	if err := ioutil.WriteFile(filename, []byte(testTOML), 0644); err != nil {
		t.Fatalf("Unable to write config: %v\n", err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "access.txt"), []byte("allow from 10.0.\n"), 0644); err != nil {
		t.Fatalf("Unable to write access file: %v\n", err)
	}
	config, err := LoadConfig(filename)
	if err != nil {
		t.Fatalf("Unable to load config: %v\n", err)
	}
	if config.HTTPAddress() != "localhost:9999" || config.Server.ShutdownDelay.Duration != 2*time.Second {
		t.Errorf("Bad server config: %+v\n", config.Server)
	}
	if config.Resolver.MasterDir != filepath.Join(dir, "masters") || config.Logging.Logfile != filepath.Join(dir, "logs/tiled.log") {
		t.Errorf("Relative paths not made absolute: %s, %s\n", config.Resolver.MasterDir, config.Logging.Logfile)
	}
	if config.Ingest.SourceDir != filepath.Join(dir, "incoming") || len(config.Ingest.Exts) != 2 || !config.Ingest.Unattended {
		t.Errorf("Bad ingest section: %+v\n", config.Ingest)
	}
	if config.Logging.Level != "warning" || config.Logging.MaxBackups != 3 {
		t.Errorf("Bad logging section: %+v\n", config.Logging)
	}
	if config.Resolver.JoinTimeout.Duration != 30*time.Second || config.Resolver.MemoTTL.Duration != 10*time.Minute {
		t.Errorf("Bad resolver durations: %+v\n", config.Resolver)
	}
	if config.Transform["file"] != filepath.Join(dir, "access.txt") {
		t.Errorf("Transform file not made absolute: %v\n", config.Transform["file"])
	}
	p, err := config.encodeParams()
	if err != nil || p.Levels != 6 {
		t.Errorf("Bad encode params %+v: %v\n", p, err)
	}

	comp, err := config.Build()
	if err != nil {
		t.Fatalf("Unable to build service from config: %v\n", err)
	}
	defer comp.Close()
	if comp.Service.Cache().Capacity() != 50 {
		t.Errorf("Expected cache capacity 50, got %d\n", comp.Service.Cache().Capacity())
	}
	if _, ok := comp.Service.Resolver().ExtractID("ark:/13030/xyz"); !ok {
		t.Errorf("Configured pattern not used\n")
	}
	if _, err := os.Stat(config.Cache.TileDir); err == nil {
		t.Errorf("Tile dir shouldn't exist before any commit\n")
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Errorf("Expected missing config to fail\n")
	}
	bad := &Config{}
	if _, err := bad.Build(); err == nil {
		t.Errorf("Expected config without master dir to fail\n")
	}
}

func TestServeShutdown(t *testing.T) {
	config := &Config{Server: serverConfig{
		HTTPAddress:    "127.0.0.1:0",
		MaxConnections: 4,
		ShutdownDelay:  duration{time.Second},
	}}
	env := newTestServer(t, config)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- env.server.Serve(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned error on shutdown: %v\n", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Server didn't shut down\n")
	}
}

package server

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/migrate"
	"github.com/janelia-flyem/tiled/resolver"
	"github.com/janelia-flyem/tiled/service"
	"github.com/janelia-flyem/tiled/storage"
	"github.com/janelia-flyem/tiled/tiled"
	"github.com/janelia-flyem/tiled/transform"
)

const (
	// DefaultWebAddress is the default address of the tile server.
	DefaultWebAddress = "localhost:8080"

	// DefaultShutdownDelay is how long in-flight requests get to finish on shutdown.
	DefaultShutdownDelay = 5 * time.Second

	// DefaultCodecEngine is used when [codec] names no engine.
	DefaultCodecEngine = "exec"
)

// DefaultHost is the most understandable alias for this server.
var DefaultHost = "localhost"

func init() {
	// Set default Host name for understandability from user perspective.
	// Assumes Linux or Mac.
	cmd := exec.Command("/bin/hostname", "-f")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil || out.Len() < 2 {
		return
	}
	DefaultHost = out.String()
	DefaultHost = DefaultHost[:len(DefaultHost)-1] // removes EOL
}

// duration is a time.Duration written as a string like "300s" in TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config is the parsed TOML server configuration.
type Config struct {
	Server    serverConfig
	Logging   tiled.LogConfig
	Auth      authConfig
	Access    accessConfig
	Resolver  resolverConfig
	Cache     cacheConfig
	Ingest    ingestConfig
	Codec     map[string]interface{}
	Transform map[string]interface{}

	location string
}

type serverConfig struct {
	HTTPAddress    string   `toml:"httpAddress"`
	Host           string   `toml:"host"`
	Note           string   `toml:"note"`
	BasePath       string   `toml:"base_path"`
	MaxConnections int      `toml:"max_connections"`
	ShutdownDelay  duration `toml:"shutdown_delay"`
	ReadTimeout    duration `toml:"read_timeout"`
	CORSDomains    []string `toml:"cors_domains"`
}

// accessConfig restricts which hosts reach the server at all.
type accessConfig struct {
	Allow         []string `toml:"allow"`
	Deny          []string `toml:"deny"`
	Order         string   `toml:"order"`
	File          string   `toml:"file"`
	BlockListFile string   `toml:"blocklist_file"`
}

type resolverConfig struct {
	MasterDir    string   `toml:"master_dir"`
	Layout       string   `toml:"layout"`
	TempDir      string   `toml:"temp_dir"`
	Patterns     []string `toml:"patterns"`
	Templates    []string `toml:"templates"`
	JoinTimeout  duration `toml:"join_timeout"`
	FetchTimeout duration `toml:"fetch_timeout"`
	MemoSize     int      `toml:"memo_size"`
	MemoTTL      duration `toml:"memo_ttl"`
}

type cacheConfig struct {
	Dir        string    `toml:"dir"`
	TileDir    string    `toml:"tile_dir"`
	Capacity   int       `toml:"capacity"`
	Exceptions []float64 `toml:"exceptions"`
	Format     string    `toml:"format"`
	Metadata   int       `toml:"metadata_entries"`
}

// ingestConfig points batch ingest at a directory of source images.
type ingestConfig struct {
	SourceDir   string   `toml:"source_dir"`
	Exts        []string `toml:"exts"`
	Concurrency int      `toml:"concurrency"`
	Unattended  bool     `toml:"unattended"`
}

// LoadConfig loads server configuration from a TOML file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	c := new(Config)
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return c, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	settings := []struct {
		name string
		path *string
	}{
		{"[logging].logfile", &c.Logging.Logfile},
		{"[access].file", &c.Access.File},
		{"[access].blocklist_file", &c.Access.BlockListFile},
		{"[auth].auth_file", &c.Auth.AuthFile},
		{"[resolver].master_dir", &c.Resolver.MasterDir},
		{"[resolver].temp_dir", &c.Resolver.TempDir},
		{"[cache].dir", &c.Cache.Dir},
		{"[cache].tile_dir", &c.Cache.TileDir},
		{"[ingest].source_dir", &c.Ingest.SourceDir},
	}
	for _, setting := range settings {
		abs, err := tiled.ConvertToAbsolute(*setting.path, configDir)
		if err != nil {
			return fmt.Errorf("error converting %s to absolute path: %v", setting.name, err)
		}
		*setting.path = abs
	}
	if file, found := c.Transform["file"].(string); found {
		abs, err := tiled.ConvertToAbsolute(file, configDir)
		if err != nil {
			return fmt.Errorf("error converting [transform].file to absolute path: %v", err)
		}
		c.Transform["file"] = abs
	}
	return nil
}

// Location returns the path of the loaded TOML file.
func (c *Config) Location() string {
	return c.location
}

// HTTPAddress returns the address the web server listens on.
func (c *Config) HTTPAddress() string {
	if c.Server.HTTPAddress == "" {
		return DefaultWebAddress
	}
	return c.Server.HTTPAddress
}

// WebServer returns the configured host name from TOML file or, if not specified,
// the retrieved hostname plus the port of the web server.
func (c *Config) WebServer() string {
	if c.Server.Host != "" {
		return c.Server.Host
	}
	if _, port, err := splitPort(c.HTTPAddress()); err == nil && port != "" {
		return DefaultHost + ":" + port
	}
	return DefaultHost
}

func settings(m map[string]interface{}) tiled.Config {
	config := tiled.NewConfig()
	for k, v := range m {
		config.Set(k, v)
	}
	return config
}

// NewCodec returns the configured codec engine.
func (c *Config) NewCodec() (codec.Codec, error) {
	config := settings(c.Codec)
	name, found, err := config.GetString("engine")
	if err != nil {
		return nil, err
	}
	if !found {
		name = DefaultCodecEngine
	}
	engine, err := codec.EngineByName(name)
	if err != nil {
		return nil, err
	}
	tiled.Infof("Using codec engine %s\n", engine)
	return engine.New(config)
}

func (c *Config) encodeParams() (codec.EncodeParams, error) {
	config := settings(c.Codec)
	var p codec.EncodeParams
	var err error
	if p.Levels, _, err = config.GetInt("levels"); err != nil {
		return p, err
	}
	if p.Layers, _, err = config.GetInt("layers"); err != nil {
		return p, err
	}
	if v, found := config.Get("reversible"); found {
		if p.Reversible, found = v.(bool); !found {
			return p, fmt.Errorf("[codec] reversible must be true or false, got %v", v)
		}
	}
	return p, nil
}

// NewTransform returns the configured request transform, "none" by default.
func (c *Config) NewTransform() (transform.Transform, error) {
	config := settings(c.Transform)
	name, found, err := config.GetString("name")
	if err != nil {
		return nil, err
	}
	if !found {
		name = "none"
	}
	return transform.ByName(name, config)
}

// Components are the collaborators built from a configuration.  Close releases
// any open remote buckets.  Ingester is nil unless [ingest] names a source_dir.
type Components struct {
	Service  *service.Service
	Fetcher  *migrate.RemoteFetcher
	Ingester *migrate.Ingester
}

func (comp *Components) Close() error {
	if comp.Fetcher == nil {
		return nil
	}
	return comp.Fetcher.Close()
}

// Build constructs the tile service described by the configuration.
func (c *Config) Build() (*Components, error) {
	if c.Resolver.MasterDir == "" {
		return nil, fmt.Errorf("[resolver] master_dir must be set")
	}
	mapper, err := storage.NewPathMapper(c.Resolver.Layout, c.Resolver.MasterDir)
	if err != nil {
		return nil, err
	}
	store := storage.NewMasterStore(mapper)

	var tiles *storage.TileStore
	if c.Cache.TileDir != "" {
		tileMapper, err := storage.NewPathMapper(c.Resolver.Layout, c.Cache.TileDir)
		if err != nil {
			return nil, err
		}
		tiles = storage.NewTileStore(tileMapper)
	}

	cdc, err := c.NewCodec()
	if err != nil {
		return nil, err
	}
	encode, err := c.encodeParams()
	if err != nil {
		return nil, err
	}
	tr, err := c.NewTransform()
	if err != nil {
		return nil, err
	}

	var client *http.Client
	if c.Resolver.FetchTimeout.Duration > 0 {
		client = &http.Client{Timeout: c.Resolver.FetchTimeout.Duration}
	}
	fetcher := migrate.NewFetcher(client)
	registry := resolver.NewRegistry()
	migrator := migrate.New(migrate.Config{TempDir: c.Resolver.TempDir, Encode: encode}, store, cdc, fetcher, registry)
	r, err := resolver.New(resolver.Config{
		Patterns:    c.Resolver.Patterns,
		Templates:   c.Resolver.Templates,
		JoinTimeout: c.Resolver.JoinTimeout.Duration,
		MemoBytes:   c.Resolver.MemoSize,
		MemoTTL:     c.Resolver.MemoTTL.Duration,
	}, store, registry, migrator)
	if err != nil {
		fetcher.Close()
		return nil, err
	}
	svc, err := service.New(service.Config{
		CacheDir:        c.Cache.Dir,
		Capacity:        c.Cache.Capacity,
		Exceptions:      c.Cache.Exceptions,
		Format:          c.Cache.Format,
		MetadataEntries: c.Cache.Metadata,
	}, service.Deps{Resolver: r, Codec: cdc, Transform: tr, Tiles: tiles})
	if err != nil {
		fetcher.Close()
		return nil, err
	}
	tiled.Infof("Masters stored in %s\n", store)
	if _, err := os.Stat(c.Resolver.MasterDir); os.IsNotExist(err) {
		tiled.Infof("Master directory %s will be created on first migration\n", c.Resolver.MasterDir)
	}
	comp := &Components{Service: svc, Fetcher: fetcher}
	if c.Ingest.SourceDir != "" {
		comp.Ingester, err = migrate.NewIngester(migrator, migrate.IngestConfig{
			SourceDir:   c.Ingest.SourceDir,
			Exts:        c.Ingest.Exts,
			Concurrency: c.Ingest.Concurrency,
		})
		if err != nil {
			fetcher.Close()
			return nil, err
		}
	}
	return comp, nil
}

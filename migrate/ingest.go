package migrate

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/tiled"
)

const (
	// DefaultIngestConcurrency is the number of files converted at once.
	DefaultIngestConcurrency = 2

	// ingestReportEvery is how many files pass between progress log lines.
	ingestReportEvery = 100
)

// ErrIngestRunning is returned when an ingest is started while another runs.
var ErrIngestRunning = errors.New("an ingest job is already running")

// IngestConfig selects the local files a batch ingest turns into masters.
type IngestConfig struct {
	// SourceDir is walked recursively for source images.
	SourceDir string

	// Exts are the file extensions to ingest, without dots.  Empty means every
	// JPEG 2000 or convertible extension.
	Exts []string

	// Concurrency bounds simultaneous conversions.
	Concurrency int
}

// IngestStatus reports on the current or most recent ingest job.
type IngestStatus struct {
	Running   bool      `json:"running"`
	SourceDir string    `json:"source_dir"`
	Found     int       `json:"found"`
	Ingested  int       `json:"ingested"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Bytes     uint64    `json:"bytes"`
	Available uint64    `json:"available"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Error     string    `json:"error,omitempty"`
}

// Done returns the number of files handled so far.
func (st IngestStatus) Done() int {
	return st.Ingested + st.Skipped + st.Failed
}

// Ingester converts every matching file under a source directory into the master
// store.  Images that already have a master are skipped, so a job can be rerun to
// pick up new files.  Only one job runs at a time.
type Ingester struct {
	m      *Migrator
	config IngestConfig
	exts   map[string]bool

	mu      sync.Mutex
	status  IngestStatus
	running sync.WaitGroup
}

// NewIngester returns an ingester feeding m's master store.
func NewIngester(m *Migrator, config IngestConfig) (*Ingester, error) {
	if config.SourceDir == "" {
		return nil, errors.New("ingest needs a source directory")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultIngestConcurrency
	}
	ing := &Ingester{m: m, config: config, exts: make(map[string]bool)}
	for _, ext := range config.Exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			ing.exts[ext] = true
		}
	}
	ing.status.SourceDir = config.SourceDir
	return ing, nil
}

// IngestID returns the image identifier for a source file: its base name without
// extension.
func IngestID(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (ing *Ingester) matches(name string) bool {
	if len(ing.exts) == 0 {
		return codec.FormatForName(name) != codec.FormatUnknown
	}
	return ing.exts[strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")]
}

// Status returns a snapshot of the current or last job with the store's free space.
func (ing *Ingester) Status() IngestStatus {
	ing.mu.Lock()
	st := ing.status
	ing.mu.Unlock()
	if avail, err := ing.m.store.Available(); err == nil {
		st.Available = avail
	}
	return st
}

// Start runs a job in the background.  It returns false if a job is already running.
func (ing *Ingester) Start(ctx context.Context) bool {
	if !ing.begin() {
		return false
	}
	ing.running.Add(1)
	go func() {
		defer ing.running.Done()
		if err := ing.finish(ing.run(ctx)); err != nil {
			tiled.Errorf("Ingest of %s failed: %v\n", ing.config.SourceDir, err)
		}
	}()
	return true
}

// Wait blocks until a job started with Start finishes.
func (ing *Ingester) Wait() {
	ing.running.Wait()
}

// Run ingests the source directory and returns the final status.
func (ing *Ingester) Run(ctx context.Context) (IngestStatus, error) {
	if !ing.begin() {
		return ing.Status(), ErrIngestRunning
	}
	err := ing.finish(ing.run(ctx))
	return ing.Status(), err
}

func (ing *Ingester) begin() bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if ing.status.Running {
		return false
	}
	ing.status = IngestStatus{
		Running:   true,
		SourceDir: ing.config.SourceDir,
		Started:   time.Now(),
	}
	return true
}

func (ing *Ingester) finish(err error) error {
	ing.mu.Lock()
	ing.status.Running = false
	ing.status.Finished = time.Now()
	if err != nil {
		ing.status.Error = err.Error()
	}
	st := ing.status
	ing.mu.Unlock()

	avail, _ := ing.m.store.Available()
	tiled.Infof("Finished ingest of %s: %d ingested (%s), %d skipped, %d failed; %s available\n",
		st.SourceDir, st.Ingested, humanize.Bytes(st.Bytes), st.Skipped, st.Failed, humanize.Bytes(avail))
	return err
}

func (ing *Ingester) scan() ([]string, error) {
	fi, err := os.Stat(ing.config.SourceDir)
	if err != nil {
		return nil, tiled.WrapError(tiled.NotFound, err, "ingest source directory %s unavailable", ing.config.SourceDir)
	}
	if !fi.IsDir() {
		return nil, tiled.NewError(tiled.NotFound, "ingest source %s is not a directory", ing.config.SourceDir)
	}
	var files []string
	err = filepath.WalkDir(ing.config.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && ing.matches(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, tiled.WrapError(tiled.FetchFailed, err, "can't scan %s", ing.config.SourceDir)
	}
	sort.Strings(files)
	return files, nil
}

func (ing *Ingester) run(ctx context.Context) error {
	files, err := ing.scan()
	if err != nil {
		return err
	}
	ing.mu.Lock()
	ing.status.Found = len(files)
	ing.mu.Unlock()
	tiled.Infof("Ingesting %d files from %s into %s\n", len(files), ing.config.SourceDir, ing.m.store)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.config.Concurrency)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ing.ingestFile(gctx, file)
			return nil
		})
	}
	return g.Wait()
}

func (ing *Ingester) ingestFile(ctx context.Context, file string) {
	id := IngestID(file)
	var size uint64
	var err error
	skipped := false
	if _, found := ing.m.store.Lookup(id); found {
		skipped = true
	} else {
		if fi, serr := os.Stat(file); serr == nil {
			size = uint64(fi.Size())
		}
		_, err = ing.m.ConvertFile(ctx, id, file)
		if errors.Is(err, ErrInFlight) {
			skipped, err = true, nil
		}
	}

	ing.mu.Lock()
	switch {
	case skipped:
		ing.status.Skipped++
	case err != nil:
		ing.status.Failed++
	default:
		ing.status.Ingested++
		ing.status.Bytes += size
	}
	st := ing.status
	ing.mu.Unlock()

	if err != nil {
		tiled.Warningf("Unable to ingest %s as %q: %v\n", file, id, err)
	}
	if st.Done()%ingestReportEvery == 0 {
		avail, _ := ing.m.store.Available()
		tiled.Infof("Ingest at %d of %d (%s converted, %s available)\n",
			st.Done(), st.Found, humanize.Bytes(st.Bytes), humanize.Bytes(avail))
	}
}

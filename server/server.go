package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/blang/semver"
	"github.com/zenazn/goji/web"
	"golang.org/x/net/netutil"

	"github.com/janelia-flyem/tiled/migrate"
	"github.com/janelia-flyem/tiled/service"
	"github.com/janelia-flyem/tiled/tiled"
	"github.com/janelia-flyem/tiled/transform"
)

// Version is the version of the tile server.
var Version = semver.MustParse("1.0.0")

// Server serves tile requests over HTTP.
type Server struct {
	config  *Config
	service *service.Service
	mux     *web.Mux

	hosts      *transform.HostFilter
	blocked    map[string]string
	authorized map[string]string
	secretKey  []byte

	// hand-offs being committed to the tile store
	pending sync.WaitGroup

	// background jobs like ingest run under jobs until Shutdown
	ingester *migrate.Ingester
	jobs     context.Context
	stopJobs context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
	started    time.Time
}

// New returns a server for the given service.
func New(config *Config, svc *service.Service) (*Server, error) {
	if config == nil {
		config = new(Config)
	}
	s := &Server{
		config:  config,
		service: svc,
		started: time.Now(),
	}
	s.jobs, s.stopJobs = context.WithCancel(context.Background())
	var err error
	if s.hosts, err = loadHostFilter(config.Access); err != nil {
		return nil, err
	}
	if s.blocked, err = loadBlockList(config.Access.BlockListFile); err != nil {
		return nil, err
	}
	if config.Auth.SecretKey != "" {
		s.secretKey = []byte(config.Auth.SecretKey)
		if s.authorized, err = loadAuthFile(config.Auth.AuthFile); err != nil {
			return nil, err
		}
	}
	s.initRoutes()
	return s, nil
}

// SetIngester enables the ingest API.
func (s *Server) SetIngester(ing *migrate.Ingester) {
	s.mu.Lock()
	s.ingester = ing
	s.mu.Unlock()
}

func (s *Server) getIngester() *migrate.Ingester {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingester
}

// StartIngest begins a background ingest job that stops on Shutdown.  It returns
// false if no ingester is set or a job is already running.
func (s *Server) StartIngest() bool {
	ing := s.getIngester()
	if ing == nil {
		return false
	}
	return ing.Start(s.jobs)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func splitPort(address string) (host, port string, err error) {
	return net.SplitHostPort(address)
}

// Serve listens on the configured address until ctx is done or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	address := s.config.HTTPAddress()
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	if limit := s.config.Server.MaxConnections; limit > 0 {
		ln = netutil.LimitListener(ln, limit)
		tiled.Infof("Limiting web server to %d concurrent connections\n", limit)
	}
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:     s.mux,
		ReadTimeout: s.config.Server.ReadTimeout.Duration,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	tiled.Infof("Web server listening at %s (%s), using %d logical CPUs\n",
		address, s.config.WebServer(), runtime.GOMAXPROCS(0))
	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.Serve(ln)
	}()
	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting requests, waits a bounded time for in-flight requests
// and then for pending tile commits and background jobs.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	httpServer := s.httpServer
	ingester := s.ingester
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		delay := s.config.Server.ShutdownDelay.Duration
		if delay <= 0 {
			delay = DefaultShutdownDelay
		}
		ctx, cancel := context.WithTimeout(context.Background(), delay)
		defer cancel()
		tiled.Infof("Shutting down web server, waiting up to %s for requests\n", delay)
		if err = httpServer.Shutdown(ctx); err != nil {
			err = fmt.Errorf("web server shutdown: %v", err)
		}
	}
	s.pending.Wait()
	s.stopJobs()
	if ingester != nil {
		ingester.Wait()
	}
	return err
}

// commitLater moves a newly cached tile into the permanent tile store in the
// background.
func (s *Server) commitLater(h *service.Handoff) {
	if h == nil || s.service.Tiles() == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if _, err := s.service.CommitHandoff(h); err != nil {
			tiled.Errorf("Unable to commit tile %s: %v\n", h.Key, err)
		}
	}()
}

// WaitCommits blocks until all background tile commits are done.
func (s *Server) WaitCommits() {
	s.pending.Wait()
}

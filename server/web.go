package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/migrate"
	"github.com/janelia-flyem/tiled/params"
	"github.com/janelia-flyem/tiled/service"
	"github.com/janelia-flyem/tiled/tiled"
	"github.com/janelia-flyem/tiled/transform"
)

const (
	// IIIFPath is the prefix of image requests.
	IIIFPath = "/iiif/"

	// WebAPIPath is the prefix of server API requests.
	WebAPIPath = "/api/"
)

func (s *Server) initRoutes() {
	mux := web.New()
	mux.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.Server.CORSDomains,
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
	}).Handler)
	mux.Use(s.accessControl)
	if s.secretKey != nil {
		mux.Use(s.isAuthorized)
	}

	mux.Get(WebAPIPath+"server/info", s.serverInfoHandler)
	mux.Get(WebAPIPath+"ingest", s.ingestStatusHandler)
	mux.Post(WebAPIPath+"ingest", s.ingestStartHandler)
	mux.Get("/status/:id", s.statusHandler)
	mux.Get(IIIFPath+":id/info.json", s.infoHandler)
	mux.Get(IIIFPath+":id/:region/:size/:rotation/:quality", s.imageHandler)
	mux.NotFound(NotFound)
	s.mux = mux
}

// BadRequest writes a text/plain error with status 400 and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// Unauthorized writes a text/plain error with status 401 and logs it.
func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusUnauthorized, fmt.Sprintf(format, args...))
}

// NotFound writes a generic 404.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, fmt.Sprintf("no resource at %s", r.URL.Path))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	tiled.Infof("%s %s: %d %s\n", r.Method, r.URL.Path, status, msg)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	writeJSONStatus(w, r, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// parseQuality splits "native.jpg" into quality and output format.
func parseQuality(s string) (quality, format string) {
	ext := path.Ext(s)
	if ext == "" {
		return s, ""
	}
	return strings.TrimSuffix(s, ext), strings.ToLower(ext[1:])
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func (s *Server) request(c web.C, r *http.Request) (service.Request, error) {
	req := service.Request{
		Identifier: c.URLParams["id"],
		Region:     c.URLParams["region"],
		Size:       c.URLParams["size"],
		Referrer:   r.Referer(),
	}
	var err error
	if req.Rotation, err = params.ParseRotation(c.URLParams["rotation"]); err != nil {
		return req, err
	}
	var quality string
	if quality, req.Format = parseQuality(c.URLParams["quality"]); quality != "native" && quality != "default" && quality != "color" {
		return req, fmt.Errorf("unsupported quality %q", quality)
	}
	if req.Format != "" {
		if _, found := service.MIMEType(req.Format); !found {
			return req, fmt.Errorf("unsupported format %q", req.Format)
		}
	}
	if req.Level, err = queryInt(r, "level"); err != nil {
		return req, fmt.Errorf("bad level: %v", err)
	}
	if req.Layer, err = queryInt(r, "layer"); err != nil {
		return req, fmt.Errorf("bad layer: %v", err)
	}
	if req.Requester, err = requestSourceIP(r); err != nil {
		req.Requester = r.RemoteAddr
	}
	return req, nil
}

// imageHandler serves GET /iiif/:id/:region/:size/:rotation/:quality.
func (s *Server) imageHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	req, err := s.request(c, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if stored, contentType, found := s.service.StoredTile(req); found {
		tiled.Debugf("Serving stored tile %s\n", stored)
		w.Header().Set("Content-Type", contentType)
		http.ServeFile(w, r, stored)
		return
	}
	resp := s.service.Resolve(r.Context(), req)
	for _, warning := range resp.Warnings {
		w.Header().Add("Warning", fmt.Sprintf("299 - %q", warning))
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		tiled.Infof("Unable to write %s: %v\n", r.URL.Path, err)
	}
	s.commitLater(resp.Handoff)
}

// infoHandler serves GET /iiif/:id/info.json.
func (s *Server) infoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Info(r.Context(), c.URLParams["id"])
	if err != nil {
		writeError(w, r, service.StatusFor(err), err.Error())
		return
	}
	base := "http://" + s.config.WebServer()
	if r.Host != "" {
		base = "http://" + r.Host
	}
	doc := info.IIIF(base + strings.TrimSuffix(IIIFPath, "/"))
	gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, doc)
	})).ServeHTTP(w, r)
}

// statusHandler serves GET /status/:id with the migration state of an image as
// its status code: 200 available, 202 migrating, 404 unknown.
func (s *Server) statusHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	status := s.service.Resolver().Status(r.Context(), c.URLParams["id"])
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprintln(w, http.StatusText(status))
}

// serverInfoHandler serves GET /api/server/info.
func (s *Server) serverInfoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	var engines []string
	for _, e := range codec.Engines() {
		engines = append(engines, e.String())
	}
	cache := s.service.Cache()
	info := map[string]interface{}{
		"Version":       Version.String(),
		"Host":          s.config.WebServer(),
		"Note":          s.config.Server.Note,
		"Uptime":        humanize.Time(s.started),
		"Started":       s.started.Format(time.RFC3339),
		"Codec engines": engines,
		"Transforms":    transform.Names(),
		"Cached tiles":  fmt.Sprintf("%d of %d", cache.Len(), cache.Capacity()),
		"Migrations":    s.service.Resolver().Registry().Len(),
		"Remembered":    s.service.Resolver().Memo().Len(),
	}
	writeJSON(w, r, info)
}

// ingestStatusHandler serves GET /api/ingest with the current or last ingest job.
func (s *Server) ingestStatusHandler(w http.ResponseWriter, r *http.Request) {
	ing := s.getIngester()
	if ing == nil {
		writeError(w, r, http.StatusNotFound, "ingest isn't configured")
		return
	}
	writeJSON(w, r, ing.Status())
}

// ingestStartHandler serves POST /api/ingest by starting a background ingest.
func (s *Server) ingestStartHandler(w http.ResponseWriter, r *http.Request) {
	ing := s.getIngester()
	if ing == nil {
		writeError(w, r, http.StatusNotFound, "ingest isn't configured")
		return
	}
	if !s.StartIngest() {
		writeError(w, r, http.StatusConflict, migrate.ErrIngestRunning.Error())
		return
	}
	tiled.Infof("Started ingest of %s\n", ing.Status().SourceDir)
	writeJSONStatus(w, r, http.StatusAccepted, ing.Status())
}

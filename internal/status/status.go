// Package status serves health, metrics and the current manifest while
// gallerysync runs as a daemon.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/manifest"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/syncer"
)

// Run describes a finished pass.
type Run struct {
	ID         string    `json:"id"`
	FinishedAt time.Time `json:"finished_at"`
	Duration   string    `json:"duration"`
	Error      string    `json:"error,omitempty"`
	Projects   int       `json:"projects"`
	Fetched    int       `json:"fetched"`
	Failed     int       `json:"failed"`
	Removed    int       `json:"removed"`
}

// Server exposes the daemon's state over HTTP.
type Server struct {
	fs           afero.Fs
	manifestPath string

	mu      sync.RWMutex
	last    *Run
	lastOK  *Run
	started time.Time
}

// NewServer creates a status server reading the manifest from fs.
func NewServer(fs afero.Fs, manifestPath string) *Server {
	return &Server{fs: fs, manifestPath: manifestPath, started: time.Now()}
}

// Record stores the outcome of a pass.
func (s *Server) Record(res *syncer.Result, err error) {
	run := &Run{FinishedAt: time.Now()}
	if res != nil {
		run.ID = res.RunID
		run.Duration = res.Duration.String()
		run.Removed = len(res.Reconcile.Removed)
		if res.Plan != nil {
			run.Projects = len(res.Plan.Manifest)
			run.Fetched = res.Plan.Stats.Fetched
			run.Failed = res.Plan.Stats.Failed
		}
	}
	if err != nil {
		run.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = run
	if err == nil {
		s.lastOK = run
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /manifest", s.handleManifest)
	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := map[string]any{
		"status":          "ok",
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"last_run":        s.last,
		"last_successful": s.lastOK,
	}
	failing := s.last != nil && s.last.Error != ""
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		resp["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := manifest.Load(s.fs, s.manifestPath)
	if err != nil {
		sendError(w, http.StatusNotFound, "manifest not available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

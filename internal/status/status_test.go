package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/fruitsalade/gallerysync/internal/manifest"
	"github.com/fruitsalade/gallerysync/internal/syncer"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(afero.NewMemMapFs(), "/projects.json")
	h := s.Handler()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("initial /healthz = %d", rec.Code)
	}

	s.Record(&syncer.Result{RunID: "r1"}, errors.New("list categories: unauthorized"))
	rec := get(t, h, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/healthz after failure = %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "degraded" {
		t.Errorf("status = %v", body["status"])
	}

	s.Record(&syncer.Result{RunID: "r2"}, nil)
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz after recovery = %d", rec.Code)
	}
}

func TestManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewServer(fs, "/data/projects.json")
	h := s.Handler()

	if rec := get(t, h, "/manifest"); rec.Code != http.StatusNotFound {
		t.Errorf("missing manifest = %d", rec.Code)
	}

	m := manifest.Manifest{{ID: "blue-bowl", Title: "Blue Bowl", Date: "2024-02"}}
	if err := manifest.Write(fs, "/data/projects.json", m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	rec := get(t, h, "/manifest")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"blue-bowl"`) {
		t.Errorf("/manifest = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	rec := get(t, NewServer(afero.NewMemMapFs(), "/p.json").Handler(), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gallerysync_") {
		t.Errorf("/metrics = %d", rec.Code)
	}
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(syncRunsTotal.WithLabelValues("error"))
	RecordRun(time.Second, false)
	if got := testutil.ToFloat64(syncRunsTotal.WithLabelValues("error")); got != before+1 {
		t.Errorf("error runs = %v, want %v", got, before+1)
	}

	RecordRun(time.Second, true)
	if testutil.ToFloat64(lastSuccess) == 0 {
		t.Error("last success timestamp not set")
	}
}

func TestRecordFetch_BytesOnlyOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(fetchBytesTotal)
	RecordFetch(100, time.Millisecond, true)
	RecordFetch(50, time.Millisecond, false)
	if got := testutil.ToFloat64(fetchBytesTotal); got != before+100 {
		t.Errorf("fetched bytes = %v, want %v", got, before+100)
	}
}

func TestWriteTextfile(t *testing.T) {
	SetManifestSize(3, 12)
	path := filepath.Join(t.TempDir(), "gallerysync.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "gallerysync_manifest_projects 3") {
		t.Errorf("textfile missing manifest gauge:\n%s", raw)
	}
}

func TestMiddleware(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/x", http.StatusText(http.StatusTeapot)))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/x", http.StatusText(http.StatusTeapot)))
	if got != before+1 {
		t.Errorf("requests = %v, want %v", got, before+1)
	}
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forestshield/core/internal/health"
	"github.com/forestshield/core/internal/objectstore"
	"github.com/forestshield/core/internal/sss"
)

func TestHealthzWithoutChecker(t *testing.T) {
	srv := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealthzReportsCheckerStatus(t *testing.T) {
	store, err := sss.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	checker := newHealthChecker(t, store)
	srv := NewServer(checker)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func newHealthChecker(t *testing.T, store *sss.Store) *health.Checker {
	t.Helper()
	return health.NewChecker(store, objectstore.NewMock(), nil)
}

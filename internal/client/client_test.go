package client

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lazypower/heatmap/internal/graph"
)

func TestNewUsesEnv(t *testing.T) {
	t.Setenv("HEATMAP_URL", "http://example.test:9999/")
	c := New("")
	if c.URL() != "http://example.test:9999" {
		t.Errorf("URL = %q, want env value without trailing slash", c.URL())
	}
	if got := New("http://other:1").URL(); got != "http://other:1" {
		t.Errorf("explicit URL = %q", got)
	}
}

func TestNewDefault(t *testing.T) {
	t.Setenv("HEATMAP_URL", "")
	if got := New("").URL(); got != defaultServerURL {
		t.Errorf("URL = %q, want %q", got, defaultServerURL)
	}
}

func TestPushEventAndStats(t *testing.T) {
	var pushed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events":
			body, _ := io.ReadAll(r.Body)
			pushed = string(body)
			w.WriteHeader(http.StatusAccepted)
		case "/api/stats":
			json.NewEncoder(w).Encode(graph.Stats{NodeCount: 7, PeakActivity: 88})
		case "/api/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.Healthy() {
		t.Error("Healthy = false")
	}
	if err := c.PushEvent([]byte(`{"type":"transaction"}`)); err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if pushed != `{"type":"transaction"}` {
		t.Errorf("server got %q", pushed)
	}

	st, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.NodeCount != 7 || st.PeakActivity != 88 {
		t.Errorf("stats = %+v", st)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"malformed message: missing origin"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New(srv.URL).PushEvent([]byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("err = %v, want status 400", err)
	}
}

func TestHealthyUnreachable(t *testing.T) {
	if New("http://127.0.0.1:1").Healthy() {
		t.Error("Healthy = true for an unreachable server")
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/lazypower/heatmap/internal/decode"
	"github.com/lazypower/heatmap/internal/engine"
	"github.com/lazypower/heatmap/internal/interact"
	"github.com/lazypower/heatmap/internal/render"
	"github.com/lazypower/heatmap/internal/store"
)

const maxSurfaceSide = 4096

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.eng.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.eng.Stats())
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, `{"error":"history disabled"}`, http.StatusServiceUnavailable)
		return
	}
	limit, ok := queryLimit(w, r, 100)
	if !ok {
		return
	}

	samples, err := s.db.RecentStats(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []store.Sample{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"samples": samples,
		"count":   len(samples),
	})
}

func (s *Server) handleRejects(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, `{"error":"history disabled"}`, http.StatusServiceUnavailable)
		return
	}
	limit, ok := queryLimit(w, r, 50)
	if !ok {
		return
	}

	rejects, err := s.db.RecentRejects(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rejects == nil {
		rejects = []store.Reject{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"rejects": rejects,
		"count":   len(rejects),
	})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.eng.Frames.WritePNG(&buf); err != nil {
		if errors.Is(err, render.ErrNoFrame) {
			http.Error(w, `{"error":"no frame rendered yet"}`, http.StatusServiceUnavailable)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		interact.Point
		interact.Viewport
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	n, ok := s.eng.Click(req.Point, req.Viewport)
	if !ok {
		json.NewEncoder(w).Encode(map[string]any{"selected": nil})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"selected": n})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	n, ok := s.eng.Selected()
	if !ok {
		json.NewEncoder(w).Encode(map[string]any{"selected": nil})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"selected": n})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	changed := s.eng.Pause()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"state":   s.eng.State().String(),
		"changed": changed,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	changed := s.eng.Resume()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"state":   s.eng.State().String(),
		"changed": changed,
	})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Width < 1 || req.Height < 1 || req.Width > maxSurfaceSide || req.Height > maxSurfaceSide {
		http.Error(w, `{"error":"width and height must be between 1 and 4096"}`, http.StatusBadRequest)
		return
	}

	s.eng.Resize(req.Width, req.Height)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"width":  req.Width,
		"height": req.Height,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxMessage))
	if err != nil {
		http.Error(w, `{"error":"body too large or unreadable"}`, http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.eng.HandleMessage(engine.SourceHTTP, body); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, decode.ErrMalformed) {
			status = http.StatusBadRequest
		}
		jsonError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// queryLimit parses ?limit=N, writing a 400 and returning false when it is
// not a positive integer.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
		return 0, false
	}
	return min(n, 1000), true
}

// jsonError writes {"error": msg} with code.
func jsonError(w http.ResponseWriter, msg string, code int) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	http.Error(w, string(body), code)
}

package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lazypower/heatmap/internal/engine"
	"github.com/lazypower/heatmap/internal/graph"
	"github.com/lazypower/heatmap/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10
)

// handleIngest accepts a producer connection and feeds every text message
// into the engine. Messages over the connection's rate budget are dropped.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: ingest upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.cfg.Ingest.MaxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go pinger(conn, done)

	limiter := s.limiter.fresh()
	var accepted, dropped int
	log.Printf("server: ingest connected from %s", r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("server: ingest read: %v", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			metrics.EventsTotal.WithLabelValues(metrics.ResultLimited).Inc()
			if dropped%100 == 0 {
				log.Printf("server: ingest from %s over rate limit, dropping (%d so far)", r.RemoteAddr, dropped+1)
			}
			dropped++
			continue
		}
		if s.eng.HandleMessage(engine.SourceIngest, msg) == nil {
			accepted++
		}
	}
	log.Printf("server: ingest from %s closed: %d accepted, %d rate limited", r.RemoteAddr, accepted, dropped)
}

// handleLive pushes stats to a viewer on every change, at most once per
// push interval.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: live upgrade: %v", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.eng.Subscribe()
	defer unsubscribe()

	// The reader only exists to notice the client leaving and to process
	// pongs.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(s.cfg.Stats.PushInterval())
	defer push.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	latest := s.eng.Stats()
	dirty := true
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				// Engine stopped.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			latest, dirty = st, true
		case <-push.C:
			if !dirty {
				continue
			}
			if err := writeStats(conn, latest); err != nil {
				return
			}
			dirty = false
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeStats(conn *websocket.Conn, st graph.Stats) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(st)
}

// pinger keeps an otherwise read-only connection alive.
func pinger(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

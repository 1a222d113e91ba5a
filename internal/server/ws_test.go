package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lazypower/heatmap/internal/engine"
	"github.com/lazypower/heatmap/internal/graph"
)

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIngestWebsocket(t *testing.T) {
	srv, eng := testServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWS(t, ts, "/api/ingest")
	msgs := []string{
		txBody,
		`{"type":"transaction","data":{"x":300,"y":300,"value":"12.5","type":"mint","walletAddress":"0xdef"}}`,
		`not json`,
		`{"type":"heartbeat"}`,
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, "two ingested nodes", func() bool { return eng.Stats().NodeCount == 2 })
	waitFor(t, "one reject", func() bool {
		n, err := srv.db.CountRejects()
		return err == nil && n == 1
	})
}

func TestLiveWebsocket(t *testing.T) {
	srv, eng := testServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWS(t, ts, "/api/live")
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first graph.Stats
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial stats: %v", err)
	}
	if first.NodeCount != 0 {
		t.Errorf("initial NodeCount = %d, want 0", first.NodeCount)
	}

	if err := eng.HandleMessage(engine.SourceHTTP, []byte(txBody)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	var next graph.Stats
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read pushed stats: %v", err)
	}
	if next.NodeCount != 1 || next.TotalVolume != 250 {
		t.Errorf("pushed stats = %+v", next)
	}
}

func TestLiveClosesOnEngineStop(t *testing.T) {
	srv, eng := testServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWS(t, ts, "/api/live")
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var st graph.Stats
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read initial stats: %v", err)
	}

	eng.Stop()
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after stop: err = %v, want going away close", err)
	}
}

package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// upstream is a websocket server that sends msgs on each connection, then
// either holds the connection or drops it.
func upstream(t *testing.T, msgs []string, drop bool, subscribed chan<- string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var conns atomic.Int64
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		conns.Add(1)

		if subscribed != nil {
			_, sub, err := c.ReadMessage()
			if err != nil {
				return
			}
			subscribed <- string(sub)
		}
		for _, m := range msgs {
			if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if drop {
			return
		}
		// Hold until the client goes away.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(raw []byte) {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(raw))
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriberReceivesAndSubscribes(t *testing.T) {
	subscribed := make(chan string, 1)
	srv, _ := upstream(t, []string{`{"type":"a"}`, `{"type":"b"}`}, false, subscribed)

	var got collector
	s := New(Options{URL: wsURL(srv), Subscribe: `{"op":"subscribe"}`}, got.handle)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case sub := <-subscribed:
		if sub != `{"op":"subscribe"}` {
			t.Errorf("subscribe frame = %q", sub)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no subscribe frame")
	}

	waitFor(t, "two messages", func() bool { return got.count() == 2 })
	if !s.Connected() {
		t.Error("Connected = false while holding a connection")
	}
	if s.Received() != 2 {
		t.Errorf("Received = %d, want 2", s.Received())
	}
}

func TestSubscriberReconnects(t *testing.T) {
	srv, conns := upstream(t, []string{`{"type":"x"}`}, true, nil)

	var got collector
	s := New(Options{URL: wsURL(srv), MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, got.handle)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, "three connections", func() bool { return conns.Load() >= 3 })
	waitFor(t, "a message per connection", func() bool { return got.count() >= 3 })
}

func TestSubscriberStopWhileDialFails(t *testing.T) {
	s := New(Options{URL: "ws://127.0.0.1:1/none", MinBackoff: time.Hour}, func([]byte) {})
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked during backoff")
	}
	if s.Running() {
		t.Error("Running = true after Stop")
	}
}

func TestSubscriberRestart(t *testing.T) {
	srv, conns := upstream(t, nil, false, nil)
	s := New(Options{URL: wsURL(srv)}, func([]byte) {})

	s.Start(context.Background())
	s.Start(context.Background()) // no-op
	waitFor(t, "first connection", func() bool { return s.Connected() })
	s.Stop()
	s.Stop()
	if s.Connected() {
		t.Error("Connected after Stop")
	}

	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, "second connection", func() bool { return conns.Load() == 2 && s.Connected() })
}

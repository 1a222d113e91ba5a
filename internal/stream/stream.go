// Package stream subscribes to an upstream websocket feed of activity
// messages and hands each raw message to a handler, reconnecting with
// capped exponential backoff when the connection drops.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives one raw message. It runs on the read goroutine.
type Handler func(raw []byte)

// Options configure a Subscriber.
type Options struct {
	URL string
	// Subscribe is sent as a text frame after every successful dial.
	Subscribe        string
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (o *Options) defaults() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 60 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
}

// Subscriber owns the upstream connection. It can be started and stopped
// repeatedly; the engine stops it while the view is paused.
type Subscriber struct {
	opts   Options
	handle Handler

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	connected atomic.Bool
	received  atomic.Int64
}

// New creates a stopped Subscriber.
func New(opts Options, h Handler) *Subscriber {
	opts.defaults()
	return &Subscriber{opts: opts, handle: h}
}

// Start runs the connect loop in the background. It is a no-op while
// already running.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	done := s.done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop closes the subscription and waits for the loop to exit. Safe to call
// when not running.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the connect loop is active.
func (s *Subscriber) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Connected reports whether a connection is currently open.
func (s *Subscriber) Connected() bool { return s.connected.Load() }

// Received returns the number of messages read since creation.
func (s *Subscriber) Received() int64 { return s.received.Load() }

// Run dials and reads until ctx is done, reconnecting on any error.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := s.opts.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		log.Printf("stream: connecting to %s", s.opts.URL)
		err := s.session(ctx, func() { backoff = s.opts.MinBackoff })
		if ctx.Err() != nil {
			return
		}
		log.Printf("stream: %v; retrying in %v", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
}

// session holds one connection open until it fails. onConnect runs after
// the dial and subscribe succeed.
func (s *Subscriber) session(ctx context.Context, onConnect func()) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.ReadLimit)

	// ReadMessage does not observe ctx; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	if s.opts.Subscribe != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.opts.Subscribe)); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	s.connected.Store(true)
	defer s.connected.Store(false)
	onConnect()
	log.Printf("stream: connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("closed by upstream")
			}
			return fmt.Errorf("read: %w", err)
		}
		s.received.Add(1)
		s.handle(msg)
	}
}

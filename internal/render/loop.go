package render

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/lazypower/heatmap/internal/graph"
)

// State is the loop's run state.
type State int

const (
	StateRunning State = iota
	StatePaused
)

func (s State) String() string {
	if s == StatePaused {
		return "paused"
	}
	return "running"
}

// Source supplies a fresh snapshot for each frame. *graph.Store satisfies it.
type Source interface {
	Snapshot() graph.Snapshot
}

// LoopOptions configure a Loop. Every hook is optional.
type LoopOptions struct {
	Interval time.Duration
	Draw     Options
	Clock    func() time.Time

	// BeforeFrame runs before the snapshot is taken. Frame-coupled decay
	// hangs off this.
	BeforeFrame func()
	// Selected returns the id to highlight.
	Selected func() string
	// OnFrame reports how long each frame took to draw.
	OnFrame func(time.Duration)
	// OnStateChange fires after Pause or Resume changes the state. Calls are
	// serialized and arrive in the order the transitions happened.
	OnStateChange func(State)
}

// Loop redraws the graph on a fixed cadence while running and publishes
// each frame to a FrameBuffer.
type Loop struct {
	src  Source
	buf  *FrameBuffer
	opts LoopOptions

	drawMu  sync.Mutex // guards surface
	surface *Raster

	transMu sync.Mutex // held across a transition and its OnStateChange

	mu      sync.Mutex
	state   State
	resize  *image.Point
	started bool

	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a loop in the Running state. Nothing is drawn until Start
// or RenderOnce.
func NewLoop(src Source, surface *Raster, buf *FrameBuffer, opts LoopOptions) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 33 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Loop{
		src:     src,
		buf:     buf,
		opts:    opts,
		surface: surface,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the frame goroutine. Calling it more than once is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		if l.State() == StatePaused {
			ticker.Stop()
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-l.wake:
			}
			ticker.Reset(l.opts.Interval)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-l.wake:
		case <-ticker.C:
			l.RenderOnce()
		}
	}
}

// Stop ends the frame goroutine and waits for it. Safe to call repeatedly
// and before Start.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		<-l.done
	}
}

// Pause stops scheduling frames. It reports whether the state changed.
func (l *Loop) Pause() bool { return l.setState(StatePaused) }

// Resume restarts frame scheduling. It reports whether the state changed.
func (l *Loop) Resume() bool { return l.setState(StateRunning) }

func (l *Loop) setState(s State) bool {
	l.transMu.Lock()
	defer l.transMu.Unlock()

	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return false
	}
	l.state = s
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	if s == StatePaused {
		// Repaint once so viewers see the paused overlay.
		l.RenderOnce()
	}
	if l.opts.OnStateChange != nil {
		l.opts.OnStateChange(s)
	}
	return true
}

// State returns the current run state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Resize requests a new surface size. It takes effect before the next frame;
// a paused loop repaints immediately. Graph state is untouched.
func (l *Loop) Resize(w, h int) {
	l.mu.Lock()
	l.resize = &image.Point{X: max(w, 1), Y: max(h, 1)}
	paused := l.state == StatePaused
	l.mu.Unlock()

	if paused {
		l.RenderOnce()
	}
}

// Size reports the surface size, including any pending resize.
func (l *Loop) Size() (int, int) {
	l.mu.Lock()
	if l.resize != nil {
		w, h := l.resize.X, l.resize.Y
		l.mu.Unlock()
		return w, h
	}
	l.mu.Unlock()

	l.drawMu.Lock()
	defer l.drawMu.Unlock()
	return l.surface.Size()
}

// RenderOnce draws and publishes a single frame regardless of state.
func (l *Loop) RenderOnce() {
	l.drawMu.Lock()
	defer l.drawMu.Unlock()

	start := time.Now()

	l.mu.Lock()
	pending := l.resize
	l.resize = nil
	paused := l.state == StatePaused
	l.mu.Unlock()

	if pending != nil {
		l.surface.Resize(pending.X, pending.Y)
	}
	if !paused && l.opts.BeforeFrame != nil {
		l.opts.BeforeFrame()
	}

	f := Frame{
		Snapshot: l.src.Snapshot(),
		Now:      l.opts.Clock(),
		Paused:   paused,
	}
	if l.opts.Selected != nil {
		f.Selected = l.opts.Selected()
	}

	Draw(l.surface, f, l.opts.Draw)
	l.buf.Publish(l.surface.Image(), f.Now)

	if l.opts.OnFrame != nil {
		l.opts.OnFrame(time.Since(start))
	}
}

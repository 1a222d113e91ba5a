package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lazypower/heatmap/internal/config"
	"github.com/lazypower/heatmap/internal/decode"
	"github.com/lazypower/heatmap/internal/graph"
	"github.com/lazypower/heatmap/internal/interact"
	"github.com/lazypower/heatmap/internal/metrics"
	"github.com/lazypower/heatmap/internal/render"
	"github.com/lazypower/heatmap/internal/store"
	"github.com/lazypower/heatmap/internal/stream"
	"github.com/lazypower/heatmap/internal/synth"
)

// Sources passed to HandleMessage, recorded with rejects.
const (
	SourceStream = "stream"
	SourceIngest = "ingest"
	SourceHTTP   = "http"
	SourceReplay = "replay"
)

// Options carry the engine's injectable dependencies. All are optional.
type Options struct {
	// DB receives stats samples and rejected messages. Nil disables both.
	DB    *store.DB
	Clock func() time.Time
	// Rand overrides the seeded sources, mainly for tests.
	Rand graph.Rand
}

// Engine owns the activity graph and everything that reads or mutates it:
// decoding, linking, decay, rendering, selection and stats fan-out.
type Engine struct {
	cfg   config.Config
	clock func() time.Time

	Store     *graph.Store
	Linker    *graph.Linker
	Decoder   *decode.Decoder
	Selection *interact.Selection
	Loop      *render.Loop
	Frames    *render.FrameBuffer
	Scheduler *Scheduler
	Generator *synth.Generator
	DB        *store.DB

	source *stream.Subscriber // nil without a stream URL

	subMu  sync.Mutex
	subs   map[int]chan graph.Stats
	nextID int

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	sampler  chan struct{}
	stopOnce sync.Once
}

// New wires an engine from configuration. Nothing runs until Start.
func New(cfg config.Config, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	ec, rc := cfg.Engine, cfg.Render

	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		DB:        opts.DB,
		Frames:    &render.FrameBuffer{},
		Selection: interact.NewSelection(ec.HitRadiusPx),
		subs:      make(map[int]chan graph.Stats),
	}

	e.Store = graph.NewStore(graph.Options{
		NodeCapacity:       ec.NodeCapacity,
		ConnectionCapacity: ec.ConnectionCapacity,
		Clock:              clock,
		OnEvict:            metrics.Evicted,
	})

	// *rand.Rand is not safe to share, so every consumer gets its own
	// source derived from the configured seed.
	rnd := func(offset int64) graph.Rand {
		if opts.Rand != nil {
			return opts.Rand
		}
		if ec.Seed == 0 {
			return graph.NewRand(0)
		}
		return graph.NewRand(ec.Seed + offset)
	}

	lc := graph.DefaultLinkerConfig()
	lc.Radius = ec.LinkRadius
	lc.AcceptProbability = ec.LinkAcceptProbability
	lc.MaxNeighbors = ec.MaxNeighbors
	lc.MaxLinks = ec.MaxLinksPerInsert
	e.Linker = graph.NewLinker(lc, rnd(0))

	e.Scheduler = NewScheduler(e.Store, SchedulerConfig{
		Step:          ec.DecayStepPerTick,
		DecayInterval: ec.DecayInterval(),
		PruneInterval: ec.PruneInterval(),
		TTL:           ec.ConnectionTTL(),
		FrameCoupled:  ec.FrameCoupledDecay,
	}, clock, e.publishStats)

	loopOpts := render.LoopOptions{
		Interval: rc.FrameInterval(),
		Clock:    clock,
		Draw: render.Options{
			ConnectionTTL:           ec.ConnectionTTL(),
			HighIntensityThreshold:  rc.HighIntensityThreshold,
			LabelMagnitudeThreshold: rc.LabelMagnitudeThreshold,
		},
		Selected: e.Selection.ID,
		OnFrame: func(d time.Duration) {
			metrics.FramesTotal.Inc()
			metrics.FrameDuration.Observe(d.Seconds())
		},
		OnStateChange: e.onStateChange,
	}
	if ec.FrameCoupledDecay {
		loopOpts.BeforeFrame = func() { e.Scheduler.DecayOnce() }
	}
	e.Loop = render.NewLoop(e.Store, render.NewRaster(rc.SurfaceWidth, rc.SurfaceHeight), e.Frames, loopOpts)

	e.Decoder = decode.New(decode.RandomPosition(rnd(1), e.Loop.Size))
	e.Generator = synth.New(rnd(2), rc.SurfaceWidth, rc.SurfaceHeight)

	if cfg.Stream.URL != "" {
		e.source = stream.New(stream.Options{
			URL:       cfg.Stream.URL,
			Subscribe: cfg.Stream.Subscribe,
			ReadLimit: cfg.Ingest.MaxMessage,
		}, func(raw []byte) { e.HandleMessage(SourceStream, raw) })
	}
	return e
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() config.Config { return e.cfg }

// Start seeds the graph and launches the scheduler, render loop, stream
// subscription and stats sampler. Calling it twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.sampler = make(chan struct{})
	e.mu.Unlock()

	if n := e.Seed(e.cfg.Engine.SeedCount); n > 0 {
		log.Printf("engine: seeded %d synthetic nodes", n)
	}

	e.Scheduler.Start()
	e.Loop.Start(e.ctx)
	if e.source != nil {
		e.source.Start(e.ctx)
	}

	go e.runSampler(e.ctx, e.sampler)
}

// Stop tears everything down. It is idempotent and safe before Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel, sampler := e.cancel, e.sampler
		e.mu.Unlock()

		if e.source != nil {
			e.source.Stop()
		}
		e.Scheduler.Stop()
		e.Loop.Stop()
		if cancel != nil {
			cancel()
			<-sampler
		}

		e.subMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subMu.Unlock()
	})
}

// HandleMessage decodes and applies one inbound message. Malformed messages
// are logged, counted and recorded, and the error is returned to the
// caller; the graph is never touched for them.
func (e *Engine) HandleMessage(source string, raw []byte) error {
	msg, err := e.Decoder.Decode(raw)
	if err != nil {
		e.reject(source, raw, err)
		return err
	}
	if !msg.Known() {
		metrics.EventsTotal.WithLabelValues(metrics.ResultIgnored).Inc()
		return nil
	}
	e.Apply(msg)
	metrics.EventsTotal.WithLabelValues(metrics.ResultAccepted).Inc()
	return nil
}

// Apply inserts a decoded message into the graph.
func (e *Engine) Apply(msg decode.Message) {
	switch {
	case msg.Transaction != nil:
		e.Insert(*msg.Transaction)
	case msg.Init != nil:
		e.seedFrom(msg.Init)
	}
}

// Insert adds a candidate, links it to its neighbours and publishes stats.
func (e *Engine) Insert(c graph.Candidate) (graph.Node, []graph.Connection) {
	n, conns := e.Store.InsertLinked(c, e.Linker)
	if !c.SentAt.IsZero() {
		if lag := n.CreatedAt.Sub(c.SentAt); lag >= 0 {
			metrics.EventLag.Observe(lag.Seconds())
		}
	}
	e.publishStats()
	return n, conns
}

func (e *Engine) seedFrom(in *decode.Init) {
	// Supplied ids may be replaced on collision, so connections are
	// resolved through the ids actually stored.
	ids := make(map[string]string, len(in.Nodes))
	for _, c := range in.Nodes {
		n := e.Store.InsertNode(c)
		if c.ID != "" {
			ids[c.ID] = n.ID
		}
	}
	var linked int
	for _, cs := range in.Connections {
		from, ok1 := ids[cs.FromID]
		to, ok2 := ids[cs.ToID]
		if !ok1 || !ok2 {
			continue
		}
		if _, ok := e.Store.InsertConnection(from, to, cs.Weight, cs.Kind); ok {
			linked++
		}
	}
	if in.Skipped > 0 {
		log.Printf("engine: init: skipped %d malformed entries", in.Skipped)
	}
	log.Printf("engine: init: %d nodes, %d connections", len(in.Nodes), linked)
	e.publishStats()
}

// Seed inserts up to n synthetic nodes into an empty graph.
func (e *Engine) Seed(n int) int {
	if n <= 0 || len(e.Store.Snapshot().Nodes) > 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		e.Store.InsertLinked(e.Generator.Candidate(), e.Linker)
	}
	e.publishStats()
	return n
}

func (e *Engine) reject(source string, raw []byte, err error) {
	metrics.EventsTotal.WithLabelValues(metrics.ResultRejected).Inc()
	log.Printf("engine: dropped %s message: %v", source, err)
	if e.DB == nil {
		return
	}
	if dbErr := e.DB.RecordReject(source, err.Error(), string(raw)); dbErr != nil {
		log.Printf("engine: record reject: %v", dbErr)
	}
}

// Snapshot returns a copy of the graph.
func (e *Engine) Snapshot() graph.Snapshot { return e.Store.Snapshot() }

// Stats computes stats from a fresh snapshot.
func (e *Engine) Stats() graph.Stats { return graph.ComputeStats(e.Store.Snapshot()) }

// Click converts a view-space pointer position and updates the selection.
func (e *Engine) Click(p interact.Point, view interact.Viewport) (graph.Node, bool) {
	w, h := e.Loop.Size()
	return e.Selection.Click(e.Store.Snapshot(), interact.ToLocal(p, view, w, h))
}

// Selected returns the currently selected node, if it still exists.
func (e *Engine) Selected() (graph.Node, bool) {
	return e.Selection.Current(e.Store.Snapshot())
}

// Pause stops rendering and stream ingestion.
func (e *Engine) Pause() bool { return e.Loop.Pause() }

// Resume restarts rendering and stream ingestion.
func (e *Engine) Resume() bool { return e.Loop.Resume() }

// State reports the render loop state.
func (e *Engine) State() render.State { return e.Loop.State() }

// Resize changes the surface size between frames.
func (e *Engine) Resize(w, h int) { e.Loop.Resize(w, h) }

// StreamConnected reports whether the upstream subscription is connected.
func (e *Engine) StreamConnected() bool {
	return e.source != nil && e.source.Connected()
}

func (e *Engine) onStateChange(s render.State) {
	log.Printf("engine: render loop %s", s)
	if e.source == nil {
		return
	}
	e.mu.Lock()
	ctx, started := e.ctx, e.started
	e.mu.Unlock()
	if !started {
		return
	}
	switch s {
	case render.StatePaused:
		e.source.Stop()
	case render.StateRunning:
		e.source.Start(ctx)
	}
}

// Subscribe returns a channel that receives stats after every graph
// mutation. Slow readers only see the latest value. Call the returned func
// to unsubscribe.
func (e *Engine) Subscribe() (<-chan graph.Stats, func()) {
	ch := make(chan graph.Stats, 1)

	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

func (e *Engine) publishStats() {
	st := e.Stats()
	metrics.ObserveStats(st)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- st:
		default:
			// Replace the stale value.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func (e *Engine) runSampler(ctx context.Context, done chan struct{}) {
	defer close(done)
	if e.DB == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(e.cfg.Stats.SampleInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.SampleStats(); err != nil {
				log.Printf("engine: sample stats: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SampleStats records the current stats and prunes samples past retention.
func (e *Engine) SampleStats() error {
	if e.DB == nil {
		return errors.New("no database")
	}
	now := e.clock()
	if err := e.DB.RecordStats(e.Stats(), now); err != nil {
		return err
	}
	if _, err := e.DB.PruneStats(now.Add(-e.cfg.Stats.Retention())); err != nil {
		return err
	}
	return nil
}

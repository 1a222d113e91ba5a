package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/heatmap/internal/config"
	"github.com/lazypower/heatmap/internal/decode"
	"github.com/lazypower/heatmap/internal/graph"
	"github.com/lazypower/heatmap/internal/interact"
	"github.com/lazypower/heatmap/internal/render"
	"github.com/lazypower/heatmap/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEngine builds an unstarted engine with no seeding and a fixed seed.
func testEngine(t *testing.T, mutate func(*config.Config)) (*Engine, *fakeClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.SeedCount = 0
	cfg.Engine.Seed = 42
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e := New(cfg, Options{DB: testDB(t), Clock: clock.Now})
	t.Cleanup(e.Stop)
	return e, clock
}

const txMsg = `{"type":"transaction","data":{"x":100,"y":100,"magnitude":42,"category":"mint","origin":"0xabc"}}`

func TestHandleTransaction(t *testing.T) {
	e, _ := testEngine(t, nil)

	if err := e.HandleMessage(SourceHTTP, []byte(txMsg)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	snap := e.Snapshot()
	if len(snap.Nodes) != 1 {
		t.Fatalf("len(Nodes) = %d, want 1", len(snap.Nodes))
	}
	n := snap.Nodes[0]
	if n.Intensity != graph.MaxIntensity || n.Category != graph.CategoryMint || n.Magnitude != 42 {
		t.Errorf("node = %+v", n)
	}
}

func TestHandleMalformedRecordsReject(t *testing.T) {
	e, _ := testEngine(t, nil)

	err := e.HandleMessage(SourceIngest, []byte(`{"type":"transaction","data":{"magnitude":-5,"origin":"w"}}`))
	if !errors.Is(err, decode.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if n := len(e.Snapshot().Nodes); n != 0 {
		t.Errorf("graph has %d nodes after a rejected message", n)
	}

	rejects, err := e.DB.RecentRejects(10)
	if err != nil {
		t.Fatalf("RecentRejects: %v", err)
	}
	if len(rejects) != 1 || rejects[0].Source != SourceIngest {
		t.Errorf("rejects = %+v, want one from ingest", rejects)
	}
}

func TestHandleUnknownTypeIgnored(t *testing.T) {
	e, _ := testEngine(t, nil)
	if err := e.HandleMessage(SourceStream, []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Errorf("HandleMessage: %v", err)
	}
	if n, _ := e.DB.CountRejects(); n != 0 {
		t.Errorf("rejects = %d, want 0 for an unknown type", n)
	}
}

func TestHandleInitSeedsGraph(t *testing.T) {
	e, _ := testEngine(t, nil)
	raw := `{"type":"init","data":{
		"nodes":[
			{"id":"a","x":1,"y":1,"magnitude":1,"origin":"w"},
			{"id":"b","x":2,"y":2,"magnitude":1,"origin":"w"}
		],
		"connections":[
			{"fromId":"a","toId":"b","weight":2},
			{"fromId":"a","toId":"missing"}
		]}}`
	if err := e.HandleMessage(SourceStream, []byte(raw)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	snap := e.Snapshot()
	if len(snap.Nodes) != 2 {
		t.Errorf("len(Nodes) = %d, want 2", len(snap.Nodes))
	}
	if len(snap.Connections) != 1 {
		t.Errorf("len(Connections) = %d, want 1 (the dangling seed is refused)", len(snap.Connections))
	}
}

func TestRenderWithFarSeededConnection(t *testing.T) {
	e, _ := testEngine(t, nil)
	raw := `{"type":"init","data":{
		"nodes":[
			{"id":"a","x":10,"y":10,"magnitude":1,"origin":"w"},
			{"id":"b","x":1e13,"y":10,"magnitude":1,"origin":"w"}
		],
		"connections":[{"fromId":"a","toId":"b"}]}}`
	if err := e.HandleMessage(SourceStream, []byte(raw)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if n := len(e.Snapshot().Connections); n != 1 {
		t.Fatalf("len(Connections) = %d, want 1", n)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Loop.RenderOnce()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RenderOnce did not return with a far off-surface connection")
	}

	// A position-less transaction needs the surface size; it must not block.
	if err := e.HandleMessage(SourceHTTP, []byte(`{"type":"transaction","data":{"magnitude":1,"origin":"w"}}`)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}

func TestCapacityThroughEngine(t *testing.T) {
	e, _ := testEngine(t, func(c *config.Config) { c.Engine.NodeCapacity = 5 })
	for i := 0; i < 12; i++ {
		e.Insert(e.Generator.Candidate())
	}
	if n := len(e.Snapshot().Nodes); n != 5 {
		t.Errorf("len(Nodes) = %d, want 5", n)
	}
}

func TestSchedulerDecayEvicts(t *testing.T) {
	e, _ := testEngine(t, nil)
	e.Insert(graph.Candidate{X: 1, Y: 1, Magnitude: 1, Origin: "w"})

	// 100 / 2 per tick = 50 ticks to zero.
	for i := 0; i < 49; i++ {
		if removed := e.Scheduler.DecayOnce(); removed != 0 {
			t.Fatalf("tick %d removed %d nodes early", i, removed)
		}
	}
	if removed := e.Scheduler.DecayOnce(); removed != 1 {
		t.Errorf("final tick removed %d, want 1", removed)
	}
	if n := len(e.Snapshot().Nodes); n != 0 {
		t.Errorf("len(Nodes) = %d, want 0", n)
	}
}

func TestSchedulerPruneUsesClock(t *testing.T) {
	e, clock := testEngine(t, nil)
	e.Store.InsertNode(graph.Candidate{ID: "a", Origin: "w"})
	e.Store.InsertNode(graph.Candidate{ID: "b", Origin: "w"})
	e.Store.InsertConnection("a", "b", 1, graph.KindToken)

	clock.Advance(29 * time.Second)
	if removed := e.Scheduler.PruneOnce(); removed != 0 {
		t.Errorf("removed %d before TTL", removed)
	}
	clock.Advance(2 * time.Second)
	if removed := e.Scheduler.PruneOnce(); removed != 1 {
		t.Errorf("removed %d after TTL, want 1", removed)
	}
}

func TestSchedulerTimersRun(t *testing.T) {
	e, _ := testEngine(t, func(c *config.Config) {
		c.Engine.DecayIntervalMs = 1
		c.Engine.DecayStepPerTick = 50
	})
	e.Insert(graph.Candidate{Origin: "w"})

	e.Scheduler.Start()
	e.Scheduler.Start()
	deadline := time.Now().Add(2 * time.Second)
	for len(e.Snapshot().Nodes) > 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	e.Scheduler.Stop()
	e.Scheduler.Stop()

	if n := len(e.Snapshot().Nodes); n != 0 {
		t.Errorf("len(Nodes) = %d after decay timers ran, want 0", n)
	}
}

func TestFrameCoupledDecay(t *testing.T) {
	e, _ := testEngine(t, func(c *config.Config) { c.Engine.FrameCoupledDecay = true })
	e.Insert(graph.Candidate{Origin: "w"})

	e.Loop.RenderOnce()
	e.Loop.RenderOnce()
	n := e.Snapshot().Nodes[0]
	if n.Intensity != 96 {
		t.Errorf("Intensity = %g after two frames, want 96", n.Intensity)
	}
}

func TestClickSelectsAndClears(t *testing.T) {
	e, _ := testEngine(t, nil)
	e.Insert(graph.Candidate{ID: "n", X: 100, Y: 100, Magnitude: 1, Origin: "w"})

	view := interact.Viewport{Width: 960, Height: 540}
	n, ok := e.Click(interact.Point{X: 100, Y: 100}, view)
	if !ok || n.ID != "n" {
		t.Fatalf("Click = %s,%v, want n,true", n.ID, ok)
	}
	if sel, ok := e.Selected(); !ok || sel.ID != "n" {
		t.Errorf("Selected = %s,%v", sel.ID, ok)
	}

	if _, ok := e.Click(interact.Point{X: 1100, Y: 100}, view); ok {
		t.Error("far click selected a node")
	}
	if _, ok := e.Selected(); ok {
		t.Error("selection survived a miss")
	}
}

func TestClickScalesViewport(t *testing.T) {
	e, _ := testEngine(t, nil)
	e.Insert(graph.Candidate{ID: "n", X: 200, Y: 200, Origin: "w"})

	// The surface is shown at half size, so (100,100) in view space is
	// (200,200) on the surface.
	if _, ok := e.Click(interact.Point{X: 100, Y: 100}, interact.Viewport{Width: 480, Height: 270}); !ok {
		t.Error("scaled click missed the node")
	}
}

func TestSubscribeReceivesStats(t *testing.T) {
	e, _ := testEngine(t, nil)
	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	e.HandleMessage(SourceHTTP, []byte(txMsg))
	e.HandleMessage(SourceHTTP, []byte(txMsg))

	select {
	case st := <-ch:
		// Only the latest value is kept for a slow reader.
		if st.NodeCount != 2 {
			t.Errorf("NodeCount = %d, want 2", st.NodeCount)
		}
	case <-time.After(time.Second):
		t.Fatal("no stats published")
	}

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestSampleStats(t *testing.T) {
	e, clock := testEngine(t, nil)
	e.HandleMessage(SourceHTTP, []byte(txMsg))

	if err := e.SampleStats(); err != nil {
		t.Fatalf("SampleStats: %v", err)
	}
	clock.Advance(25 * time.Hour)
	if err := e.SampleStats(); err != nil {
		t.Fatalf("SampleStats: %v", err)
	}

	samples, err := e.DB.RecentStats(10)
	if err != nil {
		t.Fatalf("RecentStats: %v", err)
	}
	if len(samples) != 1 {
		t.Errorf("len(samples) = %d, want 1 after retention prune", len(samples))
	}
}

func TestPauseResume(t *testing.T) {
	e, _ := testEngine(t, func(c *config.Config) {
		// Unroutable upstream; the subscriber just sits in backoff.
		c.Stream.URL = "ws://127.0.0.1:1/feed"
	})
	e.Start(context.Background())

	if !e.source.Running() {
		t.Fatal("stream not running after Start")
	}
	if !e.Pause() {
		t.Fatal("Pause reported no change")
	}
	if e.State() != render.StatePaused {
		t.Errorf("State = %s, want paused", e.State())
	}
	if e.source.Running() {
		t.Error("stream still running while paused")
	}

	if !e.Resume() {
		t.Fatal("Resume reported no change")
	}
	if !e.source.Running() {
		t.Error("stream not restarted on Resume")
	}
}

func TestConcurrentPauseResumeKeepsStreamInStep(t *testing.T) {
	e, _ := testEngine(t, func(c *config.Config) {
		c.Stream.URL = "ws://127.0.0.1:1/feed"
	})
	e.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); e.Pause() }()
		go func() { defer wg.Done(); e.Resume() }()
	}
	wg.Wait()

	running := e.State() == render.StateRunning
	if e.source.Running() != running {
		t.Errorf("stream running = %v, loop state = %s", e.source.Running(), e.State())
	}
	e.Resume()
	if !e.source.Running() {
		t.Error("stream not running after a final Resume")
	}
}

func TestStartSeedsAndStopIsIdempotent(t *testing.T) {
	e, _ := testEngine(t, func(c *config.Config) { c.Engine.SeedCount = 6 })
	e.Start(context.Background())
	e.Start(context.Background())

	if n := len(e.Snapshot().Nodes); n != 6 {
		t.Errorf("len(Nodes) = %d after seeding, want 6", n)
	}

	e.Stop()
	e.Stop()
}

func TestStopBeforeStart(t *testing.T) {
	e, _ := testEngine(t, nil)
	e.Stop()
}

func TestResizeKeepsGraph(t *testing.T) {
	e, _ := testEngine(t, nil)
	e.HandleMessage(SourceHTTP, []byte(txMsg))

	e.Resize(320, 200)
	e.Loop.RenderOnce()

	img, _, _ := e.Frames.Latest()
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 200 {
		t.Errorf("frame = %v, want 320x200", b)
	}
	if n := len(e.Snapshot().Nodes); n != 1 {
		t.Errorf("len(Nodes) = %d after resize, want 1", n)
	}
}

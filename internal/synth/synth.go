// Package synth generates plausible-looking activity for demos, seeding an
// empty surface, and load testing a running server.
package synth

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lazypower/heatmap/internal/graph"
)

var weights = []struct {
	category graph.Category
	weight   float64
}{
	{graph.CategoryTransfer, 0.40},
	{graph.CategoryMint, 0.20},
	{graph.CategoryRedeem, 0.15},
	{graph.CategoryMessage, 0.15},
	{graph.CategoryOther, 0.10},
}

var labels = map[graph.Category][]string{
	graph.CategoryTransfer: {"transfer", "payout", "swap"},
	graph.CategoryMint:     {"mint", "airdrop"},
	graph.CategoryRedeem:   {"redeem", "burn"},
	graph.CategoryMessage:  {"gm", "hello", "ping"},
	graph.CategoryOther:    {"call", "vote"},
}

// Generator produces random events inside a w×h area. It is safe for
// concurrent use.
type Generator struct {
	mu   sync.Mutex
	rnd  graph.Rand
	w, h int
	now  func() time.Time
}

// New creates a generator for a w×h surface.
func New(rnd graph.Rand, w, h int) *Generator {
	return &Generator{rnd: rnd, w: max(w, 1), h: max(h, 1), now: time.Now}
}

// Candidate returns one random event, ready for insertion.
func (g *Generator) Candidate() graph.Candidate {
	g.mu.Lock()
	defer g.mu.Unlock()

	cat := g.category()
	opts := labels[cat]
	return graph.Candidate{
		X:         g.rnd.Float64() * float64(g.w),
		Y:         g.rnd.Float64() * float64(g.h),
		Magnitude: g.magnitude(),
		Category:  cat,
		Label:     opts[int(g.rnd.Float64()*float64(len(opts)))%len(opts)],
		Origin:    g.origin(),
	}
}

// Message returns one random event encoded as a transaction message.
func (g *Generator) Message() ([]byte, error) {
	c := g.Candidate()
	return json.Marshal(map[string]any{
		"type": "transaction",
		"data": map[string]any{
			"x":         round(c.X, 1),
			"y":         round(c.Y, 1),
			"magnitude": round(c.Magnitude, 2),
			"category":  c.Category,
			"label":     c.Label,
			"origin":    c.Origin,
			"timestamp": g.now().UnixMilli(),
		},
	})
}

// magnitude draws from a log-normal distribution: mostly small values with
// the occasional whale.
func (g *Generator) magnitude() float64 {
	u1 := math.Max(g.rnd.Float64(), 1e-12)
	u2 := g.rnd.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return math.Exp(3 + 1.5*z)
}

func (g *Generator) category() graph.Category {
	r := g.rnd.Float64()
	for _, w := range weights {
		if r < w.weight {
			return w.category
		}
		r -= w.weight
	}
	return graph.CategoryOther
}

func (g *Generator) origin() string {
	return fmt.Sprintf("0x%08x", uint32(g.rnd.Float64()*math.MaxUint32))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

package graph

import (
	"math"
	"math/rand"
	"sync"
)

// Rand is the randomness the linker draws from. *rand.Rand satisfies it;
// tests substitute a fixed sequence.
type Rand interface {
	Float64() float64
}

// NewRand returns a seeded source. A zero seed is replaced by one derived
// from the global generator.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
}

// LinkerConfig holds the proximity heuristics.
type LinkerConfig struct {
	Radius            float64 // max distance to a candidate neighbour
	AcceptProbability float64 // independent per-candidate acceptance
	MaxNeighbors      int     // neighbours recorded on the new node
	MaxLinks          int     // neighbours turned into connections
	WeightMin         float64
	WeightMax         float64
}

// DefaultLinkerConfig returns the stock heuristics.
func DefaultLinkerConfig() LinkerConfig {
	return LinkerConfig{
		Radius:            150,
		AcceptProbability: 0.3,
		MaxNeighbors:      3,
		MaxLinks:          2,
		WeightMin:         1,
		WeightMax:         3,
	}
}

// Link is a connection the linker wants created from the new node.
type Link struct {
	ToID   string
	Weight float64
	Kind   Kind
}

// Plan is the outcome of linking one new node.
type Plan struct {
	Neighbors []string
	Links     []Link
}

// Linker decides which existing nodes a new node connects to.
type Linker struct {
	cfg LinkerConfig

	mu  sync.Mutex
	rnd Rand
}

// NewLinker creates a linker drawing from rnd.
func NewLinker(cfg LinkerConfig, rnd Rand) *Linker {
	if rnd == nil {
		rnd = NewRand(0)
	}
	if cfg.WeightMax < cfg.WeightMin {
		cfg.WeightMax = cfg.WeightMin
	}
	return &Linker{cfg: cfg, rnd: rnd}
}

// Plan picks neighbours for a node at (x, y) among existing. Each node
// within the radius is accepted independently; the first MaxNeighbors
// accepted are recorded and the first MaxLinks of those become links.
// existing is only read during the call.
func (l *Linker) Plan(x, y float64, existing []Node) Plan {
	l.mu.Lock()
	defer l.mu.Unlock()

	var p Plan
	if l.cfg.MaxNeighbors <= 0 {
		return p
	}

	for _, n := range existing {
		if math.Hypot(n.X-x, n.Y-y) > l.cfg.Radius {
			continue
		}
		if l.rnd.Float64() >= l.cfg.AcceptProbability {
			continue
		}
		p.Neighbors = append(p.Neighbors, n.ID)
		if len(p.Neighbors) >= l.cfg.MaxNeighbors {
			break
		}
	}

	for i, id := range p.Neighbors {
		if i >= l.cfg.MaxLinks {
			break
		}
		weight := l.cfg.WeightMin + l.rnd.Float64()*(l.cfg.WeightMax-l.cfg.WeightMin)
		kind := KindToken
		if l.rnd.Float64() >= 0.5 {
			kind = KindValue
		}
		p.Links = append(p.Links, Link{ToID: id, Weight: weight, Kind: kind})
	}
	return p
}

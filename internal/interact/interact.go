// Package interact maps pointer input onto the activity graph.
package interact

import (
	"math"
	"sync"

	"github.com/lazypower/heatmap/internal/graph"
)

// DefaultHitRadius is the pick distance in surface pixels.
const DefaultHitRadius = 15.0

// Point is a position in either view or surface coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the displayed size of the surface, which may be scaled
// relative to its pixel size.
type Viewport struct {
	Width  float64 `json:"viewWidth"`
	Height float64 `json:"viewHeight"`
}

// ToLocal converts a pointer position in view space into surface-local
// coordinates. A zero viewport is treated as unscaled.
func ToLocal(p Point, view Viewport, surfaceW, surfaceH int) Point {
	if view.Width <= 0 || view.Height <= 0 {
		return p
	}
	return Point{
		X: p.X * float64(surfaceW) / view.Width,
		Y: p.Y * float64(surfaceH) / view.Height,
	}
}

// Pick returns the first node whose center lies strictly within radius of p.
func Pick(nodes []graph.Node, p Point, radius float64) (graph.Node, bool) {
	for _, n := range nodes {
		if math.Hypot(n.X-p.X, n.Y-p.Y) < radius {
			return n, true
		}
	}
	return graph.Node{}, false
}

// Selection tracks the node the user last clicked. It holds only an id and
// never touches the store; every read resolves the id against a snapshot.
type Selection struct {
	mu     sync.Mutex
	id     string
	radius float64
}

// NewSelection creates an empty selection with the given hit radius.
func NewSelection(radius float64) *Selection {
	if radius <= 0 {
		radius = DefaultHitRadius
	}
	return &Selection{radius: radius}
}

// Click selects the node under p, or clears the selection on a miss.
func (s *Selection) Click(snap graph.Snapshot, p Point) (graph.Node, bool) {
	n, ok := Pick(snap.Nodes, p, s.radius)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.id = n.ID
	} else {
		s.id = ""
	}
	return n, ok
}

// Current returns the selected node as it appears in snap. A selection whose
// node has been evicted reads as empty and is dropped.
func (s *Selection) Current(snap graph.Snapshot) (graph.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		return graph.Node{}, false
	}
	n, ok := snap.Node(s.id)
	if !ok {
		s.id = ""
	}
	return n, ok
}

// ID returns the selected id, empty when nothing is selected.
func (s *Selection) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Clear drops the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
}

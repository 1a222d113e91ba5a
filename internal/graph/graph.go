// Package graph holds the bounded activity graph: decaying nodes, short-lived
// flow connections between them, the proximity linker that creates those
// connections, and the summary statistics derived from a snapshot.
package graph

import (
	"strings"
	"time"
)

// MaxIntensity is the intensity every node starts with.
const MaxIntensity = 100.0

// Category classifies an activity node for rendering.
type Category string

const (
	CategoryMint     Category = "mint"
	CategoryTransfer Category = "transfer"
	CategoryRedeem   Category = "redeem"
	CategoryMessage  Category = "message"
	CategoryOther    Category = "other"
)

// Categories lists the closed set in display order.
var Categories = []Category{CategoryMint, CategoryTransfer, CategoryRedeem, CategoryMessage, CategoryOther}

// ParseCategory maps a free-form category onto the closed set.
// Unknown and empty values land in CategoryOther.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryMint, CategoryTransfer, CategoryRedeem, CategoryMessage:
		return c
	default:
		return CategoryOther
	}
}

// Kind is the flavour of a flow connection. It only affects rendering.
type Kind string

const (
	KindToken Kind = "token"
	KindValue Kind = "value"
)

// ParseKind maps a free-form kind onto token/value, defaulting to token.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "value", "value_flow", "value-flow":
		return KindValue
	default:
		return KindToken
	}
}

// Node is one ingested event drawn as a graph vertex.
type Node struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Magnitude float64   `json:"magnitude"`
	Category  Category  `json:"category"`
	Label     string    `json:"label"`
	Origin    string    `json:"origin"`
	Intensity float64   `json:"intensity"`
	CreatedAt time.Time `json:"createdAt"`
	// LinkedIDs records the neighbours accepted by the linker. Connections
	// remain the source of truth; these ids may refer to evicted nodes.
	LinkedIDs []string `json:"linkedIds,omitempty"`
}

// Connection is an edge between two nodes, held as an id pair so a node
// eviction can never leave a dangling pointer behind.
type Connection struct {
	FromID    string    `json:"fromId"`
	ToID      string    `json:"toId"`
	Weight    float64   `json:"weight"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Opacity returns the connection's visible opacity in [0,1], fading
// linearly from 1 at creation to 0 once ttl has elapsed.
func (c Connection) Opacity(now time.Time, ttl time.Duration) float64 {
	if ttl <= 0 {
		return 0
	}
	age := now.Sub(c.CreatedAt)
	if age <= 0 {
		return 1
	}
	o := 1 - float64(age)/float64(ttl)
	if o < 0 {
		return 0
	}
	return o
}

// Candidate is a validated, not-yet-stored node.
type Candidate struct {
	ID        string // optional; generated when empty or already taken
	X, Y      float64
	Magnitude float64
	Category  Category
	Label     string
	Origin    string
	SentAt    time.Time // producer timestamp when supplied; informational
}

// Snapshot is a deep copy of the store contents. Callers own it.
type Snapshot struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	TakenAt     time.Time    `json:"takenAt"`
}

// Node looks up a node by id.
func (s Snapshot) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// EvictReason says why nodes or connections left the store.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictDecay    EvictReason = "decay"
	EvictTTL      EvictReason = "ttl"
	EvictDangling EvictReason = "dangling"
)

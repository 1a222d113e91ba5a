package graph

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultNodeCapacity       = 30
	DefaultConnectionCapacity = 50
)

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	NodeCapacity       int
	ConnectionCapacity int
	// Clock stamps CreatedAt on insert. Defaults to time.Now.
	Clock func() time.Time
	// OnEvict is called outside the lock with the number of items removed.
	OnEvict func(reason EvictReason, count int)
}

// Store is the bounded, insertion-ordered collection of nodes and
// connections. The mutators form one critical section; Snapshot may run
// concurrently with other snapshots but not with a mutator.
type Store struct {
	mu    sync.RWMutex
	opts  Options
	nodes []Node
	conns []Connection
	live  map[string]struct{}
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.NodeCapacity < 1 {
		opts.NodeCapacity = DefaultNodeCapacity
	}
	if opts.ConnectionCapacity < 1 {
		opts.ConnectionCapacity = DefaultConnectionCapacity
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{
		opts:  opts,
		nodes: make([]Node, 0, opts.NodeCapacity),
		conns: make([]Connection, 0, opts.ConnectionCapacity),
		live:  make(map[string]struct{}, opts.NodeCapacity),
	}
}

// InsertNode stores a new node at full intensity, evicting the oldest node
// first when the store is at capacity.
func (s *Store) InsertNode(c Candidate) Node {
	s.mu.Lock()
	n, evicted := s.insertNodeLocked(c, nil)
	s.mu.Unlock()

	s.report(EvictCapacity, evicted)
	return n
}

// InsertLinked inserts a node and runs the linker against the nodes that
// existed at insertion time, all inside one critical section. It returns the
// stored node and the connections that were materialized.
func (s *Store) InsertLinked(c Candidate, l *Linker) (Node, []Connection) {
	s.mu.Lock()
	evicted := s.evictNodesLocked(1)
	plan := l.Plan(c.X, c.Y, s.nodes)
	n, more := s.insertNodeLocked(c, plan.Neighbors)
	evicted += more

	var made []Connection
	var droppedConns int
	for _, link := range plan.Links {
		conn, ok, dropped := s.insertConnectionLocked(n.ID, link.ToID, link.Weight, link.Kind)
		droppedConns += dropped
		if ok {
			made = append(made, conn)
		}
	}
	s.mu.Unlock()

	s.report(EvictCapacity, evicted+droppedConns)
	return n, made
}

// InsertConnection adds an edge between two live nodes. It is a no-op
// returning false when either endpoint is absent.
func (s *Store) InsertConnection(fromID, toID string, weight float64, kind Kind) (Connection, bool) {
	s.mu.Lock()
	c, ok, dropped := s.insertConnectionLocked(fromID, toID, weight, kind)
	s.mu.Unlock()

	s.report(EvictCapacity, dropped)
	return c, ok
}

// DecayTick lowers every node's intensity by amount, clamped at zero, and
// removes the nodes that reach zero in the same tick. Negative amounts are
// treated as zero so intensity never rises.
func (s *Store) DecayTick(amount float64) int {
	if amount < 0 || math.IsNaN(amount) {
		amount = 0
	}

	s.mu.Lock()
	kept := s.nodes[:0]
	removed := 0
	for _, n := range s.nodes {
		n.Intensity = math.Max(0, n.Intensity-amount)
		if n.Intensity <= 0 {
			delete(s.live, n.ID)
			removed++
			continue
		}
		kept = append(kept, n)
	}
	// Clear the tail so removed nodes do not linger in the backing array.
	for i := len(kept); i < len(s.nodes); i++ {
		s.nodes[i] = Node{}
	}
	s.nodes = kept
	s.mu.Unlock()

	s.report(EvictDecay, removed)
	return removed
}

// PruneExpiredConnections drops connections older than ttl and connections
// whose endpoints no longer exist. It returns the total removed.
func (s *Store) PruneExpiredConnections(ttl time.Duration, now time.Time) int {
	s.mu.Lock()
	kept := s.conns[:0]
	expired, dangling := 0, 0
	for _, c := range s.conns {
		if now.Sub(c.CreatedAt) > ttl {
			expired++
			continue
		}
		if !s.hasLocked(c.FromID) || !s.hasLocked(c.ToID) {
			dangling++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = Connection{}
	}
	s.conns = kept
	s.mu.Unlock()

	s.report(EvictTTL, expired)
	s.report(EvictDangling, dangling)
	return expired + dangling
}

// Snapshot returns a deep copy of the current nodes and connections.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nodes:       make([]Node, len(s.nodes)),
		Connections: make([]Connection, len(s.conns)),
		TakenAt:     s.opts.Clock(),
	}
	copy(snap.Nodes, s.nodes)
	for i := range snap.Nodes {
		if ids := snap.Nodes[i].LinkedIDs; ids != nil {
			snap.Nodes[i].LinkedIDs = append([]string(nil), ids...)
		}
	}
	copy(snap.Connections, s.conns)
	return snap
}

// Has reports whether a node with the given id is currently stored.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasLocked(id)
}

// Capacity returns the configured node and connection capacities.
func (s *Store) Capacity() (nodes, connections int) {
	return s.opts.NodeCapacity, s.opts.ConnectionCapacity
}

func (s *Store) hasLocked(id string) bool {
	_, ok := s.live[id]
	return ok
}

// evictNodesLocked makes room for `room` new nodes by dropping the oldest.
func (s *Store) evictNodesLocked(room int) int {
	evicted := 0
	for len(s.nodes) > 0 && len(s.nodes)+room > s.opts.NodeCapacity {
		delete(s.live, s.nodes[0].ID)
		copy(s.nodes, s.nodes[1:])
		s.nodes[len(s.nodes)-1] = Node{}
		s.nodes = s.nodes[:len(s.nodes)-1]
		evicted++
	}
	return evicted
}

func (s *Store) insertNodeLocked(c Candidate, linked []string) (Node, int) {
	evicted := s.evictNodesLocked(1)
	now := s.opts.Clock()

	id := c.ID
	if id == "" || s.hasLocked(id) {
		id = newNodeID()
	}

	n := Node{
		ID:        id,
		X:         c.X,
		Y:         c.Y,
		Magnitude: math.Max(0, c.Magnitude),
		Category:  c.Category,
		Label:     c.Label,
		Origin:    c.Origin,
		Intensity: MaxIntensity,
		CreatedAt: now,
	}
	if n.Category == "" {
		n.Category = CategoryOther
	}
	if len(linked) > 0 {
		n.LinkedIDs = append([]string(nil), linked...)
	}

	s.nodes = append(s.nodes, n)
	s.live[id] = struct{}{}

	out := n
	if n.LinkedIDs != nil {
		out.LinkedIDs = append([]string(nil), n.LinkedIDs...)
	}
	return out, evicted
}

func (s *Store) insertConnectionLocked(fromID, toID string, weight float64, kind Kind) (Connection, bool, int) {
	if !s.hasLocked(fromID) || !s.hasLocked(toID) {
		return Connection{}, false, 0
	}

	dropped := 0
	for len(s.conns) >= s.opts.ConnectionCapacity {
		copy(s.conns, s.conns[1:])
		s.conns[len(s.conns)-1] = Connection{}
		s.conns = s.conns[:len(s.conns)-1]
		dropped++
	}

	if weight < 0 || math.IsNaN(weight) {
		weight = 0
	}
	if kind == "" {
		kind = KindToken
	}
	c := Connection{
		FromID:    fromID,
		ToID:      toID,
		Weight:    weight,
		Kind:      kind,
		CreatedAt: s.opts.Clock(),
	}
	s.conns = append(s.conns, c)
	return c, true, dropped
}

func (s *Store) report(reason EvictReason, count int) {
	if count > 0 && s.opts.OnEvict != nil {
		s.opts.OnEvict(reason, count)
	}
}

// newNodeID returns a time-ordered id (UUIDv7: millisecond timestamp plus
// random bits).
func newNodeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

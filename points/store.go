package points

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"

	"github.com/kwv/tapmesh/mesh"
)

// Store is the persistent reference point set consulted and extended by a
// Resolver. Implementations must serialize CommitBatch and must never
// overwrite an existing point from it.
type Store interface {
	// FindNear returns the nearest point strictly closer than threshold.
	FindNear(pos mesh.Point, threshold float64) (Point, bool, error)
	Create(pos mesh.Point, roles []Role, locked bool) (string, error)
	AddRole(id string, role Role) error
	CommitBatch(batch []Point) error
	Get(id string) (Point, error)
	All() ([]Point, error)
}

// mapBound covers any plausible map pixel coordinate.
var mapBound = orb.Bound{Min: orb.Point{-1e7, -1e7}, Max: orb.Point{1e7, 1e7}}

// indexed adapts a point id to orb.Pointer for the quadtree.
type indexed struct {
	id string
	p  orb.Point
}

func (i *indexed) Point() orb.Point { return i.p }

func toOrb(p mesh.Point) orb.Point { return orb.Point{p.X, p.Y} }

// MemoryStore is an in-memory Store backed by a quadtree for proximity
// lookups. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]*Point
	order  []string
	tree   *quadtree.Quadtree
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		points: make(map[string]*Point),
		tree:   quadtree.New(mapBound),
	}
}

func (s *MemoryStore) FindNear(pos mesh.Point, threshold float64) (Point, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := toOrb(pos)
	found := s.tree.KNearest(nil, target, 1, threshold)
	if len(found) == 0 {
		return Point{}, false, nil
	}
	hit := found[0].(*indexed)
	if planar.Distance(hit.p, target) >= threshold {
		return Point{}, false, nil
	}
	return s.points[hit.id].clone(), true, nil
}

func (s *MemoryStore) Create(pos mesh.Point, roles []Role, locked bool) (string, error) {
	p := NewPoint(pos, roles, locked)
	if err := s.CommitBatch([]Point{p}); err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *MemoryStore) AddRole(id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.points[id]
	if !ok {
		return fmt.Errorf("add role %q to %s: %w", role, id, ErrPointNotFound)
	}
	p.AddRole(role)
	return nil
}

// CommitBatch adds every point in batch or none of them.
func (s *MemoryStore) CommitBatch(batch []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(batch))
	for _, p := range batch {
		if _, exists := s.points[p.ID]; exists || seen[p.ID] {
			return fmt.Errorf("commit %s: %w", p.ID, ErrDuplicatePoint)
		}
		if !mapBound.Contains(toOrb(p.Position)) {
			return fmt.Errorf("commit %s: position %v outside map bounds", p.ID, p.Position)
		}
		seen[p.ID] = true
	}

	for _, p := range batch {
		cp := p.clone()
		s.points[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
		// Bounds were checked above.
		_ = s.tree.Add(&indexed{id: cp.ID, p: toOrb(cp.Position)})
	}
	return nil
}

func (s *MemoryStore) Get(id string) (Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.points[id]
	if !ok {
		return Point{}, fmt.Errorf("get %s: %w", id, ErrPointNotFound)
	}
	return p.clone(), nil
}

// All returns points in insertion order.
func (s *MemoryStore) All() ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Point, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.points[id].clone())
	}
	return out, nil
}

// Move relocates an unlocked point.
func (s *MemoryStore) Move(id string, pos mesh.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.points[id]
	if !ok {
		return fmt.Errorf("move %s: %w", id, ErrPointNotFound)
	}
	if p.Locked {
		return fmt.Errorf("move %s: point is locked", id)
	}
	if !mapBound.Contains(toOrb(pos)) {
		return fmt.Errorf("move %s: position %v outside map bounds", id, pos)
	}
	s.tree.Remove(&indexed{id: id, p: toOrb(p.Position)}, matchID(id))
	p.Position = pos
	_ = s.tree.Add(&indexed{id: id, p: toOrb(pos)})
	return nil
}

// Delete removes a point.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.points[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrPointNotFound)
	}
	s.tree.Remove(&indexed{id: id, p: toOrb(p.Position)}, matchID(id))
	delete(s.points, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored points.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func matchID(id string) quadtree.FilterFunc {
	return func(p orb.Pointer) bool {
		return p.(*indexed).id == id
	}
}

// Save writes the store to a JSON file.
func (s *MemoryStore) Save(path string) error {
	all, _ := s.All()
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal points: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create points directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write points file: %w", err)
	}
	return nil
}

// LoadMemoryStore reads a store written by Save.
func LoadMemoryStore(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read points file: %w", err)
	}
	var all []Point
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("unmarshal points file: %w", err)
	}
	s := NewMemoryStore()
	if err := s.CommitBatch(all); err != nil {
		return nil, err
	}
	log.Printf("[STORE] loaded %d reference points from %s", len(all), path)
	return s, nil
}

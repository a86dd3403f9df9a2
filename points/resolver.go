package points

import (
	"fmt"
	"log"
	"math"

	"github.com/kwv/tapmesh/mesh"
)

// cellKey is a position quantized to whole pixels.
type cellKey struct {
	X, Y int
}

func quantize(p mesh.Point) cellKey {
	return cellKey{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

type batchEntry struct {
	id  string
	pos mesh.Point
}

// ResolveStats counts how each Resolve call in the current batch was answered.
type ResolveStats struct {
	Created         int `json:"created"`
	ReusedInBatch   int `json:"reusedInBatch"`
	ReusedFromStore int `json:"reusedFromStore"`
}

// Resolver maps raw coordinates onto reference point identifiers for one
// batch at a time. New points stay pending until Commit. A Resolver is not
// safe for concurrent use; run independent batches on separate resolvers.
type Resolver struct {
	store     Store
	threshold float64

	keys    map[cellKey]string
	entries []batchEntry
	pending []Point
	stats   ResolveStats
}

// NewResolver creates a resolver that merges points closer than
// thresholdPixels.
func NewResolver(store Store, thresholdPixels float64) *Resolver {
	r := &Resolver{store: store, threshold: thresholdPixels}
	r.Reset()
	return r
}

// NewResolverMeters derives the pixel threshold from a distance in meters.
func NewResolverMeters(store Store, thresholdMeters, pixelsPerMeter float64) *Resolver {
	return NewResolver(store, mesh.MapScale{PixelsPerMeter: pixelsPerMeter}.Pixels(thresholdMeters))
}

// Threshold returns the merge distance in pixels.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve returns the identifier for pos, in order of preference: an exact
// quantized match earlier in the batch, a batch point within threshold, a
// store point within threshold (which gains roles), or a new locked point
// pending commit. With no roles given, RoleZoneCorner is used.
func (r *Resolver) Resolve(pos mesh.Point, roles ...Role) (string, error) {
	return r.resolve(pos, true, roles)
}

// ResolveUnlocked is Resolve for manually placed positions: a point created
// by the call is left unlocked. Existing points keep their lock state.
func (r *Resolver) ResolveUnlocked(pos mesh.Point, roles ...Role) (string, error) {
	return r.resolve(pos, false, roles)
}

func (r *Resolver) resolve(pos mesh.Point, locked bool, roles []Role) (string, error) {
	if len(roles) == 0 {
		roles = []Role{RoleZoneCorner}
	}
	key := quantize(pos)
	if id, ok := r.keys[key]; ok {
		r.stats.ReusedInBatch++
		return id, nil
	}

	for _, e := range r.entries {
		if mesh.Distance(pos, e.pos) < r.threshold {
			r.keys[key] = e.id
			r.stats.ReusedInBatch++
			log.Printf("[RESOLVER] batch proximity match for %v -> %s", pos, short(e.id))
			return e.id, nil
		}
	}

	existing, found, err := r.store.FindNear(pos, r.threshold)
	if err != nil {
		return "", fmt.Errorf("resolve %v: %w", pos, err)
	}
	if found {
		for _, role := range roles {
			if err := r.store.AddRole(existing.ID, role); err != nil {
				return "", fmt.Errorf("resolve %v: %w", pos, err)
			}
		}
		r.remember(key, existing.ID, existing.Position)
		r.stats.ReusedFromStore++
		log.Printf("[RESOLVER] matched existing point %s for %v", short(existing.ID), pos)
		return existing.ID, nil
	}

	p := NewPoint(pos, roles, locked)
	r.pending = append(r.pending, p)
	r.remember(key, p.ID, pos)
	r.stats.Created++
	log.Printf("[RESOLVER] created point %s at %v", short(p.ID), pos)
	return p.ID, nil
}

// ResolveAll resolves positions in order. On error the batch keeps whatever
// was resolved before the failure.
func (r *Resolver) ResolveAll(positions []mesh.Point, roles ...Role) ([]string, error) {
	ids := make([]string, len(positions))
	for i, pos := range positions {
		id, err := r.Resolve(pos, roles...)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Position returns the canonical position of an id resolved in this batch:
// where the pending point will be created, or where the matched store point
// already is.
func (r *Resolver) Position(id string) (mesh.Point, bool) {
	for _, e := range r.entries {
		if e.id == id {
			return e.pos, true
		}
	}
	return mesh.Point{}, false
}

func (r *Resolver) remember(key cellKey, id string, pos mesh.Point) {
	r.keys[key] = id
	r.entries = append(r.entries, batchEntry{id: id, pos: pos})
}

// Commit writes pending points to the store in one batch and clears the batch
// state. If the store rejects the batch, the batch is left untouched.
func (r *Resolver) Commit() (int, error) {
	n := len(r.pending)
	if n > 0 {
		if err := r.store.CommitBatch(r.pending); err != nil {
			return 0, fmt.Errorf("commit %d pending points: %w", n, err)
		}
		log.Printf("[RESOLVER] committed %d new point(s)", n)
	}
	r.Reset()
	return n, nil
}

// Rollback discards pending points and the batch cache.
func (r *Resolver) Rollback() {
	if n := len(r.pending); n > 0 {
		log.Printf("[RESOLVER] rolled back %d pending point(s)", n)
	}
	r.Reset()
}

// Reset prepares the resolver for an unrelated batch.
func (r *Resolver) Reset() {
	r.keys = make(map[cellKey]string)
	r.entries = nil
	r.pending = nil
	r.stats = ResolveStats{}
}

// Pending returns copies of the points awaiting commit.
func (r *Resolver) Pending() []Point {
	out := make([]Point, len(r.pending))
	for i, p := range r.pending {
		out[i] = p.clone()
	}
	return out
}

// PendingCount is the number of points awaiting commit.
func (r *Resolver) PendingCount() int {
	return len(r.pending)
}

// ResolvedCount is the number of distinct quantized positions resolved in
// this batch.
func (r *Resolver) ResolvedCount() int {
	return len(r.keys)
}

// Stats reports how this batch's resolutions were answered.
func (r *Resolver) Stats() ResolveStats {
	return r.stats
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

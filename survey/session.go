package survey

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kwv/tapmesh/mesh"
	"github.com/kwv/tapmesh/points"
	"github.com/kwv/tapmesh/signal"
)

// DefaultTickInterval is how often Run checks the scan deadline.
const DefaultTickInterval = 250 * time.Millisecond

// Result is everything produced by one finished scan.
type Result struct {
	Record  *signal.ScanRecord
	Export  signal.ExportV1
	Summary signal.Summary
}

// Sink consumes finished scans. Sink errors are logged, never fatal.
type Sink interface {
	HandleResult(res *Result) error
}

// ScanStatus describes the scan window.
type ScanStatus struct {
	Scanning         bool    `json:"scanning"`
	PointID          string  `json:"pointId,omitempty"`
	SecondsRemaining float64 `json:"secondsRemaining"`
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSink adds a consumer for finished scans.
func WithSink(sink Sink) SessionOption {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// WithClock replaces time.Now for scan timing.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithHeading supplies the device heading captured at the start of each
// scan. The configured north offset and fine-tune are added to it.
func WithHeading(fn signal.HeadingFunc) SessionOption {
	return func(s *Session) { s.heading = fn }
}

// WithTickInterval sets how often Run checks the deadline.
func WithTickInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.tick = d
		}
	}
}

// Session is one survey: the mesh, the reference points behind it, and the
// signal scans recorded at those points. All methods are safe for concurrent
// use.
type Session struct {
	ID string

	cfg     *Config
	store   points.Store
	agg     *signal.Aggregator
	sinks   []Sink
	now     func() time.Time
	heading signal.HeadingFunc
	tick    time.Duration

	mu        sync.RWMutex
	resolver  *points.Resolver
	cells     []*mesh.Cell
	projector *mesh.Projector
	records   map[string][]*signal.ScanRecord
}

// NewSession creates a session over store.
func NewSession(cfg *Config, store points.Store, opts ...SessionOption) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		tick:    DefaultTickInterval,
		records: make(map[string][]*signal.ScanRecord),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.resolver = points.NewResolverMeters(store, cfg.Survey.DedupThresholdMeters, cfg.Survey.PixelsPerMeter)
	s.projector = mesh.NewProjector(nil, cfg.Survey.BoundaryEpsilon)

	aggOpts := []signal.Option{
		signal.WithBinning(cfg.Histogram.MinDbm, cfg.Histogram.MaxDbm, cfg.Histogram.BinSizeDb),
		signal.WithExclusion(cfg.Excluded),
		signal.WithMeta(cfg.Meta),
		signal.WithClock(s.now),
	}
	if s.heading != nil {
		aggOpts = append(aggOpts, signal.WithHeading(s.heading, cfg.Survey.NorthOffsetDeg, cfg.Survey.FineTuneDeg))
	}
	s.agg = signal.NewAggregator(aggOpts...)
	return s
}

// Config returns the session configuration.
func (s *Session) Config() *Config { return s.cfg }

// ImportMesh resolves every vertex of defs to a reference point in a single
// batch and builds the cells on the canonical positions of those points, so
// cells sharing a point share its corner exactly. Either every cell is
// imported or, on any invalid cell or store failure, none is.
func (s *Session) ImportMesh(defs []mesh.CellDefinition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells := make([]*mesh.Cell, 0, len(defs))
	for _, def := range defs {
		cell, err := s.resolveCell(def)
		if err != nil {
			s.resolver.Rollback()
			return 0, err
		}
		cells = append(cells, cell)
	}

	created, err := s.resolver.Commit()
	if err != nil {
		s.resolver.Rollback()
		return 0, fmt.Errorf("committing mesh points: %w", err)
	}

	next := make([]*mesh.Cell, 0, len(s.cells)+len(cells))
	next = append(append(next, s.cells...), cells...)
	s.cells = next
	s.projector = mesh.NewProjector(s.cells, s.cfg.Survey.BoundaryEpsilon)
	log.Printf("[MESH] imported %d cell(s), %d new point(s), %d total cell(s)", len(cells), created, len(s.cells))
	return len(cells), nil
}

func (s *Session) resolveCell(def mesh.CellDefinition) (*mesh.Cell, error) {
	ids, err := s.resolver.ResolveAll(def.Vertices, points.RoleMeshVertex)
	if err != nil {
		return nil, fmt.Errorf("resolving cell %q: %w", def.Name, err)
	}

	canon := mesh.CellDefinition{Name: def.Name, Vertices: make([]mesh.Point, len(ids)), Anchors: def.Anchors}
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("cell %q collapses: two vertices resolve to point %s", def.Name, id)
		}
		seen[id] = true
		pos, ok := s.resolver.Position(id)
		if !ok {
			return nil, fmt.Errorf("cell %q: no position for point %s", def.Name, id)
		}
		canon.Vertices[i] = pos
	}

	cell, ok := mesh.NewCell(canon, ids)
	if !ok {
		return nil, fmt.Errorf("cell %q is not a valid triangle or quad", def.Name)
	}
	return cell, nil
}

// Anchor gives a reference point a 3D position in every cell that uses it,
// and returns how many cells changed. Changed cells are replaced by edited
// copies; cells already handed out by Cells are never modified.
func (s *Session) Anchor(pointID string, world r3.Vec) (int, error) {
	if _, err := s.store.Get(pointID); err != nil {
		return 0, fmt.Errorf("anchoring %s: %w", pointID, err)
	}
	if err := s.store.AddRole(pointID, points.RoleAnchor); err != nil {
		return 0, fmt.Errorf("anchoring %s: %w", pointID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*mesh.Cell, len(s.cells))
	n := 0
	for i, c := range s.cells {
		next[i] = c
		if !c.HasPoint(pointID) {
			continue
		}
		cp := c.Clone()
		if cp.SetAnchorByID(pointID, world) {
			next[i] = cp
			n++
		}
	}
	if n > 0 {
		s.cells = next
		s.projector = mesh.NewProjector(s.cells, s.cfg.Survey.BoundaryEpsilon)
	}
	return n, nil
}

// PlacePoint resolves a manually placed position and commits it at once. A
// point created this way is not locked.
func (s *Session) PlacePoint(pos mesh.Point, roles ...points.Role) (points.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.resolver.ResolveUnlocked(pos, roles...)
	if err != nil {
		s.resolver.Rollback()
		return points.Point{}, fmt.Errorf("placing point at %s: %w", pos, err)
	}
	if _, err := s.resolver.Commit(); err != nil {
		s.resolver.Rollback()
		return points.Point{}, fmt.Errorf("placing point at %s: %w", pos, err)
	}
	return s.store.Get(id)
}

// Points lists every reference point.
func (s *Session) Points() ([]points.Point, error) {
	return s.store.All()
}

// Cells returns the imported cells. The cells must not be modified; they are
// shared with the projector.
func (s *Session) Cells() []*mesh.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*mesh.Cell(nil), s.cells...)
}

// Project maps a map position into the reference frame. exact is false when
// the position lies outside every anchored cell and the ground-plane fit was
// used instead.
func (s *Session) Project(pos mesh.Point) (v r3.Vec, exact, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projector.Estimate(pos)
}

// Fill returns survey points covering the mesh at the configured spacing.
func (s *Session) Fill() []mesh.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projector.Fill(s.cfg.Survey.FillSpacingMeters, s.cfg.Survey.PixelsPerMeter)
}

// StartScan opens a scan window at an existing reference point.
func (s *Session) StartScan(pointID string) error {
	p, err := s.store.Get(pointID)
	if err != nil {
		return fmt.Errorf("starting scan: %w", err)
	}
	m := s.cfg.Survey.Scale().ToMeters(p.Position)
	ref := signal.PointRef{
		PointID:      p.ID,
		XPx:          p.Position.X,
		YPx:          p.Position.Y,
		XM:           m.X,
		YM:           m.Y,
		DeviceHeight: s.cfg.Survey.DeviceHeightMeters,
		SessionID:    s.ID,
	}
	return s.agg.StartWindow(ref, s.cfg.Survey.Window())
}

// CancelScan discards the open window.
func (s *Session) CancelScan() bool {
	return s.agg.CancelWindow()
}

// FinishScan closes the open window before its deadline.
func (s *Session) FinishScan() (*Result, error) {
	rec, err := s.agg.FinishWindow()
	if err != nil {
		return nil, err
	}
	return s.complete(rec), nil
}

// Ingest feeds one sample to the open window.
func (s *Session) Ingest(sample Sample) bool {
	return s.agg.Ingest(sample.SourceID, sample.Name, sample.Value(), sample.Time())
}

// Tick finishes the open window if its deadline has passed.
func (s *Session) Tick(now time.Time) (*Result, bool) {
	rec, ok := s.agg.Tick(now)
	if !ok {
		return nil, false
	}
	return s.complete(rec), true
}

func (s *Session) complete(rec *signal.ScanRecord) *Result {
	res := &Result{
		Record:  rec,
		Export:  signal.Export(rec, s.cfg.Survey.PixelsPerMeter),
		Summary: s.cfg.Quality.Summarize(rec),
	}

	s.mu.Lock()
	s.records[rec.Point.PointID] = append(s.records[rec.Point.PointID], rec)
	s.mu.Unlock()

	log.Printf("[SCAN] point %s graded %s: %d of %d source(s) kept",
		rec.Point.PointID, res.Summary.Grade, len(res.Summary.Top), len(rec.Sources))
	for _, sink := range s.sinks {
		if err := sink.HandleResult(res); err != nil {
			log.Printf("[SCAN] delivering scan %s: %v", rec.ScanID, err)
		}
	}
	return res
}

// Status reports the scan window.
func (s *Session) Status() ScanStatus {
	ref, ok := s.agg.Active()
	if !ok {
		return ScanStatus{}
	}
	return ScanStatus{Scanning: true, PointID: ref.PointID, SecondsRemaining: s.agg.SecondsRemaining()}
}

// Aggregates returns the running per-point, per-source aggregates.
func (s *Session) Aggregates() []signal.RunningAggregate {
	return s.agg.Aggregates()
}

// RestoreAggregates replaces the running aggregates.
func (s *Session) RestoreAggregates(aggs []signal.RunningAggregate) error {
	return s.agg.Restore(aggs)
}

// Records returns the scans recorded at a point in this session.
func (s *Session) Records(pointID string) []*signal.ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*signal.ScanRecord(nil), s.records[pointID]...)
}

// Grade is the coverage grade of a point over this session's scans.
func (s *Session) Grade(pointID string) signal.Grade {
	return signal.GradePoint(s.Records(pointID))
}

// Run finishes scan windows at their deadline until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.agg.CancelWindow() {
				log.Println("[SCAN] shutting down with a scan in progress; discarded")
			}
			return nil
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

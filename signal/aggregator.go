package signal

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyScanning is returned by StartWindow while a window is open.
	// The open window is not affected.
	ErrAlreadyScanning = errors.New("scan window already active")
	// ErrNotScanning is returned when no window is open.
	ErrNotScanning = errors.New("no active scan window")
)

// ExclusionFunc reports whether a source should be ignored.
type ExclusionFunc func(sourceID, name string) bool

// MetaFunc looks up known metadata for a source.
type MetaFunc func(sourceID string) (SourceMeta, bool)

// HeadingFunc returns the device heading in degrees clockwise from north.
type HeadingFunc func() (float64, bool)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithBinning overrides the default histogram binning.
func WithBinning(minDbm, maxDbm, binSizeDb int) Option {
	return func(a *Aggregator) {
		// Validate eagerly so a bad config fails at construction.
		NewHistogram(minDbm, maxDbm, binSizeDb)
		a.minDbm, a.maxDbm, a.binSizeDb = minDbm, maxDbm, binSizeDb
	}
}

// WithExclusion installs the source exclusion predicate.
func WithExclusion(fn ExclusionFunc) Option {
	return func(a *Aggregator) { a.exclude = fn }
}

// WithMeta installs the source metadata resolver.
func WithMeta(fn MetaFunc) Option {
	return func(a *Aggregator) { a.meta = fn }
}

// WithHeading installs a heading provider plus the fixed north offset and
// fine-tune applied on top of it.
func WithHeading(fn HeadingFunc, northOffsetDeg, fineTuneDeg float64) Option {
	return func(a *Aggregator) {
		a.heading = fn
		a.northOffset = northOffsetDeg
		a.fineTune = fineTuneDeg
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithRawSamples toggles recording of raw samples on records.
func WithRawSamples(keep bool) Option {
	return func(a *Aggregator) { a.keepRaw = keep }
}

type aggKey struct {
	PointID, SourceID string
}

type window struct {
	point    PointRef
	start    time.Time
	deadline time.Time
	facing   *float64
	bins     map[string]*Histogram
	names    map[string]string
	raw      map[string][]RawSample
	excluded map[string]bool
}

// Aggregator runs one scan window at a time (Idle -> Scanning -> Idle) and
// merges each finished window into running per-(point, source) aggregates.
// All methods are safe for concurrent use.
type Aggregator struct {
	minDbm, maxDbm, binSizeDb int

	exclude     ExclusionFunc
	meta        MetaFunc
	heading     HeadingFunc
	northOffset float64
	fineTune    float64
	now         func() time.Time
	keepRaw     bool

	mu         sync.Mutex
	win        *window
	aggregates map[aggKey]*RunningAggregate
}

// NewAggregator creates an idle aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		minDbm:     DefaultMinDbm,
		maxDbm:     DefaultMaxDbm,
		binSizeDb:  DefaultBinSizeDb,
		now:        time.Now,
		keepRaw:    true,
		aggregates: make(map[aggKey]*RunningAggregate),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartWindow opens a window at point for the given duration. It is a no-op
// returning ErrAlreadyScanning while another window is open.
func (a *Aggregator) StartWindow(point PointRef, duration time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.win != nil {
		return ErrAlreadyScanning
	}
	if duration <= 0 {
		return fmt.Errorf("scan duration must be positive, got %s", duration)
	}

	start := a.now()
	a.win = &window{
		point:    point,
		start:    start,
		deadline: start.Add(duration),
		facing:   a.captureFacing(),
		bins:     make(map[string]*Histogram),
		names:    make(map[string]string),
		raw:      make(map[string][]RawSample),
		excluded: make(map[string]bool),
	}
	log.Printf("[SCAN] started %s window at point %s", duration, point.PointID)
	return nil
}

func (a *Aggregator) captureFacing() *float64 {
	if a.heading == nil {
		return nil
	}
	h, ok := a.heading()
	if !ok {
		h = 0
	}
	f := WrapDegrees(h + a.northOffset + a.fineTune)
	return &f
}

// WrapDegrees normalizes an angle to [0, 360).
func WrapDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Ingest records one reading. It reports whether the reading was accepted:
// readings are ignored while idle, for excluded sources, and when out of the
// histogram range. A zero ts means now.
func (a *Aggregator) Ingest(sourceID, name string, value int, ts time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.win
	if w == nil {
		return false
	}
	if a.exclude != nil && a.exclude(sourceID, name) {
		if !w.excluded[sourceID] {
			w.excluded[sourceID] = true
			log.Printf("[SCAN] excluding source %s (%s)", sourceID, name)
		}
		return false
	}

	h, ok := w.bins[sourceID]
	if !ok {
		h = NewHistogram(a.minDbm, a.maxDbm, a.binSizeDb)
		w.bins[sourceID] = h
	}
	if name != "" {
		w.names[sourceID] = name
	}
	if !h.Add(value) {
		return false
	}
	if a.keepRaw {
		if ts.IsZero() {
			ts = a.now()
		}
		w.raw[sourceID] = append(w.raw[sourceID], RawSample{
			OffsetMs: ts.Sub(w.start).Milliseconds(),
			Value:    value,
		})
	}
	return true
}

// FinishWindow closes the open window, merges it into the running aggregates
// and returns its record.
func (a *Aggregator) FinishWindow() (*ScanRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finishLocked()
}

func (a *Aggregator) finishLocked() (*ScanRecord, error) {
	w := a.win
	if w == nil {
		return nil, ErrNotScanning
	}
	end := a.now()
	duration := end.Sub(w.start).Seconds()

	rec := &ScanRecord{
		ScanID:    uuid.NewString(),
		Point:     w.point,
		Start:     w.start,
		End:       end,
		Duration:  duration,
		FacingDeg: w.facing,
		Sources:   make([]SourceAggregate, 0, len(w.bins)),
	}

	for id, h := range w.bins {
		meta := SourceMeta{ID: id, Name: w.names[id]}
		if a.meta != nil {
			if m, ok := a.meta(id); ok {
				meta = m
				meta.ID = id
				if meta.Name == "" {
					meta.Name = w.names[id]
				}
			}
		}
		rec.Sources = append(rec.Sources, SourceAggregate{
			Source:    meta,
			Stats:     h.Stats(),
			Histogram: h,
			Raw:       w.raw[id],
		})
	}
	sortSources(rec.Sources)

	// Build merged copies first so a panic cannot leave aggregates half-updated.
	updates := make(map[aggKey]*RunningAggregate, len(rec.Sources))
	for _, s := range rec.Sources {
		key := aggKey{PointID: w.point.PointID, SourceID: s.Source.ID}
		next := &RunningAggregate{
			PointID:  key.PointID,
			SourceID: key.SourceID,
		}
		if prev, ok := a.aggregates[key]; ok {
			cp := prev.clone()
			next = &cp
			next.Histogram.Merge(s.Histogram)
		} else {
			next.Histogram = s.Histogram.Clone()
		}
		next.TotalPackets += s.Samples
		next.TotalSeconds += duration
		next.NumScans++
		next.LastUpdate = end
		updates[key] = next
	}
	for k, v := range updates {
		a.aggregates[k] = v
	}

	a.win = nil
	log.Printf("[SCAN] finished window at point %s: %d source(s) in %.1fs",
		w.point.PointID, len(rec.Sources), duration)
	return rec, nil
}

// CancelWindow discards the open window. It reports whether one was open.
func (a *Aggregator) CancelWindow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.win == nil {
		return false
	}
	log.Printf("[SCAN] cancelled window at point %s", a.win.point.PointID)
	a.win = nil
	return true
}

// Tick finishes the open window if its deadline has passed at now.
func (a *Aggregator) Tick(now time.Time) (*ScanRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.win == nil || now.Before(a.win.deadline) {
		return nil, false
	}
	rec, err := a.finishLocked()
	if err != nil {
		return nil, false
	}
	return rec, true
}

// Scanning reports whether a window is open.
func (a *Aggregator) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.win != nil
}

// Active returns the point of the open window.
func (a *Aggregator) Active() (PointRef, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.win == nil {
		return PointRef{}, false
	}
	return a.win.point, true
}

// SecondsRemaining is the time left before the deadline, never negative.
func (a *Aggregator) SecondsRemaining() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.win == nil {
		return 0
	}
	return math.Max(0, a.win.deadline.Sub(a.now()).Seconds())
}

// Aggregate returns a copy of the running aggregate for a pair.
func (a *Aggregator) Aggregate(pointID, sourceID string) (RunningAggregate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	agg, ok := a.aggregates[aggKey{PointID: pointID, SourceID: sourceID}]
	if !ok {
		return RunningAggregate{}, false
	}
	return agg.clone(), true
}

// Aggregates returns copies of all running aggregates ordered by point then
// source.
func (a *Aggregator) Aggregates() []RunningAggregate {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]RunningAggregate, 0, len(a.aggregates))
	for _, agg := range a.aggregates {
		out = append(out, agg.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PointID != out[j].PointID {
			return out[i].PointID < out[j].PointID
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// Restore replaces the running aggregates, e.g. from a saved archive.
// Aggregates whose binning differs from the aggregator's are rejected.
func (a *Aggregator) Restore(aggs []RunningAggregate) error {
	ref := NewHistogram(a.minDbm, a.maxDbm, a.binSizeDb)
	next := make(map[aggKey]*RunningAggregate, len(aggs))
	for _, agg := range aggs {
		if !ref.Compatible(agg.Histogram) {
			return fmt.Errorf("aggregate %s/%s: binning does not match %s",
				agg.PointID, agg.SourceID, ref.binning())
		}
		cp := agg.clone()
		next[aggKey{PointID: agg.PointID, SourceID: agg.SourceID}] = &cp
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.aggregates = next
	return nil
}

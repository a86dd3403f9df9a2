package signal

import (
	"sort"
	"time"
)

// noMedianDbm ranks sources without a median below any real reading.
const noMedianDbm = -200

// SourceMeta is what is known about a transmitter. Position is in map pixels;
// unknown fields are nil.
type SourceMeta struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Elevation   *float64 `json:"elevation,omitempty"`
	TxPowerDbm  *int     `json:"txPowerDbm,omitempty"`  // transmit power setting
	RSSIAt1mDbm *float64 `json:"rssiAt1mDbm,omitempty"` // calibrated reading at 1 m
}

// HasPosition reports whether the map position is known.
func (m SourceMeta) HasPosition() bool {
	return m.X != nil && m.Y != nil
}

// PointRef identifies where a window was recorded.
type PointRef struct {
	PointID      string  `json:"pointId"`
	// Map position in pixels and meters.
	XPx          float64 `json:"xPx"`
	YPx          float64 `json:"yPx"`
	XM           float64 `json:"xM"`
	YM           float64 `json:"yM"`
	DeviceHeight float64 `json:"deviceHeightM"`
	SessionID    string  `json:"sessionId"`
}

// RawSample is one accepted reading, offset from the window start.
type RawSample struct {
	OffsetMs int64 `json:"t"`
	Value    int   `json:"v"`
}

// SourceAggregate is one source's contribution to a ScanRecord.
type SourceAggregate struct {
	Source SourceMeta `json:"source"`
	Stats
	Histogram *Histogram  `json:"histogram"`
	Raw       []RawSample `json:"raw,omitempty"`
}

// ScanRecord is the immutable result of one finished window. Sources are
// sorted by descending median.
type ScanRecord struct {
	ScanID    string            `json:"scanId"`
	Point     PointRef          `json:"point"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	Duration  float64           `json:"durationS"`
	Sources   []SourceAggregate `json:"sources"`
	FacingDeg *float64          `json:"facingDeg,omitempty"`
}

// Source returns the aggregate for id.
func (r *ScanRecord) Source(id string) (SourceAggregate, bool) {
	for _, s := range r.Sources {
		if s.Source.ID == id {
			return s, true
		}
	}
	return SourceAggregate{}, false
}

func sortSources(src []SourceAggregate) {
	sort.Slice(src, func(i, j int) bool {
		mi, mj := src[i].medianOr(noMedianDbm), src[j].medianOr(noMedianDbm)
		if mi != mj {
			return mi > mj
		}
		return src[i].Source.ID < src[j].Source.ID
	})
}

// RunningAggregate accumulates every window recorded for one
// (point, source) pair.
type RunningAggregate struct {
	PointID      string     `json:"pointId"`
	SourceID     string     `json:"sourceId"`
	TotalPackets int        `json:"totalPackets"`
	TotalSeconds float64    `json:"totalSeconds"`
	NumScans     int        `json:"numScans"`
	Histogram    *Histogram `json:"histogram"`
	LastUpdate   time.Time  `json:"lastUpdate"`
}

// Stats derives statistics from the merged histogram.
func (a RunningAggregate) Stats() Stats {
	if a.Histogram == nil {
		return Stats{}
	}
	return a.Histogram.Stats()
}

func (a RunningAggregate) clone() RunningAggregate {
	if a.Histogram != nil {
		a.Histogram = a.Histogram.Clone()
	}
	return a
}

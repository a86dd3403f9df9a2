// Package signal turns noisy signal-strength samples into compact,
// mergeable statistics: fixed-bin histograms, timed scan windows, and the
// running per-point aggregates built from them.
package signal

import (
	"fmt"
	"sort"
)

// Default histogram binning in dBm.
const (
	DefaultMinDbm    = -100
	DefaultMaxDbm    = -30
	DefaultBinSizeDb = 1
)

// Histogram counts integer samples in fixed-width bins over [MinDbm, MaxDbm].
// Samples outside the range are dropped, not clamped.
type Histogram struct {
	MinDbm    int   `json:"binMinDbm"`
	MaxDbm    int   `json:"binMaxDbm"`
	BinSizeDb int   `json:"binSizeDb"`
	Counts    []int `json:"counts"`
}

// NewHistogram creates an empty histogram. It panics on a non-positive bin
// size or an inverted range.
func NewHistogram(minDbm, maxDbm, binSizeDb int) *Histogram {
	if binSizeDb <= 0 {
		panic(fmt.Sprintf("signal: histogram bin size must be positive, got %d", binSizeDb))
	}
	if maxDbm < minDbm {
		panic(fmt.Sprintf("signal: histogram range [%d, %d] is inverted", minDbm, maxDbm))
	}
	return &Histogram{
		MinDbm:    minDbm,
		MaxDbm:    maxDbm,
		BinSizeDb: binSizeDb,
		Counts:    make([]int, (maxDbm-minDbm)/binSizeDb+1),
	}
}

// DefaultHistogram uses the default dBm binning.
func DefaultHistogram() *Histogram {
	return NewHistogram(DefaultMinDbm, DefaultMaxDbm, DefaultBinSizeDb)
}

// Add inserts v and reports whether it was in range.
func (h *Histogram) Add(v int) bool {
	if v < h.MinDbm || v > h.MaxDbm {
		return false
	}
	idx := (v - h.MinDbm) / h.BinSizeDb
	if idx < 0 || idx >= len(h.Counts) {
		return false
	}
	h.Counts[idx]++
	return true
}

// Total is the number of samples held.
func (h *Histogram) Total() int {
	n := 0
	for _, c := range h.Counts {
		n += c
	}
	return n
}

// Quantile returns the lower edge of the bin holding the q-quantile sample,
// found by cumulative count. ok is false for an empty histogram.
func (h *Histogram) Quantile(q float64) (int, bool) {
	total := h.Total()
	if total == 0 {
		return 0, false
	}
	target := int(float64(total-1) * q)
	cum := 0
	for i, c := range h.Counts {
		cum += c
		if cum > target {
			return h.MinDbm + i*h.BinSizeDb, true
		}
	}
	return 0, false
}

// Median is Quantile(0.5).
func (h *Histogram) Median() (int, bool) { return h.Quantile(0.5) }

// P10 is Quantile(0.1).
func (h *Histogram) P10() (int, bool) { return h.Quantile(0.10) }

// P90 is Quantile(0.9).
func (h *Histogram) P90() (int, bool) { return h.Quantile(0.90) }

// MAD returns the median absolute deviation of the binned samples around
// median, using the same cumulative-count technique as Quantile.
func (h *Histogram) MAD(median int) (float64, bool) {
	total := h.Total()
	if total == 0 {
		return 0, false
	}
	devs := make(map[int]int)
	for i, c := range h.Counts {
		if c == 0 {
			continue
		}
		d := h.MinDbm + i*h.BinSizeDb - median
		if d < 0 {
			d = -d
		}
		devs[d] += c
	}
	keys := make([]int, 0, len(devs))
	for d := range devs {
		keys = append(keys, d)
	}
	sort.Ints(keys)

	target := (total - 1) / 2
	cum := 0
	for _, d := range keys {
		cum += devs[d]
		if cum > target {
			return float64(d), true
		}
	}
	return 0, false
}

// Compatible reports whether other has identical binning.
func (h *Histogram) Compatible(other *Histogram) bool {
	return other != nil &&
		h.MinDbm == other.MinDbm &&
		h.MaxDbm == other.MaxDbm &&
		h.BinSizeDb == other.BinSizeDb &&
		len(h.Counts) == len(other.Counts)
}

// Merge adds other's counts bin by bin. Merging histograms with different
// binning is a programming error and panics.
func (h *Histogram) Merge(other *Histogram) {
	if !h.Compatible(other) {
		panic(fmt.Sprintf("signal: cannot merge histograms with different binning: %s vs %s", h.binning(), other.binning()))
	}
	for i, c := range other.Counts {
		h.Counts[i] += c
	}
}

// Clone returns a deep copy.
func (h *Histogram) Clone() *Histogram {
	cp := *h
	cp.Counts = append([]int(nil), h.Counts...)
	return &cp
}

func (h *Histogram) binning() string {
	if h == nil {
		return "<nil>"
	}
	return fmt.Sprintf("[%d, %d] step %d", h.MinDbm, h.MaxDbm, h.BinSizeDb)
}

// Stats are the derived statistics of one histogram. Nil fields mean the
// histogram was empty.
type Stats struct {
	Samples   int      `json:"samples"`
	MedianDbm *int     `json:"medianDbm"`
	P10Dbm    *int     `json:"p10Dbm"`
	P90Dbm    *int     `json:"p90Dbm"`
	MADDb     *float64 `json:"madDb"`
}

// Stats computes sample count, median, p10, p90 and MAD.
func (h *Histogram) Stats() Stats {
	s := Stats{Samples: h.Total()}
	if m, ok := h.Median(); ok {
		s.MedianDbm = &m
		if mad, ok := h.MAD(m); ok {
			s.MADDb = &mad
		}
	}
	if v, ok := h.P10(); ok {
		s.P10Dbm = &v
	}
	if v, ok := h.P90(); ok {
		s.P90Dbm = &v
	}
	return s
}

// medianOr returns the median or fallback when undefined.
func (s Stats) medianOr(fallback int) int {
	if s.MedianDbm == nil {
		return fallback
	}
	return *s.MedianDbm
}

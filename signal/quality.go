package signal

// Default quality thresholds for the top-sources shortlist.
const (
	DefaultMinSamples = 10
	DefaultMinPPS     = 0.8
	DefaultTopN       = 6
)

// goodMedianDbm is the median a source must exceed to count towards Grade.
const goodMedianDbm = -80

// Quality filters noisy sources out of a shortlist. It never changes the
// underlying statistics.
type Quality struct {
	MinSamples int     `yaml:"minSamples" json:"minSamples"`
	MinPPS     float64 `yaml:"minPacketsPerSecond" json:"minPacketsPerSecond"`
	TopN       int     `yaml:"topN" json:"topN"`
}

// DefaultQuality returns the default thresholds.
func DefaultQuality() Quality {
	return Quality{MinSamples: DefaultMinSamples, MinPPS: DefaultMinPPS, TopN: DefaultTopN}
}

// Summary is the shortlist of a record's strongest usable sources.
type Summary struct {
	ScanID  string            `json:"scanId"`
	PointID string            `json:"pointId"`
	Top     []SourceAggregate `json:"top"`
	Dropped int               `json:"dropped"`
	Grade   Grade             `json:"grade"`
}

// Summarize keeps sources meeting the sample and rate minimums, in the
// record's median order, truncated to TopN. TopN <= 0 keeps all.
func (q Quality) Summarize(rec *ScanRecord) Summary {
	s := Summary{ScanID: rec.ScanID, PointID: rec.Point.PointID, Grade: GradeRecord(rec)}
	for _, src := range rec.Sources {
		if !q.accept(src, rec.Duration) {
			s.Dropped++
			continue
		}
		if q.TopN > 0 && len(s.Top) >= q.TopN {
			continue
		}
		s.Top = append(s.Top, src)
	}
	return s
}

func (q Quality) accept(src SourceAggregate, durationS float64) bool {
	if src.Samples < q.MinSamples {
		return false
	}
	if q.MinPPS > 0 {
		if durationS <= 0 {
			return false
		}
		if float64(src.Samples)/durationS < q.MinPPS {
			return false
		}
	}
	return true
}

// Grade rates how well a point is covered.
type Grade string

const (
	GradeNone Grade = "none"
	GradePoor Grade = "poor"
	GradeFair Grade = "fair"
	GradeGood Grade = "good"
)

func (g Grade) rank() int {
	switch g {
	case GradePoor:
		return 1
	case GradeFair:
		return 2
	case GradeGood:
		return 3
	}
	return 0
}

// GradeRecord grades a record by how many sources have a median above -80 dBm:
// none for 0, poor for 1-2, fair for 3-4, good for 5 or more.
func GradeRecord(rec *ScanRecord) Grade {
	n := 0
	for _, s := range rec.Sources {
		if s.MedianDbm != nil && *s.MedianDbm > goodMedianDbm {
			n++
		}
	}
	switch {
	case n >= 5:
		return GradeGood
	case n >= 3:
		return GradeFair
	case n >= 1:
		return GradePoor
	}
	return GradeNone
}

// GradePoint is the worst grade over all records at a point, or none when
// there are no records.
func GradePoint(records []*ScanRecord) Grade {
	if len(records) == 0 {
		return GradeNone
	}
	worst := GradeGood
	for _, r := range records {
		if g := GradeRecord(r); g.rank() < worst.rank() {
			worst = g
		}
	}
	return worst
}

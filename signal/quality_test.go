package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordWith builds a record whose sources each hold n copies of a median.
func recordWith(durationS float64, sources map[string][2]int) *ScanRecord {
	rec := &ScanRecord{ScanID: "scan-1", Point: PointRef{PointID: "p1"}, Duration: durationS}
	for id, nv := range sources {
		h := DefaultHistogram()
		for i := 0; i < nv[0]; i++ {
			h.Add(nv[1])
		}
		rec.Sources = append(rec.Sources, SourceAggregate{
			Source:    SourceMeta{ID: id},
			Stats:     h.Stats(),
			Histogram: h,
		})
	}
	sortSources(rec.Sources)
	return rec
}

func TestQualitySummarize(t *testing.T) {
	rec := recordWith(10, map[string][2]int{
		"busy":   {20, -65},
		"sparse": {5, -50},  // too few samples
		"slow":   {10, -55}, // 1.0 pkt/s
		"weak":   {30, -85},
	})

	s := DefaultQuality().Summarize(rec)
	require.Len(t, s.Top, 3)
	assert.Equal(t, "slow", s.Top[0].Source.ID)
	assert.Equal(t, "busy", s.Top[1].Source.ID)
	assert.Equal(t, "weak", s.Top[2].Source.ID)
	assert.Equal(t, 1, s.Dropped)
	assert.Equal(t, "p1", s.PointID)

	strict := Quality{MinSamples: 10, MinPPS: 1.5, TopN: 1}
	s = strict.Summarize(rec)
	require.Len(t, s.Top, 1)
	assert.Equal(t, "busy", s.Top[0].Source.ID)
	assert.Equal(t, 2, s.Dropped)

	// The record itself is untouched.
	assert.Len(t, rec.Sources, 4)
}

func TestQualityZeroDuration(t *testing.T) {
	rec := recordWith(0, map[string][2]int{"a": {20, -60}})
	assert.Empty(t, DefaultQuality().Summarize(rec).Top)
	assert.Len(t, Quality{MinSamples: 1}.Summarize(rec).Top, 1)
}

func TestGradeRecord(t *testing.T) {
	tests := []struct {
		name    string
		medians []int
		want    Grade
	}{
		{"none", []int{-85, -80}, GradeNone},
		{"poor", []int{-60, -79, -90}, GradePoor},
		{"fair", []int{-60, -70, -75, -81}, GradeFair},
		{"good", []int{-50, -55, -60, -65, -70, -95}, GradeGood},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := make(map[string][2]int)
			for i, m := range tt.medians {
				src[string(rune('a'+i))] = [2]int{1, m}
			}
			assert.Equal(t, tt.want, GradeRecord(recordWith(1, src)))
		})
	}
}

func TestGradePoint(t *testing.T) {
	good := recordWith(1, map[string][2]int{"a": {1, -50}, "b": {1, -50}, "c": {1, -50}, "d": {1, -50}, "e": {1, -50}})
	fair := recordWith(1, map[string][2]int{"a": {1, -50}, "b": {1, -50}, "c": {1, -50}})

	assert.Equal(t, GradeNone, GradePoint(nil))
	assert.Equal(t, GradeGood, GradePoint([]*ScanRecord{good}))
	assert.Equal(t, GradeFair, GradePoint([]*ScanRecord{good, fair}))
}

func TestPathLossDistance(t *testing.T) {
	pl := PathLoss{TxAt1mDbm: -59, Exponent: 2}
	assert.InDelta(t, 10.0, pl.Distance(-79, nil, nil), 1e-9)
	assert.InDelta(t, 1.0, pl.Distance(-59, nil, nil), 1e-9)

	src, dev := 7.0, 1.0
	assert.InDelta(t, 8.0, pl.Distance(-79, &src, &dev), 1e-9)

	high := 20.0
	assert.Zero(t, pl.Distance(-79, &high, &dev), "vertical offset larger than range")

	pl.MaxDistanceM = 5
	assert.Equal(t, 5.0, pl.Distance(-79, nil, nil))
}

func TestMapDistances(t *testing.T) {
	d, ok := PlanarDistanceM(100, 100, 400, 500, 100)
	require.True(t, ok)
	assert.InDelta(t, 5.0, d, 1e-9)

	_, ok = PlanarDistanceM(0, 0, 1, 1, 0)
	assert.False(t, ok)

	assert.InDelta(t, 5.0, XYZDistanceM(4, 1, 4), 1e-9)
}

func TestExport(t *testing.T) {
	x, y, elev := 400.0, 500.0, 4.0
	facing := 90.0
	h := histogramOf(-60, -61)
	rec := &ScanRecord{
		ScanID: "scan-1",
		Point: PointRef{
			PointID:      "p1",
			XPx:          100.004,
			YPx:          100,
			XM:           1.23456,
			YM:           1,
			DeviceHeight: 1,
			SessionID:    "s1",
		},
		Start:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:  10.12345,
		FacingDeg: &facing,
		Sources: []SourceAggregate{
			{Source: SourceMeta{ID: "a", Name: "beacon-a", X: &x, Y: &y, Elevation: &elev}, Stats: h.Stats(), Histogram: h},
			{Source: SourceMeta{ID: "b"}, Stats: h.Stats(), Histogram: h},
		},
	}

	out := Export(rec, 100)
	assert.Equal(t, SchemaV1, out.Schema)
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, 10.123, out.DurationS)
	assert.Equal(t, 100.0, out.Point.XPx)
	assert.Equal(t, 1.23, out.Point.XM)
	require.Len(t, out.Sources, 2)

	a := out.Sources[0]
	require.NotNil(t, a.PlanarM)
	assert.InDelta(t, 5.0, *a.PlanarM, 1e-9)
	require.NotNil(t, a.XYZM)
	assert.InDelta(t, 5.83, *a.XYZM, 1e-9)
	assert.Nil(t, out.Sources[1].PlanarM)

	b := out.Sources[1]
	require.NotNil(t, b.EstimatedM)
	want := round(DefaultPathLoss.Distance(float64(*h.Stats().MedianDbm), nil, nil), 2)
	assert.InDelta(t, want, *b.EstimatedM, 1e-9)
	require.NotNil(t, a.EstimatedM, "height-corrected estimate")
	assert.LessOrEqual(t, *a.EstimatedM, want)

	noScale := Export(rec, 0)
	assert.Nil(t, noScale.Sources[0].PlanarM)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"schema":"tapmesh.scan.v1"`)
	assert.Contains(t, string(data), `"planarDistanceM":5`)
}

func TestExport_PathLossReference(t *testing.T) {
	h := histogramOf(-60, -60, -60)
	median := float64(*h.Stats().MedianDbm)
	txPower := -8
	atOneMeter := -50.0
	rec := &ScanRecord{
		ScanID: "scan-2",
		Point:  PointRef{PointID: "p1"},
		Sources: []SourceAggregate{
			{Source: SourceMeta{ID: "plain"}, Stats: h.Stats(), Histogram: h},
			{Source: SourceMeta{ID: "tx", TxPowerDbm: &txPower}, Stats: h.Stats(), Histogram: h},
			{Source: SourceMeta{ID: "cal", RSSIAt1mDbm: &atOneMeter}, Stats: h.Stats(), Histogram: h},
		},
	}

	out := Export(rec, 0)
	require.Len(t, out.Sources, 3)
	est := make(map[string]float64)
	for _, s := range out.Sources {
		require.NotNil(t, s.EstimatedM, s.ID)
		est[s.ID] = *s.EstimatedM
	}

	assert.InDelta(t, 1.10, est["plain"], 1e-9)
	assert.Equal(t, est["plain"], est["tx"], "transmit power setting is not a 1 m reading")
	assert.Less(t, est["tx"], DefaultPathLoss.MaxDistanceM)

	cal := DefaultPathLoss
	cal.TxAt1mDbm = atOneMeter
	assert.InDelta(t, round(cal.Distance(median, nil, nil), 2), est["cal"], 1e-9)
	assert.Greater(t, est["cal"], est["plain"])
}

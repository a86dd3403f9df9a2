package signal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histogramOf(values ...int) *Histogram {
	h := DefaultHistogram()
	for _, v := range values {
		h.Add(v)
	}
	return h
}

func TestHistogramStats(t *testing.T) {
	h := histogramOf(-70, -70, -71, -69, -70)

	s := h.Stats()
	assert.Equal(t, 5, s.Samples)
	require.NotNil(t, s.MedianDbm)
	assert.Equal(t, -70, *s.MedianDbm)
	require.NotNil(t, s.P10Dbm)
	assert.Equal(t, -71, *s.P10Dbm)
	require.NotNil(t, s.P90Dbm)
	assert.Equal(t, -70, *s.P90Dbm)
	require.NotNil(t, s.MADDb)
	assert.Equal(t, 0.0, *s.MADDb)
}

func TestHistogramDropsOutOfRange(t *testing.T) {
	h := DefaultHistogram()
	assert.False(t, h.Add(-101))
	assert.False(t, h.Add(-29))
	assert.True(t, h.Add(-100))
	assert.True(t, h.Add(-30))
	assert.Equal(t, 2, h.Total())
	assert.Len(t, h.Counts, 71)
}

func TestHistogramEmpty(t *testing.T) {
	h := DefaultHistogram()
	_, ok := h.Median()
	assert.False(t, ok)
	_, ok = h.MAD(-70)
	assert.False(t, ok)

	s := h.Stats()
	assert.Zero(t, s.Samples)
	assert.Nil(t, s.MedianDbm)
	assert.Nil(t, s.P10Dbm)
	assert.Nil(t, s.P90Dbm)
	assert.Nil(t, s.MADDb)
}

func TestHistogramWideBins(t *testing.T) {
	h := NewHistogram(-100, -30, 5)
	assert.Len(t, h.Counts, 15)
	h.Add(-98)
	h.Add(-96)
	m, ok := h.Median()
	require.True(t, ok)
	assert.Equal(t, -100, m, "quantiles report the lower bin edge")
}

func TestHistogramMAD(t *testing.T) {
	h := histogramOf(-60, -62, -64, -70, -80)
	m, ok := h.Median()
	require.True(t, ok)
	assert.Equal(t, -64, m)

	// deviations: 4, 2, 0, 6, 16
	mad, ok := h.MAD(m)
	require.True(t, ok)
	assert.Equal(t, 4.0, mad)
}

func TestHistogramQuantileMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		h := DefaultHistogram()
		n := 1 + rng.Intn(50)
		for j := 0; j < n; j++ {
			h.Add(-100 + rng.Intn(71))
		}
		p10, ok1 := h.P10()
		med, ok2 := h.Median()
		p90, ok3 := h.P90()
		require.True(t, ok1 && ok2 && ok3)
		assert.LessOrEqual(t, p10, med)
		assert.LessOrEqual(t, med, p90)
	}
}

func TestHistogramMergeCommutes(t *testing.T) {
	a := histogramOf(-50, -60, -60, -90)
	b := histogramOf(-60, -61, -35)
	c := histogramOf(-99)

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)
	assert.Equal(t, ab.Counts, ba.Counts)

	abc := ab.Clone()
	abc.Merge(c)
	bc := b.Clone()
	bc.Merge(c)
	aBC := a.Clone()
	aBC.Merge(bc)
	assert.Equal(t, abc.Counts, aBC.Counts)
	assert.Equal(t, 8, abc.Total())

	assert.Equal(t, 4, a.Total(), "Clone must not share counts")
}

func TestHistogramMergeMismatchPanics(t *testing.T) {
	a := DefaultHistogram()
	assert.False(t, a.Compatible(NewHistogram(-100, -30, 2)))
	assert.False(t, a.Compatible(nil))

	assert.Panics(t, func() { a.Merge(NewHistogram(-100, -30, 2)) })
	assert.Panics(t, func() { a.Merge(NewHistogram(-90, -30, 1)) })
	assert.Panics(t, func() { a.Merge(nil) })
}

func TestNewHistogramRejectsBadBinning(t *testing.T) {
	assert.Panics(t, func() { NewHistogram(-100, -30, 0) })
	assert.Panics(t, func() { NewHistogram(-30, -100, 1) })
}

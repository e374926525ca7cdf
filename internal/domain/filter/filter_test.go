package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

func mustFilter(t *testing.T, name string, word uint64, maxDist int) ContextFilter {
	t.Helper()
	th, err := MaxDistance(maxDist)
	require.NoError(t, err)
	f, err := New(name, fingerprint.Fingerprint{word}, th)
	require.NoError(t, err)
	return f
}

func TestMinScore_Conversion(t *testing.T) {
	th, err := MinScore(0.75, 64)
	require.NoError(t, err)
	assert.Equal(t, 16, th.MaxDistance())
	assert.True(t, th.Admits(15))
	assert.False(t, th.Admits(16))

	th, err = MinScore(0.65, 384)
	require.NoError(t, err)
	assert.Equal(t, 135, th.MaxDistance())
	assert.Greater(t, fingerprint.Score(134, 384), 0.65)
	assert.LessOrEqual(t, fingerprint.Score(135, 384), 0.65)
}

func TestMinScore_EquivalentToScoreComparison(t *testing.T) {
	for _, bits := range []int{64, 128, 384} {
		for _, s := range []float64{0, 0.1, 0.5, 0.65, 0.8, 0.8125, 1} {
			th, err := MinScore(s, bits)
			require.NoError(t, err)
			for d := 0; d <= bits; d++ {
				assert.Equal(t, fingerprint.Score(d, bits) > s, th.Admits(d),
					"bits=%d s=%v d=%d", bits, s, d)
			}
		}
	}
}

func TestThreshold_Invalid(t *testing.T) {
	_, err := MaxDistance(-1)
	assert.True(t, errors.Is(err, domain.ErrInvalidThreshold))
	_, err = MinScore(1.5, 64)
	assert.True(t, errors.Is(err, domain.ErrInvalidThreshold))
	_, err = MinScore(0.5, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidThreshold))
}

func TestThreshold_Score(t *testing.T) {
	th, err := MaxDistance(16)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, th.Score(64), 1e-12)
}

func TestNew_Validation(t *testing.T) {
	th, _ := MaxDistance(1)
	_, err := New("", fingerprint.Fingerprint{1}, th)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = New("x", nil, th)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestNew_CopiesFingerprint(t *testing.T) {
	th, _ := MaxDistance(1)
	fp := fingerprint.Fingerprint{7}
	f, err := New("x", fp, th)
	require.NoError(t, err)
	fp[0] = 0
	assert.Equal(t, uint64(7), f.Fingerprint()[0])
}

func TestBest_PicksHighestScoreNotFirstHit(t *testing.T) {
	filters := []ContextFilter{
		mustFilter(t, "far", 0b1111, 10),  // distance 4
		mustFilter(t, "near", 0b0001, 10), // distance 1
	}
	m, ok := Best(fingerprint.Fingerprint{0}, 64, filters, FirstDeclared)
	require.True(t, ok)
	assert.Equal(t, "near", m.Filter)
	assert.Equal(t, 1, m.Index)
	assert.Equal(t, 1, m.Distance)
	assert.InDelta(t, 1-1.0/64, m.Score, 1e-12)
}

func TestBest_RespectsThreshold(t *testing.T) {
	filters := []ContextFilter{
		mustFilter(t, "a", 0b111, 3), // distance 3, not < 3
	}
	_, ok := Best(fingerprint.Fingerprint{0}, 64, filters, FirstDeclared)
	assert.False(t, ok)
}

func TestBest_TieBreak(t *testing.T) {
	filters := []ContextFilter{
		mustFilter(t, "a", 0b01, 5),
		mustFilter(t, "b", 0b10, 5),
		mustFilter(t, "c", 0b11, 5),
	}
	m, ok := Best(fingerprint.Fingerprint{0}, 64, filters, FirstDeclared)
	require.True(t, ok)
	assert.Equal(t, "a", m.Filter)

	m, ok = Best(fingerprint.Fingerprint{0}, 64, filters, LastDeclared)
	require.True(t, ok)
	assert.Equal(t, "b", m.Filter)
}

func TestBest_ScoresOverQuantizerWidth(t *testing.T) {
	const bits = 48
	for _, s := range []float64{0.5, 0.65, 0.8} {
		th, err := MinScore(s, bits)
		require.NoError(t, err)
		for d := 0; d < bits; d++ {
			f, err := New("w", fingerprint.Fingerprint{1<<d - 1}, th)
			require.NoError(t, err)
			m, ok := Best(fingerprint.Fingerprint{0}, bits, []ContextFilter{f}, FirstDeclared)
			require.Equal(t, th.Admits(d), ok, "s=%v d=%d", s, d)
			if !ok {
				continue
			}
			assert.Equal(t, d, m.Distance)
			assert.InDelta(t, 1-float64(d)/bits, m.Score, 1e-12)
			assert.Greater(t, m.Score, s, "s=%v d=%d", s, d)
		}
	}
}

func TestBest_DefaultsToPaddedWidth(t *testing.T) {
	m, ok := Best(fingerprint.Fingerprint{0}, 0, []ContextFilter{mustFilter(t, "a", 0b1, 5)}, FirstDeclared)
	require.True(t, ok)
	assert.InDelta(t, 1-1.0/64, m.Score, 1e-12)
}

func TestBest_NoFilters(t *testing.T) {
	_, ok := Best(fingerprint.Fingerprint{0}, 64, nil, FirstDeclared)
	assert.False(t, ok)
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, FirstDeclared, tb)
	tb, err = ParseTieBreak("last")
	require.NoError(t, err)
	assert.Equal(t, LastDeclared, tb)
	_, err = ParseTieBreak("random")
	assert.Error(t, err)
}

func TestSet(t *testing.T) {
	s, err := NewSet(mustFilter(t, "a", 1, 3), mustFilter(t, "b", 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.Equal(t, 2, s.Len())

	err = s.Add(mustFilter(t, "a", 3, 3))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	th, _ := MaxDistance(3)
	wide, err := New("wide", fingerprint.Fingerprint{1, 2}, th)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Add(wide), domain.ErrDimensionMismatch)

	f, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", f.Name())
	_, ok = s.Get("zzz")
	assert.False(t, ok)
}

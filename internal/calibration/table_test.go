package calibration

import (
	"testing"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testFrequencies = []float64{0.0124, 0.0156, 0.0197, 0.0248}
	testDistances   = []float64{20, 30, 40, 50, 60, 70, 80, 90}
)

// testGrid builds rows where the correction is linear in distance so
// interpolated values are easy to predict.
func testGrid(nfreq int) [][]float64 {
	rows := make([][]float64, len(testDistances))
	for i, d := range testDistances {
		row := make([]float64, nfreq)
		for j := range row {
			row[j] = -0.01*d + 0.1*float64(j)
		}
		rows[i] = row
	}
	return rows
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(testFrequencies, testDistances, map[int][][]float64{
		60: testGrid(len(testFrequencies) - 1),
		90: testGrid(len(testFrequencies)),
	})
	require.NoError(t, err)
	return tbl
}

func TestBucket_SixtySecondGridSkipsFirstFrequency(t *testing.T) {
	tbl := newTestTable(t)

	b60, err := tbl.Bucket(60)
	require.NoError(t, err)
	assert.Equal(t, testFrequencies[1:], b60.Frequencies())

	b90, err := tbl.Bucket(90)
	require.NoError(t, err)
	assert.Equal(t, testFrequencies, b90.Frequencies())
	assert.Equal(t, 90, b90.Duration())
}

func TestBucket_MissingDurationIsFatal(t *testing.T) {
	tbl := newTestTable(t)

	_, err := tbl.Bucket(120)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingFrequencyDistanceTable)
	assert.True(t, domain.IsFatal(err))
}

func TestCorrection_ExactDistanceReturnsStoredRow(t *testing.T) {
	tbl := newTestTable(t)
	b, err := tbl.Bucket(90)
	require.NoError(t, err)

	got, err := b.Correction(40)
	require.NoError(t, err)
	assert.Equal(t, testGrid(len(testFrequencies))[2], got)

	// The caller owns the returned row.
	got[0] = 99
	again, err := b.Correction(40)
	require.NoError(t, err)
	assert.NotEqual(t, 99.0, again[0])
}

func TestCorrection_InterpolatesBetweenDistances(t *testing.T) {
	tbl := newTestTable(t)
	b, err := tbl.Bucket(90)
	require.NoError(t, err)

	got, err := b.Correction(45)
	require.NoError(t, err)
	require.Len(t, got, len(testFrequencies))
	for j, v := range got {
		assert.InDelta(t, -0.45+0.1*float64(j), v, 1e-9)
	}
}

func TestCorrection_BoundsAreInclusive(t *testing.T) {
	tbl := newTestTable(t)
	b, err := tbl.Bucket(60)
	require.NoError(t, err)

	_, err = b.Correction(20)
	require.NoError(t, err)
	_, err = b.Correction(90)
	require.NoError(t, err)

	for _, d := range []float64{19.999, 90.001, 200} {
		_, err = b.Correction(d)
		require.Error(t, err, "distance %v", d)
		assert.ErrorIs(t, err, domain.ErrDistanceOutOfRange)
		reason, ok := domain.RejectionReason(err)
		assert.True(t, ok)
		assert.Equal(t, domain.ReasonDistanceOutOfRange, reason)
	}
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name        string
		frequencies []float64
		distances   []float64
		grids       map[int][][]float64
		wantErr     string
	}{
		{
			name:        "unsorted frequencies",
			frequencies: []float64{0.02, 0.01},
			distances:   testDistances,
			wantErr:     "frequencies",
		},
		{
			name:        "single distance",
			frequencies: testFrequencies,
			distances:   []float64{30},
			wantErr:     "two distances",
		},
		{
			name:        "wrong row count",
			frequencies: testFrequencies,
			distances:   testDistances,
			grids:       map[int][][]float64{90: testGrid(len(testFrequencies))[:3]},
			wantErr:     "rows",
		},
		{
			name:        "sixty second grid with full rows",
			frequencies: testFrequencies,
			distances:   testDistances,
			grids:       map[int][][]float64{60: testGrid(len(testFrequencies))},
			wantErr:     "row 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.frequencies, tt.distances, tt.grids)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationTable(t *testing.T) {
	dt := DurationTable{
		{Min: 0, Max: 5.5, Duration: 60},
		{Min: 5.5, Max: 6.5, Duration: 90},
		{Min: 6.5, Max: 10, Duration: 120},
	}

	assert.Equal(t, 60, dt.Duration(4.2))
	assert.Equal(t, 90, dt.Duration(5.5), "lower bound is inclusive")
	assert.Equal(t, 120, dt.Duration(6.5))
	assert.Equal(t, DefaultDuration, dt.Duration(10), "upper bound is exclusive")
	assert.Equal(t, DefaultDuration, dt.Duration(-1))
	assert.Equal(t, []int{90, 60, 120}, dt.Reachable())
}

func TestCheckCoverage(t *testing.T) {
	tbl := newTestTable(t)

	require.NoError(t, tbl.CheckCoverage(DurationTable{{Min: 0, Max: 5, Duration: 60}}))

	err := tbl.CheckCoverage(DurationTable{{Min: 6, Max: 9, Duration: 120}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingFrequencyDistanceTable)
	assert.Contains(t, err.Error(), "120")
}

func TestParseDurationTable(t *testing.T) {
	dt, err := ParseDurationTable([][]float64{{0, 5, 60}, {5, 7, 90}})
	require.NoError(t, err)
	assert.Equal(t, DurationTable{{Min: 0, Max: 5, Duration: 60}, {Min: 5, Max: 7, Duration: 90}}, dt)

	_, err = ParseDurationTable([][]float64{{0, 5}})
	assert.Error(t, err)
	_, err = ParseDurationTable([][]float64{{5, 0, 60}})
	assert.Error(t, err)
	_, err = ParseDurationTable([][]float64{{0, 5, 60.5}})
	assert.Error(t, err)
}

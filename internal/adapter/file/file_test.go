package file_test

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/me-compute/internal/adapter/file"
	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waveforms.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestExtractor_Batches(t *testing.T) {
	path := writeInput(t, `{"n":1}`, "", `{"n":2}`, `  {"n":3}  `)
	ext, err := file.NewExtractor(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ext.Close() })

	ctx := context.Background()
	batch, err := ext.ExtractBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.JSONEq(t, `{"n":1}`, string(batch[0].Value))
	assert.Equal(t, int64(1), batch[0].Offset)
	assert.JSONEq(t, `{"n":2}`, string(batch[1].Value))
	assert.Equal(t, int64(3), batch[1].Offset)
	assert.Equal(t, path, batch[1].Topic)
	assert.Nil(t, batch[0].Commit)

	batch, err = ext.ExtractBatch(ctx, 2)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, batch, 1)
	assert.Equal(t, `{"n":3}`, string(batch[0].Value))

	batch, err = ext.ExtractBatch(ctx, 2)
	require.ErrorIs(t, err, io.EOF)
	assert.Empty(t, batch)
}

func TestExtractor_MissingFile(t *testing.T) {
	_, err := file.NewExtractor(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}

func TestExtractor_CancelledContext(t *testing.T) {
	ext, err := file.NewExtractor(writeInput(t, `{"n":1}`))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ext.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ext.ExtractBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestLoader_WritesAllFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	l, err := file.NewLoader(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	processedAt := time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)
	batch := domain.ResultBatch{
		Measurements: []domain.WaveformMeasurement{
			{EventID: "ev-1", Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ", DistanceDeg: 45.5, Me: domain.Float(6.25), SNR: 12, ProcessedAt: processedAt},
			{EventID: "ev-1", Network: "IU", Station: "COLA", Channel: "BHZ", Rejection: domain.ReasonLowSNR, ProcessedAt: processedAt},
		},
		Events: []domain.EventResult{{
			Aggregate: domain.EventAggregate{
				EventID:       "ev-1",
				Me:            domain.Float(6.25),
				MeStdDev:      domain.Float(0),
				WaveformsUsed: 1,
				StationsTotal: 2,
				Waveforms:     1,
				Statistic:     "me_p",
				Magnitude:     6.1,
				MagnitudeType: "Mw",
				ProcessedAt:   processedAt,
			},
			Residuals: []domain.StationResidual{
				{EventID: "ev-1", Network: "IU", Station: "ANMO", StationMe: domain.Float(6.25), Residual: domain.Float(0), DistanceDeg: 45.5},
			},
		}},
	}
	require.NoError(t, l.LoadBatch(context.Background(), batch))
	require.NoError(t, l.LoadBatch(context.Background(), domain.ResultBatch{}))

	ms := readCSV(t, filepath.Join(dir, file.MeasurementsFile))
	require.Len(t, ms, 3)
	assert.Equal(t, file.MeasurementHeader, ms[0])
	assert.Equal(t, "ev-1", ms[1][0])
	assert.Equal(t, "45.5", ms[1][5])
	assert.Equal(t, "6.25", ms[1][9])
	assert.Equal(t, "2024-04-27T06:00:00Z", ms[1][16])
	assert.Empty(t, ms[2][9], "rejected waveform has no Me")
	assert.Equal(t, domain.ReasonLowSNR, ms[2][15])

	evs := readCSV(t, filepath.Join(dir, file.EventsFile))
	require.Len(t, evs, 2)
	assert.Equal(t, file.EventHeader, evs[0])
	assert.Equal(t, []string{"ev-1", "", "0", "0", "0", "6.1", "Mw", "6.25", "0", "1", "2", "1", "me_p", "2024-04-27T06:00:00Z"}, evs[1])

	res := readCSV(t, filepath.Join(dir, file.ResidualsFile))
	require.Len(t, res, 2)
	assert.Equal(t, file.ResidualHeader, res[0])
	assert.Equal(t, []string{"ev-1", "IU", "ANMO", "6.25", "0", "45.5", "0", "0"}, res[1])
}

func TestLoader_HeadersOnlyWhenNothingLoaded(t *testing.T) {
	dir := t.TempDir()
	l, err := file.NewLoader(dir)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	for _, name := range []string{file.MeasurementsFile, file.EventsFile, file.ResidualsFile} {
		rows := readCSV(t, filepath.Join(dir, name))
		assert.Len(t, rows, 1, name)
	}
}

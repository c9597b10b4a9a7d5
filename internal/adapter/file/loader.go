package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
)

// Output file names written into the output directory.
const (
	MeasurementsFile = "station-energy-magnitude.csv"
	EventsFile       = "energy-magnitude.csv"
	ResidualsFile    = "station-residuals.csv"
)

// Column headers of the output files.
var (
	MeasurementHeader = []string{
		"event_id", "network", "station", "location", "channel",
		"station_event_distance_deg", "station_latitude", "station_longitude", "station_elevation",
		"station_energy_magnitude", "signal_to_noise_ratio",
		"signal_corrected_spectrum_velocity_squared_integral",
		"signal_amplitude_anomaly_score", "signal_is_saturated", "signal_sampling_rate",
		"rejection", "processed_at",
	}
	EventHeader = []string{
		"event_id", "time", "latitude", "longitude", "depth_km", "magnitude", "magnitude_type",
		"Me", "Me_stddev", "Me_waveforms_used", "stations", "waveforms", "statistic", "processed_at",
	}
	ResidualHeader = []string{
		"event_id", "network", "station", "station_energy_magnitude", "residual",
		"station_event_distance_deg", "station_latitude", "station_longitude",
	}
)

// Loader appends batch results to three CSV files. It implements
// pipeline.BatchLoader. Headers are written when the loader is created.
type Loader struct {
	mu           sync.Mutex
	files        []*os.File
	measurements *csv.Writer
	events       *csv.Writer
	residuals    *csv.Writer
}

// NewLoader creates dir if needed and truncates the output files in it.
func NewLoader(dir string) (*Loader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	l := &Loader{}
	var err error
	if l.measurements, err = l.create(filepath.Join(dir, MeasurementsFile), MeasurementHeader); err != nil {
		return nil, errors.Join(err, l.Close())
	}
	if l.events, err = l.create(filepath.Join(dir, EventsFile), EventHeader); err != nil {
		return nil, errors.Join(err, l.Close())
	}
	if l.residuals, err = l.create(filepath.Join(dir, ResidualsFile), ResidualHeader); err != nil {
		return nil, errors.Join(err, l.Close())
	}
	return l, nil
}

func (l *Loader) create(path string, header []string) (*csv.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	l.files = append(l.files, f)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write %s header: %w", filepath.Base(path), err)
	}
	w.Flush()
	return w, w.Error()
}

// LoadBatch appends one row per measurement, event and residual, then
// flushes every file.
func (l *Loader) LoadBatch(_ context.Context, batch domain.ResultBatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range batch.Measurements {
		if err := l.measurements.Write(measurementRow(batch.Measurements[i])); err != nil {
			return fmt.Errorf("write measurement: %w", err)
		}
	}
	for i := range batch.Events {
		ev := batch.Events[i]
		if err := l.events.Write(eventRow(ev.Aggregate)); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		for _, r := range ev.Residuals {
			if err := l.residuals.Write(residualRow(r)); err != nil {
				return fmt.Errorf("write residual: %w", err)
			}
		}
	}

	var errs []error
	for _, w := range []*csv.Writer{l.measurements, l.events, l.residuals} {
		w.Flush()
		errs = append(errs, w.Error())
	}
	return errors.Join(errs...)
}

// Close closes every output file.
func (l *Loader) Close() error {
	var errs []error
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func measurementRow(m domain.WaveformMeasurement) []string {
	return []string{
		m.EventID, m.Network, m.Station, m.Location, m.Channel,
		formatFloat(m.DistanceDeg), formatFloat(m.StationLatitude), formatFloat(m.StationLongitude), formatFloat(m.StationElevation),
		formatOptional(m.Me), formatFloat(m.SNR),
		formatFloat(m.SpectralIntegral),
		formatOptional(m.AnomalyScore), strconv.FormatBool(m.IsSaturated), formatFloat(m.SamplingRate),
		m.Rejection, formatTime(m.ProcessedAt),
	}
}

func eventRow(a domain.EventAggregate) []string {
	return []string{
		a.EventID, formatTime(a.Time), formatFloat(a.Latitude), formatFloat(a.Longitude), formatFloat(a.DepthKm),
		formatFloat(a.Magnitude), a.MagnitudeType,
		formatOptional(a.Me), formatOptional(a.MeStdDev), strconv.Itoa(a.WaveformsUsed),
		strconv.Itoa(a.StationsTotal), strconv.Itoa(a.Waveforms), a.Statistic, formatTime(a.ProcessedAt),
	}
}

func residualRow(r domain.StationResidual) []string {
	return []string{
		r.EventID, r.Network, r.Station, formatOptional(r.StationMe), formatOptional(r.Residual),
		formatFloat(r.DistanceDeg), formatFloat(r.Latitude), formatFloat(r.Longitude),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatOptional leaves absent values empty.
func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

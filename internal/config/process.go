package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/me-compute/internal/aggregate"
	"github.com/couchcryptid/me-compute/internal/calibration"
	"github.com/couchcryptid/me-compute/internal/estimator"
	"github.com/couchcryptid/me-compute/internal/spectral"
	"gopkg.in/yaml.v3"
)

// Process holds the processing parameters read from the YAML file named by
// PROCESS_CONFIG.
type Process struct {
	Preprocess        Preprocess    `yaml:"preprocess"`
	SNWindows         SNWindows     `yaml:"sn_windows"`
	SNSpectra         SNSpectra     `yaml:"sn_spectra"`
	SNRThreshold      float64       `yaml:"snr_threshold"`
	AmpRatioThreshold float64       `yaml:"amp_ratio_threshold"`
	EnergyScaleFactor float64       `yaml:"energy_scale_factor"`
	MagRange2Duration [][]float64   `yaml:"magrange2duration"`
	FreqDistTable     FreqDistTable `yaml:"freq_dist_table"`
	Aggregate         Aggregate     `yaml:"aggregate"`

	durations calibration.DurationTable
	table     *calibration.Table
	strategy  aggregate.Strategy
}

// Preprocess configures filtering and instrument correction.
type Preprocess struct {
	BandpassFreqMin          float64 `yaml:"bandpass_freq_min"`
	BandpassFreqMax          float64 `yaml:"bandpass_freq_max"`
	BandpassMaxNyquistRatio  float64 `yaml:"bandpass_max_nyquist_ratio"`
	BandpassCorners          int     `yaml:"bandpass_corners"`
	RemoveResponseOutput     string  `yaml:"remove_response_output"`
	RemoveResponseWaterLevel float64 `yaml:"remove_response_water_level"`
}

// SNWindows positions the signal and noise windows.
type SNWindows struct {
	// ArrivalTimeShift is added to the arrival time, in seconds.
	ArrivalTimeShift float64 `yaml:"arrival_time_shift"`
}

// SNSpectra configures the window spectra.
type SNSpectra struct {
	Type               string  `yaml:"type"`
	SmoothingWlenRatio float64 `yaml:"smoothing_wlen_ratio"`
	Taper              Taper   `yaml:"taper"`
}

// Taper is applied to each padded window before its FFT.
type Taper struct {
	MaxPercentage float64 `yaml:"max_percentage"`
	Type          string  `yaml:"type"`
}

// FreqDistTable is the attenuation table. Grids are keyed by window
// duration in seconds.
type FreqDistTable struct {
	Frequencies []float64           `yaml:"frequencies"`
	Distances   []float64           `yaml:"distances"`
	Grids       map[int][][]float64 `yaml:"grids"`
}

// Aggregate configures the event statistic.
type Aggregate struct {
	Statistic      string       `yaml:"statistic"`
	Percentiles    []float64    `yaml:"percentiles"`
	Rounding       int          `yaml:"rounding"`
	ScoreThreshold float64      `yaml:"score_threshold"`
	AnomalyScore   AnomalyScore `yaml:"anomaly_score"`
}

// AnomalyScore is the calibration range of the anomaly model.
type AnomalyScore struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func defaultProcess() Process {
	return Process{
		Preprocess: Preprocess{
			BandpassFreqMin:          0.02,
			BandpassFreqMax:          20,
			BandpassMaxNyquistRatio:  0.9,
			BandpassCorners:          2,
			RemoveResponseOutput:     "VEL",
			RemoveResponseWaterLevel: 60,
		},
		SNSpectra: SNSpectra{
			Type:               spectral.Amplitude,
			SmoothingWlenRatio: 0.05,
			Taper:              Taper{MaxPercentage: 0.05, Type: "cosine"},
		},
		SNRThreshold:      3,
		AmpRatioThreshold: 0.8,
		EnergyScaleFactor: estimator.DefaultEnergyScaleFactor,
		Aggregate: Aggregate{
			Statistic:      aggregate.StatisticTrimmed,
			Percentiles:    []float64{aggregate.DefaultLowPercentile, aggregate.DefaultHighPercentile},
			Rounding:       aggregate.DefaultPrecision,
			ScoreThreshold: aggregate.DefaultScoreThreshold,
			AnomalyScore: AnomalyScore{
				Min: aggregate.DefaultScoreCalibration.Min,
				Max: aggregate.DefaultScoreCalibration.Max,
			},
		},
	}
}

// LoadProcess reads and validates the processing YAML at path.
func LoadProcess(path string) (*Process, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PROCESS_CONFIG: %w", err)
	}
	defer f.Close()

	p, err := ParseProcess(f)
	if err != nil {
		return nil, fmt.Errorf("PROCESS_CONFIG %s: %w", path, err)
	}
	return p, nil
}

// ParseProcess decodes processing YAML over the defaults, rejecting unknown
// keys, then validates it and builds the calibration table.
func ParseProcess(r io.Reader) (*Process, error) {
	p := defaultProcess()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Process) validate() error {
	pre := p.Preprocess
	if pre.BandpassCorners <= 0 {
		return errors.New("preprocess.bandpass_corners must be positive")
	}
	if !(pre.BandpassFreqMin > 0 && pre.BandpassFreqMin < pre.BandpassFreqMax) {
		return errors.New("preprocess: need 0 < bandpass_freq_min < bandpass_freq_max")
	}
	if !(pre.BandpassMaxNyquistRatio > 0 && pre.BandpassMaxNyquistRatio < 1) {
		return errors.New("preprocess.bandpass_max_nyquist_ratio must be in (0, 1)")
	}
	if _, err := spectral.UnitOrder(pre.RemoveResponseOutput); err != nil {
		return fmt.Errorf("preprocess.remove_response_output: %w", err)
	}
	if t := p.SNSpectra.Type; t != spectral.Amplitude && t != spectral.Power {
		return fmt.Errorf("sn_spectra.type %q must be amp or pow", t)
	}
	if r := p.SNSpectra.SmoothingWlenRatio; r < 0 || r > 1 {
		return errors.New("sn_spectra.smoothing_wlen_ratio must be in [0, 1]")
	}
	if m := p.SNSpectra.Taper.MaxPercentage; m < 0 || m > 0.5 {
		return errors.New("sn_spectra.taper.max_percentage must be in [0, 0.5]")
	}
	if t := p.SNSpectra.Taper.Type; t != "cosine" {
		return fmt.Errorf("sn_spectra.taper.type %q: only cosine is supported", t)
	}
	if !(p.AmpRatioThreshold > 0 && p.AmpRatioThreshold <= 1) {
		return errors.New("amp_ratio_threshold must be in (0, 1]")
	}
	if !(p.EnergyScaleFactor > 0) {
		return errors.New("energy_scale_factor must be positive")
	}

	durations, err := calibration.ParseDurationTable(p.MagRange2Duration)
	if err != nil {
		return err
	}
	table, err := calibration.NewTable(p.FreqDistTable.Frequencies, p.FreqDistTable.Distances, p.FreqDistTable.Grids)
	if err != nil {
		return fmt.Errorf("freq_dist_table: %w", err)
	}
	if err := table.CheckCoverage(durations); err != nil {
		return fmt.Errorf("freq_dist_table: %w", err)
	}

	if len(p.Aggregate.Percentiles) != 2 {
		return errors.New("aggregate.percentiles must hold [low, high]")
	}
	if p.Aggregate.Rounding < 0 {
		return errors.New("aggregate.rounding must not be negative")
	}
	strategy, err := aggregate.NewStrategy(p.AggregateOptions())
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	p.durations = durations
	p.table = table
	p.strategy = strategy
	return nil
}

// Table returns the validated attenuation table.
func (p *Process) Table() *calibration.Table { return p.table }

// Strategy returns the configured event statistic.
func (p *Process) Strategy() aggregate.Strategy { return p.strategy }

// EstimatorConfig maps the processing parameters onto the estimator.
func (p *Process) EstimatorConfig() estimator.Config {
	return estimator.Config{
		BandpassFreqMin:         p.Preprocess.BandpassFreqMin,
		BandpassFreqMax:         p.Preprocess.BandpassFreqMax,
		BandpassCorners:         p.Preprocess.BandpassCorners,
		BandpassMaxNyquistRatio: p.Preprocess.BandpassMaxNyquistRatio,
		ResponseOutput:          p.Preprocess.RemoveResponseOutput,
		ResponseWaterLevel:      p.Preprocess.RemoveResponseWaterLevel,
		ArrivalTimeShift:        time.Duration(p.SNWindows.ArrivalTimeShift * float64(time.Second)),
		SNRThreshold:            p.SNRThreshold,
		AmpRatioThreshold:       p.AmpRatioThreshold,
		SpectrumType:            p.SNSpectra.Type,
		SmoothingWindowRatio:    p.SNSpectra.SmoothingWlenRatio,
		SpectrumTaper:           p.SNSpectra.Taper.MaxPercentage,
		EnergyScaleFactor:       p.EnergyScaleFactor,
		Durations:               p.durations,
		Table:                   p.table,
	}
}

// AggregateOptions maps the aggregate section onto a strategy selection.
func (p *Process) AggregateOptions() aggregate.Options {
	opts := aggregate.Options{
		Statistic:      p.Aggregate.Statistic,
		ScoreThreshold: p.Aggregate.ScoreThreshold,
		Calibration: aggregate.ScoreCalibration{
			Min: p.Aggregate.AnomalyScore.Min,
			Max: p.Aggregate.AnomalyScore.Max,
		},
	}
	if len(p.Aggregate.Percentiles) == 2 {
		opts.LowPercentile = p.Aggregate.Percentiles[0]
		opts.HighPercentile = p.Aggregate.Percentiles[1]
	}
	return opts
}

package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Waveform sources.
const (
	SourceKafka = "kafka"
	SourceFile  = "file"
)

// SQL drivers accepted by DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Source    string
	InputPath string

	KafkaBrokers          []string
	KafkaSourceTopic      string
	KafkaMeasurementTopic string
	KafkaEventTopic       string
	KafkaGroupID          string
	// KafkaSinkEnabled publishes results to Kafka. File runs only publish
	// when KAFKA_BROKERS is set explicitly.
	KafkaSinkEnabled bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration
	Workers            int
	EventTimeout       time.Duration

	ProcessConfigPath string
	OutputDir         string
	DBDriver          string
	DBDSN             string

	// Anomaly scoring configuration.
	ScorerURL       string
	ScorerEnabled   bool
	ScorerTimeout   time.Duration
	ScorerCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	eventTimeout, err := parsePositiveDuration("EVENT_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}

	scorerTimeout, err := parsePositiveDuration("SCORER_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("WORKERS", runtime.GOMAXPROCS(0))
	if err != nil {
		return nil, err
	}

	scorerCacheSize, err := parsePositiveInt("SCORER_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	scorerURL := os.Getenv("SCORER_URL")
	scorerEnabled := scorerURL != ""
	if v := os.Getenv("SCORER_ENABLED"); v != "" {
		scorerEnabled = v == "true"
	}

	cfg := &Config{
		Source:    sharedcfg.EnvOrDefault("SOURCE", SourceKafka),
		InputPath: os.Getenv("INPUT_PATH"),

		KafkaBrokers:          sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:      sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-waveforms"),
		KafkaMeasurementTopic: sharedcfg.EnvOrDefault("KAFKA_MEASUREMENT_TOPIC", "station-energy-magnitudes"),
		KafkaEventTopic:       sharedcfg.EnvOrDefault("KAFKA_EVENT_TOPIC", "event-energy-magnitudes"),
		KafkaGroupID:          sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "me-compute"),
		KafkaSinkEnabled:      os.Getenv("SOURCE") != SourceFile || os.Getenv("KAFKA_BROKERS") != "",

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		Workers:            workers,
		EventTimeout:       eventTimeout,

		ProcessConfigPath: sharedcfg.EnvOrDefault("PROCESS_CONFIG", "config/process.yaml"),
		OutputDir:         os.Getenv("OUTPUT_DIR"),
		DBDriver:          sharedcfg.EnvOrDefault("DB_DRIVER", DriverSQLite),
		DBDSN:             os.Getenv("DB_DSN"),

		ScorerURL:       scorerURL,
		ScorerEnabled:   scorerEnabled,
		ScorerTimeout:   scorerTimeout,
		ScorerCacheSize: scorerCacheSize,
	}

	switch cfg.Source {
	case SourceKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	case SourceFile:
		if cfg.InputPath == "" {
			return nil, errors.New("INPUT_PATH is required when SOURCE is file")
		}
	default:
		return nil, fmt.Errorf("invalid SOURCE %q: must be kafka or file", cfg.Source)
	}

	if cfg.DBDriver != DriverSQLite && cfg.DBDriver != DriverPostgres {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: must be sqlite or postgres", cfg.DBDriver)
	}
	if cfg.ScorerEnabled && cfg.ScorerURL == "" {
		return nil, errors.New("SCORER_ENABLED is true but SCORER_URL is not set")
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

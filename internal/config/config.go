package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Surveillance configuration.
	AlertScheme   domain.AlertScheme
	ProfilePath   string
	HistoryPath   string
	RetentionDays int
	// AlertMultiplier overrides the profile's k when non-zero.
	AlertMultiplier float64

	// Open-Meteo archive client configuration.
	OpenMeteoBaseURL   string
	OpenMeteoTimeout   time.Duration
	OpenMeteoCacheSize int
}

// CorridorEnabled reports whether a history file was configured.
func (c *Config) CorridorEnabled() bool {
	return c.HistoryPath != ""
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

	scheme, err := domain.ParseAlertScheme(sharedcfg.EnvOrDefault("ALERT_SCHEME", string(domain.SchemeSenapred)))
	if err != nil {
		return nil, fmt.Errorf("invalid ALERT_SCHEME: %w", err)
	}

	retention, err := strconv.Atoi(sharedcfg.EnvOrDefault("RETENTION_DAYS", "400"))
	if err != nil || retention < 3 {
		return nil, errors.New("invalid RETENTION_DAYS: must be an integer >= 3")
	}

	multiplier, err := parseAlertMultiplier()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("OPENMETEO_TIMEOUT", "10s"))
	if err != nil || fetchTimeout <= 0 {
		return nil, errors.New("invalid OPENMETEO_TIMEOUT")
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-surveillance-readings"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "classified-surveillance-days"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "heat-surveillance-etl"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		AlertScheme:     scheme,
		ProfilePath:     os.Getenv("PROFILE_PATH"),
		HistoryPath:     os.Getenv("HISTORY_PATH"),
		RetentionDays:   retention,
		AlertMultiplier: multiplier,

		OpenMeteoBaseURL:   sharedcfg.EnvOrDefault("OPENMETEO_BASE_URL", "https://archive-api.open-meteo.com/v1/archive"),
		OpenMeteoTimeout:   fetchTimeout,
		OpenMeteoCacheSize: parseOpenMeteoCacheSize(),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.CorridorEnabled() && cfg.ProfilePath == "" {
		return nil, errors.New("HISTORY_PATH is set but PROFILE_PATH is not")
	}

	return cfg, nil
}

func parseAlertMultiplier() (float64, error) {
	s := os.Getenv("CORRIDOR_ALERT_MULTIPLIER")
	if s == "" {
		return 0, nil
	}
	k, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(k) || math.IsInf(k, 0) || k < 1 {
		return 0, errors.New("invalid CORRIDOR_ALERT_MULTIPLIER: must be a number >= 1")
	}
	return k, nil
}

func parseOpenMeteoCacheSize() int {
	if s := os.Getenv("OPENMETEO_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 256
}

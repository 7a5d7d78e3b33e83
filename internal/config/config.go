package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDatabase   = errors.New("PGDATABASE or DATABASE_URL must be set")
	ErrMissingVehicleIDs = errors.New("VEHICLE_IDS_FILE must point to an existing file")
)

type Config struct {
	DatabaseURL string `yaml:"databaseURL" validate:"required"`

	ChannelBackend    string `yaml:"channelBackend" validate:"oneof=nats redis"`
	NATSURL           string `yaml:"natsURL" validate:"required_if=ChannelBackend nats"`
	NATSStreamName    string `yaml:"natsStreamName" validate:"required_if=ChannelBackend nats"`
	NATSDurablePrefix string `yaml:"natsDurablePrefix"`
	NATSMaxDeliver    int    `yaml:"natsMaxDeliver" validate:"gte=0"`
	RedisAddress      string `yaml:"redisAddress" validate:"required_if=ChannelBackend redis"`
	RedisPassword     string `yaml:"-"`
	RedisDatabase     int    `yaml:"redisDatabase" validate:"gte=0"`

	BreadcrumbSubject string `yaml:"breadcrumbSubject" validate:"required"`
	StopEventSubject  string `yaml:"stopEventSubject" validate:"required"`

	DrainIdleTimeout  time.Duration `yaml:"-" validate:"gt=0"`
	PublishMaxPending int           `yaml:"publishMaxPending" validate:"gt=0"`

	SpoolDir       string        `yaml:"spoolDir" validate:"required"`
	VehicleIDsFile string        `yaml:"vehicleIDsFile"`
	BreadcrumbURL  string        `yaml:"breadcrumbURL" validate:"required,url"`
	StopEventURL   string        `yaml:"stopEventURL" validate:"required,url"`
	HTTPTimeout    time.Duration `yaml:"-" validate:"gt=0"`

	TripTable       string `yaml:"tripTable" validate:"required"`
	BreadcrumbTable string `yaml:"breadcrumbTable" validate:"required"`
	StopEventTable  string `yaml:"stopEventTable" validate:"required"`

	MetricsAddr string         `yaml:"metricsAddr"`
	LogFormat   string         `yaml:"logFormat" validate:"oneof=console json"`
	LogLevel    string         `yaml:"logLevel"`
	Location    *time.Location `yaml:"-" validate:"-"`
}

// fileConfig is the subset of settings accepted from CONFIG_FILE. Durations
// are plain seconds so the YAML stays readable.
type fileConfig struct {
	Config              `yaml:",inline"`
	DrainIdleTimeoutSec int `yaml:"drainIdleTimeoutSec"`
	HTTPTimeoutSec      int `yaml:"httpTimeoutSec"`
}

func defaults() *Config {
	return &Config{
		ChannelBackend:    "nats",
		NATSURL:           "nats://127.0.0.1:4222",
		NATSStreamName:    "TRIMET",
		NATSDurablePrefix: "trimet",
		NATSMaxDeliver:    5,
		RedisAddress:      "127.0.0.1:6379",
		BreadcrumbSubject: "trimet.breadcrumbs",
		StopEventSubject:  "trimet.stopevents",
		DrainIdleTimeout:  60 * time.Second,
		PublishMaxPending: 1024,
		SpoolDir:          "spool",
		BreadcrumbURL:     "https://busdata.cs.pdx.edu/api/getBreadCrumbs",
		StopEventURL:      "https://busdata.cs.pdx.edu/api/getStopEvents",
		HTTPTimeout:       10 * time.Second,
		TripTable:         "trip",
		BreadcrumbTable:   "breadcrumb",
		StopEventTable:    "stop_events",
		LogFormat:         "console",
		LogLevel:          "info",
		Location:          time.Local,
	}
}

// Load assembles the configuration from defaults, an optional YAML file
// (CONFIG_FILE) and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		if cfg.DatabaseURL == "" {
			return nil, ErrMissingDatabase
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	*cfg = fc.Config
	if fc.DrainIdleTimeoutSec > 0 {
		cfg.DrainIdleTimeout = time.Duration(fc.DrainIdleTimeoutSec) * time.Second
	}
	if fc.HTTPTimeoutSec > 0 {
		cfg.HTTPTimeout = time.Duration(fc.HTTPTimeoutSec) * time.Second
	}
	return nil
}

func applyEnv(cfg *Config) error {
	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	if dsn != "" {
		cfg.DatabaseURL = dsn
	}

	setString(&cfg.ChannelBackend, "CHANNEL_BACKEND")
	cfg.ChannelBackend = strings.ToLower(strings.TrimSpace(cfg.ChannelBackend))
	setString(&cfg.NATSURL, "NATS_URL")
	setString(&cfg.NATSStreamName, "NATS_STREAM_NAME")
	setString(&cfg.NATSDurablePrefix, "NATS_DURABLE_PREFIX")
	setString(&cfg.RedisAddress, "REDIS_ADDRESS")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.BreadcrumbSubject, "BREADCRUMB_SUBJECT")
	setString(&cfg.StopEventSubject, "STOP_EVENT_SUBJECT")
	setString(&cfg.SpoolDir, "SPOOL_DIR")
	setString(&cfg.VehicleIDsFile, "VEHICLE_IDS_FILE")
	setString(&cfg.BreadcrumbURL, "BREADCRUMB_URL")
	setString(&cfg.StopEventURL, "STOP_EVENT_URL")
	setString(&cfg.TripTable, "TRIP_TABLE")
	setString(&cfg.BreadcrumbTable, "BREADCRUMB_TABLE")
	setString(&cfg.StopEventTable, "STOP_EVENT_TABLE")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if err := setInt(&cfg.NATSMaxDeliver, "NATS_MAX_DELIVER", 0); err != nil {
		return err
	}
	if err := setInt(&cfg.RedisDatabase, "REDIS_DATABASE", 0); err != nil {
		return err
	}
	if err := setInt(&cfg.PublishMaxPending, "PUBLISH_MAX_PENDING", 1); err != nil {
		return err
	}

	if v := os.Getenv("DRAIN_IDLE_TIMEOUT_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return fmt.Errorf("invalid DRAIN_IDLE_TIMEOUT_SEC: %q", v)
		}
		cfg.DrainIdleTimeout = time.Duration(sec) * time.Second
	}
	if v := os.Getenv("HTTP_TIMEOUT_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return fmt.Errorf("invalid HTTP_TIMEOUT_SEC: %q", v)
		}
		cfg.HTTPTimeout = time.Duration(sec) * time.Second
	}

	// Time zone used to interpret OPD_DATE
	if tzName := os.Getenv("TZ"); tzName != "" {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}
	return nil
}

// RequireVehicleIDs is checked by the gather jobs only; the consumers never
// touch the vehicle list.
func (c *Config) RequireVehicleIDs() error {
	if c.VehicleIDsFile == "" {
		return ErrMissingVehicleIDs
	}
	if _, err := os.Stat(c.VehicleIDsFile); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingVehicleIDs, err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setInt(dst *int, key string, min int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = n
	return nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}

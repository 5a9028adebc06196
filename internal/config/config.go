// Package config loads the copier configuration: a YAML file, then
// environment overrides, then connection ids resolved from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-table-copier/internal/schedule"
	"github.com/withObsrvr/obsrvr-table-copier/internal/tables"
)

// ConnEnvPrefix prefixes the environment variables that hold connection URLs.
const ConnEnvPrefix = "TABLE_COPIER_CONN_"

type Config struct {
	Dataset  string `yaml:"dataset" validate:"required"`
	CopierID string `yaml:"copier_id"`

	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Artifacts  ArtifactConfig   `yaml:"artifacts"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Audit      AuditConfig      `yaml:"audit"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Perf       PerfConfig       `yaml:"perf"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type SourceConfig struct {
	ConnectionID    string        `yaml:"connection_id" validate:"required"`
	Driver          string        `yaml:"driver" validate:"required,oneof=postgres postgresql pgx sqlserver mssql sqlite"`
	DSN             string        `yaml:"dsn" validate:"required"`
	Table           string        `yaml:"table" validate:"required"`
	PartitionColumn string        `yaml:"partition_column" validate:"required"`
	Columns         []string      `yaml:"columns" validate:"dive,required"`
	BoundLayout     string        `yaml:"bound_layout"`
	QueryTimeout    time.Duration `yaml:"query_timeout" validate:"gte=0"`
	MaxConns        int           `yaml:"max_conns" validate:"gte=0"`
}

type StorageConfig struct {
	ConnectionID  string        `yaml:"connection_id" validate:"required"`
	Backend       string        `yaml:"backend" validate:"required,oneof=s3 gcs local mem"`
	Bucket        string        `yaml:"bucket" validate:"required"`
	Prefix        string        `yaml:"prefix"`
	LocalDir      string        `yaml:"local_dir" validate:"required_if=Backend local"`
	Endpoint      string        `yaml:"endpoint" validate:"omitempty,url"`
	Region        string        `yaml:"region"`
	Format        string        `yaml:"format" validate:"oneof=csv parquet"`
	Compression   string        `yaml:"compression" validate:"omitempty,oneof=none gzip zstd snappy"`
	UploadTimeout time.Duration `yaml:"upload_timeout" validate:"gte=0"`
}

type ScheduleConfig struct {
	Interval string `yaml:"interval" validate:"required,cadence"`
}

type ArtifactConfig struct {
	Dir             string        `yaml:"dir"`
	NullToken       string        `yaml:"null_token" validate:"nulltoken"`
	RetainOnFailure bool          `yaml:"retain_on_failure"`
	SweepAge        time.Duration `yaml:"sweep_age" validate:"gte=0"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Strict      bool   `yaml:"strict"`
}

type AuditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	BackupDir string `yaml:"backup_dir"`
	Strict    bool   `yaml:"strict"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" validate:"required_if=Enabled true"`
}

type PerfConfig struct {
	MaxInFlightPartitions int           `yaml:"max_in_flight_partitions" validate:"gte=1"`
	RetryAttempts         int           `yaml:"retry_attempts" validate:"gte=0"`
	RetryBackoff          time.Duration `yaml:"retry_backoff" validate:"gte=0"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns the configuration of the daily orders replication.
func Default() Config {
	return Config{
		Dataset:  "orders",
		CopierID: "table-copier",
		Source: SourceConfig{
			ConnectionID:    "postgres_localhost",
			Table:           "orders",
			PartitionColumn: "date",
			QueryTimeout:    30 * time.Minute,
			MaxConns:        4,
		},
		Storage: StorageConfig{
			ConnectionID:  "s3_connection",
			Bucket:        "postgres-to-s3-using-airflow",
			Prefix:        "orders",
			Format:        "csv",
			UploadTimeout: 30 * time.Minute,
		},
		Schedule: ScheduleConfig{Interval: "@daily"},
		Artifacts: ArtifactConfig{
			NullToken: tables.DefaultNullToken,
			SweepAge:  24 * time.Hour,
		},
		Audit: AuditConfig{
			BackupDir: "./audit-backup",
		},
		Checkpoint: CheckpointConfig{
			Dir: "./checkpoints",
		},
		Perf: PerfConfig{
			MaxInFlightPartitions: 1,
			RetryBackoff:          time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides, resolves connection ids and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.ResolveConnections(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for main packages: it exits on error.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	return cfg
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Dataset = getenvDefault("DATASET", cfg.Dataset)
	cfg.CopierID = getenvDefault("COPIER_ID", cfg.CopierID)

	cfg.Source.ConnectionID = getenvDefault("SOURCE_CONN_ID", cfg.Source.ConnectionID)
	cfg.Source.Table = getenvDefault("SOURCE_TABLE", cfg.Source.Table)
	cfg.Source.PartitionColumn = getenvDefault("PARTITION_COLUMN", cfg.Source.PartitionColumn)
	cfg.Source.QueryTimeout = parseDuration(os.Getenv("QUERY_TIMEOUT"), cfg.Source.QueryTimeout)

	cfg.Storage.ConnectionID = getenvDefault("STORAGE_CONN_ID", cfg.Storage.ConnectionID)
	cfg.Storage.Bucket = getenvDefault("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Prefix = getenvDefault("STORAGE_PREFIX", cfg.Storage.Prefix)
	cfg.Storage.Format = getenvDefault("OUTPUT_FORMAT", cfg.Storage.Format)
	cfg.Storage.Compression = getenvDefault("OUTPUT_COMPRESSION", cfg.Storage.Compression)

	cfg.Schedule.Interval = getenvDefault("SCHEDULE_INTERVAL", cfg.Schedule.Interval)

	cfg.Artifacts.Dir = getenvDefault("ARTIFACT_DIR", cfg.Artifacts.Dir)
	if v, ok := os.LookupEnv("NULL_TOKEN"); ok {
		cfg.Artifacts.NullToken = v
	}
	if v := os.Getenv("RETAIN_ON_FAILURE"); v != "" {
		cfg.Artifacts.RetainOnFailure = v == "true"
	}

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)

	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = v == "true"
	}
	cfg.Audit.Endpoint = getenvDefault("AUDIT_ENDPOINT", cfg.Audit.Endpoint)

	if v := os.Getenv("CHECKPOINT_ENABLED"); v != "" {
		cfg.Checkpoint.Enabled = v == "true"
	}
	cfg.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", cfg.Checkpoint.Dir)

	if v := os.Getenv("MAX_IN_FLIGHT_PARTITIONS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Perf.MaxInFlightPartitions = parsed
		}
	}

	cfg.Metrics.Address = getenvDefault("METRICS_ADDR", cfg.Metrics.Address)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]+`)

// ConnEnvVar returns the environment variable that defines connection id.
func ConnEnvVar(id string) string {
	return ConnEnvPrefix + nonAlnum.ReplaceAllString(strings.ToUpper(id), "_")
}

// ResolveConnections fills source and storage settings from their connection
// ids. Values already set explicitly in the file win over the connection.
func (c *Config) ResolveConnections(lookup func(string) (string, bool)) error {
	if c.Source.DSN == "" {
		raw, ok := lookup(ConnEnvVar(c.Source.ConnectionID))
		if !ok || raw == "" {
			return fmt.Errorf("source connection %q is not defined: set %s",
				c.Source.ConnectionID, ConnEnvVar(c.Source.ConnectionID))
		}
		driver, dsn, err := parseSourceURL(raw)
		if err != nil {
			return fmt.Errorf("source connection %q: %w", c.Source.ConnectionID, err)
		}
		c.Source.DSN = dsn
		if c.Source.Driver == "" {
			c.Source.Driver = driver
		}
	}

	if c.Storage.Backend == "" {
		raw, ok := lookup(ConnEnvVar(c.Storage.ConnectionID))
		if !ok || raw == "" {
			return fmt.Errorf("storage connection %q is not defined: set %s",
				c.Storage.ConnectionID, ConnEnvVar(c.Storage.ConnectionID))
		}
		if err := c.Storage.applyURL(raw); err != nil {
			return fmt.Errorf("storage connection %q: %w", c.Storage.ConnectionID, err)
		}
	}
	return nil
}

// parseSourceURL infers the driver from a connection URL's scheme.
func parseSourceURL(raw string) (driver, dsn string, err error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return "", "", errors.New("connection must be a URL such as postgres://user@host/db")
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres", raw, nil
	case "sqlserver":
		return "sqlserver", raw, nil
	case "sqlite", "sqlite3":
		return "sqlite", rest, nil
	}
	return "", "", fmt.Errorf("unsupported source scheme %q", scheme)
}

// applyURL reads s3://?region=..&endpoint=.., gcs://, file:///dir or mem://.
func (s *StorageConfig) applyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse storage URL: %w", err)
	}
	q := u.Query()
	switch u.Scheme {
	case "s3":
		s.Backend = "s3"
		s.Region = firstNonEmpty(s.Region, q.Get("region"))
		s.Endpoint = firstNonEmpty(s.Endpoint, q.Get("endpoint"))
	case "gs", "gcs":
		s.Backend = "gcs"
	case "file":
		s.Backend = "local"
		s.LocalDir = firstNonEmpty(s.LocalDir, u.Path)
	case "mem":
		s.Backend = "mem"
	default:
		return fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
	if u.Host != "" && s.Bucket == "" {
		s.Bucket = u.Host
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cadence", func(fl validator.FieldLevel) bool {
		_, err := schedule.ParseCadence(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("nulltoken", func(fl validator.FieldLevel) bool {
		return tables.ValidateNullToken(fl.Field().String()) == nil
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Format == "csv" && c.Storage.Compression == "snappy" {
		return errors.New("invalid config: snappy compression applies to parquet only")
	}
	return nil
}

// Cadence returns the parsed schedule interval.
func (c *Config) Cadence() schedule.Cadence {
	cad, _ := schedule.ParseCadence(c.Schedule.Interval)
	return cad
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// HTTP server, the backing stores (Postgres, Redis, Kafka), the bootstrapping
// parameters and the annotatable datasets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Datasets  []DatasetConfig `yaml:"datasets"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of requests per minute allowed to one
	// session; zero disables limiting.
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables the database and annotations are kept in memory only.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnnotationEvents string `yaml:"annotationEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// BootstrapConfig holds the parameters of the grouping and pattern passes.
// Alpha and the thresholds follow Collins & Singer.
type BootstrapConfig struct {
	TopK                int     `yaml:"topK"`
	Alpha               float64 `yaml:"alpha"`
	Threshold           float64 `yaml:"threshold"`
	FullStringThreshold float64 `yaml:"fullStringThreshold"`
}

// LabelConfig is one entity label and the colour used to display it.
type LabelConfig struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// DatasetConfig describes one annotatable corpus.
type DatasetConfig struct {
	Name     string        `yaml:"name"`
	Terms    []string      `yaml:"terms"`
	Labels   []LabelConfig `yaml:"labels"`
	Suffixes []string      `yaml:"suffixes"`
}

// LabelNames returns the configured label names in order.
func (d DatasetConfig) LabelNames() []string {
	names := make([]string, 0, len(d.Labels))
	for _, l := range d.Labels {
		names = append(names, l.Name)
	}
	return names
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Dataset returns the dataset with the given name, or
// ErrConfigurationMissing when none is configured.
func (c *Config) Dataset(name string) (DatasetConfig, error) {
	for _, d := range c.Datasets {
		if d.Name == name {
			return d, nil
		}
	}
	return DatasetConfig{}, apperrors.ConfigurationMissing("dataset %q is not configured", name)
}

// Validate checks that every dataset carries the keys a session needs.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Datasets))
	for i, d := range c.Datasets {
		if strings.TrimSpace(d.Name) == "" {
			return apperrors.ConfigurationMissing("datasets[%d]: name is required", i)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("datasets[%d]: duplicate dataset name %q: %w", i, d.Name, apperrors.ErrInvalidInput)
		}
		seen[d.Name] = struct{}{}
		if len(d.Labels) == 0 {
			return apperrors.ConfigurationMissing("dataset %q: labels are required", d.Name)
		}
		for j, l := range d.Labels {
			if strings.TrimSpace(l.Name) == "" {
				return apperrors.ConfigurationMissing("dataset %q: labels[%d] has no name", d.Name, j)
			}
		}
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative: %w", apperrors.ErrInvalidInput)
	}
	if c.Bootstrap.TopK <= 0 {
		return fmt.Errorf("bootstrap.topK must be positive: %w", apperrors.ErrInvalidInput)
	}
	return nil
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the built-in defaults without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       600,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "annotator",
			User:            "annotator",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				AnnotationEvents: "annotation-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Bootstrap: BootstrapConfig{
			TopK:                5,
			Alpha:               0.1,
			Threshold:           0.95,
			FullStringThreshold: 0.8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads BS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := os.LookupEnv("BS_POSTGRES_HOST"); ok {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v, ok := os.LookupEnv("BS_KAFKA_BROKERS"); ok {
		if v == "" {
			cfg.Kafka.Brokers = nil
		} else {
			cfg.Kafka.Brokers = strings.Split(v, ",")
		}
	}
	if v, ok := os.LookupEnv("BS_REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BS_BOOTSTRAP_TOPK"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Bootstrap.TopK = k
		}
	}
	if v := os.Getenv("BS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

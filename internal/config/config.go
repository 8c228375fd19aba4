// Package config loads tabprep settings from defaults, an optional YAML
// file, a .env file and TABPREP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TABPREP_STORE_KIND.
const EnvPrefix = "TABPREP"

// DefaultFile is read from the working directory when no file is given.
const DefaultFile = "tabprep.yaml"

// Config is the full tabprep configuration.
type Config struct {
	DataDir     string            `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	LLM         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Audit       AuditConfig       `mapstructure:"audit" yaml:"audit"`
	Cleaning    CleaningConfig    `mapstructure:"cleaning" yaml:"cleaning"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Problem     ProblemConfig     `mapstructure:"problem" yaml:"problem"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// StoreConfig selects the record store. An empty DSN for the jsonl kind
// means the data directory.
type StoreConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind" validate:"oneof=jsonl sqlite postgres mssql"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

type MetricsConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend" validate:"oneof=none datadog"`
	JobName    string        `mapstructure:"job_name" yaml:"job_name"`
	Tags       string        `mapstructure:"tags" yaml:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every" yaml:"flush_every"`
}

// LLMConfig configures the role resolver. Without an API key the resolver
// is not used and ambiguous columns keep their rule-based role.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1,lte=10"`
}

type CacheConfig struct {
	Kind          string        `mapstructure:"kind" yaml:"kind" validate:"oneof=none memory redis"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr" validate:"required_if=Kind redis"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db" validate:"gte=0"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

// AuditConfig adds a Kafka sink next to the audit file when Brokers is set.
type AuditConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic" yaml:"kafka_topic"`
}

type CleaningConfig struct {
	NormalizeText   bool    `mapstructure:"normalize_text" yaml:"normalize_text"`
	FillTextMissing bool    `mapstructure:"fill_text_missing" yaml:"fill_text_missing"`
	OutlierZ        float64 `mapstructure:"outlier_z" yaml:"outlier_z" validate:"gt=0"`
}

type DiagnosticsConfig struct {
	Profile string `mapstructure:"profile" yaml:"profile" validate:"oneof=canonical extended"`
	Workers int    `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
}

type ProblemConfig struct {
	ArbitrationBias      float64 `mapstructure:"arbitration_bias" yaml:"arbitration_bias" validate:"gte=0,lte=1"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold" yaml:"correlation_threshold" validate:"gt=0,lte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.kind", "jsonl")
	v.SetDefault("store.dsn", "")
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.job_name", "tabprep")
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.flush_every", time.Minute)
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("cache.kind", "memory")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.kafka_topic", "tabprep.audit")
	v.SetDefault("cleaning.normalize_text", false)
	v.SetDefault("cleaning.fill_text_missing", false)
	v.SetDefault("cleaning.outlier_z", 5.0)
	v.SetDefault("diagnostics.profile", "canonical")
	v.SetDefault("diagnostics.workers", 0)
	v.SetDefault("problem.arbitration_bias", 0.25)
	v.SetDefault("problem.correlation_threshold", 0.85)
}

// Load reads the configuration. Precedence: environment (after .env) >
// config file > defaults. An empty cfgFile reads ./tabprep.yaml when it
// exists. A missing explicit file is an error.
func Load(cfgFile string) (*Config, error) {
	// A missing .env is fine; variables already set are not overridden.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	path := cfgFile
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field constraints and returns one error listing every
// violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: rule %q (param %q) failed for %v", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// StoreDSN returns the DSN for the record store, defaulting the jsonl store
// to the data directory.
func (c *Config) StoreDSN() string {
	if c.Store.DSN == "" && c.Store.Kind == "jsonl" {
		return c.DataDir
	}
	return c.Store.DSN
}

// Save writes c as YAML to path, creating the directory if needed.
func Save(c *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

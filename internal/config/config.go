// Package config loads server settings from defaults, an optional YAML file,
// a .env file and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every server setting. YAML keys match the environment
// variable names in lower case.
type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	RedisAddr string `yaml:"redis_addr"`

	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`
	UploadDir      string `yaml:"upload_dir"`

	OracleURL     string        `yaml:"oracle_url"`
	OracleTimeout time.Duration `yaml:"oracle_timeout"`

	DefaultBufferDays int    `yaml:"default_buffer_days"`
	DefaultTrustScore int    `yaml:"default_trust_score"`
	PhoneRegion       string `yaml:"phone_region"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:              "8080",
		DBPath:            "./data/trustfirst.db",
		LogLevel:          "info",
		LogFormat:         "text",
		JWTSecret:         "dev-secret-change-in-production",
		TokenTTL:          24 * time.Hour,
		MinioBucket:       "proofs",
		UploadDir:         "./data/uploads",
		OracleTimeout:     30 * time.Second,
		DefaultBufferDays: 3,
		DefaultTrustScore: 80,
		PhoneRegion:       "IN",
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"PORT":             &c.Port,
		"DB_PATH":          &c.DBPath,
		"LOG_LEVEL":        &c.LogLevel,
		"LOG_FORMAT":       &c.LogFormat,
		"JWT_SECRET":       &c.JWTSecret,
		"REDIS_ADDR":       &c.RedisAddr,
		"MINIO_ENDPOINT":   &c.MinioEndpoint,
		"MINIO_ACCESS_KEY": &c.MinioAccessKey,
		"MINIO_SECRET_KEY": &c.MinioSecretKey,
		"MINIO_BUCKET":     &c.MinioBucket,
		"UPLOAD_DIR":       &c.UploadDir,
		"ORACLE_URL":       &c.OracleURL,
		"PHONE_REGION":     &c.PhoneRegion,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":      &c.TokenTTL,
		"ORACLE_TIMEOUT": &c.OracleTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"DEFAULT_BUFFER_DAYS": &c.DefaultBufferDays,
		"DEFAULT_TRUST_SCORE": &c.DefaultTrustScore,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("MINIO_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MINIO_USE_SSL %q: %w", v, err)
		}
		c.MinioUseSSL = b
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT %q: must be numeric", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("invalid DB_PATH: must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: must be text or json", c.LogFormat)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid TOKEN_TTL %s: must be positive", c.TokenTTL)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("invalid ORACLE_TIMEOUT %s: must be positive", c.OracleTimeout)
	}
	if c.DefaultBufferDays < 0 || c.DefaultBufferDays > 14 {
		return fmt.Errorf("invalid DEFAULT_BUFFER_DAYS %d: must be between 0 and 14", c.DefaultBufferDays)
	}
	if c.DefaultTrustScore < 0 || c.DefaultTrustScore > 100 {
		return fmt.Errorf("invalid DEFAULT_TRUST_SCORE %d: must be between 0 and 100", c.DefaultTrustScore)
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return fmt.Errorf("invalid MINIO_ENDPOINT: MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	if len(c.PhoneRegion) != 2 {
		return fmt.Errorf("invalid PHONE_REGION %q: must be a two-letter region code", c.PhoneRegion)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

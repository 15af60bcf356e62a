// Package config loads Penalty Desk configuration from defaults, an optional
// YAML file, .env and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"penaltydesk-backend/models"
	"penaltydesk-backend/storage"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when present and no explicit path is given
const DefaultConfigFile = "penaltydesk.yaml"

// Store backends
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the complete service configuration
type Config struct {
	Server   ServerConfig          `yaml:"server"`
	Analysis AnalysisConfig        `yaml:"analysis"`
	Upstream UpstreamConfig        `yaml:"upstream"`
	Gemini   GeminiConfig          `yaml:"gemini"`
	Store    StoreConfig           `yaml:"store"`
	Storage  storage.StorageConfig `yaml:"storage"`
	Chat     ChatConfig            `yaml:"chat"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port    string `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
	// CORSOrigins is the origin allow-list; "*" allows any origin
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
}

// AnalysisConfig configures verdict production
type AnalysisConfig struct {
	// Mode is the default analysis mode when a request does not name one
	Mode             models.AnalysisMode `yaml:"mode"`
	DefaultPrompt    string              `yaml:"default_prompt"`
	BatchConcurrency int                 `yaml:"batch_concurrency"`
}

// UpstreamConfig configures the steward query service
type UpstreamConfig struct {
	URL        string        `yaml:"url"`
	LLMChoice  string        `yaml:"llm_choice"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// GeminiConfig configures structured analysis
type GeminiConfig struct {
	APIKey string `yaml:"-"`
	Model  string `yaml:"model"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Type        string `yaml:"type"`
	DatabaseURL string `yaml:"-"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// ChatConfig configures the chat assistant
type ChatConfig struct {
	// Mock answers chats locally instead of calling the query service
	Mock bool `yaml:"mock"`
}

// DefaultConfig returns a Config with defaults for local development
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			GinMode:     "release",
			CORSOrigins: []string{"*"},
			LogLevel:    "info",
		},
		Analysis: AnalysisConfig{
			Mode:             models.ModeHeuristic,
			DefaultPrompt:    "Analyze this Formula 1 penalty incident.",
			BatchConcurrency: 4,
		},
		Upstream: UpstreamConfig{
			URL:        "http://localhost:9000",
			LLMChoice:  models.LLMChoiceDefault,
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Store: StoreConfig{
			Type:       StoreSQLite,
			SQLitePath: "./data/penaltydesk.db",
		},
		Storage: storage.StorageConfig{
			Type:      storage.StorageTypeLocal,
			LocalPath: "./storage/incidents",
		},
	}
}

// Load builds the configuration. An empty path falls back to
// PENALTYDESK_CONFIG and then to DefaultConfigFile when it exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("PENALTYDESK_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables already set in the environment
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString("PORT", &c.Server.Port)
	setString("GIN_MODE", &c.Server.GinMode)
	setString("LOG_LEVEL", &c.Server.LogLevel)
	if v, ok := lookup("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}

	if v, ok := lookup("ANALYSIS_MODE"); ok {
		c.Analysis.Mode = models.AnalysisMode(strings.ToLower(v))
	}
	setString("DEFAULT_PROMPT", &c.Analysis.DefaultPrompt)
	if err := setInt("BATCH_CONCURRENCY", &c.Analysis.BatchConcurrency); err != nil {
		return err
	}

	setString("UPSTREAM_URL", &c.Upstream.URL)
	setString("UPSTREAM_LLM_CHOICE", &c.Upstream.LLMChoice)
	if v, ok := lookup("UPSTREAM_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("UPSTREAM_TIMEOUT: %w", err)
		}
		c.Upstream.Timeout = d
	}
	if err := setInt("UPSTREAM_MAX_RETRIES", &c.Upstream.MaxRetries); err != nil {
		return err
	}

	setString("API_KEY", &c.Gemini.APIKey)
	setString("GEMINI_API_KEY", &c.Gemini.APIKey)
	setString("GEMINI_MODEL", &c.Gemini.Model)

	setString("STORE_TYPE", &c.Store.Type)
	setString("DATABASE_URL", &c.Store.DatabaseURL)
	setString("SQLITE_PATH", &c.Store.SQLitePath)

	if v, ok := lookup("STORAGE_TYPE"); ok {
		c.Storage.Type = storage.StorageType(strings.ToLower(v))
	}
	setString("STORAGE_LOCAL_PATH", &c.Storage.LocalPath)
	setString("AWS_S3_BUCKET", &c.Storage.S3Bucket)
	setString("AWS_REGION", &c.Storage.S3Region)
	setString("AWS_S3_ENDPOINT", &c.Storage.S3Endpoint)
	setString("AWS_ACCESS_KEY_ID", &c.Storage.AWSAccessKey)
	setString("AWS_SECRET_ACCESS_KEY", &c.Storage.AWSSecretKey)

	if v, ok := lookup("CHAT_MOCK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHAT_MOCK: %w", err)
		}
		c.Chat.Mock = b
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if !c.Analysis.Mode.Valid() {
		errs = append(errs, fmt.Errorf("analysis.mode must be %q or %q, got %q", models.ModeHeuristic, models.ModeStructured, c.Analysis.Mode))
	}
	if c.Analysis.Mode == models.ModeStructured && c.Gemini.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY or API_KEY is required for structured analysis"))
	}
	if c.Analysis.BatchConcurrency < 1 {
		errs = append(errs, errors.New("analysis.batch_concurrency must be at least 1"))
	}
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("upstream.url is required"))
	}
	if c.Upstream.LLMChoice != models.LLMChoiceDefault && c.Upstream.LLMChoice != models.LLMChoiceFinetuned {
		errs = append(errs, fmt.Errorf("upstream.llm_choice %q is not supported", c.Upstream.LLMChoice))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}
	if c.Upstream.MaxRetries < 1 {
		errs = append(errs, errors.New("upstream.max_retries must be at least 1"))
	}

	switch c.Store.Type {
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for sqlite"))
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type: %q", c.Store.Type))
	}

	switch c.Storage.Type {
	case storage.StorageTypeLocal, "":
	case storage.StorageTypeS3:
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("AWS_S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type: %q", c.Storage.Type))
	}

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config loads and hot-reloads scan2doc configuration from
// environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Config holds scan2doc's full runtime configuration.
type Config struct {
	OCR     OCRConfig     `mapstructure:"ocr" yaml:"ocr"`
	Health  HealthConfig  `mapstructure:"health" yaml:"health"`
	Queues  QueuesConfig  `mapstructure:"queues" yaml:"queues"`
	Ingest  IngestConfig  `mapstructure:"ingest" yaml:"ingest"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export"`
}

// OCRConfig configures the remote OCR HTTP endpoint (§6 Remote OCR HTTP endpoint).
type OCRConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	DefaultMode    string        `mapstructure:"default_mode" yaml:"default_mode"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// HealthConfig configures the Health Monitor (C3).
type HealthConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
}

// QueuesConfig configures the three bounded queues (C4, §4.5).
type QueuesConfig struct {
	RenderConcurrency int `mapstructure:"render_concurrency" yaml:"render_concurrency"`
	OCRConcurrency    int `mapstructure:"ocr_concurrency" yaml:"ocr_concurrency"`
	GenConcurrency    int `mapstructure:"gen_concurrency" yaml:"gen_concurrency"`
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
}

// IngestConfig configures Ingestor (C6) size limits (§4.7).
type IngestConfig struct {
	MaxImageBytes int64 `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	MaxPDFBytes   int64 `mapstructure:"max_pdf_bytes" yaml:"max_pdf_bytes"`
	ThumbnailMax  int   `mapstructure:"thumbnail_max" yaml:"thumbnail_max"`
}

// ExportConfig configures Doc Generator (C9) export formats.
type ExportConfig struct {
	Formats []string `mapstructure:"formats" yaml:"formats"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCR: OCRConfig{
			BaseURL:        "http://localhost:8088/ocr",
			APIKey:         "${SCAN2DOC_OCR_API_KEY}",
			DefaultMode:    "document",
			RequestTimeout: 0, // no hard client timeout by default, per §5
		},
		Health: HealthConfig{
			PollInterval: 5 * time.Second,
			PollTimeout:  2 * time.Second,
		},
		Queues: QueuesConfig{
			RenderConcurrency: 2,
			OCRConcurrency:    2,
			GenConcurrency:    1,
			QueueSize:         1000,
		},
		Ingest: IngestConfig{
			MaxImageBytes: 10 * 1024 * 1024,
			MaxPDFBytes:   100 * 1024 * 1024,
			ThumbnailMax:  256,
		},
		Export: ExportConfig{
			Formats: []string{"markdown", "docx", "pdf"},
		},
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("ocr", defaults.OCR)
	viper.SetDefault("health", defaults.Health)
	viper.SetDefault("queues", defaults.Queues)
	viper.SetDefault("ingest", defaults.Ingest)
	viper.SetDefault("export", defaults.Export)

	// Environment variables with SCAN2DOC_ prefix
	viper.SetEnvPrefix("SCAN2DOC")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.scan2doc")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# scan2doc configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables.
# export SCAN2DOC_OCR_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

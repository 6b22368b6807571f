package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CTAG07/Trellis/pkg/templating"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	SiteAddr        string   `json:"site_addr" yaml:"site_addr"`
	ApiAddr         string   `json:"api_addr" yaml:"api_addr"`
	LogLevel        string   `json:"log_level" yaml:"log_level"`
	SiteName        string   `json:"site_name" yaml:"site_name"`
	DataDir         string   `json:"data_dir" yaml:"data_dir"`
	DatabasePath    string   `json:"database_path" yaml:"database_path"`
	SiteRoot        string   `json:"site_root" yaml:"site_root"`
	BlogRoot        string   `json:"blog_root" yaml:"blog_root"`
	DisabledSplices []string `json:"disabled_splices" yaml:"disabled_splices"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config" yaml:"server_config"`
	Templates *templating.TemplateConfig `json:"template_config" yaml:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		SiteAddr:        ":7377",
		ApiAddr:         ":7378",
		LogLevel:        "info",
		SiteName:        "Trellis",
		DataDir:         "./data",
		DatabasePath:    "./data/trellis.db?_journal_mode=WAL&_busy_timeout=5000",
		SiteRoot:        "./data/site",
		BlogRoot:        "./data/blog",
		DisabledSplices: []string{},
	}
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	templates := templating.DefaultConfig()
	templates.ErrorTemplate = "_error"
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: templates,
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from path, as YAML for .yaml/.yml files
// and JSON otherwise. If the file doesn't exist, it creates one with default
// values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Templates == nil {
		config.Templates = DefaultConfig().Templates
	}
	return config, nil
}

// ConfigManager handles thread-safe access to the configuration and its file.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

// SetLogger replaces the logger used for config events.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates newConfig and saves it to disk. The template manager is
// sealed once the server is running, so changes apply on the next restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Templates == nil {
		return errors.New("server_config and template_config are required")
	}
	switch p := newConfig.Templates.DuplicatePolicy; p {
	case "", templating.DuplicateError, templating.DuplicateOverride:
	default:
		return fmt.Errorf("unknown duplicate_policy %q", p)
	}
	if _, err := parseLogLevel(newConfig.Server.LogLevel); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	cm.logger.Info("Configuration saved", "path", cm.configPath)
	return nil
}

// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all wevtflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Ingest    IngestConfig    `yaml:"ingest"`
	Render    RenderConfig    `yaml:"render"`
	Cache     CacheConfig     `yaml:"cache"`
	Watch     WatchConfig     `yaml:"watch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// IngestConfig controls directory ingestion defaults.
type IngestConfig struct {
	Extensions string `yaml:"extensions"` // comma-separated allow-list
	Recursive  bool   `yaml:"recursive"`
	Workers    int    `yaml:"workers"` // scan concurrency, 0 = auto
}

// RenderConfig controls XML rendering defaults.
type RenderConfig struct {
	ANSICodec string `yaml:"ansi_codec"` // IANA charset name
}

// WatchConfig controls the directory watcher.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// CacheConfig for cache file handling.
type CacheConfig struct {
	Dir       string `yaml:"dir"`       // default dump/load directory
	Overwrite bool   `yaml:"overwrite"` // allow dump to replace existing files
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	wevtflowDir := filepath.Join(homeDir, ".wevtflow")

	return &Config{
		Version: 1,
		Ingest: IngestConfig{
			Extensions: "exe,dll,sys",
			Recursive:  true,
			Workers:    0, // auto
		},
		Render: RenderConfig{
			ANSICodec: "windows-1252",
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
		Cache: CacheConfig{
			Dir: filepath.Join(wevtflowDir, "cache"),
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/wevtflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".wevtflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".wevtflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	if src.Ingest.Extensions != "" {
		m.config.Ingest.Extensions = src.Ingest.Extensions
	}
	if src.Ingest.Workers != 0 {
		m.config.Ingest.Workers = src.Ingest.Workers
	}

	if src.Render.ANSICodec != "" {
		m.config.Render.ANSICodec = src.Render.ANSICodec
	}

	if src.Watch.DebounceMS != 0 {
		m.config.Watch.DebounceMS = src.Watch.DebounceMS
	}

	if src.Cache.Dir != "" {
		m.config.Cache.Dir = src.Cache.Dir
	}

	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("WEVTFLOW_EXTENSIONS"); v != "" {
		m.config.Ingest.Extensions = v
	}

	if v := os.Getenv("WEVTFLOW_ANSI_CODEC"); v != "" {
		m.config.Render.ANSICodec = v
	}

	if v := os.Getenv("WEVTFLOW_CACHE_DIR"); v != "" {
		m.config.Cache.Dir = v
	}

	if v := os.Getenv("WEVTFLOW_WORKERS"); v != "" {
		var workers int
		if _, err := fmt.Sscanf(v, "%d", &workers); err == nil {
			m.config.Ingest.Workers = workers
		}
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".wevtflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}

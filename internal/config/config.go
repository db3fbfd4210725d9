// Package config handles configuration loading, validation, and persistence
// for rconctl.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultRCONPort   = 25575
	DefaultAPIPort    = 5080

	// PasswordEnv overrides rcon.password when set.
	PasswordEnv = "RCON_PASSWORD"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	RCON    RCONConfig    `json:"rcon"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
	Logging LoggingConfig `json:"logging"`
}

// RCONConfig describes the single server this instance administers.
type RCONConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`

	DialTimeoutSec int  `json:"dial_timeout_sec"`
	IOTimeoutSec   int  `json:"io_timeout_sec"`
	VerifyIDs      bool `json:"verify_ids"`
	RequireAuth    bool `json:"require_auth"`
}

// DialTimeout returns the dial timeout as a duration.
func (r RCONConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutSec) * time.Second
}

// IOTimeout returns the per-exchange timeout as a duration.
func (r RCONConfig) IOTimeout() time.Duration {
	return time.Duration(r.IOTimeoutSec) * time.Second
}

// APIConfig holds the REST bridge settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Listen         string   `json:"listen"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// HistoryConfig holds command history settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// MaxEntries caps the stored commands; 0 keeps everything.
	MaxEntries int `json:"max_entries"`
	// PruneAt is the daily "HH:MM" local time history is trimmed.
	PruneAt string `json:"prune_at"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RCON: RCONConfig{
			Host:           "127.0.0.1",
			Port:           DefaultRCONPort,
			DialTimeoutSec: 10,
			IOTimeoutSec:   30,
			VerifyIDs:      true,
			RequireAuth:    true,
		},
		API: APIConfig{
			Listen: "127.0.0.1",
			Port:   DefaultAPIPort,
		},
		MQTT: MQTTConfig{
			Port: 1883,
		},
		History: HistoryConfig{
			Enabled:    true,
			Path:       filepath.Join(DefaultConfigDir, "history.db"),
			MaxEntries: 10000,
			PruneAt:    "04:00",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    false,
		},
	}
}

// Load reads configuration from configDir/config.json. A missing file is
// created with defaults. Values from the file overlay the defaults and the
// merged result is written back so new fields appear in the file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies environment overrides. It runs after Save so secrets
// from the environment are never persisted.
func (c *Config) applyEnv() {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		c.mu.Lock()
		c.RCON.Password = pw
		c.mu.Unlock()
		log.Debug().Str("env", PasswordEnv).Msg("rcon password taken from environment")
	}
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds the RCON password.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRCON returns a copy of the RCON configuration.
func (c *Config) GetRCON() RCONConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RCON
}

// SetRCON updates the RCON configuration.
func (c *Config) SetRCON(r RCONConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RCON = r
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetHistory returns a copy of the history configuration.
func (c *Config) GetHistory() HistoryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.History
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RCON.Password == ""
}

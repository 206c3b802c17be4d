package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ConfigManager handles configuration loading, validation, and hot reload
type ConfigManager struct {
	currentConfig *Config
	mutex         sync.RWMutex
	watchers      map[string]chan ConfigChangeEvent
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		watchers: make(map[string]chan ConfigChangeEvent),
	}
}

// LoadFromFile loads configuration from a YAML file
func (cm *ConfigManager) LoadFromFile(ctx context.Context, filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cm.ValidateConfig(ctx, config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.mutex.Lock()
	cm.currentConfig = config
	cm.mutex.Unlock()

	return config, nil
}

// Parse decodes YAML configuration, substituting ${VAR} references and
// filling defaults. The result is not validated.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Activity.ShowDelay == "" {
		c.Activity.ShowDelay = "200ms"
	}
	if c.Activity.MinDisplay == "" {
		c.Activity.MinDisplay = "300ms"
	}
	if c.Preload.Timeout == "" {
		c.Preload.Timeout = "3s"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./media-stage.db"
	}
	if c.Playback.PollInterval == "" {
		c.Playback.PollInterval = "250ms"
	}
	if c.Media == nil {
		c.Media = make(map[string]MediaConfig)
	}
}

// ValidateConfig validates the entire configuration
func (cm *ConfigManager) ValidateConfig(ctx context.Context, config *Config) error {
	if err := config.Log.Validate(); err != nil {
		return fmt.Errorf("log config validation failed: %w", err)
	}

	if err := config.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}

	if err := config.Activity.Validate(); err != nil {
		return fmt.Errorf("activity config validation failed: %w", err)
	}

	if err := config.Preload.Validate(); err != nil {
		return fmt.Errorf("preload config validation failed: %w", err)
	}

	if err := config.Database.Validate(); err != nil {
		return fmt.Errorf("database config validation failed: %w", err)
	}

	if err := config.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config validation failed: %w", err)
	}

	for key, media := range config.Media {
		if err := media.Validate(key); err != nil {
			return fmt.Errorf("media '%s' validation failed: %w", key, err)
		}
	}

	for _, key := range config.Preload.Keys {
		if _, ok := config.Media[key]; !ok {
			return fmt.Errorf("preload key '%s' has no media entry", key)
		}
	}

	if key := config.Playback.Key; key != "" {
		if _, ok := config.Media[key]; !ok {
			return fmt.Errorf("playback key '%s' has no media entry", key)
		}
	}

	return nil
}

// GetCurrentConfig returns the currently loaded configuration
func (cm *ConfigManager) GetCurrentConfig() *Config {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.currentConfig
}

// substituteEnvVars replaces ${VAR} patterns with environment variables.
// Unset variables are left as written.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return match
	})
}

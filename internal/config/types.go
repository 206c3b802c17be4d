package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sho7650/media-stage/internal/core"
	"github.com/sho7650/media-stage/internal/logger"
)

// Config represents the complete application configuration
type Config struct {
	Log      LogConfig              `yaml:"log"`
	Server   ServerConfig           `yaml:"server"`
	Activity ActivityConfig         `yaml:"activity"`
	Preload  PreloadConfig          `yaml:"preload"`
	Media    map[string]MediaConfig `yaml:"media"`
	Database DatabaseConfig         `yaml:"database"`
	Playback PlaybackConfig         `yaml:"playback"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ServerConfig represents the HTTP surface
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIBaseURL is the remote API proxied under /api. Empty disables the proxy.
	APIBaseURL string `yaml:"api_base_url"`
}

// ActivityConfig represents the busy indicator timings
type ActivityConfig struct {
	ShowDelay  string `yaml:"show_delay"`
	MinDisplay string `yaml:"min_display"`
}

// PreloadConfig represents preload cache settings
type PreloadConfig struct {
	Timeout  string   `yaml:"timeout"`
	SpoolDir string   `yaml:"spool_dir"`
	Keys     []string `yaml:"keys"`
}

// MediaConfig represents a single media entry. Loop bounds are in seconds.
type MediaConfig struct {
	URL       string  `yaml:"url"`
	LoopStart float64 `yaml:"loop_start"`
	LoopEnd   float64 `yaml:"loop_end"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PlaybackConfig represents the optional MPRIS player binding
type PlaybackConfig struct {
	// MPRISDest is the bus name of the player to drive. Empty disables it.
	MPRISDest    string `yaml:"mpris_dest"`
	Key          string `yaml:"key"`
	PollInterval string `yaml:"poll_interval"`
}

// ConfigChangeEvent represents a configuration change event
type ConfigChangeEvent struct {
	Type  string
	Path  string
	Error string
}

const (
	EventConfigUpdated = "config_updated"
	EventConfigError   = "config_error"
)

// Validate checks if LogConfig is valid
func (l *LogConfig) Validate() error {
	if l.Level != "" {
		if _, ok := logger.ParseLevel(l.Level); !ok {
			return fmt.Errorf("invalid log level: %s", l.Level)
		}
	}

	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", l.Format)
	}

	return nil
}

// Validate checks if ServerConfig is valid
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("server addr cannot be empty")
	}

	if s.APIBaseURL != "" {
		u, err := url.Parse(s.APIBaseURL)
		if err != nil {
			return fmt.Errorf("invalid api_base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("api_base_url must be an http(s) URL, got: %s", s.APIBaseURL)
		}
	}

	return nil
}

// Validate checks if ActivityConfig is valid
func (a *ActivityConfig) Validate() error {
	if _, err := parseDuration("show_delay", a.ShowDelay, 0); err != nil {
		return err
	}
	if _, err := parseDuration("min_display", a.MinDisplay, 0); err != nil {
		return err
	}
	return nil
}

// ShowDelayDuration returns show_delay, falling back to def when unset
func (a *ActivityConfig) ShowDelayDuration(def time.Duration) time.Duration {
	d, _ := parseDuration("show_delay", a.ShowDelay, def)
	return d
}

// MinDisplayDuration returns min_display, falling back to def when unset
func (a *ActivityConfig) MinDisplayDuration(def time.Duration) time.Duration {
	d, _ := parseDuration("min_display", a.MinDisplay, def)
	return d
}

// Validate checks if PreloadConfig is valid
func (p *PreloadConfig) Validate() error {
	d, err := parseDuration("timeout", p.Timeout, time.Second)
	if err != nil {
		return err
	}
	if d == 0 {
		return fmt.Errorf("preload timeout must be greater than 0")
	}
	return nil
}

// TimeoutDuration returns the preload timeout, falling back to def when unset
func (p *PreloadConfig) TimeoutDuration(def time.Duration) time.Duration {
	d, _ := parseDuration("timeout", p.Timeout, def)
	return d
}

// Validate checks if MediaConfig is valid
func (m *MediaConfig) Validate(key string) error {
	media := m.ToCore(key)
	return media.Validate()
}

// ToCore converts the entry into the media description used at runtime
func (m *MediaConfig) ToCore(key string) core.MediaConfig {
	return core.MediaConfig{
		Key:       key,
		SourceURL: m.URL,
		Loop: core.LoopWindow{
			Start: seconds(m.LoopStart),
			End:   seconds(m.LoopEnd),
		},
	}
}

// Validate checks if DatabaseConfig is valid
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	return nil
}

// Validate checks if PlaybackConfig is valid
func (p *PlaybackConfig) Validate() error {
	if _, err := parseDuration("poll_interval", p.PollInterval, 0); err != nil {
		return err
	}
	if p.MPRISDest != "" && p.Key == "" {
		return fmt.Errorf("playback key is required when mpris_dest is set")
	}
	return nil
}

// PollIntervalDuration returns poll_interval, falling back to def when unset
func (p *PlaybackConfig) PollIntervalDuration(def time.Duration) time.Duration {
	d, _ := parseDuration("poll_interval", p.PollInterval, def)
	return d
}

// Catalog returns the media entries keyed by name
func (c *Config) Catalog() map[string]core.MediaConfig {
	out := make(map[string]core.MediaConfig, len(c.Media))
	for key, m := range c.Media {
		out[key] = m.ToCore(key)
	}
	return out
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def, fmt.Errorf("invalid %s format: %w", field, err)
	}
	if d < 0 {
		return def, fmt.Errorf("%s cannot be negative, got: %s", field, value)
	}
	return d, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

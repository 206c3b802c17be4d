package core

import (
	"fmt"
	"net/url"
	"time"
)

// LoopWindow is the [Start, End) playback range repeated by the player
type LoopWindow struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Validate checks if LoopWindow is valid
func (w LoopWindow) Validate() error {
	if w.Start < 0 {
		return fmt.Errorf("loop start cannot be negative")
	}
	if w.End <= w.Start {
		return fmt.Errorf("loop end must be after loop start, got start=%s end=%s", w.Start, w.End)
	}
	return nil
}

// MediaConfig describes a preloadable media resource
type MediaConfig struct {
	Key       string     `json:"key"`
	SourceURL string     `json:"source_url"`
	Loop      LoopWindow `json:"loop"`
}

// Validate checks if MediaConfig has required fields
func (m *MediaConfig) Validate() error {
	if m.Key == "" {
		return fmt.Errorf("media key cannot be empty")
	}
	if m.SourceURL == "" {
		return fmt.Errorf("media source URL cannot be empty")
	}
	u, err := url.Parse(m.SourceURL)
	if err != nil {
		return fmt.Errorf("invalid media source URL: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("media source URL must be absolute, got: %s", m.SourceURL)
	}
	if err := m.Loop.Validate(); err != nil {
		return fmt.Errorf("media %q: %w", m.Key, err)
	}
	return nil
}

// Readiness is the load state of a MediaResource
type Readiness int

const (
	Unstarted Readiness = iota
	Loading
	Ready
	Failed
)

// String returns a human-readable label for the readiness.
func (r Readiness) String() string {
	switch r {
	case Unstarted:
		return "unstarted"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

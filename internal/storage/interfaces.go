package storage

import (
	"context"
	"time"
)

// PreloadStore defines the contract for preload history persistence
type PreloadStore interface {
	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
	IsReady() bool

	// Preload records
	RecordPreload(ctx context.Context, rec *PreloadRecord) error
	GetPreload(ctx context.Context, id string) (*PreloadRecord, error)
	QueryPreloads(ctx context.Context, query PreloadQuery) ([]*PreloadRecord, error)
	LatestForKey(ctx context.Context, key string) (*PreloadRecord, error)
}

// Preload outcomes as stored in preload_records.outcome
const (
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
)

// PreloadRecord is one finished fetch of a media resource
type PreloadRecord struct {
	ID        string        `json:"id" db:"id"`
	Key       string        `json:"key" db:"key"`
	URL       string        `json:"url" db:"url"`
	Location  string        `json:"location,omitempty" db:"location"`
	Checksum  string        `json:"checksum,omitempty" db:"checksum"`
	SizeBytes int64         `json:"size_bytes" db:"size_bytes"`
	Outcome   string        `json:"outcome" db:"outcome"`
	Error     string        `json:"error,omitempty" db:"error"`
	Duration  time.Duration `json:"duration" db:"duration_ms"`
	FetchedAt time.Time     `json:"fetched_at" db:"fetched_at"`
}

// PreloadQuery defines search parameters for preload records
type PreloadQuery struct {
	Key     string
	Outcome string
	Since   *time.Time
	Limit   int
}

package preload

import (
	"context"
	"sync"

	"github.com/sho7650/media-stage/internal/core"
	"github.com/sho7650/media-stage/internal/storage"
)

// Handle is a prepared media resource. Handles are owned by the Cache; only
// the Cache calls Release.
type Handle interface {
	// Location is where a player can open the prepared media, e.g. a
	// file:// URI.
	Location() string
	Size() int64
	Checksum() string
	Release() error
}

// Fetcher prepares the media described by a MediaConfig.
type Fetcher interface {
	Fetch(ctx context.Context, media core.MediaConfig) (Handle, error)
}

// Recorder persists the outcome of every finished fetch.
type Recorder interface {
	RecordPreload(ctx context.Context, rec *storage.PreloadRecord) error
}

// Resource is a cached media resource. Consumers hold a borrowed reference:
// they may read it at any time but never own its handle.
type Resource struct {
	media core.MediaConfig

	mu        sync.RWMutex
	readiness core.Readiness
	handle    Handle
	err       error
}

func newResource(media core.MediaConfig) *Resource {
	return &Resource{media: media}
}

// Key returns the resource key.
func (r *Resource) Key() string {
	return r.media.Key
}

// SourceURL returns the remote URL the resource is fetched from.
func (r *Resource) SourceURL() string {
	return r.media.SourceURL
}

// Loop returns the playback loop window.
func (r *Resource) Loop() core.LoopWindow {
	return r.media.Loop
}

// Readiness returns the load state.
func (r *Resource) Readiness() core.Readiness {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readiness
}

// Location returns where the prepared media can be opened. Until the
// resource is ready it falls back to the source URL.
func (r *Resource) Location() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.handle != nil {
		return r.handle.Location()
	}
	return r.media.SourceURL
}

// Size returns the prepared size in bytes, or 0 if not ready.
func (r *Resource) Size() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.handle != nil {
		return r.handle.Size()
	}
	return 0
}

// Err returns the last fetch error.
func (r *Resource) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Resource) setLoading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readiness = core.Loading
}

func (r *Resource) setReady(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handle = h
	r.err = nil
	r.readiness = core.Ready
}

func (r *Resource) setFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.readiness = core.Failed
}

// release detaches and returns the handle, resetting the resource.
func (r *Resource) release() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handle
	r.handle = nil
	r.readiness = core.Unstarted
	return h
}

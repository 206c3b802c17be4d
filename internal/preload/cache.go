// Package preload fetches media resources ahead of need and shares one
// in-flight fetch between every caller asking for the same key.
package preload

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sho7650/media-stage/internal/clock"
	"github.com/sho7650/media-stage/internal/core"
	"github.com/sho7650/media-stage/internal/logger"
	"github.com/sho7650/media-stage/internal/storage"
)

// DefaultTimeout is how long a preload future waits for the fetch before
// resolving as "ready enough".
const DefaultTimeout = 3 * time.Second

const recordTimeout = 5 * time.Second

// ErrClosed is returned by operations on a closed Cache.
var ErrClosed = errors.New("preload cache closed")

// Options configures a Cache.
type Options struct {
	Timeout  time.Duration
	Clock    clock.Clock
	Recorder Recorder
	Metrics  *Metrics
}

// task is one outstanding or finished preload of a key.
type task struct {
	id       string
	future   *Future
	resource *Resource
	timer    clock.Timer
}

// Cache is a key-addressed cache of prepared media. At most one fetch is
// issued per key until the cache is cleared; resources are retained after
// they load.
type Cache struct {
	fetcher  Fetcher
	clock    clock.Clock
	timeout  time.Duration
	recorder Recorder
	metrics  *Metrics

	mu      sync.Mutex
	catalog map[string]core.MediaConfig
	tasks   map[string]*task
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

// New creates a Cache serving the given catalog.
func New(fetcher Fetcher, catalog map[string]core.MediaConfig, opts Options) *Cache {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		fetcher:  fetcher,
		clock:    opts.Clock,
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		tasks:    make(map[string]*task),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.catalog = copyCatalog(catalog)
	return c
}

func copyCatalog(catalog map[string]core.MediaConfig) map[string]core.MediaConfig {
	out := make(map[string]core.MediaConfig, len(catalog))
	for key, media := range catalog {
		media.Key = key
		out[key] = media
	}
	return out
}

// Preload starts preparing the resource for key and returns its future.
// Repeated calls return the same future. Unknown keys resolve at once with
// OutcomeSkipped.
func (c *Cache) Preload(key string) *Future {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return resolvedFuture(Result{Key: key, Outcome: OutcomeCleared, Err: ErrClosed})
	}

	if t, ok := c.tasks[key]; ok {
		return t.future
	}

	media, ok := c.catalog[key]
	if !ok {
		logger.Debug("preload: unknown media key", "component", "preload", "key", key)
		c.metrics.outcome(OutcomeSkipped)
		return resolvedFuture(Result{Key: key, Outcome: OutcomeSkipped})
	}

	t := &task{
		id:       uuid.New().String(),
		future:   newFuture(),
		resource: newResource(media),
	}
	t.resource.setLoading()
	c.tasks[key] = t
	t.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(key, t) })

	logger.Info("preload: fetch started", "component", "preload", "key", key, "task", t.id, "url", media.SourceURL)

	c.wg.Add(1)
	go c.fetch(c.ctx, key, t, media)

	return t.future
}

// PreloadAll preloads every key and waits for all futures. ctx bounds the
// wait only; the fetches keep running if it expires.
func (c *Cache) PreloadAll(ctx context.Context, keys ...string) ([]Result, error) {
	results := make([]Result, len(keys))
	g, ctx := errgroup.WithContext(ctx)

	for i, key := range keys {
		future := c.Preload(key)
		g.Go(func() error {
			res, err := future.Wait(ctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (c *Cache) fetch(ctx context.Context, key string, t *task, media core.MediaConfig) {
	defer c.wg.Done()

	started := time.Now()
	h, err := c.fetcher.Fetch(ctx, media)
	elapsed := time.Since(started)

	c.mu.Lock()
	if c.tasks[key] != t {
		c.mu.Unlock()
		// Cleared while fetching: the result belongs to no one.
		c.metrics.fetched("discarded", elapsed)
		if h != nil {
			if relErr := h.Release(); relErr != nil {
				logger.Warn("preload: failed to release discarded resource", "component", "preload", "key", key, "error", relErr)
			}
		}
		return
	}

	if err != nil {
		t.resource.setFailed(err)
		c.mu.Unlock()

		c.metrics.fetched("failure", elapsed)
		logger.Warn("preload: fetch failed", "component", "preload", "key", key, "task", t.id, "error", err)
		c.record(t.id, media, nil, err, elapsed)
		return
	}

	t.resource.setReady(h)
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.future.resolve(Result{Key: key, Outcome: OutcomeReady}) {
		c.metrics.outcome(OutcomeReady)
	}
	c.mu.Unlock()

	c.metrics.fetched("success", elapsed)
	logger.Info("preload: resource ready", "component", "preload", "key", key, "task", t.id,
		"size_bytes", h.Size(), "duration_ms", elapsed.Milliseconds())
	c.record(t.id, media, h, nil, elapsed)
}

// expire resolves the future of t when the wait limit elapses first.
func (c *Cache) expire(key string, t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tasks[key] != t {
		return
	}
	t.timer = nil

	if t.future.resolve(Result{Key: key, Outcome: OutcomeTimedOut, Err: t.resource.Err()}) {
		c.metrics.outcome(OutcomeTimedOut)
		logger.Info("preload: wait limit reached, continuing as ready enough",
			"component", "preload", "key", key, "task", t.id, "timeout", c.timeout)
	}
}

func (c *Cache) record(id string, media core.MediaConfig, h Handle, fetchErr error, elapsed time.Duration) {
	if c.recorder == nil {
		return
	}

	rec := &storage.PreloadRecord{
		ID:        id,
		Key:       media.Key,
		URL:       media.SourceURL,
		Outcome:   storage.OutcomeFetched,
		Duration:  elapsed,
		FetchedAt: time.Now().UTC(),
	}
	if h != nil {
		rec.Location = h.Location()
		rec.Checksum = h.Checksum()
		rec.SizeBytes = h.Size()
	}
	if fetchErr != nil {
		rec.Outcome = storage.OutcomeFailed
		rec.Error = fetchErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.recorder.RecordPreload(ctx, rec); err != nil {
		logger.Warn("preload: failed to record fetch", "component", "preload", "key", media.Key, "error", err)
	}
}

// Lookup returns the resource for key if it has been preloaded.
func (c *Cache) Lookup(key string) (*Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[key]
	if !ok {
		return nil, false
	}
	return t.resource, true
}

// Resources returns every preloaded resource ordered by key.
func (c *Cache) Resources() []*Resource {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Resource, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Config returns the media configuration for key.
func (c *Cache) Config(key string) (core.MediaConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	media, ok := c.catalog[key]
	return media, ok
}

// UpdateCatalog replaces the media catalog. Keys already preloaded keep
// their resource until the next Clear.
func (c *Cache) UpdateCatalog(catalog map[string]core.MediaConfig) {
	next := copyCatalog(catalog)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = next
}

// Clear releases every held resource and resolves pending futures with
// OutcomeCleared. In-flight fetches are cancelled and their results
// dropped. The next Preload of a key fetches it again.
func (c *Cache) Clear() {
	c.mu.Lock()
	released := c.clearLocked()
	if !c.closed {
		c.ctx, c.cancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	c.releaseAll(released)
}

// clearLocked empties the task map. Must be called with c.mu held; the
// returned handles must be released after unlocking.
func (c *Cache) clearLocked() []Handle {
	c.cancel()

	var released []Handle
	for key, t := range c.tasks {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		if t.future.resolve(Result{Key: key, Outcome: OutcomeCleared}) {
			c.metrics.outcome(OutcomeCleared)
		}
		if h := t.resource.release(); h != nil {
			released = append(released, h)
		}
	}
	c.tasks = make(map[string]*task)
	return released
}

func (c *Cache) releaseAll(handles []Handle) {
	for _, h := range handles {
		if err := h.Release(); err != nil {
			logger.Warn("preload: failed to release resource", "component", "preload", "location", h.Location(), "error", err)
		}
	}
}

// Close clears the cache, refuses further preloads and waits for fetch
// goroutines to return.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	released := c.clearLocked()
	c.mu.Unlock()

	c.releaseAll(released)
	c.wg.Wait()
	return nil
}

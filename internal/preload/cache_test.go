package preload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sho7650/media-stage/internal/clock"
	"github.com/sho7650/media-stage/internal/core"
	"github.com/sho7650/media-stage/internal/storage"
)

type fakeHandle struct {
	location string
	released atomic.Int32
}

func (h *fakeHandle) Location() string { return h.location }
func (h *fakeHandle) Size() int64      { return 1024 }
func (h *fakeHandle) Checksum() string { return "sha256:fake" }
func (h *fakeHandle) Release() error {
	h.released.Add(1)
	return nil
}

// fakeFetcher blocks every fetch until release is closed.
type fakeFetcher struct {
	release   chan struct{}
	err       error
	ignoreCtx bool

	mu      sync.Mutex
	calls   map[string]int
	handles []*fakeHandle
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{release: make(chan struct{}), calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, media core.MediaConfig) (Handle, error) {
	f.mu.Lock()
	f.calls[media.Key]++
	f.mu.Unlock()

	if f.ignoreCtx {
		<-f.release
	} else {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	h := &fakeHandle{location: "file:///spool/" + media.Key + ".mp4"}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeFetcher) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) allHandles() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*storage.PreloadRecord
}

func (r *fakeRecorder) RecordPreload(ctx context.Context, rec *storage.PreloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) all() []*storage.PreloadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*storage.PreloadRecord(nil), r.records...)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordPreload(ctx context.Context, rec *storage.PreloadRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

var testCatalog = map[string]core.MediaConfig{
	"home": {
		SourceURL: "https://cdn.example.com/videos/video1.mp4",
		Loop:      core.LoopWindow{Start: 2 * time.Second, End: 15 * time.Second},
	},
	"about": {
		SourceURL: "https://cdn.example.com/videos/video2.mp4",
		Loop:      core.LoopWindow{Start: 0, End: 8 * time.Second},
	},
}

func newTestCache(t *testing.T, fetcher Fetcher, opts Options) (*Cache, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts.Clock = clk
	c := New(fetcher, testCatalog, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, clk
}

func waitResolved(t *testing.T, f *Future) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	require.NoError(t, err, "future did not resolve")
	return res
}

func TestCache_ConcurrentPreloadsShareOneFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	c, clk := newTestCache(t, fetcher, Options{})

	first := c.Preload("home")
	clk.Advance(10 * time.Millisecond)
	second := c.Preload("home")

	assert.Same(t, first, second, "second caller joins the in-flight future")
	require.Eventually(t, func() bool { return fetcher.callCount("home") == 1 }, time.Second, time.Millisecond)

	_, resolved := first.Result()
	assert.False(t, resolved)

	close(fetcher.release)

	res1 := waitResolved(t, first)
	res2 := waitResolved(t, second)
	assert.Equal(t, OutcomeReady, res1.Outcome)
	assert.Equal(t, res1, res2)
	assert.Equal(t, 1, fetcher.callCount("home"), "exactly one underlying fetch")

	res, ok := c.Lookup("home")
	require.True(t, ok)
	assert.Equal(t, core.Ready, res.Readiness())
	assert.Equal(t, "file:///spool/home.mp4", res.Location())

	// Preloading a ready key returns the resolved future without refetching
	assert.Same(t, first, c.Preload("home"))
	assert.Equal(t, 1, fetcher.callCount("home"))
}

func TestCache_UnknownKeyIsNoOp(t *testing.T) {
	fetcher := newFakeFetcher()
	c, _ := newTestCache(t, fetcher, Options{})

	res, ok := c.Preload("missing").Result()
	require.True(t, ok, "unknown keys resolve immediately")
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.NoError(t, res.Err)

	_, found := c.Lookup("missing")
	assert.False(t, found)
	assert.Equal(t, 0, fetcher.callCount("missing"))
}

func TestCache_TimeoutResolvesReadyEnough(t *testing.T) {
	fetcher := newFakeFetcher()
	c, clk := newTestCache(t, fetcher, Options{Timeout: 3 * time.Second})

	future := c.Preload("home")
	clk.Advance(2999 * time.Millisecond)
	_, resolved := future.Result()
	assert.False(t, resolved)

	clk.Advance(time.Millisecond)
	res, resolved := future.Result()
	require.True(t, resolved)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.NoError(t, res.Err)

	resource, ok := c.Lookup("home")
	require.True(t, ok)
	assert.Equal(t, core.Loading, resource.Readiness(), "fetch keeps going after the timeout")
	assert.Equal(t, testCatalog["home"].SourceURL, resource.Location())

	close(fetcher.release)
	require.Eventually(t, func() bool { return resource.Readiness() == core.Ready }, time.Second, time.Millisecond)

	res, _ = future.Result()
	assert.Equal(t, OutcomeTimedOut, res.Outcome, "a resolved future never changes")
	assert.Same(t, future, c.Preload("home"))
	assert.Equal(t, 1, fetcher.callCount("home"))
}

func TestCache_FailureResolvesAtTimeout(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.err = errors.New("unexpected status 503")
	close(fetcher.release)
	recorder := &fakeRecorder{}
	c, clk := newTestCache(t, fetcher, Options{Recorder: recorder})

	future := c.Preload("home")
	resource, ok := c.Lookup("home")
	require.True(t, ok)
	require.Eventually(t, func() bool { return resource.Readiness() == core.Failed }, time.Second, time.Millisecond)

	_, resolved := future.Result()
	assert.False(t, resolved, "failure alone does not resolve the future")

	clk.Advance(DefaultTimeout)
	res, resolved := future.Result()
	require.True(t, resolved)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.ErrorContains(t, res.Err, "503")

	require.Eventually(t, func() bool { return len(recorder.all()) == 1 }, time.Second, time.Millisecond)
	rec := recorder.all()[0]
	assert.Equal(t, storage.OutcomeFailed, rec.Outcome)
	assert.Equal(t, "home", rec.Key)
	assert.Contains(t, rec.Error, "503")

	// Failed keys are not retried until the cache is cleared
	assert.Same(t, future, c.Preload("home"))
	assert.Equal(t, 1, fetcher.callCount("home"))

	c.Clear()
	fetcher.err = nil
	retry := c.Preload("home")
	assert.Equal(t, OutcomeReady, waitResolved(t, retry).Outcome)
	assert.Equal(t, 2, fetcher.callCount("home"))
}

func TestCache_ClearReleasesResources(t *testing.T) {
	fetcher := newFakeFetcher()
	close(fetcher.release)
	c, _ := newTestCache(t, fetcher, Options{})

	require.Equal(t, OutcomeReady, waitResolved(t, c.Preload("home")).Outcome)
	resource, _ := c.Lookup("home")

	c.Clear()

	handles := fetcher.allHandles()
	require.Len(t, handles, 1)
	assert.Equal(t, int32(1), handles[0].released.Load())
	assert.Equal(t, core.Unstarted, resource.Readiness())

	_, ok := c.Lookup("home")
	assert.False(t, ok)
	assert.Empty(t, c.Resources())
}

func TestCache_ClearDuringFetch(t *testing.T) {
	t.Run("Cancelled fetch resolves future as cleared", func(t *testing.T) {
		fetcher := newFakeFetcher()
		c, _ := newTestCache(t, fetcher, Options{})

		future := c.Preload("home")
		require.Eventually(t, func() bool { return fetcher.callCount("home") == 1 }, time.Second, time.Millisecond)

		c.Clear()
		res, ok := future.Result()
		require.True(t, ok)
		assert.Equal(t, OutcomeCleared, res.Outcome)
	})

	t.Run("Late result is released, not cached", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.ignoreCtx = true
		c, _ := newTestCache(t, fetcher, Options{})

		c.Preload("home")
		require.Eventually(t, func() bool { return fetcher.callCount("home") == 1 }, time.Second, time.Millisecond)
		c.Clear()

		close(fetcher.release)
		require.Eventually(t, func() bool {
			handles := fetcher.allHandles()
			return len(handles) == 1 && handles[0].released.Load() == 1
		}, time.Second, time.Millisecond)

		_, ok := c.Lookup("home")
		assert.False(t, ok)
	})
}

func TestCache_CallerCancellationDoesNotAbortFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	c, _ := newTestCache(t, fetcher, Options{})

	future := c.Preload("home")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := future.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(fetcher.release)
	assert.Equal(t, OutcomeReady, waitResolved(t, future).Outcome)
}

func TestCache_Close(t *testing.T) {
	fetcher := newFakeFetcher()
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(fetcher, testCatalog, Options{Clock: clk})

	future := c.Preload("home")
	require.NoError(t, c.Close(), "close waits for the cancelled fetch")

	res, ok := future.Result()
	require.True(t, ok)
	assert.Equal(t, OutcomeCleared, res.Outcome)

	res, ok = c.Preload("about").Result()
	require.True(t, ok)
	assert.Equal(t, OutcomeCleared, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrClosed)
	assert.Equal(t, 0, fetcher.callCount("about"))

	assert.NoError(t, c.Close())
	assert.Equal(t, 0, clk.Pending(), "timeout timers are stopped")
}

func TestCache_PreloadAll(t *testing.T) {
	fetcher := newFakeFetcher()
	close(fetcher.release)
	c, _ := newTestCache(t, fetcher, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, err := c.PreloadAll(ctx, "home", "missing", "about")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, OutcomeReady, results[0].Outcome)
	assert.Equal(t, OutcomeSkipped, results[1].Outcome)
	assert.Equal(t, OutcomeReady, results[2].Outcome)
	assert.Equal(t, "about", results[2].Key)

	resources := c.Resources()
	require.Len(t, resources, 2)
	assert.Equal(t, "about", resources[0].Key())
	assert.Equal(t, "home", resources[1].Key())
}

func TestCache_UpdateCatalog(t *testing.T) {
	fetcher := newFakeFetcher()
	close(fetcher.release)
	c, _ := newTestCache(t, fetcher, Options{})

	require.Equal(t, OutcomeReady, waitResolved(t, c.Preload("home")).Outcome)

	c.UpdateCatalog(map[string]core.MediaConfig{
		"home":    {SourceURL: "https://cdn.example.com/videos/new.mp4", Loop: core.LoopWindow{End: time.Second}},
		"atelier": {SourceURL: "https://cdn.example.com/videos/atelier.mp4", Loop: core.LoopWindow{End: time.Second}},
	})

	resource, _ := c.Lookup("home")
	assert.Equal(t, "https://cdn.example.com/videos/video1.mp4", resource.SourceURL(), "preloaded keys keep their resource")

	media, ok := c.Config("atelier")
	require.True(t, ok)
	assert.Equal(t, "atelier", media.Key)

	_, ok = c.Config("about")
	assert.False(t, ok)

	assert.Equal(t, OutcomeReady, waitResolved(t, c.Preload("atelier")).Outcome)
}

func TestCache_RecordsAndMetrics(t *testing.T) {
	fetcher := newFakeFetcher()
	close(fetcher.release)
	recorder := &fakeRecorder{}
	m := NewMetrics(prometheus.NewRegistry())
	c, _ := newTestCache(t, fetcher, Options{Recorder: recorder, Metrics: m})

	require.Equal(t, OutcomeReady, waitResolved(t, c.Preload("home")).Outcome)
	c.Preload("missing")

	require.Eventually(t, func() bool { return len(recorder.all()) == 1 }, time.Second, time.Millisecond)
	rec := recorder.all()[0]
	assert.Equal(t, storage.OutcomeFetched, rec.Outcome)
	assert.Equal(t, "home", rec.Key)
	assert.Equal(t, "file:///spool/home.mp4", rec.Location)
	assert.Equal(t, "sha256:fake", rec.Checksum)
	assert.NotEmpty(t, rec.ID)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.FetchesTotal.WithLabelValues("success")) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("ready")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("skipped")))
}

func TestCache_RecorderErrorIsNotFatal(t *testing.T) {
	fetcher := newFakeFetcher()
	close(fetcher.release)

	recorder := &mockRecorder{}
	recorder.On("RecordPreload", mock.Anything, mock.MatchedBy(func(rec *storage.PreloadRecord) bool {
		return rec.Key == "home" && rec.Outcome == storage.OutcomeFetched
	})).Return(errors.New("database is locked")).Once()

	clk := clock.NewFake(time.Unix(0, 0))
	c := New(fetcher, testCatalog, Options{Clock: clk, Recorder: recorder})

	assert.Equal(t, OutcomeReady, waitResolved(t, c.Preload("home")).Outcome)
	require.NoError(t, c.Close(), "close waits for the recording goroutine")

	recorder.AssertExpectations(t)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "ready", OutcomeReady.String())
	assert.Equal(t, "timed_out", OutcomeTimedOut.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "cleared", OutcomeCleared.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

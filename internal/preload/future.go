package preload

import (
	"context"
	"sync"
)

// Outcome is how a preload future resolved.
type Outcome int

const (
	// OutcomeReady means the resource finished loading.
	OutcomeReady Outcome = iota
	// OutcomeTimedOut means the wait limit elapsed first. The resource is
	// "ready enough" and may still finish loading in the background.
	OutcomeTimedOut
	// OutcomeSkipped means the key has no media configuration.
	OutcomeSkipped
	// OutcomeCleared means the cache was cleared or closed before the
	// resource was ready.
	OutcomeCleared
)

// String returns a human-readable label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Result is the resolved value of a Future.
type Result struct {
	Key     string
	Outcome Outcome
	// Err is the fetch error, if the fetch failed before the future
	// resolved. It is informational: callers proceed as "ready enough".
	Err error
}

// Future is a shared pending preload result. Every caller preloading the
// same key holds the same Future.
type Future struct {
	done chan struct{}
	once sync.Once
	res  Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(res Result) *Future {
	f := newFuture()
	f.resolve(res)
	return f
}

// resolve settles the future. Only the first call has an effect; it
// reports whether this call was the one that settled it.
func (f *Future) resolve(res Result) bool {
	resolved := false
	f.once.Do(func() {
		f.res = res
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the result and whether the future has resolved.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the future resolves or ctx is done. Giving up on the
// wait does not cancel the underlying fetch.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

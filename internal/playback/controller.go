// Package playback binds media elements to preloaded resources and keeps
// them muted and looping inside their configured window.
package playback

import (
	"errors"
	"sync"

	"github.com/sho7650/media-stage/internal/core"
	"github.com/sho7650/media-stage/internal/logger"
	"github.com/sho7650/media-stage/internal/preload"
)

var (
	// ErrUnknownMedia is returned by Bind for a key with no media configuration.
	ErrUnknownMedia = errors.New("unknown media key")
	// ErrClosed is returned by Bind after Close.
	ErrClosed = errors.New("playback controller closed")
)

// Source provides the media a Controller plays. *preload.Cache implements it.
type Source interface {
	Config(key string) (core.MediaConfig, bool)
	Lookup(key string) (*preload.Resource, bool)
	Preload(key string) *preload.Future
}

// Controller manages the elements bound to media keys. Elements are used as
// map keys, so their dynamic type must be comparable (usually a pointer).
type Controller struct {
	source Source

	mu       sync.Mutex
	bindings map[Element]*binding
	closed   bool

	wg sync.WaitGroup
}

// NewController creates a Controller playing media from source.
func NewController(source Source) *Controller {
	return &Controller{
		source:   source,
		bindings: make(map[Element]*binding),
	}
}

// Bind attaches el to the media configured under key. The element is muted
// at once and starts playing from the loop start as soon as either the
// preloaded resource or the element itself reports ready.
//
// Element calls run without the controller lock held, so a slow element
// only delays its own Bind.
func (c *Controller) Bind(el Element, key string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	media, ok := c.source.Config(key)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMedia
	}

	prev := c.bindings[el]
	b := &binding{
		el:   el,
		key:  key,
		loop: media.Loop,
		stop: make(chan struct{}),
	}
	c.bindings[el] = b
	// Counted while the lock is held so Close cannot miss it.
	c.wg.Add(1)
	c.mu.Unlock()

	if prev != nil {
		prev.detach()
	}

	b.enforceMute()

	if loader, ok := el.(Loader); ok {
		location := media.SourceURL
		if res, ok := c.source.Lookup(key); ok {
			location = res.Location()
		}
		if err := loader.Load(location); err != nil {
			logger.Warn("playback: failed to load media", "component", "playback", "key", key, "error", err)
		}
	}

	b.setCancel(el.Subscribe(b.handle))

	future := c.source.Preload(key)
	if res, ok := c.source.Lookup(key); ok && res.Readiness() == core.Ready {
		b.start("preloaded")
		c.wg.Done()
	} else {
		go c.awaitPreload(b, future)
	}

	logger.Debug("playback: element bound", "component", "playback", "key", key,
		"loop_start", media.Loop.Start, "loop_end", media.Loop.End)
	return nil
}

func (c *Controller) awaitPreload(b *binding, future *preload.Future) {
	defer c.wg.Done()

	select {
	case <-future.Done():
	case <-b.stop:
		return
	}

	res, _ := future.Result()
	if res.Outcome != preload.OutcomeReady {
		logger.Debug("playback: preload not ready, waiting for element",
			"component", "playback", "key", b.key, "outcome", res.Outcome.String())
		return
	}
	b.start("preloaded")
}

// Unbind detaches el. It is a no-op for elements that are not bound.
func (c *Controller) Unbind(el Element) {
	c.mu.Lock()
	b, ok := c.bindings[el]
	if ok {
		delete(c.bindings, el)
	}
	c.mu.Unlock()

	if ok {
		b.detach()
	}
}

// Bound returns the key el is bound to.
func (c *Controller) Bound(el Element) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.bindings[el]
	if !ok {
		return "", false
	}
	return b.key, true
}

// Close unbinds every element. Preloads already in progress keep running.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	bindings := c.bindings
	c.bindings = make(map[Element]*binding)
	c.mu.Unlock()

	for _, b := range bindings {
		b.detach()
	}
	c.wg.Wait()
}

// binding is the per-element playback state.
type binding struct {
	el   Element
	key  string
	loop core.LoopWindow
	stop chan struct{}

	mu           sync.Mutex
	started      bool
	detached     bool
	cancelEvents func()
}

// handle reacts to element events. It never holds b.mu across an element
// call, so elements may deliver events synchronously from Mute, SeekTo or
// Play.
func (b *binding) handle(ev Event) {
	if b.isDetached() {
		return
	}

	switch ev.Type {
	case EventReady:
		b.start("element")
	case EventTimeUpdate:
		b.enforceMute()
		if ev.Position >= b.loop.End {
			if err := b.el.SeekTo(b.loop.Start); err != nil {
				logger.Warn("playback: loop seek failed", "component", "playback", "key", b.key, "error", err)
			}
		}
	case EventVolumeChange:
		if !b.el.IsMuted() || b.el.VolumeLevel() > 0 {
			b.enforceMute()
		}
	}
}

func (b *binding) isDetached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached
}

// start seeks to the loop start and plays, at most once per binding.
func (b *binding) start(trigger string) {
	b.mu.Lock()
	if b.detached || b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	if err := b.el.SeekTo(b.loop.Start); err != nil {
		logger.Warn("playback: seek failed", "component", "playback", "key", b.key, "error", err)
	}
	if err := b.el.Play(); err != nil {
		logger.Warn("playback: play failed", "component", "playback", "key", b.key, "error", err)
		return
	}
	logger.Info("playback: started", "component", "playback", "key", b.key, "trigger", trigger)
}

func (b *binding) enforceMute() {
	if !b.el.IsMuted() {
		if err := b.el.Mute(); err != nil {
			logger.Warn("playback: mute failed", "component", "playback", "key", b.key, "error", err)
		}
	}
	if b.el.VolumeLevel() > 0 {
		if err := b.el.SetVolumeLevel(0); err != nil {
			logger.Warn("playback: volume reset failed", "component", "playback", "key", b.key, "error", err)
		}
	}
}

// setCancel stores the event subscription canceller. A binding detached
// while Subscribe was running cancels it straight away.
func (b *binding) setCancel(cancel func()) {
	b.mu.Lock()
	if !b.detached {
		b.cancelEvents = cancel
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (b *binding) detach() {
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return
	}
	b.detached = true
	close(b.stop)
	cancel := b.cancelEvents
	b.cancelEvents = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

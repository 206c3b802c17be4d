// Package mpris drives desktop media players over the D-Bus MPRIS2
// interface so they can be bound like any other playback element.
package mpris

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/sho7650/media-stage/internal/clock"
	"github.com/sho7650/media-stage/internal/logger"
	"github.com/sho7650/media-stage/internal/playback"
)

const (
	// BusPrefix is the well-known name prefix of every MPRIS player.
	BusPrefix = "org.mpris.MediaPlayer2"
	// ObjectPath is the object every MPRIS player exports.
	ObjectPath = dbus.ObjectPath("/org/mpris/MediaPlayer2")

	playerInterface = BusPrefix + ".Player"
)

// DefaultPollInterval is how often Subscribe samples player state.
const DefaultPollInterval = 250 * time.Millisecond

// ErrNoPlayers is returned by Discover when no MPRIS player is running.
var ErrNoPlayers = errors.New("no mpris player instance found")

// Options configures a Player.
type Options struct {
	PollInterval time.Duration
	Clock        clock.Clock
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Discover returns the bus names of the MPRIS players on the session bus.
func Discover() ([]string, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return discover(conn.BusObject())
}

func discover(bus dbus.BusObject) ([]string, error) {
	var names []string
	if err := bus.Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("failed to list bus names: %w", err)
	}

	var dests []string
	for _, name := range names {
		if strings.HasPrefix(name, BusPrefix+".") {
			dests = append(dests, name)
		}
	}
	if len(dests) == 0 {
		return nil, ErrNoPlayers
	}

	sort.Strings(dests)
	return dests, nil
}

// Player is an MPRIS player used as a playback element. MPRIS has no mute
// control, so a player is muted when its volume is zero.
type Player struct {
	dest string
	bo   dbus.BusObject
	opts Options
}

var (
	_ playback.Element = (*Player)(nil)
	_ playback.Loader  = (*Player)(nil)
)

// NewPlayer connects to the player owning dest on the session bus.
func NewPlayer(dest string, opts Options) (*Player, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return NewPlayerFromObject(dest, conn.Object(dest, ObjectPath), opts), nil
}

// NewPlayerFromObject wraps an existing bus object.
func NewPlayerFromObject(dest string, bo dbus.BusObject, opts Options) *Player {
	opts.setDefaults()
	return &Player{dest: dest, bo: bo, opts: opts}
}

// Name returns the bus name of the player instance.
func (p *Player) Name() string {
	return p.dest
}

func (p *Player) call(method string, args ...interface{}) error {
	call := p.bo.Call(playerInterface+"."+method, 0, args...)
	if call.Err != nil {
		return fmt.Errorf("mpris %s on %s: %w", method, p.dest, call.Err)
	}
	return nil
}

func (p *Player) property(name string) (dbus.Variant, error) {
	return p.bo.GetProperty(playerInterface + "." + name)
}

// Load opens uri in the player.
func (p *Player) Load(uri string) error {
	return p.call("OpenUri", uri)
}

// Play starts or resumes playback.
func (p *Player) Play() error {
	return p.call("Play")
}

// Pause pauses playback.
func (p *Player) Pause() error {
	return p.call("Pause")
}

// SeekTo sets the playback position of the current track.
func (p *Player) SeekTo(pos time.Duration) error {
	return p.call("SetPosition", p.Metadata().TrackID(), pos.Microseconds())
}

// Metadata returns the metadata of the current track.
func (p *Player) Metadata() Metadata {
	v, err := p.property("Metadata")
	if err != nil {
		return nil
	}

	m, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return nil
	}
	return Metadata(m)
}

// PlaybackStatus returns "Playing", "Paused", "Stopped" or "" if unknown.
func (p *Player) PlaybackStatus() string {
	v, err := p.property("PlaybackStatus")
	if err != nil {
		return ""
	}

	s, _ := v.Value().(string)
	return s
}

// PlaybackPosition returns the current position, or 0 if unknown.
func (p *Player) PlaybackPosition() time.Duration {
	v, err := p.property("Position")
	if err != nil {
		return 0
	}

	pos, ok := v.Value().(int64)
	if !ok {
		return 0
	}
	return time.Duration(pos) * time.Microsecond
}

// VolumeLevel returns the volume in [0, 1], or 0 if unknown.
func (p *Player) VolumeLevel() float64 {
	v, err := p.property("Volume")
	if err != nil {
		return 0
	}

	level, _ := v.Value().(float64)
	return level
}

// SetVolumeLevel sets the volume.
func (p *Player) SetVolumeLevel(level float64) error {
	if err := p.bo.SetProperty(playerInterface+".Volume", dbus.MakeVariant(level)); err != nil {
		return fmt.Errorf("mpris set volume on %s: %w", p.dest, err)
	}
	return nil
}

// IsMuted reports whether the volume is zero.
func (p *Player) IsMuted() bool {
	return p.VolumeLevel() == 0
}

// Mute sets the volume to zero.
func (p *Player) Mute() error {
	return p.SetVolumeLevel(0)
}

// Subscribe polls the player until cancel is called. Every poll emits
// EventTimeUpdate; EventVolumeChange follows when the volume moved since the
// previous poll, and EventReady is sent once, as soon as the player reports
// Playing or Paused.
func (p *Player) Subscribe(fn func(playback.Event)) (cancel func()) {
	s := &poller{player: p, fn: fn}

	s.mu.Lock()
	s.timer = p.opts.Clock.AfterFunc(p.opts.PollInterval, s.tick)
	s.mu.Unlock()

	logger.Debug("mpris: polling player", "component", "mpris", "dest", p.dest, "interval", p.opts.PollInterval)
	return s.stop
}

type poller struct {
	player *Player
	fn     func(playback.Event)

	mu         sync.Mutex
	timer      clock.Timer
	stopped    bool
	readySent  bool
	haveVolume bool
	lastVolume float64
}

func (s *poller) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Bus round trips happen without the lock so stop never waits on them.
	status := s.player.PlaybackStatus()
	pos := s.player.PlaybackPosition()
	volume := s.player.VolumeLevel()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	var events []playback.Event
	if !s.readySent && (status == "Playing" || status == "Paused") {
		s.readySent = true
		events = append(events, playback.Event{Type: playback.EventReady, Position: pos})
	}
	events = append(events, playback.Event{Type: playback.EventTimeUpdate, Position: pos})
	if s.haveVolume && volume != s.lastVolume {
		events = append(events, playback.Event{Type: playback.EventVolumeChange, Position: pos})
	}
	s.haveVolume = true
	s.lastVolume = volume

	s.timer = s.player.opts.Clock.AfterFunc(s.player.opts.PollInterval, s.tick)
	s.mu.Unlock()

	for _, ev := range events {
		s.fn(ev)
	}
}

func (s *poller) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

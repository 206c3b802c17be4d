package playback

import "time"

// EventType identifies an element notification.
type EventType int

const (
	// EventReady is sent when the element can start playing.
	EventReady EventType = iota
	// EventTimeUpdate is sent periodically while the position advances.
	EventTimeUpdate
	// EventVolumeChange is sent when the volume or mute state changes.
	EventVolumeChange
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventTimeUpdate:
		return "time_update"
	case EventVolumeChange:
		return "volume_change"
	default:
		return "unknown"
	}
}

// Event is a notification from an Element.
type Event struct {
	Type EventType
	// Position is the playback position when the event was sent.
	Position time.Duration
}

// Element is a mountable media element.
type Element interface {
	PlaybackStateReporter
	PlaybackController
	VolumeReporter
	VolumeController
	EventSource
}

// PlaybackStateReporter retrieves media playback state.
type PlaybackStateReporter interface {
	PlaybackPosition() time.Duration
}

// PlaybackController provides methods for controlling media playback.
type PlaybackController interface {
	Play() error
	Pause() error
	SeekTo(pos time.Duration) error
}

// VolumeReporter retrieves volume settings of audio output.
type VolumeReporter interface {
	VolumeLevel() float64
	IsMuted() bool
}

// VolumeController provides methods for adjusting volume settings.
type VolumeController interface {
	SetVolumeLevel(level float64) error
	Mute() error
}

// EventSource delivers element notifications to fn until cancel is called.
type EventSource interface {
	Subscribe(fn func(Event)) (cancel func())
}

// Loader is implemented by elements that must be told which media to open.
type Loader interface {
	Load(uri string) error
}

package mpris

import (
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// NoTrack is the MPRIS track id meaning "no current track".
const NoTrack = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")

// Metadata is a mapping from metadata attribute names to values.
//
// https://www.freedesktop.org/wiki/Specifications/mpris-spec/metadata/
type Metadata map[string]dbus.Variant

// TrackID returns mpris:trackid, or NoTrack if the player reports none.
func (m Metadata) TrackID() dbus.ObjectPath {
	v, ok := m["mpris:trackid"]
	if !ok {
		return NoTrack
	}

	switch id := v.Value().(type) {
	case dbus.ObjectPath:
		return id
	case string:
		// Some players send the id as a plain string.
		return dbus.ObjectPath(id)
	default:
		return NoTrack
	}
}

// Length returns the duration of the current track.
func (m Metadata) Length() time.Duration {
	v, ok := m["mpris:length"]
	if !ok {
		return 0
	}

	switch n := v.Value().(type) {
	case int64:
		return time.Duration(n) * time.Microsecond
	case uint64:
		return time.Duration(n) * time.Microsecond
	default:
		return 0
	}
}

// URL returns xesam:url of the current track.
func (m Metadata) URL() string {
	v, ok := m["xesam:url"]
	if !ok {
		return ""
	}

	if s, ok := v.Value().(string); ok {
		return s
	}
	return strings.Trim(v.String(), `"`)
}

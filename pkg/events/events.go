// Package events carries console state changes from the background loops to
// whoever presents them, over channels instead of cross-loop callbacks.
package events

import "time"

// Kind identifies what changed.
type Kind string

const (
	// DeviceChanged: Value is present, Name is the device name ("" when absent).
	DeviceChanged Kind = "device_changed"
	// DevicesChanged: Added/Removed list device names since the last registry refresh.
	DevicesChanged Kind = "devices_changed"
	// ConnectionChanged: Value is connected.
	ConnectionChanged Kind = "connection_changed"
	// EnabledChanged: Value is the desired enabled state.
	EnabledChanged Kind = "enabled_changed"
	// ModeChanged: Name is the mode wire string.
	ModeChanged Kind = "mode_changed"
	// PermitChanged: Value is whether the dispatch gate is open.
	PermitChanged Kind = "permit_changed"
)

// Event is a snapshot of one state change.
type Event struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Value   bool      `json:"value"`
	Name    string    `json:"name,omitempty"`
	Added   []string  `json:"added,omitempty"`
	Removed []string  `json:"removed,omitempty"`
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(e Event)

// Publish calls f.
func (f PublisherFunc) Publish(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

func NewDeviceChanged(present bool, name string) Event {
	return Event{Kind: DeviceChanged, Time: time.Now(), Value: present, Name: name}
}

func NewDevicesChanged(added, removed []string) Event {
	return Event{Kind: DevicesChanged, Time: time.Now(), Value: len(added)+len(removed) > 0, Added: added, Removed: removed}
}

func NewConnectionChanged(connected bool) Event {
	return Event{Kind: ConnectionChanged, Time: time.Now(), Value: connected}
}

func NewEnabledChanged(enabled bool) Event {
	return Event{Kind: EnabledChanged, Time: time.Now(), Value: enabled}
}

func NewModeChanged(mode string) Event {
	return Event{Kind: ModeChanged, Time: time.Now(), Name: mode}
}

func NewPermitChanged(permitted bool) Event {
	return Event{Kind: PermitChanged, Time: time.Now(), Value: permitted}
}

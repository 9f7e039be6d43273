// Package joystick polls one selected physical input device and exposes
// consistent snapshots of its axes and buttons.
package joystick

// Subsystem is the platform device layer (SDL, raw HID, ...).
// Implementations must be safe for concurrent use.
type Subsystem interface {
	// Name identifies the backend in logs.
	Name() string

	// RequiresExternalPump reports that Pump must be called by the thread
	// that initialized the subsystem, so the poll loop must not call it.
	RequiresExternalPump() bool

	// Pump processes pending platform events and refreshes device state.
	Pump()

	// Count returns how many devices are attached.
	Count() (int, error)

	// DeviceName returns the display name of the device at index.
	DeviceName(index int) (string, error)

	// Open starts tracking the device at index.
	Open(index int) (Device, error)

	// Close releases the subsystem.
	Close() error
}

// Device is one opened input device. Axis values are raw, nominally in [-1, 1].
type Device interface {
	Name() string
	Attached() bool
	NumAxes() int
	Axis(index int) (float64, error)
	NumButtons() int
	Button(index int) (bool, error)
	Close() error
}

// Snapshotter is implemented by devices whose state arrives as whole reports.
// Snapshot returns the axes and buttons of one report, so a poll never mixes
// two reports.
type Snapshotter interface {
	Snapshot() (axes []float64, buttons []bool, err error)
}

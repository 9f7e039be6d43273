package joystick

import (
	"fmt"
	"math"
)

// NoDeviceName is shown in status output while nothing is present.
const NoDeviceName = "No Controller"

// State is a snapshot of the selected device.
type State struct {
	Present bool      `json:"present"`
	Name    string    `json:"name"`
	Axes    []float64 `json:"axes"`
	Buttons []bool    `json:"buttons"`
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	c := State{Present: s.Present, Name: s.Name}
	if s.Axes != nil {
		c.Axes = append([]float64(nil), s.Axes...)
	}
	if s.Buttons != nil {
		c.Buttons = append([]bool(nil), s.Buttons...)
	}
	return c
}

// DisplayName returns Name, or NoDeviceName when nothing is present.
func (s State) DisplayName() string {
	if !s.Present || s.Name == "" {
		return NoDeviceName
	}
	return s.Name
}

// DeviceEntry is one attached device as listed by the registry.
type DeviceEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func (e DeviceEntry) String() string {
	return fmt.Sprintf("%d: %s", e.Index, e.Name)
}

// ApplyDeadzone returns 0 for |v| < deadzone and v otherwise.
func ApplyDeadzone(v, deadzone float64) float64 {
	if math.Abs(v) < deadzone {
		return 0.0
	}
	return v
}

// clampUnit limits v to [-1, 1]. NaN reads as centered.
func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

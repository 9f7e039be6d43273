package dispatch

import (
	"github.com/open-teleop/driverstation/pkg/joystick"
	"github.com/open-teleop/driverstation/pkg/link"
)

// Permit reports whether a frame may be forwarded: the link is connected and
// enabled and a device is present. It is evaluated fresh every tick.
func Permit(status link.Status, device joystick.State) bool {
	return status.Connected && status.Enabled && device.Present
}

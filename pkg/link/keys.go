package link

import "strconv"

// Console-owned keys.
const (
	KeyEnabled  = "DriverStation/Enabled"
	KeyMode     = "DriverStation/Mode"
	KeyAlliance = "DriverStation/Alliance"
	KeyStation  = "DriverStation/Station"

	axisKeyPrefix   = "DriverStation/Joystick/Axis"
	buttonKeyPrefix = "DriverStation/Joystick/Button"
)

// Robot-owned telemetry keys.
const (
	KeyBatteryVoltage = "SmartDashboard/BatteryVoltage"
	KeyCPUPercent     = "SmartDashboard/RoboRIO/CPU"
	KeyRAMPercent     = "SmartDashboard/RoboRIO/RAM"
)

func AxisKey(i int) string   { return axisKeyPrefix + strconv.Itoa(i) }
func ButtonKey(i int) string { return buttonKeyPrefix + strconv.Itoa(i) }

package link

// Battery levels reported with each telemetry sample.
const (
	BatteryOK       = "ok"
	BatteryWarning  = "warning"
	BatteryCritical = "critical"
)

const (
	batteryCriticalVolts = 10.0
	batteryWarningVolts  = 11.5
)

// ClassifyBattery buckets a battery voltage: below 10 V is critical, below
// 11.5 V a warning.
func ClassifyBattery(volts float64) string {
	switch {
	case volts < batteryCriticalVolts:
		return BatteryCritical
	case volts < batteryWarningVolts:
		return BatteryWarning
	default:
		return BatteryOK
	}
}

package api

// ConnectRequest starts a session. Identifier 0 uses the configured team.
type ConnectRequest struct {
	Identifier int `json:"identifier"`
}

// EnableRequest sets the desired enabled state.
type EnableRequest struct {
	Enabled *bool `json:"enabled"`
}

// ModeRequest carries a mode name: teleop, auto or test.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// SelectRequest picks the device at Index.
type SelectRequest struct {
	Index *int `json:"index"`
}

// DeadzoneRequest replaces the axis deadzone.
type DeadzoneRequest struct {
	Deadzone *float64 `json:"deadzone"`
}

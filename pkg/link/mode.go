package link

import (
	"fmt"
	"strings"
)

// Mode is the robot operating mode.
type Mode int

const (
	ModeTeleop Mode = iota
	ModeAutonomous
	ModeTest
)

// String returns the wire name.
func (m Mode) String() string {
	switch m {
	case ModeTeleop:
		return "teleop"
	case ModeAutonomous:
		return "auto"
	case ModeTest:
		return "test"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) Valid() bool {
	return m >= ModeTeleop && m <= ModeTest
}

// ParseMode accepts the wire names, case-insensitively, plus "autonomous".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "teleop":
		return ModeTeleop, nil
	case "auto", "autonomous":
		return ModeAutonomous, nil
	case "test":
		return ModeTest, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

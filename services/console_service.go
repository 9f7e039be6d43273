package services

import (
	"context"
	"fmt"

	"github.com/open-teleop/driverstation/pkg/dispatch"
	"github.com/open-teleop/driverstation/pkg/joystick"
	"github.com/open-teleop/driverstation/pkg/link"
	customlog "github.com/open-teleop/driverstation/pkg/log"
)

// LinkController is the part of link.Link the console drives.
type LinkController interface {
	Connect(ctx context.Context, identifier int) error
	Disconnect()
	SetEnabled(enabled bool) bool
	SetMode(mode link.Mode) error
	Status() link.Status
	Telemetry() link.Telemetry
}

// InputController is the part of joystick.Source the console drives.
type InputController interface {
	State() joystick.State
	Selected() int
	Deadzone() float64
	Select(index int) error
	SetDeadzone(deadzone float64) error
	ListAvailable() ([]joystick.DeviceEntry, error)
}

// DispatchObserver exposes dispatch loop counters.
type DispatchObserver interface {
	Status() dispatch.Status
}

// ConsoleStatus is everything a presentation layer shows at once.
type ConsoleStatus struct {
	Identifier int             `json:"identifier"`
	Link       link.Status     `json:"link"`
	Mode       string          `json:"mode"`
	Device     DeviceStatus    `json:"device"`
	Dispatch   dispatch.Status `json:"dispatch"`
	Telemetry  link.Telemetry  `json:"telemetry"`
}

// DeviceStatus describes the selected input device.
type DeviceStatus struct {
	Present     bool      `json:"present"`
	DisplayName string    `json:"display_name"`
	Selected    int       `json:"selected"`
	Deadzone    float64   `json:"deadzone"`
	Axes        []float64 `json:"axes"`
	Buttons     []bool    `json:"buttons"`
}

// ConsoleService maps user actions onto core operations, one to one.
type ConsoleService interface {
	Connect(ctx context.Context, identifier int) error
	Disconnect()
	SetEnabled(enabled bool) bool
	SetMode(mode link.Mode) error
	ListDevices() ([]joystick.DeviceEntry, error)
	SelectDevice(index int) error
	SetDeadzone(deadzone float64) error
	Status() ConsoleStatus
	Telemetry() link.Telemetry
	DefaultIdentifier() int
}

type consoleService struct {
	link       LinkController
	input      InputController
	dispatch   DispatchObserver
	identifier int
	logger     customlog.Logger
}

// NewConsoleService wires the console actions to the core. identifier is the
// configured team number used when a connect request names none.
func NewConsoleService(l LinkController, input InputController, d DispatchObserver, identifier int, logger customlog.Logger) (ConsoleService, error) {
	if l == nil || input == nil || d == nil {
		return nil, fmt.Errorf("console service requires link, input and dispatch")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &consoleService{
		link:       l,
		input:      input,
		dispatch:   d,
		identifier: identifier,
		logger:     logger,
	}, nil
}

func (s *consoleService) Connect(ctx context.Context, identifier int) error {
	if identifier == 0 {
		identifier = s.identifier
	}
	s.logger.Debugf("Connect requested for team %d", identifier)
	return s.link.Connect(ctx, identifier)
}

func (s *consoleService) Disconnect() {
	s.logger.Debugf("Disconnect requested")
	s.link.Disconnect()
}

func (s *consoleService) SetEnabled(enabled bool) bool {
	return s.link.SetEnabled(enabled)
}

func (s *consoleService) SetMode(mode link.Mode) error {
	return s.link.SetMode(mode)
}

func (s *consoleService) ListDevices() ([]joystick.DeviceEntry, error) {
	return s.input.ListAvailable()
}

func (s *consoleService) SelectDevice(index int) error {
	return s.input.Select(index)
}

func (s *consoleService) SetDeadzone(deadzone float64) error {
	return s.input.SetDeadzone(deadzone)
}

func (s *consoleService) Status() ConsoleStatus {
	ls := s.link.Status()
	state := s.input.State()
	identifier := ls.Session.Identifier
	if identifier == 0 {
		identifier = s.identifier
	}
	return ConsoleStatus{
		Identifier: identifier,
		Link:       ls,
		Mode:       ls.Session.Mode.String(),
		Device: DeviceStatus{
			Present:     state.Present,
			DisplayName: state.DisplayName(),
			Selected:    s.input.Selected(),
			Deadzone:    s.input.Deadzone(),
			Axes:        state.Axes,
			Buttons:     state.Buttons,
		},
		Dispatch:  s.dispatch.Status(),
		Telemetry: s.link.Telemetry(),
	}
}

func (s *consoleService) Telemetry() link.Telemetry {
	return s.link.Telemetry()
}

func (s *consoleService) DefaultIdentifier() int {
	return s.identifier
}

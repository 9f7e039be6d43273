// Package sdl provides a joystick.Subsystem backed by SDL2 joysticks.
//
// SDL must be initialized and pumped from the same OS thread. New has to be
// called from that thread (normally the locked main goroutine), and that
// thread must keep calling Pump; the poll loop never pumps this subsystem.
package sdl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/open-teleop/driverstation/pkg/joystick"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/veandco/go-sdl2/sdl"
)

var ErrClosed = errors.New("sdl: subsystem closed")

var _ joystick.Subsystem = (*Subsystem)(nil)

// Subsystem wraps the SDL joystick API.
type Subsystem struct {
	logger customlog.Logger

	mu     sync.Mutex
	closed bool
}

// New initializes the SDL joystick subsystem on the calling thread.
func New(logger customlog.Logger) (*Subsystem, error) {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	if err := sdl.Init(sdl.INIT_JOYSTICK); err != nil {
		return nil, fmt.Errorf("sdl: %w", err)
	}
	logger.Infof("SDL joystick subsystem initialized, %d device(s) attached", sdl.NumJoysticks())
	return &Subsystem{logger: logger}, nil
}

func (s *Subsystem) Name() string { return "sdl" }

func (s *Subsystem) RequiresExternalPump() bool { return true }

// Pump processes SDL events, which refreshes joystick state and the device list.
func (s *Subsystem) Pump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	sdl.PumpEvents()
	sdl.JoystickUpdate()
}

func (s *Subsystem) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := sdl.NumJoysticks()
	if n < 0 {
		return 0, fmt.Errorf("sdl: %w", sdl.GetError())
	}
	return n, nil
}

func (s *Subsystem) DeviceName(index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	name := sdl.JoystickNameForIndex(index)
	if name == "" {
		return "", fmt.Errorf("sdl: no name for joystick %d: %v", index, sdl.GetError())
	}
	return name, nil
}

func (s *Subsystem) Open(index int) (joystick.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	joy := sdl.JoystickOpen(index)
	if joy == nil {
		return nil, fmt.Errorf("sdl: open joystick %d: %v", index, sdl.GetError())
	}
	d := &device{sub: s, joy: joy, name: joy.Name()}
	s.logger.Debugf("SDL joystick %d opened: %s (%d axes, %d buttons)", index, d.name, joy.NumAxes(), joy.NumButtons())
	return d, nil
}

// Close shuts the joystick subsystem down. Devices opened from it become detached.
func (s *Subsystem) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sdl.QuitSubSystem(sdl.INIT_JOYSTICK)
	return nil
}

type device struct {
	sub  *Subsystem
	joy  *sdl.Joystick
	name string
}

func (d *device) Name() string { return d.name }

func (d *device) Attached() bool {
	d.sub.mu.Lock()
	defer d.sub.mu.Unlock()
	return !d.sub.closed && d.joy != nil && d.joy.Attached()
}

func (d *device) NumAxes() int {
	d.sub.mu.Lock()
	defer d.sub.mu.Unlock()
	if d.sub.closed || d.joy == nil {
		return 0
	}
	return d.joy.NumAxes()
}

func (d *device) Axis(index int) (float64, error) {
	d.sub.mu.Lock()
	defer d.sub.mu.Unlock()
	if d.sub.closed || d.joy == nil {
		return 0, ErrClosed
	}
	return normalizeAxis(d.joy.Axis(index)), nil
}

func (d *device) NumButtons() int {
	d.sub.mu.Lock()
	defer d.sub.mu.Unlock()
	if d.sub.closed || d.joy == nil {
		return 0
	}
	return d.joy.NumButtons()
}

func (d *device) Button(index int) (bool, error) {
	d.sub.mu.Lock()
	defer d.sub.mu.Unlock()
	if d.sub.closed || d.joy == nil {
		return false, ErrClosed
	}
	return d.joy.Button(index) != 0, nil
}

func (d *device) Close() error {
	d.sub.mu.Lock()
	defer d.sub.mu.Unlock()
	if d.joy == nil {
		return nil
	}
	if !d.sub.closed {
		d.joy.Close()
	}
	d.joy = nil
	return nil
}

// normalizeAxis maps SDL's int16 range onto [-1, 1].
func normalizeAxis(raw int16) float64 {
	v := float64(raw) / 32767.0
	if v < -1 {
		return -1
	}
	return v
}

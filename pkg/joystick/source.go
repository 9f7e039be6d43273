package joystick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/driverstation/pkg/events"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/open-teleop/driverstation/pkg/schedule"
)

var (
	ErrInvalidDeviceIndex = errors.New("joystick: device index out of range")
	ErrInvalidDeadzone    = errors.New("joystick: deadzone must be in [0, 1)")
)

// Options tunes a Source.
type Options struct {
	PollInterval     time.Duration
	ErrorBackoff     time.Duration
	RegistryInterval time.Duration
	Deadzone         float64
	DeviceIndex      int
	MaxDevices       int
}

// DefaultOptions polls at 50 Hz with a 0.1 deadzone on device 0.
func DefaultOptions() Options {
	return Options{
		PollInterval:     20 * time.Millisecond,
		ErrorBackoff:     100 * time.Millisecond,
		RegistryInterval: time.Second,
		Deadzone:         0.1,
		DeviceIndex:      0,
		MaxDevices:       16,
	}
}

// Source polls the selected device of a Subsystem in the background.
//
// Lock order is ctlMu then stateMu. Fields under "poll goroutine" are only
// touched by the loop, or after Stop has confirmed the loop exited.
type Source struct {
	subsystem Subsystem
	logger    customlog.Logger
	events    events.Publisher
	opts      Options
	loop      *schedule.Loop
	registry  *registry

	ctlMu      sync.Mutex
	selected   int
	generation uint64
	deadzone   float64

	stateMu sync.RWMutex
	state   State

	// poll goroutine
	device       Device
	deviceGen    uint64
	lastRegistry time.Time
}

// NewSource validates opts and returns a stopped Source.
func NewSource(subsystem Subsystem, opts Options, publisher events.Publisher, logger customlog.Logger) (*Source, error) {
	if subsystem == nil {
		return nil, errors.New("joystick: subsystem required")
	}
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = defaults.ErrorBackoff
	}
	if opts.RegistryInterval <= 0 {
		opts.RegistryInterval = defaults.RegistryInterval
	}
	if opts.MaxDevices <= 0 {
		opts.MaxDevices = defaults.MaxDevices
	}
	if opts.Deadzone < 0 || opts.Deadzone >= 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeadzone, opts.Deadzone)
	}
	if opts.DeviceIndex < 0 || opts.DeviceIndex >= opts.MaxDevices {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDeviceIndex, opts.DeviceIndex)
	}
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	s := &Source{
		subsystem: subsystem,
		logger:    logger,
		events:    publisher,
		opts:      opts,
		registry:  newRegistry(),
		selected:  opts.DeviceIndex,
		deadzone:  opts.Deadzone,
	}
	s.loop = schedule.NewLoop("joystick", opts.PollInterval, s.tick, logger)
	return s, nil
}

// Start begins polling. It is a no-op if the loop is already running.
func (s *Source) Start() {
	if s.loop.Start() {
		s.logger.Infof("Controller polling started on %s backend (every %s)", s.subsystem.Name(), s.opts.PollInterval)
	}
}

// Stop ends polling and waits for the loop to exit. The open device is
// closed and the state drops to "not present".
func (s *Source) Stop() error {
	if err := s.loop.Stop(); err != nil {
		// The poll goroutine may still hold the device; leave it alone.
		return fmt.Errorf("stop controller polling: %w", err)
	}
	s.closeDevice()

	s.ctlMu.Lock()
	gen := s.generation
	s.ctlMu.Unlock()
	s.commit(gen, State{})
	return nil
}

// Close stops polling and releases the subsystem.
func (s *Source) Close() error {
	stopErr := s.Stop()
	return errors.Join(stopErr, s.subsystem.Close())
}

// Running reports whether the poll loop is active.
func (s *Source) Running() bool {
	return s.loop.Running()
}

// RequiresExternalPump forwards the subsystem capability so the owner of the
// initializing thread knows it has to pump.
func (s *Source) RequiresExternalPump() bool {
	return s.subsystem.RequiresExternalPump()
}

// Pump forwards to the subsystem. Call it only from the thread that owns it.
func (s *Source) Pump() {
	s.subsystem.Pump()
}

// State returns a copy of the current snapshot.
func (s *Source) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Clone()
}

// Selected returns the polled device index.
func (s *Source) Selected() int {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	return s.selected
}

// Deadzone returns the current clamp radius.
func (s *Source) Deadzone() float64 {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	return s.deadzone
}

// Select switches the polled slot. The state resets to "not present" now and
// the new device is picked up on the next poll.
func (s *Source) Select(index int) error {
	if index < 0 || index >= s.opts.MaxDevices {
		return fmt.Errorf("%w: %d", ErrInvalidDeviceIndex, index)
	}

	s.ctlMu.Lock()
	s.selected = index
	s.generation++

	s.stateMu.Lock()
	wasPresent := s.state.Present
	s.state = State{}
	s.stateMu.Unlock()
	s.ctlMu.Unlock()

	s.logger.Infof("Selected controller index %d", index)
	if wasPresent {
		s.events.Publish(events.NewDeviceChanged(false, ""))
	}
	return nil
}

// SetDeadzone updates the clamp radius for subsequent polls.
func (s *Source) SetDeadzone(deadzone float64) error {
	if deadzone < 0 || deadzone >= 1 {
		return fmt.Errorf("%w: %v", ErrInvalidDeadzone, deadzone)
	}
	s.ctlMu.Lock()
	s.deadzone = deadzone
	s.ctlMu.Unlock()
	s.logger.Debugf("Deadzone set to %.3f", deadzone)
	return nil
}

// ListAvailable enumerates the attached devices. Devices that fail to
// enumerate are logged and skipped.
func (s *Source) ListAvailable() ([]DeviceEntry, error) {
	count, err := s.subsystem.Count()
	if err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}
	entries := make([]DeviceEntry, 0, count)
	for i := 0; i < count; i++ {
		name, err := s.subsystem.DeviceName(i)
		if err != nil {
			s.logger.Warnf("Skipping controller %d: %v", i, err)
			continue
		}
		entries = append(entries, DeviceEntry{Index: i, Name: name})
	}
	return entries, nil
}

// Registry returns the device listing from the last periodic refresh.
func (s *Source) Registry() []DeviceEntry {
	return s.registry.snapshot()
}

func (s *Source) tick(ctx context.Context) time.Duration {
	if err := s.poll(); err != nil {
		s.logger.Warnf("Controller error: %v", err)
		return s.opts.ErrorBackoff
	}
	if time.Since(s.lastRegistry) >= s.opts.RegistryInterval {
		s.refreshRegistry()
	}
	return 0
}

// poll runs one cycle against the subsystem.
func (s *Source) poll() error {
	if !s.subsystem.RequiresExternalPump() {
		s.subsystem.Pump()
	}

	s.ctlMu.Lock()
	selected, gen, deadzone := s.selected, s.generation, s.deadzone
	s.ctlMu.Unlock()

	// A Select or an unplug drops the open handle before anything is read.
	if s.device != nil && (s.deviceGen != gen || !s.device.Attached()) {
		s.closeDevice()
		s.commit(gen, State{})
	}

	count, err := s.subsystem.Count()
	if err != nil {
		return fmt.Errorf("count devices: %w", err)
	}

	// Nothing at the selected index reads as absent, not as an error.
	if selected >= count {
		if s.device != nil {
			s.closeDevice()
		}
		s.commit(gen, State{})
		return nil
	}

	if s.device == nil {
		dev, err := s.subsystem.Open(selected)
		if err != nil {
			return fmt.Errorf("open device %d: %w", selected, err)
		}
		s.device = dev
		s.deviceGen = gen
		s.logger.Debugf("Opened controller %d: %s", selected, dev.Name())
	}

	axes, buttons, err := readDevice(s.device, deadzone)
	if err != nil {
		return fmt.Errorf("read device %d: %w", selected, err)
	}

	s.commit(gen, State{
		Present: true,
		Name:    s.device.Name(),
		Axes:    axes,
		Buttons: buttons,
	})
	return nil
}

// commit publishes next unless a Select happened since gen was read.
// Present transitions emit DeviceChanged.
func (s *Source) commit(gen uint64, next State) bool {
	s.ctlMu.Lock()
	// Stale cycle: the state belongs to a device that is no longer selected.
	if s.generation != gen {
		s.ctlMu.Unlock()
		return false
	}
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()
	s.ctlMu.Unlock()

	switch {
	case !prev.Present && next.Present:
		s.logger.Infof("Controller connected: %s", next.Name)
		s.events.Publish(events.NewDeviceChanged(true, next.Name))
	case prev.Present && !next.Present:
		s.logger.Infof("Controller disconnected: %s", prev.Name)
		s.events.Publish(events.NewDeviceChanged(false, ""))
	}
	return true
}

func (s *Source) closeDevice() {
	if s.device == nil {
		return
	}
	if err := s.device.Close(); err != nil {
		s.logger.Warnf("Closing controller %s failed: %v", s.device.Name(), err)
	}
	s.device = nil
}

func (s *Source) refreshRegistry() {
	s.lastRegistry = time.Now()
	entries, err := s.ListAvailable()
	if err != nil {
		s.logger.Warnf("Controller registry refresh failed: %v", err)
		return
	}
	added, removed := s.registry.update(entries)
	if len(added) > 0 || len(removed) > 0 {
		s.logger.Infof("Controllers changed: added=%v removed=%v", added, removed)
		s.events.Publish(events.NewDevicesChanged(added, removed))
	}
}

func readDevice(dev Device, deadzone float64) ([]float64, []bool, error) {
	// Report-based devices hand over one consistent pair.
	if snap, ok := dev.(Snapshotter); ok {
		axes, buttons, err := snap.Snapshot()
		if err != nil {
			return nil, nil, err
		}
		for i, v := range axes {
			axes[i] = ApplyDeadzone(clampUnit(v), deadzone)
		}
		return axes, buttons, nil
	}

	// Otherwise read index by index.
	axes := make([]float64, dev.NumAxes())
	for i := range axes {
		v, err := dev.Axis(i)
		if err != nil {
			return nil, nil, fmt.Errorf("axis %d: %w", i, err)
		}
		axes[i] = ApplyDeadzone(clampUnit(v), deadzone)
	}

	buttons := make([]bool, dev.NumButtons())
	for i := range buttons {
		pressed, err := dev.Button(i)
		if err != nil {
			return nil, nil, fmt.Errorf("button %d: %w", i, err)
		}
		buttons[i] = pressed
	}
	return axes, buttons, nil
}

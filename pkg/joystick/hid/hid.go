// Package hid provides a joystick.Subsystem that reads raw HID input reports.
// It needs no event pump; each opened device has its own reader goroutine.
package hid

import (
	"errors"
	"fmt"
	"sync"
	"time"

	rawhid "github.com/karalabe/hid"
	"github.com/open-teleop/driverstation/pkg/joystick"
	customlog "github.com/open-teleop/driverstation/pkg/log"
)

var (
	ErrUnsupported = errors.New("hid: not supported on this platform")
	ErrDetached    = errors.New("hid: device detached")
)

const (
	usagePageGenericDesktop = 0x01
	usageJoystick           = 0x04
	usageGamepad            = 0x05
)

// Options selects which HID devices count as controllers and how to read them.
// Zero VendorID/ProductID match any device.
type Options struct {
	VendorID     uint16
	ProductID    uint16
	Layout       Layout
	EnumerateTTL time.Duration
}

// DefaultOptions matches any gamepad with the default layout.
func DefaultOptions() Options {
	return Options{
		Layout:       DefaultLayout(),
		EnumerateTTL: 500 * time.Millisecond,
	}
}

var _ joystick.Subsystem = (*Subsystem)(nil)

// Subsystem enumerates HID controllers. Enumeration is cached for
// Options.EnumerateTTL since it walks the whole bus.
type Subsystem struct {
	opts      Options
	logger    customlog.Logger
	enumerate func() []rawhid.DeviceInfo

	mu       sync.Mutex
	cached   []rawhid.DeviceInfo
	cachedAt time.Time
}

// New checks platform support and validates the report layout.
func New(opts Options, logger customlog.Logger) (*Subsystem, error) {
	if !rawhid.Supported() {
		return nil, ErrUnsupported
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.EnumerateTTL <= 0 {
		opts.EnumerateTTL = DefaultOptions().EnumerateTTL
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	s := &Subsystem{opts: opts, logger: logger}
	s.enumerate = func() []rawhid.DeviceInfo {
		return rawhid.Enumerate(opts.VendorID, opts.ProductID)
	}
	return s, nil
}

func (s *Subsystem) Name() string { return "hid" }

func (s *Subsystem) RequiresExternalPump() bool { return false }

// Pump is a no-op; reader goroutines keep device state current.
func (s *Subsystem) Pump() {}

func (s *Subsystem) Count() (int, error) {
	return len(s.devices()), nil
}

func (s *Subsystem) DeviceName(index int) (string, error) {
	devs := s.devices()
	if index < 0 || index >= len(devs) {
		return "", fmt.Errorf("hid: no device at index %d", index)
	}
	return displayName(devs[index]), nil
}

func (s *Subsystem) Open(index int) (joystick.Device, error) {
	devs := s.devices()
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("hid: no device at index %d", index)
	}
	info := devs[index]
	dev, err := info.Open()
	if err != nil {
		return nil, fmt.Errorf("hid: open %s: %w", info.Path, err)
	}

	d := &device{
		name:    displayName(info),
		path:    info.Path,
		layout:  s.opts.Layout,
		handle:  dev,
		logger:  s.logger,
		axes:    make([]float64, len(s.opts.Layout.AxisOffsets)),
		buttons: make([]bool, s.opts.Layout.ButtonCount),
		alive:   true,
	}
	go d.readLoop()
	s.logger.Debugf("HID device opened: %s (%s)", d.name, d.path)
	return d, nil
}

func (s *Subsystem) Close() error { return nil }

func (s *Subsystem) devices() []rawhid.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && time.Since(s.cachedAt) < s.opts.EnumerateTTL {
		return s.cached
	}
	all := s.enumerate()
	out := make([]rawhid.DeviceInfo, 0, len(all))
	for _, info := range all {
		if isController(info, s.opts) {
			out = append(out, info)
		}
	}
	s.cached = out
	s.cachedAt = time.Now()
	return out
}

// isController keeps explicit vendor/product matches and generic-desktop
// joysticks or gamepads. Platforms that do not report usage pages are kept.
func isController(info rawhid.DeviceInfo, opts Options) bool {
	if opts.VendorID != 0 || opts.ProductID != 0 {
		return true
	}
	if info.UsagePage == 0 {
		return true
	}
	return info.UsagePage == usagePageGenericDesktop &&
		(info.Usage == usageJoystick || info.Usage == usageGamepad)
}

func displayName(info rawhid.DeviceInfo) string {
	switch {
	case info.Product != "" && info.Manufacturer != "":
		return info.Manufacturer + " " + info.Product
	case info.Product != "":
		return info.Product
	default:
		return fmt.Sprintf("HID %04x:%04x", info.VendorID, info.ProductID)
	}
}

type reportReader interface {
	Read(b []byte) (int, error)
}

type device struct {
	name   string
	path   string
	layout Layout
	logger customlog.Logger

	handle *rawhid.Device
	reader reportReader

	mu      sync.RWMutex
	axes    []float64
	buttons []bool
	alive   bool
	closed  bool
}

func (d *device) readLoop() {
	var r reportReader = d.handle
	if d.reader != nil {
		r = d.reader
	}
	buf := make([]byte, d.layout.ReportSize)
	for {
		n, err := r.Read(buf)
		if err != nil {
			d.mu.Lock()
			wasClosed := d.closed
			d.alive = false
			d.mu.Unlock()
			if !wasClosed {
				d.logger.Warnf("HID device %s read failed: %v", d.name, err)
			}
			return
		}
		axes, buttons, err := ParseReport(d.layout, buf[:n])
		if err != nil {
			// Some pads interleave shorter status reports.
			continue
		}
		d.mu.Lock()
		d.axes, d.buttons = axes, buttons
		d.mu.Unlock()
	}
}

var _ joystick.Snapshotter = (*device)(nil)

func (d *device) Name() string { return d.name }

func (d *device) Attached() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.alive && !d.closed
}

func (d *device) NumAxes() int { return len(d.layout.AxisOffsets) }

func (d *device) Axis(index int) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.alive {
		return 0, ErrDetached
	}
	if index < 0 || index >= len(d.axes) {
		return 0, fmt.Errorf("hid: axis %d out of range", index)
	}
	return d.axes[index], nil
}

func (d *device) NumButtons() int { return d.layout.ButtonCount }

func (d *device) Button(index int) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.alive {
		return false, ErrDetached
	}
	if index < 0 || index >= len(d.buttons) {
		return false, fmt.Errorf("hid: button %d out of range", index)
	}
	return d.buttons[index], nil
}

// Snapshot copies the axes and buttons of the latest report under one lock.
func (d *device) Snapshot() ([]float64, []bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.alive {
		return nil, nil, ErrDetached
	}
	return append([]float64(nil), d.axes...), append([]bool(nil), d.buttons...), nil
}

// Close releases the handle, which unblocks the reader goroutine.
func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	if d.handle != nil {
		d.handle.Close()
	}
	return nil
}

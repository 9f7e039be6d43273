// Package link owns the session with the robot: connect and disconnect,
// enable and mode replication, joystick publishing and telemetry ingestion.
package link

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-teleop/driverstation/pkg/events"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/open-teleop/driverstation/pkg/schedule"
)

var (
	ErrInvalidIdentifier = errors.New("link: identifier must be in 1-9999")
	ErrInvalidMode       = errors.New("link: unknown mode")
	ErrLinkInactive      = errors.New("link: not connected and enabled")
	ErrConnectFailed     = errors.New("link: connect failed")
	ErrStoreNotLive      = errors.New("link: store not live")
	ErrKeyNotFound       = errors.New("link: key not found")
)

// Options tunes a Link.
type Options struct {
	ConnectTimeout    time.Duration
	TelemetryInterval time.Duration
	MaxReadFailures   int
	StopTimeout       time.Duration

	// AddressOverride replaces the derived address, e.g. for a simulator.
	AddressOverride string

	// Alliance and Station are written on connect when set.
	Alliance string
	Station  int
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    5 * time.Second,
		TelemetryInterval: 100 * time.Millisecond,
		MaxReadFailures:   3,
		StopTimeout:       time.Second,
	}
}

// Session describes the current connection. Connected=false implies Enabled=false.
type Session struct {
	ID         uuid.UUID `json:"id"`
	Identifier int       `json:"identifier"`
	Address    string    `json:"address"`
	Connected  bool      `json:"connected"`
	// Enabled is the desired state; ConfirmedEnabled the last acknowledged one.
	Enabled          bool `json:"enabled"`
	ConfirmedEnabled bool `json:"confirmed_enabled"`
	Mode             Mode `json:"mode"`
}

// Status is what the dispatch gate reads each tick.
type Status struct {
	Session   Session `json:"session"`
	Connected bool    `json:"connected"`
	Enabled   bool    `json:"enabled"`
}

// Telemetry is the latest robot sample. Zero while disconnected.
type Telemetry struct {
	BatteryVoltage float64   `json:"battery_voltage"`
	BatteryLevel   string    `json:"battery_level,omitempty"`
	CPUPercent     float64   `json:"cpu_percent"`
	RAMPercent     float64   `json:"ram_percent"`
	SessionID      uuid.UUID `json:"session_id"`
	SampledAt      time.Time `json:"sampled_at"`
}

// Link is the console side of the robot session.
//
// Lock order is connMu, then mu, then telMu. connMu serializes Connect and
// Disconnect; the telemetry loop never takes it.
type Link struct {
	store  Store
	opts   Options
	logger customlog.Logger
	events events.Publisher

	connMu sync.Mutex
	loop   *schedule.Loop

	mu      sync.RWMutex
	session Session
	// closing is set while Disconnect tears the session down. Enable,
	// replication and publish are refused until the session is cleared.
	closing bool

	telMu     sync.RWMutex
	telemetry Telemetry
}

// New returns a disconnected Link in teleop mode.
func New(store Store, opts Options, publisher events.Publisher, logger customlog.Logger) *Link {
	defaults := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = defaults.TelemetryInterval
	}
	if opts.MaxReadFailures <= 0 {
		opts.MaxReadFailures = defaults.MaxReadFailures
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaults.StopTimeout
	}
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Link{
		store:   store,
		opts:    opts,
		logger:  logger,
		events:  publisher,
		session: Session{Mode: ModeTeleop},
	}
}

// Connect opens a session with the robot for identifier. A nil error means
// connected. Calling Connect while connected keeps the current session.
func (l *Link) Connect(ctx context.Context, identifier int) error {
	address, err := l.resolveAddress(identifier)
	if err != nil {
		return err
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()

	l.mu.RLock()
	already := l.session.Connected
	l.mu.RUnlock()
	if already {
		l.logger.Debugf("Connect ignored, session already open")
		return nil
	}

	// A session that ended through link loss still holds its loop and store.
	l.releaseLocked()

	l.logger.Infof("Connecting to robot at %s...", address)
	connectCtx, cancel := context.WithTimeout(ctx, l.opts.ConnectTimeout)
	defer cancel()

	if err := l.store.Start(connectCtx, address); err != nil {
		if stopErr := l.store.Stop(); stopErr != nil {
			l.logger.Warnf("Releasing store after failed connect: %v", stopErr)
		}
		l.logger.Warnf("Failed to connect to robot at %s: %v", address, err)
		l.events.Publish(events.NewConnectionChanged(false))
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, address, err)
	}

	id := uuid.New()
	l.mu.Lock()
	l.session = Session{
		ID:         id,
		Identifier: identifier,
		Address:    address,
		Connected:  true,
		Mode:       l.session.Mode,
	}
	mode := l.session.Mode
	l.mu.Unlock()

	initial := []Entry{Bool(KeyEnabled, false), String(KeyMode, mode.String())}
	if l.opts.Alliance != "" {
		initial = append(initial, String(KeyAlliance, l.opts.Alliance))
	}
	if l.opts.Station > 0 {
		initial = append(initial, Number(KeyStation, float64(l.opts.Station)))
	}
	if err := l.store.PutAll(initial...); err != nil {
		l.logger.Warnf("Writing initial console state failed: %v", err)
	}

	l.loop = schedule.NewLoop("telemetry", l.opts.TelemetryInterval, l.telemetryTick(id), l.logger)
	l.loop.SetStopTimeout(l.opts.StopTimeout)
	l.loop.Start()

	l.logger.Infof("Connected to robot at %s (session %s)", address, id)
	l.events.Publish(events.NewConnectionChanged(true))
	return nil
}

// Disconnect disables the robot, tears the session down and clears telemetry.
// It always leaves the link disconnected.
func (l *Link) Disconnect() {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	// Taking the write lock waits out any in-flight Publish. Enabled is
	// cleared and closing set together, so nothing can re-enable the robot
	// between here and the cleared session below.
	l.mu.Lock()
	wasConnected := l.session.Connected
	wasEnabled := l.session.Enabled
	l.session.Enabled = false
	l.closing = true
	mode := l.session.Mode
	l.mu.Unlock()

	// Last write to the robot for this session: disabled, current mode.

	if wasConnected {
		if err := l.store.PutAll(Bool(KeyEnabled, false), String(KeyMode, mode.String())); err != nil {
			l.logger.Warnf("Disabling robot before disconnect failed: %v", err)
		}
	}

	l.releaseLocked()

	// Mode survives the session so the next connect keeps it.
	l.mu.Lock()
	l.session = Session{Mode: l.session.Mode}
	l.closing = false
	l.mu.Unlock()
	l.clearTelemetry()

	if wasEnabled {
		l.events.Publish(events.NewEnabledChanged(false))
	}
	if wasConnected {
		l.logger.Infof("Disconnected from robot")
		l.events.Publish(events.NewConnectionChanged(false))
	}
}

// releaseLocked stops the telemetry loop and the store. connMu must be held.
func (l *Link) releaseLocked() {
	if l.loop != nil {
		if err := l.loop.Stop(); err != nil {
			l.logger.Errorf("Stopping telemetry loop: %v", err)
		}
		l.loop = nil
	}
	if err := l.store.Stop(); err != nil {
		l.logger.Warnf("Stopping store: %v", err)
	}
}

// SetEnabled sets the desired enabled state and replicates it with the mode.
// It returns false, changing nothing, when not connected or while a
// Disconnect is in progress.
func (l *Link) SetEnabled(enabled bool) bool {
	l.mu.Lock()
	if !l.session.Connected || l.closing {
		l.mu.Unlock()
		return false
	}
	changed := l.session.Enabled != enabled
	l.session.Enabled = enabled
	id := l.session.ID
	l.mu.Unlock()

	if changed {
		l.logger.Infof("Robot %s", enabledWord(enabled))
		l.events.Publish(events.NewEnabledChanged(enabled))
	}

	l.replicate(id, func(s Session) bool { return s.Enabled == enabled })
	return true
}

// SetMode stores mode and replicates it when connected.
func (l *Link) SetMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}

	l.mu.Lock()
	changed := l.session.Mode != mode
	l.session.Mode = mode
	connected, id := l.session.Connected, l.session.ID
	l.mu.Unlock()

	if changed {
		l.logger.Infof("Mode set to %s", mode)
		l.events.Publish(events.NewModeChanged(mode.String()))
	}
	if connected {
		l.replicate(id, func(s Session) bool { return s.Mode == mode })
	}
	return nil
}

// replicate writes {Enabled, Mode} as one batch if the session is still id
// and still matches. The read lock is held across the write so a concurrent
// Disconnect cannot be overtaken.
func (l *Link) replicate(id uuid.UUID, current func(Session) bool) {
	l.mu.RLock()
	s := l.session
	if !s.Connected || l.closing || s.ID != id || !current(s) {
		l.mu.RUnlock()
		return
	}
	err := l.store.PutAll(Bool(KeyEnabled, s.Enabled), String(KeyMode, s.Mode.String()))
	l.mu.RUnlock()

	if err != nil {
		l.logger.Warnf("Replicating enabled=%t mode=%s failed: %v", s.Enabled, s.Mode, err)
		return
	}

	l.mu.Lock()
	if l.session.ID == id && l.session.Connected {
		l.session.ConfirmedEnabled = s.Enabled
	}
	l.mu.Unlock()
}

// Publish writes one joystick frame. Each axis and button is written
// independently; failures are joined into the returned error.
func (l *Link) Publish(axes []float64, buttons []bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Repeats the dispatch gate; a disable or teardown may have landed
	// since the gate was evaluated.
	if !l.session.Connected || !l.session.Enabled || l.closing {
		return ErrLinkInactive
	}

	var errs []error
	for i, v := range axes {
		if err := l.store.Put(Number(AxisKey(i), v)); err != nil {
			errs = append(errs, fmt.Errorf("axis %d: %w", i, err))
		}
	}
	for i, pressed := range buttons {
		if err := l.store.Put(Bool(ButtonKey(i), pressed)); err != nil {
			errs = append(errs, fmt.Errorf("button %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports the local flag and store liveness together.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	connected := l.session.Connected
	l.mu.RUnlock()
	return connected && l.store.IsConnected()
}

func (l *Link) Status() Status {
	l.mu.RLock()
	s := l.session
	l.mu.RUnlock()
	connected := s.Connected && l.store.IsConnected()
	return Status{
		Session:   s,
		Connected: connected,
		Enabled:   s.Enabled,
	}
}

func (l *Link) Session() Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}

func (l *Link) Telemetry() Telemetry {
	l.telMu.RLock()
	defer l.telMu.RUnlock()
	return l.telemetry
}

func (l *Link) resolveAddress(identifier int) (string, error) {
	address, err := DeriveAddress(identifier)
	if err != nil {
		return "", err
	}
	if l.opts.AddressOverride != "" {
		return l.opts.AddressOverride, nil
	}
	return address, nil
}

// telemetryTick returns the ingestion cycle bound to one session.
func (l *Link) telemetryTick(id uuid.UUID) schedule.TickFunc {
	failures := 0
	return func(ctx context.Context) time.Duration {
		sample, err := l.readTelemetry()
		if err != nil {
			failures++
			l.logger.Warnf("Telemetry read failed (%d/%d): %v", failures, l.opts.MaxReadFailures, err)
			if failures >= l.opts.MaxReadFailures {
				l.lost(id)
				return schedule.Halt
			}
			return 0
		}
		failures = 0
		sample.SessionID = id
		l.commitTelemetry(id, sample)
		return 0
	}
}

func (l *Link) readTelemetry() (Telemetry, error) {
	if !l.store.IsConnected() {
		return Telemetry{}, ErrStoreNotLive
	}
	battery, err := l.readNumber(KeyBatteryVoltage)
	if err != nil {
		return Telemetry{}, err
	}
	cpu, err := l.readNumber(KeyCPUPercent)
	if err != nil {
		return Telemetry{}, err
	}
	ram, err := l.readNumber(KeyRAMPercent)
	if err != nil {
		return Telemetry{}, err
	}
	battery = math.Max(0, finite(battery))
	return Telemetry{
		BatteryVoltage: battery,
		BatteryLevel:   ClassifyBattery(battery),
		CPUPercent:     clampPercent(cpu),
		RAMPercent:     clampPercent(ram),
		SampledAt:      time.Now(),
	}, nil
}

// readNumber treats a key the robot has not published yet as 0. Only a
// transport failure fails the cycle.
func (l *Link) readNumber(key string) (float64, error) {
	v, err := l.store.GetNumber(key)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// commitTelemetry drops samples that belong to a session that is no longer current.
func (l *Link) commitTelemetry(id uuid.UUID, sample Telemetry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.session.Connected || l.session.ID != id {
		return
	}
	l.telMu.Lock()
	l.telemetry = sample
	l.telMu.Unlock()
}

// lost marks the session gone after repeated telemetry failures.
func (l *Link) lost(id uuid.UUID) {
	l.mu.Lock()
	if l.session.ID != id || !l.session.Connected {
		l.mu.Unlock()
		return
	}
	wasEnabled := l.session.Enabled
	l.session.Connected = false
	l.session.Enabled = false
	l.mu.Unlock()
	l.clearTelemetry()

	l.logger.Errorf("Connection to robot lost")
	if wasEnabled {
		l.events.Publish(events.NewEnabledChanged(false))
	}
	l.events.Publish(events.NewConnectionChanged(false))
}

func (l *Link) clearTelemetry() {
	l.telMu.Lock()
	l.telemetry = Telemetry{}
	l.telMu.Unlock()
}

func clampPercent(v float64) float64 {
	return math.Min(100, math.Max(0, finite(v)))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

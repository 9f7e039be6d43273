// Package dispatch forwards joystick frames to the robot at a fixed rate,
// gated on the link and device state.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/open-teleop/driverstation/pkg/events"
	"github.com/open-teleop/driverstation/pkg/joystick"
	"github.com/open-teleop/driverstation/pkg/link"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/open-teleop/driverstation/pkg/schedule"
)

const DefaultInterval = 20 * time.Millisecond

// LinkTarget is the part of the link the dispatcher drives.
type LinkTarget interface {
	Status() link.Status
	Publish(axes []float64, buttons []bool) error
}

// DeviceSource is the part of the input source the dispatcher reads.
type DeviceSource interface {
	State() joystick.State
}

// Status is the dispatcher's observable state, refreshed after every tick.
type Status struct {
	Running       bool      `json:"running"`
	Ticks         uint64    `json:"ticks"`
	Published     uint64    `json:"published"`
	Withheld      uint64    `json:"withheld"`
	PublishErrors uint64    `json:"publish_errors"`
	Permitted     bool      `json:"permitted"`
	LastTick      time.Time `json:"last_tick"`
	Device        string    `json:"device"`
}

// Dispatcher runs the dispatch loop.
type Dispatcher struct {
	link   LinkTarget
	source DeviceSource
	logger customlog.Logger
	events events.Publisher
	loop   *schedule.Loop

	mu     sync.RWMutex
	status Status
}

func New(target LinkTarget, source DeviceSource, interval time.Duration, publisher events.Publisher, logger customlog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	d := &Dispatcher{
		link:   target,
		source: source,
		logger: logger,
		events: publisher,
		status: Status{Device: joystick.NoDeviceName},
	}
	d.loop = schedule.NewLoop("dispatch", interval, d.tick, logger)
	return d
}

func (d *Dispatcher) Start() {
	if d.loop.Start() {
		d.logger.Infof("Dispatch loop started (every %s)", d.loop.Interval())
	}
}

// Stop waits for the current tick to finish; no publish happens after it returns nil.
func (d *Dispatcher) Stop() error {
	err := d.loop.Stop()
	d.mu.Lock()
	wasPermitted := d.status.Permitted
	d.status.Permitted = false
	d.mu.Unlock()
	if wasPermitted {
		d.events.Publish(events.NewPermitChanged(false))
	}
	return err
}

func (d *Dispatcher) Running() bool {
	return d.loop.Running()
}

func (d *Dispatcher) Status() Status {
	d.mu.RLock()
	s := d.status
	d.mu.RUnlock()
	s.Running = d.loop.Running()
	return s
}

func (d *Dispatcher) tick(ctx context.Context) time.Duration {
	d.step()
	return 0
}

// step runs one dispatch cycle against a single snapshot of each input.
func (d *Dispatcher) step() {
	device := d.source.State()
	status := d.link.Status()
	permitted := Permit(status, device)

	var publishErr error
	if permitted {
		publishErr = d.link.Publish(device.Axes, device.Buttons)
		if publishErr != nil {
			d.logger.Debugf("Publish failed: %v", publishErr)
		}
	}

	d.mu.Lock()
	prev := d.status.Permitted
	d.status.Ticks++
	if permitted {
		d.status.Published++
		if publishErr != nil {
			d.status.PublishErrors++
		}
	} else {
		d.status.Withheld++
	}
	d.status.Permitted = permitted
	d.status.LastTick = time.Now()
	d.status.Device = device.DisplayName()
	d.mu.Unlock()

	if prev != permitted {
		d.logger.Infof("Output %s", gateWord(permitted))
		d.events.Publish(events.NewPermitChanged(permitted))
	}
}

func gateWord(permitted bool) string {
	if permitted {
		return "enabled"
	}
	return "withheld"
}

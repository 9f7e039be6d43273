package services

import (
	"context"
	"errors"
	"testing"

	"github.com/open-teleop/driverstation/pkg/dispatch"
	"github.com/open-teleop/driverstation/pkg/joystick"
	"github.com/open-teleop/driverstation/pkg/link"
)

type fakeLink struct {
	connectedTo int
	connectErr  error
	status      link.Status
	telemetry   link.Telemetry
	modeErr     error
}

func (f *fakeLink) Connect(ctx context.Context, identifier int) error {
	f.connectedTo = identifier
	if f.connectErr != nil {
		return f.connectErr
	}
	f.status.Connected = true
	f.status.Session.Connected = true
	f.status.Session.Identifier = identifier
	return nil
}

func (f *fakeLink) Disconnect() {
	f.status = link.Status{Session: link.Session{Mode: f.status.Session.Mode}}
}

func (f *fakeLink) SetEnabled(enabled bool) bool {
	if !f.status.Connected {
		return false
	}
	f.status.Enabled = enabled
	return true
}

func (f *fakeLink) SetMode(mode link.Mode) error {
	if f.modeErr != nil {
		return f.modeErr
	}
	f.status.Session.Mode = mode
	return nil
}

func (f *fakeLink) Status() link.Status       { return f.status }
func (f *fakeLink) Telemetry() link.Telemetry { return f.telemetry }

type fakeInput struct {
	state    joystick.State
	selected int
	deadzone float64
	devices  []joystick.DeviceEntry
}

func (f *fakeInput) State() joystick.State { return f.state }
func (f *fakeInput) Selected() int         { return f.selected }
func (f *fakeInput) Deadzone() float64     { return f.deadzone }
func (f *fakeInput) Select(index int) error {
	if index < 0 {
		return joystick.ErrInvalidDeviceIndex
	}
	f.selected = index
	return nil
}
func (f *fakeInput) SetDeadzone(deadzone float64) error {
	f.deadzone = deadzone
	return nil
}
func (f *fakeInput) ListAvailable() ([]joystick.DeviceEntry, error) { return f.devices, nil }

type fakeDispatch struct{ status dispatch.Status }

func (f *fakeDispatch) Status() dispatch.Status { return f.status }

func newTestService(t *testing.T) (ConsoleService, *fakeLink, *fakeInput) {
	t.Helper()
	l := &fakeLink{}
	in := &fakeInput{deadzone: 0.1}
	svc, err := NewConsoleService(l, in, &fakeDispatch{status: dispatch.Status{Running: true}}, 2386, nil)
	if err != nil {
		t.Fatalf("NewConsoleService failed: %v", err)
	}
	return svc, l, in
}

func TestNewConsoleServiceRequiresDependencies(t *testing.T) {
	if _, err := NewConsoleService(nil, &fakeInput{}, &fakeDispatch{}, 1, nil); err == nil {
		t.Errorf("Expected error for missing link")
	}
}

func TestConnectUsesConfiguredIdentifier(t *testing.T) {
	svc, l, _ := newTestService(t)

	if err := svc.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if l.connectedTo != 2386 {
		t.Errorf("Expected configured team 2386, got %d", l.connectedTo)
	}
	if err := svc.Connect(context.Background(), 254); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if l.connectedTo != 254 {
		t.Errorf("Expected explicit team 254, got %d", l.connectedTo)
	}
}

func TestConnectPropagatesFailure(t *testing.T) {
	svc, l, _ := newTestService(t)
	l.connectErr = link.ErrConnectFailed

	if err := svc.Connect(context.Background(), 0); !errors.Is(err, link.ErrConnectFailed) {
		t.Errorf("Expected ErrConnectFailed, got %v", err)
	}
	if svc.SetEnabled(true) {
		t.Errorf("Enable succeeded without a connection")
	}
}

func TestStatusAggregatesCore(t *testing.T) {
	svc, _, in := newTestService(t)
	in.state = joystick.State{Present: true, Name: "pad", Axes: []float64{0.5}, Buttons: []bool{true}}
	in.selected = 1

	if err := svc.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := svc.SetMode(link.ModeAutonomous); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	if !svc.SetEnabled(true) {
		t.Fatalf("SetEnabled failed while connected")
	}

	st := svc.Status()
	if st.Identifier != 2386 || !st.Link.Connected || !st.Link.Enabled {
		t.Errorf("Unexpected link status %+v", st)
	}
	if st.Mode != "auto" {
		t.Errorf("Expected mode auto, got %q", st.Mode)
	}
	if !st.Device.Present || st.Device.DisplayName != "pad" || st.Device.Selected != 1 || st.Device.Deadzone != 0.1 {
		t.Errorf("Unexpected device status %+v", st.Device)
	}
	if !st.Dispatch.Running {
		t.Errorf("Expected dispatch status to pass through")
	}

	svc.Disconnect()
	st = svc.Status()
	if st.Link.Connected || st.Link.Enabled {
		t.Errorf("Expected disconnected status, got %+v", st.Link)
	}
	if st.Mode != "auto" {
		t.Errorf("Mode should survive disconnect, got %q", st.Mode)
	}
}

func TestDeviceActionsPassThrough(t *testing.T) {
	svc, _, in := newTestService(t)
	in.devices = []joystick.DeviceEntry{{Index: 0, Name: "a"}, {Index: 1, Name: "b"}}

	devices, err := svc.ListDevices()
	if err != nil || len(devices) != 2 {
		t.Fatalf("ListDevices = %v, %v", devices, err)
	}
	if err := svc.SelectDevice(1); err != nil || in.selected != 1 {
		t.Errorf("SelectDevice failed: %v", err)
	}
	if err := svc.SelectDevice(-1); !errors.Is(err, joystick.ErrInvalidDeviceIndex) {
		t.Errorf("Expected ErrInvalidDeviceIndex, got %v", err)
	}
	if err := svc.SetDeadzone(0.25); err != nil || in.deadzone != 0.25 {
		t.Errorf("SetDeadzone failed: %v", err)
	}
}

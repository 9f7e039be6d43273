package hid

import (
	"errors"
	"io"
	"testing"
	"time"

	rawhid "github.com/karalabe/hid"
	customlog "github.com/open-teleop/driverstation/pkg/log"
)

func xboxReport(buttons uint16, axes ...int16) []byte {
	r := make([]byte, 14)
	r[2] = byte(buttons)
	r[3] = byte(buttons >> 8)
	for i, a := range axes {
		off := 6 + 2*i
		r[off] = byte(uint16(a))
		r[off+1] = byte(uint16(a) >> 8)
	}
	return r
}

func TestParseReportDefaultLayout(t *testing.T) {
	axes, buttons, err := ParseReport(DefaultLayout(), xboxReport(0x8001, 32767, -32768, 0, 16384))
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}
	if len(axes) != 4 || axes[0] != 1 || axes[1] != -1 || axes[2] != 0 {
		t.Errorf("Unexpected axes %v", axes)
	}
	if axes[3] < 0.49 || axes[3] > 0.51 {
		t.Errorf("Expected axis 3 ~0.5, got %v", axes[3])
	}
	if len(buttons) != 16 {
		t.Fatalf("Expected 16 buttons, got %d", len(buttons))
	}
	for i, pressed := range buttons {
		expected := i == 0 || i == 15
		if pressed != expected {
			t.Errorf("button %d: expected %v, got %v", i, expected, pressed)
		}
	}
}

func TestParseReportShort(t *testing.T) {
	_, _, err := ParseReport(DefaultLayout(), make([]byte, 8))
	if !errors.Is(err, ErrShortReport) {
		t.Errorf("Expected ErrShortReport, got %v", err)
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{"default", DefaultLayout(), false},
		{"no size", Layout{}, true},
		{"axis past end", Layout{ReportSize: 8, AxisOffsets: []int{7}}, true},
		{"negative axis", Layout{ReportSize: 8, AxisOffsets: []int{-1}}, true},
		{"buttons past end", Layout{ReportSize: 4, ButtonOffset: 3, ButtonCount: 16}, true},
		{"buttons fit", Layout{ReportSize: 4, ButtonOffset: 2, ButtonCount: 16}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layout.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type scriptedReader struct {
	reports chan []byte
}

func (r *scriptedReader) Read(b []byte) (int, error) {
	rep, ok := <-r.reports
	if !ok {
		return 0, io.EOF
	}
	return copy(b, rep), nil
}

func TestDeviceTracksReportsAndDetaches(t *testing.T) {
	layout := DefaultLayout()
	reader := &scriptedReader{reports: make(chan []byte)}
	d := &device{
		name:    "pad",
		layout:  layout,
		logger:  customlog.NewNopLogger(),
		reader:  reader,
		axes:    make([]float64, len(layout.AxisOffsets)),
		buttons: make([]bool, layout.ButtonCount),
		alive:   true,
	}
	go d.readLoop()

	reader.reports <- make([]byte, 3) // short status report, ignored
	reader.reports <- xboxReport(0x0002, 32767)

	deadline := time.Now().Add(time.Second)
	for {
		v, err := d.Axis(0)
		if err != nil {
			t.Fatalf("Axis failed: %v", err)
		}
		if v == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("report never applied")
		}
		time.Sleep(time.Millisecond)
	}
	if pressed, _ := d.Button(1); !pressed {
		t.Errorf("Expected button 1 pressed")
	}

	close(reader.reports)
	for d.Attached() {
		if time.Now().After(deadline) {
			t.Fatalf("device never detached")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := d.Axis(0); !errors.Is(err, ErrDetached) {
		t.Errorf("Expected ErrDetached, got %v", err)
	}
}

func TestEnumerationFilterAndCache(t *testing.T) {
	calls := 0
	s := &Subsystem{
		opts:   DefaultOptions(),
		logger: customlog.NewNopLogger(),
		enumerate: func() []rawhid.DeviceInfo {
			calls++
			return []rawhid.DeviceInfo{
				{Product: "Keyboard", UsagePage: 0x01, Usage: 0x06},
				{Product: "Controller", Manufacturer: "Microsoft", UsagePage: 0x01, Usage: 0x05},
				{VendorID: 0x1234, ProductID: 0x5678},
			}
		},
	}

	n, err := s.Count()
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 controllers, got %d (%v)", n, err)
	}
	name, err := s.DeviceName(0)
	if err != nil || name != "Microsoft Controller" {
		t.Errorf("Unexpected name %q (%v)", name, err)
	}
	if name, _ := s.DeviceName(1); name != "HID 1234:5678" {
		t.Errorf("Unexpected fallback name %q", name)
	}
	if _, err := s.DeviceName(2); err == nil {
		t.Errorf("Expected error for missing index")
	}
	if calls != 1 {
		t.Errorf("Expected enumeration to be cached, got %d calls", calls)
	}
}

func TestSnapshotCopiesOneReport(t *testing.T) {
	d := &device{
		name:    "pad",
		layout:  DefaultLayout(),
		logger:  customlog.NewNopLogger(),
		axes:    []float64{0.5, -1},
		buttons: []bool{true, false},
		alive:   true,
	}

	axes, buttons, err := d.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(axes) != 2 || axes[0] != 0.5 || axes[1] != -1 {
		t.Errorf("Unexpected axes %v", axes)
	}
	if len(buttons) != 2 || !buttons[0] || buttons[1] {
		t.Errorf("Unexpected buttons %v", buttons)
	}

	axes[0] = 0
	buttons[0] = false
	if v, _ := d.Axis(0); v != 0.5 {
		t.Errorf("Snapshot shares axis storage with the device")
	}
	if pressed, _ := d.Button(0); !pressed {
		t.Errorf("Snapshot shares button storage with the device")
	}

	d.alive = false
	if _, _, err := d.Snapshot(); !errors.Is(err, ErrDetached) {
		t.Errorf("Expected ErrDetached, got %v", err)
	}
}

package hid

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortReport = errors.New("hid: report shorter than layout")

// Layout describes where axes and buttons live in an input report.
// Axes are little-endian int16 values; buttons are a packed LSB-first bitfield.
type Layout struct {
	ReportSize   int   `yaml:"report_size"`
	AxisOffsets  []int `yaml:"axis_offsets"`
	ButtonOffset int   `yaml:"button_offset"`
	ButtonCount  int   `yaml:"button_count"`
}

// DefaultLayout matches the Xbox 360 wired pad report: 16 buttons at byte 2,
// four stick axes at bytes 6 through 13.
func DefaultLayout() Layout {
	return Layout{
		ReportSize:   14,
		AxisOffsets:  []int{6, 8, 10, 12},
		ButtonOffset: 2,
		ButtonCount:  16,
	}
}

// Validate checks that every field fits inside ReportSize.
func (l Layout) Validate() error {
	if l.ReportSize <= 0 {
		return fmt.Errorf("hid: report_size must be positive, got %d", l.ReportSize)
	}
	for i, off := range l.AxisOffsets {
		if off < 0 || off+2 > l.ReportSize {
			return fmt.Errorf("hid: axis %d offset %d outside %d-byte report", i, off, l.ReportSize)
		}
	}
	if l.ButtonCount < 0 {
		return fmt.Errorf("hid: button_count must not be negative, got %d", l.ButtonCount)
	}
	if l.ButtonCount > 0 {
		end := l.ButtonOffset + (l.ButtonCount+7)/8
		if l.ButtonOffset < 0 || end > l.ReportSize {
			return fmt.Errorf("hid: %d buttons at offset %d outside %d-byte report", l.ButtonCount, l.ButtonOffset, l.ReportSize)
		}
	}
	return nil
}

// ParseReport decodes one input report.
func ParseReport(l Layout, report []byte) ([]float64, []bool, error) {
	if len(report) < l.ReportSize {
		return nil, nil, fmt.Errorf("%w: %d < %d bytes", ErrShortReport, len(report), l.ReportSize)
	}

	axes := make([]float64, len(l.AxisOffsets))
	for i, off := range l.AxisOffsets {
		raw := int16(binary.LittleEndian.Uint16(report[off : off+2]))
		v := float64(raw) / 32767.0
		if v < -1 {
			v = -1
		}
		axes[i] = v
	}

	buttons := make([]bool, l.ButtonCount)
	for i := range buttons {
		b := report[l.ButtonOffset+i/8]
		buttons[i] = b&(1<<uint(i%8)) != 0
	}
	return axes, buttons, nil
}

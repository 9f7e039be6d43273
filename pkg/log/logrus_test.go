package log

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestSimpleFormatter(t *testing.T) {
	f := &SimpleFormatter{TimestampFormat: "15:04:05"}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 4, 6, 17, 30, 0, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "telemetry read failed",
		Data: logrus.Fields{
			ComponentField: "link",
			"key":          "SmartDashboard/BatteryVoltage",
			"attempt":      2,
		},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	expected := "17:30:00 [WAR] [link] telemetry read failed attempt=2 key=SmartDashboard/BatteryVoltage\n"
	if string(out) != expected {
		t.Errorf("Expected %q, got %q", expected, string(out))
	}
}

func TestWithFieldIsScoped(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriterLogger(&buf)
	child := root.WithField(ComponentField, "joystick")

	child.Infof("device %s attached", "pad")
	root.Infof("no component")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "[INF] [joystick] device pad attached") {
		t.Errorf("Unexpected child line: %q", lines[0])
	}
	if strings.Contains(lines[1], "[joystick]") {
		t.Errorf("Root logger picked up child field: %q", lines[1])
	}
}

func TestNewLogrusLoggerCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogrusLogger("not-a-level", dir)
	if err != nil {
		t.Fatalf("NewLogrusLogger failed: %v", err)
	}
	logger.Infof("hello")
}

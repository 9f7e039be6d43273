package api

import (
	"errors"
	"testing"
	"time"

	"github.com/open-teleop/driverstation/pkg/events"
)

type captureWriter struct {
	written []interface{}
	failAt  int
}

func (w *captureWriter) WriteJSON(v interface{}) error {
	if w.failAt > 0 && len(w.written)+1 == w.failAt {
		return errors.New("broken pipe")
	}
	w.written = append(w.written, v)
	return nil
}

func TestStreamEventsUntilChannelCloses(t *testing.T) {
	ch := make(chan events.Event, 3)
	ch <- events.NewConnectionChanged(true)
	ch <- events.NewEnabledChanged(true)
	close(ch)

	w := &captureWriter{}
	if err := streamEvents(ch, w, make(chan struct{})); err != nil {
		t.Fatalf("streamEvents returned %v", err)
	}
	if len(w.written) != 2 {
		t.Fatalf("Expected 2 events written, got %d", len(w.written))
	}
	if e := w.written[1].(events.Event); e.Kind != events.EnabledChanged || !e.Value {
		t.Errorf("Unexpected second event %+v", e)
	}
}

func TestStreamEventsStopsOnWriteError(t *testing.T) {
	ch := make(chan events.Event, 3)
	ch <- events.NewModeChanged("auto")
	ch <- events.NewModeChanged("test")

	w := &captureWriter{failAt: 2}
	if err := streamEvents(ch, w, make(chan struct{})); err == nil {
		t.Errorf("Expected write error to end the stream")
	}
	if len(w.written) != 1 {
		t.Errorf("Expected 1 event before the failure, got %d", len(w.written))
	}
}

func TestStreamEventsStopsWhenClientLeaves(t *testing.T) {
	ch := make(chan events.Event)
	done := make(chan struct{})
	result := make(chan error, 1)
	go func() { result <- streamEvents(ch, &captureWriter{}, done) }()

	close(done)
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Expected clean return, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("streamEvents did not return after done closed")
	}
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/driverstation/pkg/events"
	"github.com/open-teleop/driverstation/pkg/joystick"
	"github.com/open-teleop/driverstation/pkg/link"
)

type fakeLink struct {
	mu        sync.Mutex
	status    link.Status
	frames    [][]float64
	err       error
	published int
}

func (f *fakeLink) Status() link.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeLink) Publish(axes []float64, buttons []bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.status.Connected || !f.status.Enabled {
		return link.ErrLinkInactive
	}
	f.published++
	f.frames = append(f.frames, append([]float64(nil), axes...))
	return f.err
}

func (f *fakeLink) set(connected, enabled bool) {
	f.mu.Lock()
	f.status.Connected = connected
	f.status.Enabled = enabled
	f.mu.Unlock()
}

func (f *fakeLink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published
}

type fakeSource struct {
	mu    sync.Mutex
	state joystick.State
}

func (f *fakeSource) State() joystick.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeSource) set(s joystick.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

var pad = joystick.State{Present: true, Name: "pad", Axes: []float64{0.5, -0.5}, Buttons: []bool{true}}

func TestPermit(t *testing.T) {
	for _, connected := range []bool{false, true} {
		for _, enabled := range []bool{false, true} {
			for _, present := range []bool{false, true} {
				status := link.Status{Connected: connected, Enabled: enabled}
				got := Permit(status, joystick.State{Present: present})
				expected := connected && enabled && present
				if got != expected {
					t.Errorf("Permit(connected=%t, enabled=%t, present=%t) = %t, expected %t",
						connected, enabled, present, got, expected)
				}
			}
		}
	}
}

func TestStepForwardsOnlyWhenPermitted(t *testing.T) {
	target := &fakeLink{}
	source := &fakeSource{}
	rec := &eventRecorder{}
	d := New(target, source, 0, rec, nil)

	type step struct {
		connected, enabled bool
		device             joystick.State
		publish            bool
	}
	steps := []step{
		{false, false, joystick.State{}, false},
		{true, false, pad, false},
		{true, true, joystick.State{}, false},
		{true, true, pad, true},
		{false, false, pad, false}, // link lost
		{true, true, pad, true},
		{true, false, pad, false}, // disabled
	}
	published := 0
	for i, s := range steps {
		target.set(s.connected, s.enabled)
		source.set(s.device)
		d.step()
		if s.publish {
			published++
		}
		if target.count() != published {
			t.Fatalf("step %d: expected %d publishes, got %d", i, published, target.count())
		}
		if d.Status().Permitted != s.publish {
			t.Errorf("step %d: Permitted = %t, expected %t", i, d.Status().Permitted, s.publish)
		}
	}

	st := d.Status()
	if st.Ticks != uint64(len(steps)) || st.Published != 2 || st.Withheld != uint64(len(steps)-2) {
		t.Errorf("Unexpected counters %+v", st)
	}
	if st.Device != "pad" {
		t.Errorf("Expected device pad, got %q", st.Device)
	}
	if got := rec.values(); len(got) != 4 || !got[0] || got[1] || !got[2] || got[3] {
		t.Errorf("Expected permit transitions [true false true false], got %v", got)
	}
}

func TestStepCountsPublishErrors(t *testing.T) {
	target := &fakeLink{err: errors.New("axis 0: queue full")}
	target.set(true, true)
	source := &fakeSource{state: pad}
	d := New(target, source, 0, nil, nil)

	d.step()
	d.step()
	st := d.Status()
	if st.PublishErrors != 2 || st.Published != 2 {
		t.Errorf("Expected 2 publish errors, got %+v", st)
	}
}

func TestHotSwapWithholdsPublish(t *testing.T) {
	target := &fakeLink{}
	target.set(true, true)
	source := &fakeSource{state: pad}
	d := New(target, source, 0, nil, nil)

	d.step()
	// Unplugged, or Select reset the state: nothing forwarded until present again.
	source.set(joystick.State{})
	d.step()
	d.step()
	if target.count() != 1 {
		t.Errorf("Expected publishing to stop with the device gone, got %d", target.count())
	}
	if d.Status().Device != joystick.NoDeviceName {
		t.Errorf("Expected %q, got %q", joystick.NoDeviceName, d.Status().Device)
	}
}

func TestLoopForwardsUntilDisabled(t *testing.T) {
	target := &fakeLink{}
	target.set(true, true)
	source := &fakeSource{state: pad}
	d := New(target, source, 2*time.Millisecond, nil, nil)
	d.Start()

	deadline := time.Now().Add(time.Second)
	for target.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("dispatch loop never published")
		}
		time.Sleep(time.Millisecond)
	}

	target.set(true, false)
	// One tick in flight may still read the old status; after that nothing goes out.
	time.Sleep(10 * time.Millisecond)
	before := target.count()
	time.Sleep(20 * time.Millisecond)
	if target.count() != before {
		t.Errorf("Published after disable: %d -> %d", before, target.count())
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if d.Running() || d.Status().Running {
		t.Errorf("Expected stopped dispatcher")
	}
}

func TestStopHaltsPublishing(t *testing.T) {
	target := &fakeLink{}
	target.set(true, true)
	source := &fakeSource{state: pad}
	d := New(target, source, 2*time.Millisecond, nil, nil)
	d.Start()
	time.Sleep(10 * time.Millisecond)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	after := target.count()
	time.Sleep(20 * time.Millisecond)
	if target.count() != after {
		t.Errorf("Published after Stop returned")
	}
}

// blockingStore never answers, like a robot that is switched off.
type blockingStore struct {
	mu   sync.Mutex
	puts int
}

func (s *blockingStore) Start(ctx context.Context, address string) error {
	<-ctx.Done()
	return ctx.Err()
}
func (s *blockingStore) Stop() error       { return nil }
func (s *blockingStore) IsConnected() bool { return false }
func (s *blockingStore) Put(e link.Entry) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return nil
}
func (s *blockingStore) PutAll(entries ...link.Entry) error {
	s.mu.Lock()
	s.puts += len(entries)
	s.mu.Unlock()
	return nil
}
func (s *blockingStore) GetNumber(key string) (float64, error) { return 0, errors.New("unreachable") }

func TestUnreachablePeerNeverPublishes(t *testing.T) {
	store := &blockingStore{}
	opts := link.DefaultOptions()
	opts.ConnectTimeout = 100 * time.Millisecond
	l := link.New(store, opts, nil, nil)

	source := &fakeSource{state: pad}
	d := New(l, source, 2*time.Millisecond, nil, nil)
	d.Start()
	defer d.Stop()

	start := time.Now()
	err := l.Connect(context.Background(), 2386)
	if !errors.Is(err, link.ErrConnectFailed) {
		t.Fatalf("Expected ErrConnectFailed, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Connect exceeded its timeout")
	}
	if l.SetEnabled(true) {
		t.Errorf("SetEnabled succeeded without a connection")
	}

	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	puts := store.puts
	store.mu.Unlock()
	if puts != 0 {
		t.Errorf("Expected no writes to an unreachable peer, got %d", puts)
	}
	if st := d.Status(); st.Published != 0 || st.Withheld == 0 {
		t.Errorf("Expected only withheld ticks, got %+v", st)
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, e := range r.events {
		if e.Kind == events.PermitChanged {
			out = append(out, e.Value)
		}
	}
	return out
}

package zeromq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/driverstation/pkg/flatbuffers/driverstation/kv"
	"github.com/open-teleop/driverstation/pkg/link"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(nil)
	endpoint, err := srv.Listen("tcp://127.0.0.1:*")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, endpoint
}

func TestClientServerRoundTrip(t *testing.T) {
	srv, endpoint := startServer(t)
	srv.Set(link.Number(link.KeyBatteryVoltage, 12.3))
	srv.Set(link.String("SmartDashboard/Name", "robot"))

	var mu sync.Mutex
	var seen []link.Entry
	srv.OnPut(func(e link.Entry) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	client := NewClient(DefaultClientOptions(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Start(ctx, endpoint); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop()

	if !client.IsConnected() {
		t.Errorf("Expected client to be live after Start")
	}

	v, err := client.GetNumber(link.KeyBatteryVoltage)
	if err != nil || v != 12.3 {
		t.Errorf("GetNumber = %v, %v; expected 12.3", v, err)
	}
	if _, err := client.GetNumber("SmartDashboard/Missing"); !errors.Is(err, link.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for a missing key, got %v", err)
	}
	if !client.IsConnected() {
		t.Errorf("A missing key must not affect liveness")
	}
	if _, err := client.GetNumber("SmartDashboard/Name"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch, got %v", err)
	}

	if err := client.PutAll(link.Bool(link.KeyEnabled, true), link.String(link.KeyMode, "teleop")); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if e, ok := srv.Get(link.KeyEnabled); !ok || !e.Flag {
		t.Errorf("PutAll not applied: %v", e)
	}

	if err := client.Put(link.Number(link.AxisKey(0), 0.5)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		if e, ok := srv.Get(link.AxisKey(0)); ok && e.Number == 0.5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fire-and-forget Put never arrived")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("Expected OnPut for 3 entries, got %d", len(seen))
	}
}

func TestClientStartFailsWithoutPeer(t *testing.T) {
	srv, endpoint := startServer(t)
	srv.Stop()

	client := NewClient(DefaultClientOptions(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Start(ctx, endpoint)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Start took %s with a 300ms deadline", elapsed)
	}
	if client.IsConnected() {
		t.Errorf("Client reports live without a peer")
	}
	if err := client.Put(link.Number("k", 1)); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed after failed Start, got %v", err)
	}
}

func TestClientStartStaysWithinDeadline(t *testing.T) {
	srv, endpoint := startServer(t)
	srv.Stop()

	// A deadline that is not a multiple of the request timeout.
	opts := DefaultClientOptions()
	opts.RequestTimeout = 200 * time.Millisecond
	client := NewClient(opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Start(ctx, endpoint)
	elapsed := time.Since(start)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed > 350*time.Millisecond {
		t.Errorf("Start took %s with a 250ms deadline", elapsed)
	}
}

func TestClientLivenessExpires(t *testing.T) {
	srv, endpoint := startServer(t)

	opts := DefaultClientOptions()
	opts.HeartbeatInterval = 20 * time.Millisecond
	opts.LivenessWindow = 100 * time.Millisecond
	client := NewClient(opts, nil)
	if err := client.Start(context.Background(), endpoint); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop()

	srv.Stop()
	deadline := time.Now().Add(2 * time.Second)
	for client.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("liveness never expired after the server stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerDispatch(t *testing.T) {
	srv := NewServer(nil)

	if reply := srv.dispatch([]byte{1, 2}); reply != nil {
		t.Errorf("Expected malformed request to be dropped, got %+v", reply)
	}
	if reply := srv.dispatch(Encode(Frame{Seq: 3, Op: kv.OpPut, Entries: []link.Entry{link.Bool("b", true)}})); reply != nil {
		t.Errorf("Put must not be answered, got %+v", reply)
	}
	reply := srv.dispatch(Encode(Frame{Seq: 4, Op: kv.OpAck}))
	if reply == nil || reply.Op != kv.OpError || reply.Seq != 4 {
		t.Errorf("Expected error reply for unsupported op, got %+v", reply)
	}
	if keys := srv.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Unexpected keys %v", keys)
	}
}

func TestEndpoint(t *testing.T) {
	c := NewClient(ClientOptions{}, nil)
	if got := c.Endpoint("10.23.86.2"); got != "tcp://10.23.86.2:5810" {
		t.Errorf("Unexpected endpoint %s", got)
	}
	if got := c.Endpoint("tcp://127.0.0.1:6000"); got != "tcp://127.0.0.1:6000" {
		t.Errorf("Full endpoint was rewritten: %s", got)
	}
}

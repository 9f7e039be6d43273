// Package natsbridge relays console events onto NATS subjects so other tools
// (dashboards, loggers) can follow the driver station.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/open-teleop/driverstation/pkg/events"
	customlog "github.com/open-teleop/driverstation/pkg/log"
)

const DefaultSubjectPrefix = "driverstation.events"

// Conn is the subset of *nats.Conn the bridge needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with reconnect handling logged through logger.
func Connect(url string, logger customlog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("driverstation"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("Reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Bridge forwards every event from a subscription to <prefix>.<kind> as JSON.
type Bridge struct {
	conn   Conn
	prefix string
	logger customlog.Logger

	mu      sync.Mutex
	relayed uint64
	failed  uint64
	done    chan struct{}
	unsub   func()
}

func New(conn Conn, prefix string, logger customlog.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Bridge{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event kind is published on.
func (b *Bridge) Subject(kind events.Kind) string {
	return b.prefix + "." + string(kind)
}

// Start subscribes to bus and relays in a background goroutine.
func (b *Bridge) Start(bus *events.Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return
	}
	ch, cancel := bus.Subscribe(events.DefaultBuffer)
	b.unsub = cancel
	b.done = make(chan struct{})
	go b.run(ch, b.done)
	b.logger.Infof("Relaying console events to NATS under %s.*", b.prefix)
}

// Stop unsubscribes and waits for the relay goroutine.
func (b *Bridge) Stop() {
	b.mu.Lock()
	unsub, done := b.unsub, b.done
	b.unsub, b.done = nil, nil
	b.mu.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	<-done
}

// Counts returns how many events were relayed and how many failed.
func (b *Bridge) Counts() (relayed, failed uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relayed, b.failed
}

func (b *Bridge) run(ch <-chan events.Event, done chan struct{}) {
	defer close(done)
	for e := range ch {
		b.relay(e)
	}
}

func (b *Bridge) relay(e events.Event) {
	data, err := json.Marshal(e)
	if err == nil {
		err = b.conn.Publish(b.Subject(e.Kind), data)
	}

	b.mu.Lock()
	if err != nil {
		b.failed++
	} else {
		b.relayed++
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Warnf("Relaying %s event to NATS failed: %v", e.Kind, err)
	}
}

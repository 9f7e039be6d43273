package zeromq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/open-teleop/driverstation/pkg/flatbuffers/driverstation/kv"
	"github.com/open-teleop/driverstation/pkg/link"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/open-teleop/driverstation/pkg/schedule"
	"github.com/pebbe/zmq4"
)

var (
	ErrClientClosed    = errors.New("zeromq client is not started")
	ErrAlreadyStarted  = errors.New("zeromq client already started")
	ErrRequestTimeout  = errors.New("zeromq request timed out")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrRemote          = errors.New("remote error")
	ErrTypeMismatch    = errors.New("entry has wrong type")
)

const DefaultPort = 5810

// ClientOptions tunes a Client.
type ClientOptions struct {
	Port              int
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Port:              DefaultPort,
		RequestTimeout:    200 * time.Millisecond,
		HeartbeatInterval: 250 * time.Millisecond,
		LivenessWindow:    time.Second,
	}
}

var _ link.Store = (*Client)(nil)

// Client is the console end of the key-value store: a DEALER socket talking
// to the robot's ROUTER. ZeroMQ sockets are not goroutine-safe, so every
// socket call is made under mu.
type Client struct {
	opts   ClientOptions
	logger customlog.Logger

	mu       sync.Mutex
	zctx     *zmq4.Context
	socket   *zmq4.Socket
	poller   *zmq4.Poller
	endpoint string
	seq      uint32

	heartbeat *schedule.Loop
	lastReply atomic.Int64
}

func NewClient(opts ClientOptions, logger customlog.Logger) *Client {
	defaults := DefaultClientOptions()
	if opts.Port <= 0 {
		opts.Port = defaults.Port
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = defaults.LivenessWindow
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Client{opts: opts, logger: logger}
}

// Endpoint turns a host into tcp://host:port. Full endpoints pass through.
func (c *Client) Endpoint(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return fmt.Sprintf("tcp://%s:%d", address, c.opts.Port)
}

// Start connects to address and blocks until the robot answers a PING or ctx
// ends. No single ping waits past the ctx deadline.
func (c *Client) Start(ctx context.Context, address string) error {
	if err := c.open(c.Endpoint(address)); err != nil {
		return err
	}

	for {
		timeout := c.opts.RequestTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = min(timeout, time.Until(deadline))
		}
		if timeout <= 0 || ctx.Err() != nil {
			cause := ctx.Err()
			if cause == nil {
				cause = context.DeadlineExceeded
			}
			c.Stop()
			return fmt.Errorf("no reply from %s: %w", c.endpoint, cause)
		}

		err := c.pingWithin(timeout)
		if err == nil {
			break
		}
		c.logger.Debugf("Waiting for robot at %s: %v", c.endpoint, err)

		retry := c.opts.HeartbeatInterval / 5
		if deadline, ok := ctx.Deadline(); ok {
			retry = min(retry, time.Until(deadline))
		}
		select {
		case <-ctx.Done():
			c.Stop()
			return fmt.Errorf("no reply from %s: %w", c.endpoint, ctx.Err())
		case <-time.After(max(retry, 0)):
		}
	}

	hb := schedule.NewLoop("heartbeat", c.opts.HeartbeatInterval, c.heartbeatTick, c.logger)
	c.mu.Lock()
	c.heartbeat = hb
	c.mu.Unlock()
	hb.Start()

	c.logger.Infof("Key-value store connected at %s", c.endpoint)
	return nil
}

func (c *Client) open(endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		return ErrAlreadyStarted
	}

	zctx, err := zmq4.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create ZMQ context: %w", err)
	}
	socket, err := zctx.NewSocket(zmq4.DEALER)
	if err != nil {
		zctx.Term()
		return fmt.Errorf("failed to create DEALER socket: %w", err)
	}

	setup := []func() error{
		func() error { return socket.SetLinger(0) },
		func() error { return socket.SetImmediate(true) },
		func() error { return socket.SetRcvtimeo(c.opts.RequestTimeout) },
		func() error { return socket.SetSndtimeo(c.opts.RequestTimeout) },
		func() error { return socket.Connect(endpoint) },
	}
	for _, step := range setup {
		if err := step(); err != nil {
			socket.Close()
			zctx.Term()
			return fmt.Errorf("failed to configure socket for %s: %w", endpoint, err)
		}
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	c.zctx = zctx
	c.socket = socket
	c.poller = poller
	c.endpoint = endpoint
	c.lastReply.Store(0)
	return nil
}

// Stop ends the heartbeat and closes the socket. It is safe to call repeatedly.
func (c *Client) Stop() error {
	c.mu.Lock()
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()

	var errs []error
	if hb != nil {
		if err := hb.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		if err := c.socket.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
		c.socket = nil
		c.poller = nil
	}
	if c.zctx != nil {
		if err := c.zctx.Term(); err != nil {
			errs = append(errs, fmt.Errorf("terminate context: %w", err))
		}
		c.zctx = nil
	}
	c.lastReply.Store(0)
	return errors.Join(errs...)
}

// IsConnected reports whether any reply arrived within the liveness window.
func (c *Client) IsConnected() bool {
	last := c.lastReply.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < c.opts.LivenessWindow
}

// Put sends one entry without waiting for an acknowledgement.
func (c *Client) Put(e link.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return ErrClientClosed
	}
	c.seq++
	data := Encode(Frame{Seq: c.seq, Op: kv.OpPut, Entries: []link.Entry{e}})
	if _, err := c.socket.SendBytes(data, zmq4.DONTWAIT); err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}
	return nil
}

// PutAll applies entries on the robot as one acknowledged batch.
func (c *Client) PutAll(entries ...link.Entry) error {
	reply, err := c.request(kv.OpPutAll, entries)
	if err != nil {
		return err
	}
	if reply.Op != kv.OpAck {
		return fmt.Errorf("%w: %s to PutAll", ErrUnexpectedReply, reply.Op)
	}
	return nil
}

// GetNumber reads a numeric entry.
func (c *Client) GetNumber(key string) (float64, error) {
	reply, err := c.request(kv.OpGet, []link.Entry{{Key: key}})
	if err != nil {
		return 0, err
	}
	if reply.Op != kv.OpValue || len(reply.Entries) != 1 {
		return 0, fmt.Errorf("%w: %s to Get %s", ErrUnexpectedReply, reply.Op, key)
	}
	e := reply.Entries[0]
	if e.Kind == link.KindUnset {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.Kind != link.KindNumber {
		return 0, fmt.Errorf("%w: %s is %s", ErrTypeMismatch, key, e.Kind)
	}
	return e.Number, nil
}

func (c *Client) ping() error {
	return c.pingWithin(c.opts.RequestTimeout)
}

func (c *Client) pingWithin(timeout time.Duration) error {
	reply, err := c.requestWithin(kv.OpPing, nil, timeout)
	if err != nil {
		return err
	}
	if reply.Op != kv.OpPong {
		return fmt.Errorf("%w: %s to Ping", ErrUnexpectedReply, reply.Op)
	}
	return nil
}

func (c *Client) heartbeatTick(ctx context.Context) time.Duration {
	if err := c.ping(); err != nil {
		c.logger.Debugf("Heartbeat to %s failed: %v", c.endpoint, err)
	}
	return 0
}

func (c *Client) request(op kv.Op, entries []link.Entry) (Frame, error) {
	return c.requestWithin(op, entries, c.opts.RequestTimeout)
}

// requestWithin sends one message and waits up to timeout for the reply with
// the same sequence number. Replies to earlier, timed-out requests are skipped.
// The send never blocks and the wait is a poll, so the whole call is bounded
// by timeout.
func (c *Client) requestWithin(op kv.Op, entries []link.Entry, timeout time.Duration) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return Frame{}, ErrClientClosed
	}

	c.seq++
	seq := c.seq
	// With immediate set, EAGAIN here means no connected peer.
	if _, err := c.socket.SendBytes(Encode(Frame{Seq: seq, Op: op, Entries: entries}), zmq4.DONTWAIT); err != nil {
		return Frame{}, fmt.Errorf("send %s: %w", op, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		polled, err := c.poller.Poll(remaining)
		if err != nil {
			return Frame{}, fmt.Errorf("poll %s reply: %w", op, err)
		}
		if len(polled) == 0 {
			break
		}
		data, err := c.socket.RecvBytes(zmq4.DONTWAIT)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			return Frame{}, fmt.Errorf("receive %s reply: %w", op, err)
		}
		c.lastReply.Store(time.Now().UnixNano())

		reply, err := Decode(data)
		if err != nil {
			c.logger.Warnf("Dropping malformed reply: %v", err)
			continue
		}
		if reply.Seq != seq {
			continue
		}
		if reply.Op == kv.OpError {
			return Frame{}, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
		}
		return reply, nil
	}
	return Frame{}, fmt.Errorf("%w: %s", ErrRequestTimeout, op)
}


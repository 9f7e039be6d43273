package zeromq

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-teleop/driverstation/pkg/flatbuffers/driverstation/kv"
	"github.com/open-teleop/driverstation/pkg/link"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/pebbe/zmq4"
)

var (
	ErrServerClosed = errors.New("zeromq server is closed")
	ErrUnknownOp    = errors.New("unknown op")
	ErrKeyNotFound  = link.ErrKeyNotFound
)

// Handler answers one request. A nil reply means no response is sent.
type Handler interface {
	Handle(req Frame) (*Frame, error)
}

// HandlerFunc is a function type that implements Handler
type HandlerFunc func(req Frame) (*Frame, error)

// Handle calls the function
func (f HandlerFunc) Handle(req Frame) (*Frame, error) {
	return f(req)
}

// Server is the robot end of the key-value store. It owns the entry table and
// answers console requests on a ROUTER socket.
type Server struct {
	logger customlog.Logger

	handlers map[kv.Op]Handler

	mu      sync.RWMutex
	entries map[string]link.Entry
	onPut   func(link.Entry)

	zctx     *zmq4.Context
	socket   *zmq4.Socket
	poller   *zmq4.Poller
	endpoint string
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewServer(logger customlog.Logger) *Server {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	s := &Server{
		logger:  logger,
		entries: make(map[string]link.Entry),
	}
	s.handlers = map[kv.Op]Handler{
		kv.OpPing:   HandlerFunc(s.handlePing),
		kv.OpPut:    HandlerFunc(s.handlePut),
		kv.OpPutAll: HandlerFunc(s.handlePutAll),
		kv.OpGet:    HandlerFunc(s.handleGet),
	}
	return s
}

// OnPut registers a callback run for every entry written by the console.
func (s *Server) OnPut(fn func(link.Entry)) {
	s.mu.Lock()
	s.onPut = fn
	s.mu.Unlock()
}

// Set writes an entry locally, e.g. telemetry published by the robot.
func (s *Server) Set(e link.Entry) {
	s.mu.Lock()
	s.entries[e.Key] = e
	s.mu.Unlock()
}

// Get returns a local entry.
func (s *Server) Get(key string) (link.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Keys lists every key in the table, sorted.
func (s *Server) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Listen binds endpoint and starts serving. It returns the bound endpoint,
// which resolves wildcard ports such as tcp://127.0.0.1:*.
func (s *Server) Listen(endpoint string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.endpoint, nil
	}

	zctx, err := zmq4.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to create ZMQ context: %w", err)
	}
	socket, err := zctx.NewSocket(zmq4.ROUTER)
	if err != nil {
		zctx.Term()
		return "", fmt.Errorf("failed to create ROUTER socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		zctx.Term()
		return "", fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.SetSndtimeo(time.Second); err != nil {
		socket.Close()
		zctx.Term()
		return "", fmt.Errorf("failed to set send timeout: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		socket.Close()
		zctx.Term()
		return "", fmt.Errorf("failed to bind to %s: %w", endpoint, err)
	}
	bound, err := socket.GetLastEndpoint()
	if err != nil {
		bound = endpoint
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	s.zctx = zctx
	s.socket = socket
	s.poller = poller
	s.endpoint = bound
	s.running = true
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.serve(socket, poller, s.stop)

	s.logger.Infof("Key-value server listening on %s", bound)
	return bound, nil
}

// Stop ends the serve loop and closes the socket.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if err := s.socket.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.zctx.Term(); err != nil {
		errs = append(errs, err)
	}
	s.socket, s.zctx, s.poller = nil, nil, nil
	s.logger.Infof("Key-value server stopped")
	return errors.Join(errs...)
}

func (s *Server) serve(socket *zmq4.Socket, poller *zmq4.Poller, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		sockets, err := poller.Poll(50 * time.Millisecond)
		if err != nil {
			s.logger.Warnf("Error polling socket: %v", err)
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		parts, err := socket.RecvMessageBytes(0)
		if err != nil {
			s.logger.Warnf("Error receiving message: %v", err)
			continue
		}
		if len(parts) < 2 {
			s.logger.Warnf("Dropping message with %d frames", len(parts))
			continue
		}
		identity, payload := parts[0], parts[len(parts)-1]

		reply := s.dispatch(payload)
		if reply == nil {
			continue
		}
		if _, err := socket.SendMessage(identity, Encode(*reply)); err != nil {
			s.logger.Warnf("Error sending %s reply: %v", reply.Op, err)
		}
	}
}

// dispatch decodes one request and routes it to its handler.
func (s *Server) dispatch(payload []byte) *Frame {
	req, err := Decode(payload)
	if err != nil {
		s.logger.Warnf("Dropping malformed request (%d bytes): %v", len(payload), err)
		return nil
	}

	handler, ok := s.handlers[req.Op]
	if !ok {
		return &Frame{Seq: req.Seq, Op: kv.OpError, Error: fmt.Sprintf("%v: %s", ErrUnknownOp, req.Op)}
	}
	reply, err := handler.Handle(req)
	if err != nil {
		return &Frame{Seq: req.Seq, Op: kv.OpError, Error: err.Error()}
	}
	return reply
}

func (s *Server) handlePing(req Frame) (*Frame, error) {
	return &Frame{Seq: req.Seq, Op: kv.OpPong}, nil
}

func (s *Server) handlePut(req Frame) (*Frame, error) {
	s.apply(req.Entries)
	return nil, nil
}

func (s *Server) handlePutAll(req Frame) (*Frame, error) {
	s.apply(req.Entries)
	return &Frame{Seq: req.Seq, Op: kv.OpAck}, nil
}

func (s *Server) handleGet(req Frame) (*Frame, error) {
	if len(req.Entries) != 1 {
		return nil, fmt.Errorf("get wants one key, got %d", len(req.Entries))
	}
	key := req.Entries[0].Key
	e, ok := s.Get(key)
	if !ok {
		// A kindless entry means the key was never written.
		e = link.Entry{Key: key}
	}
	return &Frame{Seq: req.Seq, Op: kv.OpValue, Entries: []link.Entry{e}}, nil
}

func (s *Server) apply(entries []link.Entry) {
	s.mu.Lock()
	for _, e := range entries {
		s.entries[e.Key] = e
	}
	hook := s.onPut
	s.mu.Unlock()

	if hook != nil {
		for _, e := range entries {
			hook(e)
		}
	}
}

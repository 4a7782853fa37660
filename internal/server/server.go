// Package server is the cannelloni TCP front end of the gateway. Frames read
// from clients go to a SendFunc (normally the transmit queue in front of the
// controller); frames broadcast on the hub are batched out to every client.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/cnl"
	"github.com/kstaniek/go-mcp2515/internal/hub"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// SendFunc hands a client frame to the controller side.
type SendFunc func(can.Frame) error

// Codec is the wire format; *cnl.Codec implements it.
type Codec interface {
	DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error)
	EncodeTo(w io.Writer, frames []can.Frame) (int, error)
}

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientQueue      = 512
	decodeBurst             = 16
)

// Stats are lifetime connection and backend counters.
type Stats struct {
	Accepted        uint64
	HandshakeFailed uint64
	Connected       uint64
	Disconnected    uint64
	BackendOverflow uint64
	BackendErrors   uint64
}

type Server struct {
	mu   sync.RWMutex
	addr string
	Hub  *hub.Hub
	Send SendFunc

	codec       Codec
	frameFilter func(*can.Frame) bool
	isOverflow  func(error) bool

	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int
	logger           *slog.Logger

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	clientsMu sync.Mutex
	clients   map[*hub.Client]net.Conn
	wg        sync.WaitGroup
	connSeq   atomic.Uint64

	accepted, handshakeFailed, connected, disconnected atomic.Uint64
	backendOverflow, backendErrors                     atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		codec:            &cnl.Codec{},
		isOverflow:       func(error) bool { return false },
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		clients:          make(map[*hub.Client]net.Conn),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithHub(h *hub.Hub) ServerOption      { return func(s *Server) { s.Hub = h } }
func WithSend(fn SendFunc) ServerOption    { return func(s *Server) { s.Send = fn } }

func WithCodec(c Codec) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithFrameFilter drops client frames for which fn returns false.
func WithFrameFilter(fn func(*can.Frame) bool) ServerOption {
	return func(s *Server) { s.frameFilter = fn }
}

// WithOverflowCheck classifies Send errors that mean "queue full"; those
// are counted and logged at Debug instead of being reported as failures.
func WithOverflowCheck(fn func(error) bool) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.isOverflow = fn
		}
	}
}

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:        s.accepted.Load(),
		HandshakeFailed: s.handshakeFailed.Load(),
		Connected:       s.connected.Load(),
		Disconnected:    s.disconnected.Load(),
		BackendOverflow: s.backendOverflow.Load(),
		BackendErrors:   s.backendErrors.Load(),
	}
}

// fail records err, counts it and offers it on Errors without blocking.
func (s *Server) fail(err error) {
	metrics.IncError(mapErrToMetric(err))
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// Serve listens and accepts clients until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.fail(wrap)
		return wrap
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", ln.Addr().String())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && !errors.Is(err, net.ErrClosed) {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		s.fail(wrap)
		return wrap
	}
	s.accepted.Add(1)
	log := s.logger.With("conn_id", s.connSeq.Add(1), "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := cnl.Handshake(ctx, conn, s.handshakeTimeout); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
		s.fail(wrap)
		s.handshakeFailed.Add(1)
		log.Warn("handshake_failed", "error", wrap)
		_ = conn.Close()
		return nil
	}
	if s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients {
		metrics.IncHubReject()
		log.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	cl := s.register(conn)
	s.connected.Add(1)
	log.Info("client_connected")
	s.startWriter(ctx.Done(), conn, cl, log)
	s.startReader(ctx.Done(), conn, cl, log)
	return nil
}

func (s *Server) register(conn net.Conn) *hub.Client {
	depth := defaultClientQueue
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		depth = s.Hub.OutBufSize
	}
	cl := hub.NewClient(depth)
	if s.Hub != nil {
		s.Hub.Add(cl)
	}
	s.clientsMu.Lock()
	s.clients[cl] = conn
	s.clientsMu.Unlock()
	return cl
}

func (s *Server) unregister(cl *hub.Client) {
	s.clientsMu.Lock()
	delete(s.clients, cl)
	s.clientsMu.Unlock()
	if s.Hub != nil {
		s.Hub.Remove(cl)
	} else {
		cl.Close()
	}
}

// Shutdown closes the listener and every client, then waits for the client
// goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		cl.Close()
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
	}
	st := s.Stats()
	s.logger.Info("shutdown_summary",
		"accepted", st.Accepted, "handshake_fail", st.HandshakeFailed,
		"connected", st.Connected, "disconnected", st.Disconnected,
		"backend_overflow", st.BackendOverflow, "backend_errors", st.BackendErrors)
	return nil
}

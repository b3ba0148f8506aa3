package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stonexwx/simple-redis/lua"
	"github.com/stonexwx/simple-redis/protocol"
	"github.com/stonexwx/simple-redis/storage"
)

// ErrServerStarted is returned by Start on a server that is already running
var ErrServerStarted = errors.New("server already started")

// DefaultScriptTimeout is the time limit applied to EVAL and EVALSHA
const DefaultScriptTimeout = 5 * time.Second

// Logger is the logging interface used by the server. Fields are
// alternating keys and values.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector receives server metrics
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordError(errorType string)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Option configures a Server
type Option func(*Server)

// WithPassword requires clients to authenticate with AUTH or HELLO
func WithPassword(password string) Option {
	return func(s *Server) {
		s.password = password
	}
}

// WithReadTimeout closes connections idle for longer than d. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

// WithWriteTimeout bounds the time spent flushing replies. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithScriptTimeout aborts scripts that run for longer than d. Zero leaves
// scripts bounded only by the server lifetime.
func WithScriptTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.scriptTimeout = d
	}
}

// WithLogger sets the server logger
func WithLogger(logger Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithDecoder sets the limits applied to client input
func WithDecoder(dec protocol.Decoder) Option {
	return func(s *Server) {
		s.decoder = dec
	}
}

// WithVersion sets the version reported by HELLO
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// Server provides Redis protocol server functionality
type Server struct {
	storage storage.Storage
	lua     *lua.Engine

	// Server configuration
	addr          string
	password      string
	readTimeout   time.Duration
	writeTimeout  time.Duration
	scriptTimeout time.Duration
	decoder       protocol.Decoder
	version       string
	logger        Logger
	metrics       MetricsCollector

	// Connection management
	listener net.Listener
	clients  sync.Map // map[net.Conn]*Client
	nextID   atomic.Int64

	// execMu lets scripts run without other commands interleaving:
	// commands hold it shared, EVAL and EVALSHA exclusively.
	execMu sync.RWMutex

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// Counters
	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
}

// Client represents a connected client
type Client struct {
	id     int64
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	// Client state, owned by the connection goroutine
	name          string
	authenticated bool
	version       protocol.Version
	inScript      bool
	quit          bool

	closeOnce sync.Once
}

// NewServer creates a new Redis protocol server
func NewServer(addr string, stor storage.Storage, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		storage:       stor,
		addr:          addr,
		scriptTimeout: DefaultScriptTimeout,
		version:       "0.0.0",
		logger:        nopLogger{},
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lua = lua.NewEngine(lua.CallerFunc(s.callFromScript))

	return s
}

// Start starts listening and serving clients in the background
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.logger.Info("Server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop closes the listener and all client connections and waits for their
// goroutines to finish
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.clients.Range(func(_, value interface{}) bool {
		value.(*Client).Close()
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	clientCount := 0
	s.clients.Range(func(_, _ interface{}) bool {
		clientCount++
		return true
	})

	return map[string]interface{}{
		"connected_clients": clientCount,
		"total_commands":    s.commandCount.Load(),
		"total_errors":      s.errorCount.Load(),
		"total_connections": s.connCount.Load(),
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Accept failed", "error", err)
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient registers a connection and starts its goroutine
func (s *Server) handleNewClient(conn net.Conn) {
	s.connCount.Add(1)

	var src io.Reader = conn
	if s.metrics != nil {
		src = &countingReader{r: conn, metrics: s.metrics}
	}

	client := &Client{
		id:            s.nextID.Add(1),
		conn:          conn,
		writer:        protocol.NewWriter(conn),
		server:        s,
		authenticated: s.password == "",
	}
	client.reader = protocol.NewReader(src,
		protocol.WithDecoder(s.decoder),
		protocol.WithBeforeRead(client.flushPending),
	)
	client.setVersion(protocol.RESP2)

	s.clients.Store(conn, client)
	s.logger.Debug("Client connected", "id", client.id, "remote", conn.RemoteAddr().String())

	s.wg.Add(1)
	go client.handle()

	// Stop may have run between Accept and Store
	if s.ctx.Err() != nil {
		client.Close()
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		c.server.clients.Delete(c.conn)
	})
}

func (c *Client) setVersion(v protocol.Version) {
	c.version = v
	c.reader.SetVersion(v)
	c.writer.SetVersion(v)
}

// handle serves requests until the connection ends. Pending replies are
// flushed before the reader waits on the network, so pipelined requests
// share one write.
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for !c.quit {
		if c.server.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.server.readTimeout))
		}

		frame, err := c.reader.ReadFrame()
		if err != nil {
			c.handleReadError(err)
			return
		}

		reply := c.execute(frame)
		if err := c.writer.WriteFrame(reply); err != nil {
			c.server.logger.Debug("Write failed", "id", c.id, "error", err)
			return
		}
	}

	if err := c.flush(); err != nil {
		c.server.logger.Debug("Flush failed", "id", c.id, "error", err)
	}
}

// flushPending sends buffered replies before a read that may block
func (c *Client) flushPending() error {
	if c.writer.Buffered() == 0 {
		return nil
	}
	return c.flush()
}

func (c *Client) flush() error {
	if c.server.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
	}
	return c.writer.Flush()
}

// handleReadError answers protocol errors before the connection is closed.
// End of stream and network failures close it silently.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), c.server.ctx.Err() != nil:
		c.server.logger.Debug("Client disconnected", "id", c.id)
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrUnsupportedType):
		c.server.recordError("protocol")
		c.server.logger.Info("Protocol error", "id", c.id, "error", err)
		msg := err.Error()
		var perr *protocol.Error
		if errors.As(err, &perr) {
			msg = perr.Msg
		}
		_ = c.writer.WriteError("ERR Protocol error: " + msg)
		_ = c.flush()
	default:
		c.server.logger.Debug("Read failed", "id", c.id, "error", err)
	}
}

func (s *Server) recordError(errorType string) {
	s.errorCount.Add(1)
	if s.metrics != nil {
		s.metrics.RecordError(errorType)
	}
}

// countingReader reports bytes read from a connection
type countingReader struct {
	r       io.Reader
	metrics MetricsCollector
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.metrics.RecordNetworkBytes(int64(n))
	}
	return n, err
}

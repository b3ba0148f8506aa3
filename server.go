package simpleredis

import (
	"context"
	"errors"
	"sync"

	"github.com/stonexwx/simple-redis/protocol"
	"github.com/stonexwx/simple-redis/server"
	"github.com/stonexwx/simple-redis/storage"
)

// Server is an in-memory Redis-compatible server
type Server struct {
	// Configuration
	config *config

	// Components
	storage *storage.MemoryStorage
	server  *server.Server

	// State
	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a new Server with the given options
//
// The server is created but not started. Use Start() to begin accepting
// connections.
//
// Example:
//
//	srv, err := simpleredis.New(
//		simpleredis.WithAddr(":6379"),
//		simpleredis.WithPassword("secret"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Server, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	stor := storage.NewMemory(
		storage.WithShardCount(cfg.shardCount),
		storage.WithCleanupConfig(cfg.cleanup),
	)

	serverOpts := []server.Option{
		server.WithPassword(cfg.password),
		server.WithReadTimeout(cfg.readTimeout),
		server.WithWriteTimeout(cfg.writeTimeout),
		server.WithScriptTimeout(cfg.scriptTimeout),
		server.WithDecoder(protocol.Decoder{
			MaxBulkLen:  cfg.maxBulkLen,
			MaxElements: cfg.maxElements,
		}),
		server.WithVersion(Version),
		server.WithLogger(&serverLogger{logger: cfg.logger}),
	}
	if cfg.metrics != nil {
		serverOpts = append(serverOpts, server.WithMetrics(&metricsAdapter{metrics: cfg.metrics}))
	}

	return &Server{
		config:  cfg,
		storage: stor,
		server:  server.NewServer(cfg.addr, stor, serverOpts...),
	}, nil
}

// Start begins accepting client connections
//
// Start returns once the listener is bound. Connections are served in the
// background until Close is called.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.server.Start(); err != nil {
		s.config.logger.Error("Failed to start server", Field{Key: "error", Value: err}, Field{Key: "addr", Value: s.config.addr})
		if errors.Is(err, server.ErrServerStarted) {
			return ErrAlreadyStarted
		}
		return err
	}
	s.started = true

	s.config.logger.Info("Server started",
		Field{Key: "addr", Value: s.server.Addr()},
		Field{Key: "version", Value: Version},
		Field{Key: "auth", Value: s.config.password != ""},
	)
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then closes it.
// If the server cannot start it is closed before Run returns.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		if !errors.Is(err, ErrAlreadyStarted) {
			_ = s.Close()
		}
		return err
	}
	<-ctx.Done()
	s.config.logger.Info("Shutting down", Field{Key: "reason", Value: ctx.Err()})
	return s.Close()
}

// Close stops the listener, disconnects every client and releases the
// keyspace. Calling Close more than once is safe.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Stop server first
	if s.started {
		if err := s.server.Stop(); err != nil {
			s.config.logger.Error("Error stopping server", Field{Key: "error", Value: err})
		}
	}

	return s.storage.Close()
}

// Addr returns the address the server listens on. After Start it reports
// the bound address, which resolves a ":0" port.
func (s *Server) Addr() string {
	return s.server.Addr()
}

// Storage returns the underlying keyspace for direct access
//
// Example:
//
//	value, exists := srv.Storage().Get("mykey")
func (s *Server) Storage() storage.Storage {
	return s.storage
}

// Stats returns a snapshot of server activity
func (s *Server) Stats() Stats {
	raw := s.server.Stats()

	stats := Stats{Keys: s.storage.KeyCount()}
	stats.ConnectedClients, _ = raw["connected_clients"].(int)
	stats.TotalConnections, _ = raw["total_connections"].(int64)
	stats.TotalCommands, _ = raw["total_commands"].(int64)
	stats.TotalErrors, _ = raw["total_errors"].(int64)
	return stats
}

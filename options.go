package simpleredis

import (
	"time"

	"github.com/stonexwx/simple-redis/server"
	"github.com/stonexwx/simple-redis/storage"
)

// config holds the configuration for a Server
type config struct {
	// Listener settings
	addr     string
	password string

	// Timeouts and limits
	readTimeout   time.Duration
	writeTimeout  time.Duration
	scriptTimeout time.Duration
	maxBulkLen    int
	maxElements   int

	// Keyspace
	shardCount int
	cleanup    storage.CleanupConfig

	// Observability
	logger  Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:          ":6379",
		readTimeout:   0, // idle clients are never disconnected
		writeTimeout:  10 * time.Second,
		scriptTimeout: server.DefaultScriptTimeout,
		shardCount:    64,
		cleanup:       storage.CleanupConfigDefault,
		logger:        &defaultLogger{},
	}
}

// Option represents a configuration option for a Server
type Option func(*config) error

// WithAddr sets the TCP address the server listens on
//
// Example:
//
//	WithAddr(":6379")
//	WithAddr("127.0.0.1:0") // pick a free port
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return invalidOption("addr", addr)
		}
		c.addr = addr
		return nil
	}
}

// WithPassword requires clients to authenticate with AUTH or HELLO AUTH.
// An empty password disables authentication.
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithReadTimeout closes client connections that stay idle for longer than
// timeout. Zero disables the timeout.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return invalidOption("read timeout", timeout)
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout bounds the time spent sending replies. Zero disables
// the timeout.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return invalidOption("write timeout", timeout)
		}
		c.writeTimeout = timeout
		return nil
	}
}

// WithScriptTimeout aborts EVAL and EVALSHA scripts that run longer than
// timeout; the client receives an error reply. Zero removes the limit, in
// which case a script only stops when the server is closed.
func WithScriptTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return invalidOption("script timeout", timeout)
		}
		c.scriptTimeout = timeout
		return nil
	}
}

// WithMaxBulkLen limits the size of a single bulk string sent by clients.
// Zero keeps the protocol default of 512MB.
func WithMaxBulkLen(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return invalidOption("max bulk length", n)
		}
		c.maxBulkLen = n
		return nil
	}
}

// WithMaxElements limits the number of elements of a single request array.
// Zero keeps the protocol default.
func WithMaxElements(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return invalidOption("max elements", n)
		}
		c.maxElements = n
		return nil
	}
}

// WithShardCount sets the number of keyspace shards. It is rounded up to a
// power of two.
//
// Example:
//
//	WithShardCount(256)
func WithShardCount(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return invalidOption("shard count", n)
		}
		c.shardCount = n
		return nil
	}
}

// WithCleanupInterval sets how often expired keys are sampled and removed
// in the background
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			return invalidOption("cleanup interval", interval)
		}
		c.cleanup.Interval = interval
		return nil
	}
}

// WithLogger sets a custom logger for the server
//
// Example:
//
//	WithLogger(simpleredis.NewZerologLogger(zerolog.New(os.Stderr)))
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return invalidOption("logger", logger)
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

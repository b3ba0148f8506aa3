package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	simpleredis "github.com/stonexwx/simple-redis"
)

// envPrefix is prepended to every environment variable name
const envPrefix = "SIMPLE_REDIS_"

// serverConfig is the effective configuration of the binary
type serverConfig struct {
	Addr            string
	Password        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ScriptTimeout   time.Duration
	ShardCount      int
	CleanupInterval time.Duration
	MaxBulkLen      int
	LogLevel        string
	ShowVersion     bool
}

// fileConfig is the TOML file layout
type fileConfig struct {
	Addr            string        `toml:"addr"`
	Password        string        `toml:"password"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ScriptTimeout   time.Duration `toml:"script_timeout"`
	ShardCount      int           `toml:"shard_count"`
	CleanupInterval time.Duration `toml:"cleanup_interval"`
	MaxBulkLen      int           `toml:"max_bulk_len"`
	LogLevel        string        `toml:"log_level"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Addr:            ":6379",
		WriteTimeout:    10 * time.Second,
		ScriptTimeout:   5 * time.Second,
		ShardCount:      64,
		CleanupInterval: time.Second,
		LogLevel:        "info",
	}
}

// loadConfig resolves the configuration from defaults, the TOML file named
// by -config, the environment (falling back to the -env-file entries) and
// finally the command line flags. Later sources win.
func loadConfig(args []string, lookupEnv func(string) (string, bool), stderr io.Writer) (serverConfig, error) {
	cfg := defaultServerConfig()

	fset := flag.NewFlagSet("simple-redis", flag.ContinueOnError)
	fset.SetOutput(stderr)
	configPath := fset.String("config", "", "path to a TOML config file")
	envFile := fset.String("env-file", ".env", "path to a dotenv file; missing files are ignored")
	addr := fset.String("addr", cfg.Addr, "listen address")
	password := fset.String("password", "", "password required from clients")
	readTimeout := fset.Duration("read-timeout", cfg.ReadTimeout, "idle client timeout (0 disables)")
	writeTimeout := fset.Duration("write-timeout", cfg.WriteTimeout, "reply write timeout (0 disables)")
	scriptTimeout := fset.Duration("script-timeout", cfg.ScriptTimeout, "EVAL time limit (0 disables)")
	shardCount := fset.Int("shards", cfg.ShardCount, "number of keyspace shards")
	cleanupInterval := fset.Duration("cleanup-interval", cfg.CleanupInterval, "expired key sampling interval")
	maxBulkLen := fset.Int("max-bulk-len", cfg.MaxBulkLen, "largest accepted bulk string in bytes (0 for the default)")
	logLevel := fset.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	showVersion := fset.Bool("version", false, "print version information and exit")

	if err := fset.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := loadFileConfig(*configPath, &cfg); err != nil {
			return cfg, err
		}
	}

	dotenv, err := godotenv.Read(*envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load env file: %w", err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "password":
			cfg.Password = *password
		case "read-timeout":
			cfg.ReadTimeout = *readTimeout
		case "write-timeout":
			cfg.WriteTimeout = *writeTimeout
		case "script-timeout":
			cfg.ScriptTimeout = *scriptTimeout
		case "shards":
			cfg.ShardCount = *shardCount
		case "cleanup-interval":
			cfg.CleanupInterval = *cleanupInterval
		case "max-bulk-len":
			cfg.MaxBulkLen = *maxBulkLen
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	cfg.ShowVersion = *showVersion

	return cfg, nil
}

// loadFileConfig overlays the keys defined in a TOML file
func loadFileConfig(path string, cfg *serverConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("read_timeout") {
		cfg.ReadTimeout = raw.ReadTimeout
	}
	if meta.IsDefined("write_timeout") {
		cfg.WriteTimeout = raw.WriteTimeout
	}
	if meta.IsDefined("script_timeout") {
		cfg.ScriptTimeout = raw.ScriptTimeout
	}
	if meta.IsDefined("shard_count") {
		cfg.ShardCount = raw.ShardCount
	}
	if meta.IsDefined("cleanup_interval") {
		cfg.CleanupInterval = raw.CleanupInterval
	}
	if meta.IsDefined("max_bulk_len") {
		cfg.MaxBulkLen = raw.MaxBulkLen
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return nil
}

// applyEnv overlays SIMPLE_REDIS_* variables
func applyEnv(cfg *serverConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "ADDR"); ok {
		cfg.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPrefix + "PASSWORD"); ok {
		cfg.Password = v
	}
	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		cfg.LogLevel = strings.TrimSpace(v)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"READ_TIMEOUT", &cfg.ReadTimeout},
		{"WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"SCRIPT_TIMEOUT", &cfg.ScriptTimeout},
		{"CLEANUP_INTERVAL", &cfg.CleanupInterval},
	}
	for _, d := range durations {
		v, ok := lookup(envPrefix + d.name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, d.name, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"SHARDS", &cfg.ShardCount},
		{"MAX_BULK_LEN", &cfg.MaxBulkLen},
	}
	for _, n := range ints {
		v, ok := lookup(envPrefix + n.name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, n.name, err)
		}
		*n.dst = parsed
	}
	return nil
}

// options translates the configuration into server options
func (c serverConfig) options(logger simpleredis.Logger) []simpleredis.Option {
	return []simpleredis.Option{
		simpleredis.WithAddr(c.Addr),
		simpleredis.WithPassword(c.Password),
		simpleredis.WithReadTimeout(c.ReadTimeout),
		simpleredis.WithWriteTimeout(c.WriteTimeout),
		simpleredis.WithScriptTimeout(c.ScriptTimeout),
		simpleredis.WithShardCount(c.ShardCount),
		simpleredis.WithCleanupInterval(c.CleanupInterval),
		simpleredis.WithMaxBulkLen(c.MaxBulkLen),
		simpleredis.WithLogger(logger),
	}
}

func parseLevel(level string) (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}

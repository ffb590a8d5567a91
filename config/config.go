// Package config loads the service configuration from environment variables.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

const (
	DriverTables = "tables"
	DriverSQLite = "sqlite"
)

// Config is the full service configuration.
type Config struct {
	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"tables"`
	ConnectionString string        `env:"STORAGE_CONNECTION_STRING"`
	DocumentsTable   string        `env:"DOCUMENTS_TABLE" envDefault:"documents"`
	EventsQueue      string        `env:"EVENTS_QUEUE"`
	SQLitePath       string        `env:"SQLITE_PATH"`
	RedisConnection  string        `env:"REDIS_CONNECTION_STRING"`
	SnapshotCacheTTL time.Duration `env:"SNAPSHOT_CACHE_TTL" envDefault:"30s"`
	DeduperTTL       time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`

	Auth0Domain   string        `env:"AUTH0_DOMAIN"`
	Auth0Audience string        `env:"AUTH0_AUDIENCE"`
	Auth0TestMode bool          `env:"AUTH0_TEST_MODE"`
	TestJWTSecret string        `env:"TEST_JWT_SECRET"`
	JWKSCacheTTL  time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`

	WriteConcurrency int  `env:"WRITE_CONCURRENCY" envDefault:"16"`
	AtomicMoves      bool `env:"ATOMIC_MOVES" envDefault:"false"`

	EventWorkers        int           `env:"EVENT_WORKERS" envDefault:"4"`
	EventBuffer         int           `env:"EVENT_BUFFER" envDefault:"1024"`
	EventTimeout        time.Duration `env:"EVENT_TIMEOUT" envDefault:"30s"`
	EventHandoffTimeout time.Duration `env:"EVENT_HANDOFF_TIMEOUT" envDefault:"15ms"`

	Debug bool   `env:"DEBUG"`
	Port  string `env:"FUNCTIONS_CUSTOMHANDLER_PORT" envDefault:"8080"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverTables:
		if c.ConnectionString == "" {
			errs = append(errs, errors.New("STORAGE_CONNECTION_STRING is required for the tables driver"))
		}
		if c.DocumentsTable == "" {
			errs = append(errs, errors.New("DOCUMENTS_TABLE is required for the tables driver"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.EventsQueue != "" && c.ConnectionString == "" {
		errs = append(errs, errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if !c.Auth0TestMode && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	if c.WriteConcurrency <= 0 {
		errs = append(errs, errors.New("WRITE_CONCURRENCY must be greater than zero"))
	}
	if c.DeduperTTL <= 0 {
		errs = append(errs, errors.New("DEDUPER_TTL must be greater than zero"))
	}
	return errors.Join(errs...)
}

// RedisOptions parses a Redis connection string given either as a URL or in
// the Azure "host:port,password=...,ssl=True" form.
func RedisOptions(conn string) (*redis.Options, error) {
	if strings.TrimSpace(conn) == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

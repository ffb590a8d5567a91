package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-api/api"
	"board-api/board"
	"board-api/config"
	"board-api/events"
	"board-api/reorder"
	"board-api/storage"
	"board-api/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	base, closer, err := openStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closer.Close()

	var store storage.Store = base
	var rc *redis.Client
	if cfg.RedisConnection != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnection)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
		store = storage.NewCache(base, rc, cfg.SnapshotCacheTTL)
	}

	var emitter events.Emitter = events.Noop{}
	if cfg.EventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.ConnectionString, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		publisher := events.NewPublisher(queue, events.Options{
			Workers:        cfg.EventWorkers,
			Buffer:         cfg.EventBuffer,
			Timeout:        cfg.EventTimeout,
			HandoffTimeout: cfg.EventHandoffTimeout,
		}, logger)
		defer publisher.Close()
		emitter = publisher
	}

	exec := board.NewExecutor(store, board.ExecutorOptions{
		Atomic:      cfg.AtomicMoves,
		Concurrency: cfg.WriteConcurrency,
	}, logger)
	svc := board.NewService(store, reorder.New(), exec, emitter, logger)

	var deduper api.Deduper = api.NoopDeduper{}
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, svc, auth, deduper, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func openStore(cfg config.Config) (storage.Store, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverTables:
		s, err := storage.NewTables(cfg.ConnectionString, cfg.DocumentsTable)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	if cfg.Auth0TestMode {
		return api.NewAuth(nil, api.AuthOptions{
			Audience:    cfg.Auth0Audience,
			TestSecret:  cfg.TestJWTSecret,
			KeyCacheTTL: cfg.JWKSCacheTTL,
		})
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: cfg.JWKSCacheTTL})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, api.AuthOptions{
		Audience:    cfg.Auth0Audience,
		Issuer:      "https://" + cfg.Auth0Domain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

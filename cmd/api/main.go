// Command ponyd-api runs the control-plane API process: the HTTP surface operators and billing systems call to
// create/delete users, connections and nodes, the sync pipeline that writes every mutation through to Postgres, and
// the heartbeat listener that resynchronizes a node's full state the first time it comes online (§4.4, §4.6, §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ponyfleet/ponyd/internal/apisvc"
	"github.com/ponyfleet/ponyd/internal/bus"
	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/config"
	"github.com/ponyfleet/ponyd/internal/httpapi"
	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/postgres"
	"github.com/ponyfleet/ponyd/internal/store"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

const bodyLimitBytes = 4 << 20 // 4 MiB: generous for the JSON control-plane payloads this process accepts.

// runFatal wraps an error returned by run() so main can tell a runtime failure (exit 2) apart from a cobra
// argument-parsing failure or a config-loading failure, neither of which is wrapped (exit 1).
type runFatal struct{ err error }

func (r runFatal) Error() string { return r.err.Error() }
func (r runFatal) Unwrap() error { return r.err }

// rootCmd enforces the one-positional-argument CLI contract (§6): a single TOML config path, nothing else.
var rootCmd = &cobra.Command{
	Use:           "ponyd-api <config.toml>",
	Short:         "ponyd-api runs the fleet control-plane API",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.LoadAPI(args[0])
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := run(cfg); err != nil {
			return runFatal{err}
		}
		return nil
	},
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := rootCmd.Execute(); err != nil {
		var fatal runFatal
		if errors.As(err, &fatal) {
			log.Error().Err(fatal.err).Msg("api server stopped")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("invalid arguments or configuration")
		os.Exit(1)
	}
}

func run(cfg *config.APIConfig) error {
	if cfg.Env == "development" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	log.Info().Str("version", version).Str("commit", commit).Str("env", cfg.Env).Msg("starting ponyd-api")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("cors_allow_origins is set to a wildcard; set an explicit origin in production")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("postgres connected")

	if err := postgres.Migrate(cfg.Database.URL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations complete")

	rdb, err := bus.Connect(ctx, cfg.Bus.URL, 5*time.Second, log.Logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("bus connected")

	userRepo := store.NewUserRepository(db, log.Logger)
	connRepo := store.NewConnectionRepository(db, log.Logger)
	nodeRepo := store.NewNodeRepository(db, log.Logger)

	c, err := warmCache(ctx, userRepo, connRepo, nodeRepo)
	if err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	log.Info().Msg("cache warmed from postgres")

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	worker := syncpipeline.NewWorker(syncpipeline.DefaultCapacity, userRepo, connRepo, nodeRepo, log.Logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sync pipeline worker stopped")
		}
	}()

	publisher := bus.NewPublisher(rdb, log.Logger)
	if err := publisher.WaitReady(ctx); err != nil {
		return fmt.Errorf("publisher not ready: %w", err)
	}

	heartbeats := apisvc.NewHeartbeatListener(rdb, c, nodeRepo, connRepo, publisher, cfg.Env, log.Logger)
	go runWithBackoff(subCtx, "heartbeat-listener", heartbeats.Run)

	app := fiber.New(fiber.Config{
		AppName:      "ponyd-api",
		BodyLimit:    bodyLimitBytes,
		ErrorHandler: httputil.ErrorHandler,
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/healthcheck"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))
	app.Use(limiter.New(limiter.Config{Max: 200, Expiration: time.Second}))

	handler := httpapi.NewHandler(c, worker, publisher, cfg.Env, log.Logger)
	handler.RegisterRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down api server")
		subCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api server shutdown error")
		}
		worker.Close()
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("api server listening")
	if err := app.Listen(cfg.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	select {
	case <-workerDone:
	case <-time.After(cfg.ShutdownGrace):
		log.Warn().Msg("sync pipeline did not drain within the shutdown grace period")
	}
	return nil
}

// warmCache rebuilds the in-memory aggregate from Postgres on startup (§3's ownership rule: Postgres is the
// durable source of truth, the cache is a rebuildable projection of it).
func warmCache(ctx context.Context, users *store.UserRepository, conns *store.ConnectionRepository, nodes *store.NodeRepository) (*cache.Cache, error) {
	c := cache.New()

	allUsers, err := users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range allUsers {
		c.AddUser(u, true)
	}

	allNodes, err := nodes.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	for _, n := range allNodes {
		c.AddNode(n)
	}

	allConns, err := conns.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	for _, conn := range allConns {
		c.AddConnection(conn, true)
	}

	return c, nil
}

// runWithBackoff restarts fn with exponential backoff whenever it returns a non-cancellation error, the same
// supervision shape the teacher uses for its gateway hub and permission-cache subscriber.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).Msg("background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// Command ponyd-agent runs on a fleet edge node: it subscribes to its own bus topics, materializes a startup
// snapshot and applies deltas against the local tunnel engines, runs the periodic stats/heartbeat/drift tasks, and
// serves a small HTTP surface for operational inspection (§4.5, §6, §8 scenario S5).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ponyfleet/ponyd/internal/agentsvc"
	"github.com/ponyfleet/ponyd/internal/bus"
	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/config"
	"github.com/ponyfleet/ponyd/internal/httpagent"
	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/metrics"
	"github.com/ponyfleet/ponyd/internal/shadowsocksadmin"
	"github.com/ponyfleet/ponyd/internal/store"
	"github.com/ponyfleet/ponyd/internal/wireguardadmin"
	"github.com/ponyfleet/ponyd/internal/xrayadmin"
)

// runFatal distinguishes a runtime failure from run() (exit 2) from a cobra argument-parsing failure or a
// config-loading failure, neither of which is wrapped (exit 1) — the same split cmd/api uses for its CLI contract (§6).
type runFatal struct{ err error }

func (r runFatal) Error() string { return r.err.Error() }
func (r runFatal) Unwrap() error { return r.err }

// rootCmd enforces the one-positional-argument CLI contract (§6): a single TOML config path, nothing else.
var rootCmd = &cobra.Command{
	Use:           "ponyd-agent <config.toml>",
	Short:         "ponyd-agent runs a fleet edge node",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.LoadAgent(args[0])
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
			log.Error().Err(fatal.err).Msg("agent stopped")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("invalid arguments or configuration")
		os.Exit(1)
	}
}

func run(cfg *config.AgentConfig) error {
	if cfg.Env == "development" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	nodeID, err := uuid.Parse(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("parse node_id: %w", err)
	}

	log.Info().Str("node_id", cfg.NodeID).Str("env", cfg.Env).Str("hostname", cfg.Hostname).Msg("starting ponyd-agent")

	ctx := context.Background()

	rdb, err := bus.Connect(ctx, cfg.Bus.URL, 5*time.Second, log.Logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("bus connected")

	admins, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build tunnel admin registry: %w", err)
	}

	c := cache.New()
	c.SetSelf(nodeID)
	c.AddNode(cache.Node{UUID: nodeID, Env: cfg.Env, Hostname: cfg.Hostname, Status: ident.NodeOffline})

	sub, err := bus.Subscribe(ctx, rdb, log.Logger, bus.EnvTopic(cfg.Env), bus.NodeTopic(cfg.NodeID))
	if err != nil {
		return fmt.Errorf("subscribe bus topics: %w", err)
	}
	defer func() { _ = sub.Close() }()

	publisher := bus.NewPublisher(rdb, log.Logger)
	reconciler := agentsvc.NewReconciler(c, admins, log.Logger)
	tasks := agentsvc.NewPeriodicTasks(c, admins, publisher, cfg.Env, log.Logger)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	go tasks.Run(subCtx)
	go consumeBus(subCtx, sub, reconciler, c, log.Logger)

	if cfg.Metrics.GatewayURL != "" {
		sink := metrics.NewPushSink(cfg.Metrics.GatewayURL, cfg.Metrics.Job, cfg.Hostname)
		collector := metrics.NewCollector(cfg.Env, cfg.Hostname, c, sink, log.Logger)
		go collector.Run(subCtx)
		log.Info().Str("gateway", cfg.Metrics.GatewayURL).Msg("metrics collector started")
	}

	app := fiber.New(fiber.Config{AppName: "ponyd-agent", ErrorHandler: httputil.ErrorHandler})
	app.Use(httputil.RequestLogger(log.Logger, "/healthcheck"))

	httpagent.NewHandler(c, log.Logger).RegisterRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down agent")
		subCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("agent http server shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("agent http server listening")
	if err := app.Listen(cfg.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildRegistry wires a TunnelAdmin client for each protocol this node is configured to run (§3: "a node typically
// runs wireguard plus one of shadowsocks/xray, not all three" per agentsvc.NewRegistry's doc comment).
func buildRegistry(cfg *config.AgentConfig) (agentsvc.Registry, error) {
	var (
		wg    *wireguardadmin.Client
		ss    *shadowsocksadmin.Adapter
		xrayA *xrayadmin.Adapter
	)

	if cfg.Wireguard.Device != "" {
		client, err := wireguardadmin.New(cfg.Wireguard.Device)
		if err != nil {
			return nil, fmt.Errorf("wireguard admin: %w", err)
		}
		wg = client
	}
	if cfg.Shadowsocks.AdminURL != "" {
		ss = shadowsocksadmin.NewAdapter(shadowsocksadmin.New(cfg.Shadowsocks.AdminURL))
	}
	if cfg.Xray.GRPCAddr != "" {
		client, err := xrayadmin.Dial(cfg.Xray.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("xray admin: %w", err)
		}
		xrayA = xrayadmin.NewAdapter(client, cfg.Xray.InboundTags...)
	}

	return agentsvc.NewRegistry(wg, ss, xrayA), nil
}

// consumeBus drains the bus subscription: a snapshot frame materializes straight into the cache (§8 S5), a control
// message goes through the reconciler. Deltas observed during the snapshot window are ordinary channel messages
// processed in arrival order, so a delete immediately following a snapshot is applied after materialization exactly
// as §8 S5 requires — no extra buffering needed, since Go channels already preserve per-sender order and there is a
// single consumer goroutine.
func consumeBus(ctx context.Context, sub *bus.Subscriber, reconciler *agentsvc.Reconciler, c *cache.Cache, logger zerolog.Logger) {
	for env := range sub.Messages(ctx) {
		switch env.Kind {
		case bus.KindSnapshot:
			snap, err := store.DecodeNodeSnapshot(env.Snapshot)
			if err != nil {
				logger.Warn().Err(err).Msg("agent: dropping undecodable snapshot")
				continue
			}
			materialize(c, snap)
			logger.Info().Int("connections", len(snap.Connections)).Msg("agent: snapshot materialized")
		case bus.KindMessage:
			reconciler.Apply(ctx, env.Message)
		}
	}
}

// materialize loads a resync snapshot into the cache, force-restoring every entity so a connection this agent had
// previously tombstoned (e.g. across a restart) is replaced by the snapshot's authoritative view rather than kept
// deleted (§4.1's forceRestore path).
func materialize(c *cache.Cache, snap store.NodeSnapshot) {
	c.AddNode(snap.Node)
	for _, conn := range snap.Connections {
		c.AddConnection(conn, true)
	}
}

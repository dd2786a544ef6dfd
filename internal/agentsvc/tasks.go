package agentsvc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ponyfleet/ponyd/internal/bus"
	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
)

const (
	statsPullInterval        = 10 * time.Second
	heartbeatInterval        = 30 * time.Second
	connectionsDriftInterval = 60 * time.Second
	taskTimeout              = 3 * time.Second
)

// PeriodicTasks runs the three wall-clock background tasks the component design names for agent reconciliation
// (§4.5): stats_pull, heartbeat, connections_drift.
type PeriodicTasks struct {
	cache     *cache.Cache
	admins    Registry
	publisher *bus.Publisher
	env       string
	log       zerolog.Logger
}

func NewPeriodicTasks(c *cache.Cache, admins Registry, publisher *bus.Publisher, env string, logger zerolog.Logger) *PeriodicTasks {
	return &PeriodicTasks{
		cache:     c,
		admins:    admins,
		publisher: publisher,
		env:       env,
		log:       logger.With().Str("component", "agent_tasks").Logger(),
	}
}

// Run starts all three tickers and blocks until ctx is cancelled.
func (t *PeriodicTasks) Run(ctx context.Context) {
	go t.loop(ctx, statsPullInterval, t.statsPull)
	go t.loop(ctx, heartbeatInterval, t.heartbeat)
	go t.loop(ctx, connectionsDriftInterval, t.connectionsDrift)
	<-ctx.Done()
}

func (t *PeriodicTasks) loop(ctx context.Context, interval time.Duration, task func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, taskTimeout)
			task(opCtx)
			cancel()
		}
	}
}

// statsPull fetches per-connection uplink/downlink/online from the tunnel admin APIs, diffs against the cache, and
// writes back only connections whose stats changed (AddConnection naturally settles on UpdatedStat for a
// stats-only delta, per §4.1). AllConnectionsOnNode only returns wireguard connections (the only proto that carries
// a node reference in the cache model); shadowsocks/xray connections are fleet-wide and are only ever created,
// deleted or reset through Reconciler.Apply in response to a bus delta, never polled here.
func (t *PeriodicTasks) statsPull(ctx context.Context) {
	node, ok := t.cache.SelfNode()
	if !ok {
		return
	}
	for _, conn := range t.cache.AllConnectionsOnNode(node.UUID) {
		admin, err := t.admins.For(conn.Proto.Kind)
		if err != nil {
			continue
		}
		online, uplink, downlink, err := admin.Stats(ctx, conn)
		if err != nil {
			t.log.Debug().Err(err).Stringer("conn_id", conn.ConnID).Msg("stats_pull: fetch failed")
			continue
		}
		if online == (conn.Online != 0) && uplink == conn.Uplink && downlink == conn.Downlink {
			continue
		}
		conn.Online = boolToInt64(online)
		conn.Uplink = uplink
		conn.Downlink = downlink
		conn.ModifiedAt = time.Now()
		t.cache.AddConnection(conn, false)
	}
}

// heartbeat publishes this node's current status on the bus so the API records the reported status.
func (t *PeriodicTasks) heartbeat(ctx context.Context) {
	node, ok := t.cache.SelfNode()
	if !ok {
		return
	}
	node.LastHeartbeatAt = time.Now()
	t.cache.AddNode(node)

	msg := struct {
		NodeID ident.ID         `json:"node_id"`
		Status ident.NodeStatus `json:"status"`
	}{NodeID: node.UUID, Status: node.Status}

	payload, err := json.Marshal(msg)
	if err != nil {
		t.log.Warn().Err(err).Msg("heartbeat: marshal failed")
		return
	}
	if err := t.publisher.Publish(ctx, bus.EnvTopic(t.env), payload); err != nil {
		t.log.Warn().Err(err).Msg("heartbeat: publish failed")
	}
}

// connectionsDrift reconciles the cache against what the tunnel admin actually enumerates: tunnel-only entries
// (present at the engine, absent or deleted in cache) are removed, cache-only entries (active in cache, absent at
// the engine) are re-sent as creates. Enumerating each proto kind's admin is independent I/O (a gRPC call, an HTTP
// call, a netlink call), so the per-kind enumerate-and-prune pass runs concurrently across the registry.
func (t *PeriodicTasks) connectionsDrift(ctx context.Context) {
	node, ok := t.cache.SelfNode()
	if !ok {
		return
	}
	cached := t.cache.AllConnectionsOnNode(node.UUID)
	cachedByIdentity := make(map[string]cache.Connection, len(cached))
	for _, conn := range cached {
		if conn.Status == ident.ConnDeleted {
			continue
		}
		cachedByIdentity[peerIdentity(conn)] = conn
	}

	var (
		mu               sync.Mutex
		enumeratedByKind = make(map[cache.ProtoKind]map[string]struct{}, len(t.admins))
	)
	var g errgroup.Group
	for kind, admin := range t.admins {
		kind, admin := kind, admin
		g.Go(func() error {
			enumerated, err := admin.Enumerate(ctx)
			if err != nil {
				t.log.Debug().Err(err).Int("proto_kind", int(kind)).Msg("connections_drift: enumerate failed")
				return nil
			}
			set := make(map[string]struct{}, len(enumerated))
			for _, identity := range enumerated {
				set[identity] = struct{}{}
				if _, inCache := cachedByIdentity[identity]; !inCache {
					// Tunnel-only entry: the control plane doesn't know about it, remove it from the engine.
					if err := admin.RemoveByIdentity(ctx, identity); err != nil {
						t.log.Debug().Err(err).Str("identity", identity).Msg("connections_drift: remove tunnel-only entry failed")
					}
				}
			}
			mu.Lock()
			enumeratedByKind[kind] = set
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for identity, conn := range cachedByIdentity {
		if conn.Status != ident.ConnActive {
			continue
		}
		admin, err := t.admins.For(conn.Proto.Kind)
		if err != nil {
			continue
		}
		if _, present := enumeratedByKind[conn.Proto.Kind][identity]; present {
			continue
		}
		if err := admin.AddUser(ctx, conn); err != nil {
			t.log.Debug().Err(err).Str("identity", identity).Msg("connections_drift: re-create cache-only entry failed")
		}
	}
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Package apisvc implements the API process's side of the fleet control loop: it listens for agent heartbeats on
// the bus and, the first time a node is heard from, resynchronizes it with a full cache snapshot (§4.4's "init
// topic" flow, §8 scenario S5).
package apisvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/bus"
	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/protocol"
	"github.com/ponyfleet/ponyd/internal/store"
)

// heartbeatPayload mirrors the {node_id, status} shape internal/agentsvc's PeriodicTasks.heartbeat publishes. It is
// not a protocol.Message, so it travels on the bus unparsed by bus.Subscriber (which only understands control
// messages and snapshot frames): HeartbeatListener reads the raw redis subscription itself instead.
type heartbeatPayload struct {
	NodeID ident.ID         `json:"node_id"`
	Status ident.NodeStatus `json:"status"`
}

// publisher is the narrow contract HeartbeatListener needs to push a resync snapshot back to the node that just
// came online.
type publisher interface {
	PublishSnapshot(ctx context.Context, nodeTopic string, frame []byte) error
}

// HeartbeatListener subscribes to its environment's heartbeat topic and triggers a one-time snapshot resync the
// first time each node is heard from in this process's lifetime.
type HeartbeatListener struct {
	rdb   *redis.Client
	cache *cache.Cache
	nodes *store.NodeRepository
	conns *store.ConnectionRepository
	pub   publisher
	env   string
	log   zerolog.Logger

	mu   sync.Mutex
	seen map[ident.ID]struct{}
}

// NewHeartbeatListener builds a HeartbeatListener for a single deployment environment. env is the topic agents
// publish their heartbeat on (bus.EnvTopic), matching the topic PeriodicTasks.heartbeat writes to.
func NewHeartbeatListener(rdb *redis.Client, c *cache.Cache, nodes *store.NodeRepository, conns *store.ConnectionRepository, pub publisher, env string, logger zerolog.Logger) *HeartbeatListener {
	return &HeartbeatListener{
		rdb: rdb, cache: c, nodes: nodes, conns: conns, pub: pub, env: env,
		log:  logger.With().Str("component", "apisvc").Logger(),
		seen: make(map[ident.ID]struct{}),
	}
}

// Run subscribes to the environment's heartbeat topic and processes frames until ctx is canceled. It is meant to be
// restarted by the caller's backoff loop on a non-cancellation error, as cmd/api does with runWithBackoff.
func (h *HeartbeatListener) Run(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, bus.EnvTopic(h.env))
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("apisvc: subscribe heartbeat topic: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			h.handle(ctx, []byte(m.Payload))
		}
	}
}

func (h *HeartbeatListener) handle(ctx context.Context, payload []byte) {
	var hb heartbeatPayload
	if err := json.Unmarshal(payload, &hb); err != nil {
		h.log.Warn().Err(err).Msg("apisvc: dropping malformed heartbeat payload")
		return
	}

	node, ok := h.cache.GetNode(hb.NodeID)
	if ok {
		node.Status = hb.Status
		node.ModifiedAt = time.Now()
	} else {
		node = cache.Node{UUID: hb.NodeID, Status: hb.Status}
	}
	h.cache.AddNode(node)

	if !h.firstSeen(hb.NodeID) {
		return
	}

	if err := h.resync(ctx, hb.NodeID); err != nil {
		h.log.Warn().Err(err).Str("node_id", hb.NodeID.String()).Msg("apisvc: snapshot resync failed")
	}
}

// firstSeen reports whether this is the first heartbeat observed for nodeID since process start, recording it as
// seen either way.
func (h *HeartbeatListener) firstSeen(nodeID ident.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[nodeID]; ok {
		return false
	}
	h.seen[nodeID] = struct{}{}
	return true
}

func (h *HeartbeatListener) resync(ctx context.Context, nodeID ident.ID) error {
	snap, err := store.BuildNodeSnapshot(ctx, h.nodes, h.conns, nodeID)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	body, err := store.EncodeNodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	frame := protocol.EncodeSnapshot(body)
	if err := h.pub.PublishSnapshot(ctx, bus.NodeTopic(nodeID.String()), frame); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	h.log.Info().Str("node_id", nodeID.String()).Int("connections", len(snap.Connections)).Msg("apisvc: node resynchronized")
	return nil
}

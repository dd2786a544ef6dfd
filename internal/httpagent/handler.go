// Package httpagent implements the agent process's HTTP query surface (§6): a health check and a debug endpoint
// that dumps the node's view of the cache, used operationally to inspect what an agent believes is true without
// going through the bus or the API.
package httpagent

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/httputil"
)

// Handler serves the agent process's HTTP endpoints.
type Handler struct {
	cache *cache.Cache
	log   zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(c *cache.Cache, logger zerolog.Logger) *Handler {
	return &Handler{cache: c, log: logger.With().Str("component", "httpagent").Logger()}
}

// Health is the GET /healthcheck handler (§6).
func (h *Handler) Health(c fiber.Ctx) error {
	return httputil.Health(c)
}

// connStat is the shape DebugState reports per connection: enough to tell which peers this agent believes it owns
// without leaking proto secrets (wireguard keys, shadowsocks passwords).
type connStat struct {
	ConnID   string `json:"conn_id"`
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	Online   int64  `json:"online"`
	Uplink   int64  `json:"uplink"`
	Downlink int64  `json:"downlink"`
}

func newConnStat(c cache.Connection) connStat {
	return connStat{
		ConnID: c.ConnID.String(), UserID: c.UserID.String(), Status: string(c.Status),
		Online: c.Online, Uplink: c.Uplink, Downlink: c.Downlink,
	}
}

// debugState is the GET /debug/state response body: this agent's own node record plus every connection it
// believes is provisioned on it.
type debugState struct {
	Node        *nodeSummary `json:"node"`
	Connections []connStat   `json:"connections"`
}

type nodeSummary struct {
	UUID            string `json:"uuid"`
	Env             string `json:"env"`
	Hostname        string `json:"hostname"`
	Status          string `json:"status"`
	LastHeartbeatAt string `json:"last_heartbeat_at"`
}

func newNodeSummary(n cache.Node) *nodeSummary {
	return &nodeSummary{
		UUID: n.UUID.String(), Env: n.Env, Hostname: n.Hostname,
		Status: string(n.Status), LastHeartbeatAt: n.LastHeartbeatAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// DebugState is the GET /debug/state handler: dumps the subset of the cache relevant to this node (§6's "dumps
// cache"). Scoped to the agent's own node and its connections, not the whole fleet: an agent has no authoritative
// view of nodes other than its own, and the full connection table can be large.
func (h *Handler) DebugState(c fiber.Ctx) error {
	self, ok := h.cache.SelfNode()
	if !ok {
		return httputil.Ok(c, "ok", debugState{Connections: []connStat{}})
	}

	conns := h.cache.AllConnectionsOnNode(self.UUID)
	stats := make([]connStat, 0, len(conns))
	for _, conn := range conns {
		stats = append(stats, newConnStat(conn))
	}

	return httputil.Ok(c, "ok", debugState{Node: newNodeSummary(self), Connections: stats})
}

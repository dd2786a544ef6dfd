// Package httpapi implements the API process's HTTP control surface (§6): health, per-user connection stat reads,
// and connection/node/user mutation endpoints that write through the sync pipeline (§4.6), the in-memory cache
// (§4.1), and the pub/sub bus (§4.3) in that order.
package httpapi

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/protocol"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

// syncQueue is the narrow contract Handler needs from the sync pipeline, consumer-defined the way syncpipeline
// itself depends on UserStore/ConnectionStore/NodeStore rather than a concrete store type. *syncpipeline.Worker
// satisfies it.
type syncQueue interface {
	Enqueue(ctx context.Context, t syncpipeline.Task) error
	Degraded() bool
}

// publisher is the narrow contract Handler needs from the bus. *bus.Publisher satisfies it.
type publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler serves the API process's HTTP endpoints.
type Handler struct {
	cache *cache.Cache
	queue syncQueue
	pub   publisher
	env   string
	log   zerolog.Logger
}

// NewHandler builds a Handler. env is the deployment-class topic used when a mutation cannot be routed to a single
// node (§4.3's "{env} — broadcast to every agent in a deployment class").
func NewHandler(c *cache.Cache, queue syncQueue, pub publisher, env string, logger zerolog.Logger) *Handler {
	return &Handler{cache: c, queue: queue, pub: pub, env: env, log: logger.With().Str("component", "httpapi").Logger()}
}

// Health reports the sync pipeline's degraded state per §4.6: "fatal errors mark the pipeline degraded; HTTP health
// check surfaces the degradation." The endpoint itself always answers 200, per §6.
func (h *Handler) Health(c fiber.Ctx) error {
	if h.queue.Degraded() {
		return httputil.Respond(c, fiber.StatusOK, "degraded", struct{}{})
	}
	return httputil.Health(c)
}

// enqueue offers t to the sync queue. It reports ok=false once it has already written the HTTP response (503 on
// backpressure, 500 on any other enqueue error); callers should return immediately when ok is false.
func (h *Handler) enqueue(c fiber.Ctx, t syncpipeline.Task) (ok bool, err error) {
	if enqErr := h.queue.Enqueue(c, t); enqErr != nil {
		if errors.Is(enqErr, syncpipeline.ErrBackpressure) {
			return false, httputil.Fail(c, fiber.StatusServiceUnavailable, "sync queue full, try again")
		}
		h.log.Error().Err(enqErr).Str("task", t.Kind.String()).Msg("enqueue failed")
		return false, httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return true, nil
}

// publish sends msg on topic, fire-and-forget (§4.3): failures are logged, never surfaced to the HTTP caller, since
// the durable record of the mutation is the SyncTask already enqueued by the time publish runs.
func (h *Handler) publish(c fiber.Ctx, topic string, msg protocol.Message) {
	payload, err := msg.Marshal()
	if err != nil {
		h.log.Error().Err(err).Msg("marshal control message failed")
		return
	}
	if err := h.pub.Publish(c, topic, payload); err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("bus publish failed")
	}
}

// topicFor picks the bus topic a connection's control messages should be published on. A Wireguard connection
// carries its node directly and is targeted; every other proto kind has no node affinity modeled on Connection
// itself (§3's Proto variants), so it is broadcast on the env topic and every agent decides locally whether the
// conn_id is one of its own.
func (h *Handler) topicFor(proto cache.Proto) string {
	if proto.Kind == cache.ProtoWireguard {
		return proto.WireguardNodeID.String()
	}
	return h.env
}

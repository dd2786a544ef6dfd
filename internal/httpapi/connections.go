package httpapi

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/protocol"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

// connStat is the shape §6 names for GET /user/stat: "{conn_id, {online,uplink,downlink}, tag, status, limit, trial}".
type connStat struct {
	ConnID   ident.ID               `json:"conn_id"`
	Online   int64                  `json:"online"`
	Uplink   int64                  `json:"uplink"`
	Downlink int64                  `json:"downlink"`
	Tag      ident.Tag              `json:"tag"`
	Status   ident.ConnectionStatus `json:"status"`
	Limit    int64                  `json:"limit"`
	Trial    bool                   `json:"trial"`
}

func newConnStat(c cache.Connection) connStat {
	tag := c.Proto.XrayTag
	switch c.Proto.Kind {
	case cache.ProtoWireguard:
		tag = ident.TagWireguard
	case cache.ProtoShadowsocks:
		tag = ident.TagShadowsocks
	}
	return connStat{
		ConnID: c.ConnID, Online: c.Online, Uplink: c.Uplink, Downlink: c.Downlink,
		Tag: tag, Status: c.Status, Limit: c.Limit, Trial: c.Trial,
	}
}

// UserStat handles GET /user/stat?user_id={uuid} (§6).
func (h *Handler) UserStat(c fiber.Ctx) error {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "user_id is required and must be a uuid")
	}

	conns := h.cache.GetByUserID(userID)
	stats := make([]connStat, 0, len(conns))
	for _, conn := range conns {
		stats = append(stats, newConnStat(conn))
	}
	if len(stats) == 0 {
		return httputil.Respond(c, fiber.StatusNotFound, "not found", stats)
	}
	return httputil.Ok(c, "ok", stats)
}

// wireguardParamsRequest is the wire shape of cache.WireguardParams.
type wireguardParamsRequest struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	AllowedIP  string `json:"allowed_ip"`
}

// protoRequest decodes the tagged Proto union (§3): Kind selects which of the remaining fields apply.
type protoRequest struct {
	Kind      ident.Tag               `json:"kind"`
	NodeID    ident.ID                `json:"node_id,omitempty"`
	Wireguard *wireguardParamsRequest `json:"wireguard,omitempty"`
	Password  string                  `json:"password,omitempty"`
}

func (r protoRequest) toProto() (cache.Proto, error) {
	switch r.Kind {
	case ident.TagWireguard:
		params := cache.WireguardParams{}
		if r.Wireguard != nil {
			params = cache.WireguardParams(*r.Wireguard)
		}
		return cache.NewWireguardProto(r.NodeID, params), nil
	case ident.TagShadowsocks:
		return cache.NewShadowsocksProto(r.Password), nil
	case ident.TagVlessXtls, ident.TagVlessGrpc, ident.TagVmess:
		return cache.NewXrayProto(r.Kind), nil
	default:
		return cache.Proto{}, fmt.Errorf("httpapi: unrecognized proto kind %q", r.Kind)
	}
}

type createConnectionRequest struct {
	UserID ident.ID     `json:"user_id"`
	Proto  protoRequest `json:"proto"`
	Limit  int64        `json:"limit"`
	Trial  bool         `json:"trial"`
}

// CreateConnection handles the connection-create mutation endpoint (§6, scenario S1). The sync task is enqueued
// before the cache is mutated so that backpressure (§4.6) leaves the cache untouched; the connection id is always
// server-generated, so the cache add can only ever return Ok.
func (h *Handler) CreateConnection(c fiber.Ctx) error {
	var req createConnectionRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid json: "+err.Error())
	}
	if req.UserID == uuid.Nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "user_id is required")
	}
	proto, err := req.Proto.toProto()
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	now := time.Now()
	conn := cache.Connection{
		ConnID: ident.NewID(), UserID: req.UserID, Proto: proto, Status: ident.ConnActive,
		Limit: req.Limit, Trial: req.Trial, CreatedAt: now, ModifiedAt: now,
	}

	if ok, respErr := h.enqueue(c, syncpipeline.NewInsertConn(conn)); !ok {
		return respErr
	}

	status := h.cache.AddConnection(conn, false)
	if !status.IsOk() {
		h.log.Error().Str("status", status.String()).Str("conn_id", conn.ConnID.String()).
			Msg("freshly generated connection id was not accepted as new")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	h.publish(c, h.topicFor(proto), protocol.NewCreate(conn, shadowsocksPassword(proto)))
	return httputil.Respond(c, fiber.StatusOK, "created", newConnStat(conn))
}

func shadowsocksPassword(p cache.Proto) *string {
	if p.Kind != cache.ProtoShadowsocks {
		return nil
	}
	pw := p.ShadowsocksPassword
	return &pw
}

// DeleteConnection handles the connection-delete mutation endpoint (§6, scenario S4). Deletion is idempotent: a
// connection already tombstoned answers 200 without enqueueing a second SyncTask or publishing a second message.
func (h *Handler) DeleteConnection(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "id must be a uuid")
	}

	conn, ok := h.cache.GetConnection(id)
	if !ok {
		return httputil.Fail(c, fiber.StatusNotFound, "connection not found")
	}
	if conn.Status == ident.ConnDeleted {
		return httputil.Respond(c, fiber.StatusOK, "already deleted", newConnStat(conn))
	}

	if enqOK, respErr := h.enqueue(c, syncpipeline.NewDeleteConn(id)); !enqOK {
		return respErr
	}

	status := h.cache.DeleteConnection(id)
	if !status.IsUpdated() {
		h.log.Error().Str("status", status.String()).Str("conn_id", id.String()).Msg("delete raced with a concurrent mutation")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	h.publish(c, h.topicFor(conn.Proto), protocol.NewDelete(id))
	conn.Status = ident.ConnDeleted
	return httputil.Respond(c, fiber.StatusOK, "deleted", newConnStat(conn))
}

// ResetConnectionStat handles the reset_stat mutation endpoint (§4.4, §9 open question (c): repeated resets are
// treated as idempotent).
func (h *Handler) ResetConnectionStat(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "id must be a uuid")
	}

	conn, ok := h.cache.GetConnection(id)
	if !ok {
		return httputil.Fail(c, fiber.StatusNotFound, "connection not found")
	}

	if enqOK, respErr := h.enqueue(c, syncpipeline.NewUpdateConnStat(id, 0, 0, 0)); !enqOK {
		return respErr
	}

	reset := conn
	reset.Online, reset.Uplink, reset.Downlink = 0, 0, 0
	reset.ModifiedAt = time.Now()
	h.cache.AddConnection(reset, false)

	h.publish(c, h.topicFor(conn.Proto), protocol.NewResetStat(id))
	return httputil.Respond(c, fiber.StatusOK, "reset", newConnStat(reset))
}

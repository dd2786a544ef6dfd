package httpapi

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

type inboundSpecRequest struct {
	Tag            ident.Tag               `json:"tag"`
	Port           int                     `json:"port"`
	StreamSettings json.RawMessage         `json:"stream_settings,omitempty"`
	Wireguard      *wireguardParamsRequest `json:"wireguard,omitempty"`
}

type createNodeRequest struct {
	Env       string               `json:"env"`
	Hostname  string               `json:"hostname"`
	Interface string               `json:"interface"`
	Inbounds  []inboundSpecRequest `json:"inbounds"`
}

type nodeResponse struct {
	UUID            uuid.UUID        `json:"uuid"`
	Env             string           `json:"env"`
	Hostname        string           `json:"hostname"`
	Interface       string           `json:"interface"`
	Status          ident.NodeStatus `json:"status"`
	LastHeartbeatAt time.Time        `json:"last_heartbeat_at"`
}

func newNodeResponse(n cache.Node) nodeResponse {
	return nodeResponse{
		UUID: n.UUID, Env: n.Env, Hostname: n.Hostname, Interface: n.Interface,
		Status: n.Status, LastHeartbeatAt: n.LastHeartbeatAt,
	}
}

// CreateNode handles the node-create mutation endpoint. Nodes start Offline until their first heartbeat (§4.5's
// periodic heartbeat task is what flips them Online).
func (h *Handler) CreateNode(c fiber.Ctx) error {
	var req createNodeRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid json: "+err.Error())
	}
	if req.Env == "" || req.Hostname == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "env and hostname are required")
	}

	nodeID := ident.NewID()
	inbounds := make([]cache.InboundSpec, 0, len(req.Inbounds))
	for _, spec := range req.Inbounds {
		s := cache.InboundSpec{
			ID: ident.NewID(), NodeID: nodeID, Tag: spec.Tag, Port: spec.Port, StreamSettings: spec.StreamSettings,
		}
		if spec.Wireguard != nil {
			wg := cache.WireguardParams(*spec.Wireguard)
			s.WG = &wg
		}
		if !s.Valid() {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid inbound spec: port out of range or wireguard tag missing wg params")
		}
		inbounds = append(inbounds, s)
	}

	now := time.Now()
	n := cache.Node{
		UUID: nodeID, Env: req.Env, Hostname: req.Hostname, Interface: req.Interface,
		Status: ident.NodeOffline, Inbounds: inbounds, ModifiedAt: now,
	}

	if ok, respErr := h.enqueue(c, syncpipeline.NewInsertNode(n)); !ok {
		return respErr
	}

	status := h.cache.AddNode(n)
	if !status.IsOk() {
		h.log.Error().Str("status", status.String()).Str("node_id", n.UUID.String()).
			Msg("freshly generated node id was not accepted as new")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return httputil.Respond(c, fiber.StatusOK, "created", newNodeResponse(n))
}

type updateNodeStatusRequest struct {
	Status ident.NodeStatus `json:"status"`
}

// UpdateNodeStatus handles administrative status transitions (e.g. Draining for planned maintenance). Routine
// Online/Offline transitions come from the agent's own heartbeat task (§4.5), not this endpoint.
func (h *Handler) UpdateNodeStatus(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "id must be a uuid")
	}

	var req updateNodeStatusRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid json: "+err.Error())
	}

	n, ok := h.cache.GetNode(id)
	if !ok {
		return httputil.Fail(c, fiber.StatusNotFound, "node not found")
	}

	updated := n
	updated.Status = req.Status
	updated.ModifiedAt = time.Now()

	if enqOK, respErr := h.enqueue(c, syncpipeline.NewUpdateNodeStatus(updated)); !enqOK {
		return respErr
	}

	h.cache.AddNode(updated)
	return httputil.Respond(c, fiber.StatusOK, "updated", newNodeResponse(updated))
}

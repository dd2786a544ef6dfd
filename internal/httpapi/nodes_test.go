package httpapi

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

func newNodesApp(h *Handler) *fiber.App {
	app := fiber.New()
	app.Post("/nodes", h.CreateNode)
	app.Patch("/nodes/:id/status", h.UpdateNodeStatus)
	return app
}

func TestCreateNode(t *testing.T) {
	t.Parallel()

	h, c, q, _ := newTestHandler()
	app := newNodesApp(h)

	resp := doJSON(t, app, http.MethodPost, "/nodes", createNodeRequest{
		Env:       "staging",
		Hostname:  "edge-1",
		Interface: "wg0",
		Inbounds: []inboundSpecRequest{
			{Tag: ident.TagVlessXtls, Port: 443},
		},
	})
	var env httputil.ResponseMessage[nodeResponse]
	decode(t, resp, &env)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.Response.Status != ident.NodeOffline {
		t.Errorf("status = %v, want %v", env.Response.Status, ident.NodeOffline)
	}
	if _, ok := c.GetNode(env.Response.UUID); !ok {
		t.Error("node not present in cache after create")
	}
	kinds := q.taskKinds()
	if len(kinds) != 1 || kinds[0] != syncpipeline.InsertNode {
		t.Errorf("enqueued tasks = %v, want [InsertNode]", kinds)
	}
}

func TestCreateNode_MissingFields(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newNodesApp(h)

	resp := doJSON(t, app, http.MethodPost, "/nodes", createNodeRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateNode_InvalidInbound(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newNodesApp(h)

	resp := doJSON(t, app, http.MethodPost, "/nodes", createNodeRequest{
		Env: "staging", Hostname: "edge-1",
		Inbounds: []inboundSpecRequest{{Tag: ident.TagWireguard, Port: 51820}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for wireguard inbound missing params", resp.StatusCode)
	}
}

func TestUpdateNodeStatus(t *testing.T) {
	t.Parallel()

	h, c, q, _ := newTestHandler()
	app := newNodesApp(h)

	created := doJSON(t, app, http.MethodPost, "/nodes", createNodeRequest{
		Env: "staging", Hostname: "edge-1",
	})
	var createdEnv httputil.ResponseMessage[nodeResponse]
	decode(t, created, &createdEnv)
	id := createdEnv.Response.UUID

	resp := doJSON(t, app, http.MethodPatch, "/nodes/"+id.String()+"/status", updateNodeStatusRequest{
		Status: ident.NodeDraining,
	})
	var env httputil.ResponseMessage[nodeResponse]
	decode(t, resp, &env)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.Response.Status != ident.NodeDraining {
		t.Errorf("status = %v, want %v", env.Response.Status, ident.NodeDraining)
	}

	n, ok := c.GetNode(id)
	if !ok || n.Status != ident.NodeDraining {
		t.Errorf("cache not updated: %+v ok=%v", n, ok)
	}
	kinds := q.taskKinds()
	if len(kinds) != 2 || kinds[1] != syncpipeline.UpdateNodeStatus {
		t.Errorf("enqueued tasks = %v, want [InsertNode UpdateNodeStatus]", kinds)
	}
}

func TestUpdateNodeStatus_NotFound(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newNodesApp(h)

	resp := doJSON(t, app, http.MethodPatch, "/nodes/"+ident.NewID().String()+"/status", updateNodeStatusRequest{
		Status: ident.NodeDraining,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

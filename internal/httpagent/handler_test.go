package httpagent

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/ident"
)

func newTestApp(h *Handler) *fiber.App {
	app := fiber.New()
	app.Get("/healthcheck", h.Health)
	app.Get("/debug/state", h.DebugState)
	return app
}

func doGet(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("app.Test(): %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		t.Fatalf("decoding JSON: %v\nraw: %s", err, b)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := NewHandler(cache.New(), zerolog.Nop())
	app := newTestApp(h)

	resp := doGet(t, app, "/healthcheck")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDebugState_NoSelfNode(t *testing.T) {
	t.Parallel()

	h := NewHandler(cache.New(), zerolog.Nop())
	app := newTestApp(h)

	resp := doGet(t, app, "/debug/state")
	var env httputil.ResponseMessage[debugState]
	decode(t, resp, &env)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.Response.Node != nil {
		t.Errorf("node = %+v, want nil when self is unset", env.Response.Node)
	}
	if len(env.Response.Connections) != 0 {
		t.Errorf("connections = %v, want empty", env.Response.Connections)
	}
}

func TestDebugState_ReportsSelfAndOwnedConnections(t *testing.T) {
	t.Parallel()

	c := cache.New()
	nodeID := ident.NewID()
	c.SetSelf(nodeID)
	c.AddNode(cache.Node{UUID: nodeID, Env: "staging", Hostname: "edge-1", Status: ident.NodeOnline, LastHeartbeatAt: time.Now()})

	userID := uuid.New()
	conn := cache.Connection{
		ConnID: ident.NewID(), UserID: userID, Status: ident.ConnActive,
		Proto: cache.NewWireguardProto(nodeID, cache.WireguardParams{PublicKey: "pub", PrivateKey: "priv", AllowedIP: "10.0.0.2/32"}),
	}
	c.AddConnection(conn, false)

	// A connection on a different node should not show up in this agent's debug dump.
	otherNode := ident.NewID()
	other := cache.Connection{
		ConnID: ident.NewID(), UserID: userID, Status: ident.ConnActive,
		Proto: cache.NewWireguardProto(otherNode, cache.WireguardParams{PublicKey: "pub2", PrivateKey: "priv2", AllowedIP: "10.0.0.3/32"}),
	}
	c.AddConnection(other, false)

	h := NewHandler(c, zerolog.Nop())
	app := newTestApp(h)

	resp := doGet(t, app, "/debug/state")
	var env httputil.ResponseMessage[debugState]
	decode(t, resp, &env)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.Response.Node == nil || env.Response.Node.UUID != nodeID.String() {
		t.Fatalf("node = %+v, want uuid %s", env.Response.Node, nodeID)
	}
	if len(env.Response.Connections) != 1 {
		t.Fatalf("connections len = %d, want 1", len(env.Response.Connections))
	}
	if env.Response.Connections[0].ConnID != conn.ConnID.String() {
		t.Errorf("conn_id = %q, want %q", env.Response.Connections[0].ConnID, conn.ConnID.String())
	}
}

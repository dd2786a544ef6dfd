package httpapi

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

func newConnectionsApp(h *Handler) *fiber.App {
	app := fiber.New()
	app.Get("/user/stat", h.UserStat)
	app.Post("/connections", h.CreateConnection)
	app.Delete("/connections/:id", h.DeleteConnection)
	app.Post("/connections/:id/reset", h.ResetConnectionStat)
	return app
}

func TestCreateConnection_Wireguard(t *testing.T) {
	t.Parallel()

	h, c, q, p := newTestHandler()
	app := newConnectionsApp(h)

	nodeID := ident.NewID()
	userID := uuid.New()
	req := createConnectionRequest{
		UserID: userID,
		Proto: protoRequest{
			Kind:   ident.TagWireguard,
			NodeID: nodeID,
			Wireguard: &wireguardParamsRequest{
				PublicKey: "pub", PrivateKey: "priv", AllowedIP: "10.0.0.2/32",
			},
		},
		Limit: 3,
		Trial: true,
	}

	resp := doJSON(t, app, http.MethodPost, "/connections", req)
	var env httputil.ResponseMessage[connStat]
	decode(t, resp, &env)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200, message=%q", resp.StatusCode, env.Message)
	}
	if env.Response.ConnID == uuid.Nil {
		t.Error("conn_id was not assigned")
	}
	if env.Response.Tag != ident.TagWireguard {
		t.Errorf("tag = %v, want %v", env.Response.Tag, ident.TagWireguard)
	}
	if env.Response.Limit != 3 || !env.Response.Trial {
		t.Errorf("limit/trial = %d/%v, want 3/true", env.Response.Limit, env.Response.Trial)
	}

	if _, ok := c.GetConnection(env.Response.ConnID); !ok {
		t.Error("connection not present in cache after create")
	}
	kinds := q.taskKinds()
	if len(kinds) != 1 || kinds[0] != syncpipeline.InsertConn {
		t.Errorf("enqueued tasks = %v, want [InsertConn]", kinds)
	}
	if p.published != 1 {
		t.Errorf("published = %d, want 1", p.published)
	}
}

func TestCreateConnection_MissingUserID(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newConnectionsApp(h)

	resp := doJSON(t, app, http.MethodPost, "/connections", createConnectionRequest{
		Proto: protoRequest{Kind: ident.TagShadowsocks, Password: "s3cret"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateConnection_BadProtoKind(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newConnectionsApp(h)

	resp := doJSON(t, app, http.MethodPost, "/connections", createConnectionRequest{
		UserID: uuid.New(),
		Proto:  protoRequest{Kind: ident.Tag(99)},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateConnection_Backpressure(t *testing.T) {
	t.Parallel()

	h, c, q, _ := newTestHandler()
	q.enqueueErr = syncpipeline.ErrBackpressure
	app := newConnectionsApp(h)

	userID := uuid.New()
	resp := doJSON(t, app, http.MethodPost, "/connections", createConnectionRequest{
		UserID: userID,
		Proto:  protoRequest{Kind: ident.TagShadowsocks, Password: "s3cret"},
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if len(c.GetByUserID(userID)) != 0 {
		t.Error("cache was mutated despite backpressure")
	}
}

func TestDeleteConnection_IdempotentOnSecondCall(t *testing.T) {
	t.Parallel()

	h, _, q, p := newTestHandler()
	app := newConnectionsApp(h)

	created := doJSON(t, app, http.MethodPost, "/connections", createConnectionRequest{
		UserID: uuid.New(),
		Proto:  protoRequest{Kind: ident.TagShadowsocks, Password: "pw"},
	})
	var createdEnv httputil.ResponseMessage[connStat]
	decode(t, created, &createdEnv)
	id := createdEnv.Response.ConnID

	first := doJSON(t, app, http.MethodDelete, "/connections/"+id.String(), nil)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first delete status = %d, want 200", first.StatusCode)
	}
	first.Body.Close()

	tasksAfterFirst := len(q.taskKinds())
	publishedAfterFirst := p.published

	second := doJSON(t, app, http.MethodDelete, "/connections/"+id.String(), nil)
	var secondEnv httputil.ResponseMessage[connStat]
	decode(t, second, &secondEnv)
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second delete status = %d, want 200", second.StatusCode)
	}
	if secondEnv.Message != "already deleted" {
		t.Errorf("message = %q, want %q", secondEnv.Message, "already deleted")
	}
	if len(q.taskKinds()) != tasksAfterFirst {
		t.Errorf("second delete enqueued a new task: %d -> %d", tasksAfterFirst, len(q.taskKinds()))
	}
	if p.published != publishedAfterFirst {
		t.Errorf("second delete published again: %d -> %d", publishedAfterFirst, p.published)
	}
}

func TestDeleteConnection_NotFound(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newConnectionsApp(h)

	resp := doJSON(t, app, http.MethodDelete, "/connections/"+uuid.New().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResetConnectionStat(t *testing.T) {
	t.Parallel()

	h, c, _, _ := newTestHandler()
	app := newConnectionsApp(h)

	created := doJSON(t, app, http.MethodPost, "/connections", createConnectionRequest{
		UserID: uuid.New(),
		Proto:  protoRequest{Kind: ident.TagShadowsocks, Password: "pw"},
	})
	var createdEnv httputil.ResponseMessage[connStat]
	decode(t, created, &createdEnv)
	id := createdEnv.Response.ConnID

	conn, _ := c.GetConnection(id)
	conn.Uplink, conn.Downlink, conn.Online = 100, 200, 1
	c.AddConnection(conn, false)

	resp := doJSON(t, app, http.MethodPost, "/connections/"+id.String()+"/reset", nil)
	var env httputil.ResponseMessage[connStat]
	decode(t, resp, &env)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.Response.Uplink != 0 || env.Response.Downlink != 0 || env.Response.Online != 0 {
		t.Errorf("stat not reset: %+v", env.Response)
	}
}

func TestUserStat_NotFoundWhenNoConnections(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newConnectionsApp(h)

	resp := doJSON(t, app, http.MethodGet, "/user/stat?user_id="+uuid.New().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var env httputil.ResponseMessage[[]connStat]
	decode(t, resp, &env)
	if len(env.Response) != 0 {
		t.Errorf("response = %v, want empty", env.Response)
	}
}

func TestUserStat_ReturnsConnections(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newConnectionsApp(h)

	userID := uuid.New()
	created := doJSON(t, app, http.MethodPost, "/connections", createConnectionRequest{
		UserID: userID,
		Proto:  protoRequest{Kind: ident.TagShadowsocks, Password: "pw"},
	})
	created.Body.Close()

	resp := doJSON(t, app, http.MethodGet, "/user/stat?user_id="+userID.String(), nil)
	var env httputil.ResponseMessage[[]connStat]
	decode(t, resp, &env)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(env.Response) != 1 {
		t.Fatalf("response len = %d, want 1", len(env.Response))
	}
}

func TestUserStat_BadUserID(t *testing.T) {
	t.Parallel()

	h, _, _, _ := newTestHandler()
	app := newConnectionsApp(h)

	resp := doJSON(t, app, http.MethodGet, "/user/stat?user_id=not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

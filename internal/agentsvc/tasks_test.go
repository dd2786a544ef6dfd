package agentsvc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/bus"
	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
)

func newSelfNode(t *testing.T) (*cache.Cache, cache.Node) {
	t.Helper()
	c := cache.New()
	node := cache.Node{UUID: ident.NewID(), Env: "test", Hostname: "node-1", Status: ident.NodeOnline}
	c.SetSelf(node.UUID)
	c.AddNode(node)
	return c, node
}

func TestPeriodicTasks_StatsPull_WritesBackOnChange(t *testing.T) {
	t.Parallel()
	c, node := newSelfNode(t)
	conn := cache.Connection{
		ConnID: ident.NewID(),
		UserID: ident.NewID(),
		Proto:  cache.NewWireguardProto(node.UUID, cache.WireguardParams{PublicKey: "pub", AllowedIP: "10.0.0.2/32"}),
		Status: ident.ConnActive,
	}
	c.AddConnection(conn, true)

	admin := &fakeAdmin{}
	admin.statsOnline, admin.statsUplink, admin.statsDownlink = true, 100, 200

	tasks := &PeriodicTasks{cache: c, admins: Registry{cache.ProtoWireguard: admin}, log: zerolog.Nop()}
	tasks.statsPull(context.Background())

	got, ok := c.GetConnection(conn.ConnID)
	if !ok {
		t.Fatal("connection missing after statsPull")
	}
	if got.Uplink != 100 || got.Downlink != 200 || got.Online != 1 {
		t.Errorf("expected stats written back, got %+v", got)
	}
}

func TestPeriodicTasks_StatsPull_NoChangeNoWrite(t *testing.T) {
	t.Parallel()
	c, node := newSelfNode(t)
	modifiedAt := time.Now()
	conn := cache.Connection{
		ConnID:     ident.NewID(),
		UserID:     ident.NewID(),
		Proto:      cache.NewWireguardProto(node.UUID, cache.WireguardParams{PublicKey: "pub", AllowedIP: "10.0.0.2/32"}),
		Status:     ident.ConnActive,
		Online:     1,
		Uplink:     100,
		Downlink:   200,
		ModifiedAt: modifiedAt,
	}
	c.AddConnection(conn, true)

	admin := &fakeAdmin{}
	admin.statsOnline, admin.statsUplink, admin.statsDownlink = true, 100, 200

	tasks := &PeriodicTasks{cache: c, admins: Registry{cache.ProtoWireguard: admin}, log: zerolog.Nop()}
	tasks.statsPull(context.Background())

	got, _ := c.GetConnection(conn.ConnID)
	if !got.ModifiedAt.Equal(modifiedAt) {
		t.Errorf("expected no write when stats are unchanged, ModifiedAt moved from %v to %v", modifiedAt, got.ModifiedAt)
	}
}

func TestPeriodicTasks_Heartbeat_PublishesStatus(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pub := bus.NewPublisher(rdb, zerolog.Nop())

	sub := rdb.Subscribe(context.Background(), bus.EnvTopic("test"))
	defer sub.Close()
	msgs := sub.Channel()

	c, node := newSelfNode(t)
	tasks := &PeriodicTasks{cache: c, admins: Registry{}, publisher: pub, env: "test", log: zerolog.Nop()}
	tasks.heartbeat(context.Background())

	select {
	case msg := <-msgs:
		if msg.Payload == "" {
			t.Error("expected non-empty heartbeat payload")
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for heartbeat publish")
	}

	got, ok := c.SelfNode()
	if !ok || got.LastHeartbeatAt.IsZero() {
		t.Errorf("expected LastHeartbeatAt to be set, got %+v ok=%v", got, ok)
	}
}

func TestPeriodicTasks_ConnectionsDrift_RemovesTunnelOnlyEntry(t *testing.T) {
	t.Parallel()
	c, _ := newSelfNode(t)
	admin := &fakeAdmin{}
	admin.enumerated = []string{"stray-pubkey"}

	tasks := &PeriodicTasks{cache: c, admins: Registry{cache.ProtoWireguard: admin}, log: zerolog.Nop()}
	tasks.connectionsDrift(context.Background())

	if len(admin.removedByIdentity) != 1 || admin.removedByIdentity[0] != "stray-pubkey" {
		t.Errorf("expected stray-pubkey removed, got %v", admin.removedByIdentity)
	}
}

func TestPeriodicTasks_ConnectionsDrift_FansOutAcrossProtoKinds(t *testing.T) {
	t.Parallel()
	c, _ := newSelfNode(t)

	wgAdmin := &fakeAdmin{enumerated: []string{"stray-wg-pubkey"}}
	ssAdmin := &fakeAdmin{enumerated: []string{"stray-ss-identity"}}

	tasks := &PeriodicTasks{
		cache:  c,
		admins: Registry{cache.ProtoWireguard: wgAdmin, cache.ProtoShadowsocks: ssAdmin},
		log:    zerolog.Nop(),
	}
	tasks.connectionsDrift(context.Background())

	if len(wgAdmin.removedByIdentity) != 1 || wgAdmin.removedByIdentity[0] != "stray-wg-pubkey" {
		t.Errorf("expected wireguard stray entry removed, got %v", wgAdmin.removedByIdentity)
	}
	if len(ssAdmin.removedByIdentity) != 1 || ssAdmin.removedByIdentity[0] != "stray-ss-identity" {
		t.Errorf("expected shadowsocks stray entry removed, got %v", ssAdmin.removedByIdentity)
	}
}

func TestPeriodicTasks_ConnectionsDrift_RecreatesCacheOnlyEntry(t *testing.T) {
	t.Parallel()
	c, node := newSelfNode(t)
	conn := cache.Connection{
		ConnID: ident.NewID(),
		UserID: ident.NewID(),
		Proto:  cache.NewWireguardProto(node.UUID, cache.WireguardParams{PublicKey: "pub", AllowedIP: "10.0.0.2/32"}),
		Status: ident.ConnActive,
	}
	c.AddConnection(conn, true)

	admin := &fakeAdmin{}
	tasks := &PeriodicTasks{cache: c, admins: Registry{cache.ProtoWireguard: admin}, log: zerolog.Nop()}
	tasks.connectionsDrift(context.Background())

	if len(admin.adds) != 1 {
		t.Errorf("expected cache-only connection re-created, got %d AddUser calls", len(admin.adds))
	}
}

package store

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
)

func TestNodeSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	nodeID := ident.NewID()
	want := NodeSnapshot{
		Node: cache.Node{
			UUID: nodeID, Env: "staging", Hostname: "edge-1",
			Status: ident.NodeOnline, LastHeartbeatAt: time.Now().UTC().Truncate(time.Millisecond),
		},
		Connections: []cache.Connection{
			{
				ConnID: ident.NewID(), UserID: uuid.New(), Status: ident.ConnActive,
				Proto: cache.NewWireguardProto(nodeID, cache.WireguardParams{PublicKey: "pub", PrivateKey: "priv", AllowedIP: "10.0.0.2/32"}),
			},
		},
	}

	body, err := EncodeNodeSnapshot(want)
	if err != nil {
		t.Fatalf("EncodeNodeSnapshot: %v", err)
	}

	got, err := DecodeNodeSnapshot(body)
	if err != nil {
		t.Fatalf("DecodeNodeSnapshot: %v", err)
	}

	if got.Node.UUID != want.Node.UUID || got.Node.Hostname != want.Node.Hostname || got.Node.Status != want.Node.Status {
		t.Errorf("node = %+v, want %+v", got.Node, want.Node)
	}
	if len(got.Connections) != 1 || got.Connections[0].ConnID != want.Connections[0].ConnID {
		t.Errorf("connections = %+v, want %+v", got.Connections, want.Connections)
	}
}

func TestDecodeNodeSnapshot_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := DecodeNodeSnapshot([]byte("not json")); err == nil {
		t.Fatal("expected an error decoding malformed snapshot body")
	}
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
)

// NodeSnapshot is the full resynchronization payload sent to an agent on startup (§4.4's "init" topic flow): the
// node's own record plus every connection the agent needs to reconstruct locally before accepting deltas.
type NodeSnapshot struct {
	Node        cache.Node         `json:"node"`
	Connections []cache.Connection `json:"connections"`
}

// EncodeNodeSnapshot serializes a NodeSnapshot into the opaque body protocol.EncodeSnapshot frames. JSON rather
// than a binary codec: every field here is already the same Go type the HTTP surface marshals, a snapshot goes out
// once per node restart rather than on a hot path, and a frame dumped to disk during an incident stays readable.
func EncodeNodeSnapshot(s NodeSnapshot) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("store: encode node snapshot: %w", err)
	}
	return body, nil
}

// DecodeNodeSnapshot reverses EncodeNodeSnapshot.
func DecodeNodeSnapshot(body []byte) (NodeSnapshot, error) {
	var s NodeSnapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return NodeSnapshot{}, fmt.Errorf("store: decode node snapshot: %w", err)
	}
	return s, nil
}

// BuildNodeSnapshot assembles the resync payload for a node from the relational store: the node's own record, every
// wireguard connection targeting it (the only proto that carries node affinity, per cache.Proto), and every
// non-deleted shadowsocks/xray connection fleet-wide, since those protocols carry no node affinity and whichever
// agent runs that tunnel engine needs to know about all of them.
func BuildNodeSnapshot(ctx context.Context, nodes *NodeRepository, conns *ConnectionRepository, nodeID ident.ID) (NodeSnapshot, error) {
	node, err := nodes.GetByID(ctx, nodeID)
	if err != nil {
		return NodeSnapshot{}, fmt.Errorf("store: snapshot: get node: %w", err)
	}

	all, err := conns.ListAll(ctx)
	if err != nil {
		return NodeSnapshot{}, fmt.Errorf("store: snapshot: list connections: %w", err)
	}

	filtered := make([]cache.Connection, 0, len(all))
	for _, c := range all {
		if c.Status == ident.ConnDeleted {
			continue
		}
		if c.Proto.Kind == cache.ProtoWireguard && c.Proto.WireguardNodeID != nodeID {
			continue
		}
		filtered = append(filtered, c)
	}

	return NodeSnapshot{Node: node, Connections: filtered}, nil
}

// Package agentsvc is the agent process's reconciliation loop: it consumes bus deltas, calls the tunnel admin
// APIs, mutates the local cache, and runs the three periodic tasks from the component design for agent
// reconciliation (§4.5).
package agentsvc

import (
	"context"
	"fmt"

	"github.com/ponyfleet/ponyd/internal/cache"
)

// TunnelAdmin is the per-protocol adapter contract the reconciliation loop calls against. One TunnelAdmin instance
// is registered per cache.ProtoKind so the loop never branches on proto inside itself.
type TunnelAdmin interface {
	// AddUser provisions a connection at the tunnel engine. Returns nil both on fresh creation and when the
	// engine reports the user already exists (§4.5 step 2's "409-equivalent" rule).
	AddUser(ctx context.Context, conn cache.Connection) error
	// RemoveUser revokes a connection. Not-found at the tunnel engine is not an error.
	RemoveUser(ctx context.Context, conn cache.Connection) error
	// RemoveByIdentity revokes an identity the engine reports that the cache no longer has a record of at all
	// (connections_drift's tunnel-only case, where no cache.Connection exists to build a RemoveUser call from).
	RemoveByIdentity(ctx context.Context, identity string) error
	// ResetStat zeroes counters at the tunnel engine if the backend supports it; a backend with no counter-reset
	// primitive may treat this as a no-op.
	ResetStat(ctx context.Context, conn cache.Connection) error
	// Stats returns current online/uplink/downlink for a connection, used by stats_pull.
	Stats(ctx context.Context, conn cache.Connection) (online bool, uplink, downlink int64, err error)
	// Enumerate lists every identity currently known to the tunnel engine, used by connections_drift.
	Enumerate(ctx context.Context) ([]string, error)
}

// Registry dispatches to the TunnelAdmin registered for a connection's proto kind.
type Registry map[cache.ProtoKind]TunnelAdmin

func (r Registry) For(kind cache.ProtoKind) (TunnelAdmin, error) {
	admin, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("agentsvc: no tunnel admin registered for proto kind %v", kind)
	}
	return admin, nil
}

// peerIdentity returns the stable identifier a tunnel backend tracks a connection under: the wireguard public key
// for wireguard connections, the conn id string otherwise (Xray's per-user "email" tag, Shadowsocks password
// lookup key equivalents left to that backend's own Registry entry).
func peerIdentity(conn cache.Connection) string {
	if conn.Proto.Kind == cache.ProtoWireguard {
		return conn.Proto.WireguardParams.PublicKey
	}
	return conn.ConnID.String()
}

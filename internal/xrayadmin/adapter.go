package xrayadmin

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ponyfleet/ponyd/internal/cache"
)

// Adapter binds a Client to the set of inbound tags one Xray instance serves, satisfying agentsvc.TunnelAdmin for
// xray-proto connections. A node can run several Xray inbounds (vless_xtls, vless_grpc, vmess) behind the same
// gRPC admin API, so RemoveByIdentity tries each tag in turn since the bare identity string alone doesn't carry
// which inbound a peer was added to.
type Adapter struct {
	client *Client
	tags   []string
}

func NewAdapter(client *Client, tags ...string) *Adapter {
	return &Adapter{client: client, tags: tags}
}

func (a *Adapter) AddUser(ctx context.Context, conn cache.Connection) error {
	return a.client.AddUser(ctx, string(conn.Proto.XrayTag), conn.ConnID, conn.ConnID.String())
}

func (a *Adapter) RemoveUser(ctx context.Context, conn cache.Connection) error {
	return a.client.RemoveUser(ctx, string(conn.Proto.XrayTag), conn.ConnID)
}

func (a *Adapter) RemoveByIdentity(ctx context.Context, identity string) error {
	connID, err := uuid.Parse(identity)
	if err != nil {
		return fmt.Errorf("xrayadmin: parse identity %q: %w", identity, err)
	}
	var lastErr error
	for _, tag := range a.tags {
		if err := a.client.RemoveUser(ctx, tag, connID); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// ResetStat zeroes a user's counters via GetUserStats' reset flag; Xray has no standalone reset RPC.
func (a *Adapter) ResetStat(ctx context.Context, conn cache.Connection) error {
	_, err := a.client.GetUserStats(ctx, conn.ConnID, true)
	return err
}

func (a *Adapter) Stats(ctx context.Context, conn cache.Connection) (online bool, uplink, downlink int64, err error) {
	stats, err := a.client.GetUserStats(ctx, conn.ConnID, false)
	if err != nil {
		return false, 0, 0, err
	}
	online = stats.Uplink > 0 || stats.Downlink > 0
	return online, stats.Uplink, stats.Downlink, nil
}

func (a *Adapter) Enumerate(ctx context.Context) ([]string, error) {
	return a.client.ListUsers(ctx)
}

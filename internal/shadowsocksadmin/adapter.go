package shadowsocksadmin

import (
	"context"

	"github.com/ponyfleet/ponyd/internal/cache"
)

// Adapter satisfies agentsvc.TunnelAdmin for shadowsocks-proto connections. Identity is the connection id itself
// (peerIdentity falls through to ConnID.String() for every non-wireguard kind), carried as the admin endpoint's
// user identity rather than the raw password so a password rotation doesn't change what connections_drift compares.
type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) AddUser(ctx context.Context, conn cache.Connection) error {
	return a.client.AddUser(ctx, conn.ConnID.String(), conn.Proto.ShadowsocksPassword)
}

func (a *Adapter) RemoveUser(ctx context.Context, conn cache.Connection) error {
	return a.client.RemoveUser(ctx, conn.ConnID.String())
}

func (a *Adapter) RemoveByIdentity(ctx context.Context, identity string) error {
	return a.client.RemoveUser(ctx, identity)
}

func (a *Adapter) ResetStat(ctx context.Context, conn cache.Connection) error {
	return a.client.ResetStat(ctx, conn.ConnID.String())
}

func (a *Adapter) Stats(ctx context.Context, conn cache.Connection) (online bool, uplink, downlink int64, err error) {
	return a.client.Stats(ctx, conn.ConnID.String())
}

func (a *Adapter) Enumerate(ctx context.Context) ([]string, error) {
	return a.client.ListUsers(ctx)
}

// Package wireguardadmin wraps golang.zx2c4.com/wireguard/wgctrl with the AddPeer/RemovePeer/PeerStats
// tunnel-admin contract the agent reconciliation loop calls against for wireguard-proto connections.
package wireguardadmin

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/ponyfleet/ponyd/internal/cache"
)

// PeerStats mirrors the online/uplink/downlink shape the reconciliation loop needs from every tunnel admin backend.
type PeerStats struct {
	Online   bool
	Uplink   int64
	Downlink int64
	LastSeen time.Time
}

// Client administers peers on a single named WireGuard interface.
type Client struct {
	wg        *wgctrl.Client
	ifaceName string
}

func New(ifaceName string) (*Client, error) {
	wg, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("wireguardadmin: open wgctrl: %w", err)
	}
	return &Client{wg: wg, ifaceName: ifaceName}, nil
}

func (c *Client) Close() error {
	return c.wg.Close()
}

// AddPeer adds or replaces a peer identified by its public key, restricted to the single allowed IP the control
// plane assigned it (§3 Connection.proto for wireguard connections carries exactly one AllowedIP per peer).
func (c *Client) AddPeer(publicKey, allowedIP string) error {
	pub, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("wireguardadmin: parse public key: %w", err)
	}
	_, ipNet, err := net.ParseCIDR(allowedIP)
	if err != nil {
		return fmt.Errorf("wireguardadmin: parse allowed ip %q: %w", allowedIP, err)
	}

	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{
			{
				PublicKey:         pub,
				UpdateOnly:        false,
				ReplaceAllowedIPs: true,
				AllowedIPs:        []net.IPNet{*ipNet},
			},
		},
	}
	if err := c.wg.ConfigureDevice(c.ifaceName, cfg); err != nil {
		return fmt.Errorf("wireguardadmin: configure device %s: %w", c.ifaceName, err)
	}
	return nil
}

// RemovePeer deletes a peer by public key. Idempotent: removing an absent peer is not an error (mirrors §4.5's
// idempotent-under-reordering requirement for delete actions).
func (c *Client) RemovePeer(publicKey string) error {
	pub, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("wireguardadmin: parse public key: %w", err)
	}
	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{
			{PublicKey: pub, Remove: true},
		},
	}
	if err := c.wg.ConfigureDevice(c.ifaceName, cfg); err != nil {
		return fmt.Errorf("wireguardadmin: configure device %s: %w", c.ifaceName, err)
	}
	return nil
}

// PeerStats returns the current transfer counters for one peer, or ok=false if the peer is not currently
// configured on the interface.
func (c *Client) PeerStats(publicKey string) (stats PeerStats, ok bool, err error) {
	dev, err := c.wg.Device(c.ifaceName)
	if err != nil {
		return PeerStats{}, false, fmt.Errorf("wireguardadmin: read device %s: %w", c.ifaceName, err)
	}
	for _, p := range dev.Peers {
		if p.PublicKey.String() != publicKey {
			continue
		}
		online := !p.LastHandshakeTime.IsZero() && time.Since(p.LastHandshakeTime) < 3*time.Minute
		return PeerStats{
			Online:   online,
			Uplink:   p.TransmitBytes,
			Downlink: p.ReceiveBytes,
			LastSeen: p.LastHandshakeTime,
		}, true, nil
	}
	return PeerStats{}, false, nil
}

// AllPeerPublicKeys lists every peer currently configured on the interface, used by the connections_drift task to
// detect peers the control plane no longer knows about (§4.5).
func (c *Client) AllPeerPublicKeys() ([]string, error) {
	dev, err := c.wg.Device(c.ifaceName)
	if err != nil {
		return nil, fmt.Errorf("wireguardadmin: read device %s: %w", c.ifaceName, err)
	}
	keys := make([]string, len(dev.Peers))
	for i, p := range dev.Peers {
		keys[i] = p.PublicKey.String()
	}
	return keys, nil
}

// AddUser, RemoveUser, RemoveByIdentity, ResetStat, Stats and Enumerate satisfy agentsvc.TunnelAdmin, translating
// between a cache.Connection and this client's public-key-keyed API. wgctrl's Netlink calls take no context, so ctx
// here is accepted only to match the interface shape and is otherwise unused.

func (c *Client) AddUser(_ context.Context, conn cache.Connection) error {
	return c.AddPeer(conn.Proto.WireguardParams.PublicKey, conn.Proto.WireguardParams.AllowedIP)
}

func (c *Client) RemoveUser(_ context.Context, conn cache.Connection) error {
	return c.RemovePeer(conn.Proto.WireguardParams.PublicKey)
}

func (c *Client) RemoveByIdentity(_ context.Context, identity string) error {
	return c.RemovePeer(identity)
}

// ResetStat is a no-op: wgctrl exposes no per-peer counter reset primitive.
func (c *Client) ResetStat(_ context.Context, _ cache.Connection) error {
	return nil
}

func (c *Client) Stats(_ context.Context, conn cache.Connection) (online bool, uplink, downlink int64, err error) {
	stats, ok, err := c.PeerStats(conn.Proto.WireguardParams.PublicKey)
	if err != nil {
		return false, 0, 0, err
	}
	if !ok {
		return false, 0, 0, nil
	}
	return stats.Online, stats.Uplink, stats.Downlink, nil
}

func (c *Client) Enumerate(_ context.Context) ([]string, error) {
	return c.AllPeerPublicKeys()
}

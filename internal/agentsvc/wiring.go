package agentsvc

import (
	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/shadowsocksadmin"
	"github.com/ponyfleet/ponyd/internal/wireguardadmin"
	"github.com/ponyfleet/ponyd/internal/xrayadmin"
)

// Compile-time checks that the three concrete tunnel engine clients satisfy TunnelAdmin.
var (
	_ TunnelAdmin = (*wireguardadmin.Client)(nil)
	_ TunnelAdmin = (*xrayadmin.Adapter)(nil)
	_ TunnelAdmin = (*shadowsocksadmin.Adapter)(nil)
)

// NewRegistry builds the per-protocol TunnelAdmin registry the reconciliation loop and periodic tasks dispatch
// against. Any of the three clients may be nil when this node doesn't run that protocol (a node typically runs
// wireguard plus one of shadowsocks/xray, not all three).
func NewRegistry(wg *wireguardadmin.Client, ss *shadowsocksadmin.Adapter, xray *xrayadmin.Adapter) Registry {
	r := make(Registry, 3)
	if wg != nil {
		r[cache.ProtoWireguard] = wg
	}
	if ss != nil {
		r[cache.ProtoShadowsocks] = ss
	}
	if xray != nil {
		r[cache.ProtoXray] = xray
	}
	return r
}

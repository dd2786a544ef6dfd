package cache

import (
	"encoding/json"
	"time"

	"github.com/ponyfleet/ponyd/internal/ident"
)

// WireguardParams holds the keypair and allocation needed to add a WireGuard peer.
type WireguardParams struct {
	PublicKey  string
	PrivateKey string
	AllowedIP  string
}

// ProtoKind discriminates which variant of Proto is populated.
type ProtoKind int

const (
	ProtoWireguard ProtoKind = iota
	ProtoShadowsocks
	ProtoXray
)

// Proto is the tagged union of tunnel transport configurations a Connection can carry. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type Proto struct {
	Kind ProtoKind

	// ProtoWireguard
	WireguardNodeID ident.ID
	WireguardParams WireguardParams

	// ProtoShadowsocks
	ShadowsocksPassword string

	// ProtoXray
	XrayTag ident.Tag
}

func NewWireguardProto(nodeID ident.ID, params WireguardParams) Proto {
	return Proto{Kind: ProtoWireguard, WireguardNodeID: nodeID, WireguardParams: params}
}

func NewShadowsocksProto(password string) Proto {
	return Proto{Kind: ProtoShadowsocks, ShadowsocksPassword: password}
}

func NewXrayProto(tag ident.Tag) Proto {
	return Proto{Kind: ProtoXray, XrayTag: tag}
}

// Equal reports whether two Proto values describe the same tunnel configuration.
func (p Proto) Equal(o Proto) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case ProtoWireguard:
		return p.WireguardNodeID == o.WireguardNodeID && p.WireguardParams == o.WireguardParams
	case ProtoShadowsocks:
		return p.ShadowsocksPassword == o.ShadowsocksPassword
	case ProtoXray:
		return p.XrayTag == o.XrayTag
	default:
		return false
	}
}

// InboundSpec is one listening-port configuration for a tunnel protocol on a node.
type InboundSpec struct {
	ID             ident.ID
	NodeID         ident.ID
	Tag            ident.Tag
	Port           int
	StreamSettings json.RawMessage
	WG             *WireguardParams
	Uplink         int64
	Downlink       int64
	ConnCount      int
}

// Valid enforces the invariant (tag=Wireguard) ⇒ wg.is_some() and the port range.
func (s InboundSpec) Valid() bool {
	if s.Port < 1 || s.Port > 65535 {
		return false
	}
	if s.Tag == ident.TagWireguard && s.WG == nil {
		return false
	}
	return true
}

// Node represents one edge host.
type Node struct {
	UUID            ident.ID
	Env             string
	Hostname        string
	Interface       string
	Status          ident.NodeStatus
	Inbounds        []InboundSpec
	LastHeartbeatAt time.Time
	ModifiedAt      time.Time
}

// Equal reports whether two nodes are byte-equal for the purposes of §4.1's AlreadyExist rule, ignoring ModifiedAt.
func (n Node) Equal(o Node) bool {
	if n.UUID != o.UUID || n.Env != o.Env || n.Hostname != o.Hostname ||
		n.Interface != o.Interface || n.Status != o.Status || !n.LastHeartbeatAt.Equal(o.LastHeartbeatAt) {
		return false
	}
	if len(n.Inbounds) != len(o.Inbounds) {
		return false
	}
	for i := range n.Inbounds {
		if n.Inbounds[i] != o.Inbounds[i] {
			return false
		}
	}
	return true
}

// DiffersOnlyInStats reports whether n and o differ only in fields the stats-pull loop touches (§4.1's UpdatedStat
// rule, extended to a node's aggregate inbound counters).
func (n Node) DiffersOnlyInStats(o Node) bool {
	stripped := o
	stripped.Inbounds = n.Inbounds
	return n.Equal(stripped)
}

// Connection is the unit of user↔node tunnel authorization.
type Connection struct {
	ConnID     ident.ID
	UserID     ident.ID
	Proto      Proto
	Status     ident.ConnectionStatus
	Limit      int64
	Trial      bool
	Online     int64
	Uplink     int64
	Downlink   int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Equal reports byte-equality ignoring ModifiedAt, for the §4.1 AlreadyExist rule.
func (c Connection) Equal(o Connection) bool {
	return c.ConnID == o.ConnID && c.UserID == o.UserID && c.Proto.Equal(o.Proto) &&
		c.Status == o.Status && c.Limit == o.Limit && c.Trial == o.Trial &&
		c.Online == o.Online && c.Uplink == o.Uplink && c.Downlink == o.Downlink &&
		c.CreatedAt.Equal(o.CreatedAt)
}

// DiffersOnlyInStats reports whether c and o differ only in (uplink, downlink, online), per §4.1's UpdatedStat rule.
func (c Connection) DiffersOnlyInStats(o Connection) bool {
	stripped := o
	stripped.Online, stripped.Uplink, stripped.Downlink = c.Online, c.Uplink, c.Downlink
	return c.Equal(stripped)
}

func (c Connection) isTombstoned() bool { return c.Status == ident.ConnDeleted }

// User is a soft-deletable account referenced by username.
type User struct {
	UserID     ident.ID
	Username   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	IsDeleted  bool
}

func (u User) Equal(o User) bool {
	return u.UserID == o.UserID && u.Username == o.Username && u.IsDeleted == o.IsDeleted &&
		u.CreatedAt.Equal(o.CreatedAt)
}

// DiffersOnlyInStats is always false: a user carries no stat fields.
func (u User) DiffersOnlyInStats(User) bool { return false }

func (u User) isTombstoned() bool { return u.IsDeleted }

// Subscription links a user to an expiry and an optional referral.
type Subscription struct {
	ID            ident.ID
	ExpiresAt     *time.Time
	ReferredBy    *ident.ID
	ReferralCode  string
	IsDeleted     bool
	ModifiedAt    time.Time
}

func (s Subscription) Equal(o Subscription) bool {
	if s.ID != o.ID || s.ReferralCode != o.ReferralCode || s.IsDeleted != o.IsDeleted {
		return false
	}
	if (s.ExpiresAt == nil) != (o.ExpiresAt == nil) {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.Equal(*o.ExpiresAt) {
		return false
	}
	if (s.ReferredBy == nil) != (o.ReferredBy == nil) {
		return false
	}
	if s.ReferredBy != nil && *s.ReferredBy != *o.ReferredBy {
		return false
	}
	return true
}

// DiffersOnlyInStats is always false: a subscription carries no stat fields.
func (s Subscription) DiffersOnlyInStats(Subscription) bool { return false }

func (s Subscription) isTombstoned() bool { return s.IsDeleted }

// Package ident defines the identifier and tag types shared by every other package: entity UUIDs and the closed
// protocol-tag set that discriminates tunnel transport kind.
package ident

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit entity identifier.
type ID = uuid.UUID

// NewID generates a fresh random entity identifier.
func NewID() ID {
	return uuid.New()
}

// Tag is the closed set of tunnel protocol discriminators. It is stored as the Postgres enum "proto".
type Tag string

const (
	TagVlessXtls    Tag = "vless_xtls"
	TagVlessGrpc    Tag = "vless_grpc"
	TagVmess        Tag = "vmess"
	TagShadowsocks  Tag = "shadowsocks"
	TagWireguard    Tag = "wireguard"
)

// Valid reports whether t is one of the recognized protocol tags.
func (t Tag) Valid() bool {
	switch t {
	case TagVlessXtls, TagVlessGrpc, TagVmess, TagShadowsocks, TagWireguard:
		return true
	default:
		return false
	}
}

// Value implements driver.Valuer so a Tag can be written directly as a Postgres enum value.
func (t Tag) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("ident: invalid proto tag %q", string(t))
	}
	return string(t), nil
}

// Scan implements sql.Scanner so a Tag can be read back from a Postgres enum column.
func (t *Tag) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*t = Tag(v)
	case []byte:
		*t = Tag(v)
	default:
		return fmt.Errorf("ident: cannot scan %T into Tag", src)
	}
	if !t.Valid() {
		return fmt.Errorf("ident: invalid proto tag %q", string(*t))
	}
	return nil
}

// NodeStatus is the lifecycle state of an edge node.
type NodeStatus string

const (
	NodeOnline   NodeStatus = "online"
	NodeOffline  NodeStatus = "offline"
	NodeDraining NodeStatus = "draining"
)

// ConnectionStatus is the lifecycle state of a user↔node tunnel authorization.
type ConnectionStatus string

const (
	ConnActive    ConnectionStatus = "active"
	ConnExpired   ConnectionStatus = "expired"
	ConnSuspended ConnectionStatus = "suspended"
	ConnDeleted   ConnectionStatus = "deleted"
)

// Action is a control-message verb delivered over the bus.
type Action string

const (
	ActionCreate    Action = "create"
	ActionDelete    Action = "delete"
	ActionResetStat Action = "reset_stat"
)

// Valid reports whether a is one of the recognized control actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionDelete, ActionResetStat:
		return true
	default:
		return false
	}
}

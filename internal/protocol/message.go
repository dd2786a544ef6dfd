// Package protocol defines the wire types exchanged on the pub/sub bus (§4.4): the JSON control message and the
// binary snapshot envelope used for agent startup resync.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
)

// Message is the control-plane delta published to a node or environment topic. Connection carries the full
// connection record on create only: an agent that has never seen this ConnID (the steady-state case, after the
// one-time startup snapshot) has no other way to learn the proto kind, limits, or wireguard/xray parameters it
// needs to provision the tunnel (§4.5 step 2).
type Message struct {
	ConnID     ident.ID          `json:"conn_id"`
	Action     ident.Action      `json:"action"`
	Password   *string           `json:"password,omitempty"`
	Connection *cache.Connection `json:"connection,omitempty"`
}

// NewCreate builds a create message carrying the full connection so an agent that has never seen this ConnID can
// still provision it, optionally carrying a Shadowsocks password.
func NewCreate(conn cache.Connection, password *string) Message {
	return Message{ConnID: conn.ConnID, Action: ident.ActionCreate, Password: password, Connection: &conn}
}

// NewDelete builds a delete message.
func NewDelete(connID ident.ID) Message {
	return Message{ConnID: connID, Action: ident.ActionDelete}
}

// NewResetStat builds a reset_stat message.
func NewResetStat(connID ident.ID) Message {
	return Message{ConnID: connID, Action: ident.ActionResetStat}
}

// Marshal encodes the message as the UTF-8 JSON payload §4.4 specifies.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage decodes a control message payload, rejecting an unrecognized action so a malformed frame is
// dropped rather than silently misinterpreted (§4.3: "malformed payloads are logged and discarded").
func UnmarshalMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: unmarshal message: %w", err)
	}
	if !m.Action.Valid() {
		return Message{}, fmt.Errorf("protocol: unrecognized action %q", m.Action)
	}
	return m, nil
}

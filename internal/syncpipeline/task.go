// Package syncpipeline is the API process's write path from the in-memory cache to Postgres: an HTTP handler
// enqueues a SyncTask first, then updates the cache, so the database write happens off the request's critical path.
package syncpipeline

import (
	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
)

// Kind discriminates the SyncTask variants listed in the component design for the API sync pipeline.
type Kind int

const (
	InsertUser Kind = iota
	UpdateUser
	DeleteUser
	InsertConn
	UpdateConn
	DeleteConn
	InsertNode
	UpdateNodeStatus
	UpdateConnStat
	UpdateConnStatus
)

func (k Kind) String() string {
	switch k {
	case InsertUser:
		return "insert_user"
	case UpdateUser:
		return "update_user"
	case DeleteUser:
		return "delete_user"
	case InsertConn:
		return "insert_conn"
	case UpdateConn:
		return "update_conn"
	case DeleteConn:
		return "delete_conn"
	case InsertNode:
		return "insert_node"
	case UpdateNodeStatus:
		return "update_node_status"
	case UpdateConnStat:
		return "update_conn_stat"
	case UpdateConnStatus:
		return "update_conn_status"
	default:
		return "unknown"
	}
}

// Task is the unit of work the worker drains from its channel. Only the field matching Kind is populated; the rest
// are zero values. A struct-of-optionals rather than separate typed structs keeps the channel element type
// concrete and keeps Kind and payload from drifting apart.
type Task struct {
	Kind Kind

	User       cache.User
	Connection cache.Connection
	Node       cache.Node

	// ConnID/UserID/NodeID are set for tasks that act on an id rather than a full snapshot (Delete*, UpdateConnStat,
	// UpdateConnStatus).
	ConnID ident.ID
	UserID ident.ID
	NodeID ident.ID

	Status ident.ConnectionStatus

	Online, Uplink, Downlink int64
}

func NewInsertUser(u cache.User) Task       { return Task{Kind: InsertUser, User: u} }
func NewUpdateUser(u cache.User) Task       { return Task{Kind: UpdateUser, User: u} }
func NewDeleteUser(id ident.ID) Task        { return Task{Kind: DeleteUser, UserID: id} }
func NewInsertConn(c cache.Connection) Task { return Task{Kind: InsertConn, Connection: c} }
func NewUpdateConn(c cache.Connection) Task { return Task{Kind: UpdateConn, Connection: c} }
func NewDeleteConn(id ident.ID) Task        { return Task{Kind: DeleteConn, ConnID: id} }
func NewInsertNode(n cache.Node) Task       { return Task{Kind: InsertNode, Node: n} }
func NewUpdateNodeStatus(n cache.Node) Task { return Task{Kind: UpdateNodeStatus, Node: n} }

func NewUpdateConnStat(id ident.ID, online, uplink, downlink int64) Task {
	return Task{Kind: UpdateConnStat, ConnID: id, Online: online, Uplink: uplink, Downlink: downlink}
}

func NewUpdateConnStatus(id ident.ID, status ident.ConnectionStatus) Task {
	return Task{Kind: UpdateConnStatus, ConnID: id, Status: status}
}

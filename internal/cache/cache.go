// Package cache implements the in-memory aggregate (§4.2) and the storage-operation state machine (§4.1) shared by
// both the API and agent processes. The cache is a single concrete type guarded by one sync.RWMutex: reads proceed
// concurrently and any write excludes all readers. Go's RWMutex favors waiting writers over new readers, so the lock
// is writer-preferring, not reader-preferring: once a writer is waiting, new readers block until it has run.
package cache

import (
	"sort"
	"sync"

	"github.com/ponyfleet/ponyd/internal/ident"
)

// mergeable is satisfied by every tombstone-capable entity stored in the cache, letting add() share one decision
// procedure across Connection, User, and Subscription (§4.1).
type mergeable[T any] interface {
	Equal(T) bool
	DiffersOnlyInStats(T) bool
	isTombstoned() bool
}

// decide implements the §4.1 add(new) decision rules for any tombstone-capable entity.
func decide[T mergeable[T]](id ident.ID, existing T, hasExisting bool, incoming T, forceRestore bool) (T, OperationStatus) {
	if !hasExisting {
		return incoming, Ok(id)
	}
	if existing.Equal(incoming) {
		return existing, AlreadyExist(id)
	}
	if existing.isTombstoned() && !incoming.isTombstoned() {
		if !forceRestore {
			return existing, DeletedPreviously(id)
		}
		return incoming, Updated(id)
	}
	if existing.DiffersOnlyInStats(incoming) {
		return incoming, UpdatedStat(id)
	}
	return incoming, Updated(id)
}

// Cache is the single in-memory aggregate of fleet state shared by readers and mutated under a single writer at a
// time. It is safe for concurrent use.
type Cache struct {
	mu sync.RWMutex

	self ident.ID // this process's own node, set only in the agent

	nodes map[ident.ID]Node

	connectionsByID   map[ident.ID]Connection
	connectionsByUser map[ident.ID]map[ident.ID]struct{}

	users         map[ident.ID]User
	subscriptions map[ident.ID]Subscription
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		nodes:             make(map[ident.ID]Node),
		connectionsByID:   make(map[ident.ID]Connection),
		connectionsByUser: make(map[ident.ID]map[ident.ID]struct{}),
		users:             make(map[ident.ID]User),
		subscriptions:     make(map[ident.ID]Subscription),
	}
}

// SetSelf records which node UUID this process (an agent) represents.
func (c *Cache) SetSelf(id ident.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = id
}

// SelfNode returns the node this agent process represents, if known.
func (c *Cache) SelfNode() (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[c.self]
	return n, ok
}

// GetNode returns the node with the given id.
func (c *Cache) GetNode(id ident.ID) (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[id]
	return n, ok
}

// AllNodes returns every cached node.
func (c *Cache) AllNodes() []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID.String() < out[j].UUID.String() })
	return out
}

// AddNode applies the incoming node per §4.1. Nodes have no tombstone concept in this model (draining/offline are
// ordinary status values), so AddNode uses the Ok/AlreadyExist/UpdatedStat/Updated branch of the decision rules
// without the force-restore path.
func (c *Cache) AddNode(n Node) OperationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.nodes[n.UUID]
	if ok && existing.ModifiedAt.After(n.ModifiedAt) {
		return NotModified(n.UUID)
	}
	if ok && existing.ModifiedAt.Equal(n.ModifiedAt) && !existing.ModifiedAt.IsZero() {
		return NotModified(n.UUID)
	}

	var status OperationStatus
	switch {
	case !ok:
		status = Ok(n.UUID)
	case existing.Equal(n):
		status = AlreadyExist(n.UUID)
	case existing.DiffersOnlyInStats(n):
		status = UpdatedStat(n.UUID)
	default:
		status = Updated(n.UUID)
	}
	c.nodes[n.UUID] = n
	return status
}

// GetConnection returns the connection with the given id.
func (c *Cache) GetConnection(id ident.ID) (Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connectionsByID[id]
	return conn, ok
}

// GetByUserID returns every non-deleted connection belonging to u, ordered by ConnID for determinism.
func (c *Cache) GetByUserID(u ident.ID) []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.connectionsByUser[u]
	out := make([]Connection, 0, len(ids))
	for id := range ids {
		out = append(out, c.connectionsByID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID.String() < out[j].ConnID.String() })
	return out
}

// AllConnectionsOnNode returns every connection whose proto targets the given node (Wireguard connections only carry
// a node reference in this model).
func (c *Cache) AllConnectionsOnNode(node ident.ID) []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Connection
	for _, conn := range c.connectionsByID {
		if conn.Proto.Kind == ProtoWireguard && conn.Proto.WireguardNodeID == node {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID.String() < out[j].ConnID.String() })
	return out
}

// AddConnection applies the timestamp tie-break (§4.1) then the add(new) decision rules, keeping the
// connections_by_user secondary index consistent with the primary map in the same critical section (§8 property 3).
func (c *Cache) AddConnection(conn Connection, forceRestore bool) OperationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, hasExisting := c.connectionsByID[conn.ConnID]
	if hasExisting && !existing.ModifiedAt.IsZero() && !conn.ModifiedAt.IsZero() {
		if existing.ModifiedAt.After(conn.ModifiedAt) {
			return NotModified(conn.ConnID)
		}
		if existing.ModifiedAt.Equal(conn.ModifiedAt) {
			return NotModified(conn.ConnID)
		}
	}

	next, status := decide(conn.ConnID, existing, hasExisting, conn, forceRestore)
	if status.IsDeletedPreviously() {
		return status
	}

	c.removeFromUserIndex(existing.UserID, conn.ConnID)
	c.connectionsByID[conn.ConnID] = next
	if next.Status != ident.ConnDeleted {
		c.addToUserIndex(next.UserID, next.ConnID)
	}
	return status
}

// DeleteConnection marks a connection deleted (tombstone), removing it from the user secondary index.
func (c *Cache) DeleteConnection(id ident.ID) OperationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.connectionsByID[id]
	if !ok {
		return NotFound(id)
	}
	if existing.Status == ident.ConnDeleted {
		return NotModified(id)
	}
	existing.Status = ident.ConnDeleted
	c.connectionsByID[id] = existing
	c.removeFromUserIndex(existing.UserID, id)
	return Updated(id)
}

func (c *Cache) addToUserIndex(user, conn ident.ID) {
	set, ok := c.connectionsByUser[user]
	if !ok {
		set = make(map[ident.ID]struct{})
		c.connectionsByUser[user] = set
	}
	set[conn] = struct{}{}
}

func (c *Cache) removeFromUserIndex(user, conn ident.ID) {
	if set, ok := c.connectionsByUser[user]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(c.connectionsByUser, user)
		}
	}
}

// GetUser returns the user with the given id.
func (c *Cache) GetUser(id ident.ID) (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// AddUser applies the §4.1 decision rules to a user record.
func (c *Cache) AddUser(u User, forceRestore bool) OperationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.users[u.UserID]
	if ok && !existing.ModifiedAt.IsZero() && !u.ModifiedAt.IsZero() {
		if existing.ModifiedAt.After(u.ModifiedAt) || existing.ModifiedAt.Equal(u.ModifiedAt) {
			return NotModified(u.UserID)
		}
	}
	next, status := decide(u.UserID, existing, ok, u, forceRestore)
	if status.IsDeletedPreviously() {
		return status
	}
	c.users[u.UserID] = next
	return status
}

// FindSubscriptionByReferralCode scans subscriptions for a matching, non-deleted referral code.
func (c *Cache) FindSubscriptionByReferralCode(code string) (Subscription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.subscriptions {
		if s.ReferralCode == code && !s.IsDeleted {
			return s, true
		}
	}
	return Subscription{}, false
}

// AddSubscription applies the §4.1 decision rules to a subscription record.
func (c *Cache) AddSubscription(s Subscription, forceRestore bool) OperationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.subscriptions[s.ID]
	if ok && !existing.ModifiedAt.IsZero() && !s.ModifiedAt.IsZero() {
		if existing.ModifiedAt.After(s.ModifiedAt) || existing.ModifiedAt.Equal(s.ModifiedAt) {
			return NotModified(s.ID)
		}
	}
	next, status := decide(s.ID, existing, ok, s, forceRestore)
	if status.IsDeletedPreviously() {
		return status
	}
	c.subscriptions[s.ID] = next
	return status
}

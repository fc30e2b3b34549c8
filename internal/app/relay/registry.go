/*
Package relay contains the core logic of the real-time relay.

This file defines the Registry, the leaf component mapping authenticated
users (plus optional server context) to their live transport sessions. One
user may own any number of simultaneous connections (tabs, devices).
*/
package relay

// Registry owns the Connection instances of the process. It is not safe for
// concurrent use; the Hub serializes all access.
type Registry struct {
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Add registers a connection. If the connection already carries a user
// identity it is indexed under that user immediately.
func (r *Registry) Add(c *Connection) {
	r.conns[c.id] = c

	if c.userID != "" {
		r.indexUser(c)
	}
}

// AttachUser binds a user identity to a previously anonymous connection.
// Returns false if the connection is unknown.
func (r *Registry) AttachUser(connID, userID, username string) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}

	if c.userID != "" {
		r.unindexUser(c)
	}

	c.userID = userID
	c.username = username
	r.indexUser(c)

	return true
}

// SetServerContext records the active server scope of the connection.
// Returns false if the connection is unknown.
func (r *Registry) SetServerContext(connID, serverID string) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}

	c.serverID = serverID
	return true
}

// Remove deletes the connection and returns it, or nil if unknown.
func (r *Registry) Remove(connID string) *Connection {
	c, ok := r.conns[connID]
	if !ok {
		return nil
	}

	delete(r.conns, connID)
	if c.userID != "" {
		r.unindexUser(c)
	}

	return c
}

// Get returns the connection with the given id, or nil.
func (r *Registry) Get(connID string) *Connection {
	return r.conns[connID]
}

// ConnectionsOf returns every live connection owned by the user.
func (r *Registry) ConnectionsOf(userID string) []*Connection {
	owned, ok := r.byUser[userID]
	if !ok {
		return nil
	}

	conns := make([]*Connection, 0, len(owned))
	for _, c := range owned {
		conns = append(conns, c)
	}
	return conns
}

// CountOf returns the number of live connections owned by the user.
func (r *Registry) CountOf(userID string) int {
	return len(r.byUser[userID])
}

// CountInServer returns how many of the user's connections are scoped to
// the given server context. Used to derive memberJoined/memberLeft edges.
func (r *Registry) CountInServer(userID, serverID string) int {
	n := 0
	for _, c := range r.byUser[userID] {
		if c.serverID == serverID {
			n++
		}
	}
	return n
}

// All returns every registered connection.
func (r *Registry) All() []*Connection {
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) indexUser(c *Connection) {
	owned, ok := r.byUser[c.userID]
	if !ok {
		owned = make(map[string]*Connection)
		r.byUser[c.userID] = owned
	}
	owned[c.id] = c
}

func (r *Registry) unindexUser(c *Connection) {
	owned, ok := r.byUser[c.userID]
	if !ok {
		return
	}

	delete(owned, c.id)
	if len(owned) == 0 {
		delete(r.byUser, c.userID)
	}
}

package session

import (
	"sync"

	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

// Cache maps connection ids to live connections owned by this node.
// Only this node writes it.
type Cache struct {
	mu    sync.RWMutex
	conns map[string]connection.Connection
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{conns: make(map[string]connection.Connection)}
}

func (c *Cache) Put(conn connection.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.ID()] = conn
}

func (c *Cache) Get(id string) (connection.Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[id]
	return conn, ok
}

// Has reports whether id is cached.
func (c *Cache) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// UserIDs lists the distinct users holding a cached connection.
func (c *Cache) UserIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(c.conns))
	users := make([]string, 0, len(c.conns))
	for _, conn := range c.conns {
		if _, ok := seen[conn.UserID()]; ok {
			continue
		}
		seen[conn.UserID()] = struct{}{}
		users = append(users, conn.UserID())
	}
	return users
}

// Take removes and returns id if it belongs to sessionID.
func (c *Cache) Take(id, sessionID string) (connection.Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[id]
	if !ok || conn.SessionID() != sessionID {
		return nil, false
	}
	delete(c.conns, id)
	return conn, true
}

// Drain removes and returns every cached connection.
func (c *Cache) Drain() []connection.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]connection.Connection, 0, len(c.conns))
	for id, conn := range c.conns {
		out = append(out, conn)
		delete(c.conns, id)
	}
	return out
}

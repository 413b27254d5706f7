package vreg

import (
	"sync"

	"github.com/google/uuid"

	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

// Registry is the authoritative map of live connections. A user is online
// iff they have at least one registered connection -- there is no separate
// online flag to drift out of sync.
type Registry struct {
	mu     sync.RWMutex
	byConn map[uuid.UUID]*vuc.Conn
	byUser map[string]map[uuid.UUID]*vuc.Conn
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: map[uuid.UUID]*vuc.Conn{},
		byUser: map[string]map[uuid.UUID]*vuc.Conn{},
	}
}

// Register binds a connection to its authenticated user. Returns true when
// this is the user's first live connection (the offline -> online edge).
// Re-registering the same conn is a no-op.
func (r *Registry) Register(c *vuc.Conn, userId string) bool {

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[c.Id]; ok {
		return false
	}

	r.byConn[c.Id] = c

	set := r.byUser[userId]
	first := len(set) == 0
	if set == nil {
		set = map[uuid.UUID]*vuc.Conn{}
		r.byUser[userId] = set
	}
	set[c.Id] = c

	return first
}

// Unregister removes a connection. Returns the owning user id and true when
// that was the user's last connection (the online -> offline edge). Safe to
// call for ids that were never registered.
func (r *Registry) Unregister(connId uuid.UUID) (string, bool) {

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byConn[connId]
	if !ok {
		return "", false
	}

	delete(r.byConn, connId)

	userId := c.Owner()
	set := r.byUser[userId]
	if set != nil {
		delete(set, connId)
		if len(set) == 0 {
			delete(r.byUser, userId)
			return userId, true
		}
	}

	return userId, false
}

// ConnectionsFor snapshots a user's live connections. Callers iterate the
// returned slice without holding any registry lock.
func (r *Registry) ConnectionsFor(userId string) []*vuc.Conn {

	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userId]
	if len(set) == 0 {
		return nil
	}

	out := make([]*vuc.Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) ResolveOwner(connId uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connId]
	if !ok {
		return "", false
	}
	return c.Owner(), true
}

func (r *Registry) IsOnline(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userId]) > 0
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

package vtop

import (
	"sync"

	"github.com/google/uuid"

	vox_err "github.com/voxcord/voxcord/src/common/verrors"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vev "github.com/voxcord/voxcord/src/ws/events"
	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

// topic is created lazily on first subscribe and deleted when its last
// subscriber leaves. dispatchMu serializes publishes so every subscriber
// sees the same per-topic order; distinct topics dispatch concurrently.
type topic struct {
	id         string
	dispatchMu sync.Mutex
	subs       map[uuid.UUID]*vuc.Conn
}

type Router struct {
	mu      sync.RWMutex
	topics  map[string]*topic
	byConn  map[uuid.UUID]map[string]struct{}
}

func NewRouter() *Router {
	return &Router{
		topics: map[string]*topic{},
		byConn: map[uuid.UUID]map[string]struct{}{},
	}
}

// Subscribe adds an authenticated connection to a topic. Duplicate
// subscribes are no-ops.
func (r *Router) Subscribe(c *vuc.Conn, topicId string) error {

	if !c.IsAuthed() {
		return vox_err.Unauthorized("vid/47e0d1c5a893", "cannot subscribe before authenticating")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.topics[topicId]
	if t == nil {
		t = &topic{id: topicId, subs: map[uuid.UUID]*vuc.Conn{}}
		r.topics[topicId] = t
	}

	t.subs[c.Id] = c

	set := r.byConn[c.Id]
	if set == nil {
		set = map[string]struct{}{}
		r.byConn[c.Id] = set
	}
	set[topicId] = struct{}{}

	return nil
}

// Unsubscribe removes one membership. Unsubscribing from a topic the conn
// never joined is an error the caller can surface or ignore.
func (r *Router) Unsubscribe(connId uuid.UUID, topicId string) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.topics[topicId]
	if t == nil {
		return vox_err.NotFound("vid/5c92e10d7fb4", "no such topic: %s", topicId)
	}

	if _, ok := t.subs[connId]; !ok {
		return vox_err.NotFound("vid/1de8f30a25c7", "conn is not subscribed to topic: %s", topicId)
	}

	r.removeLocked(t, connId, topicId)
	return nil
}

// UnsubscribeAll drops every membership a connection holds. Called on
// disconnect so dead conns never linger in topic maps.
func (r *Router) UnsubscribeAll(connId uuid.UUID) {

	r.mu.Lock()
	defer r.mu.Unlock()

	for topicId := range r.byConn[connId] {
		if t := r.topics[topicId]; t != nil {
			r.removeLocked(t, connId, topicId)
		}
	}
}

func (r *Router) removeLocked(t *topic, connId uuid.UUID, topicId string) {

	delete(t.subs, connId)
	if len(t.subs) == 0 {
		delete(r.topics, topicId)
	}

	if set := r.byConn[connId]; set != nil {
		delete(set, topicId)
		if len(set) == 0 {
			delete(r.byConn, connId)
		}
	}
}

// Publish delivers a frame to every current subscriber except excludeConnId
// (pass uuid.Nil to deliver to all). Returns the number of conns the frame
// was enqueued to. Publishing to a topic with no subscribers delivers to
// nobody and is not an error.
//
// Locking order matters here: the per-topic dispatchMu is taken first, then
// the membership lock just long enough to snapshot subscribers. Two
// publishes to the same topic serialize on dispatchMu, so frames land in
// every subscriber's queue in one global per-topic order. Enqueue never
// blocks, so holding dispatchMu across the loop is cheap.
func (r *Router) Publish(topicId string, frame *vev.OutFrame, excludeConnId uuid.UUID) int {

	r.mu.RLock()
	t := r.topics[topicId]
	r.mu.RUnlock()

	if t == nil {
		return 0
	}

	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()

	r.mu.RLock()
	snapshot := make([]*vuc.Conn, 0, len(t.subs))
	for _, c := range t.subs {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	var n = 0
	for _, c := range snapshot {
		if c.Id == excludeConnId {
			continue
		}
		if c.Enqueue(frame) {
			n++
		}
	}

	if n > 0 {
		vxl.Stdout.Trace(vxl.Id("vid/7b3f50e9c1ad"), "published frame to topic:", topicId, "conns:", n)
	}

	return n
}

// IsSubscribed reports whether a conn currently holds a membership.
func (r *Router) IsSubscribed(connId uuid.UUID, topicId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := r.topics[topicId]
	if t == nil {
		return false
	}
	_, ok := t.subs[connId]
	return ok
}

func (r *Router) SubscriberCount(topicId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := r.topics[topicId]
	if t == nil {
		return 0
	}
	return len(t.subs)
}

func (r *Router) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

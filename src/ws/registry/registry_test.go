package vreg

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

func newAuthedConn(t *testing.T, userId string) *vuc.Conn {
	t.Helper()
	c := vuc.NewConn(nil, 8)
	c.SetOwner(userId, "device-1")
	return c
}

func TestRegisterFirstAndLastTransitions(t *testing.T) {

	r := NewRegistry()

	c1 := newAuthedConn(t, "u1")
	c2 := newAuthedConn(t, "u1")

	assert.True(t, r.Register(c1, "u1"), "first conn should be the offline -> online edge")
	assert.False(t, r.Register(c2, "u1"), "second conn is not a transition")
	assert.True(t, r.IsOnline("u1"))
	assert.Equal(t, 1, r.OnlineCount())
	assert.Equal(t, 2, r.ConnCount())

	userId, last := r.Unregister(c1.Id)
	assert.Equal(t, "u1", userId)
	assert.False(t, last, "one conn remains, user must stay online")
	assert.True(t, r.IsOnline("u1"))

	userId, last = r.Unregister(c2.Id)
	assert.Equal(t, "u1", userId)
	assert.True(t, last, "last conn gone, user is offline")
	assert.False(t, r.IsOnline("u1"))
	assert.Equal(t, 0, r.OnlineCount())
}

func TestRegisterIsIdempotent(t *testing.T) {

	r := NewRegistry()
	c := newAuthedConn(t, "u1")

	assert.True(t, r.Register(c, "u1"))
	assert.False(t, r.Register(c, "u1"), "re-registering the same conn must be a no-op")
	assert.Equal(t, 1, r.ConnCount())

	_, last := r.Unregister(c.Id)
	assert.True(t, last)
}

func TestUnregisterUnknownConnIsNoOp(t *testing.T) {

	r := NewRegistry()

	userId, last := r.Unregister(uuid.New())
	assert.Equal(t, "", userId)
	assert.False(t, last)
}

func TestConnectionsForSnapshot(t *testing.T) {

	r := NewRegistry()

	c1 := newAuthedConn(t, "u1")
	c2 := newAuthedConn(t, "u1")
	c3 := newAuthedConn(t, "u2")

	r.Register(c1, "u1")
	r.Register(c2, "u1")
	r.Register(c3, "u2")

	conns := r.ConnectionsFor("u1")
	assert.Len(t, conns, 2)

	ids := map[uuid.UUID]bool{}
	for _, c := range conns {
		ids[c.Id] = true
	}
	assert.True(t, ids[c1.Id])
	assert.True(t, ids[c2.Id])
	assert.False(t, ids[c3.Id])

	assert.Nil(t, r.ConnectionsFor("nobody"))
}

func TestResolveOwner(t *testing.T) {

	r := NewRegistry()
	c := newAuthedConn(t, "u9")
	r.Register(c, "u9")

	owner, ok := r.ResolveOwner(c.Id)
	assert.True(t, ok)
	assert.Equal(t, "u9", owner)

	_, ok = r.ResolveOwner(uuid.New())
	assert.False(t, ok)
}

package vox_ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vxjwt "github.com/voxcord/voxcord/src/common/jwt"
	vxcf "github.com/voxcord/voxcord/src/config"
	vcall "github.com/voxcord/voxcord/src/ws/calls"
	vev "github.com/voxcord/voxcord/src/ws/events"
	vprs "github.com/voxcord/voxcord/src/ws/presence"
	vreg "github.com/voxcord/voxcord/src/ws/registry"
	vsig "github.com/voxcord/voxcord/src/ws/signal"
	vtop "github.com/voxcord/voxcord/src/ws/topics"
	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []string
	fail  bool
}

func (s *fakeStore) SaveMessage(ctx context.Context, topicId string, senderId string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("insert failed")
	}
	s.saved = append(s.saved, topicId)
	return "msg-1", nil
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()

	cfg := &vxcf.ConfigVars{
		CONN_OUTBOUND_QUEUE_LEN: 32,
		PRESENCE_DEBOUNCE_MS:    20,
		CALL_RING_TIMEOUT_MS:    60000,
		CALL_SESSION_GRACE_MS:   60000,
	}

	reg := vreg.NewRegistry()
	topics := vtop.NewRouter()
	calls := vcall.NewMachine(reg, cfg.CallRingTimeout(), cfg.CallSessionGrace())
	t.Cleanup(calls.Stop)
	signals := vsig.NewRelay(reg)

	svc := NewService(cfg, reg, topics, nil, calls, signals, store)
	presence := vprs.NewTracker(cfg.PresenceDebounce(), reg, nil, nil, svc)
	t.Cleanup(presence.Stop)
	svc.Presence = presence

	return svc
}

func inFrame(t *testing.T, typ string, payload interface{}) *vev.InFrame {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return &vev.InFrame{Type: typ, Data: b}
}

func drain(c *vuc.Conn) []*vev.OutFrame {
	var out []*vev.OutFrame
	for {
		select {
		case f := <-c.Outbox():
			out = append(out, f)
		default:
			return out
		}
	}
}

func authedConn(t *testing.T, svc *Service, userId string) *vuc.Conn {
	t.Helper()

	token, err := vxjwt.CreateToken(userId, "d1")
	require.NoError(t, err)

	c := vuc.NewConn(nil, 32)
	svc.dispatch(c, inFrame(t, vev.EvAuthenticate, &vev.AuthenticateIn{Token: token}))

	frames := drain(c)
	require.NotEmpty(t, frames)
	require.Equal(t, vev.EvAuthResult, frames[0].Type)
	require.True(t, frames[0].Data.(*vev.AuthResult).Ok)
	return c
}

func TestAuthenticateRegistersAndSubscribesInbox(t *testing.T) {

	svc := newTestService(t, nil)
	c := authedConn(t, svc, "u1")

	assert.Equal(t, "u1", c.Owner())
	assert.True(t, svc.Reg.IsOnline("u1"))
	assert.True(t, svc.Topics.IsSubscribed(c.Id, InboxTopicId("u1")))
}

func TestAuthenticateWithBadTokenKeepsConnAlive(t *testing.T) {

	svc := newTestService(t, nil)
	c := vuc.NewConn(nil, 32)

	svc.dispatch(c, inFrame(t, vev.EvAuthenticate, &vev.AuthenticateIn{Token: "garbage"}))

	frames := drain(c)
	require.Len(t, frames, 1)
	require.Equal(t, vev.EvAuthResult, frames[0].Type)
	res := frames[0].Data.(*vev.AuthResult)
	assert.False(t, res.Ok)
	assert.NotEmpty(t, res.Reason)

	assert.False(t, c.IsAuthed())
	select {
	case <-c.Closed():
		t.Fatal("a failed authenticate must not close the connection")
	default:
	}
}

func TestPublishRequiresAuth(t *testing.T) {

	svc := newTestService(t, nil)
	c := vuc.NewConn(nil, 32)

	svc.dispatch(c, inFrame(t, vev.EvPublish, &vev.PublishIn{TopicId: "voice:r1"}))

	frames := drain(c)
	require.Len(t, frames, 1)
	require.Equal(t, vev.EvError, frames[0].Type)
	assert.Equal(t, "Unauthorized", frames[0].Data.(*vev.ErrorEvent).Code)
}

func TestPublishWithExcludeSelf(t *testing.T) {

	svc := newTestService(t, nil)
	a := authedConn(t, svc, "u1")
	b := authedConn(t, svc, "u2")

	svc.dispatch(a, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "server:1:typing"}))
	svc.dispatch(b, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "server:1:typing"}))
	drain(a)
	drain(b)

	svc.dispatch(a, inFrame(t, vev.EvPublish, &vev.PublishIn{
		TopicId:     "server:1:typing",
		Body:        json.RawMessage(`{"typing":true}`),
		ExcludeSelf: true,
	}))

	assert.Empty(t, drain(a), "excludeSelf must suppress the echo")

	frames := drain(b)
	require.Len(t, frames, 1)
	te := frames[0].Data.(*vev.TopicEvent)
	assert.Equal(t, "u1", te.SenderId)
	assert.JSONEq(t, `{"typing":true}`, string(te.Body))
}

func TestChannelPublishPersistsBeforeFanout(t *testing.T) {

	store := &fakeStore{}
	svc := newTestService(t, store)
	a := authedConn(t, svc, "u1")

	svc.dispatch(a, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "channel:general"}))
	svc.dispatch(a, inFrame(t, vev.EvPublish, &vev.PublishIn{
		TopicId: "channel:general",
		Body:    json.RawMessage(`{"text":"hello"}`),
	}))

	frames := drain(a)
	require.Len(t, frames, 1)
	te := frames[0].Data.(*vev.TopicEvent)
	assert.Equal(t, "msg-1", te.MessageId, "fanned-out body carries the stored id")
	assert.Equal(t, []string{"channel:general"}, store.saved)
}

func TestChannelPublishFailsWhenStoreFails(t *testing.T) {

	store := &fakeStore{fail: true}
	svc := newTestService(t, store)
	a := authedConn(t, svc, "u1")
	b := authedConn(t, svc, "u2")

	svc.dispatch(a, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "channel:general"}))
	svc.dispatch(b, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "channel:general"}))
	drain(a)
	drain(b)

	svc.dispatch(a, inFrame(t, vev.EvPublish, &vev.PublishIn{
		TopicId: "channel:general",
		Body:    json.RawMessage(`{"text":"hello"}`),
	}))

	frames := drain(a)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvError, frames[0].Type)
	assert.Empty(t, drain(b), "a failed persist must mean no fan-out at all")
}

func TestChannelPublishWithoutStore(t *testing.T) {

	svc := newTestService(t, nil)
	a := authedConn(t, svc, "u1")

	svc.dispatch(a, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "channel:general"}))
	svc.dispatch(a, inFrame(t, vev.EvPublish, &vev.PublishIn{
		TopicId: "channel:general",
		Body:    json.RawMessage(`{}`),
	}))

	frames := drain(a)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvError, frames[0].Type)
	assert.Equal(t, "Internal", frames[0].Data.(*vev.ErrorEvent).Code)
}

func TestDirectMessageViaInboxTopics(t *testing.T) {

	svc := newTestService(t, nil)
	a := authedConn(t, svc, "u1")
	a2 := authedConn(t, svc, "u1") // second device
	b := authedConn(t, svc, "u2")

	svc.dispatch(a, inFrame(t, vev.EvPublish, &vev.PublishIn{
		TopicId:     InboxTopicId("u2"),
		Body:        json.RawMessage(`{"text":"psst"}`),
		ExcludeSelf: true,
	}))

	bFrames := drain(b)
	require.Len(t, bFrames, 1)
	assert.JSONEq(t, `{"text":"psst"}`, string(bFrames[0].Data.(*vev.TopicEvent).Body))

	a2Frames := drain(a2)
	require.Len(t, a2Frames, 1, "a DM echoes to the sender's other devices")

	assert.Empty(t, drain(a), "the sending device itself is excluded")
}

func TestVoiceRoomRoster(t *testing.T) {

	svc := newTestService(t, nil)
	a := authedConn(t, svc, "u1")
	b := authedConn(t, svc, "u2")

	svc.dispatch(a, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "voice:room9"}))
	drain(a)

	svc.dispatch(b, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "voice:room9"}))

	frames := drain(a)
	require.Len(t, frames, 1)
	var roster map[string]string
	require.NoError(t, json.Unmarshal(frames[0].Data.(*vev.TopicEvent).Body, &roster))
	assert.Equal(t, "voice:joined", roster["event"])
	assert.Equal(t, "u2", roster["userId"])

	svc.dispatch(b, inFrame(t, vev.EvUnsubscribe, &vev.SubscribeIn{TopicId: "voice:room9"}))

	frames = drain(a)
	require.Len(t, frames, 1)
	require.NoError(t, json.Unmarshal(frames[0].Data.(*vev.TopicEvent).Body, &roster))
	assert.Equal(t, "voice:left", roster["event"])
}

func TestUnknownEventType(t *testing.T) {

	svc := newTestService(t, nil)
	c := authedConn(t, svc, "u1")

	svc.dispatch(c, &vev.InFrame{Type: "no:such:event", Data: json.RawMessage(`{}`)})

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvError, frames[0].Type)
	assert.Equal(t, "NotFound", frames[0].Data.(*vev.ErrorEvent).Code)
}

func TestTeardownCleansEverything(t *testing.T) {

	svc := newTestService(t, nil)
	a := authedConn(t, svc, "u1")
	b := authedConn(t, svc, "u2")

	svc.dispatch(a, inFrame(t, vev.EvSubscribe, &vev.SubscribeIn{TopicId: "channel:general"}))
	svc.dispatch(a, inFrame(t, vev.EvCallInvite, &vev.CallInviteIn{TargetUserId: "u2", Kind: "voice"}))
	drain(a)
	drain(b)

	svc.teardown(a)

	assert.False(t, svc.Reg.IsOnline("u1"))
	assert.False(t, svc.Topics.IsSubscribed(a.Id, "channel:general"))
	assert.False(t, svc.Topics.IsSubscribed(a.Id, InboxTopicId("u1")))

	// the ringing call u1 started is implicitly ended for u2
	frames := drain(b)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvCallEnded, frames[0].Type)

	select {
	case <-a.Closed():
	default:
		t.Fatal("teardown must close the conn")
	}

	// a second teardown for the same conn is harmless
	svc.teardown(a)
}

func TestPresenceSetViaDispatch(t *testing.T) {

	svc := newTestService(t, nil)
	c := authedConn(t, svc, "u1")

	// wait for the async first-connect presence transition
	time.Sleep(30 * time.Millisecond)

	svc.dispatch(c, inFrame(t, vev.EvPresenceSet, &vev.PresenceSetIn{Status: "dnd"}))
	assert.Equal(t, "dnd", svc.Presence.Status("u1"))
	assert.Empty(t, drain(c))

	svc.dispatch(c, inFrame(t, vev.EvPresenceSet, &vev.PresenceSetIn{Status: "sleeping"}))
	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvError, frames[0].Type)
}

package vcall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vox_err "github.com/voxcord/voxcord/src/common/verrors"
	vev "github.com/voxcord/voxcord/src/ws/events"
	vreg "github.com/voxcord/voxcord/src/ws/registry"
	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

type fixture struct {
	reg   *vreg.Registry
	m     *Machine
	alice *vuc.Conn
	bob   *vuc.Conn
}

func newFixture(t *testing.T, ringTimeout time.Duration) *fixture {
	t.Helper()

	reg := vreg.NewRegistry()
	m := NewMachine(reg, ringTimeout, time.Minute)
	t.Cleanup(m.Stop)

	alice := vuc.NewConn(nil, 32)
	alice.SetOwner("alice", "d1")
	reg.Register(alice, "alice")

	bob := vuc.NewConn(nil, 32)
	bob.SetOwner("bob", "d1")
	reg.Register(bob, "bob")

	return &fixture{reg: reg, m: m, alice: alice, bob: bob}
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

func frameTypes(fs []*vev.OutFrame) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Type)
	}
	return out
}

func TestInviteRingsAllTargetConns(t *testing.T) {

	fx := newFixture(t, time.Minute)

	bob2 := vuc.NewConn(nil, 32)
	bob2.SetOwner("bob", "d2")
	fx.reg.Register(bob2, "bob")

	s, err := fx.m.Invite(fx.alice, "bob", KindVideo)
	require.NoError(t, err)
	assert.Equal(t, StateRinging, s.State())

	for _, c := range []*vuc.Conn{fx.bob, bob2} {
		frames := drain(c)
		require.Len(t, frames, 1)
		assert.Equal(t, vev.EvCallInvited, frames[0].Type)
		ce := frames[0].Data.(*vev.CallEvent)
		assert.Equal(t, s.Id, ce.SessionId)
		assert.Equal(t, "alice", ce.CounterpartId)
		assert.Equal(t, KindVideo, ce.Kind)
	}

	assert.Empty(t, drain(fx.alice), "initiator gets nothing until the callee acts")
}

func TestSecondInviteSamePairIsAlreadyInProgress(t *testing.T) {

	fx := newFixture(t, time.Minute)

	_, err := fx.m.Invite(fx.alice, "bob", KindVoice)
	require.NoError(t, err)

	// same direction
	_, err = fx.m.Invite(fx.alice, "bob", KindVoice)
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeAlreadyInProgress, code)

	// reverse direction, same unordered pair
	_, err = fx.m.Invite(fx.bob, "alice", KindVoice)
	require.Error(t, err)
	code, _ = vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeAlreadyInProgress, code)
}

func TestInviteOfflineTargetIsUnreachable(t *testing.T) {

	fx := newFixture(t, time.Minute)

	s, err := fx.m.Invite(fx.alice, "carol", KindVoice)
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodePeerUnreachable, code)

	require.NotNil(t, s)
	assert.Equal(t, StateUnreachable, s.State())

	frames := drain(fx.alice)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvCallUnreachable, frames[0].Type)

	// the terminal session does not block a retry
	_, err = fx.m.Invite(fx.alice, "carol", KindVoice)
	code, _ = vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodePeerUnreachable, code)
}

func TestAcceptFlow(t *testing.T) {

	fx := newFixture(t, time.Minute)

	s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
	require.NoError(t, err)
	drain(fx.bob)

	require.NoError(t, fx.m.Accept(fx.bob, s.Id))
	assert.Equal(t, StateAccepted, s.State())

	frames := drain(fx.alice)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvCallAccepted, frames[0].Type)
	ce := frames[0].Data.(*vev.CallEvent)
	assert.Equal(t, "bob", ce.CounterpartId)

	// a second accept is a late duplicate, not a crash
	err = fx.m.Accept(fx.bob, s.Id)
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeInvalidTransition, code)
}

func TestOnlyTargetMayAccept(t *testing.T) {

	fx := newFixture(t, time.Minute)

	s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
	require.NoError(t, err)

	err = fx.m.Accept(fx.alice, s.Id)
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeInvalidTransition, code)
	assert.Equal(t, StateRinging, s.State(), "failed accept must not change state")
}

func TestRejectFlow(t *testing.T) {

	fx := newFixture(t, time.Minute)

	s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
	require.NoError(t, err)
	drain(fx.bob)

	require.NoError(t, fx.m.Reject(fx.bob, s.Id))
	assert.Equal(t, StateRejected, s.State())

	frames := drain(fx.alice)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvCallRejected, frames[0].Type)

	// rejected is terminal, alice can call again
	s2, err := fx.m.Invite(fx.alice, "bob", KindVoice)
	require.NoError(t, err)
	assert.NotEqual(t, s.Id, s2.Id)
}

func TestEndByEitherSide(t *testing.T) {

	t.Run("callee hangs up an accepted call", func(t *testing.T) {
		fx := newFixture(t, time.Minute)

		s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
		require.NoError(t, err)
		require.NoError(t, fx.m.Accept(fx.bob, s.Id))
		drain(fx.alice)
		drain(fx.bob)

		require.NoError(t, fx.m.End(fx.bob, s.Id))
		assert.Equal(t, StateEnded, s.State())

		frames := drain(fx.alice)
		require.Len(t, frames, 1)
		assert.Equal(t, vev.EvCallEnded, frames[0].Type)
		assert.Empty(t, drain(fx.bob), "the side that hung up gets no echo")
	})

	t.Run("caller cancels a ringing call", func(t *testing.T) {
		fx := newFixture(t, time.Minute)

		s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
		require.NoError(t, err)
		drain(fx.bob)

		require.NoError(t, fx.m.End(fx.alice, s.Id))
		assert.Equal(t, StateEnded, s.State())

		frames := drain(fx.bob)
		require.Len(t, frames, 1)
		assert.Equal(t, vev.EvCallEnded, frames[0].Type)
	})

	t.Run("stranger cannot end a call", func(t *testing.T) {
		fx := newFixture(t, time.Minute)

		s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
		require.NoError(t, err)

		carol := vuc.NewConn(nil, 8)
		carol.SetOwner("carol", "d1")
		fx.reg.Register(carol, "carol")

		err = fx.m.End(carol, s.Id)
		require.Error(t, err)
		code, _ := vox_err.CodeOf(err)
		assert.Equal(t, vox_err.CodeInvalidTransition, code)
		assert.Equal(t, StateRinging, s.State())
	})
}

func TestRingTimeout(t *testing.T) {

	fx := newFixture(t, 30*time.Millisecond)

	s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
	require.NoError(t, err)
	drain(fx.bob)

	time.Sleep(90 * time.Millisecond)

	assert.Equal(t, StateTimedOut, s.State())
	assert.Equal(t, []string{vev.EvCallTimeout}, frameTypes(drain(fx.alice)))
	assert.Equal(t, []string{vev.EvCallTimeout}, frameTypes(drain(fx.bob)))

	// too late to accept now
	err = fx.m.Accept(fx.bob, s.Id)
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeInvalidTransition, code)
}

func TestUserOfflineEndsLiveCalls(t *testing.T) {

	fx := newFixture(t, time.Minute)

	s, err := fx.m.Invite(fx.alice, "bob", KindVoice)
	require.NoError(t, err)
	require.NoError(t, fx.m.Accept(fx.bob, s.Id))
	drain(fx.alice)
	drain(fx.bob)

	fx.m.HandleUserOffline("bob")

	assert.Equal(t, StateEnded, s.State())
	frames := drain(fx.alice)
	require.Len(t, frames, 1)
	assert.Equal(t, vev.EvCallEnded, frames[0].Type)
	ce := frames[0].Data.(*vev.CallEvent)
	assert.Equal(t, "bob", ce.CounterpartId)

	// no live calls left, nothing more happens
	fx.m.HandleUserOffline("bob")
	assert.Empty(t, drain(fx.alice))
}

func TestCannotCallYourself(t *testing.T) {

	fx := newFixture(t, time.Minute)

	_, err := fx.m.Invite(fx.alice, "alice", KindVoice)
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeInvalidTransition, code)
}

func TestUnknownCallKindIsRejected(t *testing.T) {

	fx := newFixture(t, time.Minute)

	for _, kind := range []string{"", "audio", "hologram"} {
		_, err := fx.m.Invite(fx.alice, "bob", kind)
		require.Error(t, err, "kind %q must be rejected", kind)
		code, _ := vox_err.CodeOf(err)
		assert.Equal(t, vox_err.CodeInvalidTransition, code)
	}

	assert.Equal(t, 0, fx.m.SessionCount(), "a rejected invite must not leave a session behind")
	assert.Empty(t, drain(fx.bob), "bob must not be rung for a malformed invite")

	// all three real kinds go through
	for _, kind := range []string{KindVoice, KindVideo, KindScreen} {
		s, err := fx.m.Invite(fx.alice, "bob", kind)
		require.NoError(t, err)
		require.NoError(t, fx.m.Reject(fx.bob, s.Id))
	}
}

func TestUnauthedConnCannotUseCalls(t *testing.T) {

	fx := newFixture(t, time.Minute)
	anon := vuc.NewConn(nil, 8)

	_, err := fx.m.Invite(anon, "bob", KindVoice)
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeUnauthorized, code)

	err = fx.m.Accept(anon, "nope")
	code, _ = vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeUnauthorized, code)
}

func TestUnknownSessionIsNotFound(t *testing.T) {

	fx := newFixture(t, time.Minute)

	err := fx.m.Accept(fx.bob, "does-not-exist")
	require.Error(t, err)
	code, _ := vox_err.CodeOf(err)
	assert.Equal(t, vox_err.CodeNotFound, code)
}

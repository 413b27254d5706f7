package vcall

import (
	"sync"
	"time"

	"github.com/google/uuid"

	vox_err "github.com/voxcord/voxcord/src/common/verrors"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vev "github.com/voxcord/voxcord/src/ws/events"
	vreg "github.com/voxcord/voxcord/src/ws/registry"
	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

type State string

const (
	StateRinging     State = "ringing"
	StateAccepted    State = "accepted"
	StateRejected    State = "rejected"
	StateEnded       State = "ended"
	StateTimedOut    State = "timed_out"
	StateUnreachable State = "unreachable"
)

func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateEnded, StateTimedOut, StateUnreachable:
		return true
	}
	return false
}

const (
	KindVoice  = "voice"
	KindVideo  = "video"
	KindScreen = "screen"
)

func IsValidKind(kind string) bool {
	switch kind {
	case KindVoice, KindVideo, KindScreen:
		return true
	}
	return false
}

// Session is one 1:1 call attempt. All transitions go through the machine,
// which holds the session's mutex -- nothing outside this package mutates
// state.
type Session struct {
	Id        string
	Initiator string
	Target    string
	Kind      string

	mu        sync.Mutex
	state     State
	ringTimer *time.Timer

	CreatedAt time.Time
	EndedAt   time.Time
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type pairKey struct {
	a string
	b string
}

func keyFor(u1 string, u2 string) pairKey {
	if u1 < u2 {
		return pairKey{a: u1, b: u2}
	}
	return pairKey{a: u2, b: u1}
}

// Machine owns every live call session. One active (non-terminal) session
// per user pair; terminal sessions linger for a grace window so late
// duplicate accept/reject/end messages resolve to InvalidTransition instead
// of NotFound.
type Machine struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byPair   map[pairKey]string

	reg         *vreg.Registry
	ringTimeout time.Duration
	grace       time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

func NewMachine(reg *vreg.Registry, ringTimeout time.Duration, grace time.Duration) *Machine {
	return &Machine{
		sessions:    map[string]*Session{},
		byPair:      map[pairKey]string{},
		reg:         reg,
		ringTimeout: ringTimeout,
		grace:       grace,
		done:        make(chan struct{}),
	}
}

// Run sweeps expired terminal sessions. Call it from a tracked goroutine.
func (m *Machine) Run() {
	ticker := time.NewTicker(m.grace)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, s := range m.sessions {
			s.mu.Lock()
			if s.ringTimer != nil {
				s.ringTimer.Stop()
				s.ringTimer = nil
			}
			s.mu.Unlock()
		}
	})
}

func (m *Machine) sweep() {
	cutoff := time.Now().Add(-m.grace)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := s.state.Terminal() && !s.EndedAt.IsZero() && s.EndedAt.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			if m.byPair[keyFor(s.Initiator, s.Target)] == id {
				delete(m.byPair, keyFor(s.Initiator, s.Target))
			}
		}
	}
}

// Invite starts a call attempt. Exactly one non-terminal session may exist
// per user pair; a second invite while one is live fails with
// AlreadyInProgress no matter which side sends it. An offline target fails
// fast with PeerUnreachable and leaves a terminal session behind for the
// grace window.
func (m *Machine) Invite(from *vuc.Conn, targetUserId string, kind string) (*Session, error) {

	initiator := from.Owner()
	if initiator == "" {
		return nil, vox_err.Unauthorized("vid/ba6c01f3d872", "cannot start a call before authenticating")
	}

	if targetUserId == initiator {
		return nil, vox_err.InvalidTransition("vid/43b7e9a0c5d1", "cannot call yourself")
	}

	if !IsValidKind(kind) {
		return nil, vox_err.InvalidTransition("vid/8e42d7b1f09c", "unknown call kind: %s", kind)
	}

	key := keyFor(initiator, targetUserId)

	m.mu.Lock()

	if existingId, ok := m.byPair[key]; ok {
		if existing := m.sessions[existingId]; existing != nil && !existing.State().Terminal() {
			m.mu.Unlock()
			return nil, vox_err.AlreadyInProgress("vid/e07d21c9f5b3", "a call between these users is already in progress")
		}
	}

	s := &Session{
		Id:        uuid.New().String(),
		Initiator: initiator,
		Target:    targetUserId,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	m.sessions[s.Id] = s
	m.byPair[key] = s.Id

	targetConns := m.reg.ConnectionsFor(targetUserId)

	if len(targetConns) == 0 {
		s.state = StateUnreachable
		s.EndedAt = time.Now().UTC()
		m.mu.Unlock()

		m.sendToUser(initiator, vev.NewOut(vev.EvCallUnreachable, &vev.CallEvent{
			SessionId:     s.Id,
			CounterpartId: targetUserId,
			Kind:          kind,
		}))
		return s, vox_err.PeerUnreachable("vid/57f3a9e1d0c8", "target user is offline: %s", targetUserId)
	}

	s.state = StateRinging
	s.ringTimer = time.AfterFunc(m.ringTimeout, func() {
		m.timeOut(s.Id)
	})
	m.mu.Unlock()

	invited := vev.NewOut(vev.EvCallInvited, &vev.CallEvent{
		SessionId:     s.Id,
		CounterpartId: initiator,
		Kind:          kind,
	})
	for _, c := range targetConns {
		c.Enqueue(invited)
	}

	vxl.Stdout.Info(vxl.Id("vid/29de53b1c7f0"), "call ringing:", s.Id, initiator, "->", targetUserId, kind)
	return s, nil
}

// Accept answers a ringing call. Only the invited user may accept.
func (m *Machine) Accept(from *vuc.Conn, sessionId string) error {

	s, err := m.lookup(from, sessionId)
	if err != nil {
		return err
	}

	s.mu.Lock()

	if from.Owner() != s.Target {
		s.mu.Unlock()
		return vox_err.InvalidTransition("vid/7c1e85d20b9f", "only the invited user can accept this call")
	}

	if s.state != StateRinging {
		st := s.state
		s.mu.Unlock()
		return vox_err.InvalidTransition("vid/f8a02d5ce714", "cannot accept a call in state: %s", st)
	}

	s.state = StateAccepted
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.mu.Unlock()

	m.sendToUser(s.Initiator, vev.NewOut(vev.EvCallAccepted, &vev.CallEvent{
		SessionId:     s.Id,
		CounterpartId: s.Target,
		Kind:          s.Kind,
	}))

	vxl.Stdout.Info(vxl.Id("vid/61f0b3a8d24c"), "call accepted:", s.Id)
	return nil
}

// Reject declines a ringing call. Only the invited user may reject.
func (m *Machine) Reject(from *vuc.Conn, sessionId string) error {

	s, err := m.lookup(from, sessionId)
	if err != nil {
		return err
	}

	s.mu.Lock()

	if from.Owner() != s.Target {
		s.mu.Unlock()
		return vox_err.InvalidTransition("vid/35c9e70ad1f6", "only the invited user can reject this call")
	}

	if s.state != StateRinging {
		st := s.state
		s.mu.Unlock()
		return vox_err.InvalidTransition("vid/d94b12f7e0c5", "cannot reject a call in state: %s", st)
	}

	s.state = StateRejected
	s.EndedAt = time.Now().UTC()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.mu.Unlock()

	m.sendToUser(s.Initiator, vev.NewOut(vev.EvCallRejected, &vev.CallEvent{
		SessionId:     s.Id,
		CounterpartId: s.Target,
	}))

	vxl.Stdout.Info(vxl.Id("vid/b02c84f5ae71"), "call rejected:", s.Id)
	return nil
}

// End hangs up. Either participant may end a ringing or accepted call --
// the initiator ending a ringing call is how a caller cancels.
func (m *Machine) End(from *vuc.Conn, sessionId string) error {

	s, err := m.lookup(from, sessionId)
	if err != nil {
		return err
	}

	caller := from.Owner()
	if caller != s.Initiator && caller != s.Target {
		return vox_err.InvalidTransition("vid/a7e51c09d3b8", "only a call participant can end it")
	}

	s.mu.Lock()

	if s.state != StateRinging && s.state != StateAccepted {
		st := s.state
		s.mu.Unlock()
		return vox_err.InvalidTransition("vid/08d6f24ab9e3", "cannot end a call in state: %s", st)
	}

	s.state = StateEnded
	s.EndedAt = time.Now().UTC()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.mu.Unlock()

	other := s.Target
	if caller == s.Target {
		other = s.Initiator
	}

	m.sendToUser(other, vev.NewOut(vev.EvCallEnded, &vev.CallEvent{
		SessionId:     s.Id,
		CounterpartId: caller,
	}))

	vxl.Stdout.Info(vxl.Id("vid/4e9ab7d01f52"), "call ended:", s.Id, "by:", caller)
	return nil
}

// HandleUserOffline implicitly ends every live call the user is part of.
// Called when a user's last connection is gone (after the presence debounce
// does not apply -- the media path is dead now, not in four seconds).
func (m *Machine) HandleUserOffline(userId string) {

	m.mu.Lock()
	var affected []*Session
	for _, s := range m.sessions {
		if s.Initiator == userId || s.Target == userId {
			affected = append(affected, s)
		}
	}
	m.mu.Unlock()

	for _, s := range affected {

		s.mu.Lock()
		if s.state != StateRinging && s.state != StateAccepted {
			s.mu.Unlock()
			continue
		}
		s.state = StateEnded
		s.EndedAt = time.Now().UTC()
		if s.ringTimer != nil {
			s.ringTimer.Stop()
			s.ringTimer = nil
		}
		s.mu.Unlock()

		other := s.Target
		if userId == s.Target {
			other = s.Initiator
		}

		m.sendToUser(other, vev.NewOut(vev.EvCallEnded, &vev.CallEvent{
			SessionId:     s.Id,
			CounterpartId: userId,
		}))

		vxl.Stdout.Info(vxl.Id("vid/1fc82a64e0db"), "call ended, participant went offline:", s.Id, userId)
	}
}

func (m *Machine) timeOut(sessionId string) {

	m.mu.Lock()
	s := m.sessions[sessionId]
	m.mu.Unlock()

	if s == nil {
		return
	}

	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return
	}
	s.state = StateTimedOut
	s.EndedAt = time.Now().UTC()
	s.ringTimer = nil
	s.mu.Unlock()

	timeout := vev.NewOut(vev.EvCallTimeout, &vev.CallEvent{
		SessionId:     s.Id,
		CounterpartId: s.Target,
	})
	m.sendToUser(s.Initiator, timeout)
	m.sendToUser(s.Target, vev.NewOut(vev.EvCallTimeout, &vev.CallEvent{
		SessionId:     s.Id,
		CounterpartId: s.Initiator,
	}))

	vxl.Stdout.Info(vxl.Id("vid/c38d09f16e4a"), "call timed out, nobody answered:", s.Id)
}

func (m *Machine) lookup(from *vuc.Conn, sessionId string) (*Session, error) {

	if from.Owner() == "" {
		return nil, vox_err.Unauthorized("vid/92a5e01dcb74", "cannot act on a call before authenticating")
	}

	m.mu.Lock()
	s := m.sessions[sessionId]
	m.mu.Unlock()

	if s == nil {
		return nil, vox_err.NotFound("vid/5fb380c2d691", "no such call session: %s", sessionId)
	}
	return s, nil
}

// Get returns a session by id, for the meta routes and tests.
func (m *Machine) Get(sessionId string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionId]
	return s, ok
}

func (m *Machine) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Machine) sendToUser(userId string, frame *vev.OutFrame) {
	for _, c := range m.reg.ConnectionsFor(userId) {
		c.Enqueue(frame)
	}
}

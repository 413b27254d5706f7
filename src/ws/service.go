package vox_ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"

	vapm "github.com/voxcord/voxcord/src/common/apm"
	"github.com/voxcord/voxcord/src/common/gor"
	vhp "github.com/voxcord/voxcord/src/common/handle-panic"
	vxjwt "github.com/voxcord/voxcord/src/common/jwt"
	vxu "github.com/voxcord/voxcord/src/common/v-utils"
	vox_err "github.com/voxcord/voxcord/src/common/verrors"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vxcf "github.com/voxcord/voxcord/src/config"
	vcall "github.com/voxcord/voxcord/src/ws/calls"
	ws_conn "github.com/voxcord/voxcord/src/ws/conn"
	vev "github.com/voxcord/voxcord/src/ws/events"
	vprs "github.com/voxcord/voxcord/src/ws/presence"
	vreg "github.com/voxcord/voxcord/src/ws/registry"
	vsig "github.com/voxcord/voxcord/src/ws/signal"
	vtop "github.com/voxcord/voxcord/src/ws/topics"
	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

// Store persists published chat events before fan-out. Nil store means the
// durable tier is down and channel publishes fail loudly instead of lying.
type Store interface {
	SaveMessage(ctx context.Context, topicId string, senderId string, body []byte) (string, error)
}

// Service is the transport adapter: it owns the upgrade path, the per-conn
// read loop and the dispatch switch, and hands everything else to the
// registries.
type Service struct {
	config *vxcf.ConfigVars

	Reg      *vreg.Registry
	Topics   *vtop.Router
	Presence *vprs.Tracker
	Calls    *vcall.Machine
	Signals  *vsig.Relay

	Store Store

	upgrader websocket.Upgrader
	counter  ws_conn.ConnectionCounter
}

func NewService(
	cfg *vxcf.ConfigVars,
	reg *vreg.Registry,
	topics *vtop.Router,
	presence *vprs.Tracker,
	calls *vcall.Machine,
	signals *vsig.Relay,
	store Store,
) *Service {
	return &Service{
		config:   cfg,
		Reg:      reg,
		Topics:   topics,
		Presence: presence,
		Calls:    calls,
		Signals:  signals,
		Store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// cross-origin policy belongs to the edge proxy
				return true
			},
		},
	}
}

// InboxTopicId is the per-user topic every authenticated connection is
// subscribed to. DMs, presence changes and anything addressed to the user
// (not to a channel) flow through it.
func InboxTopicId(userId string) string {
	return "inbox:" + userId
}

// PublishToInbox satisfies the presence tracker's Publisher interface.
func (s *Service) PublishToInbox(userId string, frame *vev.OutFrame) int {
	return s.Topics.Publish(InboxTopicId(userId), frame, uuid.Nil)
}

// HandleWS upgrades the request and runs the connection until the socket
// dies. An invalid or missing ?token= does not fail the upgrade -- the
// connection starts unauthenticated and may authenticate later by message.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		vxl.Stdout.Warn(vxl.Id("vid/3dc90ab7e215"), "could not upgrade to websocket:", err)
		return
	}

	c := vuc.NewConn(ws, int(s.config.CONN_OUTBOUND_QUEUE_LEN))
	s.counter.Increase()

	vxl.Stdout.Info(vxl.Id("vid/8ea4f52c07db"), "new ws connection:", c.Id.String(), "from:", r.RemoteAddr)

	gor.Gor(func(z gor.Updater) {
		z.UpdateLastActive(time.Now(), gor.LastActiveInfo{
			Info: vxu.JoinArgs("write pump for conn", c.Id.String()),
		})
		c.WritePump()
	})

	// pre-auth via query param, same resolver and same failure semantics as
	// the authenticate message
	if token := r.URL.Query().Get("token"); token != "" {
		s.authenticate(c, token)
	}

	gor.Gor(func(z gor.Updater) {
		s.readLoop(c, z)
	})
}

func (s *Service) readLoop(c *vuc.Conn, z gor.Updater) {

	defer func() {
		if r := vhp.HandlePanicWithConnId("vid/ce01b9f7d3a5", c.Id.String()); r != nil {
			vapm.SendTrace("vid/20d5eb7c913f", fmt.Sprintf("%v", r))
		}
		s.teardown(c)
	}()

	c.WSConn.SetPongHandler(func(string) error {
		return nil
	})

	for {
		z.UpdateLastActive(time.Now(), gor.LastActiveInfo{
			Info: vxu.JoinArgs("reading ws messages for conn", c.Id.String(), "user", c.Owner()),
		})

		msgType, msg, err := c.WSConn.ReadMessage()

		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				vxl.Stdout.Warn(vxl.Id("vid/4a09cd2be671"), "unexpected ws close for conn:", c.Id.String(), err)
			} else if err == io.EOF {
				vxl.Stdout.Debug(vxl.Id("vid/90b1c46f7d3e"), "eof on ws conn:", c.Id.String())
			} else {
				vxl.Stdout.Debug(vxl.Id("vid/dca8250b6e91"), "ws read ended for conn:", c.Id.String(), err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// fallthrough to dispatch below
		case websocket.CloseMessage:
			vxl.Stdout.Debug(vxl.Id("vid/1c5f09e3da27"), "close frame from conn:", c.Id.String())
			return
		default:
			continue
		}

		if vxu.IsWhitespace(msg) {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/7e2d41ca95f0", "empty message sent to server"))
			continue
		}

		var frame vev.InFrame
		l := jlexer.Lexer{Data: msg}
		frame.UnmarshalEasyJSON(&l)
		if err := l.Error(); err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/62f8a0d1b73c"), "could not decode inbound frame:", err, "raw:", string(msg))
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/b49c17e8f025", "could not decode frame as JSON"))
			continue
		}

		s.dispatch(c, &frame)
	}
}

// dispatch routes one decoded frame. Taxonomy errors go back to the sender
// as a typed error event; none of them close the connection.
func (s *Service) dispatch(c *vuc.Conn, frame *vev.InFrame) {

	switch frame.Type {

	case vev.EvAuthenticate:
		var in vev.AuthenticateIn
		if err := json.Unmarshal(frame.Data, &in); err != nil {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/9c0e25d7fab1", "malformed authenticate payload"))
			return
		}
		s.authenticate(c, in.Token)

	case vev.EvSubscribe:
		var in vev.SubscribeIn
		if err := json.Unmarshal(frame.Data, &in); err != nil || strings.TrimSpace(in.TopicId) == "" {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/df31b0a84c96", "malformed subscribe payload"))
			return
		}
		if err := s.Topics.Subscribe(c, in.TopicId); err != nil {
			s.sendErr(c, err)
			return
		}
		if strings.HasPrefix(in.TopicId, "voice:") {
			s.publishVoiceRoster(c, in.TopicId, "voice:joined")
		}

	case vev.EvUnsubscribe:
		var in vev.SubscribeIn
		if err := json.Unmarshal(frame.Data, &in); err != nil || strings.TrimSpace(in.TopicId) == "" {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/f5a48e20c1d7", "malformed unsubscribe payload"))
			return
		}
		if err := s.Topics.Unsubscribe(c.Id, in.TopicId); err != nil {
			s.sendErr(c, err)
			return
		}
		if strings.HasPrefix(in.TopicId, "voice:") {
			s.publishVoiceRoster(c, in.TopicId, "voice:left")
		}

	case vev.EvPublish:
		s.handlePublish(c, frame.Data)

	case vev.EvPresenceSet:
		var in vev.PresenceSetIn
		if err := json.Unmarshal(frame.Data, &in); err != nil || !vprs.IsValidStatus(in.Status) {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/c71de25f90a8", "malformed presence payload"))
			return
		}
		userId := c.Owner()
		if userId == "" {
			s.sendErr(c, vox_err.Unauthorized("vid/e93ab07c51d2", "cannot set presence before authenticating"))
			return
		}
		s.Presence.SetStatus(userId, in.Status)

	case vev.EvCallInvite:
		var in vev.CallInviteIn
		if err := json.Unmarshal(frame.Data, &in); err != nil || in.TargetUserId == "" {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/a02f74e8b5c1", "malformed call invite payload"))
			return
		}
		if _, err := s.Calls.Invite(c, in.TargetUserId, in.Kind); err != nil {
			s.sendErr(c, err)
		}

	case vev.EvCallAccept:
		s.handleCallRef(c, frame.Data, s.Calls.Accept)

	case vev.EvCallReject:
		s.handleCallRef(c, frame.Data, s.Calls.Reject)

	case vev.EvCallEnd:
		s.handleCallRef(c, frame.Data, s.Calls.End)

	case vev.EvSignalRelay:
		var in vev.SignalRelayIn
		if err := json.Unmarshal(frame.Data, &in); err != nil || in.TargetUserId == "" {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/57e90fd21ca3", "malformed signal relay payload"))
			return
		}
		if err := s.Signals.Send(c, in.TargetUserId, in.Payload); err != nil {
			s.sendErr(c, err)
		}

	default:
		vxl.Stdout.Warn(vxl.Id("vid/72b8a19c50ef"), "unknown event type from conn:", c.Id.String(), frame.Type)
		s.sendErr(c, vox_err.NotFound("vid/dbe2471f08c5", "unknown event type: %s", frame.Type))
	}
}

func (s *Service) handleCallRef(c *vuc.Conn, data json.RawMessage, f func(*vuc.Conn, string) error) {
	var in vev.CallRefIn
	if err := json.Unmarshal(data, &in); err != nil || in.SessionId == "" {
		s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/e8019dc5b2f7", "malformed call payload"))
		return
	}
	if err := f(c, in.SessionId); err != nil {
		s.sendErr(c, err)
	}
}

// authenticate resolves a bearer token and, on success, registers the conn,
// auto-subscribes the user's inbox topic and reports the result. A failed
// verification reports auth:result{ok:false} -- the connection survives.
func (s *Service) authenticate(c *vuc.Conn, token string) {

	if c.IsAuthed() {
		c.Enqueue(vev.NewOut(vev.EvAuthResult, &vev.AuthResult{Ok: true, UserId: c.Owner()}))
		return
	}

	claims, err := vxjwt.VerifyToken(token)
	if err != nil {
		vxl.Stdout.Warn(vxl.Id("vid/07d3a25c9e1f"), "auth failed for conn:", c.Id.String(), err)
		c.Enqueue(vev.NewOut(vev.EvAuthResult, &vev.AuthResult{Ok: false, Reason: "invalid or expired token"}))
		return
	}

	c.SetOwner(claims.UserID, claims.DeviceID)
	first := s.Reg.Register(c, claims.UserID)

	if err := s.Topics.Subscribe(c, InboxTopicId(claims.UserID)); err != nil {
		vxl.Stdout.Error(vxl.Id("vid/1da7c3f4e920"), "could not subscribe inbox for user:", claims.UserID, err)
	}

	c.Enqueue(vev.NewOut(vev.EvAuthResult, &vev.AuthResult{Ok: true, UserId: claims.UserID}))

	vxl.Stdout.Info(vxl.Id("vid/350c9fe2d8b1"), "conn authenticated:", c.Id.String(), "user:", claims.UserID, "first:", first)

	if first {
		userId := claims.UserID
		gor.Gor(func(z gor.Updater) {
			s.Presence.UserOnline(userId)
		})
	}
}

// handlePublish fans an event out to a topic. Channel topics are persisted
// first -- a failed write means no fan-out, the store is the source of
// truth for "did this message persist".
func (s *Service) handlePublish(c *vuc.Conn, data json.RawMessage) {

	var in vev.PublishIn
	if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.TopicId) == "" {
		s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/c3b90d7a52ef", "malformed publish payload"))
		return
	}

	senderId := c.Owner()
	if senderId == "" {
		s.sendErr(c, vox_err.Unauthorized("vid/9ef21c05d7a3", "cannot publish before authenticating"))
		return
	}

	// publishing into another user's inbox is the DM path, no membership
	// needed there -- everything else requires a subscription
	isInbox := strings.HasPrefix(in.TopicId, "inbox:")
	if !isInbox && !s.Topics.IsSubscribed(c.Id, in.TopicId) {
		s.sendErr(c, vox_err.Unauthorized("vid/84da0f13c6e9", "cannot publish to a topic you are not subscribed to"))
		return
	}

	var messageId string

	if strings.HasPrefix(in.TopicId, "channel:") {
		if s.Store == nil {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/06fe18b9d2ca", "message store is unavailable"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
		id, err := s.Store.SaveMessage(ctx, in.TopicId, senderId, in.Body)
		cancel()
		if err != nil {
			s.sendErr(c, vox_err.New(vox_err.CodeInternal, "vid/b71f30e5a2d9", "could not persist message, not delivered"))
			return
		}
		messageId = id
	}

	frame := vev.NewOut(vev.EvTopicEvent, &vev.TopicEvent{
		TopicId:   in.TopicId,
		SenderId:  senderId,
		MessageId: messageId,
		Body:      in.Body,
	})

	exclude := c.Id
	if !in.ExcludeSelf {
		exclude = uuid.Nil
	}

	s.Topics.Publish(in.TopicId, frame, exclude)

	// a DM to someone else's inbox echoes to the sender's other devices too
	if isInbox && in.TopicId != InboxTopicId(senderId) {
		s.Topics.Publish(InboxTopicId(senderId), frame, exclude)
	}
}

// publishVoiceRoster tells a voice room who joined or left it.
func (s *Service) publishVoiceRoster(c *vuc.Conn, topicId string, kind string) {
	body, _ := json.Marshal(map[string]string{"event": kind, "userId": c.Owner()})
	s.Topics.Publish(topicId, vev.NewOut(vev.EvTopicEvent, &vev.TopicEvent{
		TopicId:  topicId,
		SenderId: c.Owner(),
		Body:     body,
	}), c.Id)
}

// teardown runs when a connection's read loop exits, for any reason. Every
// step is best-effort: a failure in one never skips the rest.
func (s *Service) teardown(c *vuc.Conn) {

	s.counter.Decrease()

	userId, last := "", false

	func() {
		defer vhp.HandlePanicWithConnId("vid/38cf5ad7e012", c.Id.String())
		userId, last = s.Reg.Unregister(c.Id)
	}()

	func() {
		defer vhp.HandlePanicWithConnId("vid/fa1e0d29c753", c.Id.String())
		s.Topics.UnsubscribeAll(c.Id)
	}()

	func() {
		defer vhp.HandlePanicWithConnId("vid/215cd0b3f89e", c.Id.String())
		c.SafeClose(true)
	}()

	if last && userId != "" {
		func() {
			defer vhp.HandlePanicWithConnId("vid/d90417aefc52", c.Id.String())
			s.Presence.UserWentOffline(userId)
		}()
		func() {
			defer vhp.HandlePanicWithConnId("vid/6eb58f01a3d4", c.Id.String())
			s.Calls.HandleUserOffline(userId)
		}()
	}

	vxl.Stdout.Info(vxl.Id("vid/ac47e90d32b6"), "ws conn torn down:", c.Id.String(), "user:", userId, "last:", last)
}

func (s *Service) sendErr(c *vuc.Conn, err error) {

	code, ok := vox_err.CodeOf(err)
	if !ok {
		code = vox_err.CodeInternal
	}

	var errId string
	var msg = err.Error()
	var ve *vox_err.VoxError
	if v, isVe := err.(*vox_err.VoxError); isVe {
		ve = v
		errId = ve.ErrId
		msg = ve.Message
	}

	vox_err.ErrorQueue.Enqueue(err)

	c.Enqueue(vev.NewOut(vev.EvError, &vev.ErrorEvent{
		Code:    string(code),
		Id:      errId,
		Message: msg,
	}))
}

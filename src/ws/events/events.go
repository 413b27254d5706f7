package vev

import (
	"encoding/json"
	"time"
)

// Inbound event types -- the verbs a client can send.
const (
	EvAuthenticate = "authenticate"
	EvSubscribe    = "subscribe"
	EvUnsubscribe  = "unsubscribe"
	EvPublish      = "publish"
	EvCallInvite   = "call:invite"
	EvCallAccept   = "call:accept"
	EvCallReject   = "call:reject"
	EvCallEnd      = "call:end"
	EvSignalRelay  = "signal:relay"
	EvPresenceSet  = "presence:set"
)

// Outbound event types -- what the server pushes.
const (
	EvAuthResult      = "auth:result"
	EvTopicEvent      = "topic:event"
	EvPresenceChanged = "presence:changed"
	EvCallInvited     = "call:invited"
	EvCallAccepted    = "call:accepted"
	EvCallRejected    = "call:rejected"
	EvCallEnded       = "call:ended"
	EvCallUnreachable = "call:unreachable"
	EvCallTimeout     = "call:timeout"
	EvError           = "error"
)

// InFrame is the envelope for every client message. Data stays raw until the
// dispatch switch knows which payload type to decode into.
type InFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type OutMeta struct {
	FromSource  string    `json:"FromSource"`
	TimeCreated time.Time `json:"TimeCreated"`
}

// OutFrame is the envelope for every server push.
type OutFrame struct {
	Type string      `json:"type"`
	Meta OutMeta     `json:"Meta"`
	Data interface{} `json:"data"`
}

func NewOut(typ string, data interface{}) *OutFrame {
	return &OutFrame{
		Type: typ,
		Meta: OutMeta{
			FromSource:  "Voxcord:RT",
			TimeCreated: time.Now().UTC(),
		},
		Data: data,
	}
}

// payloads, inbound

type AuthenticateIn struct {
	Token string `json:"token"`
}

type SubscribeIn struct {
	TopicId string `json:"topicId"`
}

type PublishIn struct {
	TopicId     string          `json:"topicId"`
	Body        json.RawMessage `json:"body"`
	ExcludeSelf bool            `json:"excludeSelf"`
}

type CallInviteIn struct {
	TargetUserId string `json:"targetUserId"`
	Kind         string `json:"kind"` // "voice" | "video" | "screen"
}

type CallRefIn struct {
	SessionId string `json:"sessionId"`
}

type PresenceSetIn struct {
	Status string `json:"status"`
}

type SignalRelayIn struct {
	TargetUserId string          `json:"targetUserId"`
	Payload      json.RawMessage `json:"payload"`
}

// payloads, outbound

type AuthResult struct {
	Ok     bool   `json:"ok"`
	UserId string `json:"userId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type TopicEvent struct {
	TopicId   string          `json:"topicId"`
	SenderId  string          `json:"senderId"`
	MessageId string          `json:"messageId,omitempty"`
	Body      json.RawMessage `json:"body"`
}

type PresenceChanged struct {
	UserId string `json:"userId"`
	Status string `json:"status"`
}

type CallEvent struct {
	SessionId     string `json:"sessionId"`
	CounterpartId string `json:"counterpartId"`
	Kind          string `json:"kind,omitempty"`
}

type SignalEvent struct {
	SenderId string          `json:"senderId"`
	Payload  json.RawMessage `json:"payload"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Id      string `json:"id,omitempty"`
	Message string `json:"message"`
}

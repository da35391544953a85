package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType names a message on the event websocket.
type EventType string

const (
	// client -> server
	EventJoinSession      EventType = "join-session"
	EventLeaveSession     EventType = "leave-session"
	EventExecutionRequest EventType = "execution-request"

	// both directions
	EventEditUpdate   EventType = "edit-update"
	EventCursorUpdate EventType = "cursor-update"

	// server -> client
	EventParticipantJoined  EventType = "participant-joined"
	EventParticipantLeft    EventType = "participant-left"
	EventRoomSnapshot       EventType = "room-snapshot"
	EventExecutionResult    EventType = "execution-result"
	EventExecutionBroadcast EventType = "execution-broadcast"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrMissingField   = errors.New("missing required field")
)

// Envelope is the frame every event travels in.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundEvent is the closed set of messages a client may send.
type InboundEvent interface {
	Type() EventType
	Session() string
	inbound()
}

type JoinSession struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
}

type LeaveSession struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type EditUpdate struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	UserID    string `json:"userId"`
}

type CursorUpdate struct {
	SessionID string         `json:"sessionId"`
	Position  CursorPosition `json:"position"`
	UserID    string         `json:"userId"`
	UserName  string         `json:"userName"`
}

type ExecutionRequestEvent struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// UnknownEvent carries a tag outside the schema. It is logged and ignored.
type UnknownEvent struct {
	Tag EventType
}

func (JoinSession) Type() EventType           { return EventJoinSession }
func (LeaveSession) Type() EventType          { return EventLeaveSession }
func (EditUpdate) Type() EventType            { return EventEditUpdate }
func (CursorUpdate) Type() EventType          { return EventCursorUpdate }
func (ExecutionRequestEvent) Type() EventType { return EventExecutionRequest }
func (e UnknownEvent) Type() EventType        { return e.Tag }

func (e JoinSession) Session() string           { return e.SessionID }
func (e LeaveSession) Session() string          { return e.SessionID }
func (e EditUpdate) Session() string            { return e.SessionID }
func (e CursorUpdate) Session() string          { return e.SessionID }
func (e ExecutionRequestEvent) Session() string { return e.SessionID }
func (UnknownEvent) Session() string            { return "" }

func (JoinSession) inbound()           {}
func (LeaveSession) inbound()          {}
func (EditUpdate) inbound()            {}
func (CursorUpdate) inbound()          {}
func (ExecutionRequestEvent) inbound() {}
func (UnknownEvent) inbound()          {}

// DecodeInbound parses a client frame into its variant. Unknown tags decode to
// UnknownEvent without error; bad JSON or missing fields wrap ErrMalformedEvent.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	var (
		ev  InboundEvent
		err error
	)
	switch env.Type {
	case EventJoinSession:
		var e JoinSession
		err = decodePayload(env.Payload, &e)
		ev = e
	case EventLeaveSession:
		var e LeaveSession
		err = decodePayload(env.Payload, &e)
		ev = e
	case EventEditUpdate:
		var e EditUpdate
		err = decodePayload(env.Payload, &e)
		ev = e
	case EventCursorUpdate:
		var e CursorUpdate
		err = decodePayload(env.Payload, &e)
		ev = e
	case EventExecutionRequest:
		var e ExecutionRequestEvent
		err = decodePayload(env.Payload, &e)
		ev = e
	default:
		return UnknownEvent{Tag: env.Type}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	if strings.TrimSpace(ev.Session()) == "" {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, env.Type, ErrMissingField)
	}
	return ev, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return ErrMissingField
	}
	return json.Unmarshal(payload, v)
}

// Outbound payloads

type ParticipantJoined struct {
	SessionID        string   `json:"sessionId"`
	User             UserInfo `json:"user"`
	ParticipantCount int      `json:"participantCount"`
}

type ParticipantLeft struct {
	SessionID        string `json:"sessionId"`
	UserID           string `json:"userId"`
	ConnectionID     string `json:"connectionId"`
	ParticipantCount int    `json:"participantCount"`
}

type RoomSnapshot struct {
	SessionID    string     `json:"sessionId"`
	Content      string     `json:"content"`
	Participants []UserInfo `json:"participants"`
}

type EditRelay struct {
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type CursorRelay struct {
	SessionID string         `json:"sessionId"`
	Position  CursorPosition `json:"position"`
	UserID    string         `json:"userId"`
	UserName  string         `json:"userName"`
	Timestamp time.Time      `json:"timestamp"`
}

type ExecutionResultEvent struct {
	ExecutionID     string    `json:"executionId"`
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	Output          *string   `json:"output"`
	Error           *string   `json:"error"`
	ErrorKind       ErrorKind `json:"errorKind,omitempty"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
}

type ExecutionBroadcast struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	Output          *string   `json:"output"`
	Error           *string   `json:"error"`
	ErrorKind       ErrorKind `json:"errorKind,omitempty"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Timestamp       time.Time `json:"timestamp"`
}

// Encode wraps a payload in an envelope.
func Encode(t EventType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: body})
}

package securechat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event type discriminators.
const (
	EventMessage      = "message"
	EventTyping       = "typing"
	EventReadReceipt  = "read_receipt"
	EventUserPresence = "user_presence"
	EventNewMessage   = "new_message"
)

// ErrUnknownEvent is returned by DecodeEvent for an unrecognized type.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is one inbound frame. The set of implementations is closed; use
// Dispatch with an EventHandler to consume it.
type Event interface {
	Type() string
	Dispatch(h EventHandler)
}

// EventHandler consumes every Event variant. A new variant adds a method
// here, so handlers that do not cover it stop compiling.
type EventHandler interface {
	HandleMessage(MessageEvent)
	HandleTyping(TypingEvent)
	HandleReadReceipt(ReadReceiptEvent)
	HandlePresence(PresenceEvent)
	HandleNewMessage(NewMessageEvent)
}

// MessageEvent is a chat message broadcast on a room channel.
type MessageEvent struct {
	Message
}

// TypingEvent reports another participant's typing state.
type TypingEvent struct {
	UserID   ID     `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptEvent reports that UserID has read RoomID.
type ReadReceiptEvent struct {
	UserID ID `json:"user_id"`
	RoomID ID `json:"room_id"`
}

// PresenceEvent reports a user going online or offline.
type PresenceEvent struct {
	UserID   ID   `json:"user_id"`
	IsOnline bool `json:"is_online"`
}

// NewMessageEvent is the notifications-feed summary of a message posted in
// some room. Sender is the username only.
type NewMessageEvent struct {
	RoomID  ID                  `json:"room_id"`
	Message NotificationMessage `json:"message"`
}

// NotificationMessage is the message snapshot carried by NewMessageEvent.
type NotificationMessage struct {
	ID        ID        `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

func (MessageEvent) Type() string     { return EventMessage }
func (TypingEvent) Type() string      { return EventTyping }
func (ReadReceiptEvent) Type() string { return EventReadReceipt }
func (PresenceEvent) Type() string    { return EventUserPresence }
func (NewMessageEvent) Type() string  { return EventNewMessage }

func (e MessageEvent) Dispatch(h EventHandler)     { h.HandleMessage(e) }
func (e TypingEvent) Dispatch(h EventHandler)      { h.HandleTyping(e) }
func (e ReadReceiptEvent) Dispatch(h EventHandler) { h.HandleReadReceipt(e) }
func (e PresenceEvent) Dispatch(h EventHandler)    { h.HandlePresence(e) }
func (e NewMessageEvent) Dispatch(h EventHandler)  { h.HandleNewMessage(e) }

type envelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses one JSON frame into its Event variant.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, WrapError(ErrorSerialization, "failed to decode event envelope", err)
	}
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventMessage:
		var v MessageEvent
		err = json.Unmarshal(data, &v.Message)
		ev = v
	case EventTyping:
		var v TypingEvent
		err = json.Unmarshal(data, &v)
		ev = v
	case EventReadReceipt:
		var v ReadReceiptEvent
		err = json.Unmarshal(data, &v)
		ev = v
	case EventUserPresence:
		var v PresenceEvent
		err = json.Unmarshal(data, &v)
		ev = v
	case EventNewMessage:
		var v NewMessageEvent
		err = json.Unmarshal(data, &v)
		ev = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, WrapError(ErrorSerialization, "failed to decode "+env.Type+" event", err)
	}
	return ev, nil
}

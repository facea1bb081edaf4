package securechat

import (
	"fmt"

	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
)

// Domain types shared with the REST client.
type (
	ID      = rest.ID
	User    = rest.User
	Message = rest.Message
	Room    = rest.Room
)

const (
	outboundChatMessage = "chat_message"
	outboundTyping      = "typing"
	outboundReadReceipt = "read_receipt"
)

// ChatMessage is sent over a room channel to post a message.
type ChatMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// TypingSignal announces the local user's typing intent.
type TypingSignal struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceipt tells the server the local user has read a room.
type ReadReceipt struct {
	Type   string `json:"type"`
	RoomID ID     `json:"room_id"`
}

// StatusCode is a WebSocket close code.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusAbnormalClosure StatusCode = 1006
	StatusInternalError   StatusCode = 1011
)

// Scope identifies one logical real-time channel: the notifications feed or a room.
type Scope struct {
	room ID
}

// ScopeNotifications is the per-user notifications feed.
var ScopeNotifications = Scope{}

// RoomScope is the channel of one room.
func RoomScope(id ID) Scope { return Scope{room: id} }

// IsNotifications reports whether s is the notifications feed.
func (s Scope) IsNotifications() bool { return s.room == 0 }

// RoomID returns the room of a room scope, zero for notifications.
func (s Scope) RoomID() ID { return s.room }

// Path is the WebSocket path below /ws/.
func (s Scope) Path() string {
	if s.IsNotifications() {
		return "notifications/"
	}
	return fmt.Sprintf("chat/%d/", s.room)
}

func (s Scope) String() string {
	if s.IsNotifications() {
		return "notifications"
	}
	return s.room.String()
}

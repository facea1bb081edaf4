package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID identifies users, rooms and messages. The server sends room ids as
// strings in WebSocket payloads and as numbers over REST, so ID accepts both.
// The zero value means "no identifier".
type ID int64

// UnmarshalJSON accepts a JSON number, a quoted number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("id: %w", err)
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			*id = 0
			return nil
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id %q: %w", s, err)
	}
	*id = ID(v)
	return nil
}

// String formats the id in base 10.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseID parses a base-10 id, as typed on a command line or taken from a URL.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(v), nil
}

// Authentication types

// LoginRequest is the request body for login. The backend authenticates by email.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// TokenPair is returned by login and register.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user,omitempty"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type logoutRequest struct {
	Refresh string `json:"refresh,omitempty"`
}

// User is a chat participant.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsOnline bool   `json:"is_online,omitempty"`
}

// Name returns the username, or the local part of the email when the
// username is empty.
func (u User) Name() string {
	if u.Username != "" {
		return u.Username
	}
	if i := strings.IndexByte(u.Email, '@'); i > 0 {
		return u.Email[:i]
	}
	return u.Email
}

// Room types

// DirectRoomPrefix marks rooms created through the direct-message endpoint.
const DirectRoomPrefix = "dm-"

// Room is a room summary as returned by the room endpoints.
type Room struct {
	ID           ID        `json:"id"`
	Name         string    `json:"name"`
	Participants []User    `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
}

// DisplayName derives a title from the participant list: the other
// participant for one-to-one rooms, the room name otherwise.
func (r Room) DisplayName(self ID) string {
	if len(r.Participants) == 2 || strings.HasPrefix(r.Name, DirectRoomPrefix) {
		for _, p := range r.Participants {
			if p.ID != self {
				return p.Name()
			}
		}
		if strings.HasPrefix(r.Name, DirectRoomPrefix) {
			return "Direct Message"
		}
	}
	return r.Name
}

// Peer returns the first participant that is not self.
func (r Room) Peer(self ID) (User, bool) {
	for _, p := range r.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return User{}, false
}

// LastActivity is the timestamp used to order room summaries.
func (r Room) LastActivity() time.Time {
	if r.LastMessage == nil {
		return time.Time{}
	}
	return r.LastMessage.Timestamp
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// DirectChatRequest is the request body for starting a direct chat.
type DirectChatRequest struct {
	UserID ID `json:"user_id"`
}

// Message history types

// Message is a single chat message.
type Message struct {
	ID        ID        `json:"id"`
	Content   string    `json:"content"`
	Sender    User      `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}

// PostMessageRequest is the body for the REST send fallback.
type PostMessageRequest struct {
	Room    ID     `json:"room"`
	Content string `json:"content"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func decodeErrorMessage(body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Error != "" {
			return er.Error
		}
		if er.Detail != "" {
			return er.Detail
		}
	}
	return strings.TrimSpace(string(body))
}

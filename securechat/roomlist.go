package securechat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RoomsAPI is the REST surface used to (re)load room summaries.
type RoomsAPI interface {
	ListRooms(ctx context.Context) ([]Room, error)
}

// RoomListConfig wires a RoomList to the local user.
type RoomListConfig struct {
	Self           ID
	API            RoomsAPI
	RequestTimeout time.Duration // bounds refreshes triggered by notifications
	Logger         Logger
}

// RoomList keeps the sidebar room summaries in sync with the notifications
// channel. Rooms are ordered by last activity, most recent first.
type RoomList struct {
	self    ID
	api     RoomsAPI
	timeout time.Duration
	logger  Logger

	mu       sync.Mutex
	rooms    []Room
	active   ID
	onChange func([]Room)
}

var _ EventHandler = (*RoomList)(nil)

// NewRoomList returns an empty list; call Refresh to load it.
func NewRoomList(cfg RoomListConfig) *RoomList {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &RoomList{
		self:    cfg.Self,
		api:     cfg.API,
		timeout: cfg.RequestTimeout,
		logger:  orNoop(cfg.Logger),
	}
}

// OnChange registers a callback receiving a snapshot after every change.
func (l *RoomList) OnChange(fn func([]Room)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Refresh replaces the list with the server's.
func (l *RoomList) Refresh(ctx context.Context) error {
	rooms, err := l.api.ListRooms(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.rooms = rooms
	sortRooms(l.rooms)
	l.mu.Unlock()
	l.changed()
	return nil
}

// SetActive marks the room currently open; it accrues no unread count.
func (l *RoomList) SetActive(id ID) {
	l.mu.Lock()
	l.active = id
	l.mu.Unlock()
}

// Active returns the room set by SetActive.
func (l *RoomList) Active() ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Rooms returns a copy of the current list.
func (l *RoomList) Rooms() []Room {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneRooms(l.rooms)
}

// Room looks up one summary by id.
func (l *RoomList) Room(id ID) (Room, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexLocked(id); i >= 0 {
		return cloneRooms(l.rooms[i : i+1])[0], true
	}
	return Room{}, false
}

// ApplyNotification folds one notifications-channel event into the list.
func (l *RoomList) ApplyNotification(ev Event) { ev.Dispatch(l) }

// HandleNewMessage moves the room to the front with the new preview. An
// unknown room means the list is stale, so it is reloaded instead.
func (l *RoomList) HandleNewMessage(ev NewMessageEvent) {
	l.mu.Lock()
	i := l.indexLocked(ev.RoomID)
	if i < 0 {
		l.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.Refresh(ctx); err != nil {
			l.logger.Warn("room list refresh failed", map[string]any{"room": ev.RoomID.String(), "error": err.Error()})
		}
		return
	}
	rm := &l.rooms[i]
	rm.LastMessage = &Message{
		ID:        ev.Message.ID,
		Content:   ev.Message.Content,
		Sender:    User{Username: ev.Message.Sender},
		Timestamp: ev.Message.Timestamp,
	}
	if rm.ID != l.active {
		rm.UnreadCount++
	}
	sortRooms(l.rooms)
	l.mu.Unlock()
	l.changed()
}

// HandlePresence updates the user's online flag in every room they are part of.
func (l *RoomList) HandlePresence(ev PresenceEvent) {
	l.mu.Lock()
	hit := false
	for i := range l.rooms {
		for j := range l.rooms[i].Participants {
			if l.rooms[i].Participants[j].ID == ev.UserID {
				l.rooms[i].Participants[j].IsOnline = ev.IsOnline
				hit = true
			}
		}
	}
	l.mu.Unlock()
	if hit {
		l.changed()
	}
}

// HandleReadReceipt clears the unread count when the local user read a room,
// possibly from another session.
func (l *RoomList) HandleReadReceipt(ev ReadReceiptEvent) {
	if ev.UserID != l.self {
		return
	}
	l.mu.Lock()
	i := l.indexLocked(ev.RoomID)
	if i < 0 {
		l.mu.Unlock()
		return
	}
	l.rooms[i].UnreadCount = 0
	l.mu.Unlock()
	l.changed()
}

// HandleMessage and HandleTyping ignore room-scope events.
func (l *RoomList) HandleMessage(MessageEvent) {}
func (l *RoomList) HandleTyping(TypingEvent)   {}

func (l *RoomList) indexLocked(id ID) int {
	for i := range l.rooms {
		if l.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *RoomList) changed() {
	l.mu.Lock()
	fn := l.onChange
	snap := cloneRooms(l.rooms)
	l.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func sortRooms(rooms []Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].LastActivity().After(rooms[j].LastActivity())
	})
}

func cloneRooms(in []Room) []Room {
	out := make([]Room, len(in))
	for i, r := range in {
		r.Participants = append([]User(nil), r.Participants...)
		if r.LastMessage != nil {
			m := *r.LastMessage
			r.LastMessage = &m
		}
		out[i] = r
	}
	return out
}

// Preview is the one-line summary of a room's last message.
func Preview(r Room, self User) string {
	m := r.LastMessage
	if m == nil {
		return "Tap to start chatting"
	}
	sender := m.Sender.Name()
	if (m.Sender.ID != 0 && m.Sender.ID == self.ID) || (m.Sender.ID == 0 && m.Sender.Username != "" && m.Sender.Username == self.Username) {
		sender = "You"
	}
	return sender + ": " + m.Content
}

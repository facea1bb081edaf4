package securechat

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRoomsAPI struct {
	mu    sync.Mutex
	rooms []Room
	calls int
}

func (a *fakeRoomsAPI) ListRooms(context.Context) ([]Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return cloneRooms(a.rooms), nil
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func roomAt(id ID, minutes int) Room {
	return Room{
		ID:           id,
		Name:         "room" + id.String(),
		Participants: []User{{ID: me, Username: "me"}, {ID: 2, Username: "bob"}},
		LastMessage:  &Message{ID: id * 10, Content: "x", Timestamp: t0.Add(time.Duration(minutes) * time.Minute)},
	}
}

func roomIDs(rooms []Room) []ID {
	out := make([]ID, len(rooms))
	for i, r := range rooms {
		out[i] = r.ID
	}
	return out
}

func newTestRoomList(t *testing.T, rooms ...Room) (*RoomList, *fakeRoomsAPI) {
	t.Helper()
	api := &fakeRoomsAPI{rooms: rooms}
	l := NewRoomList(RoomListConfig{Self: me, API: api})
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return l, api
}

func newMessage(room ID, at time.Time) NewMessageEvent {
	return NewMessageEvent{RoomID: room, Message: NotificationMessage{ID: 99, Content: "hey", Sender: "bob", Timestamp: at}}
}

func TestRoomListRefreshSorts(t *testing.T) {
	empty := Room{ID: 9, Name: "empty"}
	l, _ := newTestRoomList(t, roomAt(1, 2), empty, roomAt(3, 1), roomAt(2, 3))
	if got := roomIDs(l.Rooms()); !equalIDs(got, []ID{2, 1, 3, 9}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestRoomListNewMessageReorders(t *testing.T) {
	l, api := newTestRoomList(t, roomAt(2, 3), roomAt(1, 2), roomAt(3, 1))
	var snaps [][]Room
	l.OnChange(func(r []Room) { snaps = append(snaps, r) })

	l.HandleNewMessage(newMessage(3, t0.Add(4*time.Minute)))

	rooms := l.Rooms()
	if got := roomIDs(rooms); !equalIDs(got, []ID{3, 2, 1}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if rooms[0].UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", rooms[0].UnreadCount)
	}
	lm := rooms[0].LastMessage
	if lm == nil || lm.Content != "hey" || lm.Sender.Username != "bob" || lm.ID != 99 {
		t.Fatalf("unexpected last message: %+v", lm)
	}
	if api.calls != 1 {
		t.Fatalf("known room must not trigger a refresh")
	}
	if len(snaps) != 1 {
		t.Fatalf("expected one change notification, got %d", len(snaps))
	}
}

func TestRoomListActiveRoomStaysRead(t *testing.T) {
	l, _ := newTestRoomList(t, roomAt(2, 3), roomAt(1, 2), roomAt(3, 1))
	l.SetActive(3)
	l.HandleNewMessage(newMessage(3, t0.Add(4*time.Minute)))
	r, ok := l.Room(3)
	if !ok || r.UnreadCount != 0 {
		t.Fatalf("active room must not accrue unread, got %+v", r)
	}
	if l.Active() != 3 {
		t.Fatalf("unexpected active room %s", l.Active())
	}
}

func TestRoomListUnknownRoomRefreshes(t *testing.T) {
	l, api := newTestRoomList(t, roomAt(1, 1))
	api.mu.Lock()
	api.rooms = append(api.rooms, roomAt(5, 9))
	api.mu.Unlock()

	l.HandleNewMessage(newMessage(5, t0.Add(9*time.Minute)))
	if api.calls != 2 {
		t.Fatalf("expected a refresh, got %d calls", api.calls)
	}
	if got := roomIDs(l.Rooms()); !equalIDs(got, []ID{5, 1}) {
		t.Fatalf("unexpected rooms after refresh: %v", got)
	}
}

func TestRoomListReadReceipt(t *testing.T) {
	l, _ := newTestRoomList(t, roomAt(1, 1))
	l.HandleNewMessage(newMessage(1, t0.Add(time.Hour)))
	l.HandleNewMessage(newMessage(1, t0.Add(2*time.Hour)))

	l.HandleReadReceipt(ReadReceiptEvent{UserID: 2, RoomID: 1})
	if r, _ := l.Room(1); r.UnreadCount != 2 {
		t.Fatalf("receipt from another user must not reset unread, got %d", r.UnreadCount)
	}
	l.HandleReadReceipt(ReadReceiptEvent{UserID: me, RoomID: 1})
	if r, _ := l.Room(1); r.UnreadCount != 0 {
		t.Fatalf("local receipt must reset unread, got %d", r.UnreadCount)
	}
}

func TestRoomListPresenceFansOut(t *testing.T) {
	l, _ := newTestRoomList(t, roomAt(1, 1), roomAt(2, 2))
	l.HandlePresence(PresenceEvent{UserID: 2, IsOnline: true})
	for _, r := range l.Rooms() {
		if p, _ := r.Peer(me); !p.IsOnline {
			t.Fatalf("room %s: bob should be online", r.ID)
		}
	}
}

func TestRoomListRoomsIsACopy(t *testing.T) {
	l, _ := newTestRoomList(t, roomAt(1, 1))
	rooms := l.Rooms()
	rooms[0].Participants[1].IsOnline = true
	rooms[0].LastMessage.Content = "mutated"
	r, _ := l.Room(1)
	if r.Participants[1].IsOnline || r.LastMessage.Content == "mutated" {
		t.Fatalf("Rooms must not alias internal state")
	}
}

func TestPreview(t *testing.T) {
	u := User{ID: me, Username: "me"}
	if got := Preview(Room{}, u); got != "Tap to start chatting" {
		t.Fatalf("unexpected empty preview %q", got)
	}
	own := Room{LastMessage: &Message{Content: "hi", Sender: User{ID: me, Username: "me"}}}
	if got := Preview(own, u); got != "You: hi" {
		t.Fatalf("unexpected own preview %q", got)
	}
	fromFeed := Room{LastMessage: &Message{Content: "yo", Sender: User{Username: "me"}}}
	if got := Preview(fromFeed, u); got != "You: yo" {
		t.Fatalf("unexpected feed preview %q", got)
	}
	other := Room{LastMessage: &Message{Content: "hey", Sender: User{ID: 2, Username: "bob"}}}
	if got := Preview(other, u); got != "bob: hey" {
		t.Fatalf("unexpected preview %q", got)
	}
}

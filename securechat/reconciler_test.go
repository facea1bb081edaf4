package securechat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type fakeMessagesAPI struct {
	mu      sync.Mutex
	history []Message
	posted  []string
	lists   int
	postErr error
}

func (a *fakeMessagesAPI) ListMessages(_ context.Context, _ ID) ([]Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lists++
	return append([]Message(nil), a.history...), nil
}

func (a *fakeMessagesAPI) PostMessage(_ context.Context, _ ID, content string) (*Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.postErr != nil {
		return nil, a.postErr
	}
	a.posted = append(a.posted, content)
	m := Message{ID: ID(100 + len(a.posted)), Content: content}
	a.history = append(a.history, m)
	return &m, nil
}

func msg(id, sender ID) Message {
	return Message{ID: id, Content: "m" + id.String(), Sender: User{ID: sender, Username: "u" + sender.String()}}
}

func ids(msgs []Message) []ID {
	out := make([]ID, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const me ID = 1

func newTestReconciler(room ID) (*Reconciler, *fakeSender, *fakeMessagesAPI, *clock.Mock) {
	s := &fakeSender{open: true}
	api := &fakeMessagesAPI{}
	mock := clock.NewMock()
	r := NewReconciler(ReconcilerConfig{RoomID: room, Self: me, Channel: s, API: api, Clock: mock})
	return r, s, api, mock
}

func TestReconcilerDedupKeepsFirstSeenOrder(t *testing.T) {
	r, _, _, _ := newTestReconciler(42)
	r.ApplyHistory([]Message{msg(1, 2), msg(2, 2), msg(1, 2)})
	for _, id := range []ID{3, 2, 4, 3, 1} {
		r.HandleMessage(MessageEvent{msg(id, 2)})
	}
	if got := ids(r.Messages()); !equalIDs(got, []ID{1, 2, 3, 4}) {
		t.Fatalf("unexpected ids: %v", got)
	}
}

func TestReconcilerZeroIDsAreNotDeduplicated(t *testing.T) {
	r, _, _, _ := newTestReconciler(42)
	r.HandleMessage(MessageEvent{Message{Content: "a"}})
	r.HandleMessage(MessageEvent{Message{Content: "b"}})
	if n := len(r.Messages()); n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}

func TestReconcilerRoom42Scenario(t *testing.T) {
	r, s, api, _ := newTestReconciler(42)
	api.history = []Message{msg(1, me), msg(2, 2), msg(3, 2)}
	s.setOpen(false)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.setOpen(true)

	r.HandleMessage(MessageEvent{msg(3, 2)})
	if s.receipts() != 0 {
		t.Fatalf("duplicate must not trigger a read receipt")
	}
	r.HandleMessage(MessageEvent{msg(4, 2)})

	if got := ids(r.Messages()); !equalIDs(got, []ID{1, 2, 3, 4}) {
		t.Fatalf("unexpected ids: %v", got)
	}
	frames := s.frames()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one outbound frame, got %v", frames)
	}
	rr, ok := frames[0].(ReadReceipt)
	if !ok || rr.Type != "read_receipt" || rr.RoomID != 42 {
		t.Fatalf("unexpected frame %#v", frames[0])
	}
}

func TestReconcilerOwnMessageSendsNoReceipt(t *testing.T) {
	r, s, _, _ := newTestReconciler(42)
	r.HandleMessage(MessageEvent{msg(5, me)})
	if s.receipts() != 0 {
		t.Fatalf("own message must not be acknowledged")
	}
}

func TestReconcilerReadReceipts(t *testing.T) {
	r, _, _, _ := newTestReconciler(42)
	r.ApplyHistory([]Message{msg(1, me), msg(2, 2), msg(3, me)})

	r.HandleReadReceipt(ReadReceiptEvent{UserID: me, RoomID: 42})
	for _, m := range r.Messages() {
		if m.IsRead {
			t.Fatalf("local receipt must not change read flags: %+v", m)
		}
	}

	r.HandleReadReceipt(ReadReceiptEvent{UserID: 2, RoomID: 42})
	for _, m := range r.Messages() {
		if want := m.Sender.ID == me; m.IsRead != want {
			t.Fatalf("message %s read=%v, want %v", m.ID, m.IsRead, want)
		}
	}
}

func TestReconcilerTypingAndPresence(t *testing.T) {
	r, _, _, _ := newTestReconciler(42)
	changes := 0
	r.OnChange(func() { changes++ })

	r.HandleTyping(TypingEvent{UserID: 2, Username: "bob", IsTyping: true})
	if st, ok := r.Typing()[2]; !ok || st.Username != "bob" {
		t.Fatalf("expected bob typing, got %v", r.Typing())
	}
	r.HandleTyping(TypingEvent{UserID: 2, Username: "bob", IsTyping: false})
	if len(r.Typing()) != 0 {
		t.Fatalf("expected nobody typing, got %v", r.Typing())
	}

	r.HandlePresence(PresenceEvent{UserID: 2, IsOnline: true})
	if !r.Online(2) {
		t.Fatalf("expected user 2 online")
	}
	r.HandleNewMessage(NewMessageEvent{RoomID: 42})
	if changes != 3 {
		t.Fatalf("expected 3 change notifications, got %d", changes)
	}
}

func TestReconcilerReceiptOnOpen(t *testing.T) {
	r, s, _, _ := newTestReconciler(42)
	r.HandleState(StateEvent{OldState: StateConnecting, NewState: StateOpen})
	if s.receipts() != 0 {
		t.Fatalf("empty room must not send a receipt on open")
	}
	r.ApplyHistory([]Message{msg(1, 2)})
	r.HandleState(StateEvent{OldState: StateClosed, NewState: StateOpen})
	if s.receipts() != 1 {
		t.Fatalf("expected a receipt on open, got %d", s.receipts())
	}
}

func TestReconcilerTypingDebounce(t *testing.T) {
	r, s, _, mock := newTestReconciler(42)
	r.InputChanged()
	mock.Add(1500 * time.Millisecond)
	r.InputChanged()
	mock.Add(1500 * time.Millisecond)
	settle()
	if !r.LocalTyping() {
		t.Fatalf("typing must stay on within 2s of the last keystroke")
	}
	mock.Add(500 * time.Millisecond)
	waitFor(t, "typing off", func() bool { return !r.LocalTyping() })

	got := s.typingFrames()
	if len(got) != 3 || !got[0] || !got[1] || got[2] {
		t.Fatalf("unexpected typing frames: %v", got)
	}
}

func TestReconcilerSendStopsTyping(t *testing.T) {
	r, s, _, mock := newTestReconciler(42)
	r.InputChanged()
	via, err := r.Send(context.Background(), "  hello  ")
	if err != nil || !via {
		t.Fatalf("send: via=%v err=%v", via, err)
	}
	if r.LocalTyping() {
		t.Fatalf("send must clear local typing")
	}
	mock.Add(5 * time.Second)
	settle()

	frames := s.frames()
	if len(frames) != 3 {
		t.Fatalf("expected typing on, typing off, message; got %v", frames)
	}
	if ts, ok := frames[1].(TypingSignal); !ok || ts.IsTyping {
		t.Fatalf("expected typing off before the message, got %#v", frames[1])
	}
	if cm, ok := frames[2].(ChatMessage); !ok || cm.Content != "hello" {
		t.Fatalf("expected trimmed chat message, got %#v", frames[2])
	}
}

func TestReconcilerSendValidation(t *testing.T) {
	r, s, _, _ := newTestReconciler(42)
	_, err := r.Send(context.Background(), "   ")
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(s.frames()) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestReconcilerSendFallsBackToREST(t *testing.T) {
	r, s, api, _ := newTestReconciler(42)
	s.setOpen(false)

	via, err := r.Send(context.Background(), "offline hello")
	if err != nil || via {
		t.Fatalf("send: via=%v err=%v", via, err)
	}
	if len(api.posted) != 1 || api.posted[0] != "offline hello" {
		t.Fatalf("expected REST post, got %v", api.posted)
	}
	if api.lists != 1 {
		t.Fatalf("expected history re-fetch, got %d", api.lists)
	}
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Content != "offline hello" {
		t.Fatalf("expected re-fetched history, got %+v", msgs)
	}
}

func TestReconcilerSendRESTError(t *testing.T) {
	r, s, api, _ := newTestReconciler(42)
	s.setOpen(false)
	api.postErr = errors.New("boom")
	if _, err := r.Send(context.Background(), "x"); err == nil {
		t.Fatalf("expected error")
	}
	if len(r.Messages()) != 0 {
		t.Fatalf("failed send must not insert anything")
	}
}

func TestLayout(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, loc)
	at := func(id, sender ID, ts time.Time) Message {
		return Message{ID: id, Sender: User{ID: sender}, Timestamp: ts}
	}
	msgs := []Message{
		at(1, 1, day),
		at(2, 1, day.Add(30*time.Second)),
		at(3, 1, day.Add(2*time.Minute)),
		at(4, 2, day.Add(3*time.Minute)),
		at(5, 2, day.Add(24*time.Hour)),
	}
	items := Layout(msgs, loc)

	wantSep := []bool{true, false, false, false, true}
	wantAvatar := []bool{false, true, true, true, true}
	for i, it := range items {
		if it.DateSeparator != wantSep[i] || it.ShowAvatar != wantAvatar[i] {
			t.Fatalf("item %d: sep=%v avatar=%v, want sep=%v avatar=%v",
				i, it.DateSeparator, it.ShowAvatar, wantSep[i], wantAvatar[i])
		}
	}
	if len(Layout(nil, nil)) != 0 {
		t.Fatalf("empty input must produce no items")
	}
}

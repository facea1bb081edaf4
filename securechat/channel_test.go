package securechat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/securechat-sdk-go/internal/mockserver"
)

func newTestChannel(t *testing.T, scope Scope, token string) (*Channel, *fakeDialer, *clock.Mock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIBaseURL = "http://chat.test"
	ch := NewChannel(cfg, scope, staticToken(token))
	d := &fakeDialer{}
	mock := clock.NewMock()
	ch.SetDialer(d)
	ch.SetClock(mock)
	t.Cleanup(func() { _ = ch.Close() })
	return ch, d, mock
}

func openChannel(t *testing.T, ch *Channel, d *fakeDialer) *fakeTransport {
	t.Helper()
	ch.Open()
	waitFor(t, "channel open", func() bool { return ch.State() == StateOpen })
	return d.last()
}

func TestChannelURL(t *testing.T) {
	ch, d, _ := newTestChannel(t, RoomScope(42), "a b")
	openChannel(t, ch, d)
	if got, want := d.urls[0], "ws://chat.test/ws/chat/42/?token=a+b"; got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}

	n, dn, _ := newTestChannel(t, ScopeNotifications, "tok")
	openChannel(t, n, dn)
	if !strings.HasSuffix(dn.urls[0], "/ws/notifications/?token=tok") {
		t.Fatalf("unexpected notifications url %q", dn.urls[0])
	}
}

func TestChannelDeliversEvents(t *testing.T) {
	ch, d, _ := newTestChannel(t, RoomScope(42), "tok")
	got := make(chan MessageEvent, 1)
	var disp Dispatcher
	disp.SetOnMessage(func(ev MessageEvent) { got <- ev })
	ch.OnEvent(&disp)

	tr := openChannel(t, ch, d)
	tr.pushRaw(`not json`)
	tr.pushRaw(`{"type":"mystery"}`)
	tr.push(map[string]any{"type": "message", "id": 7, "content": "hi", "sender": map[string]any{"id": 2, "username": "bob"}})

	select {
	case ev := <-got:
		if ev.ID != 7 || ev.Content != "hi" || ev.Sender.Username != "bob" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message not delivered")
	}
	if ch.State() != StateOpen {
		t.Fatalf("bad frames must not close the channel, state %s", ch.State())
	}
}

func TestChannelNoCredentials(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(1), "")
	var mu sync.Mutex
	var events []StateEvent
	ch.OnStateChanged(func(ev StateEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	ch.Open()
	mock.Add(10 * time.Second)
	settle()

	if d.dials() != 0 {
		t.Fatalf("expected no dial without a token, got %d", d.dials())
	}
	if ch.State() != StateClosed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || Classify(events[0].Error) != ErrorNoCredentials {
		t.Fatalf("expected one no-credentials event, got %+v", events)
	}
}

func TestChannelReconnectsOnceAfterAbnormalClose(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(42), "tok")
	tr := openChannel(t, ch, d)

	tr.peerClose(StatusAbnormalClosure)
	waitFor(t, "closed", func() bool { return ch.State() == StateClosed })

	mock.Add(2999 * time.Millisecond)
	settle()
	if d.dials() != 1 {
		t.Fatalf("reconnected before the delay: %d dials", d.dials())
	}

	mock.Add(time.Millisecond)
	waitFor(t, "reconnect", func() bool { return d.dials() == 2 && ch.State() == StateOpen })

	mock.Add(10 * time.Second)
	settle()
	if d.dials() != 2 {
		t.Fatalf("expected exactly one reconnect, got %d dials", d.dials())
	}
}

func TestChannelNormalCloseDoesNotReconnect(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(42), "tok")
	tr := openChannel(t, ch, d)

	tr.peerClose(StatusNormalClosure)
	waitFor(t, "closed", func() bool { return ch.State() == StateClosed })
	mock.Add(5 * time.Second)
	settle()
	if d.dials() != 1 {
		t.Fatalf("normal closure must not reconnect, got %d dials", d.dials())
	}
}

func TestChannelCloseCancelsPendingReconnect(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(42), "tok")
	tr := openChannel(t, ch, d)

	tr.peerClose(StatusAbnormalClosure)
	waitFor(t, "closed", func() bool { return ch.State() == StateClosed })
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	mock.Add(5 * time.Second)
	settle()
	if d.dials() != 1 {
		t.Fatalf("explicit close must cancel the reconnect, got %d dials", d.dials())
	}
}

func TestChannelCloseIsNormalAndIdempotent(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(42), "tok")
	tr := openChannel(t, ch, d)

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if tr.closedWith() != StatusNormalClosure {
		t.Fatalf("expected close code 1000, got %d", tr.closedWith())
	}
	mock.Add(5 * time.Second)
	settle()
	if d.dials() != 1 || ch.State() != StateClosed {
		t.Fatalf("closed channel reconnected: dials=%d state=%s", d.dials(), ch.State())
	}
	ch.Open()
	settle()
	if d.dials() != 1 {
		t.Fatalf("closed channel must not reopen")
	}
}

// heldTransport hands out one frame only when released, ignoring
// cancellation, like a frame already buffered when the channel closes.
type heldTransport struct {
	release chan struct{}
	frame   []byte
	once    sync.Once
}

func (h *heldTransport) Read(ctx context.Context) ([]byte, error) {
	var first bool
	h.once.Do(func() { first = true })
	if first {
		<-h.release
		return h.frame, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *heldTransport) Write(context.Context, []byte) error { return nil }
func (h *heldTransport) Close(StatusCode, string) error      { return nil }

func TestChannelDropsFramesReadAfterClose(t *testing.T) {
	ch, _, _ := newTestChannel(t, RoomScope(42), "tok")
	held := &heldTransport{
		release: make(chan struct{}),
		frame:   []byte(`{"type":"message","id":1,"content":"late","sender":{"id":2,"username":"bob"}}`),
	}
	ch.SetDialer(DialerFunc(func(context.Context, string) (Transport, error) { return held, nil }))

	var delivered atomic.Int32
	var disp Dispatcher
	disp.SetOnMessage(func(MessageEvent) { delivered.Add(1) })
	ch.OnEvent(&disp)

	ch.Open()
	waitFor(t, "channel open", func() bool { return ch.State() == StateOpen })
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(held.release)
	settle()
	if n := delivered.Load(); n != 0 {
		t.Fatalf("handler received %d event(s) after Close", n)
	}
}

func TestChannelOpenWhileDialingIsIgnored(t *testing.T) {
	ch, d, _ := newTestChannel(t, RoomScope(42), "tok")
	proceed := make(chan struct{})
	var started atomic.Int32
	ch.SetDialer(DialerFunc(func(ctx context.Context, u string) (Transport, error) {
		started.Add(1)
		<-proceed
		return d.Dial(ctx, u)
	}))

	ch.Open()
	waitFor(t, "dial started", func() bool { return started.Load() == 1 })
	ch.Open()
	close(proceed)
	waitFor(t, "channel open", func() bool { return ch.State() == StateOpen })
	ch.Open()
	settle()
	if n := started.Load(); n != 1 || d.dials() != 1 {
		t.Fatalf("expected a single dial, got %d started and %d completed", n, d.dials())
	}
}

func TestChannelOpenWhileReconnectPendingDialsOnce(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(42), "tok")
	tr := openChannel(t, ch, d)
	tr.peerClose(StatusAbnormalClosure)
	waitFor(t, "closed", func() bool { return ch.State() == StateClosed })

	ch.Open()
	waitFor(t, "reopened", func() bool { return ch.State() == StateOpen })
	mock.Add(3 * time.Second)
	settle()
	if d.dials() != 2 {
		t.Fatalf("pending reconnect must be cancelled by Open, got %d dials", d.dials())
	}
	if ch.State() != StateOpen {
		t.Fatalf("state = %s, want open", ch.State())
	}
}

func TestChannelDialFailureSchedulesReconnect(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(42), "tok")
	d.setFail(true)
	var mu sync.Mutex
	var codes []StatusCode
	ch.OnStateChanged(func(ev StateEvent) {
		if ev.NewState == StateClosed {
			mu.Lock()
			codes = append(codes, ev.Code)
			mu.Unlock()
		}
	})
	ch.Open()
	waitFor(t, "dial failure", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(codes) == 1
	})
	if codes[0] != StatusAbnormalClosure {
		t.Fatalf("dial failure should count as 1006, got %d", codes[0])
	}

	d.setFail(false)
	mock.Add(3 * time.Second)
	waitFor(t, "reconnect", func() bool { return ch.State() == StateOpen })
	if d.dials() != 2 {
		t.Fatalf("expected 2 dials, got %d", d.dials())
	}
}

func TestChannelSend(t *testing.T) {
	ch, d, _ := newTestChannel(t, RoomScope(42), "tok")
	if ch.Send("early") {
		t.Fatalf("send before open must report false")
	}
	tr := openChannel(t, ch, d)
	if !ch.Send("hello") {
		t.Fatalf("send on open channel must report true")
	}
	w := tr.written()
	if len(w) != 1 || w[0]["type"] != "chat_message" || w[0]["content"] != "hello" {
		t.Fatalf("unexpected frames: %v", w)
	}
}

func TestChannelWriteErrorForcesClose(t *testing.T) {
	ch, d, mock := newTestChannel(t, RoomScope(42), "tok")
	tr := openChannel(t, ch, d)
	tr.mu.Lock()
	tr.writeErr = errFake
	tr.mu.Unlock()

	if !ch.Send("hello") {
		t.Fatalf("send reports whether the transport was open")
	}
	waitFor(t, "closed", func() bool { return ch.State() == StateClosed })
	if tr.closedWith() != StatusInternalError {
		t.Fatalf("expected transport torn down with 1011, got %d", tr.closedWith())
	}
	mock.Add(3 * time.Second)
	waitFor(t, "reconnect", func() bool { return d.dials() == 2 })
}

func TestChannelAgainstMockServer(t *testing.T) {
	srv := mockserver.New()
	defer srv.Close()
	alice := srv.AddUser("alice", "alice@example.com", "password1")
	access, _ := srv.IssueTokens(alice.ID)
	rid := srv.CreateRoom("general", alice.ID)

	cfg := DefaultConfig()
	cfg.APIBaseURL = srv.URL
	cfg.ReconnectDelay = 50 * time.Millisecond
	ch := NewChannel(cfg, RoomScope(ID(rid)), staticToken(access))
	defer ch.Close()

	got := make(chan MessageEvent, 4)
	var disp Dispatcher
	disp.SetOnMessage(func(ev MessageEvent) { got <- ev })
	ch.OnEvent(&disp)
	ch.Open()
	scope := mockserver.ChatScope(rid)
	waitFor(t, "server connection", func() bool { return srv.Connections(scope) == 1 })

	if !ch.Send("hello") {
		t.Fatalf("send failed on open channel")
	}
	select {
	case ev := <-got:
		if ev.Content != "hello" || ev.Sender.ID != ID(alice.ID) {
			t.Fatalf("unexpected echo: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no echo from server")
	}

	srv.DropConnections(scope)
	waitFor(t, "reconnect", func() bool { return srv.Connects(scope) == 2 && srv.Connections(scope) == 1 })

	srv.CloseConnections(scope, 1000)
	waitFor(t, "closed", func() bool { return ch.State() == StateClosed })
	time.Sleep(200 * time.Millisecond)
	if srv.Connects(scope) != 2 {
		t.Fatalf("normal closure must not reconnect, connects=%d", srv.Connects(scope))
	}
}

package securechat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

var errFake = errors.New("broken pipe")

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

type fakeTransport struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	writes    [][]byte
	writeErr  error
	closeCode StatusCode
	readErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return nil, t.readErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.writes = append(t.writes, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close(code StatusCode, reason string) error {
	t.finish(code, reason)
	return nil
}

// peerClose simulates the server closing the connection with code.
func (t *fakeTransport) peerClose(code StatusCode) { t.finish(code, "peer") }

func (t *fakeTransport) finish(code StatusCode, reason string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.closeCode = code
		t.readErr = &CloseError{Code: code, Reason: reason}
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *fakeTransport) push(v any) {
	data, _ := json.Marshal(v)
	t.frames <- data
}

func (t *fakeTransport) pushRaw(s string) { t.frames <- []byte(s) }

func (t *fakeTransport) closedWith() StatusCode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

func (t *fakeTransport) written() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, 0, len(t.writes))
	for _, w := range t.writes {
		var m map[string]any
		_ = json.Unmarshal(w, &m)
		out = append(out, m)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeTransport
	fail  bool
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.conns = append(d.conns, t)
	return t, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeSender records frames sent through a room channel.
type fakeSender struct {
	mu   sync.Mutex
	open bool
	sent []any
}

func (s *fakeSender) SendJSON(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	s.sent = append(s.sent, v)
	return true
}

func (s *fakeSender) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return StateOpen
	}
	return StateClosed
}

func (s *fakeSender) setOpen(v bool) {
	s.mu.Lock()
	s.open = v
	s.mu.Unlock()
}

func (s *fakeSender) frames() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.sent...)
}

func (s *fakeSender) typingFrames() []bool {
	var out []bool
	for _, f := range s.frames() {
		if ts, ok := f.(TypingSignal); ok {
			out = append(out, ts.IsTyping)
		}
	}
	return out
}

func (s *fakeSender) receipts() int {
	n := 0
	for _, f := range s.frames() {
		if _, ok := f.(ReadReceipt); ok {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives timer goroutines fired by a mock clock a chance to run.
func settle() { time.Sleep(30 * time.Millisecond) }

package securechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/vovakirdan/securechat-sdk-go/securechat/internal"
)

// Transport is one open WebSocket connection.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code StatusCode, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) { return f(ctx, url) }

// CloseError is returned by Transport.Read when the peer closed the connection.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}

// CredentialProvider supplies the access token used to authenticate a channel.
type CredentialProvider interface {
	AccessToken() string
}

type wsTransport struct {
	*internal.Conn
}

func (t wsTransport) Close(code StatusCode, reason string) error {
	return t.Conn.Close(int(code), reason)
}

func websocketDialer(cfg Config) Dialer {
	return DialerFunc(func(ctx context.Context, url string) (Transport, error) {
		conn, err := internal.Dial(ctx, url, cfg.HandshakeTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
		if err != nil {
			return nil, err
		}
		return wsTransport{conn}, nil
	})
}

func closeCodeOf(err error) StatusCode {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return StatusCode(internal.CloseCode(err))
}

// Channel owns one logical real-time connection for a scope. It reconnects
// after an unclean close with a fixed delay and no attempt limit, and holds
// at most one transport and one pending reconnect timer at a time.
type Channel struct {
	cfg    Config
	scope  Scope
	creds  CredentialProvider
	id     string
	dialer Dialer
	clock  clock.Clock
	logger Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	state        ConnectionState
	transport    Transport
	cancel       context.CancelFunc
	gen          uint64 // invalidates callbacks of superseded attempts
	dialing      bool
	reconnect    *clock.Timer
	reconnectSeq uint64
	closed       bool
	handler      EventHandler
	onState      func(StateEvent)
}

// NewChannel constructs a channel for scope. Call Open to connect.
func NewChannel(cfg Config, scope Scope, creds CredentialProvider) *Channel {
	return &Channel{
		cfg:    cfg,
		scope:  scope,
		creds:  creds,
		id:     uuid.NewString(),
		dialer: websocketDialer(cfg),
		clock:  clock.New(),
		logger: noopLogger{},
		state:  StateClosed,
	}
}

// SetLogger overrides logger (optional).
func (c *Channel) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetDialer replaces the WebSocket dialer. Must be called before Open.
func (c *Channel) SetDialer(d Dialer) {
	if d != nil {
		c.dialer = d
	}
}

// SetClock replaces the clock driving the reconnect timer. Must be called before Open.
func (c *Channel) SetClock(clk clock.Clock) {
	if clk != nil {
		c.clock = clk
	}
}

// OnEvent registers the single handler for inbound events, replacing any previous one.
func (c *Channel) OnEvent(h EventHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnStateChanged registers a callback for state transitions.
func (c *Channel) OnStateChanged(fn func(StateEvent)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// ID is a per-channel identifier used in logs.
func (c *Channel) ID() string { return c.id }

// Scope returns the channel's scope.
func (c *Channel) Scope() Scope { return c.scope }

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts connecting. The caller must not call Open twice on one
// channel; a repeated call while a transport is live is ignored.
func (c *Channel) Open() {
	c.mu.Lock()
	if c.closed || c.transport != nil || c.dialing {
		c.mu.Unlock()
		c.logger.Warn("open ignored", c.fields(nil))
		return
	}
	c.mu.Unlock()
	c.connect()
}

// Send posts a chat message. It reports whether the transport was open.
func (c *Channel) Send(content string) bool {
	return c.SendJSON(ChatMessage{Type: outboundChatMessage, Content: content})
}

// SendJSON writes v as one JSON frame. It returns true iff the transport was
// open at call time; nothing is queued when it was not.
func (c *Channel) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("encode outbound frame", c.fields(map[string]any{"error": err.Error()}))
		return false
	}
	c.mu.Lock()
	t, gen := c.transport, c.gen
	open := c.state == StateOpen && t != nil
	c.mu.Unlock()
	if !open {
		return false
	}

	c.writeMu.Lock()
	err = t.Write(context.Background(), data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("write failed", c.fields(map[string]any{"error": err.Error()}))
		_ = t.Close(StatusInternalError, "write error")
		c.handleClose(gen, StatusAbnormalClosure, err)
	}
	return true
}

// Close shuts the channel down with a normal closure and cancels any pending
// reconnect. It is idempotent; a closed channel cannot be reopened.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopReconnectLocked()
	t := c.transport
	c.transport = nil
	c.dialing = false
	cancel := c.cancel
	c.cancel = nil
	ev := c.setStateLocked(StateClosed, StatusNormalClosure, nil)
	c.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close(StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}
	c.emit(ev)
	c.logger.Debug("channel closed", c.fields(nil))
	return err
}

func (c *Channel) connect() {
	token := ""
	if c.creds != nil {
		token = c.creds.AccessToken()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopReconnectLocked()
	if token == "" {
		ev := c.setStateLocked(StateClosed, 0, NewError(ErrorNoCredentials, "no access token"))
		c.mu.Unlock()
		c.emit(ev)
		c.logger.Warn("no access token, not connecting", c.fields(nil))
		return
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.dialing = true
	ev := c.setStateLocked(StateConnecting, 0, nil)
	c.mu.Unlock()

	c.emit(ev)
	go c.run(ctx, gen, c.url(token))
}

func (c *Channel) url(token string) string {
	return c.cfg.WebSocketBase() + "/ws/" + c.scope.Path() + "?token=" + url.QueryEscape(token)
}

func (c *Channel) run(ctx context.Context, gen uint64, u string) {
	t, err := c.dialer.Dial(ctx, u)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if t != nil {
			_ = t.Close(StatusNormalClosure, "superseded")
		}
		return
	}
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("dial failed", c.fields(map[string]any{"error": err.Error()}))
		c.handleClose(gen, StatusAbnormalClosure, err)
		return
	}
	c.transport = t
	c.stopReconnectLocked()
	ev := c.setStateLocked(StateOpen, 0, nil)
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("channel open", c.fields(nil))
	c.readLoop(ctx, gen, t)
}

func (c *Channel) readLoop(ctx context.Context, gen uint64, t Transport) {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			c.handleClose(gen, closeCodeOf(err), err)
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			c.logger.Debug("dropping inbound frame", c.fields(map[string]any{"error": err.Error()}))
			continue
		}
		c.mu.Lock()
		h, stale := c.handler, gen != c.gen || c.closed
		c.mu.Unlock()
		if stale {
			return
		}
		if h != nil {
			ev.Dispatch(h)
		}
	}
}

// handleClose moves an attempt to closed and, unless the close was normal,
// schedules exactly one reconnect.
func (c *Channel) handleClose(gen uint64, code StatusCode, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.transport = nil
	c.dialing = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	var stateErr error
	if code != StatusNormalClosure {
		stateErr = WrapError(ErrorConnection, "connection lost", cause)
	}
	ev := c.setStateLocked(StateClosed, code, stateErr)
	scheduled := false
	if code != StatusNormalClosure && c.reconnect == nil {
		c.reconnectSeq++
		seq := c.reconnectSeq
		c.reconnect = c.clock.AfterFunc(c.cfg.ReconnectDelay, func() { c.fireReconnect(seq) })
		scheduled = true
	}
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("channel closed by peer", c.fields(map[string]any{"code": int(code), "reconnect": scheduled}))
}

func (c *Channel) fireReconnect(seq uint64) {
	c.mu.Lock()
	if c.closed || c.reconnect == nil || seq != c.reconnectSeq {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	c.mu.Unlock()

	c.logger.Info("reconnecting", c.fields(nil))
	c.connect()
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) setStateLocked(s ConnectionState, code StatusCode, err error) *StateEvent {
	if c.state == s && err == nil {
		return nil
	}
	ev := &StateEvent{OldState: c.state, NewState: s, Code: code, Error: err}
	c.state = s
	return ev
}

func (c *Channel) emit(ev *StateEvent) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(*ev)
	}
}

func (c *Channel) fields(extra map[string]any) map[string]any {
	f := map[string]any{"conn_id": c.id, "scope": c.scope.String()}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

package securechat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
	"github.com/vovakirdan/securechat-sdk-go/securechat/storage"
)

// DefaultRoomName is used when a room is created without a name.
const DefaultRoomName = "Untitled Room"

// Client is the entry point of the SDK. It owns the credential store, the
// REST client and the session, and opens room views and the sidebar.
type Client struct {
	cfg     Config
	logger  Logger
	clock   clock.Clock
	dialer  Dialer
	store   storage.Store
	creds   *Credentials
	api     *rest.Client
	session *Session
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() or LoadFromEnv() as a starting point.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, WrapError(ErrorInvalidConfig, "invalid config", err)
	}
	store, err := storage.Open(cfg.StorageDriver, cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	creds := NewCredentials(store)
	api := rest.NewClient(cfg.APIBaseURL, creds)
	if cfg.RequestTimeout > 0 {
		api.SetHTTPClient(&http.Client{Timeout: cfg.RequestTimeout})
	}
	return &Client{
		cfg:     cfg,
		logger:  noopLogger{},
		clock:   clock.New(),
		store:   store,
		creds:   creds,
		api:     api,
		session: NewSession(api, creds, nil),
	}, nil
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
	c.session.logger = l
}

// SetClock replaces the clock used by channels and debouncers (tests).
func (c *Client) SetClock(clk clock.Clock) {
	if clk != nil {
		c.clock = clk
	}
}

// SetDialer replaces the WebSocket dialer of channels opened afterwards.
func (c *Client) SetDialer(d Dialer) { c.dialer = d }

// OnAuthFailure registers a hook run when a token refresh fails and the
// stored credentials have been cleared.
func (c *Client) OnAuthFailure(fn func()) { c.api.OnAuthFailure(fn) }

func (c *Client) Config() Config            { return c.cfg }
func (c *Client) API() *rest.Client         { return c.api }
func (c *Client) Credentials() *Credentials { return c.creds }
func (c *Client) Session() *Session         { return c.session }

// Close releases the credential store.
func (c *Client) Close() error { return c.store.Close() }

// Rooms

// ListRooms returns the caller's rooms, most recently active first.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	rooms, err := c.api.ListRooms(ctx)
	if err != nil {
		return nil, WrapError(Classify(err), "list rooms", err)
	}
	sortRooms(rooms)
	return rooms, nil
}

// CreateRoom creates a room; an empty name becomes DefaultRoomName.
func (c *Client) CreateRoom(ctx context.Context, name string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultRoomName
	}
	r, err := c.api.CreateRoom(ctx, rest.CreateRoomRequest{Name: name})
	if err != nil {
		return Room{}, WrapError(Classify(err), "create room", err)
	}
	return *r, nil
}

// JoinRoom adds the local user to a room.
func (c *Client) JoinRoom(ctx context.Context, id ID) (Room, error) {
	r, err := c.api.JoinRoom(ctx, id)
	if err != nil {
		return Room{}, WrapError(Classify(err), "join room "+id.String(), err)
	}
	return *r, nil
}

// GetRoom fetches one room with its participants.
func (c *Client) GetRoom(ctx context.Context, id ID) (Room, error) {
	r, err := c.api.GetRoom(ctx, id)
	if err != nil {
		return Room{}, WrapError(Classify(err), "get room "+id.String(), err)
	}
	return *r, nil
}

// StartDirectChat returns the one-to-one room with userID, creating it if needed.
func (c *Client) StartDirectChat(ctx context.Context, userID ID) (Room, error) {
	r, err := c.api.StartDirectChat(ctx, userID)
	if err != nil {
		return Room{}, WrapError(Classify(err), "start direct chat", err)
	}
	return *r, nil
}

// NewUserSearch returns a debounced user search bound to this client.
func (c *Client) NewUserSearch() *UserSearch {
	return NewUserSearch(c.api, c.cfg, c.clock, c.logger)
}

func (c *Client) newChannel(scope Scope) *Channel {
	ch := NewChannel(c.cfg, scope, c.creds)
	ch.SetLogger(c.logger)
	ch.SetClock(c.clock)
	if c.dialer != nil {
		ch.SetDialer(c.dialer)
	}
	return ch
}

func (c *Client) self() (User, error) {
	u, ok := c.session.User()
	if !ok {
		return User{}, NewError(ErrorNoCredentials, "not signed in")
	}
	return u, nil
}

// RoomView is an open room: its channel and the reconciled message list.
type RoomView struct {
	Room       Room
	Channel    *Channel
	Reconciler *Reconciler

	mu      sync.Mutex
	onState func(StateEvent)
	once    sync.Once
}

// OpenRoom connects to a room and loads its history. The channel is opened
// before history is fetched so no message falls between the two.
func (c *Client) OpenRoom(ctx context.Context, id ID) (*RoomView, error) {
	me, err := c.self()
	if err != nil {
		return nil, err
	}
	ch := c.newChannel(RoomScope(id))
	rec := NewReconciler(ReconcilerConfig{
		RoomID:        id,
		Self:          me.ID,
		Channel:       ch,
		API:           c.api,
		TypingTimeout: c.cfg.TypingTimeout,
		Clock:         c.clock,
		Logger:        c.logger,
	})
	v := &RoomView{Channel: ch, Reconciler: rec}
	ch.OnEvent(rec)
	ch.OnStateChanged(v.handleState)
	ch.Open()

	room, err := c.api.GetRoom(ctx, id)
	if err != nil {
		v.Close()
		return nil, WrapError(Classify(err), "get room "+id.String(), err)
	}
	v.Room = *room
	if peer, ok := room.Peer(me.ID); ok {
		rec.SetOnline(peer.ID, peer.IsOnline)
	}
	if err := rec.Load(ctx); err != nil {
		v.Close()
		return nil, WrapError(Classify(err), "load history", err)
	}
	return v, nil
}

// OnStateChanged observes the room channel's connection state.
func (v *RoomView) OnStateChanged(fn func(StateEvent)) {
	v.mu.Lock()
	v.onState = fn
	v.mu.Unlock()
}

// OnEvent observes inbound room events after the reconciler has applied them.
func (v *RoomView) OnEvent(h EventHandler) {
	v.Channel.OnEvent(Fanout{v.Reconciler, h})
}

func (v *RoomView) handleState(ev StateEvent) {
	v.Reconciler.HandleState(ev)
	v.mu.Lock()
	fn := v.onState
	v.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Send posts a message, falling back to REST when the channel is down.
func (v *RoomView) Send(ctx context.Context, content string) (bool, error) {
	return v.Reconciler.Send(ctx, content)
}

// Close closes the channel with a normal closure and stops all timers.
func (v *RoomView) Close() {
	v.once.Do(func() {
		v.Reconciler.Close()
		_ = v.Channel.Close()
	})
}

// Sidebar is the notifications channel feeding a RoomList.
type Sidebar struct {
	Channel *Channel
	Rooms   *RoomList

	mu      sync.Mutex
	onState func(StateEvent)
}

// OpenSidebar connects the notifications feed and loads the room list.
func (c *Client) OpenSidebar(ctx context.Context) (*Sidebar, error) {
	me, err := c.self()
	if err != nil {
		return nil, err
	}
	rl := NewRoomList(RoomListConfig{Self: me.ID, API: c.api, RequestTimeout: c.cfg.RequestTimeout, Logger: c.logger})
	ch := c.newChannel(ScopeNotifications)
	s := &Sidebar{Channel: ch, Rooms: rl}
	ch.OnEvent(rl)
	ch.OnStateChanged(s.handleState)
	ch.Open()
	if err := rl.Refresh(ctx); err != nil {
		_ = ch.Close()
		return nil, WrapError(Classify(err), "load rooms", err)
	}
	return s, nil
}

// OnStateChanged observes the notifications channel's connection state.
func (s *Sidebar) OnStateChanged(fn func(StateEvent)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnEvent observes notifications after the room list has applied them.
func (s *Sidebar) OnEvent(h EventHandler) {
	s.Channel.OnEvent(Fanout{s.Rooms, h})
}

func (s *Sidebar) handleState(ev StateEvent) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Close closes the notifications channel with a normal closure.
func (s *Sidebar) Close() { _ = s.Channel.Close() }

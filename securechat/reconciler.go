package securechat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RoomSender is the part of a Channel a Reconciler writes through.
type RoomSender interface {
	SendJSON(v any) bool
	State() ConnectionState
}

// MessagesAPI is the REST surface used for history and the send fallback.
type MessagesAPI interface {
	ListMessages(ctx context.Context, roomID ID) ([]Message, error)
	PostMessage(ctx context.Context, roomID ID, content string) (*Message, error)
}

// TypingState is the last typing signal seen from one participant.
type TypingState struct {
	Username string
	IsTyping bool
}

// ReconcilerConfig wires a Reconciler to one room.
type ReconcilerConfig struct {
	RoomID        ID
	Self          ID // local user
	Channel       RoomSender
	API           MessagesAPI
	TypingTimeout time.Duration // default 2s
	Clock         clock.Clock
	Logger        Logger
}

// Reconciler merges REST history with the live event stream of one room.
// Messages keep arrival order and each non-zero id appears at most once.
type Reconciler struct {
	room          ID
	self          ID
	ch            RoomSender
	api           MessagesAPI
	typingTimeout time.Duration
	clock         clock.Clock
	logger        Logger

	mu          sync.Mutex
	messages    []Message
	seen        map[ID]struct{}
	typing      map[ID]TypingState
	online      map[ID]bool
	localTyping bool
	typingTimer *clock.Timer
	typingSeq   uint64
	closed      bool
	onChange    func()
}

var _ EventHandler = (*Reconciler)(nil)

// NewReconciler returns an empty reconciler for one room.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Reconciler{
		room:          cfg.RoomID,
		self:          cfg.Self,
		ch:            cfg.Channel,
		api:           cfg.API,
		typingTimeout: cfg.TypingTimeout,
		clock:         cfg.Clock,
		logger:        orNoop(cfg.Logger),
		seen:          map[ID]struct{}{},
		typing:        map[ID]TypingState{},
		online:        map[ID]bool{},
	}
}

// OnChange registers a callback invoked after every state change.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// ApplyHistory replaces the message list. Later duplicates of an id are dropped.
func (r *Reconciler) ApplyHistory(msgs []Message) {
	r.mu.Lock()
	r.messages = make([]Message, 0, len(msgs))
	r.seen = make(map[ID]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != 0 {
			if _, dup := r.seen[m.ID]; dup {
				continue
			}
			r.seen[m.ID] = struct{}{}
		}
		r.messages = append(r.messages, m)
	}
	r.mu.Unlock()
	r.changed()
}

// Load fetches the room history and, when the channel is open, marks it read.
func (r *Reconciler) Load(ctx context.Context) error {
	msgs, err := r.api.ListMessages(ctx, r.room)
	if err != nil {
		return fmt.Errorf("load history of room %s: %w", r.room, err)
	}
	r.ApplyHistory(msgs)
	if r.ch.State() == StateOpen {
		r.sendReceipt()
	}
	return nil
}

// ApplyInbound folds one event into the room state.
func (r *Reconciler) ApplyInbound(ev Event) { ev.Dispatch(r) }

// HandleMessage appends a message unless its id is already held, and sends a
// read receipt for messages from other users.
func (r *Reconciler) HandleMessage(ev MessageEvent) {
	m := ev.Message
	r.mu.Lock()
	if m.ID != 0 {
		if _, dup := r.seen[m.ID]; dup {
			r.mu.Unlock()
			r.logger.Debug("duplicate message dropped", map[string]any{"room": r.room.String(), "id": m.ID.String()})
			return
		}
		r.seen[m.ID] = struct{}{}
	}
	r.messages = append(r.messages, m)
	r.mu.Unlock()

	if m.Sender.ID != r.self {
		r.sendReceipt()
	}
	r.changed()
}

// HandleReadReceipt marks the local user's messages read when another
// participant has read the room.
func (r *Reconciler) HandleReadReceipt(ev ReadReceiptEvent) {
	if ev.UserID == r.self || (ev.RoomID != 0 && ev.RoomID != r.room) {
		return
	}
	r.mu.Lock()
	for i := range r.messages {
		if r.messages[i].Sender.ID == r.self {
			r.messages[i].IsRead = true
		}
	}
	r.mu.Unlock()
	r.changed()
}

// HandleTyping records another participant's typing state.
func (r *Reconciler) HandleTyping(ev TypingEvent) {
	if ev.UserID == r.self {
		return
	}
	r.mu.Lock()
	r.typing[ev.UserID] = TypingState{Username: ev.Username, IsTyping: ev.IsTyping}
	r.mu.Unlock()
	r.changed()
}

// HandlePresence records a participant going online or offline.
func (r *Reconciler) HandlePresence(ev PresenceEvent) {
	r.SetOnline(ev.UserID, ev.IsOnline)
}

// HandleNewMessage ignores notification summaries; room channels carry full messages.
func (r *Reconciler) HandleNewMessage(NewMessageEvent) {}

// HandleState sends a read receipt when the channel (re)opens on a non-empty room.
func (r *Reconciler) HandleState(ev StateEvent) {
	if ev.NewState != StateOpen {
		return
	}
	r.mu.Lock()
	n := len(r.messages)
	r.mu.Unlock()
	if n > 0 {
		r.sendReceipt()
	}
}

// SetOnline records a participant's presence.
func (r *Reconciler) SetOnline(userID ID, online bool) {
	r.mu.Lock()
	r.online[userID] = online
	r.mu.Unlock()
	r.changed()
}

// Send posts content over the channel, or over REST when the channel is not
// open. viaChannel reports which path was taken. Messages are never inserted
// locally; they appear when the server echoes them or history is re-fetched.
func (r *Reconciler) Send(ctx context.Context, content string) (viaChannel bool, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, NewError(ErrorValidation, "message content cannot be empty")
	}
	r.StopTyping()

	if r.ch.SendJSON(ChatMessage{Type: outboundChatMessage, Content: content}) {
		return true, nil
	}

	r.logger.Info("channel not open, sending over REST", map[string]any{"room": r.room.String()})
	if _, err := r.api.PostMessage(ctx, r.room, content); err != nil {
		return false, fmt.Errorf("post message to room %s: %w", r.room, err)
	}
	if r.ch.State() != StateOpen {
		if err := r.Load(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

// InputChanged signals typing and (re)arms the timer that clears it.
func (r *Reconciler) InputChanged() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.localTyping = true
	if r.typingTimer != nil {
		r.typingTimer.Stop()
	}
	r.typingSeq++
	seq := r.typingSeq
	r.typingTimer = r.clock.AfterFunc(r.typingTimeout, func() { r.typingExpired(seq) })
	r.mu.Unlock()

	r.ch.SendJSON(TypingSignal{Type: outboundTyping, IsTyping: true})
}

// StopTyping cancels the typing timer and, if the local user was typing,
// sends typing=false right away.
func (r *Reconciler) StopTyping() {
	r.mu.Lock()
	active := r.localTyping
	r.stopTypingLocked()
	r.mu.Unlock()
	if active {
		r.ch.SendJSON(TypingSignal{Type: outboundTyping, IsTyping: false})
	}
}

// LocalTyping reports whether the local user is currently marked as typing.
func (r *Reconciler) LocalTyping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localTyping
}

func (r *Reconciler) typingExpired(seq uint64) {
	r.mu.Lock()
	if seq != r.typingSeq || r.typingTimer == nil {
		r.mu.Unlock()
		return
	}
	r.typingTimer = nil
	r.localTyping = false
	r.mu.Unlock()
	r.ch.SendJSON(TypingSignal{Type: outboundTyping, IsTyping: false})
}

func (r *Reconciler) stopTypingLocked() {
	if r.typingTimer != nil {
		r.typingTimer.Stop()
		r.typingTimer = nil
	}
	r.typingSeq++
	r.localTyping = false
}

// Messages returns a copy of the reconciled message list.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Typing returns the participants currently typing, keyed by user id.
func (r *Reconciler) Typing() map[ID]TypingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[ID]TypingState, len(r.typing))
	for id, st := range r.typing {
		if st.IsTyping {
			out[id] = st
		}
	}
	return out
}

// Online reports the last known presence of a participant.
func (r *Reconciler) Online(userID ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

// Close stops the typing timer. It does not close the channel.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.stopTypingLocked()
	r.mu.Unlock()
}

func (r *Reconciler) sendReceipt() {
	r.ch.SendJSON(ReadReceipt{Type: outboundReadReceipt, RoomID: r.room})
}

func (r *Reconciler) changed() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Package mockserver is an in-process stand-in for the SecureChat backend.
// It speaks the same REST and WebSocket shapes and records what clients send,
// so SDK tests can run end to end without the real server.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// User is a registered account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsOnline bool   `json:"is_online"`

	password string
}

// Message is a stored chat message.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Sender    User      `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}

type room struct {
	id           int64
	name         string
	participants []int64
	createdAt    time.Time
	messages     []Message
}

type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	userID int64
}

func (c *wsConn) writeJSON(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteJSON(v)
}

// Server is a fake backend listening on a local httptest server.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int64
	users    map[int64]*User
	access   map[string]int64
	refresh  map[string]int64
	rooms    map[int64]*room
	conns    map[string]map[*wsConn]struct{}
	connects map[string]int
	inbound  map[string][]map[string]any
	hits     map[string]int
}

// ChatScope is the scope key of a room channel.
func ChatScope(roomID int64) string { return "chat:" + strconv.FormatInt(roomID, 10) }

// NotifyScope is the scope key of a user's notifications channel.
func NotifyScope(userID int64) string { return "notify:" + strconv.FormatInt(userID, 10) }

// New starts a fake backend. Close it with Close.
func New() *Server {
	s := &Server{
		users:    map[int64]*User{},
		access:   map[string]int64{},
		refresh:  map[string]int64{},
		rooms:    map[int64]*room{},
		conns:    map[string]map[*wsConn]struct{}{},
		connects: map[string]int{},
		inbound:  map[string][]map[string]any{},
		hits:     map[string]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// WSURL is the WebSocket base URL of the server.
func (s *Server) WSURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countHits)
	r.Post("/api/login/", s.handleLogin)
	r.Post("/api/login/refresh/", s.handleRefresh)
	r.Post("/api/register/", s.handleRegister)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/logout/", s.handleLogout)
		r.Get("/api/profile/", s.handleProfile)
		r.Get("/api/users/search/", s.handleSearch)
		r.Get("/api/chat/rooms/", s.handleListRooms)
		r.Post("/api/chat/rooms/", s.handleCreateRoom)
		r.Get("/api/chat/rooms/{id}/", s.handleGetRoom)
		r.Post("/api/chat/rooms/{id}/join/", s.handleJoinRoom)
		r.Get("/api/chat/rooms/{id}/messages/", s.handleListMessages)
		r.Post("/api/chat/rooms/{id}/messages/", s.handlePostMessage)
		r.Post("/api/chat/dm/", s.handleDirect)
	})
	r.Get("/ws/notifications/", s.handleWS)
	r.Get("/ws/chat/{id}/", s.handleWS)
	return r
}

// Fixtures

// AddUser registers an account and returns it.
func (s *Server) AddUser(username, email, password string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addUserLocked(username, email, password)
}

func (s *Server) addUserLocked(username, email, password string) *User {
	s.nextID++
	u := &User{ID: s.nextID, Username: username, Email: email, password: password}
	s.users[u.ID] = u
	return u
}

// IssueTokens mints a token pair for a user.
func (s *Server) IssueTokens(userID int64) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID)
}

func (s *Server) issueLocked(userID int64) (string, string) {
	access, refresh := uuid.NewString(), uuid.NewString()
	s.access[access] = userID
	s.refresh[refresh] = userID
	return access, refresh
}

// ExpireAccessTokens invalidates every access token; refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = map[string]int64{}
}

// RevokeRefreshTokens invalidates every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]int64{}
}

// CreateRoom adds a room with the given participants and returns its id.
func (s *Server) CreateRoom(name string, participants ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRoomLocked(name, participants...).id
}

func (s *Server) createRoomLocked(name string, participants ...int64) *room {
	s.nextID++
	rm := &room{id: s.nextID, name: name, participants: participants, createdAt: time.Now().UTC()}
	s.rooms[rm.id] = rm
	return rm
}

// AddMessage stores a message without broadcasting it.
func (s *Server) AddMessage(roomID, senderID int64, content string, ts time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(s.rooms[roomID], senderID, content, ts).ID
}

func (s *Server) storeLocked(rm *room, senderID int64, content string, ts time.Time) Message {
	s.nextID++
	m := Message{ID: s.nextID, Content: content, Sender: *s.users[senderID], Timestamp: ts}
	rm.messages = append(rm.messages, m)
	return m
}

// Observation

// Push writes v to every connection open on the scope.
func (s *Server) Push(scope string, v any) {
	for _, c := range s.connsOf(scope) {
		c.writeJSON(v)
	}
}

// DropConnections closes the TCP connections of a scope without a close
// frame, which clients observe as an abnormal closure (1006).
func (s *Server) DropConnections(scope string) {
	for _, c := range s.connsOf(scope) {
		_ = c.conn.UnderlyingConn().Close()
	}
}

// CloseConnections sends a close frame with the given code on every
// connection of a scope.
func (s *Server) CloseConnections(scope string, code int) {
	for _, c := range s.connsOf(scope) {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "server close"), time.Now().Add(time.Second))
		c.mu.Unlock()
	}
}

// Connections returns the number of currently open connections on a scope.
func (s *Server) Connections(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns[scope])
}

// Connects returns how many times clients connected to a scope.
func (s *Server) Connects(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects[scope]
}

// Inbound returns the frames received from clients on a scope.
func (s *Server) Inbound(scope string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.inbound[scope]))
	copy(out, s.inbound[scope])
	return out
}

// Hits returns how many requests reached a path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Messages returns the stored messages of a room.
func (s *Server) Messages(roomID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[roomID]
	if rm == nil {
		return nil
	}
	out := make([]Message, len(rm.messages))
	copy(out, rm.messages)
	return out
}

func (s *Server) connsOf(scope string) []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wsConn, 0, len(s.conns[scope]))
	for c := range s.conns[scope] {
		out = append(out, c)
	}
	return out
}

// Middleware

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type ctxUser struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		uid, ok := s.access[token]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		r.Header.Set("X-User-ID", strconv.FormatInt(uid, 10))
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Auth handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct{ Email, Password string }
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == req.Email && u.password == req.Password {
			access, refresh := s.issueLocked(u.ID)
			writeJSON(w, http.StatusOK, map[string]any{"access": access, "refresh": refresh, "user": u})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct{ Refresh string }
	_ = decode(r, &req)
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.refresh[req.Refresh]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
		return
	}
	access := uuid.NewString()
	s.access[access] = uid
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string `json:"email"`
		Username        string `json:"username"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"password_confirm"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == req.Email {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "A user with this email already exists."})
			return
		}
	}
	if req.Username == "" {
		req.Username = strings.SplitN(req.Email, "@", 2)[0]
	}
	u := s.addUserLocked(req.Username, req.Email, req.Password)
	access, refresh := s.issueLocked(u.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"access": access, "refresh": refresh, "user": u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct{ Refresh string }
	_ = decode(r, &req)
	s.mu.Lock()
	delete(s.refresh, req.Refresh)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.users[userID(r)])
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("search"))
	self := userID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []User{}
	if q != "" {
		for _, u := range s.users {
			if u.ID == self {
				continue
			}
			if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Email), q) {
				out = append(out, *u)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

// Room handlers

func (s *Server) roomJSONLocked(rm *room, viewer int64) map[string]any {
	parts := make([]User, 0, len(rm.participants))
	for _, id := range rm.participants {
		if u := s.users[id]; u != nil {
			parts = append(parts, *u)
		}
	}
	var last *Message
	unread := 0
	for i := range rm.messages {
		m := rm.messages[i]
		last = &m
		if !m.IsRead && m.Sender.ID != viewer {
			unread++
		}
	}
	return map[string]any{
		"id":           rm.id,
		"name":         rm.name,
		"participants": parts,
		"created_at":   rm.createdAt,
		"last_message": last,
		"unread_count": unread,
	}
}

func (s *Server) roomFromURL(w http.ResponseWriter, r *http.Request) *room {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	rm := s.rooms[id]
	if rm == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Room not found"})
	}
	return rm
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	self := userID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.rooms))
	for id, rm := range s.rooms {
		for _, p := range rm.participants {
			if p == self {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.roomJSONLocked(s.rooms[id], self))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct{ Name string }
	_ = decode(r, &req)
	self := userID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.createRoomLocked(req.Name, self)
	writeJSON(w, http.StatusCreated, s.roomJSONLocked(rm, self))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm := s.roomFromURL(w, r); rm != nil {
		writeJSON(w, http.StatusOK, s.roomJSONLocked(rm, userID(r)))
	}
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	self := userID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.roomFromURL(w, r)
	if rm == nil {
		return
	}
	joined := false
	for _, p := range rm.participants {
		joined = joined || p == self
	}
	if !joined {
		rm.participants = append(rm.participants, self)
	}
	writeJSON(w, http.StatusOK, s.roomJSONLocked(rm, self))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm := s.roomFromURL(w, r); rm != nil {
		out := make([]Message, len(rm.messages))
		copy(out, rm.messages)
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct{ Content string }
	_ = decode(r, &req)
	s.mu.Lock()
	rm := s.roomFromURL(w, r)
	if rm == nil {
		s.mu.Unlock()
		return
	}
	m := s.storeLocked(rm, userID(r), req.Content, time.Now().UTC())
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id"`
	}
	_ = decode(r, &req)
	self := userID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[req.UserID] == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	for _, rm := range s.rooms {
		if len(rm.participants) != 2 {
			continue
		}
		a, b := rm.participants[0], rm.participants[1]
		if (a == self && b == req.UserID) || (a == req.UserID && b == self) {
			writeJSON(w, http.StatusOK, s.roomJSONLocked(rm, self))
			return
		}
	}
	rm := s.createRoomLocked(fmt.Sprintf("dm-%s", uuid.NewString()), self, req.UserID)
	writeJSON(w, http.StatusCreated, s.roomJSONLocked(rm, self))
}

// WebSocket

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	uid, ok := s.access[r.URL.Query().Get("token")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var scope string
	var roomID int64
	if idParam := chi.URLParam(r, "id"); idParam != "" {
		roomID, _ = strconv.ParseInt(idParam, 10, 64)
		scope = ChatScope(roomID)
	} else {
		scope = NotifyScope(uid)
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: ws, userID: uid}
	s.mu.Lock()
	if s.conns[scope] == nil {
		s.conns[scope] = map[*wsConn]struct{}{}
	}
	s.conns[scope][c] = struct{}{}
	s.connects[scope]++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns[scope], c)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		s.mu.Lock()
		s.inbound[scope] = append(s.inbound[scope], frame)
		s.mu.Unlock()
		if roomID != 0 {
			s.handleRoomFrame(roomID, uid, frame)
		}
	}
}

// handleRoomFrame mirrors the backend consumer: messages are stored and fanned
// out to the room and to the other participants' notification feeds.
func (s *Server) handleRoomFrame(roomID, uid int64, frame map[string]any) {
	roomKey := strconv.FormatInt(roomID, 10)
	switch frame["type"] {
	case "chat_message":
		content, _ := frame["content"].(string)
		if content == "" {
			return
		}
		s.mu.Lock()
		rm := s.rooms[roomID]
		if rm == nil {
			s.mu.Unlock()
			return
		}
		m := s.storeLocked(rm, uid, content, time.Now().UTC())
		others := s.othersLocked(rm, uid)
		s.mu.Unlock()
		s.Push(ChatScope(roomID), map[string]any{
			"type": "message", "id": m.ID, "content": m.Content, "sender": m.Sender,
			"timestamp": m.Timestamp, "is_read": false,
		})
		for _, p := range others {
			s.Push(NotifyScope(p), map[string]any{
				"type": "new_message", "room_id": roomKey,
				"message": map[string]any{"id": m.ID, "content": m.Content, "sender": m.Sender.Username, "timestamp": m.Timestamp},
			})
		}
	case "typing":
		isTyping, _ := frame["is_typing"].(bool)
		s.mu.Lock()
		name := s.users[uid].Username
		s.mu.Unlock()
		ev := map[string]any{"type": "typing", "user_id": uid, "username": name, "is_typing": isTyping}
		for _, c := range s.connsOf(ChatScope(roomID)) {
			if c.userID != uid {
				c.writeJSON(ev)
			}
		}
	case "read_receipt":
		s.mu.Lock()
		rm := s.rooms[roomID]
		if rm == nil {
			s.mu.Unlock()
			return
		}
		for i := range rm.messages {
			if rm.messages[i].Sender.ID != uid {
				rm.messages[i].IsRead = true
			}
		}
		participants := append([]int64(nil), rm.participants...)
		s.mu.Unlock()
		// The reader's own feed gets the receipt too, which clears its unread badge.
		ev := map[string]any{"type": "read_receipt", "room_id": roomKey, "user_id": uid}
		s.Push(ChatScope(roomID), ev)
		for _, p := range participants {
			s.Push(NotifyScope(p), ev)
		}
	}
}

func (s *Server) othersLocked(rm *room, uid int64) []int64 {
	out := make([]int64, 0, len(rm.participants))
	for _, p := range rm.participants {
		if p != uid {
			out = append(out, p)
		}
	}
	return out
}

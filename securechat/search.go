package securechat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// UsersAPI is the REST surface used by user search.
type UsersAPI interface {
	SearchUsers(ctx context.Context, query string) ([]User, error)
}

// UserSearch debounces queries and runs only the last one of a burst.
type UserSearch struct {
	api     UsersAPI
	delay   time.Duration
	timeout time.Duration
	clock   clock.Clock
	logger  Logger

	mu        sync.Mutex
	timer     *clock.Timer
	seq       uint64
	results   []User
	onResults func(query string, users []User)
}

// NewUserSearch returns a search that waits cfg.SearchDebounce after the last
// query change before calling api.
func NewUserSearch(api UsersAPI, cfg Config, clk clock.Clock, logger Logger) *UserSearch {
	if clk == nil {
		clk = clock.New()
	}
	return &UserSearch{
		api:     api,
		delay:   cfg.SearchDebounce,
		timeout: cfg.RequestTimeout,
		clock:   clk,
		logger:  orNoop(logger),
	}
}

// OnResults registers the callback receiving each completed search.
func (s *UserSearch) OnResults(fn func(query string, users []User)) {
	s.mu.Lock()
	s.onResults = fn
	s.mu.Unlock()
}

// SetQuery schedules a search for q. An empty query clears the results
// without a request.
func (s *UserSearch) SetQuery(q string) {
	q = strings.TrimSpace(q)
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	seq := s.seq
	if q == "" {
		s.results = nil
		fn := s.onResults
		s.mu.Unlock()
		if fn != nil {
			fn("", nil)
		}
		return
	}
	s.timer = s.clock.AfterFunc(s.delay, func() { s.run(seq, q) })
	s.mu.Unlock()
}

// Results returns the users found by the last completed search.
func (s *UserSearch) Results() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]User(nil), s.results...)
}

// Stop cancels a pending search.
func (s *UserSearch) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	s.mu.Unlock()
}

func (s *UserSearch) run(seq uint64, q string) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	users, err := s.api.SearchUsers(ctx, q)
	if err != nil {
		s.logger.Warn("user search failed", map[string]any{"query": q, "error": err.Error()})
		return
	}

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.results = users
	fn := s.onResults
	s.mu.Unlock()
	if fn != nil {
		fn(q, users)
	}
}

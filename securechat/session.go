package securechat

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"

	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
)

// MinPasswordLength mirrors the server's registration rule.
const MinPasswordLength = 8

// ValidateLogin checks login input before any request is made.
func ValidateLogin(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return NewError(ErrorValidation, "email is required")
	}
	if password == "" {
		return NewError(ErrorValidation, "password is required")
	}
	return nil
}

// ValidateRegistration checks registration input before any request is made.
func ValidateRegistration(req rest.RegisterRequest) error {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return NewError(ErrorValidation, "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return WrapError(ErrorValidation, "email is not valid", err)
	}
	if len(req.Password) < MinPasswordLength {
		return NewError(ErrorValidation, "password must be at least 8 characters")
	}
	if req.Password != req.PasswordConfirm {
		return NewError(ErrorValidation, "passwords do not match")
	}
	return nil
}

// Session tracks the signed-in user.
type Session struct {
	api    *rest.Client
	creds  *Credentials
	logger Logger

	mu   sync.Mutex
	user *User
}

// NewSession returns a signed-out session backed by creds.
func NewSession(api *rest.Client, creds *Credentials, logger Logger) *Session {
	return &Session{api: api, creds: creds, logger: orNoop(logger)}
}

// User returns the signed-in user, if any.
func (s *Session) User() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Login authenticates with email and password and stores the token pair.
func (s *Session) Login(ctx context.Context, email, password string) (User, error) {
	if err := ValidateLogin(email, password); err != nil {
		return User{}, err
	}
	pair, err := s.api.Login(ctx, rest.LoginRequest{Email: strings.TrimSpace(email), Password: password})
	if err != nil {
		return User{}, WrapError(Classify(err), "login failed", err)
	}
	return s.adopt(pair)
}

// Register creates an account and signs it in.
func (s *Session) Register(ctx context.Context, req rest.RegisterRequest) (User, error) {
	if err := ValidateRegistration(req); err != nil {
		return User{}, err
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	pair, err := s.api.Register(ctx, req)
	if err != nil {
		return User{}, WrapError(Classify(err), "registration failed", err)
	}
	return s.adopt(pair)
}

func (s *Session) adopt(pair *rest.TokenPair) (User, error) {
	if err := s.creds.SetTokens(pair.Access, pair.Refresh); err != nil {
		return User{}, err
	}
	var u User
	if pair.User != nil {
		u = *pair.User
	} else {
		id, err := IdentityFromToken(pair.Access)
		if err != nil {
			return User{}, err
		}
		u = id
	}
	s.set(&u)
	s.logger.Info("signed in", map[string]any{"user_id": u.ID.String(), "username": u.Username})
	return u, nil
}

// Restore resumes a stored session. The profile endpoint is authoritative;
// when it cannot be reached the token claims are used instead.
func (s *Session) Restore(ctx context.Context) (User, error) {
	access := s.creds.AccessToken()
	if access == "" {
		return User{}, NewError(ErrorNoCredentials, "not signed in")
	}
	u, err := s.api.Profile(ctx)
	if err == nil {
		s.set(u)
		return *u, nil
	}
	if errors.Is(err, rest.ErrUnauthorized) {
		s.set(nil)
		return User{}, WrapError(ErrorUnauthorized, "session expired", err)
	}
	s.logger.Warn("profile fetch failed, using token claims", map[string]any{"error": err.Error()})
	id, claimErr := IdentityFromToken(access)
	if claimErr != nil {
		_ = s.creds.Clear()
		return User{}, claimErr
	}
	s.set(&id)
	return id, nil
}

// Profile re-fetches the signed-in user.
func (s *Session) Profile(ctx context.Context) (User, error) {
	u, err := s.api.Profile(ctx)
	if err != nil {
		return User{}, WrapError(Classify(err), "fetch profile", err)
	}
	s.set(u)
	return *u, nil
}

// Logout revokes the refresh token on the server and clears local
// credentials. Credentials are cleared even when the server call fails; that
// error is still returned.
func (s *Session) Logout(ctx context.Context) error {
	var apiErr error
	if refresh := s.creds.RefreshToken(); refresh != "" {
		if err := s.api.Logout(ctx, refresh); err != nil {
			s.logger.Warn("logout request failed", map[string]any{"error": err.Error()})
			apiErr = WrapError(Classify(err), "logout request failed", err)
		}
	}
	s.set(nil)
	if err := s.creds.Clear(); err != nil {
		return errors.Join(apiErr, err)
	}
	return apiErr
}

func (s *Session) set(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return
	}
	c := *u
	s.user = &c
}

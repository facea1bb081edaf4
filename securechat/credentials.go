package securechat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
	"github.com/vovakirdan/securechat-sdk-go/securechat/storage"
)

// Theme is the persisted colour scheme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme validates a theme name.
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case ThemeLight, ThemeDark:
		return t, nil
	}
	return "", NewError(ErrorValidation, fmt.Sprintf("unknown theme %q", s))
}

// Credentials keeps the token pair and preferences in a storage.Store. It
// implements rest.TokenStore and CredentialProvider; every read goes to the
// store so a token refreshed by one component is seen by all.
type Credentials struct {
	mu    sync.Mutex
	store storage.Store
}

var (
	_ rest.TokenStore    = (*Credentials)(nil)
	_ CredentialProvider = (*Credentials)(nil)
)

// NewCredentials reads and writes tokens through store.
func NewCredentials(store storage.Store) *Credentials {
	return &Credentials{store: store}
}

func (c *Credentials) AccessToken() string  { return c.get(storage.KeyAccessToken) }
func (c *Credentials) RefreshToken() string { return c.get(storage.KeyRefreshToken) }

// LoggedIn reports whether an access token is stored.
func (c *Credentials) LoggedIn() bool { return c.AccessToken() != "" }

// SetTokens stores a token pair. An empty refresh keeps the stored one, as
// refresh responses may omit it.
func (c *Credentials) SetTokens(access, refresh string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Set(storage.KeyAccessToken, access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if refresh != "" {
		if err := c.store.Set(storage.KeyRefreshToken, refresh); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
	}
	return nil
}

// Clear removes both tokens. The theme preference survives.
func (c *Credentials) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(
		c.store.Delete(storage.KeyAccessToken),
		c.store.Delete(storage.KeyRefreshToken),
	)
}

// Theme returns the stored theme, dark by default.
func (c *Credentials) Theme() Theme {
	if t, err := ParseTheme(c.get(storage.KeyTheme)); err == nil {
		return t
	}
	return ThemeDark
}

// SetTheme persists the theme preference.
func (c *Credentials) SetTheme(t Theme) error {
	if _, err := ParseTheme(string(t)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Set(storage.KeyTheme, string(t))
}

func (c *Credentials) get(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.store.Get(key)
	if err != nil {
		return ""
	}
	return v
}

// IdentityFromToken reads the user encoded in an access token's claims. The
// signature is not verified; the server does that on every request.
func IdentityFromToken(token string) (User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return User{}, WrapError(ErrorNoCredentials, "malformed access token", err)
	}

	var u User
	for _, k := range []string{"user_id", "id"} {
		if id, ok := claimID(claims[k]); ok {
			u.ID = id
			break
		}
	}
	if u.ID == 0 {
		return User{}, NewError(ErrorNoCredentials, "access token carries no user id")
	}
	u.Email, _ = claims["email"].(string)
	u.Username, _ = claims["username"].(string)
	if u.Email == "" {
		u.Email = u.Username
	}
	if u.Username == "" {
		u.Username = u.Name()
	}
	if u.Username == "" {
		u.Username = "User"
	}
	return u, nil
}

func claimID(v any) (ID, bool) {
	switch x := v.(type) {
	case float64:
		return ID(x), x != 0
	case string:
		id, err := rest.ParseID(x)
		return id, err == nil && id != 0
	case nil:
		return 0, false
	default:
		id, err := strconv.ParseInt(fmt.Sprint(x), 10, 64)
		return ID(id), err == nil && id != 0
	}
}

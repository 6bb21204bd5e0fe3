// Package session keeps per-browser storefront state in a signed cookie. The
// session id selects the cart snapshot; flashes carry user-facing signals
// across redirects.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const (
	defaultCookieName = "nail_store_session"
	defaultCookiePath = "/"
	defaultLifetime   = 30 * 24 * time.Hour
	maxFlashes        = 5
)

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// Flash tones.
const (
	ToneSuccess = "success"
	ToneError   = "error"
	ToneInfo    = "info"
)

// Flash is a one-shot message rendered on the next page view. Key is a
// message catalog key; Arg is substituted into it.
type Flash struct {
	Tone string `json:"tone"`
	Key  string `json:"key"`
	Arg  string `json:"arg,omitempty"`
}

// Data is the persisted cookie payload.
type Data struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Locale     string    `json:"locale,omitempty"`
	CSRFToken  string    `json:"csrf,omitempty"`
	OrderToken string    `json:"orderToken,omitempty"`
	Flashes    []Flash   `json:"flashes,omitempty"`
}

// Session holds mutable state for the current request.
type Session struct {
	data  Data
	dirty bool
}

// Config controls cookie encoding and lifetime.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookiePath   string
	CookieSecure bool
	Lifetime     time.Duration
	Now          func() time.Time
}

// Manager decodes and persists sessions via signed (and optionally encrypted) cookies.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewManager constructs a Manager using cfg.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var blockKey []byte
	if len(cfg.BlockKey) > 0 {
		blockKey = cfg.BlockKey
	}
	codec := securecookie.New(cfg.HashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime / time.Second))

	return &Manager{cfg: cfg, codec: codec, now: now}, nil
}

// CookieName returns the configured cookie name.
func (m *Manager) CookieName() string { return m.cfg.CookieName }

// Load decodes the session cookie. Missing, tampered or expired cookies yield
// a fresh session; the returned bool reports whether the cookie was reused.
func (m *Manager) Load(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return m.New(), false
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil {
		return m.New(), false
	}
	if _, err := uuid.Parse(stored.ID); err != nil {
		return m.New(), false
	}
	if !stored.ExpiresAt.IsZero() && m.now().After(stored.ExpiresAt) {
		return m.New(), false
	}
	return &Session{data: stored}, true
}

// New returns a pristine session with a random id.
func (m *Manager) New() *Session {
	now := m.now().UTC()
	return &Session{
		data: Data{
			ID:        uuid.NewString(),
			CreatedAt: now,
			ExpiresAt: now.Add(m.cfg.Lifetime),
		},
		dirty: true,
	}
}

// Save writes the session cookie.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	encoded, err := m.codec.Encode(m.cfg.CookieName, sess.data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	cookie := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if !sess.data.ExpiresAt.IsZero() {
		cookie.Expires = sess.data.ExpiresAt.UTC()
		remaining := sess.data.ExpiresAt.Sub(m.now())
		if remaining <= 0 {
			cookie.MaxAge = -1
		} else {
			cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
		}
	}
	http.SetCookie(w, cookie)
	sess.dirty = false
	return nil
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.data.ID }

// Dirty reports whether the session changed since it was loaded or saved.
func (s *Session) Dirty() bool { return s.dirty }

// Locale returns the stored language preference.
func (s *Session) Locale() string { return s.data.Locale }

// SetLocale stores the language preference.
func (s *Session) SetLocale(lang string) {
	if s.data.Locale == lang {
		return
	}
	s.data.Locale = lang
	s.dirty = true
}

// EnsureCSRFToken returns the CSRF token, generating one on first use.
func (s *Session) EnsureCSRFToken() string {
	if s.data.CSRFToken == "" {
		s.data.CSRFToken = uuid.NewString()
		s.dirty = true
	}
	return s.data.CSRFToken
}

// CSRFToken returns the stored CSRF token.
func (s *Session) CSRFToken() string { return s.data.CSRFToken }

// OrderToken returns the pending order request token, if any.
func (s *Session) OrderToken() string { return s.data.OrderToken }

// SetOrderToken stores or clears the pending order request token.
func (s *Session) SetOrderToken(token string) {
	if s.data.OrderToken == token {
		return
	}
	s.data.OrderToken = token
	s.dirty = true
}

// AddFlash queues a message for the next page view. Only the most recent
// flashes are kept.
func (s *Session) AddFlash(tone, key, arg string) {
	s.data.Flashes = append(s.data.Flashes, Flash{Tone: tone, Key: key, Arg: arg})
	if len(s.data.Flashes) > maxFlashes {
		s.data.Flashes = s.data.Flashes[len(s.data.Flashes)-maxFlashes:]
	}
	s.dirty = true
}

// TakeFlashes returns and clears the queued flashes.
func (s *Session) TakeFlashes() []Flash {
	if len(s.data.Flashes) == 0 {
		return nil
	}
	flashes := s.data.Flashes
	s.data.Flashes = nil
	s.dirty = true
	return flashes
}

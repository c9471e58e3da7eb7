// Package session owns the authentication session: the access/refresh token
// pair, the cached user snapshot, and the single-flight token refresh. It is
// an explicit, injectable service; components that need session state take
// it as a dependency instead of reading ambient globals.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sangamlink/client-go/internal/api"
	"github.com/sangamlink/client-go/internal/credstore"
	"github.com/sangamlink/client-go/internal/errs"
	"github.com/sangamlink/client-go/internal/model"
)

// State is the session lifecycle state.
type State int

const (
	Uninitialized State = iota
	Hydrating
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Hydrating:
		return "hydrating"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// EventType classifies session broadcasts.
type EventType int

const (
	EventLoggedIn EventType = iota
	EventTokenRefreshed
	EventLoggedOut
	EventSessionExpired
)

// Event is broadcast to subscribers on every session transition so dependent
// components (the realtime channel in particular) re-read the token instead
// of caching a stale copy.
type Event struct {
	Type        EventType
	AccessToken string
}

// AuthAPI is the slice of the request layer the session depends on.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (model.AuthResult, error)
	Register(ctx context.Context, req api.RegisterRequest) (model.AuthResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (model.Tokens, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (*model.User, error)
}

// Store is the slice of the credential store the session depends on.
type Store interface {
	Put(slot credstore.Slot, value string, ttl time.Duration) error
	Get(slot credstore.Slot) (string, bool)
	Clear() error
}

// Service is the session manager.
type Service struct {
	api   AuthAPI
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu        sync.Mutex
	state     State
	tokens    model.Tokens
	user      *model.User
	onExpired func()
	// expiredFired suppresses redundant expiry callbacks when several
	// requests fail concurrently during the same outage; reset on the next
	// successful login or refresh.
	expiredFired bool
	listeners    map[int]func(Event)
	nextListener int

	sf singleflight.Group
}

var _ api.TokenSource = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the clock used for premium-access evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a session service over the given auth API and credential store.
func New(a AuthAPI, store Store, opts ...Option) *Service {
	s := &Service{
		api:       a,
		store:     store,
		log:       zap.NewNop(),
		now:       time.Now,
		state:     Uninitialized,
		listeners: map[int]func(Event){},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetSessionExpiredHandler registers the callback fired (at most once per
// authenticated epoch) when the session is lost irrecoverably. The UI layer
// uses it to redirect to the login entry point.
func (s *Service) SetSessionExpiredHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = fn
}

// Subscribe registers a listener for session events. The returned function
// detaches it; the caller is responsible for detaching on cleanup.
func (s *Service) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) broadcast(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Hydrate rehydrates the session from persisted storage at startup. When a
// token is present it optimistically marks the session authenticated using
// the cached snapshot, then confirms with a live "who am I" fetch; on any
// failure all session data is cleared.
func (s *Service) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	s.state = Hydrating
	s.mu.Unlock()

	access, ok := s.store.Get(credstore.SlotAccessToken)
	if !ok {
		s.mu.Lock()
		s.state = Unauthenticated
		s.mu.Unlock()
		return errs.ErrNoCredentials
	}
	refresh, _ := s.store.Get(credstore.SlotRefreshToken)

	var snap *model.User
	if raw, ok := s.store.Get(credstore.SlotUserSnapshot); ok {
		var u model.User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			snap = &u
		}
	}

	s.mu.Lock()
	s.tokens = model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: tokenExpiry(access)}
	s.user = snap
	s.state = Authenticated
	s.expiredFired = false
	s.mu.Unlock()

	// A stale access token is fine here: the request layer refreshes once
	// through this very service.
	live, err := s.api.Me(ctx)
	if err != nil {
		s.log.Warn("session hydration rejected", zap.Error(err))
		s.expire()
		return err
	}
	s.mu.Lock()
	s.user = live
	s.mu.Unlock()
	s.persistSnapshot(live)
	s.log.Info("session hydrated", zap.String("userId", live.ID))
	return nil
}

// Login authenticates and stores the session. Errors are surfaced to the
// caller and never retried automatically.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.mu.Lock()
		s.state = Unauthenticated
		s.mu.Unlock()
		return nil, err
	}
	s.adopt(res)
	s.broadcast(Event{Type: EventLoggedIn, AccessToken: res.Tokens.AccessToken})
	return s.CurrentUser(), nil
}

// Register creates an account and stores the session like Login.
func (s *Service) Register(ctx context.Context, req api.RegisterRequest) (*model.User, error) {
	res, err := s.api.Register(ctx, req)
	if err != nil {
		s.mu.Lock()
		s.state = Unauthenticated
		s.mu.Unlock()
		return nil, err
	}
	s.adopt(res)
	s.broadcast(Event{Type: EventLoggedIn, AccessToken: res.Tokens.AccessToken})
	return s.CurrentUser(), nil
}

func (s *Service) adopt(res model.AuthResult) {
	u := res.User
	s.mu.Lock()
	s.tokens = res.Tokens
	s.tokens.ExpiresAt = tokenExpiry(res.Tokens.AccessToken)
	s.user = &u
	s.state = Authenticated
	s.expiredFired = false
	s.mu.Unlock()
	s.persistTokens(res.Tokens)
	s.persistSnapshot(&u)
}

// AccessToken returns the current access token, empty when unauthenticated.
func (s *Service) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.AccessToken
}

// Refresh performs the single-flight token refresh. Concurrent callers share
// one outstanding attempt. On success the new token is stored atomically and
// broadcast; on any failure (rejection or network) the session is cleared
// and the expiry handler fires once.
func (s *Service) Refresh(ctx context.Context) (string, error) {
	v, err, _ := s.sf.Do("refresh", func() (any, error) {
		s.mu.Lock()
		rt := s.tokens.RefreshToken
		s.mu.Unlock()
		if rt == "" {
			s.expire()
			return "", errs.ErrSessionExpired
		}

		tokens, err := s.api.RefreshToken(ctx, rt)
		if err != nil {
			s.log.Warn("token refresh failed", zap.Error(err))
			s.expire()
			return "", fmt.Errorf("%w: %v", errs.ErrSessionExpired, err)
		}

		s.mu.Lock()
		s.tokens.AccessToken = tokens.AccessToken
		s.tokens.ExpiresAt = tokenExpiry(tokens.AccessToken)
		if tokens.RefreshToken != "" {
			s.tokens.RefreshToken = tokens.RefreshToken
		}
		persisted := s.tokens
		s.state = Authenticated
		s.expiredFired = false
		s.mu.Unlock()

		s.persistTokens(persisted)
		s.broadcast(Event{Type: EventTokenRefreshed, AccessToken: tokens.AccessToken})
		s.log.Debug("token refreshed")
		return tokens.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Logout invalidates the refresh token server-side (best effort) and then
// unconditionally clears the local session.
func (s *Service) Logout(ctx context.Context) {
	s.mu.Lock()
	rt := s.tokens.RefreshToken
	s.mu.Unlock()
	if rt != "" {
		if err := s.api.Logout(ctx, rt); err != nil {
			s.log.Warn("server-side logout failed", zap.Error(err))
		}
	}
	s.clear()
	s.broadcast(Event{Type: EventLoggedOut})
	s.log.Info("logged out")
}

// expire clears the session after an irrecoverable auth failure and fires
// the expiry handler, suppressing redundant callbacks within one outage.
func (s *Service) expire() {
	s.mu.Lock()
	fire := !s.expiredFired
	s.expiredFired = true
	s.tokens = model.Tokens{}
	s.user = nil
	s.state = Unauthenticated
	fn := s.onExpired
	s.mu.Unlock()
	if err := s.store.Clear(); err != nil {
		s.log.Warn("clearing credential store", zap.Error(err))
	}
	if fire {
		s.broadcast(Event{Type: EventSessionExpired})
		if fn != nil {
			fn()
		}
	}
}

func (s *Service) clear() {
	s.mu.Lock()
	s.tokens = model.Tokens{}
	s.user = nil
	s.state = Unauthenticated
	s.mu.Unlock()
	if err := s.store.Clear(); err != nil {
		s.log.Warn("clearing credential store", zap.Error(err))
	}
}

// Persist failures are logged, not fatal: the session still works in memory
// for the lifetime of the process.
func (s *Service) persistTokens(t model.Tokens) {
	if err := s.store.Put(credstore.SlotAccessToken, t.AccessToken, credstore.AccessTTL); err != nil {
		s.log.Warn("persisting access token", zap.Error(err))
	}
	if t.RefreshToken != "" {
		if err := s.store.Put(credstore.SlotRefreshToken, t.RefreshToken, credstore.RefreshTTL); err != nil {
			s.log.Warn("persisting refresh token", zap.Error(err))
		}
	}
}

func (s *Service) persistSnapshot(u *model.User) {
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := s.store.Put(credstore.SlotUserSnapshot, string(b), credstore.SnapshotTTL); err != nil {
		s.log.Warn("persisting user snapshot", zap.Error(err))
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAuthenticated reports token presence. An absent token means
// unauthenticated regardless of any cached user.
func (s *Service) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.AccessToken != ""
}

// UserID returns the current user's ID, empty when unknown.
func (s *Service) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// CurrentUser returns a copy of the cached user, nil when none.
func (s *Service) CurrentUser() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	c := *s.user
	return &c
}

// HasPremiumAccess evaluates the subscription state. Precedence: an active
// subscription grants access unless its end date has passed; the legacy
// premium flag is consulted only when no subscription object is present and
// requires an unexpired legacy expiry. Expired evidence never grants access.
func (s *Service) HasPremiumAccess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hasPremium(s.user, s.now())
}

func hasPremium(u *model.User, now time.Time) bool {
	if u == nil {
		return false
	}
	if sub := u.Subscription; sub != nil {
		if !sub.Active {
			return false
		}
		return sub.ExpiresAt == nil || sub.ExpiresAt.After(now)
	}
	if u.IsPremium {
		return u.PremiumExpiry != nil && u.PremiumExpiry.After(now)
	}
	return false
}

// TokenExpiresWithin reports whether the access token expires within d,
// letting callers refresh proactively instead of waiting for a 401.
func (s *Service) TokenExpiresWithin(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens.AccessToken == "" {
		return true
	}
	return s.now().Add(d).After(s.tokens.ExpiresAt)
}

// tokenExpiry parses the unverified exp claim; signature validation is the
// server's job, the client only needs the horizon.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(15 * time.Minute)
}

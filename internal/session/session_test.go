package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sangamlink/client-go/internal/api"
	"github.com/sangamlink/client-go/internal/credstore"
	"github.com/sangamlink/client-go/internal/errs"
	"github.com/sangamlink/client-go/internal/model"
)

type fakeAPI struct {
	mu sync.Mutex

	loginResult model.AuthResult
	loginErr    error

	refreshTokens model.Tokens
	refreshErr    error
	refreshDelay  time.Duration
	refreshCalls  int32

	meUser *model.User
	meErr  error

	logoutErr   error
	logoutCalls int32
}

var _ AuthAPI = (*fakeAPI)(nil)

func (f *fakeAPI) Login(context.Context, string, string) (model.AuthResult, error) {
	return f.loginResult, f.loginErr
}

func (f *fakeAPI) Register(context.Context, api.RegisterRequest) (model.AuthResult, error) {
	return f.loginResult, f.loginErr
}

func (f *fakeAPI) RefreshToken(context.Context, string) (model.Tokens, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	return f.refreshTokens, f.refreshErr
}

func (f *fakeAPI) Logout(context.Context, string) error {
	atomic.AddInt32(&f.logoutCalls, 1)
	return f.logoutErr
}

func (f *fakeAPI) Me(context.Context) (*model.User, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	c := *f.meUser
	return &c, nil
}

type fakeStore struct {
	mu    sync.Mutex
	slots map[credstore.Slot]string
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{slots: map[credstore.Slot]string{}}
}

func (f *fakeStore) Put(slot credstore.Slot, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slot] = value
	return nil
}

func (f *fakeStore) Get(slot credstore.Slot) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.slots[slot]
	return v, ok && v != ""
}

func (f *fakeStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = map[credstore.Slot]string{}
	return nil
}

func authResult(access, refresh, userID string) model.AuthResult {
	return model.AuthResult{
		Tokens: model.Tokens{AccessToken: access, RefreshToken: refresh},
		User:   model.User{ID: userID, Email: userID + "@example.com", Role: model.RoleMember},
	}
}

func TestLogin_StoresSessionAndBroadcasts(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{loginResult: authResult("acc1", "ref1", "u1")}
	store := newFakeStore()
	s := New(a, store)

	var events []EventType
	var evMu sync.Mutex
	s.Subscribe(func(ev Event) {
		evMu.Lock()
		events = append(events, ev.Type)
		evMu.Unlock()
	})

	u, err := s.Login(context.Background(), "u1@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("user id: got %q", u.ID)
	}
	if got := s.AccessToken(); got != "acc1" {
		t.Fatalf("access token: got %q", got)
	}
	if s.State() != Authenticated {
		t.Fatalf("state: got %v", s.State())
	}
	if v, ok := store.Get(credstore.SlotRefreshToken); !ok || v != "ref1" {
		t.Fatalf("refresh token not persisted: %q %v", v, ok)
	}
	if _, ok := store.Get(credstore.SlotUserSnapshot); !ok {
		t.Fatalf("snapshot not persisted")
	}
	evMu.Lock()
	defer evMu.Unlock()
	if len(events) != 1 || events[0] != EventLoggedIn {
		t.Fatalf("events: got %v", events)
	}
}

func TestLogin_FailureStaysUnauthenticated(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{loginErr: errors.New("bad credentials")}
	s := New(a, newFakeStore())
	if _, err := s.Login(context.Background(), "x", "y"); err == nil {
		t.Fatalf("want login error")
	}
	if s.IsAuthenticated() {
		t.Fatalf("must stay unauthenticated")
	}
}

func TestRefresh_SingleFlight(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{
		loginResult:   authResult("old", "ref1", "u1"),
		refreshTokens: model.Tokens{AccessToken: "new"},
		refreshDelay:  50 * time.Millisecond,
	}
	s := New(a, newFakeStore())
	if _, err := s.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errsOut := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errsOut[i] = s.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&a.refreshCalls); got != 1 {
		t.Fatalf("refresh network calls: got %d, want exactly 1", got)
	}
	for i := 0; i < n; i++ {
		if errsOut[i] != nil {
			t.Fatalf("caller %d: %v", i, errsOut[i])
		}
		if tokens[i] != "new" {
			t.Fatalf("caller %d token: got %q", i, tokens[i])
		}
	}
	if got := s.AccessToken(); got != "new" {
		t.Fatalf("stored token: got %q", got)
	}
}

func TestRefresh_FailureClearsSessionAndFiresOnce(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{
		loginResult: authResult("old", "ref1", "u1"),
		refreshErr:  errors.New("refresh token revoked"),
	}
	store := newFakeStore()
	s := New(a, store)
	var fired int32
	s.SetSessionExpiredHandler(func() { atomic.AddInt32(&fired, 1) })

	if _, err := s.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := s.Refresh(context.Background()); !errors.Is(err, errs.ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
	// A second failure during the same outage must not redirect again.
	if _, err := s.Refresh(context.Background()); !errors.Is(err, errs.ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expiry handler fired %d times, want 1", got)
	}
	if s.IsAuthenticated() {
		t.Fatalf("session must be cleared")
	}
	if _, ok := store.Get(credstore.SlotAccessToken); ok {
		t.Fatalf("store must be cleared")
	}
}

func TestRefresh_NotifiesListeners(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{
		loginResult:   authResult("old", "ref1", "u1"),
		refreshTokens: model.Tokens{AccessToken: "new", RefreshToken: "ref2"},
	}
	s := New(a, newFakeStore())
	if _, err := s.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	var gotToken string
	var evMu sync.Mutex
	detach := s.Subscribe(func(ev Event) {
		if ev.Type == EventTokenRefreshed {
			evMu.Lock()
			gotToken = ev.AccessToken
			evMu.Unlock()
		}
	})
	defer detach()

	if _, err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	evMu.Lock()
	defer evMu.Unlock()
	if gotToken != "new" {
		t.Fatalf("listener token: got %q", gotToken)
	}
}

func TestHydrate_NoCredentials(t *testing.T) {
	t.Parallel()
	s := New(&fakeAPI{}, newFakeStore())
	if err := s.Hydrate(context.Background()); !errors.Is(err, errs.ErrNoCredentials) {
		t.Fatalf("want ErrNoCredentials, got %v", err)
	}
	if s.State() != Unauthenticated {
		t.Fatalf("state: got %v", s.State())
	}
}

func TestHydrate_AdoptsLiveUser(t *testing.T) {
	t.Parallel()
	live := &model.User{ID: "u1", Email: "live@example.com", Role: model.RoleMember}
	a := &fakeAPI{meUser: live}
	store := newFakeStore()
	_ = store.Put(credstore.SlotAccessToken, "acc1", 0)
	_ = store.Put(credstore.SlotRefreshToken, "ref1", 0)
	_ = store.Put(credstore.SlotUserSnapshot, `{"id":"u1","email":"stale@example.com"}`, 0)

	s := New(a, store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if s.State() != Authenticated {
		t.Fatalf("state: got %v", s.State())
	}
	if got := s.CurrentUser().Email; got != "live@example.com" {
		t.Fatalf("live fetch must supersede snapshot, got %q", got)
	}
}

func TestHydrate_RejectionClearsEverything(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{meErr: errors.New("token rejected")}
	store := newFakeStore()
	_ = store.Put(credstore.SlotAccessToken, "acc1", 0)

	s := New(a, store)
	if err := s.Hydrate(context.Background()); err == nil {
		t.Fatalf("want hydrate error")
	}
	if s.IsAuthenticated() {
		t.Fatalf("must be unauthenticated")
	}
	if _, ok := store.Get(credstore.SlotAccessToken); ok {
		t.Fatalf("store must be cleared")
	}
}

func TestLogout_BestEffortServerInvalidation(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{
		loginResult: authResult("acc1", "ref1", "u1"),
		logoutErr:   errors.New("server down"),
	}
	store := newFakeStore()
	s := New(a, store)
	if _, err := s.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	s.Logout(context.Background())

	if got := atomic.LoadInt32(&a.logoutCalls); got != 1 {
		t.Fatalf("logout calls: got %d", got)
	}
	if s.IsAuthenticated() {
		t.Fatalf("local session must be cleared even when the server call fails")
	}
	if _, ok := store.Get(credstore.SlotRefreshToken); ok {
		t.Fatalf("store must be cleared")
	}
}

func TestIsAuthenticated_RequiresToken(t *testing.T) {
	t.Parallel()
	s := New(&fakeAPI{}, newFakeStore())
	s.mu.Lock()
	s.user = &model.User{ID: "u1"}
	s.mu.Unlock()
	if s.IsAuthenticated() {
		t.Fatalf("cached user without a token must not count as authenticated")
	}
}

func TestHasPremiumAccess_Precedence(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	cases := []struct {
		name string
		user *model.User
		want bool
	}{
		{"no user", nil, false},
		{"active subscription no end date", &model.User{Subscription: &model.Subscription{Active: true}}, true},
		{"active subscription future end", &model.User{Subscription: &model.Subscription{Active: true, ExpiresAt: &future}}, true},
		{"active subscription past end", &model.User{Subscription: &model.Subscription{Active: true, ExpiresAt: &past}}, false},
		{"inactive subscription", &model.User{Subscription: &model.Subscription{Active: false, ExpiresAt: &future}}, false},
		{"inactive subscription with legacy flag", &model.User{Subscription: &model.Subscription{Active: false}, IsPremium: true, PremiumExpiry: &future}, false},
		{"legacy flag unexpired", &model.User{IsPremium: true, PremiumExpiry: &future}, true},
		{"legacy flag expired", &model.User{IsPremium: true, PremiumExpiry: &past}, false},
		{"legacy flag no expiry", &model.User{IsPremium: true}, false},
		{"expired date only", &model.User{PremiumExpiry: &past}, false},
		{"plain member", &model.User{}, false},
	}
	for _, tc := range cases {
		if got := hasPremium(tc.user, now); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTokenExpiry_DefaultsSoonWithoutClaim(t *testing.T) {
	t.Parallel()
	exp := tokenExpiry("not-a-jwt")
	if until := time.Until(exp); until <= 0 || until > 16*time.Minute {
		t.Fatalf("fallback expiry out of range: %v", until)
	}
}

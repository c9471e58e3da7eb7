// Package credstore is the single read/write choke point for persisted
// client credentials: three named slots with their own expiry horizons,
// optionally sealed at rest.
package credstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Slot names the three persisted credential slots.
type Slot string

const (
	SlotAccessToken  Slot = "access_token"
	SlotRefreshToken Slot = "refresh_token"
	SlotUserSnapshot Slot = "user_snapshot"
)

// Default expiry horizons per slot.
const (
	AccessTTL   = 7 * 24 * time.Hour
	RefreshTTL  = 30 * 24 * time.Hour
	SnapshotTTL = 7 * 24 * time.Hour
)

type record struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type payload struct {
	Slots map[Slot]record `json:"slots"`
}

// Store persists credential slots in one file under the user config dir.
// The zero value is not usable; construct with Open.
type Store struct {
	mu   sync.Mutex
	path string
	box  *box // nil when unsealed storage is used
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPassphrase enables at-rest sealing of the credential file.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		if passphrase != "" {
			s.box = newBox([]byte(passphrase))
		}
	}
}

// WithClock overrides the expiry clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// DefaultPath returns the credential file location under the user config dir.
func DefaultPath() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "sangam", "credentials.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sangam", "credentials.json")
}

// Open creates a store backed by the given file path. An empty path uses
// DefaultPath. The file is created lazily on first Put.
func Open(path string, opts ...Option) *Store {
	if path == "" {
		path = DefaultPath()
	}
	s := &Store{path: path, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put writes a slot with the given TTL, keeping the other slots intact.
func (s *Store) Put(slot Slot, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.load()
	if err != nil {
		return err
	}
	p.Slots[slot] = record{Value: value, ExpiresAt: s.now().Add(ttl)}
	return s.save(p)
}

// Get reads a slot. Expired or absent slots read as ("", false).
func (s *Store) Get(slot Slot) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.load()
	if err != nil {
		return "", false
	}
	r, ok := p.Slots[slot]
	if !ok || r.Value == "" || s.now().After(r.ExpiresAt) {
		return "", false
	}
	return r.Value, true
}

// Delete removes a single slot.
func (s *Store) Delete(slot Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.load()
	if err != nil {
		return err
	}
	delete(p.Slots, slot)
	return s.save(p)
}

// Clear removes the credential file entirely.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) load() (payload, error) {
	p := payload{Slots: map[Slot]record{}}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	if s.box != nil {
		if b, err = s.box.open(b); err != nil {
			// A corrupt or foreign-keyed file is treated as empty; the
			// session will simply require a fresh login.
			return payload{Slots: map[Slot]record{}}, nil
		}
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return payload{Slots: map[Slot]record{}}, nil
	}
	if p.Slots == nil {
		p.Slots = map[Slot]record{}
	}
	return p, nil
}

func (s *Store) save(p payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if s.box != nil {
		if b, err = s.box.seal(b); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

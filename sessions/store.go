package sessions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Keys under which the session is persisted.
const (
	AccessTokenKey  = "auth.access_token"
	RefreshTokenKey = "auth.refresh_token"
	ProfileKey      = "auth.profile"
)

// Store gives typed access to the persisted session. Every Clear and every
// sign-in advances the store's generation; refreshed credentials are only
// written back when the generation has not moved since the refresh started.
type Store struct {
	secure     SecureStore
	lock       sync.Mutex
	generation uint64
}

func NewStore(secure SecureStore) *Store {
	return &Store{secure: secure}
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, AccessTokenKey)
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, RefreshTokenKey)
}

func (s *Store) Credentials(ctx context.Context) (CredentialPair, error) {
	access, err := s.AccessToken(ctx)
	if err != nil {
		return CredentialPair{}, err
	}
	refresh, err := s.RefreshToken(ctx)
	if err != nil {
		return CredentialPair{}, err
	}
	return CredentialPair{Access: access, Refresh: refresh}, nil
}

// Profile returns nil when no profile is cached. A profile that no longer
// decodes is treated as absent.
func (s *Store) Profile(ctx context.Context) (*Profile, error) {
	raw, err := s.get(ctx, ProfileKey)
	if err != nil || raw == "" {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		log.Warn().Err(err).Str("component", "session_store").Msg("discarding undecodable cached profile")
		return nil, nil
	}
	return &p, nil
}

// Generation identifies the current session epoch.
func (s *Store) Generation() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.generation
}

// SaveCredentials persists a freshly signed-in pair, starting a new generation.
func (s *Store) SaveCredentials(ctx context.Context, pair CredentialPair) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.generation++
	return s.writePairLocked(ctx, pair)
}

// SaveRefreshed persists a rotated pair if no Clear happened since generation was
// read. applied is false when the result arrived too late and was discarded.
func (s *Store) SaveRefreshed(ctx context.Context, generation uint64, pair CredentialPair) (applied bool, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if generation != s.generation {
		return false, nil
	}
	if err := s.writePairLocked(ctx, pair); err != nil {
		return false, err
	}
	return true, nil
}

// SaveProfile caches p; nil deletes the cached profile.
func (s *Store) SaveProfile(ctx context.Context, p *Profile) error {
	if p == nil {
		return s.set(ctx, ProfileKey, "")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "[Store.SaveProfile] json.Marshal")
	}
	return s.set(ctx, ProfileKey, string(raw))
}

// Clear deletes all three keys. Every key is attempted; the first failure is returned.
func (s *Store) Clear(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.generation++

	var firstErr error
	for _, key := range []string{AccessTokenKey, RefreshTokenKey, ProfileKey} {
		if err := s.set(ctx, key, ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) writePairLocked(ctx context.Context, pair CredentialPair) error {
	if err := s.set(ctx, AccessTokenKey, pair.Access); err != nil {
		return err
	}
	return s.set(ctx, RefreshTokenKey, pair.Refresh)
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	value, err := s.secure.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "[Store] get %s", key)
	}
	return value, nil
}

// set writes value, deleting the key when value is empty.
func (s *Store) set(ctx context.Context, key, value string) error {
	if value == "" {
		return errors.Wrapf(s.secure.Delete(ctx, key), "[Store] delete %s", key)
	}
	return errors.Wrapf(s.secure.Set(ctx, key, value), "[Store] set %s", key)
}

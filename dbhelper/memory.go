package dbhelper

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
	"gorm.io/gorm"

	"github.com/secureapp/apiv1/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps all collections in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User
	attempts map[string]models.LoginAttempts
	secrets  map[string]models.TotpSecret
	nextID   uint

	keys keyLocker
	// afterWrite runs after every mutation while the email's key lock is
	// still held. FileStore uses it to persist. When it fails the mutation
	// is undone before the error is returned.
	afterWrite func() error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		attempts: make(map[string]models.LoginAttempts),
		secrets:  make(map[string]models.TotpSecret),
	}
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[email]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) Create(ctx context.Context, user models.User) error {
	_, created, err := s.CreateIfAbsent(ctx, user)
	if err != nil {
		return err
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, user models.User) (models.User, bool, error) {
	unlock := s.keys.Lock("user:" + user.Email)
	defer unlock()

	s.mu.Lock()
	if existing, ok := s.users[user.Email]; ok {
		s.mu.Unlock()
		return existing, false, nil
	}
	s.stamp(&user.Model)
	s.users[user.Email] = user
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.mu.Lock()
		delete(s.users, user.Email)
		s.mu.Unlock()
		return models.User{}, false, oops.Code("STORE_USER_CREATE_FAILED").With("email", user.Email).Wrap(err)
	}
	return user, true, nil
}

func (s *MemoryStore) GetAttempts(_ context.Context, email string) (models.LoginAttempts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts, ok := s.attempts[email]
	if !ok {
		return models.LoginAttempts{}, ErrNotFound
	}
	return copyAttempts(attempts), nil
}

func (s *MemoryStore) UpdateAttempts(_ context.Context, email string, fn func(*models.LoginAttempts) error) (models.LoginAttempts, error) {
	unlock := s.keys.Lock("attempts:" + email)
	defer unlock()

	s.mu.RLock()
	previous, ok := s.attempts[email]
	s.mu.RUnlock()
	var attempts models.LoginAttempts
	if ok {
		attempts = copyAttempts(previous)
	} else {
		attempts = models.LoginAttempts{Email: email}
	}

	if err := fn(&attempts); err != nil {
		return models.LoginAttempts{}, err
	}

	s.mu.Lock()
	if attempts.ID == 0 {
		s.stamp(&attempts.Model)
	}
	attempts.UpdatedAt = time.Now()
	s.attempts[email] = copyAttempts(attempts)
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.mu.Lock()
		if ok {
			s.attempts[email] = previous
		} else {
			delete(s.attempts, email)
		}
		s.mu.Unlock()
		return models.LoginAttempts{}, oops.Code("STORE_ATTEMPTS_UPDATE_FAILED").With("email", email).Wrap(err)
	}
	return attempts, nil
}

func (s *MemoryStore) GetSecret(_ context.Context, email string) (models.TotpSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[email]
	if !ok {
		return models.TotpSecret{}, ErrNotFound
	}
	return secret, nil
}

func (s *MemoryStore) GetOrCreateSecret(_ context.Context, email string, generate func() (string, error)) (models.TotpSecret, bool, error) {
	unlock := s.keys.Lock("secret:" + email)
	defer unlock()

	s.mu.RLock()
	secret, ok := s.secrets[email]
	s.mu.RUnlock()
	if ok {
		return secret, false, nil
	}

	value, err := generate()
	if err != nil {
		return models.TotpSecret{}, false, err
	}
	secret = models.TotpSecret{Email: email, Secret: value}

	s.mu.Lock()
	s.stamp(&secret.Model)
	s.secrets[email] = secret
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.mu.Lock()
		delete(s.secrets, email)
		s.mu.Unlock()
		return models.TotpSecret{}, false, oops.Code("STORE_SECRET_CREATE_FAILED").With("email", email).Wrap(err)
	}
	return secret, true, nil
}

func (s *MemoryStore) SetSecretEnabled(_ context.Context, email string, enabled bool) error {
	unlock := s.keys.Lock("secret:" + email)
	defer unlock()

	s.mu.Lock()
	secret, ok := s.secrets[email]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if secret.Enabled == enabled {
		s.mu.Unlock()
		return nil
	}
	previous := secret
	secret.Enabled = enabled
	secret.UpdatedAt = time.Now()
	s.secrets[email] = secret
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.mu.Lock()
		s.secrets[email] = previous
		s.mu.Unlock()
		return oops.Code("STORE_SECRET_UPDATE_FAILED").With("email", email).Wrap(err)
	}
	return nil
}

// stamp assigns an ID and timestamps. Callers hold s.mu.
func (s *MemoryStore) stamp(m *gorm.Model) {
	s.nextID++
	now := time.Now()
	m.ID = s.nextID
	m.CreatedAt = now
	m.UpdatedAt = now
}

func (s *MemoryStore) persist() error {
	if s.afterWrite == nil {
		return nil
	}
	return s.afterWrite()
}

func copyAttempts(a models.LoginAttempts) models.LoginAttempts {
	if a.BanExpiresAt != nil {
		until := *a.BanExpiresAt
		a.BanExpiresAt = &until
	}
	return a
}

// keyLocker hands out one mutex per key and forgets it once unused.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocker) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Used for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*User // by id
	byEmail  map[string]string
	tokens   map[string]*RefreshToken // by token hash
	isClosed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   map[string]*User{},
		byEmail: map[string]string{},
		tokens:  map[string]*RefreshToken{},
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrUserExists
	}
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *MemoryStore) CreateRefreshToken(_ context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.TokenHash] = &cp
	return nil
}

func (m *MemoryStore) RotateRefreshToken(_ context.Context, tokenHash string, next *RefreshToken, now time.Time) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.tokens, tokenHash)
	if t.Expired(now) {
		return t, ErrExpired
	}
	next.UserID = t.UserID
	cp := *next
	m.tokens[next.TokenHash] = &cp
	return t, nil
}

func (m *MemoryStore) DeleteRefreshToken(_ context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tokenHash]; !ok {
		return false, nil
	}
	delete(m.tokens, tokenHash)
	return true, nil
}

func (m *MemoryStore) DeleteRefreshTokensForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpiredRefreshTokens(_ context.Context, now time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.tokens {
		if n >= int64(limit) {
			break
		}
		if t.Expired(now) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isClosed = true
	return nil
}

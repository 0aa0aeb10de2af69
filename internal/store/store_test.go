package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// the same behaviour is expected from every adapter that runs without external services
func adapters(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "fitlife.db"))
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := NewBadgerStore("")
			require.NoError(t, err)
			return s
		},
	}
}

func newUser(email string) *User {
	return &User{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: "$2a$04$hash",
		Role:         RoleUser,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func newToken(userID, hash string, expires time.Time) *RefreshToken {
	return &RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expires.UTC().Truncate(time.Second),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestStoreAdapters(t *testing.T) {
	for name, open := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
			t.Run("rotate", func(t *testing.T) { testRotate(t, open(t)) })
			t.Run("rotate expired", func(t *testing.T) { testRotateExpired(t, open(t)) })
			t.Run("concurrent rotate", func(t *testing.T) { testConcurrentRotate(t, open(t)) })
			t.Run("delete", func(t *testing.T) { testDelete(t, open(t)) })
			t.Run("sweep", func(t *testing.T) { testSweep(t, open(t)) })
		})
	}
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	defer s.Close()

	u := newUser("a@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, newUser("a@example.com")), ErrUserExists)

	got, err := s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Role, got.Role)
	assert.True(t, u.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateUserPassword(ctx, u.ID, "$2a$04$other"))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$04$other", got.PasswordHash)
	assert.ErrorIs(t, s.UpdateUserPassword(ctx, uuid.NewString(), "x"), ErrNotFound)

	require.NoError(t, s.Ping(ctx))
}

func testRotate(t *testing.T, s Store) {
	ctx := context.Background()
	defer s.Close()
	now := time.Now()

	u := newUser("r@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.CreateRefreshToken(ctx, newToken(u.ID, "h1", now.Add(time.Hour))))

	next := newToken("", "h2", now.Add(2*time.Hour))
	consumed, err := s.RotateRefreshToken(ctx, "h1", next, now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, consumed.UserID)
	assert.Equal(t, u.ID, next.UserID)

	// the consumed value is gone, the successor is live exactly once
	_, err = s.RotateRefreshToken(ctx, "h1", newToken("", "h3", now.Add(time.Hour)), now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RotateRefreshToken(ctx, "h2", newToken("", "h4", now.Add(time.Hour)), now)
	require.NoError(t, err)
}

func testRotateExpired(t *testing.T, s Store) {
	ctx := context.Background()
	defer s.Close()
	now := time.Now()

	u := newUser("x@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.CreateRefreshToken(ctx, newToken(u.ID, "old", now.Add(-time.Hour))))

	consumed, err := s.RotateRefreshToken(ctx, "old", newToken("", "new", now.Add(time.Hour)), now)
	assert.ErrorIs(t, err, ErrExpired)
	require.NotNil(t, consumed)
	assert.Equal(t, u.ID, consumed.UserID)

	// lazily deleted, and no successor was written
	_, err = s.RotateRefreshToken(ctx, "old", newToken("", "new2", now.Add(time.Hour)), now)
	assert.ErrorIs(t, err, ErrNotFound)
	deleted, err := s.DeleteRefreshToken(ctx, "new")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testConcurrentRotate(t *testing.T, s Store) {
	ctx := context.Background()
	defer s.Close()
	now := time.Now()

	u := newUser("c@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.CreateRefreshToken(ctx, newToken(u.ID, "shared", now.Add(time.Hour))))

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RotateRefreshToken(ctx, "shared", newToken("", fmt.Sprintf("succ-%d", i), now.Add(time.Hour)), now)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrNotFound):
				notFound.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), notFound.Load())
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	defer s.Close()
	now := time.Now()

	u := newUser("d@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	for _, h := range []string{"d1", "d2", "d3"} {
		require.NoError(t, s.CreateRefreshToken(ctx, newToken(u.ID, h, now.Add(time.Hour))))
	}

	deleted, err := s.DeleteRefreshToken(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteRefreshToken(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err := s.DeleteRefreshTokensForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.RotateRefreshToken(ctx, "d2", newToken("", "d4", now.Add(time.Hour)), now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testSweep(t *testing.T, s Store) {
	ctx := context.Background()
	defer s.Close()
	now := time.Now()

	u := newUser("s@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	for i := range 5 {
		require.NoError(t, s.CreateRefreshToken(ctx, newToken(u.ID, fmt.Sprintf("exp-%d", i), now.Add(-time.Duration(i+1)*time.Hour))))
	}
	require.NoError(t, s.CreateRefreshToken(ctx, newToken(u.ID, "live", now.Add(time.Hour))))

	n, err := s.DeleteExpiredRefreshTokens(ctx, now, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.DeleteExpiredRefreshTokens(ctx, now, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteExpiredRefreshTokens(ctx, now, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.RotateRefreshToken(ctx, "live", newToken("", "live2", now.Add(time.Hour)), now)
	assert.NoError(t, err)
}

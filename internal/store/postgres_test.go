package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newPostgresStore(db), mock
}

func TestPostgresCreateUser_Duplicate(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users\b.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)$`).
		WithArgs("u1", "Ann", "ann@example.com", "hash", RoleUser, sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := s.CreateUser(context.Background(), &User{ID: "u1", Name: "Ann", Email: "ann@example.com", PasswordHash: "hash", Role: RoleUser, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrUserExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetUserByEmail(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`^SELECT\s+id,\s*name,\s*email,\s*password_hash,\s*role,\s*created_at\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1$`).
		WithArgs("ann@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at"}).
			AddRow("u1", "Ann", "ann@example.com", "hash", RoleAdmin, created.Unix()))

	u, err := s.GetUserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.True(t, created.Equal(u.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetUserByID_NotFound(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRotate_Success(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1\s+RETURNING\s+id,\s*user_id,\s*expires_at,\s*created_at$`).
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}).
			AddRow("t1", "u1", now.Add(time.Hour).Unix(), now.Unix()))
	mock.ExpectExec(`^INSERT\s+INTO\s+refresh_tokens\b`).
		WithArgs("t2", "new", "u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next := &RefreshToken{ID: "t2", TokenHash: "new", ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now}
	consumed, err := s.RotateRefreshToken(context.Background(), "old", next, now)
	require.NoError(t, err)
	assert.Equal(t, "u1", consumed.UserID)
	assert.Equal(t, "u1", next.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRotate_NotFoundRollsBack(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`^DELETE\s+FROM\s+refresh_tokens`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}))
	mock.ExpectRollback()

	_, err := s.RotateRefreshToken(context.Background(), "gone", &RefreshToken{ID: "t2", TokenHash: "new"}, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRotate_ExpiredCommitsDeletion(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`^DELETE\s+FROM\s+refresh_tokens`).
		WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}).
			AddRow("t1", "u1", now.Add(-time.Hour).Unix(), now.Add(-48*time.Hour).Unix()))
	mock.ExpectCommit()

	consumed, err := s.RotateRefreshToken(context.Background(), "stale", &RefreshToken{ID: "t2", TokenHash: "new"}, now)
	assert.ErrorIs(t, err, ErrExpired)
	require.NotNil(t, consumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRotate_InsertFailureRollsBack(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`^DELETE\s+FROM\s+refresh_tokens`).
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}).
			AddRow("t1", "u1", now.Add(time.Hour).Unix(), now.Unix()))
	mock.ExpectExec(`^INSERT\s+INTO\s+refresh_tokens\b`).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	_, err := s.RotateRefreshToken(context.Background(), "old", &RefreshToken{ID: "t2", TokenHash: "new", ExpiresAt: now.Add(time.Hour)}, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteExpired_Batch(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	now := time.Unix(1_700_000_000, 0)

	mock.ExpectExec(`^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+id\s+IN\s+\(SELECT\s+id\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at\s*<\s*\$1\s+LIMIT\s+\$2\)$`).
		WithArgs(now.Unix(), 100).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.DeleteExpiredRefreshTokens(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteRefreshTokensForUser(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectExec(`^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1$`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteRefreshTokensForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebindPlaceholders(t *testing.T) {
	q := baseQueries.rebind()
	assert.Equal(t, `UPDATE users SET password_hash = ? WHERE id = ?`, q.updatePassword)
	assert.NotContains(t, q.deleteExpiredBatch, "$")
}

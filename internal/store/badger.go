package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const (
	userKeyPrefix      = "user:"
	userEmailKeyPrefix = "user_email:"
	tokenKeyPrefix     = "rt:"
	tokenUserKeyPrefix = "rt_user:"

	// badger transactions are optimistic; a conflicting commit is retried this many times.
	maxConflictRetries = 5
)

// BadgerStore is the embedded key-value adapter.
//
// Keys:
//
//	user:<id>                 -> User (json)
//	user_email:<email>        -> id
//	rt:<token hash>           -> RefreshToken (json)
//	rt_user:<user id>:<hash>  -> empty
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a store under dir. An empty dir opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// update runs fn in a read-write transaction and retries on commit conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func (s *BadgerStore) CreateUser(_ context.Context, u *User) error {
	return s.update(func(txn *badger.Txn) error {
		emailKey := []byte(userEmailKeyPrefix + u.Email)
		if _, err := txn.Get(emailKey); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get email index: %w", err)
		}
		if err := setJSON(txn, userKeyPrefix+u.ID, u); err != nil {
			return err
		}
		return txn.Set(emailKey, []byte(u.ID))
	})
}

func (s *BadgerStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userEmailKeyPrefix + email))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		id = string(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *BadgerStore) GetUserByID(_ context.Context, id string) (*User, error) {
	var u User
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKeyPrefix+id, &u)
	}); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *BadgerStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	return s.update(func(txn *badger.Txn) error {
		var u User
		if err := getJSON(txn, userKeyPrefix+id, &u); err != nil {
			return err
		}
		u.PasswordHash = passwordHash
		return setJSON(txn, userKeyPrefix+id, &u)
	})
}

func putToken(txn *badger.Txn, t *RefreshToken) error {
	if err := setJSON(txn, tokenKeyPrefix+t.TokenHash, t); err != nil {
		return err
	}
	return txn.Set([]byte(tokenUserKeyPrefix+t.UserID+":"+t.TokenHash), nil)
}

func deleteToken(txn *badger.Txn, t *RefreshToken) error {
	if err := txn.Delete([]byte(tokenKeyPrefix + t.TokenHash)); err != nil {
		return err
	}
	return txn.Delete([]byte(tokenUserKeyPrefix + t.UserID + ":" + t.TokenHash))
}

func (s *BadgerStore) CreateRefreshToken(_ context.Context, t *RefreshToken) error {
	return s.update(func(txn *badger.Txn) error {
		return putToken(txn, t)
	})
}

func (s *BadgerStore) RotateRefreshToken(_ context.Context, tokenHash string, next *RefreshToken, now time.Time) (*RefreshToken, error) {
	var consumed RefreshToken
	var expired bool
	err := s.update(func(txn *badger.Txn) error {
		expired = false
		if err := getJSON(txn, tokenKeyPrefix+tokenHash, &consumed); err != nil {
			return err
		}
		if err := deleteToken(txn, &consumed); err != nil {
			return err
		}
		if consumed.Expired(now) {
			expired = true
			return nil
		}
		next.UserID = consumed.UserID
		return putToken(txn, next)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return &consumed, ErrExpired
	}
	return &consumed, nil
}

func (s *BadgerStore) DeleteRefreshToken(_ context.Context, tokenHash string) (bool, error) {
	var deleted bool
	err := s.update(func(txn *badger.Txn) error {
		deleted = false
		var t RefreshToken
		if err := getJSON(txn, tokenKeyPrefix+tokenHash, &t); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		deleted = true
		return deleteToken(txn, &t)
	})
	return deleted, err
}

func (s *BadgerStore) DeleteRefreshTokensForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	err := s.update(func(txn *badger.Txn) error {
		n = 0
		prefix := []byte(tokenUserKeyPrefix + userID + ":")
		var keys [][]byte

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			hash := string(k[len(prefix):])
			if err := txn.Delete([]byte(tokenKeyPrefix + hash)); err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) DeleteExpiredRefreshTokens(_ context.Context, now time.Time, limit int) (int64, error) {
	var n int64
	err := s.update(func(txn *badger.Txn) error {
		n = 0
		var expired []RefreshToken

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tokenKeyPrefix)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid() && len(expired) < limit; it.Next() {
			var t RefreshToken
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				it.Close()
				return fmt.Errorf("decode refresh token: %w", err)
			}
			if t.Expired(now) {
				expired = append(expired, t)
			}
		}
		it.Close()

		for i := range expired {
			if err := deleteToken(txn, &expired[i]); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return ErrUnavailable
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

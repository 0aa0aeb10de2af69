package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fitlife/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	for _, cfg := range []config.DatabaseConfig{
		{Adapter: "memory", Timeout: time.Second},
		{Adapter: "sqlite", SQLiteFile: filepath.Join(t.TempDir(), "fitlife.db"), Timeout: time.Second},
		{Adapter: "badger", BadgerDir: t.TempDir(), Timeout: time.Second},
	} {
		t.Run(cfg.Adapter, func(t *testing.T) {
			st, err := Open(ctx, cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })

			assert.IsType(t, &Guarded{}, st)
			assert.NoError(t, st.Ping(ctx))

			_, err = st.GetUserByEmail(ctx, "nobody@example.com")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestOpen_UnsupportedAdapter(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Adapter: "mongo"})
	assert.Error(t, err)
}

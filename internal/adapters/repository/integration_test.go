package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need live services and are skipped unless
// TEST_MARIADB_DSN / TEST_REDIS_ADDR are set.

func TestMariaDBRepository_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_MARIADB_DSN")
	if dsn == "" {
		t.Skip("TEST_MARIADB_DSN not set")
	}

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))

	runStoreContract(t, func(*testing.T) store { return NewMariaDBRepository(db) })
}

func TestRedisRepository_DedupAndLock(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedisRepository(client, 5*time.Second)
	require.NoError(t, r.Ping(ctx))

	id := "it-" + time.Now().Format("150405.000000")
	ok, err := r.Claim(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Claim(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.Release(ctx, id))
	ok, err = r.Claim(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	unlock, err := r.Lock(ctx, id)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = r.Lock(waitCtx, id)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock2, err := r.Lock(ctx, id)
	require.NoError(t, err)
	unlock2()
}

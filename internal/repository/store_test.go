package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the common Store contract against s.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "k", "v1"))
	require.NoError(t, s.Put(ctx, "k", "v2"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", v)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestNewSQLiteStore_EmptyDSN(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	require.ErrorContains(t, err, "must not be empty")
}

type fakeRedis struct {
	values  map[string]string
	lastTTL time.Duration
	err     error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = value.(string)
	f.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	api := &fakeRedis{values: map[string]string{}}
	s, err := NewRedisStore(api, "assistant:")
	require.NoError(t, err)
	exerciseStore(t, s)

	require.NoError(t, s.Put(context.Background(), "k", "v"))
	require.Equal(t, "v", api.values["assistant:k"])
	require.Equal(t, ttlDuration, api.lastTTL)
}

func TestRedisStore_Errors(t *testing.T) {
	s, err := NewRedisStore(&fakeRedis{values: map[string]string{}, err: errors.New("connection refused")}, "")
	require.NoError(t, err)
	_, _, err = s.Get(context.Background(), "k")
	require.ErrorContains(t, err, "redis get")
	require.ErrorContains(t, s.Put(context.Background(), "k", "v"), "redis set")
	require.ErrorContains(t, s.Delete(context.Background(), "k"), "redis del")
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(nil, "")
	require.ErrorContains(t, err, "must not be nil")
}

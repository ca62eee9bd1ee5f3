package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ttl), mr
}

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.Touch(ctx, Entry{ID: "b", Route: "/two", LastEvent: "connected"}))
	require.NoError(t, s.Touch(ctx, Entry{ID: "a", Route: "/one", LastEvent: "connected"}))
	require.NoError(t, s.Touch(ctx, Entry{ID: "a", Route: "/one", LastEvent: "notify"}))

	e, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "/one", e.Route)
	assert.Equal(t, "notify", e.LastEvent)
	assert.False(t, e.SeenAt.IsZero())

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, s.Remove(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestRedisStore(t *testing.T) {
	s, _ := newRedisStore(t, time.Hour)
	exerciseStore(t, s)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, s.Touch(ctx, Entry{ID: "a"}))

	now = now.Add(2 * time.Minute)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisStore_Expiry(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Touch(ctx, Entry{ID: "a", Route: "/"}))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"a"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0", time.Minute)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Touch(context.Background(), Entry{ID: "x"}))
	assert.True(t, mr.Exists(keyPrefix+"x"))

	_, err = OpenRedis(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}

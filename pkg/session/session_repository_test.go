package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisRepo(t *testing.T) (Repository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionRepository(client, "test:", time.Hour), mr
}

func testRepositories(t *testing.T) map[string]Repository {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	redisRepo, _ := newMiniRedisRepo(t)
	return map[string]Repository{
		"memory": NewInMemorySessionRepository(ctx, time.Hour),
		"redis":  redisRepo,
	}
}

func TestRepositories(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s1, err := repo.Create(ctx, Session{ID: "s1", UserName: "bob", Open: true, NASPort: "1"})
			require.NoError(t, err)
			assert.False(t, s1.StartedAt.IsZero())
			_, err = repo.Create(ctx, Session{ID: "s1", UserName: "bob"})
			assert.ErrorIs(t, err, ErrSessionExists)
			_, err = repo.Create(ctx, Session{UserName: "bob"})
			assert.Error(t, err)

			_, err = repo.Create(ctx, Session{ID: "s2", UserName: "bob", Open: true, StartedAt: s1.StartedAt.Add(time.Second)})
			require.NoError(t, err)
			_, err = repo.Create(ctx, Session{ID: "s3", UserName: "alice", Open: true})
			require.NoError(t, err)

			count, err := repo.CountOpen(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			s1.InputOctets = 1000
			s1.Close(time.Now())
			require.NoError(t, repo.Update(ctx, s1))
			got, err := repo.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, got.Open)
			assert.Equal(t, uint64(1000), got.InputOctets)

			count, _ = repo.CountOpen(ctx, "bob")
			assert.Equal(t, 1, count)

			list, err := repo.ListByUser(ctx, "bob")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "s1", list[0].ID)
			assert.Equal(t, "s2", list[1].ID)

			assert.ErrorIs(t, repo.Update(ctx, Session{ID: "missing"}), ErrSessionNotFound)
			_, err = repo.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			require.NoError(t, repo.Delete(ctx, "s2"))
			assert.ErrorIs(t, repo.Delete(ctx, "s2"), ErrSessionNotFound)
			list, _ = repo.ListByUser(ctx, "bob")
			assert.Len(t, list, 1)

			list, err = repo.ListByUser(ctx, "nobody")
			assert.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestRedisClosedSessionsExpire(t *testing.T) {
	repo, mr := newMiniRedisRepo(t)
	ctx := context.Background()
	s, err := repo.Create(ctx, Session{ID: "s1", UserName: "bob", Open: true})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), mr.TTL("test:session:s1"))

	s.Close(time.Now())
	require.NoError(t, repo.Update(ctx, s))
	assert.Equal(t, time.Hour, mr.TTL("test:session:s1"))

	mr.FastForward(2 * time.Hour)
	list, err := repo.ListByUser(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
	members, _ := mr.Members("test:user:bob")
	assert.Empty(t, members)
}

func TestInMemoryRemoveExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := NewInMemorySessionRepository(ctx, time.Minute).(*inMemorySessionRepository)
	now := time.Now()
	closed := Session{ID: "old", UserName: "bob"}
	closed.Close(now.Add(-2 * time.Minute))
	_, err := repo.Create(ctx, closed)
	require.NoError(t, err)
	_, err = repo.Create(ctx, Session{ID: "open", UserName: "bob", Open: true})
	require.NoError(t, err)

	repo.removeExpired(now)
	_, err = repo.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = repo.Get(ctx, "open")
	assert.NoError(t, err)
}

func TestNewRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	tests := []struct {
		name    string
		ds      DataStore
		wantErr bool
	}{
		{"default", DataStore{}, false},
		{"memory", DataStore{Type: "memory", Properties: map[string]interface{}{"retention": "1h"}}, false},
		{"redis", DataStore{Type: "redis", Properties: map[string]interface{}{"addr": mr.Addr(), "prefix": "x:"}}, false},
		{"bad retention", DataStore{Type: "memory", Properties: map[string]interface{}{"retention": "forever"}}, true},
		{"unknown", DataStore{Type: "cassandra"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := NewRepository(context.Background(), tt.ds)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, repo)
		})
	}
}

package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

type storeFactory func(t *testing.T) (interfaces.MessageStore, func(now func() time.Time))

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, nil), mr
}

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Every backend must satisfy the same ordering contract
func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) (interfaces.MessageStore, func(func() time.Time)) {
			s := NewMemoryStore()
			return s, func(now func() time.Time) { s.now = now }
		},
		"redis": func(t *testing.T) (interfaces.MessageStore, func(func() time.Time)) {
			s, _ := newTestRedisStore(t)
			return s, func(now func() time.Time) { s.now = now }
		},
		"badger": func(t *testing.T) (interfaces.MessageStore, func(func() time.Time)) {
			s := newTestBadgerStore(t)
			return s, func(now func() time.Time) { s.now = now }
		},
	}
}

func TestStores_AppendAssignsIDAndTimestamp(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store, _ := factory(t)
			ctx := context.Background()

			msg := &types.ChatMessage{CourseID: 7, SenderID: 2, Sender: "alice", Message: "Hello, course chat!"}
			req.NoError(store.Append(ctx, msg))
			req.Positive(msg.ID)
			req.False(msg.Timestamp.IsZero())

			history, err := store.History(ctx, 7)
			req.NoError(err)
			req.Len(history, 1)
			req.Equal(msg.ID, history[0].ID)
			req.Equal("alice", history[0].Sender)
			req.Equal("Hello, course chat!", history[0].Message)
			req.Equal(int64(7), history[0].CourseID)
			req.True(msg.Timestamp.Equal(history[0].Timestamp))
		})
	}
}

func TestStores_HistoryIsPerCourseAndOrdered(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store, _ := factory(t)
			ctx := context.Background()

			for _, text := range []string{"one", "two", ""} {
				req.NoError(store.Append(ctx, &types.ChatMessage{CourseID: 1, SenderID: 1, Sender: "a", Message: text}))
			}
			req.NoError(store.Append(ctx, &types.ChatMessage{CourseID: 2, SenderID: 1, Sender: "a", Message: "other"}))

			history, err := store.History(ctx, 1)
			req.NoError(err)
			req.Len(history, 3)
			req.Equal("one", history[0].Message)
			req.Equal("two", history[1].Message)
			req.Equal("", history[2].Message, "empty text is stored")

			empty, err := store.History(ctx, 99)
			req.NoError(err)
			req.Empty(empty)
		})
	}
}

func TestStores_TimestampNeverGoesBackwards(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store, setNow := factory(t)
			ctx := context.Background()

			// Given a clock that jumps back between two appends
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			setNow(func() time.Time { return base })
			first := &types.ChatMessage{CourseID: 3, SenderID: 1, Message: "first"}
			req.NoError(store.Append(ctx, first))

			setNow(func() time.Time { return base.Add(-time.Hour) })
			second := &types.ChatMessage{CourseID: 3, SenderID: 1, Message: "second"}
			req.NoError(store.Append(ctx, second))

			// Then the second timestamp is clamped to the first
			req.True(second.Timestamp.Equal(first.Timestamp))
			req.Greater(second.ID, first.ID)

			// And another course is unaffected by the clamp
			other := &types.ChatMessage{CourseID: 4, SenderID: 1, Message: "x"}
			req.NoError(store.Append(ctx, other))
			req.True(other.Timestamp.Equal(base.Add(-time.Hour)))
		})
	}
}

func TestStores_ConcurrentAppends(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store, _ := factory(t)
			ctx := context.Background()

			const writers, perWriter = 5, 20
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						if err := store.Append(ctx, &types.ChatMessage{CourseID: 5, SenderID: 1, Message: "m"}); err != nil {
							t.Error(err)
						}
					}
				}()
			}
			wg.Wait()

			history, err := store.History(ctx, 5)
			req.NoError(err)
			req.Len(history, writers*perWriter)
			for i := 1; i < len(history); i++ {
				req.Greater(history[i].ID, history[i-1].ID)
				req.False(history[i].Timestamp.Before(history[i-1].Timestamp))
			}
		})
	}
}

func TestStores_RejectOversizedMessage(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store, _ := factory(t)
			big := make([]byte, types.MaxMessageBytes+1)
			err := store.Append(context.Background(), &types.ChatMessage{CourseID: 1, SenderID: 1, Message: string(big)})
			require.ErrorIs(t, err, types.ErrMessageTooLarge)
		})
	}
}

func TestMemoryStore_HistoryReturnsCopies(t *testing.T) {
	req := require.New(t)
	store := NewMemoryStore()
	ctx := context.Background()

	req.NoError(store.Append(ctx, &types.ChatMessage{CourseID: 1, SenderID: 1, Message: "original"}))
	history, err := store.History(ctx, 1)
	req.NoError(err)
	history[0].Message = "mutated"

	history, err = store.History(ctx, 1)
	req.NoError(err)
	req.Equal("original", history[0].Message)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())
	require.ErrorIs(t, store.Append(context.Background(), &types.ChatMessage{CourseID: 1}), ErrStoreClosed)
	require.ErrorIs(t, store.HealthCheck(context.Background()), ErrStoreClosed)
}

func TestRedisStore_HealthCheckFailsWhenServerDown(t *testing.T) {
	store, mr := newTestRedisStore(t)
	require.NoError(t, store.HealthCheck(context.Background()))

	mr.Close()
	require.Error(t, store.HealthCheck(context.Background()))
	require.Error(t, store.Append(context.Background(), &types.ChatMessage{CourseID: 1, Message: "lost"}))
}

func TestRedisStore_SkipsCorruptMembers(t *testing.T) {
	req := require.New(t)
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	req.NoError(store.Append(ctx, &types.ChatMessage{CourseID: 1, SenderID: 1, Message: "ok"}))
	_, err := mr.ZAdd(redisKey(1, "messages"), 99, "garbage")
	req.NoError(err)

	history, err := store.History(ctx, 1)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("ok", history[0].Message)
}

func TestBadgerStore_ClampSurvivesReopenOfCache(t *testing.T) {
	req := require.New(t)
	store := newTestBadgerStore(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour).UTC()
	store.now = func() time.Time { return future }
	req.NoError(store.Append(ctx, &types.ChatMessage{CourseID: 1, SenderID: 1, Message: "a"}))

	// Dropping the cache forces the last timestamp to be read back from disk
	store.lastTS = make(map[int64]time.Time)
	store.now = time.Now
	msg := &types.ChatMessage{CourseID: 1, SenderID: 1, Message: "b"}
	req.NoError(store.Append(ctx, msg))
	req.True(msg.Timestamp.Equal(future))
}

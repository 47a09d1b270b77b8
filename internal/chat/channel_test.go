package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coursechat/internal/message"
	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

var (
	student = types.Identity{UserID: 2, Username: "alice", Role: types.RoleStudent}
	teacher = types.Identity{UserID: 1, Username: "prof", Role: types.RoleTeacher}
)

func newTestChannel(t *testing.T, store interfaces.MessageStore, rooms Broadcaster, cfg Config) *Channel {
	t.Helper()
	ch := NewChannel(store, rooms, cfg, nil)
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Stop() })
	return ch
}

func TestChannel_SubmitPersistsThenBroadcasts(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := message.NewMemoryStore()
	rooms := NewRooms(nil)
	ch := newTestChannel(t, store, rooms, DefaultConfig())

	teacherConn, studentConn := newFakeHandle(teacher.UserID), newFakeHandle(student.UserID)
	rooms.Join(7, teacherConn)
	rooms.Join(7, studentConn)

	msg, err := ch.Submit(ctx, 7, student, "Hello, course chat!")
	req.NoError(err)
	req.Positive(msg.ID)
	req.Equal("alice", msg.Sender)

	want := Broadcast{Message: "Hello, course chat!", Username: "alice", MessageID: msg.ID, Timestamp: msg.Timestamp}
	req.Equal([]Broadcast{want}, teacherConn.received())
	req.Equal([]Broadcast{want}, studentConn.received(), "the sender receives its own message")

	history, err := ch.History(ctx, 7)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("Hello, course chat!", history[0].Message)
}

func TestChannel_AnonymousSenderIsRejected(t *testing.T) {
	req := require.New(t)
	store := message.NewMemoryStore()
	rooms := newCountingRooms()
	ch := newTestChannel(t, store, rooms, DefaultConfig())

	_, err := ch.Submit(context.Background(), 7, types.Anonymous(), "spam")
	req.ErrorIs(err, ErrUnauthorized)
	req.ErrorIs(err, interfaces.ErrUnauthorized)

	history, err := ch.History(context.Background(), 7)
	req.NoError(err)
	req.Empty(history)
	req.Zero(rooms.count(7))
}

func TestChannel_PersistenceFailureSuppressesBroadcast(t *testing.T) {
	req := require.New(t)
	store := &failingStore{store: message.NewMemoryStore()}
	rooms := newCountingRooms()
	ch := newTestChannel(t, store, rooms, DefaultConfig())
	listener := newFakeHandle(teacher.UserID)
	rooms.Join(7, listener)

	store.fail.Store(true)
	_, err := ch.Submit(context.Background(), 7, student, "lost")
	req.ErrorIs(err, ErrPersistence)
	req.Zero(rooms.count(7))
	req.Empty(listener.received())

	// The channel keeps working once the store recovers
	store.fail.Store(false)
	_, err = ch.Submit(context.Background(), 7, student, "back")
	req.NoError(err)
	req.Equal(1, rooms.count(7))

	store.fail.Store(true)
	_, err = ch.History(context.Background(), 7)
	req.ErrorIs(err, ErrPersistence)
}

func TestChannel_PersistenceErrorKeepsStoreCause(t *testing.T) {
	req := require.New(t)
	store := &failingStore{store: message.NewMemoryStore()}
	ch := newTestChannel(t, store, newCountingRooms(), DefaultConfig())
	store.fail.Store(true)

	// When
	_, submitErr := ch.Submit(context.Background(), 7, student, "lost")
	_, historyErr := ch.History(context.Background(), 7)

	// Then callers can match both the channel sentinel and the store's own error
	for _, err := range []error{submitErr, historyErr} {
		req.ErrorIs(err, ErrPersistence)
		req.ErrorIs(err, errDiskFull)
	}
}

func TestChannel_CourseLocksAreReleased(t *testing.T) {
	req := require.New(t)
	ch := newTestChannel(t, message.NewMemoryStore(), NewRooms(nil), Config{RateLimit: 0})

	// Given submissions spread over many courses, some of them concurrent
	var wg sync.WaitGroup
	for course := int64(1); course <= 50; course++ {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := ch.Submit(context.Background(), course, student, "hi"); err != nil {
					t.Error(err)
				}
			}()
		}
	}
	wg.Wait()

	// Then no per-course lock outlives its submissions
	req.Zero(ch.lockCount())

	_, err := ch.Submit(context.Background(), 51, student, "again")
	req.NoError(err)
	req.Zero(ch.lockCount())
}

func TestChannel_EmptyTextIsPersistedAndBroadcast(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms(nil)
	ch := newTestChannel(t, message.NewMemoryStore(), rooms, DefaultConfig())
	h := newFakeHandle(teacher.UserID)
	rooms.Join(7, h)

	msg, err := ch.Submit(context.Background(), 7, student, "")
	req.NoError(err)
	req.Equal("", msg.Message)
	req.Len(h.received(), 1)
}

func TestChannel_RejectsOversizedText(t *testing.T) {
	ch := newTestChannel(t, message.NewMemoryStore(), NewRooms(nil), DefaultConfig())
	_, err := ch.Submit(context.Background(), 7, student, string(make([]byte, types.MaxMessageBytes+1)))
	require.ErrorIs(t, err, types.ErrMessageTooLarge)
}

func TestChannel_ConcurrentSubmitsArriveInPersistedOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := message.NewMemoryStore()
	rooms := NewRooms(nil)
	ch := newTestChannel(t, store, rooms, Config{RateLimit: 0})

	subscribers := []*fakeHandle{newFakeHandle(10), newFakeHandle(11), newFakeHandle(12)}
	for _, h := range subscribers {
		rooms.Join(7, h)
	}

	const senders, perSender = 6, 25
	var wg sync.WaitGroup
	for s := 1; s <= senders; s++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			sender := types.Identity{UserID: id, Username: fmt.Sprintf("user%d", id)}
			for i := 0; i < perSender; i++ {
				if _, err := ch.Submit(ctx, 7, sender, fmt.Sprintf("%d-%d", id, i)); err != nil {
					t.Error(err)
				}
			}
		}(int64(s))
	}
	wg.Wait()

	history, err := ch.History(ctx, 7)
	req.NoError(err)
	req.Len(history, senders*perSender)

	// Every subscriber saw exactly the persisted order
	for _, h := range subscribers {
		got := h.received()
		req.Len(got, len(history))
		for i := range history {
			req.Equal(history[i].ID, got[i].MessageID)
		}
	}
}

func TestChannel_RateLimit(t *testing.T) {
	req := require.New(t)
	ch := newTestChannel(t, message.NewMemoryStore(), NewRooms(nil), Config{RateLimit: 2, RateWindow: time.Minute})
	ctx := context.Background()

	_, err := ch.Submit(ctx, 7, student, "1")
	req.NoError(err)
	_, err = ch.Submit(ctx, 7, student, "2")
	req.NoError(err)
	_, err = ch.Submit(ctx, 7, student, "3")
	req.ErrorIs(err, ErrRateLimited)

	// Limits are per sender
	_, err = ch.Submit(ctx, 7, teacher, "mine")
	req.NoError(err)
}

func TestChannel_Lifecycle(t *testing.T) {
	req := require.New(t)
	ch := NewChannel(message.NewMemoryStore(), NewRooms(nil), DefaultConfig(), nil)

	_, err := ch.Submit(context.Background(), 7, student, "early")
	req.ErrorIs(err, ErrChannelStopped)

	req.NoError(ch.Start(context.Background()))
	req.ErrorIs(ch.Start(context.Background()), ErrChannelAlreadyRunning)

	req.NoError(ch.Stop())
	req.ErrorIs(ch.Stop(), ErrChannelStopped)

	_, err = ch.Submit(context.Background(), 7, student, "late")
	req.True(errors.Is(err, ErrChannelStopped))

	// History stays readable
	_, err = ch.History(context.Background(), 7)
	req.NoError(err)
}

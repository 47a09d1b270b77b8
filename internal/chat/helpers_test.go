package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"coursechat/pkg/types"
)

type fakeHandle struct {
	id     string
	userID int64

	mu     sync.Mutex
	got    []Broadcast
	closed bool
}

var handleSeq atomic.Int64

func newFakeHandle(userID int64) *fakeHandle {
	return &fakeHandle{id: fmt.Sprintf("h-%d", handleSeq.Add(1)), userID: userID}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) UserID() int64 { return h.userID }

func (h *fakeHandle) Deliver(b Broadcast) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	h.got = append(h.got, b)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) received() []Broadcast {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Broadcast(nil), h.got...)
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// countingRooms records broadcast calls per course
type countingRooms struct {
	*Rooms
	mu    sync.Mutex
	calls map[int64]int
}

func newCountingRooms() *countingRooms {
	return &countingRooms{Rooms: NewRooms(nil), calls: make(map[int64]int)}
}

func (c *countingRooms) Broadcast(courseID int64, b Broadcast) int {
	c.mu.Lock()
	c.calls[courseID]++
	c.mu.Unlock()
	return c.Rooms.Broadcast(courseID, b)
}

func (c *countingRooms) count(courseID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[courseID]
}

var errDiskFull = errors.New("disk full")

// failingStore wraps a store and fails appends while fail is set
type failingStore struct {
	store interface {
		Append(ctx context.Context, m *types.ChatMessage) error
		History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error)
	}
	fail atomic.Bool
}

func (f *failingStore) Append(ctx context.Context, m *types.ChatMessage) error {
	if f.fail.Load() {
		return errDiskFull
	}
	return f.store.Append(ctx, m)
}

func (f *failingStore) History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error) {
	if f.fail.Load() {
		return nil, errDiskFull
	}
	return f.store.History(ctx, courseID)
}

func (f *failingStore) HealthCheck(context.Context) error { return nil }

func (f *failingStore) Close() error { return nil }

// lockCount reports how many per-course locks the channel is holding on to
func (c *Channel) lockCount() int {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	return len(c.locks)
}

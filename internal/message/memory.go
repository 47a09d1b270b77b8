// Package message holds the alternative chat message stores: an in-process
// store for development and tests, Redis and Badger.
package message

import (
	"context"
	"sync"
	"time"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

var _ interfaces.MessageStore = (*MemoryStore)(nil)

// MemoryStore keeps every message in process memory. History does not
// survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	courses map[int64][]*types.ChatMessage
	nextID  int64
	closed  bool
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses: make(map[int64][]*types.ChatMessage),
		now:     time.Now,
	}
}

// Append stores a copy of msg and assigns its id and timestamp
func (s *MemoryStore) Append(ctx context.Context, msg *types.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.CourseID <= 0 {
		return ErrInvalidCourse
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	msgs := s.courses[msg.CourseID]
	ts := s.now().UTC()
	if n := len(msgs); n > 0 && msgs[n-1].Timestamp.After(ts) {
		ts = msgs[n-1].Timestamp
	}

	s.nextID++
	msg.ID = s.nextID
	msg.Timestamp = ts

	stored := *msg
	s.courses[msg.CourseID] = append(msgs, &stored)
	return nil
}

// History returns copies so callers cannot mutate stored records
func (s *MemoryStore) History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	msgs := s.courses[courseID]
	out := make([]*types.ChatMessage, len(msgs))
	for i, m := range msgs {
		c := *m
		out[i] = &c
	}
	return out, nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

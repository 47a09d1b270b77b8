// Package chat implements the per-course chat channel: the room registry
// that tracks attached connections and the channel that persists each
// message before fanning it out.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

// Broadcaster fans a payload out to a course room
type Broadcaster interface {
	Broadcast(courseID int64, b Broadcast) int
}

// Config tunes a Channel
type Config struct {
	RateLimit       int
	RateWindow      time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RateLimit:       100,
		RateWindow:      time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Channel accepts chat messages, persists them and broadcasts them.
// Submissions to one course are serialized, so the order in which they
// are persisted is the order every member receives them.
type Channel struct {
	store   interfaces.MessageStore
	rooms   Broadcaster
	limiter *RateLimiter
	config  Config
	log     *slog.Logger

	locksMu sync.Mutex
	locks   map[int64]*courseLock

	running  bool
	mu       sync.RWMutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewChannel(store interfaces.MessageStore, rooms Broadcaster, config Config, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	return &Channel{
		store:   store,
		rooms:   rooms,
		limiter: NewRateLimiter(config.RateLimit, config.RateWindow),
		config:  config,
		log:     log.With("component", "chat"),
		locks:   make(map[int64]*courseLock),
	}
}

// Start begins accepting submissions and runs the limiter janitor
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrChannelAlreadyRunning
	}
	c.running = true
	c.shutdown = make(chan struct{})

	c.wg.Add(1)
	go c.janitor(ctx, c.shutdown)

	c.log.Info("chat channel started")
	return nil
}

// Stop rejects further submissions. In-flight submissions complete.
func (c *Channel) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrChannelStopped
	}
	c.running = false
	close(c.shutdown)
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info("chat channel stopped")
	return nil
}

func (c *Channel) janitor(ctx context.Context, shutdown <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.limiter.Cleanup()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) isRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Submit persists text as a message from sender and broadcasts it to the
// course room. Nothing is broadcast unless the store accepted the message.
// Anonymous senders get ErrUnauthorized and nothing is stored.
func (c *Channel) Submit(ctx context.Context, courseID int64, sender types.Identity, text string) (*types.ChatMessage, error) {
	if !c.isRunning() {
		return nil, ErrChannelStopped
	}
	if !sender.Authenticated() {
		return nil, ErrUnauthorized
	}

	msg := &types.ChatMessage{
		CourseID: courseID,
		SenderID: sender.UserID,
		Sender:   sender.DisplayName(),
		Message:  text,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if !c.limiter.Allow(sender.UserID) {
		return nil, ErrRateLimited
	}

	lock := c.lockCourse(courseID)
	defer c.unlockCourse(courseID, lock)

	if err := c.store.Append(ctx, msg); err != nil {
		c.log.Error("chat message not persisted", "course_id", courseID, "user_id", sender.UserID, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	delivered := c.rooms.Broadcast(courseID, Broadcast{
		Message:   msg.Message,
		Username:  msg.Sender,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	})
	c.log.Debug("chat message broadcast", "course_id", courseID, "message_id", msg.ID, "delivered", delivered)
	return msg, nil
}

// History returns the course's messages oldest first. Authorization is the
// caller's job.
func (c *Channel) History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error) {
	msgs, err := c.store.History(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if msgs == nil {
		msgs = []*types.ChatMessage{}
	}
	return msgs, nil
}

// courseLock serializes submissions to one course. Entries live only while
// some submission holds or waits on them.
type courseLock struct {
	mu   sync.Mutex
	refs int
}

func (c *Channel) lockCourse(courseID int64) *courseLock {
	c.locksMu.Lock()
	l, ok := c.locks[courseID]
	if !ok {
		l = &courseLock{}
		c.locks[courseID] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (c *Channel) unlockCourse(courseID int64, l *courseLock) {
	l.mu.Unlock()

	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, courseID)
	}
}

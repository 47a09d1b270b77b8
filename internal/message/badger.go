package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

var _ interfaces.MessageStore = (*BadgerStore)(nil)

var badgerSeqKey = []byte("chat:seq")

func badgerPrefix(courseID int64) []byte {
	return []byte(fmt.Sprintf("chat:msg:%019d:", courseID))
}

func badgerKey(courseID, id int64) []byte {
	return []byte(fmt.Sprintf("chat:msg:%019d:%019d", courseID, id))
}

type badgerRecord struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"sender_id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BadgerStore is an embedded log-structured store. Keys are zero padded so
// a prefix scan of a course yields its messages in id order.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
	now func() time.Time

	// mu serializes appends; lastTS caches the newest timestamp per course
	mu     sync.Mutex
	lastTS map[int64]time.Time
}

// NewBadgerStore takes ownership of db and closes it on Close
func NewBadgerStore(db *badger.DB, log *slog.Logger) (*BadgerStore, error) {
	if log == nil {
		log = slog.Default()
	}
	seq, err := db.GetSequence(badgerSeqKey, 100)
	if err != nil {
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}
	return &BadgerStore{
		db:     db,
		seq:    seq,
		log:    log.With("component", "badger_store"),
		now:    time.Now,
		lastTS: make(map[int64]time.Time),
	}, nil
}

// OpenBadger opens a store at dir; an empty dir keeps everything in memory
func OpenBadger(dir string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	store, err := NewBadgerStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *BadgerStore) Append(ctx context.Context, msg *types.ChatMessage) error {
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

	last, err := s.lastTimestamp(msg.CourseID)
	if err != nil {
		return err
	}
	ts := s.now().UTC()
	if last.After(ts) {
		ts = last
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate message id: %w", err)
	}
	id := int64(n) + 1

	data, err := json.Marshal(badgerRecord{
		ID:        id,
		SenderID:  msg.SenderID,
		Sender:    msg.Sender,
		Message:   msg.Message,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(msg.CourseID, id), data)
	}); err != nil {
		return fmt.Errorf("badger append failed: %w", err)
	}

	s.lastTS[msg.CourseID] = ts
	msg.ID = id
	msg.Timestamp = ts
	return nil
}

// lastTimestamp reads the newest record of the course once, then serves
// from the cache. Callers hold s.mu.
func (s *BadgerStore) lastTimestamp(courseID int64) (time.Time, error) {
	if ts, ok := s.lastTS[courseID]; ok {
		return ts, nil
	}

	var last time.Time
	prefix := badgerPrefix(courseID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(bytes.Clone(prefix), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(v []byte) error {
			var rec badgerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
			}
			last = rec.Timestamp
			return nil
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last message: %w", err)
	}
	s.lastTS[courseID] = last
	return last, nil
}

func (s *BadgerStore) History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msgs []*types.ChatMessage
	prefix := badgerPrefix(courseID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var rec badgerRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					s.log.Warn("skipping unreadable chat record", "key", string(it.Item().Key()), "err", err)
					return nil
				}
				msgs = append(msgs, &types.ChatMessage{
					ID:        rec.ID,
					CourseID:  courseID,
					SenderID:  rec.SenderID,
					Sender:    rec.Sender,
					Message:   rec.Message,
					Timestamp: rec.Timestamp,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger history failed: %w", err)
	}
	return msgs, nil
}

func (s *BadgerStore) HealthCheck(ctx context.Context) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return ctx.Err()
}

func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		s.log.Warn("failed to release id sequence", "err", err)
	}
	return s.db.Close()
}

package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

var _ interfaces.MessageStore = (*RedisStore)(nil)

const redisTimeout = 2 * time.Second

// appendScript allocates the next id and a non-decreasing timestamp for the
// course and adds the record in one step. Timestamps travel as strings of
// unix microseconds so Lua number formatting never touches them.
//
// KEYS[1] seq, KEYS[2] last timestamp, KEYS[3] message zset
// ARGV[1] now (unix micros), ARGV[2] encoded record
var appendScript = redis.NewScript(`
local id = tostring(redis.call('INCR', KEYS[1]))
local ts = ARGV[1]
local last = redis.call('GET', KEYS[2])
if last and tonumber(last) > tonumber(ts) then
  ts = last
end
redis.call('SET', KEYS[2], ts)
redis.call('ZADD', KEYS[3], id, id .. '|' .. ts .. '|' .. ARGV[2])
return {id, ts}
`)

// redisKey keeps every key of one course in the same cluster slot
func redisKey(courseID int64, suffix string) string {
	return fmt.Sprintf("chat:{course:%d}:%s", courseID, suffix)
}

type redisRecord struct {
	SenderID int64  `json:"sender_id"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
}

// RedisStore keeps each course's chat log in a sorted set scored by id.
// Ids are allocated per course.
type RedisStore struct {
	client redis.UniversalClient
	log    *slog.Logger
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client: client,
		log:    log.With("component", "redis_store"),
		now:    time.Now,
	}
}

func (s *RedisStore) Append(ctx context.Context, msg *types.ChatMessage) error {
	if msg.CourseID <= 0 {
		return ErrInvalidCourse
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(redisRecord{SenderID: msg.SenderID, Sender: msg.Sender, Message: msg.Message})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	keys := []string{
		redisKey(msg.CourseID, "seq"),
		redisKey(msg.CourseID, "last_ts"),
		redisKey(msg.CourseID, "messages"),
	}
	now := strconv.FormatInt(s.now().UnixMicro(), 10)

	res, err := appendScript.Run(ctx, s.client, keys, now, data).StringSlice()
	if err != nil {
		return fmt.Errorf("redis append failed: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("%w: unexpected script reply %v", ErrCorruptRecord, res)
	}

	id, err := strconv.ParseInt(res[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: id %q", ErrCorruptRecord, res[0])
	}
	micros, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrCorruptRecord, res[1])
	}

	msg.ID = id
	msg.Timestamp = time.UnixMicro(micros).UTC()
	return nil
}

func (s *RedisStore) History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	vals, err := s.client.ZRange(ctx, redisKey(courseID, "messages"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history failed: %w", err)
	}

	msgs := make([]*types.ChatMessage, 0, len(vals))
	for _, v := range vals {
		msg, err := decodeRedisMember(courseID, v)
		if err != nil {
			s.log.Warn("skipping unreadable chat record", "course_id", courseID, "err", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func decodeRedisMember(courseID int64, member string) (*types.ChatMessage, error) {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) != 3 {
		return nil, ErrCorruptRecord
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	micros, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	var rec redisRecord
	if err := json.Unmarshal([]byte(parts[2]), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &types.ChatMessage{
		ID:        id,
		CourseID:  courseID,
		SenderID:  rec.SenderID,
		Sender:    rec.Sender,
		Message:   rec.Message,
		Timestamp: time.UnixMicro(micros).UTC(),
	}, nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

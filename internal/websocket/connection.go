package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coursechat/internal/chat"
)

// ConnectionConfig holds transport timings
type ConnectionConfig struct {
	SendBuffer   int
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	ReadLimit    int64
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		SendBuffer:   100,
		WriteWait:    5 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 30 * time.Second,
		ReadLimit:    128 * 1024,
	}
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	return c
}

// Connection wraps one websocket. All writes happen on a single writer
// goroutine fed by a bounded queue; a peer that cannot keep up is closed
// rather than allowed to stall the room.
type Connection struct {
	id     string
	userID int64
	conn   *websocket.Conn
	config ConnectionConfig
	log    *slog.Logger

	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

var _ chat.Handle = (*Connection)(nil)

// NewConnection starts the writer goroutine
func NewConnection(conn *websocket.Conn, userID int64, config ConnectionConfig, log *slog.Logger) *Connection {
	if log == nil {
		log = slog.Default()
	}
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		userID:  userID,
		conn:    conn,
		config:  config,
		writeCh: make(chan []byte, config.SendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.log = log.With("conn_id", c.id)

	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() int64 { return c.userID }

// Context is cancelled when the connection closes
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed once the writer goroutine has exited
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) writeLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", "err", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Deliver queues a broadcast without blocking
func (c *Connection) Deliver(b chat.Broadcast) error {
	return c.enqueue(b)
}

// WriteJSON queues any frame without blocking
func (c *Connection) WriteJSON(v interface{}) error {
	return c.enqueue(v)
}

func (c *Connection) enqueue(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return chat.ErrHandleClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return chat.ErrHandleClosed
	default:
		c.log.Warn("send queue full, closing slow connection")
		_ = c.Close()
		return chat.ErrHandleBackedUp
	}
}

// Close is idempotent; the read side observes it as a read error
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}

package chat

import "time"

// Broadcast is what every room member receives for one chat message. Only
// message and username go on the wire.
type Broadcast struct {
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	MessageID int64     `json:"-"`
	Timestamp time.Time `json:"-"`
}

// Handle is the room's non-owning reference to one connection
type Handle interface {
	// ID is unique per connection, so one user may hold several handles
	ID() string
	UserID() int64

	// Deliver must not block. It returns an error when the handle can no
	// longer accept payloads.
	Deliver(b Broadcast) error
	Close() error
}

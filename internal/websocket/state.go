package websocket

import (
	"fmt"
	"sync"

	"coursechat/pkg/types"
)

// State is the lifecycle of one chat connection
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanTransition reports whether from -> to is allowed. Closed is terminal.
func CanTransition(from, to State) bool {
	switch from {
	case StateConnecting:
		return to == StateJoined || to == StateClosed
	case StateJoined:
		return to == StateClosed
	default:
		return false
	}
}

// Session is the per-connection state: who is connected, to which course,
// and where in the lifecycle it is.
type Session struct {
	Identity types.Identity
	CourseID int64

	// Member is the membership decision taken at connect time. Non-members
	// only receive.
	Member bool

	mu    sync.Mutex
	state State
}

func NewSession(id types.Identity, courseID int64, member bool) *Session {
	return &Session{Identity: id, CourseID: courseID, Member: member, state: StateConnecting}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join moves Connecting to Joined
func (s *Session) Join() error {
	return s.transition(StateJoined)
}

// Close moves the session to Closed. Only the first call succeeds, which is
// what makes the caller's cleanup run exactly once.
func (s *Session) Close() error {
	return s.transition(StateClosed)
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

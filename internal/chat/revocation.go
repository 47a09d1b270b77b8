package chat

import (
	"context"
	"fmt"
	"log/slog"
)

// RevocationPolicy decides what happens to open chat sessions of a student
// who gets blocked from the course.
type RevocationPolicy string

const (
	// RevocationNone leaves open sessions attached; the block applies from
	// the next connect.
	RevocationNone RevocationPolicy = "none"

	// RevocationDisconnect closes the student's open sessions in that room.
	RevocationDisconnect RevocationPolicy = "disconnect"
)

func ParseRevocationPolicy(s string) (RevocationPolicy, error) {
	switch p := RevocationPolicy(s); p {
	case RevocationNone, RevocationDisconnect:
		return p, nil
	case "":
		return RevocationNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Revoker applies a RevocationPolicy when the course registry reports a block
type Revoker struct {
	rooms  *Rooms
	policy RevocationPolicy
	log    *slog.Logger
}

func NewRevoker(rooms *Rooms, policy RevocationPolicy, log *slog.Logger) *Revoker {
	if log == nil {
		log = slog.Default()
	}
	return &Revoker{rooms: rooms, policy: policy, log: log.With("component", "revoker")}
}

func (r *Revoker) StudentBlocked(_ context.Context, courseID, studentID int64) {
	if r.policy != RevocationDisconnect {
		return
	}
	if n := r.rooms.Evict(courseID, studentID); n > 0 {
		r.log.Info("disconnected blocked student", "course_id", courseID, "user_id", studentID, "sessions", n)
	}
}

package chat

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

type room struct {
	members map[string]Handle

	// seq orders broadcasts issued for this room
	seq sync.Mutex
}

// Rooms is the room registry: course id to the handles currently attached.
// A room exists only while it has members.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[int64]*room
	log   *slog.Logger

	broadcasts atomic.Int64
	failures   atomic.Int64
}

func NewRooms(log *slog.Logger) *Rooms {
	if log == nil {
		log = slog.Default()
	}
	return &Rooms{
		rooms: make(map[int64]*room),
		log:   log.With("component", "rooms"),
	}
}

// Join adds h to the course room, creating the room on first join.
// It reports false when h was already a member.
func (r *Rooms) Join(courseID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[courseID]
	if !ok {
		rm = &room{members: make(map[string]Handle)}
		r.rooms[courseID] = rm
	}
	if _, exists := rm.members[h.ID()]; exists {
		return false
	}
	rm.members[h.ID()] = h
	return true
}

// Leave removes h and drops the room once it is empty. Leaving twice is a no-op.
func (r *Rooms) Leave(courseID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[courseID]
	if !ok {
		return false
	}
	if _, exists := rm.members[h.ID()]; !exists {
		return false
	}
	delete(rm.members, h.ID())
	if len(rm.members) == 0 {
		delete(r.rooms, courseID)
	}
	return true
}

// Broadcast delivers b to every current member and returns how many
// accepted it. Members are snapshotted under the registry lock and delivered
// to outside it; a failing handle is skipped. Broadcasts to the same room
// never overlap, so members see them in issue order.
func (r *Rooms) Broadcast(courseID int64, b Broadcast) int {
	r.broadcasts.Add(1)

	r.mu.RLock()
	rm, ok := r.rooms[courseID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	rm.seq.Lock()
	defer rm.seq.Unlock()

	// A room removed from the map keeps no members, so a stale rm is harmless
	r.mu.RLock()
	members := make([]Handle, 0, len(rm.members))
	for _, h := range rm.members {
		members = append(members, h)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, h := range members {
		if err := h.Deliver(b); err != nil {
			r.failures.Add(1)
			r.log.Debug("skipping member", "course_id", courseID, "handle", h.ID(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns a snapshot of the room
func (r *Rooms) Members(courseID int64) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[courseID]
	if !ok {
		return nil
	}
	out := make([]Handle, 0, len(rm.members))
	for _, h := range rm.members {
		out = append(out, h)
	}
	return out
}

// Evict removes every handle of userID from the room and closes them
func (r *Rooms) Evict(courseID, userID int64) int {
	r.mu.Lock()
	var evicted []Handle
	if rm, ok := r.rooms[courseID]; ok {
		for id, h := range rm.members {
			if h.UserID() == userID {
				evicted = append(evicted, h)
				delete(rm.members, id)
			}
		}
		if len(rm.members) == 0 {
			delete(r.rooms, courseID)
		}
	}
	r.mu.Unlock()

	for _, h := range evicted {
		if err := h.Close(); err != nil {
			r.log.Debug("failed to close evicted handle", "handle", h.ID(), "err", err)
		}
	}
	return len(evicted)
}

// Stats returns registry statistics for monitoring
func (r *Rooms) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := 0
	for _, rm := range r.rooms {
		handles += len(rm.members)
	}
	return map[string]int{
		"active_rooms":      len(r.rooms),
		"total_handles":     handles,
		"broadcasts":        int(r.broadcasts.Load()),
		"delivery_failures": int(r.failures.Load()),
	}
}

package realtime

import (
	"go.uber.org/zap"
	"sort"
	"sync"
)

// Registry maps poll ids to the connections watching them. Rooms appear on
// the first join and are dropped once the last member leaves.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Conn]struct{}
	conns  map[*Conn]map[string]struct{}
	closed bool
	l      *zap.Logger
}

func NewRegistry(l *zap.Logger) *Registry {
	return &Registry{
		rooms: make(map[string]map[*Conn]struct{}),
		conns: make(map[*Conn]map[string]struct{}),
		l:     l,
	}
}

// Add tracks a connection without any membership. It returns false once the
// registry is closed.
func (r *Registry) Add(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.conns[c]; !ok {
		r.conns[c] = make(map[string]struct{})
	}
	return true
}

// Join is idempotent. It returns false when the registry is closed.
func (r *Registry) Join(pollID string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	room, ok := r.rooms[pollID]
	if !ok {
		room = make(map[*Conn]struct{})
		r.rooms[pollID] = room
	}
	room[c] = struct{}{}

	memberships, ok := r.conns[c]
	if !ok {
		memberships = make(map[string]struct{})
		r.conns[c] = memberships
	}
	memberships[pollID] = struct{}{}
	r.l.Debug("joined room", zap.String("conn_id", c.ID()), zap.String("poll_id", pollID), zap.Int("members", len(room)))
	return true
}

func (r *Registry) Leave(pollID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(pollID, c)
	if memberships, ok := r.conns[c]; ok {
		delete(memberships, pollID)
	}
}

func (r *Registry) leave(pollID string, c *Conn) {
	room, ok := r.rooms[pollID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, pollID)
	}
}

// MembersOf returns a copy of the room taken under the lock, so callers may
// send to it while the room keeps changing.
func (r *Registry) MembersOf(pollID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[pollID]
	members := make([]*Conn, 0, len(room))
	for c := range room {
		members = append(members, c)
	}
	return members
}

func (r *Registry) IsMember(pollID string, c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[pollID][c]
	return ok
}

// RemoveEverywhere drops the connection from all rooms and forgets it.
// It returns the poll ids it was removed from.
func (r *Registry) RemoveEverywhere(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	memberships := r.conns[c]
	left := make([]string, 0, len(memberships))
	for pollID := range memberships {
		r.leave(pollID, c)
		left = append(left, pollID)
	}
	delete(r.conns, c)
	sort.Strings(left)
	return left
}

func (r *Registry) RoomsOf(c *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.conns[c]))
	for pollID := range r.conns[c] {
		rooms = append(rooms, pollID)
	}
	sort.Strings(rooms)
	return rooms
}

// Stats reports the number of live rooms and tracked connections.
func (r *Registry) Stats() (rooms, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.conns)
}

// Close empties the registry and hands back every tracked connection so the
// caller can shut them down. Later joins are refused.
func (r *Registry) Close() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.rooms = make(map[string]map[*Conn]struct{})
	r.conns = make(map[*Conn]map[string]struct{})
	return conns
}

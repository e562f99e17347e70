// Package registry implements the Room Registry: an in-memory map of rooms
// to membership and floor state, guarded for concurrent access. It is the
// only process-wide mutable structure; the Floor Controller uses it as its
// store and layers per-room timer ownership on top.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/groundwire/ptt-signal/internal/wire"
)

// ErrRoomFull is returned by Join when a room is already at capacity.
var ErrRoomFull = errors.New("room is at capacity")

// Sender is the fanout target a Member holds a back-reference to. It is
// satisfied by a Session; the registry never inspects frames, it only
// enumerates Senders for the Router to write to.
type Sender interface {
	UserID() string
	Send(frame []byte)
}

// Member is a room roster entry.
type Member struct {
	UserID      string
	DisplayName string
	PhotoURL    string
	JoinedAt    int64
	Session     Sender
}

func (m Member) wire() wire.Member {
	return wire.Member{
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		PhotoURL:    m.PhotoURL,
		JoinedAt:    m.JoinedAt,
	}
}

// room holds all state for one RoomID. The registry's top-level lock only
// ever protects the rooms map itself; every field below is protected by mu.
type room struct {
	mu         sync.RWMutex
	members    map[string]*Member
	floor      *wire.FloorState
	floorTimer *time.Timer
}

func newRoom() *room {
	return &room{members: make(map[string]*Member)}
}

func (r *room) isEmpty() bool {
	return len(r.members) == 0 && r.floor == nil && r.floorTimer == nil
}

// Registry is the process-wide room map.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

func (reg *Registry) getOrCreateRoom(roomID string) *room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		r = newRoom()
		reg.rooms[roomID] = r
	}
	return r
}

// maybeDelete removes roomID from the registry if its room has gone empty.
// Must be called without r.mu held.
func (reg *Registry) maybeDelete(roomID string, r *room) {
	r.mu.RLock()
	empty := r.isEmpty()
	r.mu.RUnlock()
	if !empty {
		return
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if cur, ok := reg.rooms[roomID]; ok && cur == r {
		cur.mu.RLock()
		stillEmpty := cur.isEmpty()
		cur.mu.RUnlock()
		if stillEmpty {
			delete(reg.rooms, roomID)
		}
	}
}

// Join adds session to roomID's roster, creating the room if absent, and
// returns the current roster and floor state atomically. Fails with
// ErrRoomFull when the room is already at maxConnections.
func (reg *Registry) Join(roomID string, member Member, maxConnections int) ([]wire.Member, *wire.FloorState, error) {
	r := reg.getOrCreateRoom(roomID)

	r.mu.Lock()
	if len(r.members) >= maxConnections {
		r.mu.Unlock()
		return nil, nil, ErrRoomFull
	}
	r.members[member.UserID] = &member

	members := make([]wire.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m.wire())
	}
	var floor *wire.FloorState
	if r.floor != nil {
		f := *r.floor
		floor = &f
	}
	r.mu.Unlock()

	return members, floor, nil
}

// Leave removes userID from roomID's roster, deleting the room if it has
// gone empty (no members, no floor, no pending timer).
func (reg *Registry) Leave(roomID, userID string) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.members, userID)
	r.mu.Unlock()

	reg.maybeDelete(roomID, r)
}

// Roster returns a snapshot of roomID's members.
func (reg *Registry) Roster(roomID string) []wire.Member {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]wire.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m.wire())
	}
	return members
}

// Member looks up a single roster entry by roomID/userID, for callers that
// need a member's full record (e.g. JoinedAt) outside a WithRoomLock
// transaction.
func (reg *Registry) Member(roomID, userID string) (Member, bool) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return Member{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	m, present := r.members[userID]
	if !present {
		return Member{}, false
	}
	return *m, true
}

// HasMember reports whether userID currently has a roster entry in roomID.
func (reg *Registry) HasMember(roomID, userID string) bool {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, present := r.members[userID]
	return present
}

// SocketsInRoom enumerates fanout targets for roomID, optionally excluding
// one UserID (the sender, to avoid echo).
func (reg *Registry) SocketsInRoom(roomID, excludeUserID string) []Sender {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sender, 0, len(r.members))
	for id, m := range r.members {
		if id == excludeUserID || m.Session == nil {
			continue
		}
		out = append(out, m.Session)
	}
	return out
}

// FindSession returns the Sender for userID in roomID, if present.
func (reg *Registry) FindSession(roomID, userID string) Sender {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[userID]
	if !ok {
		return nil
	}
	return m.Session
}

// GetFloor returns a copy of roomID's current floor state, or nil if free
// or the room doesn't exist.
func (reg *Registry) GetFloor(roomID string) *wire.FloorState {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.floor == nil {
		return nil
	}
	f := *r.floor
	return &f
}

// SetFloor writes roomID's floor state. Passing nil marks the floor free.
// If the room has since gone empty, SetFloor(nil) may delete it.
func (reg *Registry) SetFloor(roomID string, state *wire.FloorState) {
	r := reg.getOrCreateRoom(roomID)

	r.mu.Lock()
	r.floor = state
	r.mu.Unlock()

	if state == nil {
		reg.maybeDelete(roomID, r)
	}
}

// SetFloorTimer stores the pending expiry timer handle for roomID so it can
// be cancelled later. Setting a new handle stops and replaces any previous
// one. Passing nil clears it (and may allow an empty room to be deleted).
func (reg *Registry) SetFloorTimer(roomID string, timer *time.Timer) {
	r := reg.getOrCreateRoom(roomID)

	r.mu.Lock()
	if r.floorTimer != nil {
		r.floorTimer.Stop()
	}
	r.floorTimer = timer
	r.mu.Unlock()

	if timer == nil {
		reg.maybeDelete(roomID, r)
	}
}

// RoomTx is a handle into one room's state, valid only for the lifetime of
// the WithRoomLock callback that received it. Its methods assume the lock
// is already held and must never be retained past the callback.
type RoomTx struct {
	r *room
}

// Floor reads the room's current floor state without copying defensively;
// callers run under the lock and must not mutate the returned pointer.
func (tx *RoomTx) Floor() *wire.FloorState {
	return tx.r.floor
}

// SetFloor writes the room's floor state.
func (tx *RoomTx) SetFloor(state *wire.FloorState) {
	tx.r.floor = state
}

// SetFloorTimer stores the pending expiry timer handle, stopping and
// replacing any previous one.
func (tx *RoomTx) SetFloorTimer(timer *time.Timer) {
	if tx.r.floorTimer != nil {
		tx.r.floorTimer.Stop()
	}
	tx.r.floorTimer = timer
}

// IsMember reports whether userID currently holds a roster entry.
func (tx *RoomTx) IsMember(userID string) bool {
	_, ok := tx.r.members[userID]
	return ok
}

// Member returns the roster entry for userID, if present.
func (tx *RoomTx) Member(userID string) (Member, bool) {
	m, ok := tx.r.members[userID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Roster returns a wire snapshot of the room's current members.
func (tx *RoomTx) Roster() []wire.Member {
	members := make([]wire.Member, 0, len(tx.r.members))
	for _, m := range tx.r.members {
		members = append(members, m.wire())
	}
	return members
}

// Sockets enumerates fanout targets, optionally excluding one UserID.
func (tx *RoomTx) Sockets(excludeUserID string) []Sender {
	out := make([]Sender, 0, len(tx.r.members))
	for id, m := range tx.r.members {
		if id == excludeUserID || m.Session == nil {
			continue
		}
		out = append(out, m.Session)
	}
	return out
}

// Socket returns the Sender for userID, if present.
func (tx *RoomTx) Socket(userID string) Sender {
	m, ok := tx.r.members[userID]
	if !ok {
		return nil
	}
	return m.Session
}

// WithRoomLock runs fn while holding roomID's room lock for writing. This is
// the serialization point the Floor Controller uses to make a read-modify-
// write transition atomic against every other operation on the same room.
// The room is created if absent so a transition can run before any member
// has joined (the guard inside fn is expected to reject such a request).
func (reg *Registry) WithRoomLock(roomID string, fn func(tx *RoomTx)) {
	r := reg.getOrCreateRoom(roomID)
	r.mu.Lock()
	fn(&RoomTx{r: r})
	r.mu.Unlock()
	reg.maybeDelete(roomID, r)
}

// RoomCount reports the number of live rooms. Used for metrics and tests.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

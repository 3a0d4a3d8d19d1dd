package domain

import (
	"sort"
	"sync"
	"time"
)

// Session is the server-side state of one connected client.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time

	rooms  map[string]struct{}
	closed bool

	// mu serializes join, leave and disconnect for this session.
	mu sync.Mutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		rooms:        make(map[string]struct{}),
	}
}

// Lock and Unlock let the session manager hold the session across a
// registry call so the room set and the registry change together.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// The methods below expect the caller to hold the session lock.

func (s *Session) HasRoom(room string) bool {
	_, ok := s.rooms[room]
	return ok
}

func (s *Session) AddRoom(room string) {
	s.rooms[room] = struct{}{}
	s.LastActiveAt = time.Now()
}

func (s *Session) RemoveRoom(room string) {
	delete(s.rooms, room)
	s.LastActiveAt = time.Now()
}

// Close marks the session disconnected and returns the rooms it held,
// leaving the set empty.
func (s *Session) Close() []string {
	s.closed = true
	rooms := s.roomsLocked()
	s.rooms = make(map[string]struct{})
	return rooms
}

func (s *Session) IsClosed() bool {
	return s.closed
}

// Rooms returns a sorted copy of the joined rooms. It takes the lock.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsLocked()
}

func (s *Session) roomsLocked() []string {
	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/weiawesome/live-relay/internal/audit"
	"github.com/weiawesome/live-relay/internal/domain"
	"github.com/weiawesome/live-relay/internal/registry"
	"github.com/weiawesome/live-relay/pkg/log"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrSessionExists   = errors.New("session already exists")
)

// RoomRegistry is the part of the registry the manager mutates.
type RoomRegistry interface {
	Acquire(name, clientID string) (*registry.Room, bool)
	Release(name, clientID string) bool
}

// Notifier sends a frame to a single client.
type Notifier interface {
	Send(clientID string, frame []byte) error
}

// Manager keeps each connected client's joined rooms in step with the
// registry's subscriber sets.
type Manager struct {
	registry RoomRegistry
	notifier Notifier

	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewManager(reg RoomRegistry, notifier Notifier) *Manager {
	return &Manager{
		registry: reg,
		notifier: notifier,
		sessions: make(map[string]*domain.Session),
	}
}

// OnConnect creates the session of a newly connected client.
func (m *Manager) OnConnect(ctx context.Context, clientID string) (*domain.Session, error) {
	m.mu.Lock()
	if _, ok := m.sessions[clientID]; ok {
		m.mu.Unlock()
		return nil, ErrSessionExists
	}
	s := domain.NewSession(clientID)
	m.sessions[clientID] = s
	m.mu.Unlock()

	audit.Log(ctx, audit.ActionConnect, clientID, "client connected")
	return s, nil
}

// OnJoin subscribes clientID to room. Empty names and repeated joins are
// ignored.
func (m *Manager) OnJoin(ctx context.Context, clientID, room string) error {
	if room == "" {
		return nil
	}
	s, err := m.get(clientID)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if s.IsClosed() {
		return ErrSessionClosed
	}
	if s.HasRoom(room) {
		return nil
	}

	s.AddRoom(room)
	_, created := m.registry.Acquire(room, clientID)

	audit.LogRoom(ctx, audit.ActionJoinRoom, clientID, room, "client joined room")
	if created {
		audit.LogRoom(ctx, audit.ActionRoomOpen, clientID, room, "room opened")
	}
	return nil
}

// OnLeave unsubscribes clientID from room. Leaving a room that was never
// joined is a no-op.
func (m *Manager) OnLeave(ctx context.Context, clientID, room string) error {
	if room == "" {
		return nil
	}
	s, err := m.get(clientID)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if s.IsClosed() || !s.HasRoom(room) {
		return nil
	}

	s.RemoveRoom(room)
	closed := m.registry.Release(room, clientID)

	audit.LogRoom(ctx, audit.ActionLeaveRoom, clientID, room, "client left room")
	if closed {
		audit.LogRoom(ctx, audit.ActionRoomClose, clientID, room, "room closed")
		m.notifyClosed(ctx, clientID, room)
	}
	return nil
}

// OnDisconnect releases every room the client held, each exactly once, and
// discards the session. Joins racing with it are refused.
func (m *Manager) OnDisconnect(ctx context.Context, clientID string) {
	s, err := m.get(clientID)
	if err != nil {
		return
	}

	s.Lock()
	rooms := s.Close()
	for _, room := range rooms {
		if m.registry.Release(room, clientID) {
			audit.LogRoom(ctx, audit.ActionRoomClose, clientID, room, "room closed")
		}
	}
	s.Unlock()

	m.mu.Lock()
	if m.sessions[clientID] == s {
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()

	audit.LogWithDetail(ctx, audit.ActionDisconnect, clientID, strings.Join(rooms, ","), "client disconnected")
}

// Rooms returns the rooms clientID has joined.
func (m *Manager) Rooms(clientID string) ([]string, error) {
	s, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	return s.Rooms(), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) get(clientID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) notifyClosed(ctx context.Context, clientID, room string) {
	if m.notifier == nil {
		return
	}
	frame, err := domain.NewFrame(domain.MsgTikTokClosed, &domain.ClosedMessage{Username: room})
	if err != nil {
		return
	}
	if err := m.notifier.Send(clientID, frame); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Str(log.FieldRoom, room).Msg("could not notify room close")
	}
}

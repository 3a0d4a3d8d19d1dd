package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/live-relay/internal/domain"
	"github.com/weiawesome/live-relay/internal/upstream"
	"github.com/weiawesome/live-relay/pkg/log"
)

// Connection is the upstream side of a room. Connect and Disconnect must
// not block; *upstream.Adapter is the production implementation.
type Connection interface {
	Connect()
	Disconnect()
	State() upstream.State
	Events() <-chan domain.Event
}

// ConnectionFactory builds the connection of a newly created room.
type ConnectionFactory func(room string) Connection

// Room is one registry entry. Its fields are guarded by the registry lock;
// outside the registry it is an opaque handle.
type Room struct {
	name        string
	conn        Connection
	subscribers map[string]struct{}
	createdAt   time.Time
}

func (r *Room) Name() string {
	return r.name
}

// Connection returns the upstream connection owned by the room.
func (r *Room) Connection() Connection {
	return r.conn
}

// RoomInfo is a point-in-time view of a room.
type RoomInfo struct {
	Name        string    `json:"name"`
	Subscribers []string  `json:"subscribers"`
	RefCount    int       `json:"ref_count"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
}

// Hooks are called with the registry lock held and must not block or call
// back into the registry.
type Hooks struct {
	OnOpen  func(room *Room)
	OnClose func(room *Room)
}

// Registry maps room names to their upstream connection and subscribers.
// It holds at most one Room per name, and a room's connection is open
// exactly while its subscriber set is non-empty.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	factory ConnectionFactory
	hooks   Hooks
}

func New(factory ConnectionFactory, hooks Hooks) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		factory: factory,
		hooks:   hooks,
	}
}

// Acquire subscribes clientID to room, creating the room and starting its
// upstream connection if needed. Acquiring twice with the same clientID
// counts once. created reports whether this call opened the room.
func (r *Registry) Acquire(name, clientID string) (room *Room, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := log.L()

	if existing, ok := r.rooms[name]; ok {
		existing.subscribers[clientID] = struct{}{}
		if existing.conn.State() == upstream.StateFailed {
			l.Info().Str(log.FieldRoom, name).Msg("retrying failed upstream connection")
			existing.conn.Connect()
		}
		return existing, false
	}

	room = &Room{
		name:        name,
		conn:        r.factory(name),
		subscribers: map[string]struct{}{clientID: {}},
		createdAt:   time.Now(),
	}
	r.rooms[name] = room
	if r.hooks.OnOpen != nil {
		r.hooks.OnOpen(room)
	}
	room.conn.Connect()

	l.Info().Str(log.FieldRoom, name).Str(log.FieldClientID, clientID).Msg("room opened")
	return room, true
}

// Release unsubscribes clientID from room. It is a no-op when the room does
// not exist or clientID is not subscribed. When the last subscriber leaves
// the connection is disconnected and the room removed; closed reports that.
func (r *Registry) Release(name, clientID string) (closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok {
		return false
	}
	if _, member := room.subscribers[clientID]; !member {
		return false
	}

	delete(room.subscribers, clientID)
	if len(room.subscribers) > 0 {
		return false
	}

	delete(r.rooms, name)
	room.conn.Disconnect()
	if r.hooks.OnClose != nil {
		r.hooks.OnClose(room)
	}

	l := log.L()
	l.Info().Str(log.FieldRoom, name).Str(log.FieldClientID, clientID).Msg("room closed")
	return true
}

// Subscribers returns the current subscribers of room. It returns nil when
// room is no longer the live entry for its name.
func (r *Registry) Subscribers(room *Room) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[room.name] != room {
		return nil
	}
	return sortedKeys(room.subscribers)
}

// Lookup returns the live room for name.
func (r *Registry) Lookup(name string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	return room, ok
}

// RefCount returns the number of subscribers of name, 0 when absent.
func (r *Registry) RefCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[name]; ok {
		return len(room.subscribers)
	}
	return 0
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Snapshot lists every live room ordered by name.
func (r *Registry) Snapshot() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		subs := sortedKeys(room.subscribers)
		infos = append(infos, RoomInfo{
			Name:        room.name,
			Subscribers: subs,
			RefCount:    len(subs),
			State:       room.conn.State().String(),
			CreatedAt:   room.createdAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close disconnects every room. Used at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, room := range r.rooms {
		delete(r.rooms, name)
		room.conn.Disconnect()
		if r.hooks.OnClose != nil {
			r.hooks.OnClose(room)
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

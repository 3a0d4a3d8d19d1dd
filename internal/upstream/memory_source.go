package upstream

import (
	"context"
	"sync"
)

// MemoryFactory is an in-process upstream. Events are injected with
// Publish; it backs the "memory" driver and the tests.
type MemoryFactory struct {
	mu          sync.Mutex
	sources     map[string]map[*MemorySource]struct{}
	connectErrs map[string]error
	created     map[string]int
	closed      map[string]int
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{
		sources:     make(map[string]map[*MemorySource]struct{}),
		connectErrs: make(map[string]error),
		created:     make(map[string]int),
		closed:      make(map[string]int),
	}
}

func (f *MemoryFactory) NewSource(room string) Source {
	f.mu.Lock()
	f.created[room]++
	f.mu.Unlock()

	return &MemorySource{
		factory: f,
		room:    room,
		events:  make(chan RawEvent, 1024),
	}
}

func (f *MemoryFactory) Close() error {
	f.mu.Lock()
	var all []*MemorySource
	for _, set := range f.sources {
		for s := range set {
			all = append(all, s)
		}
	}
	f.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}

// FailConnect makes every following Connect for room fail with err. A nil
// err clears it.
func (f *MemoryFactory) FailConnect(room string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.connectErrs, room)
		return
	}
	f.connectErrs[room] = err
}

// Publish delivers raw to every connected source of room and returns how
// many received it.
func (f *MemoryFactory) Publish(room string, raw RawEvent) int {
	f.mu.Lock()
	targets := make([]*MemorySource, 0, len(f.sources[room]))
	for s := range f.sources[room] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	n := 0
	for _, s := range targets {
		if s.deliver(raw) {
			n++
		}
	}
	return n
}

// Drop ends every connection of room as if the platform hung up.
func (f *MemoryFactory) Drop(room string) {
	f.mu.Lock()
	targets := make([]*MemorySource, 0, len(f.sources[room]))
	for s := range f.sources[room] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.Close()
	}
}

// Live returns the number of connected sources for room.
func (f *MemoryFactory) Live(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources[room])
}

// Created returns how many sources were created for room.
func (f *MemoryFactory) Created(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[room]
}

// Closed returns how many sources of room were closed.
func (f *MemoryFactory) Closed(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[room]
}

func (f *MemoryFactory) attach(s *MemorySource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.connectErrs[s.room]; err != nil {
		return err
	}
	set, ok := f.sources[s.room]
	if !ok {
		set = make(map[*MemorySource]struct{})
		f.sources[s.room] = set
	}
	set[s] = struct{}{}
	return nil
}

func (f *MemoryFactory) detach(s *MemorySource, wasConnected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[s.room]++
	if !wasConnected {
		return
	}
	if set, ok := f.sources[s.room]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(f.sources, s.room)
		}
	}
}

// MemorySource is one in-process upstream connection.
type MemorySource struct {
	factory *MemoryFactory
	room    string
	events  chan RawEvent

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (s *MemorySource) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.factory.attach(s); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *MemorySource) Events() <-chan RawEvent {
	return s.events
}

func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.factory.detach(s, s.connected)
	close(s.events)
	return nil
}

func (s *MemorySource) deliver(raw RawEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.connected {
		return false
	}
	select {
	case s.events <- raw:
		return true
	default:
		return false
	}
}

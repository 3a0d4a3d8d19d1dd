package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/weiawesome/live-relay/internal/domain"
	"github.com/weiawesome/live-relay/internal/registry"
	"github.com/weiawesome/live-relay/pkg/log"
)

// Delivery sends an encoded frame to one client.
type Delivery interface {
	Send(clientID string, frame []byte) error
}

// SubscriberLister returns the live subscribers of a room handle.
type SubscriberLister interface {
	Subscribers(room *registry.Room) []string
}

// Stats counts router activity since start.
type Stats struct {
	Events    uint64 `json:"events"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Router fans every room's upstream events out to its subscribers. Each
// room has one pump goroutine, so events of a room reach every subscriber
// in the order the adapter emitted them.
type Router struct {
	delivery Delivery

	mu          sync.RWMutex
	subscribers SubscriberLister

	wg        sync.WaitGroup
	events    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func New(delivery Delivery) *Router {
	return &Router{delivery: delivery}
}

// Bind sets the registry the router reads subscriber sets from.
func (r *Router) Bind(subscribers SubscriberLister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = subscribers
}

// Start begins pumping room's events. It is the registry's OnOpen hook and
// does not block.
func (r *Router) Start(room *registry.Room) {
	r.wg.Add(1)
	go r.pump(room)
}

func (r *Router) pump(room *registry.Room) {
	defer r.wg.Done()
	for evt := range room.Connection().Events() {
		r.Dispatch(room, evt)
	}
	l := log.L()
	l.Debug().Str(log.FieldRoom, room.Name()).Msg("room pump stopped")
}

// Dispatch delivers evt to every current subscriber of room and returns the
// number of successful deliveries. Events for a room that is no longer
// live, or has no subscribers, are dropped.
func (r *Router) Dispatch(room *registry.Room, evt domain.Event) int {
	r.events.Add(1)
	l := log.L().With().Str(log.FieldRoom, room.Name()).Str(log.FieldEvent, evt.Kind.WireName()).Logger()

	r.mu.RLock()
	lister := r.subscribers
	r.mu.RUnlock()

	var subs []string
	if lister != nil {
		subs = lister.Subscribers(room)
	}
	if len(subs) == 0 {
		r.dropped.Add(1)
		l.Debug().Msg("no subscribers, dropping event")
		return 0
	}

	frame, err := domain.FrameForEvent(evt)
	if err != nil {
		r.dropped.Add(1)
		l.Error().Err(err).Msg("failed to encode event")
		return 0
	}

	delivered := 0
	for _, clientID := range subs {
		if err := r.deliver(clientID, frame); err != nil {
			r.failed.Add(1)
			l.Warn().Err(err).Str(log.FieldClientID, clientID).Msg("delivery failed")
			continue
		}
		delivered++
	}
	r.delivered.Add(uint64(delivered))

	l.Debug().Int(log.FieldSubscribers, len(subs)).Int("delivered", delivered).Msg("event forwarded")
	return delivered
}

func (r *Router) deliver(clientID string, frame []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("delivery panicked: %v", rec)
		}
	}()
	return r.delivery.Send(clientID, frame)
}

func (r *Router) Stats() Stats {
	return Stats{
		Events:    r.events.Load(),
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Wait blocks until every room pump has exited. Pumps exit once their
// room's connection has been disconnected.
func (r *Router) Wait() {
	r.wg.Wait()
}

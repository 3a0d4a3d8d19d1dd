package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/live-relay/internal/domain"
	"github.com/weiawesome/live-relay/pkg/log"
)

// State of an adapter's upstream connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options tune an Adapter.
type Options struct {
	ConnectTimeout time.Duration
	EventBuffer    int
}

// Adapter wraps the upstream connection of one room. It normalizes raw
// events and emits them on a single channel, in the order the source
// produced them.
type Adapter struct {
	room    string
	factory SourceFactory
	opts    Options

	events chan domain.Event

	mu     sync.Mutex
	state  State
	source Source
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAdapter(room string, factory SourceFactory, opts Options) *Adapter {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	return &Adapter{
		room:    room,
		factory: factory,
		opts:    opts,
		events:  make(chan domain.Event, opts.EventBuffer),
	}
}

func (a *Adapter) Room() string {
	return a.room
}

// Events is closed once the adapter is disconnected and its connection
// goroutine has exited.
func (a *Adapter) Events() <-chan domain.Event {
	return a.events
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect starts connecting in the background and returns immediately.
// A failure is reported as a connect-stage error event. Connect is a no-op
// while connecting, connected or after Disconnect.
func (a *Adapter) Connect() {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateConnecting, StateConnected, StateClosed:
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.state = StateConnecting
	a.wg.Add(1)
	go a.run(ctx)
}

// Disconnect tears the connection down. It never blocks on network I/O,
// never panics and may be called any number of times.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		return
	}
	a.state = StateClosed
	cancel := a.cancel
	src := a.source
	a.source = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	go func() {
		defer close(a.events)
		closeSource(a.room, src)
		a.wg.Wait()
	}()
}

func closeSource(room string, src Source) {
	if src == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l := log.L()
			l.Error().Str(log.FieldRoom, room).Interface("panic", r).Msg("upstream close panicked")
		}
	}()
	if err := src.Close(); err != nil {
		l := log.L()
		l.Debug().Err(err).Str(log.FieldRoom, room).Msg("upstream close returned error")
	}
}

func (a *Adapter) run(ctx context.Context) {
	defer a.wg.Done()
	l := log.L().With().Str(log.FieldRoom, a.room).Logger()

	src := a.factory.NewSource(a.room)

	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		closeSource(a.room, src)
		return
	}
	a.source = src
	a.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
	err := connect(connectCtx, src)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.Warn().Err(err).Msg("upstream connect failed")
		a.emit(ctx, domain.NewConnectFailedEvent(a.room, err))
		a.fail(src)
		return
	}

	if !a.transition(StateConnecting, StateConnected) {
		return
	}
	l.Info().Msg("upstream connected")
	a.emitRaw(ctx, RawEvent{Name: domain.RawConnect})

	sawDisconnect := false
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				l.Warn().Msg("upstream connection lost")
				if !sawDisconnect {
					a.emitRaw(ctx, RawEvent{Name: domain.RawDisconnected})
				}
				a.fail(src)
				return
			}
			if raw.Name == domain.RawDisconnected {
				sawDisconnect = true
			}
			a.emitRaw(ctx, raw)
		}
	}
}

func connect(ctx context.Context, src Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upstream connect panicked: %v", r)
		}
	}()
	return src.Connect(ctx)
}

// fail marks the connection failed so a later Connect can retry.
func (a *Adapter) fail(src Source) {
	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	if a.source == src {
		a.source = nil
	}
	a.mu.Unlock()
	closeSource(a.room, src)
}

func (a *Adapter) transition(from, to State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return false
	}
	a.state = to
	return true
}

func (a *Adapter) emitRaw(ctx context.Context, raw RawEvent) {
	evt, ok, err := Normalize(a.room, raw)
	if err != nil {
		l := log.L()
		l.Debug().Err(err).Str(log.FieldRoom, a.room).Str(log.FieldEvent, raw.Name).Msg("dropping malformed upstream event")
		return
	}
	if !ok {
		return
	}
	a.emit(ctx, evt)
}

func (a *Adapter) emit(ctx context.Context, evt domain.Event) {
	select {
	case a.events <- evt:
	case <-ctx.Done():
	}
}

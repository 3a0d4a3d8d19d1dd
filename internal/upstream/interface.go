package upstream

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrClosed is returned by a source used after Close.
	ErrClosed = errors.New("upstream: source closed")
	// ErrUnknownDriver is returned by NewFactory for an unsupported driver.
	ErrUnknownDriver = errors.New("upstream: unknown driver")
)

// RawEvent is one event as produced by the live platform, before
// normalization.
type RawEvent struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"data,omitempty"`
}

// Source is a single upstream live-stream connection for one room.
type Source interface {
	// Connect blocks until the connection is established or fails.
	Connect(ctx context.Context) error
	// Events is closed when the connection ends, for any reason.
	Events() <-chan RawEvent
	Close() error
}

// SourceFactory creates the upstream connection for a room. Creating a
// source must not perform I/O; that happens in Connect.
type SourceFactory interface {
	NewSource(room string) Source
	Close() error
}

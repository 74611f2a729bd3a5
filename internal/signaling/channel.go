package signaling

import (
	"context"
	"errors"
)

var (
	// ErrMalformedMessage is returned by Receive for a frame that could not be
	// decoded, and by Send for a message that cannot be encoded. The channel
	// stays usable.
	ErrMalformedMessage = errors.New("signaling: malformed message")

	// ErrClosed is returned once the channel has been closed locally or the
	// underlying transport is gone.
	ErrClosed = errors.New("signaling: channel closed")
)

// Channel is a bidirectional, ordered message pipe to the remote endpoint.
// Send and Receive may be called concurrently with each other.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	// Receive blocks until a message arrives. Errors wrapping
	// ErrMalformedMessage are per-frame; any other error means the channel is
	// unusable.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

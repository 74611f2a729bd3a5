package call

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation marks a message that is invalid for the current
	// signaling state. The message is discarded with no state change.
	ErrProtocolViolation = errors.New("call: protocol violation")

	// ErrStaleGeneration marks work that belongs to a superseded Session.
	ErrStaleGeneration = errors.New("call: stale generation")

	// ErrStaleAnswer is an answer received while already stable, typically a
	// duplicate relay delivery.
	ErrStaleAnswer = fmt.Errorf("%w: answer while stable", ErrProtocolViolation)

	// ErrTransportFailure marks a Session the engine can no longer carry.
	ErrTransportFailure = errors.New("call: transport failure")

	// ErrChannelLost means the signaling channel is gone. It ends Run.
	ErrChannelLost = errors.New("call: signaling channel lost")

	ErrAlreadyActive = errors.New("call: already active")

	// ErrReconnectExhausted is reported on Failures when consecutive
	// reconnects never reached a connected state.
	ErrReconnectExhausted = errors.New("call: reconnect attempts exhausted")

	ErrSupervisorStopped = errors.New("call: supervisor stopped")

	ErrTrackEnded   = fmt.Errorf("%w: track ended", ErrTransportFailure)
	ErrTrackStalled = fmt.Errorf("%w: track stalled", ErrTransportFailure)
)

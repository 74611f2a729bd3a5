package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/signaling"
)

// event is anything the dispatcher serializes. Events raised by a Session
// carry its generation and are discarded once it is superseded.
type event interface{}

type startCallEvent struct{ reply chan error }

type endCallEvent struct{ reply chan error }

type statusEvent struct{ reply chan Status }

type signalEvent struct{ msg signaling.Message }

type channelLostEvent struct{ err error }

type localCandidateEvent struct {
	gen       uint64
	candidate *webrtc.ICECandidateInit
}

type connectivityEvent struct {
	gen   uint64
	state ConnectivityState
}

type trackEvent struct {
	gen   uint64
	track Track
}

type trackFailedEvent struct {
	gen     uint64
	trackID string
	err     error
}

// reconnectEvent fires when a scheduled reconnect delay elapses. seq
// identifies the schedule so a cancelled timer cannot fire a stale attempt.
type reconnectEvent struct{ seq uint64 }

package call

import (
	"context"
	"time"
)

// pendingOffer describes the local offer awaiting an answer.
type pendingOffer struct {
	gen       uint64
	createdAt time.Time
}

// session is one call attempt. It is owned by the dispatcher goroutine.
type session struct {
	gen  uint64
	peer Peer

	signaling    SignalingState
	connectivity ConnectivityState
	pending      *pendingOffer

	// Tag of the remote description applied to this session.
	hasRemote      bool
	remoteGen      uint64
	remoteEndpoint string

	candidates *candidateBuffer
	tracks     *trackSupervisor

	// cancel stops track loops and unblocks engine callbacks still trying to
	// post events for this generation.
	cancel context.CancelFunc
}

func (s *session) setRemote(gen uint64, endpoint string) {
	s.hasRemote = true
	s.remoteGen = gen
	s.remoteEndpoint = endpoint
}

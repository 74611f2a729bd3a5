package call

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Engine creates transport peers. One Peer backs one Session.
type Engine interface {
	NewPeer(handlers PeerHandlers) (Peer, error)
}

// PeerHandlers receive engine callbacks. They may be invoked from any
// goroutine, including after Close.
type PeerHandlers struct {
	// OnICECandidate is called for each gathered local candidate and once with
	// nil when gathering completes.
	OnICECandidate       func(c *webrtc.ICECandidateInit)
	OnConnectivityChange func(state ConnectivityState)
	OnTrack              func(track Track)
}

// Peer is the transport handle of one Session. All methods are called from the
// dispatcher goroutine only.
type Peer interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	// AddICECandidate applies a remote candidate. nil marks end-of-candidates.
	AddICECandidate(ctx context.Context, c *webrtc.ICECandidateInit) error
	Close() error
}

// Track is an inbound media track.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	// ReadFrame blocks for the next packet. io.EOF means the remote ended the
	// track. A packet with an empty payload is not an error.
	ReadFrame() (*rtp.Packet, error)
}

// Sink receives inbound audio frames.
type Sink interface {
	WriteFrame(trackID string, pkt *rtp.Packet) error
}

package call

import "fmt"

// SignalingState tracks the offer/answer exchange of one Session.
type SignalingState int

const (
	SignalingIdle SignalingState = iota
	SignalingHaveLocalOffer
	SignalingHaveRemoteOffer
	SignalingStable
)

func (s SignalingState) String() string {
	switch s {
	case SignalingIdle:
		return "idle"
	case SignalingHaveLocalOffer:
		return "have-local-offer"
	case SignalingHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingStable:
		return "stable"
	default:
		return fmt.Sprintf("signaling(%d)", int(s))
	}
}

// canOffer reports whether a local offer may be created from s.
func (s SignalingState) canOffer() bool {
	return s == SignalingIdle || s == SignalingStable
}

// ConnectivityState is the transport health of one Session as reported by the
// engine.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota
	ConnectivityConnecting
	ConnectivityConnected
	ConnectivityDisconnected
	ConnectivityFailed
	ConnectivityClosed
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityNew:
		return "new"
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	default:
		return fmt.Sprintf("connectivity(%d)", int(s))
	}
}

// needsReconnect reports whether s should tear the Session down and start a
// new one.
func (s ConnectivityState) needsReconnect() bool {
	return s == ConnectivityFailed || s == ConnectivityDisconnected
}

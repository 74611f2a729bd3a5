package metrics

import "sync"

// Call supervisor counters.
const (
	CallsStarted         = "calls_started"
	CallsEnded           = "calls_ended"
	SessionsCreated      = "sessions_created"
	OffersSent           = "offers_sent"
	AnswersSent          = "answers_sent"
	CandidatesSent       = "candidates_sent"
	CandidatesApplied    = "candidates_applied"
	CandidatesBuffered   = "candidates_buffered"
	GlareYielded         = "glare_yielded"
	GlareKept            = "glare_kept"
	StaleDropped         = "stale_dropped"
	ProtocolViolations   = "protocol_violations"
	MalformedMessages    = "malformed_messages"
	TransportFailures    = "transport_failures"
	Reconnects           = "reconnects"
	ReconnectsExhausted  = "reconnects_exhausted"
	TrackFailures        = "track_failures"
	TrackFramesForwarded = "track_frames_forwarded"
	TrackEmptyFrames     = "track_empty_frames"
	EventsDropped        = "events_dropped"
)

// Relay counters.
const (
	RelayClients          = "relay_clients"
	RelayForwarded        = "relay_forwarded"
	RelayDropped          = "relay_dropped"
	RelayRateLimited      = "relay_rate_limited"
	RelayOriginRejected   = "relay_origin_rejected"
	RelayMalformedMessage = "relay_malformed_messages"
)

// Metrics is a minimal, concurrency-safe counter registry. A nil *Metrics
// discards everything, so components can take one optionally.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// fakeSDP renders a minimal parseable description naming the peer that made
// it in the session name.
func fakeSDP(name string) string {
	return "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=" + name + "\r\nt=0 0\r\n"
}

func sdpName(sdp string) string {
	for _, line := range strings.Split(sdp, "\r\n") {
		if strings.HasPrefix(line, "s=") {
			return strings.TrimPrefix(line, "s=")
		}
	}
	return ""
}

// fakeNet links fake peers: two peers connect once each has set a local
// description and the other's description as remote.
type fakeNet struct {
	mu    sync.Mutex
	peers map[string]*fakePeer
}

func newFakeNet() *fakeNet {
	return &fakeNet{peers: make(map[string]*fakePeer)}
}

func (n *fakeNet) register(p *fakePeer) {
	n.mu.Lock()
	n.peers[p.name] = p
	n.mu.Unlock()
}

func (n *fakeNet) check(p *fakePeer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p.mu.Lock()
	remote := p.remoteName
	ready := p.local != nil && !p.closed && !p.connected
	p.mu.Unlock()
	if !ready || remote == "" {
		return
	}
	q := n.peers[remote]
	if q == nil {
		return
	}
	q.mu.Lock()
	linked := q.local != nil && !q.closed && !q.connected && q.remoteName == p.name
	if linked {
		q.connected = true
	}
	q.mu.Unlock()
	if !linked {
		return
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	go p.h.OnConnectivityChange(ConnectivityConnected)
	go q.h.OnConnectivityChange(ConnectivityConnected)
}

type fakeEngine struct {
	name string
	net  *fakeNet

	mu          sync.Mutex
	peers       []*fakePeer
	newPeerErr  error
	offerErr    error
	emptyOffer  bool
	candidates  bool
	remoteTrack bool
}

func newFakeEngine(name string, n *fakeNet) *fakeEngine {
	if n == nil {
		n = newFakeNet()
	}
	return &fakeEngine{name: name, net: n}
}

func (e *fakeEngine) NewPeer(h PeerHandlers) (Peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newPeerErr != nil {
		return nil, e.newPeerErr
	}
	p := &fakePeer{
		name:        fmt.Sprintf("%s-%d", e.name, len(e.peers)+1),
		net:         e.net,
		h:           h,
		offerErr:    e.offerErr,
		emptyOffer:  e.emptyOffer,
		candidates:  e.candidates,
		remoteTrack: e.remoteTrack,
	}
	e.peers = append(e.peers, p)
	e.net.register(p)
	return p, nil
}

func (e *fakeEngine) peerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

func (e *fakeEngine) peer(i int) *fakePeer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.peers) {
		return nil
	}
	return e.peers[i]
}

func (e *fakeEngine) last() *fakePeer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.peers) == 0 {
		return nil
	}
	return e.peers[len(e.peers)-1]
}

type fakePeer struct {
	name string
	net  *fakeNet
	h    PeerHandlers

	offerErr    error
	emptyOffer  bool
	candidates  bool
	remoteTrack bool

	mu                  sync.Mutex
	local               *webrtc.SessionDescription
	remote              *webrtc.SessionDescription
	remoteName          string
	applied             []*webrtc.ICECandidateInit
	appliedBeforeRemote bool
	closed              bool
	connected           bool
	tracks              []*fakeTrack
}

func (p *fakePeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	if p.emptyOffer {
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}, nil
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP(p.name)}, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP(p.name)}, nil
}

func (p *fakePeer) SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("peer closed")
	}
	p.local = &desc
	emit := p.candidates
	p.mu.Unlock()

	if emit {
		c := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host generation " + p.name}
		go func() {
			p.h.OnICECandidate(c)
			p.h.OnICECandidate(nil)
		}()
	}
	p.net.check(p)
	return nil
}

func (p *fakePeer) SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("peer closed")
	}
	p.remote = &desc
	p.remoteName = sdpName(desc.SDP)
	var track *fakeTrack
	if p.remoteTrack {
		track = newFakeTrack("audio-"+p.remoteName, webrtc.RTPCodecTypeAudio)
		p.tracks = append(p.tracks, track)
	}
	p.mu.Unlock()

	if track != nil {
		go p.h.OnTrack(track)
	}
	p.net.check(p)
	return nil
}

func (p *fakePeer) AddICECandidate(ctx context.Context, c *webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		p.appliedBeforeRemote = true
		return errors.New("remote description not set")
	}
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	tracks := p.tracks
	p.mu.Unlock()

	for _, t := range tracks {
		t.end()
	}
	go p.h.OnConnectivityChange(ConnectivityClosed)
	return nil
}

func (p *fakePeer) fire(state ConnectivityState) {
	p.h.OnConnectivityChange(state)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.applied))
	for _, c := range p.applied {
		if c == nil {
			out = append(out, "<end>")
			continue
		}
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePeer) remoteSDPName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteName
}

type fakeTrack struct {
	id     string
	kind   webrtc.RTPCodecType
	frames chan *rtp.Packet
	done   chan struct{}
	once   sync.Once
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, frames: make(chan *rtp.Packet, 16), done: make(chan struct{})}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *fakeTrack) ReadFrame() (*rtp.Packet, error) {
	select {
	case pkt := <-t.frames:
		return pkt, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *fakeTrack) end() {
	t.once.Do(func() { close(t.done) })
}

type recordingSink struct {
	mu     sync.Mutex
	frames map[string]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{frames: make(map[string]int)}
}

func (s *recordingSink) WriteFrame(trackID string, pkt *rtp.Packet) error {
	s.mu.Lock()
	s.frames[trackID]++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) count(trackID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[trackID]
}

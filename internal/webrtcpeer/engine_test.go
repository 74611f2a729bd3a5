package webrtcpeer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/Nikita-bot/MedianLink/internal/call"
	"github.com/Nikita-bot/MedianLink/internal/config"
	"github.com/Nikita-bot/MedianLink/internal/webrtcpeer"
)

// trickle forwards candidates to a peer once its remote description is set.
type trickle struct {
	mu      sync.Mutex
	peer    call.Peer
	ready   bool
	pending []*webrtc.ICECandidateInit
}

func (tr *trickle) add(c *webrtc.ICECandidateInit) {
	tr.mu.Lock()
	if !tr.ready {
		tr.pending = append(tr.pending, c)
		tr.mu.Unlock()
		return
	}
	p := tr.peer
	tr.mu.Unlock()
	_ = p.AddICECandidate(context.Background(), c)
}

func (tr *trickle) flush(t *testing.T) {
	tr.mu.Lock()
	tr.ready = true
	pending := tr.pending
	tr.pending = nil
	p := tr.peer
	tr.mu.Unlock()
	for _, c := range pending {
		if err := p.AddICECandidate(context.Background(), c); err != nil {
			t.Fatalf("add candidate: %v", err)
		}
	}
}

type observed struct {
	connected chan struct{}
	once      sync.Once
	tracks    chan call.Track
}

func newObserved() *observed {
	return &observed{connected: make(chan struct{}), tracks: make(chan call.Track, 1)}
}

func (o *observed) handlers(to *trickle) call.PeerHandlers {
	return call.PeerHandlers{
		OnICECandidate: to.add,
		OnConnectivityChange: func(s call.ConnectivityState) {
			if s == call.ConnectivityConnected {
				o.once.Do(func() { close(o.connected) })
			}
		},
		OnTrack: func(tr call.Track) {
			select {
			case o.tracks <- tr:
			default:
			}
		},
	}
}

func newVNetEngine(t *testing.T, n *vnet.Net, local webrtc.TrackLocal) *webrtcpeer.Engine {
	t.Helper()
	api, err := webrtcpeer.NewAPI(config.Config{}, webrtcpeer.WithNet(n))
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	e, err := webrtcpeer.NewEngine(webrtcpeer.EngineConfig{API: api, LocalTrack: local})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngine_AudioFlowsOverVNet(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	mic, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "medianlink",
	)
	if err != nil {
		t.Fatalf("new local track: %v", err)
	}

	engineA := newVNetEngine(t, netA, mic)
	engineB := newVNetEngine(t, netB, nil)

	toA, toB := &trickle{}, &trickle{}
	obsA, obsB := newObserved(), newObserved()

	peerA, err := engineA.NewPeer(obsA.handlers(toB))
	if err != nil {
		t.Fatalf("NewPeer A: %v", err)
	}
	t.Cleanup(func() { _ = peerA.Close() })
	peerB, err := engineB.NewPeer(obsB.handlers(toA))
	if err != nil {
		t.Fatalf("NewPeer B: %v", err)
	}
	t.Cleanup(func() { _ = peerB.Close() })
	toA.peer, toB.peer = peerA, peerB

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := peerA.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := peerA.SetLocalDescription(ctx, offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	if err := peerB.SetRemoteDescription(ctx, offer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	toB.flush(t)
	answer, err := peerB.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := peerB.SetLocalDescription(ctx, answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	if err := peerA.SetRemoteDescription(ctx, answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}
	toA.flush(t)

	for name, o := range map[string]*observed{"A": obsA, "B": obsB} {
		select {
		case <-o.connected:
		case <-ctx.Done():
			t.Fatalf("peer %s never connected", name)
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = mic.WriteSample(media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	var track call.Track
	select {
	case track = <-obsB.tracks:
	case <-ctx.Done():
		t.Fatalf("no remote track on B")
	}
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		t.Fatalf("track kind=%s, want audio", track.Kind())
	}
	pkt, err := track.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(pkt.Payload) == 0 {
		t.Fatalf("empty payload")
	}
}

func TestPeer_ContextCancelledBeforeCall(t *testing.T) {
	api, err := webrtcpeer.NewAPI(config.Config{})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	e, err := webrtcpeer.NewEngine(webrtcpeer.EngineConfig{API: api})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	p, err := e.NewPeer(call.PeerHandlers{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.CreateOffer(ctx); err != context.Canceled {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Nikita-bot/MedianLink/internal/metrics"
	"github.com/Nikita-bot/MedianLink/internal/signaling"
)

// gatedChannel holds back inbound messages until open is called, so both
// sides can offer before either sees the other's offer.
type gatedChannel struct {
	signaling.Channel
	gate chan struct{}
	once sync.Once
}

func newGatedChannel(ch signaling.Channel) *gatedChannel {
	return &gatedChannel{Channel: ch, gate: make(chan struct{})}
}

func (g *gatedChannel) open() { g.once.Do(func() { close(g.gate) }) }

func (g *gatedChannel) Receive(ctx context.Context) (signaling.Message, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return signaling.Message{}, ctx.Err()
	}
	return g.Channel.Receive(ctx)
}

type side struct {
	sup     *Supervisor
	engine  *fakeEngine
	channel *gatedChannel
	metrics *metrics.Metrics
}

type callPair struct {
	t    *testing.T
	a, b *side
}

func newCallPair(t *testing.T, nowA, nowB time.Time, endpointA, endpointB string) *callPair {
	t.Helper()

	net := newFakeNet()
	chA, chB := signaling.NewPipe()
	mk := func(name, endpoint string, now time.Time, ch signaling.Channel) *side {
		s := &side{engine: newFakeEngine(name, net), channel: newGatedChannel(ch), metrics: metrics.New()}
		sup, err := NewSupervisor(Config{
			Engine:             s.engine,
			Channel:            s.channel,
			Logger:             testLogger(),
			Metrics:            s.metrics,
			NegotiationTimeout: time.Second,
			Backoff:            BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2},
			EndpointID:         endpoint,
			Now:                fixedNow(now),
		})
		if err != nil {
			t.Fatalf("NewSupervisor: %v", err)
		}
		s.sup = sup
		return s
	}
	p := &callPair{t: t, a: mk("a", endpointA, nowA, chA), b: mk("b", endpointB, nowB, chB)}

	ctx, cancel := context.WithCancel(context.Background())
	for _, s := range []*side{p.a, p.b} {
		go func(sup *Supervisor) { _ = sup.Run(ctx) }(s.sup)
	}
	t.Cleanup(func() {
		cancel()
		for _, s := range []*side{p.a, p.b} {
			select {
			case <-s.sup.Done():
			case <-time.After(testTimeout):
				t.Errorf("supervisor %s did not stop", s.sup.Endpoint())
			}
		}
	})
	return p
}

func (p *callPair) open() {
	p.a.channel.open()
	p.b.channel.open()
}

func (p *callPair) status(s *side) Status {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	st, err := s.sup.Status(ctx)
	if err != nil {
		p.t.Fatalf("status: %v", err)
	}
	return st
}

// waitConnected waits until both sides are stable, connected and linked to
// each other's live peer.
func (p *callPair) waitConnected() (Status, Status) {
	p.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		sa, sb := p.status(p.a), p.status(p.b)
		if p.linked(sa, sb) {
			return sa, sb
		}
		if time.Now().After(deadline) {
			p.t.Fatalf("timed out waiting for call; a=%+v b=%+v", sa, sb)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (p *callPair) linked(sa, sb Status) bool {
	for _, st := range []Status{sa, sb} {
		if st.Signaling != SignalingStable || st.Connectivity != ConnectivityConnected {
			return false
		}
	}
	pa, pb := p.a.engine.last(), p.b.engine.last()
	return pa.remoteSDPName() == pb.name && pb.remoteSDPName() == pa.name
}

func TestCallPairConnects(t *testing.T) {
	p := newCallPair(t, testEpoch, testEpoch, "a", "b")
	p.open()

	if err := p.a.sup.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	sa, sb := p.waitConnected()
	if sa.Generation != 1 || sb.Generation != 1 {
		t.Fatalf("generations a=%d b=%d, want 1/1", sa.Generation, sb.Generation)
	}
	if !sa.InCall || !sb.InCall {
		t.Fatalf("in call a=%v b=%v, want both", sa.InCall, sb.InCall)
	}
}

func TestCallPairGlareConverges(t *testing.T) {
	cases := []struct {
		name               string
		nowA, nowB         time.Time
		endpointA          string
		endpointB          string
		wantGenA, wantGenB uint64
	}{
		// The newer offer yields.
		{name: "b newer", nowA: testEpoch, nowB: testEpoch.Add(5 * time.Millisecond), endpointA: "a", endpointB: "b", wantGenA: 1, wantGenB: 2},
		{name: "a newer", nowA: testEpoch.Add(5 * time.Millisecond), nowB: testEpoch, endpointA: "a", endpointB: "b", wantGenA: 2, wantGenB: 1},
		// Same timestamp: the larger endpoint id yields.
		{name: "tie", nowA: testEpoch, nowB: testEpoch, endpointA: "zeta", endpointB: "alpha", wantGenA: 2, wantGenB: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newCallPair(t, tc.nowA, tc.nowB, tc.endpointA, tc.endpointB)

			if err := p.a.sup.StartCall(context.Background()); err != nil {
				t.Fatalf("a StartCall: %v", err)
			}
			if err := p.b.sup.StartCall(context.Background()); err != nil {
				t.Fatalf("b StartCall: %v", err)
			}
			p.open()

			sa, sb := p.waitConnected()
			if sa.Generation != tc.wantGenA || sb.Generation != tc.wantGenB {
				t.Fatalf("generations a=%d b=%d, want %d/%d", sa.Generation, sb.Generation, tc.wantGenA, tc.wantGenB)
			}
			yielded := p.a.metrics.Get(metrics.GlareYielded) + p.b.metrics.Get(metrics.GlareYielded)
			kept := p.a.metrics.Get(metrics.GlareKept) + p.b.metrics.Get(metrics.GlareKept)
			if yielded != 1 || kept != 1 {
				t.Fatalf("glare yielded=%d kept=%d, want 1/1", yielded, kept)
			}
		})
	}
}

func TestCallPairRecoversFromSimultaneousFailure(t *testing.T) {
	p := newCallPair(t, testEpoch, testEpoch.Add(5*time.Millisecond), "a", "b")
	p.open()

	if err := p.a.sup.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	before, _ := p.waitConnected()

	pa, pb := p.a.engine.last(), p.b.engine.last()
	pa.fire(ConnectivityFailed)
	pb.fire(ConnectivityFailed)

	deadline := time.Now().Add(testTimeout)
	for {
		sa, sb := p.status(p.a), p.status(p.b)
		if sa.Generation > before.Generation && p.linked(sa, sb) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for recovery; a=%+v b=%+v", sa, sb)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !pa.isClosed() || !pb.isClosed() {
		t.Fatalf("failed peers not closed: a=%v b=%v", pa.isClosed(), pb.isClosed())
	}
}

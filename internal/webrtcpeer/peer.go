package webrtcpeer

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/call"
)

// peer adapts a PeerConnection to call.Peer. pion's calls do not take a
// context, so each one runs on its own goroutine and is abandoned when ctx
// expires.
type peer struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	closeErr  error
}

type result[T any] struct {
	v   T
	err error
}

// runValue returns fn's result, or ctx's error if ctx ends first. An
// abandoned fn only ever writes to its own buffered channel.
func runValue[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	done := make(chan result[T], 1)
	go func() {
		v, err := fn()
		done <- result[T]{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func run(ctx context.Context, fn func() error) error {
	_, err := runValue(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (p *peer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return runValue(ctx, func() (webrtc.SessionDescription, error) { return p.pc.CreateOffer(nil) })
}

func (p *peer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return runValue(ctx, func() (webrtc.SessionDescription, error) { return p.pc.CreateAnswer(nil) })
}

func (p *peer) SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	return run(ctx, func() error { return p.pc.SetLocalDescription(desc) })
}

func (p *peer) SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	return run(ctx, func() error { return p.pc.SetRemoteDescription(desc) })
}

func (p *peer) AddICECandidate(ctx context.Context, c *webrtc.ICECandidateInit) error {
	// An empty candidate is pion's end-of-candidates marker.
	var init webrtc.ICECandidateInit
	if c != nil {
		init = *c
	}
	return run(ctx, func() error { return p.pc.AddICECandidate(init) })
}

func (p *peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

var _ call.Track = (*remoteTrack)(nil)

func (r *remoteTrack) ID() string                { return r.t.ID() }
func (r *remoteTrack) Kind() webrtc.RTPCodecType { return r.t.Kind() }

func (r *remoteTrack) ReadFrame() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}

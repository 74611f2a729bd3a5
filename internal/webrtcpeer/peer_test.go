package webrtcpeer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestRunValue_ReturnsResult(t *testing.T) {
	got, err := runValue(context.Background(), func() (webrtc.SessionDescription, error) {
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
	})
	if err != nil {
		t.Fatalf("runValue: %v", err)
	}
	if got.Type != webrtc.SDPTypeOffer || got.SDP != "v=0" {
		t.Fatalf("desc=%#v", got)
	}
}

func TestRunValue_AbandonsSlowCallOnTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	finished := make(chan struct{})
	got, err := runValue(ctx, func() (webrtc.SessionDescription, error) {
		defer close(finished)
		<-release
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "late"}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want DeadlineExceeded", err)
	}

	// The abandoned call completes after the caller returned; the value the
	// caller holds must not change underneath it.
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("abandoned call did not finish")
	}
	if got.SDP != "" {
		t.Fatalf("desc=%#v, want zero value after timeout", got)
	}
}

func TestRun_CanceledContextSkipsCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := run(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want Canceled", err)
	}
	if called {
		t.Fatalf("fn ran with a canceled context")
	}
}

package webrtcpeer

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/call"
	"github.com/Nikita-bot/MedianLink/internal/config"
)

func TestNewAPI_RejectsInvertedPortRange(t *testing.T) {
	_, err := NewAPI(config.Config{
		WebRTCUDPPortRange: &config.UDPPortRange{Min: 50100, Max: 50000},
	})
	if err == nil {
		t.Fatalf("expected error for inverted port range")
	}
	if !strings.Contains(err.Error(), "port range") {
		t.Fatalf("err=%v, want port range error", err)
	}
}

func TestNewAPI_Defaults(t *testing.T) {
	api, err := NewAPI(config.Config{}, WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()
}

func TestNewEngineRequiresAPI(t *testing.T) {
	if _, err := NewEngine(EngineConfig{}); err == nil {
		t.Fatalf("expected error without api")
	}
}

func TestConnectivityFromPion(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]call.ConnectivityState{
		webrtc.PeerConnectionStateNew:          call.ConnectivityNew,
		webrtc.PeerConnectionStateConnecting:   call.ConnectivityConnecting,
		webrtc.PeerConnectionStateConnected:    call.ConnectivityConnected,
		webrtc.PeerConnectionStateDisconnected: call.ConnectivityDisconnected,
		webrtc.PeerConnectionStateFailed:       call.ConnectivityFailed,
		webrtc.PeerConnectionStateClosed:       call.ConnectivityClosed,
	}
	for in, want := range cases {
		got, ok := connectivityFromPion(in)
		if !ok || got != want {
			t.Fatalf("connectivityFromPion(%s)=%s,%v want %s", in, got, ok, want)
		}
	}
	if _, ok := connectivityFromPion(webrtc.PeerConnectionStateUnknown); ok {
		t.Fatalf("unknown state should not map")
	}
}

func TestLoggerFactoryScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := NewLoggerFactory(logger).NewLogger("ice")

	l.Debugf("hidden %d", 1)
	l.Tracef("hidden %d", 2)
	l.Warnf("gathering took %dms", 40)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug output leaked at info level: %q", out)
	}
	if !strings.Contains(out, "gathering took 40ms") || !strings.Contains(out, "scope=ice") {
		t.Fatalf("output=%q, want scoped warning", out)
	}
}

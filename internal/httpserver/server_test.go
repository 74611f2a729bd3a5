package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/config"
)

func startTestServer(t *testing.T, cfg config.Config, routes ...func(*http.ServeMux)) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv := New(cfg, log, build)
	for _, register := range routes {
		register(srv.Mux())
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func baseConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func getJSON(t *testing.T, url string, header http.Header, into any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestProbesAndVersion(t *testing.T) {
	baseURL := startTestServer(t, baseConfig())

	var health map[string]any
	if code := getJSON(t, baseURL+"/healthz", nil, &health); code != http.StatusOK || health["ok"] != true {
		t.Fatalf("healthz=%d %v, want 200 ok=true", code, health)
	}

	var ready map[string]any
	if code := getJSON(t, baseURL+"/readyz", nil, &ready); code != http.StatusOK || ready["ready"] != true {
		t.Fatalf("readyz=%d %v, want 200 ready=true", code, ready)
	}

	var got BuildInfo
	if code := getJSON(t, baseURL+"/version", nil, &got); code != http.StatusOK {
		t.Fatalf("version status=%d", code)
	}
	if want := (BuildInfo{Commit: "abc", BuildTime: "time"}); got != want {
		t.Fatalf("version=%+v, want %+v", got, want)
	}
}

func TestReadyzBeforeServe(t *testing.T) {
	srv := New(baseConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), BuildInfo{})
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestICEEndpoint(t *testing.T) {
	cfg := baseConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}
	baseURL := startTestServer(t, cfg)

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	if code := getJSON(t, baseURL+"/webrtc/ice", nil, &payload); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("iceServers=%d, want 2", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("first server has no urls: %#v", payload.ICEServers[0])
	}
}

func TestICEEndpointEmptyList(t *testing.T) {
	baseURL := startTestServer(t, baseConfig())

	var payload map[string]any
	if code := getJSON(t, baseURL+"/webrtc/ice", nil, &payload); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	servers, ok := payload["iceServers"].([]any)
	if !ok || len(servers) != 0 {
		t.Fatalf("iceServers=%#v, want []", payload["iceServers"])
	}
}

func TestICEEndpoint_RejectsCrossOrigin(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	baseURL := startTestServer(t, cfg)

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	if code := getJSON(t, baseURL+"/webrtc/ice", h, nil); code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", code)
	}
}

func TestICEEndpoint_PreflightAllowedOrigin(t *testing.T) {
	cfg := config.Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"https://app.example.com"},
	}

	baseURL := startTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://APP.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestRequestIDIsGeneratedOrEchoed(t *testing.T) {
	baseURL := startTestServer(t, config.Config{ListenAddr: "127.0.0.1:0"})

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("generated X-Request-ID=%q, want a uuid", got)
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("X-Request-ID=%q, want req-1", got)
	}
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	cfg := config.Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"https://app.example.com"},
	}
	// The route accepts any origin so the upgrade itself decides, not the
	// CORS middleware.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	baseURL := startTestServer(t, cfg, func(mux *http.ServeMux) {
		mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(mt, msg)
		})
	})

	h := http.Header{}
	h.Set("Origin", "https://other.example.com")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+baseURL[len("http"):]+"/ws", h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != "ping" {
		t.Fatalf("echo=%q, want ping", msg)
	}
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	baseURL := startTestServer(t, config.Config{ListenAddr: "127.0.0.1:0"}, func(mux *http.ServeMux) {
		mux.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})
	})

	resp, err := http.Get(baseURL + "/boom")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != http.StatusText(http.StatusInternalServerError) {
		t.Fatalf("body=%v", body)
	}

	// The server keeps serving after a panic.
	resp2, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d after panic", resp2.StatusCode)
	}
}

package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/pion/webrtc/v4"
)

const (
	envVarMode            = "MEDIANLINK_MODE"
	envVarLogFormat       = "MEDIANLINK_LOG_FORMAT"
	envVarLogLevel        = "MEDIANLINK_LOG_LEVEL"
	envVarShutdownTimeout = "MEDIANLINK_SHUTDOWN_TIMEOUT"

	// Client signaling channel.
	envVarSignalingURL             = "MEDIANLINK_SIGNALING_URL"
	envVarSignalingPingInterval    = "MEDIANLINK_SIGNALING_PING_INTERVAL"
	envVarSignalingIdleTimeout     = "MEDIANLINK_SIGNALING_IDLE_TIMEOUT"
	envVarSignalingWriteTimeout    = "MEDIANLINK_SIGNALING_WRITE_TIMEOUT"
	envVarMaxSignalingMessageBytes = "MEDIANLINK_MAX_SIGNALING_MESSAGE_BYTES"

	// Call supervisor knobs.
	envVarEventQueueSize            = "MEDIANLINK_EVENT_QUEUE_SIZE"
	envVarNegotiationTimeout        = "MEDIANLINK_NEGOTIATION_TIMEOUT"
	envVarReconnectInitialDelay     = "MEDIANLINK_RECONNECT_INITIAL_DELAY"
	envVarReconnectMaxDelay         = "MEDIANLINK_RECONNECT_MAX_DELAY"
	envVarReconnectMultiplier       = "MEDIANLINK_RECONNECT_MULTIPLIER"
	envVarReconnectJitter           = "MEDIANLINK_RECONNECT_JITTER"
	envVarMaxReconnectAttempts      = "MEDIANLINK_MAX_RECONNECT_ATTEMPTS"
	envVarTrackEmptyFrameBackoff    = "MEDIANLINK_TRACK_EMPTY_FRAME_BACKOFF"
	envVarTrackEmptyFrameMaxBackoff = "MEDIANLINK_TRACK_EMPTY_FRAME_MAX_BACKOFF"
	envVarTrackMaxEmptyFrames       = "MEDIANLINK_TRACK_MAX_EMPTY_FRAMES"
	envVarAutoStart                 = "MEDIANLINK_AUTO_START"

	// Audio I/O.
	envVarAudioInput  = "MEDIANLINK_AUDIO_INPUT"
	envVarAudioOutput = "MEDIANLINK_AUDIO_OUTPUT"

	// WebRTC network restrictions.
	envVarWebRTCUDPPortMin  = "MEDIANLINK_WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax  = "MEDIANLINK_WEBRTC_UDP_PORT_MAX"
	envVarWebRTCUDPListenIP = "MEDIANLINK_WEBRTC_UDP_LISTEN_IP"

	// Relay.
	envVarListenAddr                    = "MEDIANLINK_LISTEN_ADDR"
	envVarAllowedOrigins                = "MEDIANLINK_ALLOWED_ORIGINS"
	envVarMaxSignalingMessagesPerSecond = "MEDIANLINK_MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarRelaySendQueueSize            = "MEDIANLINK_RELAY_SEND_QUEUE_SIZE"
)

const (
	DefaultMode            Mode = ModeDev
	DefaultShutdownTimeout      = 15 * time.Second

	DefaultSignalingURL             = "ws://127.0.0.1:8888/ws"
	DefaultSignalingPingInterval    = 20 * time.Second
	DefaultSignalingIdleTimeout     = 60 * time.Second
	DefaultSignalingWriteTimeout    = 5 * time.Second
	DefaultMaxSignalingMessageBytes = int64(64 * 1024)

	DefaultEventQueueSize     = 64
	DefaultNegotiationTimeout = 10 * time.Second
	// The first reconnect after a failure is always immediate; these shape the
	// delays of consecutive attempts after that.
	DefaultReconnectInitialDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultReconnectMultiplier   = 2.0
	DefaultMaxReconnectAttempts  = 10

	DefaultTrackEmptyFrameBackoff    = 500 * time.Millisecond
	DefaultTrackEmptyFrameMaxBackoff = 4 * time.Second
	DefaultTrackMaxEmptyFrames       = 20

	DefaultWebRTCUDPListenIP = "0.0.0.0"

	DefaultListenAddr                    = "127.0.0.1:8888"
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultRelaySendQueueSize            = 256
)

// recommendedWebRTCUDPPortRangeSize keeps a restricted port range large enough
// for a handful of consecutive reconnects, each of which gathers new sockets.
const recommendedWebRTCUDPPortRangeSize = 16

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// SignalingURL is the ws:// or wss:// address of the signaling relay.
	SignalingURL             string
	SignalingPingInterval    time.Duration
	SignalingIdleTimeout     time.Duration
	SignalingWriteTimeout    time.Duration
	MaxSignalingMessageBytes int64

	EventQueueSize     int
	NegotiationTimeout time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMultiplier   float64
	ReconnectJitter       bool
	// MaxReconnectAttempts bounds consecutive reconnects without reaching a
	// connected state. 0 means unlimited.
	MaxReconnectAttempts int

	TrackEmptyFrameBackoff    time.Duration
	TrackEmptyFrameMaxBackoff time.Duration
	// TrackMaxEmptyFrames is the number of consecutive empty reads after which
	// an inbound track is treated as dead. 0 means unlimited.
	TrackMaxEmptyFrames int

	// AutoStart places a call as soon as the signaling channel is up.
	AutoStart bool

	// AudioInputPath is an Ogg/Opus file looped as the local microphone. Empty
	// means opus silence.
	AudioInputPath string
	// AudioOutputPath receives inbound audio as Ogg/Opus. Empty discards it.
	AudioOutputPath string

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion uses
	// its defaults (OS ephemeral port selection).
	WebRTCUDPPortRange *UDPPortRange
	// WebRTCUDPListenIP restricts which local interface address ICE will bind UDP
	// sockets to. 0.0.0.0 means "use library default".
	WebRTCUDPListenIP net.IP

	ICEServers []webrtc.ICEServer

	ListenAddr                    string
	AllowedOrigins                []string
	MaxSignalingMessagesPerSecond int
	RelaySendQueueSize            int
}

// envValues holds the raw environment; each value becomes the default of the
// matching command-line flag. Fields where zero is a meaningful setting carry
// their default in the tag, the rest fall back after parsing.
type envValues struct {
	Mode            string        `env:"MEDIANLINK_MODE"`
	LogFormat       string        `env:"MEDIANLINK_LOG_FORMAT"`
	LogLevel        string        `env:"MEDIANLINK_LOG_LEVEL"`
	ShutdownTimeout time.Duration `env:"MEDIANLINK_SHUTDOWN_TIMEOUT"`

	SignalingURL             string        `env:"MEDIANLINK_SIGNALING_URL"`
	SignalingPingInterval    time.Duration `env:"MEDIANLINK_SIGNALING_PING_INTERVAL"`
	SignalingIdleTimeout     time.Duration `env:"MEDIANLINK_SIGNALING_IDLE_TIMEOUT"`
	SignalingWriteTimeout    time.Duration `env:"MEDIANLINK_SIGNALING_WRITE_TIMEOUT"`
	MaxSignalingMessageBytes int64         `env:"MEDIANLINK_MAX_SIGNALING_MESSAGE_BYTES"`

	EventQueueSize            int           `env:"MEDIANLINK_EVENT_QUEUE_SIZE"`
	NegotiationTimeout        time.Duration `env:"MEDIANLINK_NEGOTIATION_TIMEOUT"`
	ReconnectInitialDelay     time.Duration `env:"MEDIANLINK_RECONNECT_INITIAL_DELAY" envDefault:"500ms"`
	ReconnectMaxDelay         time.Duration `env:"MEDIANLINK_RECONNECT_MAX_DELAY"`
	ReconnectMultiplier       float64       `env:"MEDIANLINK_RECONNECT_MULTIPLIER"`
	ReconnectJitter           bool          `env:"MEDIANLINK_RECONNECT_JITTER" envDefault:"true"`
	MaxReconnectAttempts      int           `env:"MEDIANLINK_MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	TrackEmptyFrameBackoff    time.Duration `env:"MEDIANLINK_TRACK_EMPTY_FRAME_BACKOFF"`
	TrackEmptyFrameMaxBackoff time.Duration `env:"MEDIANLINK_TRACK_EMPTY_FRAME_MAX_BACKOFF"`
	TrackMaxEmptyFrames       int           `env:"MEDIANLINK_TRACK_MAX_EMPTY_FRAMES" envDefault:"20"`
	AutoStart                 bool          `env:"MEDIANLINK_AUTO_START"`

	AudioInput  string `env:"MEDIANLINK_AUDIO_INPUT"`
	AudioOutput string `env:"MEDIANLINK_AUDIO_OUTPUT"`

	WebRTCUDPPortMin  uint   `env:"MEDIANLINK_WEBRTC_UDP_PORT_MIN"`
	WebRTCUDPPortMax  uint   `env:"MEDIANLINK_WEBRTC_UDP_PORT_MAX"`
	WebRTCUDPListenIP string `env:"MEDIANLINK_WEBRTC_UDP_LISTEN_IP"`

	ICEServersJSON string `env:"MEDIANLINK_ICE_SERVERS_JSON"`
	StunURLs       string `env:"MEDIANLINK_STUN_URLS"`
	TurnURLs       string `env:"MEDIANLINK_TURN_URLS"`
	TurnUsername   string `env:"MEDIANLINK_TURN_USERNAME"`
	TurnCredential string `env:"MEDIANLINK_TURN_CREDENTIAL"`

	ListenAddr                    string `env:"MEDIANLINK_LISTEN_ADDR"`
	AllowedOrigins                string `env:"MEDIANLINK_ALLOWED_ORIGINS"`
	MaxSignalingMessagesPerSecond int    `env:"MEDIANLINK_MAX_SIGNALING_MESSAGES_PER_SECOND" envDefault:"50"`
	RelaySendQueueSize            int    `env:"MEDIANLINK_RELAY_SEND_QUEUE_SIZE"`
}

// Load reads configuration from the process environment and args. Flags take
// precedence over environment variables.
func Load(args []string) (Config, error) {
	return load(nil, args)
}

// load is Load with an explicit environment. A nil environ reads os.Environ.
func load(environ map[string]string, args []string) (Config, error) {
	var ev envValues
	if err := env.ParseWithOptions(&ev, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	modeStr := stringOr(ev.Mode, string(DefaultMode))
	logFormatStr := ev.LogFormat
	logLevelStr := ev.LogLevel

	shutdownTimeout := durationOr(ev.ShutdownTimeout, DefaultShutdownTimeout)
	signalingURL := stringOr(ev.SignalingURL, DefaultSignalingURL)
	pingInterval := durationOr(ev.SignalingPingInterval, DefaultSignalingPingInterval)
	idleTimeout := durationOr(ev.SignalingIdleTimeout, DefaultSignalingIdleTimeout)
	writeTimeout := durationOr(ev.SignalingWriteTimeout, DefaultSignalingWriteTimeout)
	maxMessageBytes := ev.MaxSignalingMessageBytes
	if maxMessageBytes == 0 {
		maxMessageBytes = DefaultMaxSignalingMessageBytes
	}

	eventQueueSize := intOr(ev.EventQueueSize, DefaultEventQueueSize)
	negotiationTimeout := durationOr(ev.NegotiationTimeout, DefaultNegotiationTimeout)
	reconnectInitial := ev.ReconnectInitialDelay
	reconnectMax := durationOr(ev.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	reconnectMultiplier := ev.ReconnectMultiplier
	if reconnectMultiplier == 0 {
		reconnectMultiplier = DefaultReconnectMultiplier
	}
	reconnectJitter := ev.ReconnectJitter
	maxReconnectAttempts := ev.MaxReconnectAttempts
	emptyBackoff := durationOr(ev.TrackEmptyFrameBackoff, DefaultTrackEmptyFrameBackoff)
	emptyMaxBackoff := durationOr(ev.TrackEmptyFrameMaxBackoff, DefaultTrackEmptyFrameMaxBackoff)
	maxEmptyFrames := ev.TrackMaxEmptyFrames
	autoStart := ev.AutoStart

	audioInput := ev.AudioInput
	audioOutput := ev.AudioOutput

	webrtcUDPPortMin := ev.WebRTCUDPPortMin
	webrtcUDPPortMax := ev.WebRTCUDPPortMax
	webrtcUDPListenIPStr := stringOr(ev.WebRTCUDPListenIP, DefaultWebRTCUDPListenIP)

	iceServersJSON := ev.ICEServersJSON
	stunURLs := stringOr(ev.StunURLs, DefaultStunURL)
	turnURLs := ev.TurnURLs
	turnUsername := ev.TurnUsername
	turnCredential := ev.TurnCredential

	listenAddr := stringOr(ev.ListenAddr, DefaultListenAddr)
	allowedOriginsStr := ev.AllowedOrigins
	maxMessagesPerSecond := ev.MaxSignalingMessagesPerSecond
	relaySendQueueSize := intOr(ev.RelaySendQueueSize, DefaultRelaySendQueueSize)

	fs := flag.NewFlagSet("medianlink", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&modeStr, "mode", modeStr, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (default depends on mode; env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error (default depends on mode; env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")

	fs.StringVar(&signalingURL, "signaling-url", signalingURL, "Signaling relay websocket URL (env "+envVarSignalingURL+")")
	fs.DurationVar(&pingInterval, "signaling-ping-interval", pingInterval, "Ping the signaling relay at this interval (env "+envVarSignalingPingInterval+")")
	fs.DurationVar(&idleTimeout, "signaling-idle-timeout", idleTimeout, "Treat the signaling channel as lost after this long without traffic (env "+envVarSignalingIdleTimeout+")")
	fs.DurationVar(&writeTimeout, "signaling-write-timeout", writeTimeout, "Write deadline for signaling messages (env "+envVarSignalingWriteTimeout+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")

	fs.IntVar(&eventQueueSize, "event-queue-size", eventQueueSize, "Capacity of the call supervisor event queue (env "+envVarEventQueueSize+")")
	fs.DurationVar(&negotiationTimeout, "negotiation-timeout", negotiationTimeout, "Timeout for a single SDP/ICE engine operation (env "+envVarNegotiationTimeout+")")
	fs.DurationVar(&reconnectInitial, "reconnect-initial-delay", reconnectInitial, "Delay before the second consecutive reconnect attempt (env "+envVarReconnectInitialDelay+")")
	fs.DurationVar(&reconnectMax, "reconnect-max-delay", reconnectMax, "Upper bound for reconnect delays (env "+envVarReconnectMaxDelay+")")
	fs.Float64Var(&reconnectMultiplier, "reconnect-multiplier", reconnectMultiplier, "Reconnect delay growth factor (env "+envVarReconnectMultiplier+")")
	fs.BoolVar(&reconnectJitter, "reconnect-jitter", reconnectJitter, "Randomize reconnect delays (env "+envVarReconnectJitter+")")
	fs.IntVar(&maxReconnectAttempts, "max-reconnect-attempts", maxReconnectAttempts, "Give up after this many consecutive reconnects (0 = unlimited; env "+envVarMaxReconnectAttempts+")")
	fs.DurationVar(&emptyBackoff, "track-empty-frame-backoff", emptyBackoff, "Initial wait after an empty audio frame (env "+envVarTrackEmptyFrameBackoff+")")
	fs.DurationVar(&emptyMaxBackoff, "track-empty-frame-max-backoff", emptyMaxBackoff, "Upper bound for the empty frame wait (env "+envVarTrackEmptyFrameMaxBackoff+")")
	fs.IntVar(&maxEmptyFrames, "track-max-empty-frames", maxEmptyFrames, "Consecutive empty frames before a track is treated as dead (0 = unlimited; env "+envVarTrackMaxEmptyFrames+")")
	fs.BoolVar(&autoStart, "auto-start", autoStart, "Start a call as soon as the signaling channel is connected (env "+envVarAutoStart+")")

	fs.StringVar(&audioInput, "audio-input", audioInput, "Ogg/Opus file played as the local microphone (empty = silence; env "+envVarAudioInput+")")
	fs.StringVar(&audioOutput, "audio-output", audioOutput, "Ogg/Opus file receiving remote audio (empty = discard; env "+envVarAudioOutput+")")

	fs.UintVar(&webrtcUDPPortMin, "webrtc-udp-port-min", webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, "webrtc-udp-port-max", webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, "webrtc-udp-listen-ip", webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "Relay HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to open the relay websocket (env "+envVarAllowedOrigins+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Max inbound relay messages per second per client (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&relaySendQueueSize, "relay-send-queue-size", relaySendQueueSize, "Outbound messages buffered per relay client before dropping (env "+envVarRelaySendQueueSize+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(logFormatStr) == "" {
		logFormatStr = defaultLogFormatForMode(mode)
	}
	if strings.TrimSpace(logLevelStr) == "" {
		logLevelStr = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	signalingURL, err = parseSignalingURL(signalingURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--signaling-url: %w", envVarSignalingURL, err)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if pingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ping-interval must be > 0", envVarSignalingPingInterval)
	}
	if pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ping-interval must be < %s/--signaling-idle-timeout", envVarSignalingPingInterval, envVarSignalingIdleTimeout)
	}
	if writeTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-write-timeout must be > 0", envVarSignalingWriteTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if eventQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--event-queue-size must be > 0", envVarEventQueueSize)
	}
	if negotiationTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--negotiation-timeout must be > 0", envVarNegotiationTimeout)
	}
	if reconnectInitial < 0 {
		return Config{}, fmt.Errorf("%s/--reconnect-initial-delay must be >= 0", envVarReconnectInitialDelay)
	}
	if reconnectMax < reconnectInitial {
		return Config{}, fmt.Errorf("%s/--reconnect-max-delay must be >= %s/--reconnect-initial-delay", envVarReconnectMaxDelay, envVarReconnectInitialDelay)
	}
	if reconnectMultiplier < 1 {
		return Config{}, fmt.Errorf("%s/--reconnect-multiplier must be >= 1", envVarReconnectMultiplier)
	}
	if maxReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("%s/--max-reconnect-attempts must be >= 0", envVarMaxReconnectAttempts)
	}
	if emptyBackoff <= 0 {
		return Config{}, fmt.Errorf("%s/--track-empty-frame-backoff must be > 0", envVarTrackEmptyFrameBackoff)
	}
	if emptyMaxBackoff < emptyBackoff {
		return Config{}, fmt.Errorf("%s/--track-empty-frame-max-backoff must be >= %s/--track-empty-frame-backoff", envVarTrackEmptyFrameMaxBackoff, envVarTrackEmptyFrameBackoff)
	}
	if maxEmptyFrames < 0 {
		return Config{}, fmt.Errorf("%s/--track-max-empty-frames must be >= 0", envVarTrackMaxEmptyFrames)
	}
	if maxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be >= 0", envVarMaxSignalingMessagesPerSecond)
	}
	if relaySendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--relay-send-queue-size must be > 0", envVarRelaySendQueueSize)
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/--webrtc-udp-port-min and %s/--webrtc-udp-port-max must be set together (or both unset)",
				envVarWebRTCUDPPortMin, envVarWebRTCUDPPortMax)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/--webrtc-udp-port-min: %w", envVarWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/--webrtc-udp-port-max: %w", envVarWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		if size := int(max) - int(min) + 1; size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/--webrtc-udp-listen-ip %q", envVarWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	iceServers, err := ICESettings{
		JSON:           iceServersJSON,
		STUNURLs:       stunURLs,
		TURNURLs:       turnURLs,
		TURNUsername:   turnUsername,
		TURNCredential: turnCredential,
	}.Servers()
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	return Config{
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		SignalingURL:             signalingURL,
		SignalingPingInterval:    pingInterval,
		SignalingIdleTimeout:     idleTimeout,
		SignalingWriteTimeout:    writeTimeout,
		MaxSignalingMessageBytes: maxMessageBytes,

		EventQueueSize:            eventQueueSize,
		NegotiationTimeout:        negotiationTimeout,
		ReconnectInitialDelay:     reconnectInitial,
		ReconnectMaxDelay:         reconnectMax,
		ReconnectMultiplier:       reconnectMultiplier,
		ReconnectJitter:           reconnectJitter,
		MaxReconnectAttempts:      maxReconnectAttempts,
		TrackEmptyFrameBackoff:    emptyBackoff,
		TrackEmptyFrameMaxBackoff: emptyMaxBackoff,
		TrackMaxEmptyFrames:       maxEmptyFrames,
		AutoStart:                 autoStart,

		AudioInputPath:  strings.TrimSpace(audioInput),
		AudioOutputPath: strings.TrimSpace(audioOutput),

		WebRTCUDPPortRange: webrtcUDPPortRange,
		WebRTCUDPListenIP:  webrtcUDPListenIP,
		ICEServers:         iceServers,

		ListenAddr:                    listenAddr,
		AllowedOrigins:                allowedOrigins,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		RelaySendQueueSize:            relaySendQueueSize,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

// IsUnspecifiedIP reports whether ip leaves interface selection to pion.
func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func stringOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return v
}

func intOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseSignalingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%q: expected ws:// or wss://", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q: missing host", raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("%q: must not include credentials", raw)
	}
	return raw, nil
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || entry == "null" {
			out = append(out, entry)
			continue
		}
		normalized, ok := NormalizeOrigin(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

// NormalizeOrigin validates a browser Origin value and returns it as
// scheme://host[:port] with a lowercase scheme and host.
func NormalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		host += ":" + port
	}
	return scheme + "://" + host, true
}

// OriginAllowed reports whether the Origin header value raw passes the
// allowlist and returns its normalized form. An empty allowlist admits any
// well-formed origin.
func OriginAllowed(raw string, allowed []string) (string, bool) {
	raw = strings.TrimSpace(raw)
	normalized := raw
	if raw != "null" {
		var ok bool
		if normalized, ok = NormalizeOrigin(raw); !ok {
			return "", false
		}
	}
	if len(allowed) == 0 {
		return normalized, true
	}
	for _, a := range allowed {
		if a == "*" || a == normalized {
			return normalized, true
		}
	}
	return "", false
}

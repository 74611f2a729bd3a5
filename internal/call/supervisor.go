package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/config"
	"github.com/Nikita-bot/MedianLink/internal/metrics"
	"github.com/Nikita-bot/MedianLink/internal/signaling"
)

type Config struct {
	Engine  Engine
	Channel signaling.Channel
	// Sink receives inbound audio. Nil discards it.
	Sink    Sink
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	EventQueueSize     int
	NegotiationTimeout time.Duration
	Backoff            BackoffConfig
	// MaxReconnectAttempts bounds consecutive reconnects that never reach a
	// connected state. 0 means unlimited.
	MaxReconnectAttempts int
	Track                TrackConfig

	// EndpointID identifies this endpoint in glare tiebreaks. A random id is
	// used when empty.
	EndpointID string
	Now        func() time.Time
}

// ConfigFrom copies the supervisor tunables out of cfg. Engine, Channel, Sink,
// Logger and Metrics are left for the caller.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		EventQueueSize:       cfg.EventQueueSize,
		NegotiationTimeout:   cfg.NegotiationTimeout,
		Backoff:              BackoffConfigFrom(cfg),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Track:                TrackConfigFrom(cfg),
	}
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Active            bool
	Generation        uint64
	Signaling         SignalingState
	Connectivity      ConnectivityState
	InCall            bool
	ReconnectPending  bool
	ReconnectAttempts int
	Endpoint          string
}

// Supervisor owns the single live Session. Every state change happens on the
// goroutine running Run; the exported methods post events to it.
type Supervisor struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	endpoint string

	events   chan event
	failures chan error
	done     chan struct{}
	running  atomic.Bool
	loops    sync.WaitGroup

	// Everything below is owned by the dispatcher.
	runCtx     context.Context
	rng        *rand.Rand
	generation uint64
	sess       *session
	inCall     bool

	// Latest generation seen from the remote endpoint.
	peerEndpoint   string
	peerGeneration uint64

	attempts         int
	reconnectPending bool
	reconnectSeq     uint64
	reconnectTimer   *time.Timer
}

func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Engine == nil {
		return nil, errors.New("call: engine is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("call: signaling channel is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = config.DefaultEventQueueSize
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = config.DefaultNegotiationTimeout
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.EndpointID == "" {
		cfg.EndpointID = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Track = cfg.Track.withDefaults()

	return &Supervisor{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "call", "endpoint", cfg.EndpointID),
		metrics:  cfg.Metrics,
		endpoint: cfg.EndpointID,
		events:   make(chan event, cfg.EventQueueSize),
		failures: make(chan error, 4),
		done:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Endpoint returns the id this supervisor tags its messages with.
func (s *Supervisor) Endpoint() string { return s.endpoint }

// Failures reports non-fatal terminal conditions such as
// ErrReconnectExhausted. The supervisor keeps running after each.
func (s *Supervisor) Failures() <-chan error { return s.failures }

// Done is closed when Run returns.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Run drives the supervisor until ctx is cancelled or the signaling channel
// is lost. It tears down the live Session before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("call: supervisor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	defer func() {
		cancel()
		close(s.done)
		s.loops.Wait()
	}()

	go s.readSignaling(runCtx)

	for {
		select {
		case <-runCtx.Done():
			s.shutdown()
			return nil
		case ev := <-s.events:
			if err := s.dispatch(runCtx, ev); err != nil {
				s.shutdown()
				return err
			}
		}
	}
}

// StartCall places a call. It fails with ErrAlreadyActive while a Session is
// live.
func (s *Supervisor) StartCall(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, startCallEvent{reply: reply}); err != nil {
		return err
	}
	return s.await(ctx, reply)
}

// EndCall tears down the live Session, if any, and cancels pending reconnects.
func (s *Supervisor) EndCall(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, endCallEvent{reply: reply}); err != nil {
		return err
	}
	return s.await(ctx, reply)
}

func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := s.post(ctx, statusEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return Status{}, ErrSupervisorStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (s *Supervisor) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSupervisorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) post(ctx context.Context, ev event) error {
	select {
	case <-s.done:
		return ErrSupervisorStopped
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSupervisorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postFrom posts an event raised by a Session. It gives up once the Session
// is torn down, at which point the event would be stale anyway.
func (s *Supervisor) postFrom(sessCtx context.Context, ev event) {
	select {
	case s.events <- ev:
	case <-sessCtx.Done():
		s.metrics.Inc(metrics.EventsDropped)
	case <-s.done:
	}
}

func (s *Supervisor) readSignaling(ctx context.Context) {
	for {
		msg, err := s.cfg.Channel.Receive(ctx)
		if err != nil {
			if errors.Is(err, signaling.ErrMalformedMessage) {
				s.metrics.Inc(metrics.MalformedMessages)
				s.log.Warn("discarding malformed signaling message", "err", err)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			_ = s.post(ctx, channelLostEvent{err: err})
			return
		}
		if msg.Kind == signaling.KindAction {
			s.log.Debug("ignoring presence action", "action", msg.Action)
			continue
		}
		if err := s.post(ctx, signalEvent{msg: msg}); err != nil {
			return
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, ev event) error {
	switch ev := ev.(type) {
	case startCallEvent:
		err := s.startCall(ctx)
		ev.reply <- err
		return s.classify("start call", err)
	case endCallEvent:
		err := s.endCall(ctx)
		ev.reply <- err
		return s.classify("end call", err)
	case statusEvent:
		ev.reply <- s.status()
		return nil
	case signalEvent:
		return s.classify("signaling "+ev.msg.Kind.String(), s.handleSignal(ctx, ev.msg))
	case channelLostEvent:
		return fmt.Errorf("%w: %v", ErrChannelLost, ev.err)
	case localCandidateEvent:
		return s.classify("local candidate", s.onLocalCandidate(ctx, ev))
	case connectivityEvent:
		return s.classify("connectivity change", s.onConnectivityChange(ctx, ev))
	case trackEvent:
		return s.classify("remote track", s.onTrack(ev))
	case trackFailedEvent:
		return s.classify("track failed", s.onTrackFailed(ctx, ev))
	case reconnectEvent:
		return s.classify("reconnect", s.onReconnectTimer(ctx, ev))
	default:
		s.log.Error("unknown event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

// classify logs a handler error. Only ErrChannelLost is returned, ending Run.
func (s *Supervisor) classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrChannelLost):
		s.log.Error("signaling channel lost", "op", op, "err", err)
		return err
	case errors.Is(err, ErrStaleGeneration):
		s.metrics.Inc(metrics.StaleDropped)
		s.log.Debug("discarding stale event", "op", op, "err", err)
	case errors.Is(err, ErrAlreadyActive):
		s.log.Info("call already active", "op", op)
	case errors.Is(err, ErrProtocolViolation):
		s.metrics.Inc(metrics.ProtocolViolations)
		s.log.Warn("protocol violation", "op", op, "err", err)
	default:
		s.log.Warn("call operation failed", "op", op, "err", err)
	}
	return nil
}

func (s *Supervisor) status() Status {
	st := Status{
		Generation:        s.generation,
		InCall:            s.inCall,
		ReconnectPending:  s.reconnectPending,
		ReconnectAttempts: s.attempts,
		Endpoint:          s.endpoint,
	}
	if s.sess != nil {
		st.Active = true
		st.Generation = s.sess.gen
		st.Signaling = s.sess.signaling
		st.Connectivity = s.sess.connectivity
	}
	return st
}

func (s *Supervisor) startCall(ctx context.Context) error {
	if s.sess != nil {
		return fmt.Errorf("%w: generation %d is %s", ErrAlreadyActive, s.sess.gen, s.sess.connectivity)
	}
	s.cancelReconnect()
	s.attempts = 0

	sess, err := s.newSession()
	if err != nil {
		return err
	}
	if err := s.startPresence(ctx); err != nil {
		return err
	}
	s.metrics.Inc(metrics.CallsStarted)
	return s.settle(ctx, sess, s.createAndSendOffer(ctx, sess))
}

func (s *Supervisor) endCall(ctx context.Context) error {
	s.cancelReconnect()
	s.attempts = 0
	if s.sess != nil {
		s.closeSession()
		s.metrics.Inc(metrics.CallsEnded)
	}
	return s.endPresence(ctx)
}

func (s *Supervisor) onLocalCandidate(ctx context.Context, ev localCandidateEvent) error {
	if err := s.checkGeneration(ev.gen); err != nil {
		return err
	}
	msg := signaling.NewCandidate(ev.candidate)
	msg.Generation = ev.gen
	if err := s.send(ctx, msg); err != nil {
		return err
	}
	s.metrics.Inc(metrics.CandidatesSent)
	return nil
}

func (s *Supervisor) onConnectivityChange(ctx context.Context, ev connectivityEvent) error {
	if err := s.checkGeneration(ev.gen); err != nil {
		return err
	}
	sess := s.sess
	prev := sess.connectivity
	sess.connectivity = ev.state
	s.log.Info("connectivity changed", "gen", sess.gen, "from", prev.String(), "to", ev.state.String())

	switch {
	case ev.state == ConnectivityConnected:
		s.attempts = 0
	case ev.state.needsReconnect():
		return s.failSession(ctx, sess.gen, fmt.Errorf("%w: connectivity %s", ErrTransportFailure, ev.state))
	case ev.state == ConnectivityClosed:
		s.log.Info("session closed by engine", "gen", sess.gen)
		s.closeSession()
		return s.endPresence(ctx)
	}
	return nil
}

func (s *Supervisor) onTrack(ev trackEvent) error {
	if err := s.checkGeneration(ev.gen); err != nil {
		return err
	}
	s.sess.tracks.onTrack(ev.track)
	return nil
}

func (s *Supervisor) onTrackFailed(ctx context.Context, ev trackFailedEvent) error {
	if err := s.checkGeneration(ev.gen); err != nil {
		return err
	}
	s.metrics.Inc(metrics.TrackFailures)
	return s.failSession(ctx, ev.gen, fmt.Errorf("track %s: %w", ev.trackID, ev.err))
}

func (s *Supervisor) checkGeneration(gen uint64) error {
	if s.sess == nil || s.sess.gen != gen {
		return fmt.Errorf("%w: event for generation %d", ErrStaleGeneration, gen)
	}
	return nil
}

func (s *Supervisor) newSession() (*session, error) {
	s.generation++
	gen := s.generation
	sessCtx, cancel := context.WithCancel(s.runCtx)

	peer, err := s.cfg.Engine.NewPeer(PeerHandlers{
		OnICECandidate: func(c *webrtc.ICECandidateInit) {
			s.postFrom(sessCtx, localCandidateEvent{gen: gen, candidate: c})
		},
		OnConnectivityChange: func(state ConnectivityState) {
			s.postFrom(sessCtx, connectivityEvent{gen: gen, state: state})
		},
		OnTrack: func(track Track) {
			s.postFrom(sessCtx, trackEvent{gen: gen, track: track})
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create peer: %v", ErrTransportFailure, err)
	}

	sess := &session{
		gen:        gen,
		peer:       peer,
		candidates: newCandidateBuffer(peer),
		cancel:     cancel,
	}
	sess.tracks = newTrackSupervisor(sessCtx, gen, s.cfg.Sink, s.cfg.Track, s.log, s.metrics, &s.loops, func(trackID string, err error) {
		s.postFrom(sessCtx, trackFailedEvent{gen: gen, trackID: trackID, err: err})
	})
	s.sess = sess
	s.metrics.Inc(metrics.SessionsCreated)
	s.log.Info("session created", "gen", gen)
	return sess, nil
}

func (s *Supervisor) closeSession() {
	sess := s.sess
	if sess == nil {
		return
	}
	s.sess = nil
	sess.cancel()
	if err := sess.peer.Close(); err != nil {
		s.log.Debug("closing peer failed", "gen", sess.gen, "err", err)
	}
	s.log.Info("session closed", "gen", sess.gen)
}

// settle turns a transport failure of sess into the reconnect path, exactly
// as if the engine had reported it.
func (s *Supervisor) settle(ctx context.Context, sess *session, err error) error {
	if err == nil || !errors.Is(err, ErrTransportFailure) {
		return err
	}
	if s.sess != sess {
		return err
	}
	return s.failSession(ctx, sess.gen, err)
}

func (s *Supervisor) failSession(ctx context.Context, gen uint64, cause error) error {
	if err := s.checkGeneration(gen); err != nil {
		return err
	}
	s.metrics.Inc(metrics.TransportFailures)
	s.log.Warn("session failed", "gen", gen, "err", cause)
	s.closeSession()
	return s.scheduleRecovery(ctx, cause)
}

// scheduleRecovery starts the next consecutive reconnect attempt. The first one runs
// immediately; later ones wait for the backoff timer.
func (s *Supervisor) scheduleRecovery(ctx context.Context, cause error) error {
	s.attempts++
	if limit := s.cfg.MaxReconnectAttempts; limit > 0 && s.attempts > limit {
		s.attempts = 0
		s.cancelReconnect()
		s.metrics.Inc(metrics.ReconnectsExhausted)
		s.log.Error("giving up on reconnect", "attempts", limit, "err", cause)
		s.surface(fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, limit, cause))
		return s.endPresence(ctx)
	}
	if s.attempts == 1 {
		return s.reconnect(ctx)
	}
	delay := reconnectDelay(s.cfg.Backoff, s.attempts, s.rng)
	s.armReconnect(delay)
	s.log.Info("reconnect scheduled", "attempt", s.attempts, "delay", delay)
	return nil
}

func (s *Supervisor) reconnect(ctx context.Context) error {
	s.metrics.Inc(metrics.Reconnects)
	s.log.Info("reconnecting", "attempt", s.attempts)
	sess, err := s.newSession()
	if err != nil {
		return s.scheduleRecovery(ctx, err)
	}
	return s.settle(ctx, sess, s.createAndSendOffer(ctx, sess))
}

func (s *Supervisor) armReconnect(delay time.Duration) {
	s.cancelReconnect()
	s.reconnectPending = true
	seq := s.reconnectSeq
	s.reconnectTimer = time.AfterFunc(delay, func() {
		select {
		case s.events <- reconnectEvent{seq: seq}:
		case <-s.done:
		}
	})
}

func (s *Supervisor) cancelReconnect() {
	s.reconnectSeq++
	s.reconnectPending = false
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Supervisor) onReconnectTimer(ctx context.Context, ev reconnectEvent) error {
	if !s.reconnectPending || ev.seq != s.reconnectSeq {
		return fmt.Errorf("%w: cancelled reconnect", ErrStaleGeneration)
	}
	s.reconnectPending = false
	s.reconnectTimer = nil
	if s.sess != nil {
		return fmt.Errorf("%w: session %d already live", ErrStaleGeneration, s.sess.gen)
	}
	return s.reconnect(ctx)
}

func (s *Supervisor) surface(err error) {
	select {
	case s.failures <- err:
	default:
		s.log.Warn("dropping unread failure", "err", err)
	}
}

func (s *Supervisor) startPresence(ctx context.Context) error {
	if s.inCall {
		return nil
	}
	s.inCall = true
	return s.send(ctx, signaling.NewAction(signaling.ActionCallStarted))
}

func (s *Supervisor) endPresence(ctx context.Context) error {
	if !s.inCall {
		return nil
	}
	s.inCall = false
	return s.send(ctx, signaling.NewAction(signaling.ActionCallEnded))
}

// send tags msg with the endpoint id. A message the channel cannot encode
// fails the local negotiation; any other failure means the channel is lost.
func (s *Supervisor) send(ctx context.Context, msg signaling.Message) error {
	msg.Endpoint = s.endpoint
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
	defer cancel()
	err := s.cfg.Channel.Send(sendCtx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, signaling.ErrMalformedMessage):
		return fmt.Errorf("%w: encode %s: %v", ErrTransportFailure, msg.Kind, err)
	default:
		return fmt.Errorf("%w: send %s: %v", ErrChannelLost, msg.Kind, err)
	}
}

// shutdown releases the Session when Run exits. The presence update uses a
// fresh context because the run context is already done.
func (s *Supervisor) shutdown() {
	s.cancelReconnect()
	s.closeSession()
	if s.inCall {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NegotiationTimeout)
		defer cancel()
		if err := s.endPresence(ctx); err != nil {
			s.log.Debug("presence update on shutdown failed", "err", err)
		}
	}
}

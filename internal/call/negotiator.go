package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/metrics"
	"github.com/Nikita-bot/MedianLink/internal/signaling"
)

func (s *Supervisor) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
}

// createAndSendOffer runs the offer half of negotiation on sess.
func (s *Supervisor) createAndSendOffer(ctx context.Context, sess *session) error {
	if !sess.signaling.canOffer() {
		return fmt.Errorf("%w: cannot offer in %s", ErrProtocolViolation, sess.signaling)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	offer, err := sess.peer.CreateOffer(opCtx)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrTransportFailure, err)
	}
	if err := sess.peer.SetLocalDescription(opCtx, offer); err != nil {
		return fmt.Errorf("%w: set local offer: %v", ErrTransportFailure, err)
	}
	sess.signaling = SignalingHaveLocalOffer
	sess.pending = &pendingOffer{gen: sess.gen, createdAt: s.cfg.Now()}

	msg := signaling.NewOffer(offer)
	msg.Generation = sess.gen
	msg.OfferedAt = sess.pending.createdAt.UnixMilli()
	if err := s.send(ctx, msg); err != nil {
		return err
	}
	s.metrics.Inc(metrics.OffersSent)
	s.log.Info("offer sent", "gen", sess.gen)
	return nil
}

func (s *Supervisor) handleSignal(ctx context.Context, msg signaling.Message) error {
	if msg.Endpoint != "" {
		if msg.Endpoint == s.endpoint {
			return fmt.Errorf("%w: message from own endpoint", ErrProtocolViolation)
		}
		if msg.Endpoint != s.peerEndpoint {
			s.log.Info("remote endpoint changed", "from", s.peerEndpoint, "to", msg.Endpoint)
			s.peerEndpoint = msg.Endpoint
			s.peerGeneration = 0
		}
		if msg.Generation != 0 && msg.Generation < s.peerGeneration {
			return fmt.Errorf("%w: %s for peer generation %d, peer is at %d", ErrStaleGeneration, msg.Kind, msg.Generation, s.peerGeneration)
		}
	}

	switch msg.Kind {
	case signaling.KindOffer:
		return s.handleRemoteOffer(ctx, msg)
	case signaling.KindAnswer:
		return s.handleRemoteAnswer(ctx, msg)
	case signaling.KindCandidate:
		return s.handleRemoteCandidate(ctx, msg)
	default:
		return nil
	}
}

func (s *Supervisor) handleRemoteOffer(ctx context.Context, msg signaling.Message) error {
	if err := validateDescription(msg.Description, webrtc.SDPTypeOffer); err != nil {
		return err
	}

	if sess := s.sess; sess != nil {
		switch {
		case sess.signaling == SignalingHaveLocalOffer:
			if !s.yieldsTo(sess.pending, msg) {
				s.metrics.Inc(metrics.GlareKept)
				s.log.Info("glare: keeping local offer", "gen", sess.gen, "remote_gen", msg.Generation)
				return nil
			}
			s.metrics.Inc(metrics.GlareYielded)
			s.log.Info("glare: yielding to remote offer", "gen", sess.gen, "remote_gen", msg.Generation)
			s.closeSession()
		case sess.hasRemote:
			if msg.Generation != 0 && msg.Generation == sess.remoteGen && msg.Endpoint == sess.remoteEndpoint {
				return fmt.Errorf("%w: duplicate offer for peer generation %d", ErrStaleGeneration, msg.Generation)
			}
			// Renegotiation is answered on the live transport; the local
			// generation only moves on reconnect.
			s.log.Info("remote renegotiating", "gen", sess.gen, "remote_gen", msg.Generation)
		}
	}

	sess := s.sess
	if sess == nil {
		var err error
		sess, err = s.newSession()
		if err != nil {
			return err
		}
		s.cancelReconnect()
		if err := s.startPresence(ctx); err != nil {
			return err
		}
	}
	return s.settle(ctx, sess, s.answerOffer(ctx, sess, msg))
}

// yieldsTo reports whether the local pending offer gives way to the remote
// one. Without remote tiebreak data the receiver always yields; otherwise the
// newer offer yields, with the larger endpoint id breaking exact ties.
func (s *Supervisor) yieldsTo(local *pendingOffer, remote signaling.Message) bool {
	if local == nil || remote.OfferedAt == 0 || remote.Endpoint == "" {
		return true
	}
	localAt := local.createdAt.UnixMilli()
	if localAt != remote.OfferedAt {
		return localAt > remote.OfferedAt
	}
	return s.endpoint > remote.Endpoint
}

func (s *Supervisor) answerOffer(ctx context.Context, sess *session, msg signaling.Message) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := sess.peer.SetRemoteDescription(opCtx, *msg.Description); err != nil {
		return fmt.Errorf("%w: set remote offer: %v", ErrTransportFailure, err)
	}
	sess.signaling = SignalingHaveRemoteOffer
	sess.setRemote(msg.Generation, msg.Endpoint)
	s.notePeerGeneration(msg)
	s.flushCandidates(opCtx, sess)

	answer, err := sess.peer.CreateAnswer(opCtx)
	if err != nil {
		return fmt.Errorf("%w: create answer: %v", ErrTransportFailure, err)
	}
	if err := sess.peer.SetLocalDescription(opCtx, answer); err != nil {
		return fmt.Errorf("%w: set local answer: %v", ErrTransportFailure, err)
	}
	sess.signaling = SignalingStable

	out := signaling.NewAnswer(answer)
	out.Generation = sess.gen
	out.Ack = msg.Generation
	if err := s.send(ctx, out); err != nil {
		return err
	}
	s.metrics.Inc(metrics.AnswersSent)
	s.log.Info("answer sent", "gen", sess.gen, "remote_gen", msg.Generation)
	return nil
}

func (s *Supervisor) handleRemoteAnswer(ctx context.Context, msg signaling.Message) error {
	sess := s.sess
	if sess == nil {
		return fmt.Errorf("%w: answer without a session", ErrStaleGeneration)
	}
	if msg.Ack != 0 && msg.Ack != sess.gen {
		return fmt.Errorf("%w: answer for generation %d, session is %d", ErrStaleGeneration, msg.Ack, sess.gen)
	}
	switch sess.signaling {
	case SignalingHaveLocalOffer:
	case SignalingStable:
		return ErrStaleAnswer
	default:
		return fmt.Errorf("%w: answer in %s", ErrProtocolViolation, sess.signaling)
	}
	if err := validateDescription(msg.Description, webrtc.SDPTypeAnswer); err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := sess.peer.SetRemoteDescription(opCtx, *msg.Description); err != nil {
		return s.settle(ctx, sess, fmt.Errorf("%w: set remote answer: %v", ErrTransportFailure, err))
	}
	sess.signaling = SignalingStable
	sess.pending = nil
	sess.setRemote(msg.Generation, msg.Endpoint)
	s.notePeerGeneration(msg)
	s.flushCandidates(opCtx, sess)
	s.log.Info("answer applied", "gen", sess.gen, "remote_gen", msg.Generation)
	return nil
}

func (s *Supervisor) handleRemoteCandidate(ctx context.Context, msg signaling.Message) error {
	sess := s.sess
	if sess == nil {
		return fmt.Errorf("%w: candidate without a session", ErrStaleGeneration)
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	applied, err := sess.candidates.enqueueOrApply(opCtx, msg.Candidate, msg.Generation)
	if err != nil {
		return err
	}
	if applied {
		s.metrics.Inc(metrics.CandidatesApplied)
	} else {
		s.metrics.Inc(metrics.CandidatesBuffered)
	}
	return nil
}

func (s *Supervisor) flushCandidates(ctx context.Context, sess *session) {
	res, err := sess.candidates.remoteApplied(ctx, sess.remoteGen)
	s.metrics.Add(metrics.CandidatesApplied, uint64(res.applied))
	s.metrics.Add(metrics.StaleDropped, uint64(res.dropped))
	if err != nil {
		s.metrics.Inc(metrics.ProtocolViolations)
		s.log.Warn("buffered candidates rejected", "gen", sess.gen, "err", err)
	}
	if res.applied > 0 || res.dropped > 0 {
		s.log.Debug("flushed candidates", "gen", sess.gen, "applied", res.applied, "dropped", res.dropped, "buffered", sess.candidates.buffered())
	}
}

func (s *Supervisor) notePeerGeneration(msg signaling.Message) {
	if msg.Endpoint != "" && msg.Endpoint == s.peerEndpoint && msg.Generation > s.peerGeneration {
		s.peerGeneration = msg.Generation
	}
}

var errMissingDescription = errors.New("missing session description")

// validateDescription parses desc so a malformed offer or answer is rejected
// before any Session state changes.
func validateDescription(desc *webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc == nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, errMissingDescription)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrProtocolViolation, want, desc.Type)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: malformed sdp: %v", ErrProtocolViolation, err)
	}
	return nil
}

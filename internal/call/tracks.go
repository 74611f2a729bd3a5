package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Nikita-bot/MedianLink/internal/config"
	"github.com/Nikita-bot/MedianLink/internal/metrics"
)

// TrackConfig bounds how long an inbound track may deliver only empty frames.
type TrackConfig struct {
	EmptyFrameBackoff    time.Duration
	EmptyFrameMaxBackoff time.Duration
	// MaxEmptyFrames consecutive empty frames fail the track. 0 means never.
	MaxEmptyFrames int
}

func TrackConfigFrom(cfg config.Config) TrackConfig {
	return TrackConfig{
		EmptyFrameBackoff:    cfg.TrackEmptyFrameBackoff,
		EmptyFrameMaxBackoff: cfg.TrackEmptyFrameMaxBackoff,
		MaxEmptyFrames:       cfg.TrackMaxEmptyFrames,
	}
}

func (c TrackConfig) withDefaults() TrackConfig {
	if c.EmptyFrameBackoff <= 0 {
		c.EmptyFrameBackoff = config.DefaultTrackEmptyFrameBackoff
	}
	if c.EmptyFrameMaxBackoff < c.EmptyFrameBackoff {
		c.EmptyFrameMaxBackoff = c.EmptyFrameBackoff
	}
	if c.MaxEmptyFrames < 0 {
		c.MaxEmptyFrames = 0
	}
	return c
}

// trackSupervisor runs one consumption loop per inbound audio track of a
// Session. onTrack is called from the dispatcher only; the loops report
// failures through failed.
type trackSupervisor struct {
	ctx     context.Context
	gen     uint64
	sink    Sink
	cfg     TrackConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	failed  func(trackID string, err error)
	wg      *sync.WaitGroup

	active map[string]struct{}
}

func newTrackSupervisor(ctx context.Context, gen uint64, sink Sink, cfg TrackConfig, log *slog.Logger, m *metrics.Metrics, wg *sync.WaitGroup, failed func(string, error)) *trackSupervisor {
	return &trackSupervisor{
		ctx:     ctx,
		gen:     gen,
		sink:    sink,
		cfg:     cfg,
		log:     log,
		metrics: m,
		failed:  failed,
		wg:      wg,
		active:  make(map[string]struct{}),
	}
}

// onTrack starts consuming track. It reports false for non-audio tracks and
// for tracks that already have a loop.
func (ts *trackSupervisor) onTrack(track Track) bool {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		ts.log.Debug("ignoring non-audio track", "gen", ts.gen, "track", track.ID(), "kind", track.Kind().String())
		return false
	}
	id := track.ID()
	if _, ok := ts.active[id]; ok {
		ts.log.Debug("track already consumed", "gen", ts.gen, "track", id)
		return false
	}
	ts.active[id] = struct{}{}

	ts.wg.Add(1)
	go ts.consume(id, track)
	return true
}

func (ts *trackSupervisor) consume(id string, track Track) {
	defer ts.wg.Done()

	log := ts.log.With("gen", ts.gen, "track", id)
	log.Info("consuming remote audio track")

	backoff := ts.cfg.EmptyFrameBackoff
	empty := 0
	for {
		pkt, err := track.ReadFrame()
		if ts.ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				ts.failed(id, ErrTrackEnded)
			} else {
				ts.failed(id, fmt.Errorf("%w: %v", ErrTrackEnded, err))
			}
			return
		}

		if pkt == nil || len(pkt.Payload) == 0 {
			empty++
			ts.metrics.Inc(metrics.TrackEmptyFrames)
			if ts.cfg.MaxEmptyFrames > 0 && empty >= ts.cfg.MaxEmptyFrames {
				ts.failed(id, fmt.Errorf("%w: %d consecutive empty frames", ErrTrackStalled, empty))
				return
			}
			if !sleepCtx(ts.ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > ts.cfg.EmptyFrameMaxBackoff {
				backoff = ts.cfg.EmptyFrameMaxBackoff
			}
			continue
		}

		empty = 0
		backoff = ts.cfg.EmptyFrameBackoff
		if ts.sink == nil {
			continue
		}
		if err := ts.sink.WriteFrame(id, pkt); err != nil {
			log.Debug("audio sink write failed", "err", err)
			continue
		}
		ts.metrics.Inc(metrics.TrackFramesForwarded)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	frameDuration = 20 * time.Millisecond
	trackID       = "audio"
	streamID      = "medianlink"
)

// opusSilence is a single 20ms opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Source produces the local audio track. Run pumps samples into it until ctx
// is done.
type Source interface {
	Track() webrtc.TrackLocal
	Run(ctx context.Context) error
}

func newOpusTrack() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: opusChannels},
		trackID, streamID,
	)
}

type SilenceSource struct {
	track *webrtc.TrackLocalStaticSample
	write func(media.Sample) error
}

func NewSilenceSource() (*SilenceSource, error) {
	track, err := newOpusTrack()
	if err != nil {
		return nil, fmt.Errorf("audio: new track: %w", err)
	}
	return &SilenceSource{track: track, write: track.WriteSample}, nil
}

func (s *SilenceSource) Track() webrtc.TrackLocal { return s.track }

func (s *SilenceSource) Run(ctx context.Context) error {
	tick := time.NewTicker(frameDuration)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := s.write(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				return fmt.Errorf("audio: write silence: %w", err)
			}
		}
	}
}

// OggSource plays an ogg/opus file in a loop, paced by page granule
// positions.
type OggSource struct {
	path  string
	track *webrtc.TrackLocalStaticSample
	write func(media.Sample) error
	log   *slog.Logger
}

func NewOggSource(path string, logger *slog.Logger) (*OggSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Fail early on a missing or non-ogg file.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open ogg input: %w", err)
	}
	_, _, err = oggreader.NewWith(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("audio: parse ogg input %q: %w", path, err)
	}

	track, err := newOpusTrack()
	if err != nil {
		return nil, fmt.Errorf("audio: new track: %w", err)
	}
	return &OggSource{path: path, track: track, write: track.WriteSample, log: logger.With("component", "audio")}, nil
}

func (s *OggSource) Track() webrtc.TrackLocal { return s.track }

func (s *OggSource) Run(ctx context.Context) error {
	for {
		if err := s.playOnce(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		s.log.Debug("ogg input looped", "path", s.path)
	}
}

func (s *OggSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("audio: open ogg input: %w", err)
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("audio: parse ogg input: %w", err)
	}

	tick := time.NewTicker(frameDuration)
	defer tick.Stop()

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("audio: read ogg page: %w", err)
		}

		samples := header.GranulePosition - lastGranule
		if header.GranulePosition < lastGranule {
			samples = 0
		}
		lastGranule = header.GranulePosition
		if samples == 0 {
			// Header pages carry no audio.
			continue
		}
		duration := time.Duration(samples) * time.Second / opusSampleRate
		if err := s.write(media.Sample{Data: page, Duration: duration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("audio: write sample: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

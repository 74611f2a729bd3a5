package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/Nikita-bot/MedianLink/internal/call"
)

const (
	opusSampleRate = 48000
	opusChannels   = 2
)

var errSinkClosed = errors.New("audio: sink closed")

// OggSink records every inbound opus frame into a single ogg stream.
type OggSink struct {
	mu     sync.Mutex
	w      *oggwriter.OggWriter
	closed bool
}

var _ call.Sink = (*OggSink)(nil)

// NewOggSink creates (or truncates) path.
func NewOggSink(path string) (*OggSink, error) {
	w, err := oggwriter.New(path, opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: open ogg output %q: %w", path, err)
	}
	return &OggSink{w: w}, nil
}

// NewOggSinkWriter writes the ogg stream to out.
func NewOggSinkWriter(out io.Writer) (*OggSink, error) {
	w, err := oggwriter.NewWith(out, opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: ogg writer: %w", err)
	}
	return &OggSink{w: w}, nil
}

func (s *OggSink) WriteFrame(_ string, pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	return s.w.WriteRTP(pkt)
}

func (s *OggSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

// DiscardSink drops inbound audio.
type DiscardSink struct{}

func (DiscardSink) WriteFrame(string, *rtp.Packet) error { return nil }

func (DiscardSink) Close() error { return nil }

package signaling

import (
	"context"
	"sync"
)

const pipeBuffer = 64

// PipeEnd is one side of an in-process Channel pair. Messages cross the pipe
// in wire format so both ends see exactly what a websocket peer would.
type PipeEnd struct {
	in  chan []byte
	out chan []byte

	closed     chan struct{}
	peerClosed chan struct{}
	closeOnce  sync.Once
}

// NewPipe returns two connected channel ends.
func NewPipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a := &PipeEnd{in: ba, out: ab, closed: aClosed, peerClosed: bClosed}
	b := &PipeEnd{in: ab, out: ba, closed: bClosed, peerClosed: aClosed}
	return a, b
}

func (p *PipeEnd) Send(ctx context.Context, msg Message) error {
	b, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return p.SendRaw(ctx, b)
}

// SendRaw delivers an already encoded frame, malformed or not.
func (p *PipeEnd) SendRaw(ctx context.Context, frame []byte) error {
	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peerClosed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-p.peerClosed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case <-p.closed:
		return Message{}, ErrClosed
	default:
	}
	// Frames queued before the peer closed are still delivered.
	select {
	case b := <-p.in:
		return DecodeMessage(b)
	default:
	}
	select {
	case b := <-p.in:
		return DecodeMessage(b)
	case <-p.closed:
		return Message{}, ErrClosed
	case <-p.peerClosed:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

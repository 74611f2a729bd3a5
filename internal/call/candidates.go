package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type bufferedCandidate struct {
	init    *webrtc.ICECandidateInit
	peerGen uint64
}

// candidateBuffer holds remote candidates of one Session until its remote
// description is applied. Candidates are tagged with the generation the
// remote peer sent them for; 0 means untagged and matches any description.
type candidateBuffer struct {
	peer Peer

	applied   bool
	remoteGen uint64
	pending   []bufferedCandidate
}

type flushResult struct {
	applied int
	dropped int
}

func newCandidateBuffer(peer Peer) *candidateBuffer {
	return &candidateBuffer{peer: peer}
}

// enqueueOrApply applies c right away when a matching remote description is
// in place and buffers it otherwise. peerGen is the generation the remote
// sent c for. It reports whether c was applied.
func (b *candidateBuffer) enqueueOrApply(ctx context.Context, c *webrtc.ICECandidateInit, peerGen uint64) (bool, error) {
	if b.applied {
		switch {
		case b.matches(peerGen):
			if err := b.peer.AddICECandidate(ctx, c); err != nil {
				return false, fmt.Errorf("%w: add candidate: %v", ErrProtocolViolation, err)
			}
			return true, nil
		case peerGen < b.remoteGen:
			return false, fmt.Errorf("%w: candidate for peer generation %d, description is %d", ErrStaleGeneration, peerGen, b.remoteGen)
		}
	}
	b.pending = append(b.pending, bufferedCandidate{init: c, peerGen: peerGen})
	return false, nil
}

func (b *candidateBuffer) matches(peerGen uint64) bool {
	return peerGen == 0 || b.remoteGen == 0 || peerGen == b.remoteGen
}

// remoteApplied records that the remote description tagged peerGen is now set
// and flushes the matching buffered candidates in arrival order. Older ones
// are dropped; newer ones stay buffered.
func (b *candidateBuffer) remoteApplied(ctx context.Context, peerGen uint64) (flushResult, error) {
	b.applied = true
	b.remoteGen = peerGen

	var res flushResult
	var errs []error
	kept := b.pending[:0]
	for _, c := range b.pending {
		switch {
		case b.matches(c.peerGen):
			if err := b.peer.AddICECandidate(ctx, c.init); err != nil {
				errs = append(errs, err)
				continue
			}
			res.applied++
		case c.peerGen < peerGen:
			res.dropped++
		default:
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(b.pending); i++ {
		b.pending[i] = bufferedCandidate{}
	}
	b.pending = kept

	if len(errs) > 0 {
		return res, fmt.Errorf("%w: flush candidates: %w", ErrProtocolViolation, errors.Join(errs...))
	}
	return res, nil
}

func (b *candidateBuffer) buffered() int {
	return len(b.pending)
}

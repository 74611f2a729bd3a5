package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type Kind int

const (
	KindOffer Kind = iota + 1
	KindAnswer
	KindCandidate
	KindAction
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	case KindAction:
		return "action"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action is a presence notification understood by the relay.
type Action string

const (
	ActionCallStarted Action = "call_started"
	ActionCallEnded   Action = "call_ended"
)

// Message is one decoded signaling frame.
type Message struct {
	Kind Kind

	// Description is set for offers and answers.
	Description *webrtc.SessionDescription
	// Candidate is set for candidate messages. A nil Candidate on a
	// KindCandidate message is the end-of-candidates marker.
	Candidate *webrtc.ICECandidateInit
	Action    Action

	// Generation is the sender's session generation, 0 when untagged.
	Generation uint64
	// Ack echoes the generation of the offer an answer responds to.
	Ack uint64
	// OfferedAt is the offer creation time in unix milliseconds.
	OfferedAt int64
	// Endpoint is the sender's random endpoint id.
	Endpoint string
}

func NewOffer(desc webrtc.SessionDescription) Message {
	return Message{Kind: KindOffer, Description: &desc}
}

func NewAnswer(desc webrtc.SessionDescription) Message {
	return Message{Kind: KindAnswer, Description: &desc}
}

// NewCandidate returns a candidate message. A nil c encodes as
// {"candidate": null}.
func NewCandidate(c *webrtc.ICECandidateInit) Message {
	return Message{Kind: KindCandidate, Candidate: c}
}

func NewAction(a Action) Message {
	return Message{Kind: KindAction, Action: a}
}

type sdp struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func sdpFromPion(desc webrtc.SessionDescription) sdp {
	return sdp{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s sdp) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func candidateFromPion(init webrtc.ICECandidateInit) candidate {
	return candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

type wireMessage struct {
	Offer     *sdp            `json:"offer,omitempty"`
	Answer    *sdp            `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Action    string          `json:"action,omitempty"`

	Gen      uint64 `json:"gen,omitempty"`
	Ack      uint64 `json:"ack,omitempty"`
	TS       int64  `json:"ts,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

var jsonNull = json.RawMessage("null")

// EncodeMessage renders m in the wire format. Errors wrap
// ErrMalformedMessage.
func EncodeMessage(m Message) ([]byte, error) {
	b, err := encodeMessage(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return b, nil
}

func encodeMessage(m Message) ([]byte, error) {
	w := wireMessage{
		Gen:      m.Generation,
		Ack:      m.Ack,
		TS:       m.OfferedAt,
		Endpoint: m.Endpoint,
	}
	switch m.Kind {
	case KindOffer, KindAnswer:
		if m.Description == nil || m.Description.SDP == "" {
			return nil, fmt.Errorf("%s message missing sdp", m.Kind)
		}
		s := sdpFromPion(*m.Description)
		if m.Kind == KindOffer {
			w.Offer = &s
		} else {
			w.Answer = &s
		}
	case KindCandidate:
		if m.Candidate == nil {
			w.Candidate = jsonNull
			break
		}
		b, err := json.Marshal(candidateFromPion(*m.Candidate))
		if err != nil {
			return nil, err
		}
		w.Candidate = b
	case KindAction:
		if m.Action == "" {
			return nil, fmt.Errorf("action message missing action")
		}
		w.Action = string(m.Action)
	default:
		return nil, fmt.Errorf("unsupported message kind %v", m.Kind)
	}
	return json.Marshal(w)
}

// DecodeMessage parses one wire frame. Unknown fields are ignored. Errors wrap
// ErrMalformedMessage.
func DecodeMessage(data []byte) (Message, error) {
	msg, err := decodeMessage(data)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

func decodeMessage(data []byte) (Message, error) {
	// Decoding into raw fields keeps {"candidate": null} distinguishable from
	// a frame without a candidate.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, err
	}

	var msg Message
	var payload string
	payloads := 0
	for _, key := range []string{"offer", "answer", "candidate", "action"} {
		if _, ok := fields[key]; ok {
			payload = key
			payloads++
		}
	}
	if payloads != 1 {
		return Message{}, fmt.Errorf("expected exactly one of offer, answer, candidate, action; got %d", payloads)
	}

	switch payload {
	case "offer":
		desc, err := decodeDescription(fields["offer"], "offer")
		if err != nil {
			return Message{}, err
		}
		msg.Kind = KindOffer
		msg.Description = &desc
	case "answer":
		desc, err := decodeDescription(fields["answer"], "answer")
		if err != nil {
			return Message{}, err
		}
		msg.Kind = KindAnswer
		msg.Description = &desc
	case "candidate":
		msg.Kind = KindCandidate
		raw := bytes.TrimSpace(fields["candidate"])
		if bytes.Equal(raw, jsonNull) {
			break
		}
		var c candidate
		if err := json.Unmarshal(raw, &c); err != nil {
			return Message{}, fmt.Errorf("candidate: %w", err)
		}
		// Browsers signal end-of-candidates with an empty candidate string too.
		if c.Candidate != "" {
			init := c.ToPion()
			msg.Candidate = &init
		}
	default:
		var action string
		if err := json.Unmarshal(fields["action"], &action); err != nil {
			return Message{}, fmt.Errorf("action: %w", err)
		}
		if action == "" {
			return Message{}, fmt.Errorf("action must not be empty")
		}
		msg.Kind = KindAction
		msg.Action = Action(action)
	}

	if err := decodeOptional(fields, "gen", &msg.Generation); err != nil {
		return Message{}, err
	}
	if err := decodeOptional(fields, "ack", &msg.Ack); err != nil {
		return Message{}, err
	}
	if err := decodeOptional(fields, "ts", &msg.OfferedAt); err != nil {
		return Message{}, err
	}
	if err := decodeOptional(fields, "endpoint", &msg.Endpoint); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func decodeDescription(raw json.RawMessage, want string) (webrtc.SessionDescription, error) {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return webrtc.SessionDescription{}, fmt.Errorf("%s must not be null", want)
	}
	var s sdp
	if err := json.Unmarshal(raw, &s); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", want, err)
	}
	if s.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%s message has sdp.type=%q", want, s.Type)
	}
	if s.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%s message missing sdp", want)
	}
	return s.ToPion()
}

func decodeOptional(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Package signaling carries offers, answers and ICE candidates between the two
// call endpoints.
//
// The wire format is a single JSON object per text frame holding exactly one
// of "offer", "answer", "candidate" or "action". Optional "gen", "ack", "ts"
// and "endpoint" fields tag messages with the sender's session generation and
// glare tiebreak data; peers that do not send them are still understood.
package signaling

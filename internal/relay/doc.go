// Package relay is the signaling hub that call endpoints connect to.
//
// Every text frame a client sends is forwarded verbatim to all other
// connected clients. Presence actions (call_started, call_ended) are consumed
// by the hub to maintain the active-caller count and are not forwarded.
package relay

// Package call negotiates and supervises a single peer-to-peer audio call.
//
// A Supervisor owns at most one Session. Control calls, signaling messages,
// engine callbacks, track failures and reconnect timers are all funneled into
// one bounded event queue and handled in order by Run, so Session state has a
// single writer. Each Session carries a generation number; events raised by a
// superseded Session are discarded when they reach the dispatcher.
//
// When the transport fails the Session is replaced by a new one that offers
// again. The first reconnect is immediate and consecutive ones back off
// exponentially until the call connects or MaxReconnectAttempts is reached.
package call

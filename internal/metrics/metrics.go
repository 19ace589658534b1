// Package metrics exposes lifecycle counters over expvar plus a small
// localhost debug server. No external metrics stack; /debug/vars is enough
// for a single-process fleet manager.
package metrics

import "expvar"

var (
	SessionsStarted   = expvar.NewInt("sessions_started")
	SessionsConnected = expvar.NewInt("sessions_connected")
	ConnectFailures   = expvar.NewInt("connect_failures")
	ReconnectAttempts = expvar.NewInt("reconnect_attempts")
	SessionsErrored   = expvar.NewInt("sessions_errored")
	EventsEmitted     = expvar.NewInt("events_emitted")
	EventsDropped     = expvar.NewInt("events_dropped")
)

// Package bridge is the request/response surface over the worker process.
//
// A Bridge combines a supervisor (process lifecycle), a correlation table
// (pending requests by id) and the line protocol. Callers use Send, or the
// ScanNFC/Login pass-throughs, and read connection health with Status.
//
// Request path:
//   - uuid identifier, encoded as one JSON line
//   - registered in the table before the line is written
//   - write failure resolves that request only
//
// Outcomes, all delivered through the same per-request channel:
//   - reply with ok:true   -> Response
//   - reply with ok:false  -> Response (Response.Err returns *protocol.WorkerError)
//   - no reply in time     -> *correlate.TimeoutError ("Request timeout for <type>")
//   - worker exit          -> ErrWorkerExited
//   - no worker            -> ErrNotRunning, nothing sent
//
// Health:
//   - checking until the SET_PID handshake completes after Start
//   - healthy with the worker's message on success
//   - unhealthy with the failure message, or "worker exited" on exit
//
// The handshake is not retried; Restart starts a new worker and handshake.
package bridge

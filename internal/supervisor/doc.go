// Package supervisor owns the lifecycle of the long-lived worker process.
//
// A Supervisor holds at most one worker at a time. Start spawns it with piped
// standard streams; Stop terminates it. The worker's output is split into
// lines: stdout lines go to the OnLine hook (the protocol path), stderr lines
// are logged as diagnostics and never parsed. Lines over
// protocol.MaxLineBytes are dropped and reading continues.
//
// State machine:
//
//	Stopped -> Starting -> Running -> Stopped
//	                          |
//	                          +-> Crashed -> Stopped   (unrequested exit)
//
// Exit detection:
//   - Every exit (clean, signal, crash) is observed by a single waiter
//     goroutine per process, keyed on the process and not on its pipes
//   - Output already in the pipes gets a short drain window; after it the
//     pipes are closed even if a child of the worker still holds them
//   - The handle is cleared first, so Write fails with ErrNotRunning
//   - OnExit runs next, synchronously; a new Start blocks until it returns
//
// Termination:
//   - Stop sends SIGTERM, waits GracePeriod, then sends SIGKILL
//   - Stop returns once exit detection has completed
//   - Stop never touches pending requests; that belongs to OnExit
package supervisor

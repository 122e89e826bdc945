// Package dispatch drains engine requests on the host thread, validates them
// against the current host-loop phase, executes the registered handler and
// sends back exactly one correlated RESPONSE per request.
//
// Requests are enqueued by the transport read goroutine into one of the two
// per-session queues and popped only by the host integrator.
//
// Key features:
//   - Two FIFO queues: UpdateTicking and UpdateTicked (also drained by the
//     unvalidated phase)
//   - Cooperative per-phase time budget (default 5ms); a non-empty queue
//     always makes progress by at least one request
//   - Unvalidated-phase allow-list; anything else is refused without running
//     its handler
//   - Handler errors and panics captured into {value: diagnostic, error: kind}
//   - REQUEST_BATCH executes sub-requests under the same phase rules
//
// Error kinds:
//   - STACK_TRACE     handler returned an error
//   - UNSAFE_REQUEST  request type not allowed in the unvalidated phase
//   - UNKNOWN_REQUEST no handler registered for the type
//   - PANIC           handler panicked; diagnostic carries the stack
package dispatch

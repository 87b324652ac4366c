package motionrecorder

import "context"

// Recorder defines the contract of a motion-triggered recorder.
//
// Implementations must guarantee:
//   - Start() blocks until the pipeline is PLAYING or fails
//   - Stop() is idempotent and finalizes an active recording
//   - Transport and thumbnail output never stop while branches come and go
//   - every method is safe to call from any goroutine
type Recorder interface {
	// Start brings the pipeline to PLAYING.
	//
	// Returns an error if the state change is refused or not confirmed within
	// the state timeout. A failed start leaves the recorder STOPPED and it can
	// be started again.
	Start(ctx context.Context) error

	// Stop interrupts the pipeline and returns it to STOPPED.
	//
	// A recording in progress is finalized first so the file is playable.
	// Safe to call multiple times. If the recorder is not running, returns
	// nil immediately.
	Stop(ctx context.Context) error

	// ActivateTCPClient attaches an outbound TCP branch keyed by req.Port
	// while the pipeline runs. Host and encoder default to the egress
	// configuration.
	//
	// Returns an error wrapping ErrKeyExists when the port already has a
	// branch. A failed attach leaves nothing behind in the graph.
	ActivateTCPClient(ctx context.Context, req BranchRequest) error

	// DeactivateTCPClient detaches the branch for port. Unknown ports are a
	// no-op.
	DeactivateTCPClient(ctx context.Context, port int) error

	// Diagnostics reads the current graph.
	Diagnostics() Diagnostics

	// Stats returns cumulative counters.
	Stats() Stats

	// Subscribe delivers events to ch. Events that do not fit in ch are
	// dropped for that subscriber only.
	Subscribe(id string, ch chan<- Event) error

	// Unsubscribe stops deliveries to id.
	Unsubscribe(id string) error
}

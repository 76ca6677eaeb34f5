// Package constants holds timing knobs the bridge shares across packages.
package constants

import "time"

const (
	// ShutdownTimeout is the maximum time to wait for in-flight requests
	// during graceful shutdown. Blocked hook waits are not drained; their
	// rendezvous channels observe cancellation instead.
	ShutdownTimeout = 30 * time.Second

	// QueueDrainPause separates consecutive queue sends so each Agent run
	// resumes from the session id the previous run persisted.
	QueueDrainPause = 500 * time.Millisecond

	// TaskKillDeadline is how quickly a cancelled task's child process must
	// be gone. The kill is unconditional; there is no graceful path.
	TaskKillDeadline = 100 * time.Millisecond
)

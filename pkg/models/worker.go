package models

import "time"

// Worker liveness states tracked by the coordinator.
const (
	WorkerAlive = "ALIVE"
	WorkerLost  = "LOST"
)

// Worker is a registration record for one worker process. It is owned
// exclusively by the coordinator and destroyed on deregister or timeout.
// Seq is a stable registration sequence number used as the deterministic
// scheduling tie-break.
type Worker struct {
	Identity      string    `json:"identity"`
	Capacity      int       `json:"capacity"`
	InFlight      int       `json:"in_flight"`
	Seq           uint64    `json:"seq"`
	State         string    `json:"state"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Free returns the number of unoccupied execution slots.
func (w *Worker) Free() int {
	free := w.Capacity - w.InFlight
	if free < 0 {
		return 0
	}
	return free
}

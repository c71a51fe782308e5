package models

import "time"

// RunStatus is the terminal state of one replica.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ReplicaRun records the outcome of one replica of a dump run.
type ReplicaRun struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Replica    int       `json:"replica"`
	Endpoint   string    `json:"endpoint"`
	Output     string    `json:"output"`
	Status     RunStatus `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	HTTPStatus *int      `json:"http_status,omitempty"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

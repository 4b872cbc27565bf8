// Package jobs tracks long-running generation jobs on external backends.
// Submissions the backend rejects for recoverable reasons (billing, rate
// limits, unreachable host) are replaced by simulated local jobs so the
// polling flow keeps working end to end.
package jobs

import "fmt"

// State is the lifecycle state of an async job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether no further state changes can occur.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Kind tags what the job produces.
type Kind string

const (
	KindMesh  Kind = "mesh"
	KindVideo Kind = "video"
	KindBatch Kind = "batch"
)

// AsyncJobStatus is a point-in-time snapshot of a job. Progress is 0-100,
// monotonic while running, and exactly 100 only when the job succeeded.
type AsyncJobStatus struct {
	ID         string            `json:"task_id"`
	Kind       Kind              `json:"kind"`
	State      State             `json:"status"`
	Progress   int               `json:"progress"`
	ResultURLs map[string]string `json:"result_urls,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

// UnknownTaskError reports a task ID with no registry entry and no upstream
// record.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %s", e.ID)
}

// NotTerminalError reports a result fetch for a job that is still running.
type NotTerminalError struct {
	ID    string
	State State
}

func (e *NotTerminalError) Error() string {
	return fmt.Sprintf("task %s is not finished (state %s)", e.ID, e.State)
}

// SubmissionError reports a submission the backend rejected terminally.
type SubmissionError struct {
	Kind       Kind
	StatusCode int
	Detail     string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s submission rejected with status %d: %s", e.Kind, e.StatusCode, e.Detail)
}

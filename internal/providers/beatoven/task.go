package beatoven

import "strings"

// TaskState is the normalized lifecycle of a generation task.
type TaskState string

const (
	TaskQueued  TaskState = "queued"
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// Terminal reports whether polling can stop.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// mapStatus normalizes provider status strings. Unknown statuses count as
// running so polling continues until the attempt bound.
func mapStatus(status string) TaskState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "started", "queued", "pending":
		return TaskQueued
	case "composing", "running", "processing":
		return TaskRunning
	case "composed", "completed", "done":
		return TaskDone
	case "failed", "error":
		return TaskFailed
	default:
		return TaskRunning
	}
}

// TaskStatus is one observation of a task.
type TaskStatus struct {
	TaskID   string
	State    TaskState
	Raw      string
	TrackURL string
}

// Package task contains the work-unit model and the orchestrator that
// decides where each task runs, executes or forwards it, and reports
// terminal outcomes back to the task's origin.
package task

import jsoniter "github.com/json-iterator/go"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the lifecycle state of a task in the shared task list.
type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusInExecution Status = "IN_EXECUTION"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
)

// Hop outcomes returned by the execute edge when a task was passed on
// instead of finishing here.
const (
	OutcomeReforwardedOnError   = "REFORWARDED_ON_ERROR"   // local execution crashed
	OutcomeReforwardedOnFailure = "REFORWARDED_ON_FAILURE" // chosen peer was unreachable
)

// Reserved payload fields. They ride inside the payload so they survive
// every hop without a wire-format change.
const (
	retryField  = "_retry"
	originField = "origin"
)

// Task is one unit of work. Payload is opaque to the fabric except for
// the reserved fields above.
type Task struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Retry returns the hop counter carried in the payload (zero when
// absent or ill-typed).
func (t *Task) Retry() int {
	switch v := t.Payload[retryField].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// SetRetry stores the hop counter, allocating the payload if needed.
func (t *Task) SetRetry(n int) {
	if t.Payload == nil {
		t.Payload = make(map[string]any)
	}
	t.Payload[retryField] = n
}

// Origin returns the URL of the node that first accepted this task
// from a client ("" when not yet stamped).
func (t *Task) Origin() string {
	s, _ := t.Payload[originField].(string)
	return s
}

// SetOrigin stamps the origin URL into the payload.
func (t *Task) SetOrigin(url string) {
	if t.Payload == nil {
		t.Payload = make(map[string]any)
	}
	t.Payload[originField] = url
}

// Result is the terminal-outcome notification POSTed to the origin's
// /resultados endpoint.
type Result struct {
	TaskID string         `json:"task_id"`
	Status Status         `json:"status"`
	Detail map[string]any `json:"detail"`
}

// Message is the generic inter-node unit handled at /mensajes.
// Destination is a node name; a receiver discards messages addressed to
// someone else.
type Message struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Payload     map[string]any `json:"payload"`
	TS          float64        `json:"ts"`
}

// Entry is one row of the shared task list stored under the "tareas"
// key in the replicated KV view.
type Entry struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Status  Status         `json:"status"`
}

// TaskListKey is the well-known KV key holding the task list.
const TaskListKey = "tareas"

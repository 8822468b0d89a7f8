package task

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"compute-fabric/internal/cluster"
	"compute-fabric/internal/metrics"
	"compute-fabric/internal/store"
)

// DefaultMaxRetries bounds how many hops a task may take before it
// fails terminally.
const DefaultMaxRetries = 2

// Outbound timeouts. Delegating a task to a peer waits for the peer to
// actually run it; everything else is fan-out traffic on the short
// budget.
const (
	forwardTimeout = 10 * time.Second
	notifyTimeout  = 2 * time.Second
)

// Response is the execute edge's reply. When Raw is non-nil it is a
// peer's response relayed verbatim; otherwise Body is encoded as JSON.
type Response struct {
	Raw  []byte
	Body map[string]any
}

// Orchestrator ties the fabric together: it accepts tasks, consults the
// scheduler, executes locally or forwards, retries on failure with a
// bounded hop count, keeps the shared task list current, and notifies
// the origin of terminal outcomes.
type Orchestrator struct {
	name  string
	url   string
	sched *cluster.Scheduler
	table *cluster.Table
	kv    *store.Store
	goss  *cluster.Gossiper
	exec  *Executor
	reg   *metrics.Registry

	maxRetries    int
	forwardClient *http.Client
	notifyClient  *http.Client
}

// NewOrchestrator wires an Orchestrator for the node name/selfURL.
func NewOrchestrator(name, selfURL string, sched *cluster.Scheduler, table *cluster.Table,
	kv *store.Store, goss *cluster.Gossiper, exec *Executor, reg *metrics.Registry) *Orchestrator {

	return &Orchestrator{
		name:          name,
		url:           selfURL,
		sched:         sched,
		table:         table,
		kv:            kv,
		goss:          goss,
		exec:          exec,
		reg:           reg,
		maxRetries:    DefaultMaxRetries,
		forwardClient: &http.Client{Timeout: forwardTimeout},
		notifyClient:  &http.Client{Timeout: notifyTimeout},
	}
}

// SetMaxRetries overrides the retry bound. Call before serving.
func (o *Orchestrator) SetMaxRetries(n int) {
	o.maxRetries = n
}

// ─── Submission edge (/tareas) ────────────────────────────────────────────────

// Submit appends t to the shared task list as SUBMITTED, gossips the
// new list, and returns the list's new version. The accepting node is
// the task's origin, so it is stamped here before the task can travel.
func (o *Orchestrator) Submit(t Task) int {
	o.reg.Inc("tasks_received", 1)
	if t.Origin() == "" {
		t.SetOrigin(o.url)
	}

	entries := o.taskList()
	entries = append(entries, Entry{ID: t.ID, Type: t.Type, Payload: t.Payload, Status: StatusSubmitted})
	version := o.kv.Put(TaskListKey, entries)
	o.goss.Gossip(o.table.Snapshot())
	return version
}

// ─── Execute edge (/tareas/ejecutar) ──────────────────────────────────────────

// Execute runs the per-task state machine for one hop and returns what
// this node answers to whoever sent the task here.
func (o *Orchestrator) Execute(t Task) Response {
	// First hop: stamp the origin before any decision so every later
	// hop notifies the right node.
	if t.Origin() == "" {
		t.SetOrigin(o.url)
	}
	retry := t.Retry()
	origin := t.Origin()

	if retry > o.maxRetries {
		o.reg.Inc("tasks_exhausted", 1)
		o.finishTask(t.ID, StatusFailed)
		o.notifyOrigin(origin, t.ID, StatusFailed, map[string]any{"error": "retry limit"})
		return Response{Body: map[string]any{"status": StatusFailed, "error": "retry limit"}}
	}

	neighbors := o.table.Snapshot()
	decision := o.sched.ChooseExecutor(neighbors)

	switch {
	case decision.Self:
		return o.executeHere(t, origin, retry, neighbors)
	case decision.URL != "":
		return o.delegate(t, origin, retry, decision.URL, neighbors)
	default:
		o.finishTask(t.ID, StatusFailed)
		o.notifyOrigin(origin, t.ID, StatusFailed, map[string]any{"error": "no executor available"})
		return Response{Body: map[string]any{"status": StatusFailed, "error": "no executor available"}}
	}
}

// executeHere runs the task on this node. A crashing workload bumps the
// retry counter and hands the task to a random peer other than self.
func (o *Orchestrator) executeHere(t Task, origin string, retry int, neighbors []cluster.Neighbor) Response {
	o.setTaskStatus(t.ID, StatusInExecution)

	result, err := o.exec.Execute(t)
	if err == nil {
		o.finishTask(t.ID, StatusCompleted)
		if origin != o.url {
			o.notifyOrigin(origin, t.ID, StatusCompleted, result)
		}
		return Response{Body: map[string]any{"status": StatusCompleted, "result": result}}
	}

	o.reg.Inc("tasks_failed", 1)
	log.Printf("[%s] task %s failed locally: %v", o.name, t.ID, err)

	t.SetRetry(retry + 1)
	fallback := pickRandom(neighbors, o.url)
	if fallback == "" {
		o.finishTask(t.ID, StatusFailed)
		o.notifyOrigin(origin, t.ID, StatusFailed, map[string]any{"error": "no alternative peers"})
		return Response{Body: map[string]any{"status": StatusFailed, "error": "no alternative peers"}}
	}

	if _, err := o.forward(fallback, t, forwardTimeout); err != nil {
		o.finishTask(t.ID, StatusFailed)
		o.notifyOrigin(origin, t.ID, StatusFailed, map[string]any{"error": "all nodes failed"})
		return Response{Body: map[string]any{"status": StatusFailed, "error": "all nodes failed"}}
	}
	return Response{Body: map[string]any{"status": OutcomeReforwardedOnError, "to": fallback}}
}

// delegate forwards the task to the scheduler's chosen peer and relays
// its answer verbatim. If the peer fails, one random alternative gets
// the task with a bumped retry counter.
func (o *Orchestrator) delegate(t Task, origin string, retry int, peerURL string, neighbors []cluster.Neighbor) Response {
	body, err := o.forward(peerURL, t, forwardTimeout)
	if err == nil {
		return Response{Raw: body}
	}
	o.reg.Inc("forward_failures", 1)

	t.SetRetry(retry + 1)
	alt := pickRandom(neighbors, peerURL)
	if alt == "" {
		o.finishTask(t.ID, StatusFailed)
		o.notifyOrigin(origin, t.ID, StatusFailed, map[string]any{"error": "no alternative peers"})
		return Response{Body: map[string]any{"status": StatusFailed, "error": "no alternative peers"}}
	}

	if _, err := o.forward(alt, t, forwardTimeout); err != nil {
		o.finishTask(t.ID, StatusFailed)
		o.notifyOrigin(origin, t.ID, StatusFailed, map[string]any{"error": "all nodes failed"})
		return Response{Body: map[string]any{"status": StatusFailed, "error": "all nodes failed"}}
	}
	return Response{Body: map[string]any{"status": OutcomeReforwardedOnFailure, "to": alt}}
}

// ─── Result edge (/resultados) ────────────────────────────────────────────────

// HandleResult records a terminal outcome reported back to this origin
// node and updates the shared task list.
func (o *Orchestrator) HandleResult(r Result) {
	o.reg.Inc("results_received", 1)
	log.Printf("[%s] result for task %s: %s", o.name, r.TaskID, r.Status)
	if r.Status == StatusCompleted || r.Status == StatusFailed {
		o.finishTask(r.TaskID, r.Status)
	}
}

// ─── Message edge (/mensajes) ─────────────────────────────────────────────────

// HandleMessage dispatches one inter-node message. Rejections are
// application-level: the HTTP layer answers 200 either way.
func (o *Orchestrator) HandleMessage(m Message) map[string]any {
	if m.Destination != o.name {
		return map[string]any{"ok": false, "reason": "wrong destination"}
	}
	switch m.Type {
	case "ping":
		return map[string]any{"ok": true, "respuesta": "pong"}
	case "gradient":
		o.kv.Put("gradient_"+m.ID, m.Payload)
		return map[string]any{"ok": true}
	default:
		return map[string]any{"ok": false, "reason": "unsupported type"}
	}
}

// SendMessage delivers one message to a peer, addressed to the node
// name embedded in its URL's host. Delivery failures are counted and
// swallowed.
func (o *Orchestrator) SendMessage(destURL, msgType string, payload map[string]any) {
	dest := destURL
	if u, err := url.Parse(destURL); err == nil && u.Hostname() != "" {
		dest = u.Hostname()
	}
	m := Message{
		ID:          uuid.NewString(),
		Type:        msgType,
		Source:      o.url,
		Destination: dest,
		Payload:     payload,
		TS:          float64(time.Now().UnixNano()) / 1e9,
	}
	if err := o.post(destURL+"/mensajes", m, notifyTimeout, nil); err != nil {
		o.reg.Inc("messages_failed", 1)
	}
}

// ─── Task-list bookkeeping ────────────────────────────────────────────────────

// taskList decodes the shared list from the KV view. The list may have
// arrived via gossip, in which case entries are generic JSON maps; a
// round trip through the codec normalizes both shapes.
func (o *Orchestrator) taskList() []Entry {
	raw, ok := o.kv.Get(TaskListKey)
	if !ok {
		return nil
	}
	data, err := codec.Marshal(raw)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

// setTaskStatus rewrites the list with the given task's status changed,
// then gossips the new version. Unknown IDs are a no-op: the task
// reached this node without passing through /tareas here, and its
// origin keeps the authoritative row.
func (o *Orchestrator) setTaskStatus(id string, status Status) {
	entries := o.taskList()
	changed := false
	for i := range entries {
		if entries[i].ID == id && entries[i].Status != status {
			entries[i].Status = status
			changed = true
		}
	}
	if !changed {
		return
	}
	o.kv.Put(TaskListKey, entries)
	o.goss.Gossip(o.table.Snapshot())
}

// finishTask records a terminal status.
func (o *Orchestrator) finishTask(id string, status Status) {
	o.setTaskStatus(id, status)
}

// ─── Outbound HTTP ────────────────────────────────────────────────────────────

// forward POSTs the task to a peer's execute edge and returns the
// peer's body on HTTP 200. Any other status is an error: the receiving
// node answers 200 even for application-level failures, so a non-200
// means the hop itself broke.
func (o *Orchestrator) forward(peerURL string, t Task, timeout time.Duration) ([]byte, error) {
	var body []byte
	err := o.post(peerURL+"/tareas/ejecutar", t, timeout, &body)
	return body, err
}

// notifyOrigin reports a terminal outcome to the origin node. A node
// never notifies itself, and delivery failure is swallowed — the
// outcome already lives in the gossiped task list.
func (o *Orchestrator) notifyOrigin(origin, taskID string, status Status, detail map[string]any) {
	if origin == "" || origin == o.url {
		return
	}
	r := Result{TaskID: taskID, Status: status, Detail: detail}
	if err := o.post(origin+"/resultados", r, notifyTimeout, nil); err != nil {
		o.reg.Inc("notify_failures", 1)
	}
}

// post sends one JSON body; when out is non-nil the response body is
// returned through it. Only 2xx counts as success, and when a body is
// read back only 200 does.
func (o *Orchestrator) post(u string, payload any, timeout time.Duration, out *[]byte) error {
	data, err := codec.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := o.notifyClient
	if timeout >= forwardTimeout {
		client = o.forwardClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
	}
	if out != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*out = b
	}
	return nil
}

// pickRandom selects a uniformly random neighbor URL, excluding the
// given one. Returns "" when no alternative exists.
func pickRandom(neighbors []cluster.Neighbor, exclude string) string {
	var urls []string
	for _, n := range neighbors {
		if n.URL != "" && n.URL != exclude {
			urls = append(urls, n.URL)
		}
	}
	if len(urls) == 0 {
		return ""
	}
	return urls[rand.IntN(len(urls))]
}

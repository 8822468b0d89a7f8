// Package client is the Go SDK for talking to a fabric node.
//
// The client talks to a single node; that node coordinates with the
// rest of the fabric on its own (scheduling, forwarding, gossip). The
// SDK only hides HTTP plumbing and error mapping.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"compute-fabric/internal/task"
)

// Client represents a connection to one fabric node.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL (e.g. "http://localhost:8100").
// A zero timeout defaults to 10 s — never call the network without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Estado is a node's identity and current load.
type Estado struct {
	Name string  `json:"name"`
	URL  string  `json:"url"`
	Load float64 `json:"load"`
}

// SubmitResponse is returned after enqueuing a task: the new version of
// the shared task list.
type SubmitResponse struct {
	OK      bool `json:"ok"`
	Version int  `json:"version"`
}

// SubmitTask enqueues t on the node's task list (POST /tareas).
func (c *Client) SubmitTask(ctx context.Context, t task.Task) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.post(ctx, "/tareas", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteTask hands t to the node's orchestrator edge
// (POST /tareas/ejecutar) and returns the outcome object as-is: the
// shape depends on where the task ended up.
func (c *Client) ExecuteTask(ctx context.Context, t task.Task) (map[string]any, error) {
	var out map[string]any
	if err := c.post(ctx, "/tareas/ejecutar", t, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NodeEstado fetches the node's identity and load (GET /estado).
func (c *Client) NodeEstado(ctx context.Context) (*Estado, error) {
	var out Estado
	if err := c.get(ctx, "/estado", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KVState fetches the node's full replicated snapshot
// (GET /kv/estado_completo).
func (c *Client) KVState(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "/kv/estado_completo", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Metrics fetches the node's text metrics export.
func (c *Client) Metrics(ctx context.Context) (string, error) {
	return c.GetRaw(ctx, "/metrics")
}

// SendMessage posts one inter-node message to the node's /mensajes
// edge and returns the application-level verdict.
func (c *Client) SendMessage(ctx context.Context, m task.Message) (map[string]any, error) {
	var out map[string]any
	if err := c.post(ctx, "/mensajes", m, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ─── Transport helpers ────────────────────────────────────────────────────────

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// ErrNotFound is returned when the node has no value for the request.
var ErrNotFound = fmt.Errorf("not found")

// APIError carries the HTTP status and the error message from the node.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts HTTP error responses into Go errors: 2xx is
// success, anything else becomes an APIError with the node's
// {"error": "..."} message when one is present.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

package task

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"compute-fabric/internal/cluster"
	"compute-fabric/internal/metrics"
)

// Workload is an opaque pure function plugged into the executor: it
// receives the task payload and returns a JSON-representable result.
// The fabric never inspects what a workload computes — it only counts
// it as load while it runs.
type Workload func(payload map[string]any) (map[string]any, error)

// Executor runs workloads locally and owns the in-flight load counter
// that discovery advertises and the scheduler reads.
type Executor struct {
	reg       *metrics.Registry
	inflight  atomic.Int64
	workloads map[string]Workload
}

// NewExecutor creates an Executor with the built-in workloads
// registered. Additional workloads may be registered before the node
// starts serving; the registry is not mutated afterwards.
func NewExecutor(reg *metrics.Registry) *Executor {
	e := &Executor{
		reg:       reg,
		workloads: make(map[string]Workload),
	}
	e.Register("regresion_lineal", LinearRegression)
	return e
}

// Register binds a workload to a task type. Not safe to call once the
// node is serving requests.
func (e *Executor) Register(taskType string, w Workload) {
	e.workloads[taskType] = w
}

// Load implements cluster.LoadProvider: the number of tasks currently
// executing on this node.
func (e *Executor) Load() float64 {
	return float64(e.inflight.Load())
}

var _ cluster.LoadProvider = (*Executor)(nil)

// Execute runs the workload for t and returns its result. The load
// counter is incremented on entry and released on every exit path; the
// duration is observed in milliseconds either way.
//
// An unknown task type is not an error: it yields an explanatory
// result, matching the contract that only a crashing workload triggers
// the failover path.
func (e *Executor) Execute(t Task) (map[string]any, error) {
	e.inflight.Add(1)
	start := time.Now()
	defer func() {
		e.reg.Observe("duracion_ms", float64(time.Since(start).Microseconds())/1000.0)
		e.inflight.Add(-1)
	}()

	w, ok := e.workloads[t.Type]
	if !ok {
		return map[string]any{
			"mensaje": fmt.Sprintf("tipo de tarea no reconocido: %s", t.Type),
		}, nil
	}
	return w(t.Payload)
}

// Federated builds the federated-learning workload: build a zero
// gradient shaped like the model in the payload (no other payload field
// is read) and push it to every neighbor
// acting as a coordinator (by naming convention, a name containing
// "coordinador"). neighbors supplies the current snapshot; send
// delivers one message and is allowed to fail silently.
func Federated(neighbors func() []cluster.Neighbor, send func(url, msgType string, payload map[string]any)) Workload {
	return func(payload map[string]any) (map[string]any, error) {
		model, ok := payload["modelo"]
		if !ok {
			return nil, fmt.Errorf("payload has no modelo")
		}
		grad := zeroLike(model)

		for _, n := range neighbors() {
			if strings.Contains(n.Name, "coordinador") {
				send(n.URL, "gradient", map[string]any{"grad": grad})
			}
		}
		return map[string]any{"estado": "gradiente_enviado"}, nil
	}
}

// zeroLike mirrors the shape of a JSON value with zeros: nested arrays
// keep their structure, every scalar becomes 0.
func zeroLike(v any) any {
	if arr, ok := v.([]any); ok {
		out := make([]any, len(arr))
		for i, el := range arr {
			out[i] = zeroLike(el)
		}
		return out
	}
	return 0.0
}

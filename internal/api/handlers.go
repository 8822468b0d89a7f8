// Package api wires up the Gin HTTP router with all handler functions.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"compute-fabric/internal/metrics"
	"compute-fabric/internal/store"
	"compute-fabric/internal/task"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	name string
	url  string

	kv   *store.Store
	orc  *task.Orchestrator
	exec *task.Executor
	reg  *metrics.Registry
}

// NewHandler creates a Handler for the node identified by name/url.
func NewHandler(name, url string, kv *store.Store, orc *task.Orchestrator,
	exec *task.Executor, reg *metrics.Registry) *Handler {

	return &Handler{name: name, url: url, kv: kv, orc: orc, exec: exec, reg: reg}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/estado", h.Estado)
	r.GET("/metrics", h.Metrics)

	r.POST("/tareas", h.SubmitTask)
	r.POST("/tareas/ejecutar", h.ExecuteTask)
	r.POST("/resultados", h.Result)
	r.POST("/mensajes", h.Mensaje)

	kv := r.Group("/kv")
	kv.POST("/sync", h.KVSync)
	kv.GET("/estado_completo", h.KVEstado)
}

// ─── Node state ───────────────────────────────────────────────────────────────

// Estado handles GET /estado — identity plus current load.
func (h *Handler) Estado(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name": h.name,
		"url":  h.url,
		"load": h.exec.Load(),
	})
}

// Metrics handles GET /metrics with the registry's text export.
func (h *Handler) Metrics(c *gin.Context) {
	c.String(http.StatusOK, h.reg.Export())
}

// ─── Tasks ────────────────────────────────────────────────────────────────────

// SubmitTask handles POST /tareas: enqueue into the shared task list
// and trigger gossip.
func (h *Handler) SubmitTask(c *gin.Context) {
	var t task.Task
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	version := h.orc.Submit(t)
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": version})
}

// ExecuteTask handles POST /tareas/ejecutar — the orchestrator edge.
// Application-level failures (retry exhaustion, no peers) still answer
// 200; the status field carries the outcome.
func (h *Handler) ExecuteTask(c *gin.Context) {
	var t task.Task
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := h.orc.Execute(t)
	if resp.Raw != nil {
		c.Data(http.StatusOK, "application/json", resp.Raw)
		return
	}
	c.JSON(http.StatusOK, resp.Body)
}

// Result handles POST /resultados — terminal outcomes reported back to
// this node as a task origin.
func (h *Handler) Result(c *gin.Context) {
	var r task.Result
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.orc.HandleResult(r)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Mensaje handles POST /mensajes.
func (h *Handler) Mensaje(c *gin.Context) {
	var m task.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.orc.HandleMessage(m))
}

// ─── KV replication ───────────────────────────────────────────────────────────

// KVSync handles POST /kv/sync: merge a peer's snapshot.
func (h *Handler) KVSync(c *gin.Context) {
	var snap map[string]store.Record
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.kv.Merge(snap)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// KVEstado handles GET /kv/estado_completo with the full snapshot.
func (h *Handler) KVEstado(c *gin.Context) {
	c.JSON(http.StatusOK, h.kv.Snapshot())
}

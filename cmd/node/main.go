// cmd/node is the entrypoint for one fabric node.
//
// Every node is the same binary with the same role: it discovers peers
// on the LAN over multicast, shares the replicated key-value view, and
// accepts, schedules, executes, or forwards tasks. There is no
// coordinator to point it at.
//
// Configuration is flags with environment fallbacks, so containerized
// clusters can configure nodes purely through the environment:
//
//	NOMBRE=nodo1 PUERTO=8100 ./node
//	./node --name nodo2 --port 8101 --group 239.10.10.10 --group-port 50000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"compute-fabric/internal/api"
	"compute-fabric/internal/cluster"
	"compute-fabric/internal/metrics"
	"compute-fabric/internal/store"
	"compute-fabric/internal/task"
)

func main() {
	// ── Flags (environment variables as defaults) ──────────────────────────
	name := flag.String("name", envStr("NOMBRE", "nodo"), "Node name (unique in the fabric)")
	port := flag.Int("port", envInt("PUERTO", 8100), "HTTP listen port")
	group := flag.String("group", envStr("DESCUBRIMIENTO_GRUPO", "239.10.10.10"), "Discovery multicast group")
	groupPort := flag.Int("group-port", envInt("DESCUBRIMIENTO_PUERTO", 50000), "Discovery multicast port")
	interval := flag.Duration("announce-interval", 1500*time.Millisecond, "Heartbeat interval")
	flag.Parse()

	selfURL := fmt.Sprintf("http://%s:%d", *name, *port)

	// ── Components, leaves first ───────────────────────────────────────────
	reg := metrics.NewRegistry()
	kv := store.New()
	table := cluster.NewTable(*name)
	exec := task.NewExecutor(reg)

	disc := cluster.NewDiscovery(*group, *groupPort, *name, selfURL, *interval, 0,
		func() map[string]any { return map[string]any{"load": exec.Load()} },
		table, reg)

	goss := cluster.NewGossiper(selfURL, kv, reg)
	sched := cluster.NewScheduler(*name, selfURL, exec)
	orc := task.NewOrchestrator(*name, selfURL, sched, table, kv, goss, exec, reg)

	// The federated workload needs the live neighbor view and the
	// messaging edge, so it is wired here rather than in the executor.
	exec.Register("federado", task.Federated(table.Snapshot, orc.SendMessage))

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(*name), api.Recovery(*name))

	handler := api.NewHandler(*name, selfURL, kv, orc, exec, reg)
	handler.Register(router)

	// Health check endpoint — readiness probes and humans.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":      *name,
			"status":    "ok",
			"neighbors": table.Len(),
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// ── Discovery ──────────────────────────────────────────────────────────
	if err := disc.Start(); err != nil {
		log.Fatalf("start discovery: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[%s] listening on %s (discovery %s:%d)", *name, srv.Addr, *group, *groupPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Active neighbor probing. The heartbeat timeout already expires
	// dead peers; this just surfaces unreachable-but-announcing nodes
	// in the logs.
	monitorStop := make(chan struct{})
	go monitorNeighbors(*name, table, monitorStop)

	// ── Graceful shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		disc.Stop()
		log.Fatalf("server error: %v", err)
	case sig := <-quit:
		log.Printf("[%s] shutting down (%s)", *name, sig)
	}

	close(monitorStop)
	disc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[%s] server shutdown error: %v", *name, err)
	}
}

// monitorNeighbors probes each neighbor's /estado every 2 s. Failures
// are only logged — the heartbeat timeout is authoritative for expiry.
func monitorNeighbors(name string, table *cluster.Table, stop <-chan struct{}) {
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, n := range table.Snapshot() {
				resp, err := client.Get(n.URL + "/estado")
				if err != nil {
					log.Printf("[%s] neighbor %s not responding: %v", name, n.Name, err)
					continue
				}
				resp.Body.Close()
			}
		}
	}
}

// ─── Environment helpers ──────────────────────────────────────────────────────

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

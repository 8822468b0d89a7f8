package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestIncAndCounter(t *testing.T) {
	r := NewRegistry()
	r.Inc("tareas", 1)
	r.Inc("tareas", 2)

	if got := r.Counter("tareas"); got != 3 {
		t.Fatalf("counter = %v, want 3", got)
	}
	if got := r.Counter("inexistente"); got != 0 {
		t.Fatalf("absent counter = %v, want 0", got)
	}
}

func TestExportFormat(t *testing.T) {
	r := NewRegistry()
	r.Inc("tasks_received", 3)
	r.Observe("duracion_ms", 10)
	r.Observe("duracion_ms", 15)

	out := r.Export()

	for _, want := range []string{
		"# TYPE tasks_received counter",
		"tasks_received 3",
		"# TYPE duracion_ms_avg gauge",
		"duracion_ms_avg 12.5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
}

func TestExportStableOrder(t *testing.T) {
	r := NewRegistry()
	r.Inc("b", 1)
	r.Inc("a", 1)
	r.Inc("c", 1)

	first := r.Export()
	for i := 0; i < 10; i++ {
		if r.Export() != first {
			t.Fatal("export order is not stable")
		}
	}
	if strings.Index(first, "a 1") > strings.Index(first, "b 1") {
		t.Fatalf("names not sorted:\n%s", first)
	}
}

func TestEmptyRegistryExportsNothing(t *testing.T) {
	if out := NewRegistry().Export(); out != "" {
		t.Fatalf("empty export = %q", out)
	}
}

func TestConcurrentWriters(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Inc("hits", 1)
				r.Observe("lat", float64(j))
			}
		}()
	}
	wg.Wait()

	if got := r.Counter("hits"); got != 800 {
		t.Fatalf("hits = %v, want 800", got)
	}
}

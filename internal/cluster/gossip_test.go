package cluster

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"compute-fabric/internal/metrics"
	"compute-fabric/internal/store"
)

func TestGossipPushesSnapshotToPeers(t *testing.T) {
	received := make(chan map[string]store.Record, 1)
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kv/sync" {
			t.Errorf("gossip hit %s, want /kv/sync", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var snap map[string]store.Record
		if err := codec.Unmarshal(body, &snap); err != nil {
			t.Errorf("gossip body not a snapshot: %v", err)
		}
		received <- snap
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	kv := store.New()
	kv.Put("dato", "v1")
	g := NewGossiper("http://yo:8100", kv, metrics.NewRegistry())

	g.Gossip([]Neighbor{
		{Name: "yo", URL: "http://yo:8100"}, // must be skipped
		{Name: "vecino", URL: peer.URL},
	})

	select {
	case snap := <-received:
		rec, ok := snap["dato"]
		if !ok || rec.Value != "v1" || rec.Version != 1 {
			t.Fatalf("peer received %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the snapshot")
	}
}

func TestGossipSkipsSelfAndEmptyStore(t *testing.T) {
	hits := make(chan struct{}, 4)
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer peer.Close()

	reg := metrics.NewRegistry()

	// Empty store: no traffic at all.
	g := NewGossiper("http://yo:8100", store.New(), reg)
	g.Gossip([]Neighbor{{Name: "vecino", URL: peer.URL}})

	// Only-self neighbor list: no traffic either.
	kv := store.New()
	kv.Put("k", 1)
	g = NewGossiper(peer.URL, kv, reg)
	g.Gossip([]Neighbor{{Name: "yo", URL: peer.URL}})

	select {
	case <-hits:
		t.Fatal("gossip sent traffic it should have skipped")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestGossipSwallowsPeerFailures(t *testing.T) {
	reg := metrics.NewRegistry()
	kv := store.New()
	kv.Put("k", 1)

	g := NewGossiper("http://yo:8100", kv, reg)
	// Nobody listens here; the call must not panic or block.
	g.Gossip([]Neighbor{{Name: "muerto", URL: "http://127.0.0.1:1"}})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Counter("gossip_failures") >= 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("gossip failure was not counted")
}

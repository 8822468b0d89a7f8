package cluster

import (
	"testing"
	"time"
)

func TestDecodeAnnouncementValid(t *testing.T) {
	data, err := encodeAnnouncement("vecino1", "http://vecino1:8101", 1710000000.5,
		map[string]any{"load": 0.4, "region": "lab"})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > maxDatagram {
		t.Fatalf("announcement is %d bytes, above the datagram cap", len(data))
	}

	nb, ok := decodeAnnouncement(data, "nodo_local")
	if !ok {
		t.Fatal("valid announcement rejected")
	}
	if nb.Name != "vecino1" || nb.URL != "http://vecino1:8101" || nb.LastSeen != 1710000000.5 {
		t.Fatalf("decoded neighbor = %+v", nb)
	}
	if nb.Load() != 0.4 {
		t.Fatalf("load = %v, want 0.4", nb.Load())
	}
	if nb.Metrics["region"] != "lab" {
		t.Fatalf("extra metric lost: %v", nb.Metrics)
	}
	if _, reserved := nb.Metrics["name"]; reserved {
		t.Fatal("reserved key leaked into the metrics map")
	}
}

func TestDecodeAnnouncementIgnoresSelf(t *testing.T) {
	data, _ := encodeAnnouncement("nodo_self", "http://nodo_self:8100", 123.0,
		map[string]any{"load": 0.2})

	if _, ok := decodeAnnouncement(data, "nodo_self"); ok {
		t.Fatal("a node accepted its own announcement")
	}
}

func TestDecodeAnnouncementRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `no es json`,
		"not an object": `[1, 2, 3]`,
		"missing name":  `{"url": "http://x:1", "ts": 5.0}`,
		"empty url":     `{"name": "x", "url": "", "ts": 5.0}`,
		"missing url":   `{"name": "x", "ts": 5.0}`,
		"missing ts":    `{"name": "x", "url": "http://x:1"}`,
		"string ts":     `{"name": "x", "url": "http://x:1", "ts": "ahora"}`,
	}
	for label, raw := range cases {
		if _, ok := decodeAnnouncement([]byte(raw), "yo"); ok {
			t.Errorf("%s: accepted %q", label, raw)
		}
	}
}

func TestAnnouncementMetricsCannotShadowIdentity(t *testing.T) {
	data, err := encodeAnnouncement("real", "http://real:1", 9.0,
		map[string]any{"name": "impostor", "url": "http://impostor:1", "ts": -1})
	if err != nil {
		t.Fatal(err)
	}
	nb, ok := decodeAnnouncement(data, "yo")
	if !ok || nb.Name != "real" || nb.URL != "http://real:1" || nb.LastSeen != 9.0 {
		t.Fatalf("identity shadowed by metrics: %+v (ok=%v)", nb, ok)
	}
}

func TestTableUpsertAndSnapshot(t *testing.T) {
	tb := NewTable("yo")

	tb.Upsert(Neighbor{Name: "v1", URL: "http://v1:1", LastSeen: 10})
	tb.Upsert(Neighbor{Name: "v1", URL: "http://v1:2", LastSeen: 20})
	tb.Upsert(Neighbor{Name: "yo", URL: "http://yo:1", LastSeen: 30})

	snap := tb.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d entries, want 1: %+v", len(snap), snap)
	}
	if snap[0].URL != "http://v1:2" || snap[0].LastSeen != 20 {
		t.Fatalf("upsert did not refresh the entry: %+v", snap[0])
	}
}

func TestTablePurge(t *testing.T) {
	tb := NewTable("yo")
	now := float64(time.Now().Unix())

	tb.Upsert(Neighbor{Name: "viejo", URL: "http://viejo:1", LastSeen: now - 5})
	tb.Upsert(Neighbor{Name: "reciente", URL: "http://reciente:1", LastSeen: now})

	if dropped := tb.Purge(now, 2.0); dropped != 1 {
		t.Fatalf("purge dropped %d entries, want 1", dropped)
	}
	snap := tb.Snapshot()
	if len(snap) != 1 || snap[0].Name != "reciente" {
		t.Fatalf("wrong survivor: %+v", snap)
	}

	// A refresh resurrects a previously expired neighbor.
	tb.Upsert(Neighbor{Name: "viejo", URL: "http://viejo:1", LastSeen: now + 1})
	if tb.Len() != 2 {
		t.Fatalf("refreshed neighbor missing, table: %+v", tb.Snapshot())
	}
}

func TestNeighborLoadDefaultsToZero(t *testing.T) {
	n := Neighbor{Name: "x", Metrics: map[string]any{}}
	if n.Load() != 0 {
		t.Fatalf("load without metric = %v, want 0", n.Load())
	}
	n.Metrics["load"] = "mucho"
	if n.Load() != 0 {
		t.Fatalf("non-numeric load = %v, want 0", n.Load())
	}
}

package cluster

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/ipv4"

	"compute-fabric/internal/metrics"
)

// Discovery periodically announces this node over UDP multicast and
// listens for the announcements of others, feeding the neighbor table.
//
// An announcement is one JSON object per datagram:
//
//	{"name": "nodo1", "url": "http://nodo1:8100", "ts": 1710000000.5, "load": 2}
//
// name, url and ts are reserved; every other key is collected as the
// sender's metrics map. Discovery is best-effort by design — a lost
// datagram is repaired by the next heartbeat, so send and receive
// failures are counted and otherwise swallowed.
type Discovery struct {
	Group    string        // multicast group address
	Port     int           // multicast port
	Name     string        // this node's name
	URL      string        // this node's reachable endpoint
	Interval time.Duration // time between announcements
	Timeout  time.Duration // neighbor expiry (typically 3× Interval)

	// LocalMetrics supplies the metrics attached to each announcement
	// (at minimum the current load).
	LocalMetrics func() map[string]any

	table *Table
	reg   *metrics.Registry

	mu      sync.Mutex
	stop    chan struct{}
	done    sync.WaitGroup
	send    *ipv4.PacketConn
	recv    *ipv4.PacketConn
	started bool
}

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultGroup    = "239.10.10.10"
	defaultPort     = 50000
	defaultInterval = 1500 * time.Millisecond

	// readDeadline bounds how long the listener blocks on the socket;
	// it sets the responsiveness of both purging and shutdown.
	readDeadline = 500 * time.Millisecond

	maxDatagram = 4096
)

// NewDiscovery creates a Discovery feeding table. Zero-valued group,
// port, interval and timeout fall back to defaults (timeout: 3× the
// interval).
func NewDiscovery(group string, port int, name, url string, interval, timeout time.Duration,
	localMetrics func() map[string]any, table *Table, reg *metrics.Registry) *Discovery {

	if group == "" {
		group = defaultGroup
	}
	if port == 0 {
		port = defaultPort
	}
	if interval == 0 {
		interval = defaultInterval
	}
	if timeout == 0 {
		timeout = 3 * interval
	}
	if localMetrics == nil {
		localMetrics = func() map[string]any { return nil }
	}
	return &Discovery{
		Group:        group,
		Port:         port,
		Name:         name,
		URL:          url,
		Interval:     interval,
		Timeout:      timeout,
		LocalMetrics: localMetrics,
		table:        table,
		reg:          reg,
	}
}

// Table returns the neighbor table this Discovery feeds.
func (d *Discovery) Table() *Table {
	return d.table
}

// NeighborsWithMetrics returns a snapshot of the current neighbors.
func (d *Discovery) NeighborsWithMetrics() []Neighbor {
	return d.table.Snapshot()
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Start opens both sockets and launches the announcer and listener
// loops. It fails only when the group address is invalid or a socket
// cannot be opened or configured; from then on the loops never exit on
// error.
func (d *Discovery) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	group := net.ParseIP(d.Group)
	if group == nil {
		return fmt.Errorf("invalid multicast group %q", d.Group)
	}

	// Sender: any local port, TTL 1 so announcements stay on the LAN.
	sc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("open announce socket: %w", err)
	}
	send := ipv4.NewPacketConn(sc)
	if err := send.SetMulticastTTL(1); err != nil {
		sc.Close()
		return fmt.Errorf("set multicast ttl: %w", err)
	}

	// Listener: ListenMulticastUDP sets address reuse and joins the
	// group, so several nodes can share one machine. Loopback on for
	// the same reason.
	rc, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: group, Port: d.Port})
	if err != nil {
		sc.Close()
		return fmt.Errorf("open listen socket: %w", err)
	}
	recv := ipv4.NewPacketConn(rc)
	_ = recv.SetMulticastLoopback(true)

	d.send = send
	d.recv = recv
	d.stop = make(chan struct{})
	d.started = true

	d.done.Add(2)
	go d.announceLoop()
	go d.listenLoop()
	return nil
}

// Stop signals both loops and closes the sockets. Wake-up latency is
// bounded by the announce interval and the listener's read deadline.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.stop)
	d.mu.Unlock()

	d.done.Wait()
	d.send.Close()
	d.recv.Close()
}

// ─── Announcer ────────────────────────────────────────────────────────────────

func (d *Discovery) announceLoop() {
	defer d.done.Done()

	dst := &net.UDPAddr{IP: net.ParseIP(d.Group), Port: d.Port}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	// First announcement immediately, then one per tick.
	d.announce(dst)
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.announce(dst)
		}
	}
}

func (d *Discovery) announce(dst *net.UDPAddr) {
	data, err := encodeAnnouncement(d.Name, d.URL, nowUnix(), d.LocalMetrics())
	if err != nil {
		d.reg.Inc("discovery_encode_failures", 1)
		return
	}
	if _, err := d.send.WriteTo(data, nil, dst); err != nil {
		// Best-effort: the next heartbeat repeats everything.
		d.reg.Inc("discovery_send_failures", 1)
	}
}

// ─── Listener ─────────────────────────────────────────────────────────────────

func (d *Discovery) listenLoop() {
	defer d.done.Done()

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		_ = d.recv.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, _, err := d.recv.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				// An OS-level socket error must not kill the loop.
				d.reg.Inc("discovery_recv_failures", 1)
				log.Printf("[%s] discovery receive: %v", d.Name, err)
				time.Sleep(time.Second)
			}
		} else if nb, ok := decodeAnnouncement(buf[:n], d.Name); ok {
			d.table.Upsert(nb)
			d.reg.Inc("discovery_announcements", 1)
		}

		// Sweep after every receive, deadline expiries included, so
		// the table stays bounded without a dedicated reaper.
		d.table.Purge(nowUnix(), d.Timeout.Seconds())
	}
}

// ─── Wire codec ───────────────────────────────────────────────────────────────

// encodeAnnouncement builds the flat announcement object. Reserved keys
// always win over a metric of the same name.
func encodeAnnouncement(name, url string, ts float64, extra map[string]any) ([]byte, error) {
	m := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		m[k] = v
	}
	m["name"] = name
	m["url"] = url
	m["ts"] = ts
	return codec.Marshal(m)
}

// decodeAnnouncement parses and validates one datagram. It returns
// ok=false for anything that must not touch the table: non-JSON data, a
// non-object, a missing or self-referring name, an empty url, or a
// non-numeric ts.
func decodeAnnouncement(data []byte, self string) (Neighbor, bool) {
	var m map[string]any
	if err := codec.Unmarshal(data, &m); err != nil || m == nil {
		return Neighbor{}, false
	}

	name, _ := m["name"].(string)
	if name == "" || name == self {
		return Neighbor{}, false
	}
	url, _ := m["url"].(string)
	if url == "" {
		return Neighbor{}, false
	}
	ts, ok := m["ts"].(float64)
	if !ok {
		return Neighbor{}, false
	}

	mm := make(map[string]any, len(m))
	for k, v := range m {
		switch k {
		case "name", "url", "ts":
		default:
			mm[k] = v
		}
	}
	return Neighbor{Name: name, URL: url, LastSeen: ts, Metrics: mm}, true
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

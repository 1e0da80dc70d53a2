// Package stats implements the "human-readable status screen" and metrics
// collaborator that spec.md declines to design ("out of scope (external
// collaborators): ... the human-readable status screen printed
// periodically"). It reproduces raitcp.py's 1-second clear-screen table and
// additionally exposes the same counters through a VictoriaMetrics metrics
// set, the way pkg/api/api0/metrics.go in the atlas reference repo builds
// its *metrics.Set of named counters.
package stats

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

// PeerSnapshot is a point-in-time view of one Peer, for rendering only.
type PeerSnapshot struct {
	Side          wire.Side
	Desc          string
	BytesReceived uint64
	WasSourceFor  uint64
	WasLeaderAt   time.Time
	OutputBacklog int
}

// ConnectionSnapshot is a point-in-time view of one Connection, for
// rendering only.
type ConnectionSnapshot struct {
	CID           wire.ConnID
	Open          bool
	BytesReceived [2]uint64
	Peers         []PeerSnapshot
}

// Reporter renders the periodic status block and maintains the engine's
// metrics.Set.
type Reporter struct {
	set             *metrics.Set
	bytesTotal      *metrics.Counter
	reconnectsTotal *metrics.Counter
	protocolErrors  *metrics.Counter
	openCount       int64

	clearScreen bool
	out         io.Writer
}

// NewReporter builds a Reporter writing to out. clearScreen reproduces
// raitcp.py's ANSI clear-screen-and-redraw behavior; callers should disable
// it when out isn't a terminal.
func NewReporter(out io.Writer, clearScreen bool) *Reporter {
	set := metrics.NewSet()
	r := &Reporter{set: set, out: out, clearScreen: clearScreen}
	r.bytesTotal = set.NewCounter("raitcp_novel_bytes_total")
	r.reconnectsTotal = set.NewCounter("raitcp_peer_reconnects_total")
	r.protocolErrors = set.NewCounter("raitcp_protocol_violations_total")
	set.NewGauge("raitcp_connections_open", func() float64 {
		return float64(atomic.LoadInt64(&r.openCount))
	})
	return r
}

// RecordNovelBytes accounts for n bytes newly accepted by the engine
// (deduplicated, i.e. fanned out exactly once).
func (r *Reporter) RecordNovelBytes(n int) {
	if n > 0 {
		r.bytesTotal.Add(n)
	}
}

// RecordReconnect accounts for one connector peer replacement.
func (r *Reporter) RecordReconnect() {
	r.reconnectsTotal.Inc()
}

// RecordProtocolViolation accounts for one rejected peer due to a
// handshake or offset inconsistency.
func (r *Reporter) RecordProtocolViolation() {
	r.protocolErrors.Inc()
}

// SetOpenConnections updates the connections_open gauge.
func (r *Reporter) SetOpenConnections(n int) {
	atomic.StoreInt64(&r.openCount, int64(n))
}

// WritePrometheus exposes the metrics set in Prometheus exposition format,
// e.g. behind an HTTP debug handler.
func (r *Reporter) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}

// Render prints the one-second status block described by spec.md §4.5 and
// raitcp.py's stat loop: current time, connection count, and per-connection,
// per-peer byte counters.
func (r *Reporter) Render(now time.Time, conns []ConnectionSnapshot) {
	var b strings.Builder
	if r.clearScreen {
		b.WriteString("\x1b[H\x1b[2J\x1b[3J")
	}
	fmt.Fprintf(&b, "%s\n", now.Format("15:04:05"))
	fmt.Fprintf(&b, "%d connections.\n", len(conns))
	for _, c := range conns {
		status := "CLOSED"
		if c.Open {
			status = "OPEN"
		}
		fmt.Fprintf(&b, "Connection %s: %s, %d/%d bytes received.\n",
			c.CID, status, c.BytesReceived[wire.Left], c.BytesReceived[wire.Right])
		for _, p := range c.Peers {
			fmt.Fprintf(&b, "- %s, %s, %d bytes received, %d new bytes, output buffer has %d bytes.\n",
				p.Side, p.Desc, p.BytesReceived, p.WasSourceFor, p.OutputBacklog)
		}
	}
	io.WriteString(r.out, b.String())
}

package stats

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

func TestRenderWithoutClearScreen(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)
	r.SetOpenConnections(1)

	cid, _ := wire.ConnIDFromBytes([]byte("aBcD"))
	r.Render(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), []ConnectionSnapshot{
		{
			CID:           cid,
			Open:          true,
			BytesReceived: [2]uint64{1000, 0},
			Peers: []PeerSnapshot{
				{Side: wire.Left, Desc: "127.0.0.1:9999", BytesReceived: 1000, WasSourceFor: 1000},
			},
		},
	})

	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "1 connections.")
	assert.Contains(t, out, "Connection aBcD: OPEN, 1000/0 bytes received.")
	assert.Contains(t, out, "127.0.0.1:9999")
}

func TestRenderWithClearScreen(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, true)
	r.Render(time.Now(), nil)
	assert.Contains(t, buf.String(), "\x1b[H\x1b[2J\x1b[3J")
}

func TestWritePrometheusIncludesRecordedMetrics(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)
	r.RecordNovelBytes(42)
	r.RecordReconnect()
	r.RecordProtocolViolation()

	var out bytes.Buffer
	r.WritePrometheus(&out)
	assert.Contains(t, out.String(), "raitcp_novel_bytes_total 42")
	assert.Contains(t, out.String(), "raitcp_peer_reconnects_total 1")
	assert.Contains(t, out.String(), "raitcp_protocol_violations_total 1")
}

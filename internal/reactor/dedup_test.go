package reactor

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muhammadmahdiamirpour/raitcp/internal/config"
	"github.com/muhammadmahdiamirpour/raitcp/internal/stats"
	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

func newTestReactor() *Reactor {
	cfg := &config.Config{Side: wire.Left, ListenPort: 0}
	return New(cfg, zerolog.Nop(), stats.NewReporter(io.Discard, false))
}

func attachedPeer(r *Reactor, c *Connection, side wire.Side) *Peer {
	p := newPeer(r.nextID(), side, false, config.Endpoint{}, "test", r.log)
	p.connection = c
	p.state = stateEstablished
	c.attach(p)
	r.byID[p.id] = p
	return p
}

// TestSteadyReadFullyNovel: the peer's own count matches the connection
// watermark exactly, so everything just read is novel.
func TestSteadyReadFullyNovel(t *testing.T) {
	r := newTestReactor()
	cid, err := wire.NewConnID()
	require.NoError(t, err)
	c := r.newConnection(cid)
	src := attachedPeer(r, c, wire.Left)
	dst := attachedPeer(r, c, wire.Right)

	r.steadyRead(src, []byte("abcdef"))

	assert.Equal(t, uint64(6), src.bytesReceived)
	assert.Equal(t, uint64(6), c.bytesReceived[wire.Left])
	assert.Equal(t, uint64(6), src.wasSourceFor)
	chunk, ok := dst.out.pop(64)
	require.True(t, ok)
	assert.Equal(t, "abcdef", string(chunk))
}

// TestSteadyReadFullyStale: a redundant path delivers bytes the connection
// watermark already covers - none of it should be forwarded again.
func TestSteadyReadFullyStale(t *testing.T) {
	r := newTestReactor()
	cid, err := wire.NewConnID()
	require.NoError(t, err)
	c := r.newConnection(cid)
	lead := attachedPeer(r, c, wire.Left)
	lagging := attachedPeer(r, c, wire.Left)
	dst := attachedPeer(r, c, wire.Right)

	r.steadyRead(lead, []byte("abcdef"))
	_, _ = dst.out.pop(64)

	// The redundant path now delivers the same six bytes it was always
	// going to deliver; its own bytesReceived starts at 0 so lag=6.
	r.steadyRead(lagging, []byte("abcdef"))

	assert.Equal(t, uint64(6), lagging.bytesReceived)
	assert.Equal(t, uint64(6), c.bytesReceived[wire.Left])
	assert.Equal(t, uint64(0), lagging.wasSourceFor)
	assert.Equal(t, 0, dst.out.size())
}

// TestSteadyReadStraddlingChunk: a chunk partly overlaps what's already
// been forwarded and partly extends past the watermark - only the tail
// should be forwarded.
func TestSteadyReadStraddlingChunk(t *testing.T) {
	r := newTestReactor()
	cid, err := wire.NewConnID()
	require.NoError(t, err)
	c := r.newConnection(cid)
	lead := attachedPeer(r, c, wire.Left)
	lagging := attachedPeer(r, c, wire.Left)
	dst := attachedPeer(r, c, wire.Right)

	r.steadyRead(lead, []byte("abcdef"))
	_, _ = dst.out.pop(64)

	// lagging has seen nothing yet (bytesReceived=0) but the watermark is
	// 6; it now delivers 10 bytes where "abcdef" duplicates the watermark
	// and "ghij" is new.
	r.steadyRead(lagging, []byte("abcdefghij"))

	assert.Equal(t, uint64(10), lagging.bytesReceived)
	assert.Equal(t, uint64(10), c.bytesReceived[wire.Left])
	chunk, ok := dst.out.pop(64)
	require.True(t, ok)
	assert.Equal(t, "ghij", string(chunk))
}

func TestOffsetPhaseRejectsOffsetAboveWatermark(t *testing.T) {
	r := newTestReactor()
	cid, err := wire.NewConnID()
	require.NoError(t, err)
	c := r.newConnection(cid)
	c.bytesReceived[wire.Right] = 10

	p := newPeer(r.nextID(), wire.Right, false, config.Endpoint{}, "test", r.log)
	p.connection = c
	c.attach(p)
	r.byID[p.id] = p
	p.state = statePreludeOffset
	p.preludeBuf = wire.EncodeOffset(11)

	ok := r.completeOffsetPhase(p)
	assert.False(t, ok)
	assert.Equal(t, stateClosed, p.state)
}

func TestOffsetPhaseAcceptsOffsetAtWatermark(t *testing.T) {
	r := newTestReactor()
	cid, err := wire.NewConnID()
	require.NoError(t, err)
	c := r.newConnection(cid)
	c.bytesReceived[wire.Right] = 10

	p := newPeer(r.nextID(), wire.Right, false, config.Endpoint{}, "test", r.log)
	p.connection = c
	c.attach(p)
	r.byID[p.id] = p
	p.state = statePreludeOffset
	p.preludeBuf = wire.EncodeOffset(10)

	ok := r.completeOffsetPhase(p)
	assert.True(t, ok)
	assert.Equal(t, stateEstablished, p.state)
	assert.Equal(t, uint64(10), p.bytesReceived)
}

func TestConnectionAttachDetach(t *testing.T) {
	cid, err := wire.NewConnID()
	require.NoError(t, err)
	c := newConnectionRecord(cid)
	p1 := &Peer{side: wire.Left}
	p2 := &Peer{side: wire.Left}
	c.attach(p1)
	c.attach(p2)
	require.Len(t, c.peersOn(wire.Left), 2)

	c.detach(p1)
	assert.Equal(t, []*Peer{p2}, c.peersOn(wire.Left))
	assert.True(t, c.empty() == false)

	c.detach(p2)
	assert.True(t, c.empty())
}

// Package reactor is the engine: it owns every live Connection and Peer for
// one side of the mirror, and is the direct descendant of the distributed
// file system teacher's FileServer.loop() (server/server.go) - a single
// goroutine selecting over one events channel and a context's Done channel.
// Everything that isn't that one goroutine (readers, writers, the listener)
// only ever talks to it by sending events; no other goroutine touches
// Connection or Peer state directly.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/muhammadmahdiamirpour/raitcp/internal/config"
	"github.com/muhammadmahdiamirpour/raitcp/internal/stats"
	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

const (
	recvChunkSize = 65536
	sendChunkSize = 65536

	backlogHighWater = 8 << 20
	backlogLowWater  = 1 << 20

	dialTimeout  = 10 * time.Second
	statsPeriod  = time.Second
	eventBufSize = 256
)

// Reactor is one side's engine: either LEFT (client-facing) or RIGHT
// (server-facing), per spec.md §2-§4.
type Reactor struct {
	side wire.Side
	cfg  *config.Config
	log  zerolog.Logger
	rep  *stats.Reporter

	events chan event

	nextPeerID  uint64
	connections map[wire.ConnID]*Connection
	pending     map[uint64]*Peer
	byID        map[uint64]*Peer

	ln *listener

	// Ready receives the actual listen address once Run has bound its
	// socket - useful for tests and for "port 0" (pick any free port) use.
	Ready chan net.Addr
}

// New builds a Reactor for cfg.Side. Call Run to start it.
func New(cfg *config.Config, log zerolog.Logger, rep *stats.Reporter) *Reactor {
	return &Reactor{
		side:        cfg.Side,
		cfg:         cfg,
		log:         log,
		rep:         rep,
		events:      make(chan event, eventBufSize),
		connections: make(map[wire.ConnID]*Connection),
		pending:     make(map[uint64]*Peer),
		byID:        make(map[uint64]*Peer),
		Ready:       make(chan net.Addr, 1),
	}
}

// Run opens the listening socket and drives the engine until ctx is
// canceled, at which point every live socket is closed and Run returns
// ctx.Err().
func (r *Reactor) Run(ctx context.Context) error {
	rawLn, err := listen(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("reactor: listen on port %d: %w", r.cfg.ListenPort, err)
	}
	r.ln = newListener(rawLn, r.log)
	r.log.Info().Uint16("port", r.cfg.ListenPort).Stringer("side", r.side).Msg("listening")
	r.Ready <- rawLn.Addr()

	go r.ln.run(ctx, r.events)

	ticker := time.NewTicker(statsPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			r.tick(now)
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

func (r *Reactor) shutdown() {
	_ = r.ln.Close()
	for _, c := range r.connections {
		for _, side := range [2]wire.Side{wire.Left, wire.Right} {
			for _, p := range c.siblingSnapshot(side) {
				r.detachPeer(p)
			}
		}
	}
	for _, p := range r.pending {
		r.detachPeer(p)
	}
}

func (r *Reactor) dispatch(ev event) {
	switch e := ev.(type) {
	case evAccepted:
		r.handleAccept(e.conn, e.addr)
	case evListenerError:
		r.log.Warn().Err(e.err).Msg("accept error")
	case evData:
		r.handleData(e.peerID, e.data)
	case evEOF:
		r.handleEOF(e.peerID)
	case evReadErr:
		r.handleFailure(e.peerID, e.err)
	case evWriteErr:
		r.handleFailure(e.peerID, e.err)
	case evDialResult:
		r.handleDialResult(e.peerID, e.conn, e.err)
	case evBacklogDrained:
		r.handleBacklogDrained(e.peerID)
	}
}

// --- accept / connect -------------------------------------------------

// handleAccept implements spec.md §4.2. On LEFT, an accepted socket is a new
// logical Connection: mint a cid, spawn the configured connectors toward
// RIGHT, and the accepted peer itself needs no handshake since it originated
// the connection. On RIGHT, an accepted socket is one leg of mirrored
// traffic arriving from LEFT and must first read the 12-byte prelude: the
// 4-byte cid attaches it to a Connection, and the 8-byte offset that follows
// establishes it.
func (r *Reactor) handleAccept(conn net.Conn, addr string) {
	switch r.side {
	case wire.Left:
		cid, err := wire.NewConnID()
		if err != nil {
			r.log.Error().Err(err).Msg("failed to mint connection id")
			_ = conn.Close()
			return
		}
		c := r.newConnection(cid)
		p := newPeer(r.nextID(), r.side, false, config.Endpoint{}, addr, r.log)
		p.connection = c
		p.state = stateEstablished
		c.attach(p)
		r.byID[p.id] = p
		r.startReader(p)
		r.startWriter(p)
		r.log.Info().Stringer("cid", cid).Str("remote", addr).Msg("accepted client, opened connection")
	case wire.Right:
		p := newPeer(r.nextID(), r.side, false, config.Endpoint{}, addr, r.log)
		p.state = statePreludeCid
		p.preludeBuf = make([]byte, 0, wire.ConnIDLen)
		r.pending[p.id] = p
		r.byID[p.id] = p
		r.startReader(p)
		r.startWriter(p)
	}
}

// newConnection creates a Connection record and immediately spawns one
// connector Peer per configured Endpoint, regardless of which side is
// calling it (raitcp.py's Connection.__init__ unconditionally iterates
// connect_from_to_port - a Connection always dials its own process's
// configured endpoints, independent of which side accepted the socket that
// created it).
func (r *Reactor) newConnection(cid wire.ConnID) *Connection {
	c := newConnectionRecord(cid)
	r.connections[cid] = c
	for _, ep := range r.cfg.Endpoints {
		r.spawnConnector(c, ep)
	}
	return c
}

// spawnConnector creates a connector Peer on the side opposite the local
// process (spec.md §4.2/§4.4 resolved against raitcp.py: a connector peer's
// side is other(localSide), so a LEFT process's connectors present as RIGHT
// and therefore send the prelude, while a RIGHT process's connectors present
// as LEFT and send nothing - matching the real server needing no handshake).
func (r *Reactor) spawnConnector(c *Connection, ep config.Endpoint) {
	p := newPeer(r.nextID(), r.side.Other(), true, ep, ep.String(), r.log)
	p.connection = c
	p.state = stateConnecting
	c.attach(p)
	r.byID[p.id] = p
	// The prelude goes in first, ahead of any bytes fanned out to this peer
	// while it is still dialing, and its offset is the stream position
	// those later bytes start at.
	if p.side == wire.Right {
		p.out.push(wire.EncodePrelude(c.cid, c.bytesReceived[p.side.Other()]))
	}
	go r.dial(p)
}

func (r *Reactor) dial(p *Peer) {
	var dialer net.Dialer
	if p.endpoint.LocalAddr != "" {
		laddr, err := net.ResolveTCPAddr("tcp", p.endpoint.LocalAddr)
		if err != nil {
			r.events <- evDialResult{peerID: p.id, err: fmt.Errorf("resolve local addr %q: %w", p.endpoint.LocalAddr, err)}
			return
		}
		laddr.Port = 0
		dialer.LocalAddr = laddr
	}
	dialer.Timeout = dialTimeout

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", p.endpoint.RemoteHost, p.endpoint.RemotePort))
	r.events <- evDialResult{peerID: p.id, conn: conn, err: err}
}

func (r *Reactor) handleDialResult(id uint64, conn net.Conn, err error) {
	p := r.byID[id]
	if p == nil || p.state == stateClosed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		r.log.Warn().Str("endpoint", p.endpoint.String()).Err(err).Msg("dial failed, reconnecting")
		r.reconnect(p)
		return
	}
	p.conn = conn
	if p.side == wire.Right {
		// The acceptor answers the prelude with its own 8-byte offset.
		p.state = statePreludeOffset
		p.preludeBuf = make([]byte, 0, wire.OffsetLen)
	} else {
		p.state = stateEstablished
	}
	r.startReader(p)
	r.startWriter(p)
}

// reconnect implements the "transient socket error on an outbound peer"
// branch of spec.md §5's error taxonomy: close the socket, detach the dead
// peer, and spawn a fresh connector with the same endpoint. A reconnect
// never happens once the owning Connection has been torn down by EOF.
func (r *Reactor) reconnect(p *Peer) {
	c := p.connection
	r.detachPeer(p)
	if c == nil || !c.open {
		return
	}
	r.rep.RecordReconnect()
	r.spawnConnector(c, p.endpoint)
}

// --- teardown -----------------------------------------------------------

// handleEOF implements spec.md §5's EOF rule: EOF on any one peer closes
// every socket on both sides of that Connection.
func (r *Reactor) handleEOF(id uint64) {
	p := r.byID[id]
	if p == nil {
		return
	}
	c := p.connection
	if c == nil {
		r.detachPeer(p)
		return
	}
	r.log.Info().Stringer("cid", c.cid).Msg("EOF, tearing down connection")
	c.open = false
	for _, side := range [2]wire.Side{wire.Left, wire.Right} {
		for _, sib := range c.siblingSnapshot(side) {
			r.detachPeer(sib)
		}
	}
	// A closed Connection stays in the registry - only process exit
	// destroys it (spec.md §3) - so tick() keeps reporting it as CLOSED
	// rather than having it vanish from the stats output.
}

// handleFailure implements the non-EOF half of spec.md §5's error taxonomy:
// a connector peer reconnects, any other peer is simply closed (its
// Connection, and any remaining siblings, stay open).
func (r *Reactor) handleFailure(id uint64, err error) {
	p := r.byID[id]
	if p == nil {
		return
	}
	r.log.Warn().Err(err).Msg("peer socket error")
	if p.connector {
		r.reconnect(p)
		return
	}
	r.detachPeer(p)
}

// detachPeer closes a peer's socket and its outbox (bytes still pending in
// the outbox are not delivered), and removes it from every index the Reactor
// keeps. It never reconnects -
// callers that want a reconnect call reconnect instead, which detaches then
// spawns the replacement.
func (r *Reactor) detachPeer(p *Peer) {
	if p.state == stateClosed {
		return
	}
	p.state = stateClosed
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.log.Debug().Stringer("state", p.state).Msg("peer closed")
	p.out.close()
	delete(r.byID, p.id)
	delete(r.pending, p.id)
	if p.connection != nil {
		p.connection.detach(p)
	}
}

func (r *Reactor) protocolViolation(p *Peer, err error) {
	r.log.Warn().Err(err).Str("desc", p.desc).Msg("protocol violation")
	r.rep.RecordProtocolViolation()
	r.detachPeer(p)
}

// --- steady state ---------------------------------------------------------

func (r *Reactor) handleData(id uint64, data []byte) {
	p := r.byID[id]
	if p == nil {
		return
	}
	r.feed(p, data)
}

// feed drives a peer's small prelude state machine (spec.md §4.3) and then
// its steady-state reads, tolerant of arbitrary read-call boundaries: the
// prelude may arrive split across many reads, or bundled with the first
// chunk of payload in one.
func (r *Reactor) feed(p *Peer, data []byte) {
	for len(data) > 0 && p.state != stateClosed {
		switch p.state {
		case statePreludeCid:
			n := min(wire.ConnIDLen-len(p.preludeBuf), len(data))
			p.preludeBuf = append(p.preludeBuf, data[:n]...)
			data = data[n:]
			if len(p.preludeBuf) == wire.ConnIDLen {
				r.completeCidPhase(p)
			}
		case statePreludeOffset:
			n := min(wire.OffsetLen-len(p.preludeBuf), len(data))
			p.preludeBuf = append(p.preludeBuf, data[:n]...)
			data = data[n:]
			if len(p.preludeBuf) == wire.OffsetLen {
				if !r.completeOffsetPhase(p) {
					return
				}
			}
		case stateEstablished:
			r.steadyRead(p, data)
			return
		default:
			return
		}
	}
}

func (r *Reactor) completeCidPhase(p *Peer) {
	cid, err := wire.ConnIDFromBytes(p.preludeBuf)
	if err != nil {
		r.protocolViolation(p, err)
		return
	}
	p.preludeBuf = nil

	c, ok := r.connections[cid]
	if !ok {
		c = r.newConnection(cid)
	}
	// Every one of LEFT's N redundant connectors for this Connection
	// presents the same cid; all of them attach to peers[p.side], exactly
	// like raitcp.py's when_readable_without_connection, which appends
	// unconditionally rather than rejecting a second arrival.

	delete(r.pending, p.id)
	p.connection = c
	c.attach(p)
	p.state = statePreludeOffset
	p.preludeBuf = make([]byte, 0, wire.OffsetLen)

	offset := c.bytesReceived[p.side.Other()]
	p.out.push(wire.EncodeOffset(offset))
}

func (r *Reactor) completeOffsetPhase(p *Peer) bool {
	off, err := wire.DecodeOffset(p.preludeBuf)
	p.preludeBuf = nil
	if err != nil {
		r.protocolViolation(p, err)
		return false
	}
	watermark := p.connection.bytesReceived[p.side]
	if off > watermark {
		r.protocolViolation(p, fmt.Errorf("advertised offset %d exceeds local watermark %d", off, watermark))
		return false
	}
	p.bytesReceived = off
	p.state = stateEstablished
	return true
}

// steadyRead implements the watermark/novel-bytes dedup algorithm of
// spec.md §3: lag = connection watermark - this peer's own count; anything
// beyond lag in the chunk just read is novel and is fanned out to every peer
// on the opposite side.
func (r *Reactor) steadyRead(p *Peer, data []byte) {
	c := p.connection
	watermark := c.bytesReceived[p.side]
	lag := int64(watermark) - int64(p.bytesReceived)
	if lag < 0 {
		lag = 0
	}
	novelLen := int64(len(data)) - lag
	if novelLen < 0 {
		novelLen = 0
	}
	novel := data[int64(len(data))-novelLen:]

	p.bytesReceived += uint64(len(data))

	if len(novel) == 0 {
		return
	}
	p.wasSourceFor += uint64(len(novel))
	p.wasLeaderAt = time.Now()
	c.bytesReceived[p.side] += uint64(len(novel))
	r.rep.RecordNovelBytes(len(novel))

	for _, sib := range c.peers[p.side.Other()] {
		r.enqueueWrite(sib, novel)
	}
}

// --- backpressure ---------------------------------------------------------

func (r *Reactor) enqueueWrite(p *Peer, data []byte) {
	p.out.push(data)
	if !p.backpressured && p.out.size() > backlogHighWater {
		p.backpressured = true
		r.pauseSourceSide(p)
	}
}

func (r *Reactor) pauseSourceSide(p *Peer) {
	c := p.connection
	if c == nil {
		return
	}
	src := p.side.Other()
	for _, sp := range c.peers[src] {
		sp.readGate.pause()
	}
	r.log.Warn().Stringer("cid", c.cid).Stringer("side", src).Msg("backpressure: pausing reads")
}

func (r *Reactor) handleBacklogDrained(id uint64) {
	p := r.byID[id]
	if p == nil || !p.backpressured {
		return
	}
	if p.out.size() > backlogLowWater {
		return
	}
	p.backpressured = false
	c := p.connection
	if c == nil {
		return
	}
	for _, sib := range c.peers[p.side] {
		if sib.backpressured {
			return
		}
	}
	src := p.side.Other()
	for _, sp := range c.peers[src] {
		sp.readGate.resume()
	}
}

// --- reader/writer goroutines ---------------------------------------------

func (r *Reactor) nextID() uint64 {
	r.nextPeerID++
	return r.nextPeerID
}

func (r *Reactor) startReader(p *Peer) {
	go func() {
		buf := make([]byte, recvChunkSize)
		for {
			p.readGate.wait()
			n, err := p.conn.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				r.events <- evData{peerID: p.id, data: chunk}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					r.events <- evEOF{peerID: p.id}
				} else {
					r.events <- evReadErr{peerID: p.id, err: err}
				}
				return
			}
		}
	}()
}

func (r *Reactor) startWriter(p *Peer) {
	go func() {
		for {
			before := p.out.size()
			chunk, ok := p.out.pop(sendChunkSize)
			if !ok {
				return
			}
			if _, err := p.conn.Write(chunk); err != nil {
				r.events <- evWriteErr{peerID: p.id, err: err}
				return
			}
			// backpressured belongs to the Reactor goroutine; report every
			// drop below the low-water mark and let it decide.
			if before > backlogLowWater && p.out.size() <= backlogLowWater {
				r.events <- evBacklogDrained{peerID: p.id}
			}
		}
	}()
}

// --- status reporting -------------------------------------------------

func (r *Reactor) tick(now time.Time) {
	open := 0
	snapshots := make([]stats.ConnectionSnapshot, 0, len(r.connections))
	for _, c := range r.connections {
		if c.open {
			open++
		}
		cs := stats.ConnectionSnapshot{
			CID:           c.cid,
			Open:          c.open,
			BytesReceived: c.bytesReceived,
		}
		for _, side := range [2]wire.Side{wire.Left, wire.Right} {
			for _, p := range c.peers[side] {
				cs.Peers = append(cs.Peers, stats.PeerSnapshot{
					Side:          p.side,
					Desc:          p.desc,
					BytesReceived: p.bytesReceived,
					WasSourceFor:  p.wasSourceFor,
					WasLeaderAt:   p.wasLeaderAt,
					OutputBacklog: p.out.size(),
				})
			}
		}
		snapshots = append(snapshots, cs)
	}
	r.rep.SetOpenConnections(open)
	r.rep.Render(now, snapshots)
}

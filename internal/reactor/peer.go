package reactor

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/muhammadmahdiamirpour/raitcp/internal/config"
	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

type peerState int

const (
	stateConnecting peerState = iota
	statePreludeCid
	statePreludeOffset
	stateEstablished
	stateClosed
)

func (s peerState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case statePreludeCid:
		return "prelude_cid"
	case statePreludeOffset:
		return "prelude_offset"
	case stateEstablished:
		return "established"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is one physical socket carrying a slice of one logical Connection
// (spec.md §3). Its side, connector flag, and endpoint are fixed at
// creation; everything else but conn/out/readGate is owned exclusively by
// the Reactor goroutine and must never be touched from the reader or writer
// goroutines directly - they only ever talk to a Peer through events, out,
// and readGate.
type Peer struct {
	id        uint64
	conn      net.Conn
	side      wire.Side
	connector bool
	endpoint  config.Endpoint
	desc      string

	connection *Connection
	state      peerState
	preludeBuf []byte

	bytesReceived uint64
	wasSourceFor  uint64
	wasLeaderAt   time.Time
	backpressured bool

	out      *outbox
	readGate *gate

	log zerolog.Logger
}

func newPeer(id uint64, side wire.Side, connector bool, endpoint config.Endpoint, desc string, log zerolog.Logger) *Peer {
	return &Peer{
		id:        id,
		side:      side,
		connector: connector,
		endpoint:  endpoint,
		desc:      desc,
		out:       newOutbox(),
		readGate:  newGate(),
		log:       log.With().Uint64("peer", id).Stringer("side", side).Str("desc", desc).Logger(),
	}
}

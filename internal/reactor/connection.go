package reactor

import "github.com/muhammadmahdiamirpour/raitcp/internal/wire"

// Connection is one logical mirrored TCP stream: the set of physical Peers
// carrying it on each side, plus the per-side byte watermarks that drive
// offset-based deduplication (spec.md §3). A Connection is local to one
// process: the LEFT process and the RIGHT process each keep their own
// Connection record for the same cid, and the two never share memory -
// they only agree via the bytes that cross the wire.
type Connection struct {
	cid           wire.ConnID
	peers         [2][]*Peer
	bytesReceived [2]uint64
	open          bool
}

func newConnectionRecord(cid wire.ConnID) *Connection {
	return &Connection{cid: cid, open: true}
}

func (c *Connection) attach(p *Peer) {
	c.peers[p.side] = append(c.peers[p.side], p)
}

func (c *Connection) detach(p *Peer) {
	list := c.peers[p.side]
	for i, sib := range list {
		if sib == p {
			c.peers[p.side] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (c *Connection) peersOn(s wire.Side) []*Peer {
	return c.peers[s]
}

// siblingSnapshot returns a defensive copy of peers[s], safe to range over
// while the original slice is mutated (e.g. by detach during the same pass).
func (c *Connection) siblingSnapshot(s wire.Side) []*Peer {
	return append([]*Peer(nil), c.peers[s]...)
}

func (c *Connection) empty() bool {
	return len(c.peers[wire.Left]) == 0 && len(c.peers[wire.Right]) == 0
}

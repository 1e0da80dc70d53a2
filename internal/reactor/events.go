package reactor

import "net"

// event is whatever the reader/writer/listener goroutines hand back to the
// single Reactor goroutine. Exactly one goroutine (Run's select loop) ever
// reads from the events channel, and it is the only goroutine that touches
// Connection/Peer fields other than conn, out, and readGate.
type event interface{}

type evAccepted struct {
	conn net.Conn
	addr string
}

type evListenerError struct {
	err error
}

type evData struct {
	peerID uint64
	data   []byte
}

type evEOF struct {
	peerID uint64
}

type evReadErr struct {
	peerID uint64
	err    error
}

type evWriteErr struct {
	peerID uint64
	err    error
}

type evDialResult struct {
	peerID uint64
	conn   net.Conn
	err    error
}

type evBacklogDrained struct {
	peerID uint64
}

package reactor

import "sync"

// gate lets the Reactor goroutine pause and resume a Peer's reader goroutine
// without touching the blocking net.Conn.Read call directly: the reader
// checks the gate between reads, so pausing simply means "stop asking the
// kernel for more data", which is exactly how TCP backpressure is supposed
// to work (the sender's write buffer fills, then its writes block).
type gate struct {
	mu   sync.Mutex
	open bool
	ch   chan struct{}
}

func newGate() *gate {
	return &gate{open: true, ch: make(chan struct{})}
}

// wait blocks if the gate is currently paused.
func (g *gate) wait() {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return
	}
	ch := g.ch
	g.mu.Unlock()
	<-ch
}

func (g *gate) pause() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
}

func (g *gate) resume() {
	g.mu.Lock()
	if !g.open {
		g.open = true
		close(g.ch)
		g.ch = make(chan struct{})
	}
	g.mu.Unlock()
}

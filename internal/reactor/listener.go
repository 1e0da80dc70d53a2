package reactor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/muhammadmahdiamirpour/raitcp/internal/config"
)

// listen opens the listening socket for cfg.ListenPort with SO_REUSEADDR set,
// mirroring raitcp.py's setsockopt(SOL_SOCKET, SO_REUSEADDR, 1) - without it,
// restarting either side right after a crash fails to rebind for the
// TIME_WAIT duration. reuseAddrControl is supplied per-platform.
func listen(ctx context.Context, cfg *config.Config) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	return lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.ListenPort))
}

type listener struct {
	ln  net.Listener
	log zerolog.Logger
}

func newListener(ln net.Listener, log zerolog.Logger) *listener {
	return &listener{ln: ln, log: log}
}

// run accepts connections until ctx is canceled or the listener is closed,
// handing each one to the Reactor as an evAccepted event. It is the only
// goroutine that calls Accept, so it never races with Close.
func (l *listener) run(ctx context.Context, events chan<- event) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			events <- evListenerError{err: err}
			continue
		}
		events <- evAccepted{conn: conn, addr: conn.RemoteAddr().String()}
	}
}

func (l *listener) Close() error {
	return l.ln.Close()
}

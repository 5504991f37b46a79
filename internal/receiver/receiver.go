// Package receiver implements the throttled consumer side of a trial: a TCP
// acceptor that deliberately reads slowly so the kernel's receive buffer
// fills and the advertised window collapses.
package receiver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"flowsweep/internal/model"
)

const (
	acceptTimeout = 5 * time.Second
	stopTimeout   = 2 * time.Second
)

// Receiver owns the trial's listening socket and the single accepted
// connection, serving it from a background goroutine.
type Receiver struct {
	cfg model.TrialConfig
	ln  *net.TCPListener

	mu   sync.Mutex
	conn *net.TCPConn

	bytes    atomic.Int64
	stop     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// Start binds and listens on the loopback port, returning only once the
// listener is ready to accept. The requested SO_RCVBUF is applied to the
// listening socket; the kernel may clamp it, which is tolerated. The read
// loop runs in a background goroutine until Stop or connection teardown.
func Start(cfg model.TrialConfig, port int) (*Receiver, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if cfg.RecvBuf <= 0 {
				return nil
			}
			return c.Control(func(fd uintptr) {
				// Best-effort: the OS silently clamps out-of-range values.
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuf)
			})
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	r := &Receiver{
		cfg:      cfg,
		ln:       ln.(*net.TCPListener),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go r.serve()
	return r, nil
}

// Bytes returns the running count of bytes consumed so far.
func (r *Receiver) Bytes() int64 {
	return r.bytes.Load()
}

// Stop signals the read loop to exit and closes both sockets. It is
// idempotent and waits a bounded time for the loop to finish.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		_ = r.ln.Close()
		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.Close()
		}
		r.mu.Unlock()
	})

	select {
	case <-r.finished:
	case <-time.After(stopTimeout):
	}
}

func (r *Receiver) serve() {
	defer close(r.finished)

	_ = r.ln.SetDeadline(time.Now().Add(acceptTimeout))
	conn, err := r.ln.AcceptTCP()
	if err != nil {
		// Accept timeout or listener closed: normal end of the trial.
		return
	}

	r.mu.Lock()
	select {
	case <-r.stop:
		r.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	r.conn = conn
	r.mu.Unlock()

	if r.cfg.RecvBuf > 0 {
		_ = conn.SetReadBuffer(r.cfg.RecvBuf)
	}

	size := r.cfg.ReadSize
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		if r.cfg.ReadDelay > 0 {
			select {
			case <-r.stop:
				return
			case <-time.After(r.cfg.ReadDelay):
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			r.bytes.Add(int64(n))
		}
		if err != nil {
			// EOF, reset, or closed by Stop: all normal terminations. The
			// bytes consumed so far remain the measurement.
			return
		}
	}
}

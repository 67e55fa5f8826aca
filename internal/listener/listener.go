// Package listener accepts detection clients one at a time.
package listener

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/session"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Listener binds the detection port and runs sessions sequentially.
// While a session is active no further connection is accepted.
type Listener struct {
	ln      net.Listener
	opts    session.Options
	log     *logger.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active *session.Session
}

// Listen binds addr (host:port) for TCP
func Listen(addr string, opts session.Options) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return New(ln, opts), nil
}

// New serves sessions on an existing listener
func New(ln net.Listener, opts session.Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Listener{
		ln:      ln,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Active returns the running session, or nil when idle
func (l *Listener) Active() *session.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Close stops accepting. A running session ends when its context is cancelled.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve accepts and runs sessions until ctx is cancelled or the listener is
// closed, in which case it returns nil. Session errors are logged and never
// stop the loop.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	l.log.Info("Listener", "Listening on %s", l.ln.Addr())

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			l.log.Warn("Listener", "Accept error: %v; retrying in %v", err, backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		l.serveConn(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	s := session.New(conn, l.opts)
	l.mu.Lock()
	l.active = s
	l.mu.Unlock()
	l.metrics.SessionsAccepted.Add(1)
	l.metrics.SessionsActive.Store(1)

	defer func() {
		l.mu.Lock()
		l.active = nil
		l.mu.Unlock()
		l.metrics.SessionsActive.Store(0)
	}()

	if err := s.Run(ctx); err != nil {
		l.log.Error("Listener", "Session %s from %s ended: %v", s.ID(), s.RemoteAddr(), err)
		return
	}
	l.log.Info("Listener", "Session %s ended after %d frames", s.ID(), s.Frames())
}

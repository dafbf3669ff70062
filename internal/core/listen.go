package core

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"protosrv/internal/capability"
	ncerr "protosrv/internal/errors"
	"protosrv/internal/metrics"
	"protosrv/internal/retry"
	"protosrv/internal/session"
	"protosrv/util"
)

// ListenMode is the connection acceptor: it binds a listener and runs
// the capability on every accepted connection in its own goroutine.
// All four protocols use it unchanged.
type ListenMode struct {
	Address    string // host:port to bind (or the gateway address when publishing)
	Protocol   string // label for logs and metrics
	Capability capability.Capability

	// IdleTimeout closes a connection that has not sent anything for
	// this long.  0 disables it.
	IdleTimeout time.Duration

	// AcceptRetries is the number of consecutive transient Accept
	// failures tolerated before Run gives up.  0 retries forever.
	AcceptRetries int

	// GracePeriod is how long shutdown waits for in-flight handlers
	// before closing their connections.
	GracePeriod time.Duration

	// Listen, when set, supplies the listener instead of net.Listen
	// (e.g. a port published on an SSH gateway).
	Listen func(ctx context.Context) (net.Listener, error)

	// OnListen, when set, is called with the bound address before the
	// first Accept.
	OnListen func(net.Addr)

	Logger  *util.Logger
	Metrics *metrics.Collector

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Run binds the listener and serves until ctx is cancelled.  A bind
// failure is returned before any connection is accepted.
func (m *ListenMode) Run(ctx context.Context) error {
	ln, err := m.listen(ctx)
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln)
}

func (m *ListenMode) listen(ctx context.Context) (net.Listener, error) {
	if m.Listen != nil {
		return m.Listen(ctx)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.Address)
	if err != nil {
		return nil, ncerr.Wrap("listen", m.Address, err)
	}
	return ln, nil
}

// Serve accepts connections from ln until ctx is cancelled, the
// listener is closed, or the accept retry budget runs out.  It takes
// ownership of ln.  On return every handler has finished.
func (m *ListenMode) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	m.Logger.Info("%s server listening on %s", m.Protocol, ln.Addr())
	if m.OnListen != nil {
		m.OnListen(ln.Addr())
	}

	for {
		conn, err := m.accept(ctx, ln)
		if err != nil {
			m.drain()
			if ctx.Err() != nil {
				m.Logger.Verbose("%s server stopped", m.Protocol)
				return nil
			}
			return ncerr.Wrap("accept", ln.Addr().String(), err)
		}

		m.track(conn)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.untrack(conn)
			m.serveConn(ctx, conn)
		}()
	}
}

// accept returns the next connection, riding out transient failures
// (EMFILE, ECONNABORTED, …) with backoff.
func (m *ListenMode) accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	b := retry.AcceptBackoff(m.AcceptRetries)
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.Logger.Warn("accept: %v; retrying in %s (attempt %d)", err, wait, attempt)
	}

	var conn net.Conn
	err := b.Do(ctx, func(int) error {
		c, err := ln.Accept()
		if err == nil {
			conn = c
			return nil
		}
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		m.Metrics.AcceptError()
		if !ncerr.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	return conn, err
}

func (m *ListenMode) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	m.Metrics.ConnectionOpened(m.Protocol)
	defer m.Metrics.ConnectionClosed(m.Protocol)

	if m.IdleTimeout > 0 {
		conn = &idleConn{Conn: conn, timeout: m.IdleTimeout}
	}

	sess := session.New(conn, m.Protocol, m.Logger, m.Metrics)
	sess.Logger.Verbose("connection from %s", util.PeerString(sess.Peer))

	err := m.Capability.Handle(ctx, sess)
	switch {
	case err == nil, ncerr.IsClosed(err):
	case errors.Is(err, os.ErrDeadlineExceeded):
		sess.Logger.Verbose("%v: idle for %s, closing", ncerr.ErrTimeout, m.IdleTimeout)
	default:
		sess.Logger.Warn("%v", err)
	}
	sess.Logger.Debug("closed after %s", sess.Age())
}

// ── Shutdown ─────────────────────────────────────────────────────────

func (m *ListenMode) track(conn net.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns == nil {
		m.conns = make(map[net.Conn]struct{})
	}
	m.conns[conn] = struct{}{}
}

func (m *ListenMode) untrack(conn net.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, conn)
}

// drain waits up to GracePeriod for handlers to finish, then closes
// the connections of the ones still running and waits for them.
func (m *ListenMode) drain() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(m.GracePeriod):
	}

	m.mu.Lock()
	n := len(m.conns)
	for conn := range m.conns {
		conn.Close()
	}
	m.mu.Unlock()
	m.Logger.Verbose("grace period over, closed %d connections", n)
	<-done
}

// ── idleConn ─────────────────────────────────────────────────────────

// idleConn pushes the read deadline forward before every Read.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// CloseWrite forwards a half-close to the wrapped connection.
func (c *idleConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

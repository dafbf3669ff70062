// Package session represents a single accepted connection: the
// connection itself, its peer address, and the per-connection logger
// and metrics every protocol handler works with.
//
// Handlers receive a *Session instead of a bare net.Conn so that they
// stay decoupled from how the connection was obtained (local listener
// or SSH-forwarded channel) and can be driven by net.Pipe in tests.
package session

import (
	"net"
	"time"

	"github.com/google/uuid"

	"protosrv/internal/metrics"
	"protosrv/util"
)

// Session encapsulates the runtime context for a single connection.
type Session struct {
	ID       string
	Conn     net.Conn
	Peer     net.Addr
	Protocol string
	Started  time.Time
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// New creates a Session bound to conn.  The logger is derived from
// logger and tagged with the protocol and a short session id.
func New(conn net.Conn, protocol string, logger *util.Logger, m *metrics.Collector) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		Conn:     conn,
		Peer:     conn.RemoteAddr(),
		Protocol: protocol,
		Started:  time.Now(),
		Logger:   logger.With(protocol + "/" + id[:8]),
		Metrics:  m,
	}
}

// Age returns how long the session has been open.
func (s *Session) Age() time.Duration {
	return time.Since(s.Started).Truncate(time.Millisecond)
}

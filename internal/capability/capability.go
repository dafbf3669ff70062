// Package capability defines what happens over an accepted
// connection.  Each Capability implements one wire protocol (echo,
// prime, means, chat) and operates on a Session rather than a raw
// net.Conn, which keeps protocols testable and decoupled from how the
// connection was obtained.
package capability

import (
	"context"

	"protosrv/internal/session"
)

// Capability handles a single connection according to one protocol.
type Capability interface {
	// Handle serves the session until the peer disconnects, the
	// protocol decides to hang up, or the context is cancelled.  The
	// acceptor closes the connection after Handle returns.
	Handle(ctx context.Context, sess *session.Session) error
}

// Func adapts an ordinary function to the Capability interface.
type Func func(ctx context.Context, sess *session.Session) error

// Handle calls f(ctx, sess).
func (f Func) Handle(ctx context.Context, sess *session.Session) error {
	return f(ctx, sess)
}

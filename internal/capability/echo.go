package capability

import (
	"context"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/session"
	"protosrv/util"
)

// Echo writes every byte it receives straight back to the peer.  When
// the peer finishes sending, the write side is half-closed so the peer
// sees EOF after the last echoed byte.
type Echo struct{}

// Handle implements Capability.
func (Echo) Handle(_ context.Context, sess *session.Session) error {
	cw := &util.CountingWriter{W: sess.Conn}
	_, err := util.CopyPooled(cw, sess.Conn)

	sess.Metrics.BytesReceived(sess.Protocol, cw.N)
	sess.Metrics.BytesSent(sess.Protocol, cw.N)
	sess.Logger.Verbose("echoed %d bytes in %s", cw.N, sess.Age())

	if err != nil && !ncerr.IsClosed(err) {
		return ncerr.Wrap("echo", util.PeerString(sess.Peer), err)
	}
	util.CloseWrite(sess.Conn)
	return nil
}

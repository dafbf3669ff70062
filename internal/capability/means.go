package capability

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/means"
	"protosrv/internal/session"
	"protosrv/util"
)

// Wire format: one op byte followed by two big-endian int32 operands.
const (
	meansMessageSize = 9
	meansOpInsert    = 'I'
	meansOpQuery     = 'Q'
)

// Means serves the binary price protocol.  Every connection gets its
// own means.Store:
//
//	'I' timestamp price   insert (same timestamp overwrites)
//	'Q' mintime maxtime   reply with the int32 mean of prices in range
//
// Any other op closes the connection.
type Means struct{}

// Handle implements Capability.
func (Means) Handle(_ context.Context, sess *session.Session) error {
	store := means.NewStore()
	r := bufio.NewReader(sess.Conn)
	cw := &util.CountingWriter{W: sess.Conn}
	w := bufio.NewWriter(cw)
	var received int64
	defer func() {
		sess.Metrics.BytesReceived(sess.Protocol, received)
		sess.Metrics.BytesSent(sess.Protocol, cw.N)
		sess.Logger.Verbose("stored %d prices in %s", store.Len(), sess.Age())
	}()

	var msg [meansMessageSize]byte
	var reply [4]byte
	for {
		if _, err := io.ReadFull(r, msg[:]); err != nil {
			if ncerr.IsClosed(err) {
				return nil
			}
			return ncerr.Wrap("read", util.PeerString(sess.Peer), err)
		}
		received += meansMessageSize

		a := int32(binary.BigEndian.Uint32(msg[1:5]))
		b := int32(binary.BigEndian.Uint32(msg[5:9]))

		switch msg[0] {
		case meansOpInsert:
			sess.Metrics.Request(sess.Protocol, "insert")
			store.Insert(a, b)
		case meansOpQuery:
			sess.Metrics.Request(sess.Protocol, "query")
			binary.BigEndian.PutUint32(reply[:], uint32(store.Mean(a, b)))
			if _, err := w.Write(reply[:]); err != nil {
				return ncerr.Wrap("write", util.PeerString(sess.Peer), err)
			}
		default:
			sess.Metrics.ProtocolError(sess.Protocol)
			sess.Logger.Verbose("%v: %q", ncerr.ErrUnknownOperation, msg[0])
			// Replies already computed still go out before the hang-up.
			_ = w.Flush()
			return nil
		}

		// Batch replies while the client is pipelining.
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return ncerr.Wrap("write", util.PeerString(sess.Peer), err)
			}
		}
	}
}

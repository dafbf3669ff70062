package util

import (
	"io"
	"net"
)

// DefaultBufSize is the standard buffer size for network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// CountingWriter counts the bytes that pass through to W.
type CountingWriter struct {
	W io.Writer
	N int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}

// CopyPooled copies src to dst through a pooled buffer and returns the
// number of bytes written.  It is the hot path of the echo service.
func CopyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// CloseWrite half-closes conn when the transport supports it, telling
// the peer we are done sending while leaving the read side open.  It
// reports whether a half-close was performed.
func CloseWrite(conn net.Conn) bool {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := conn.(closeWriter); ok {
		return cw.CloseWrite() == nil
	}
	return false
}

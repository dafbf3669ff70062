package tunnel

// forward.go - a net.Listener over SSH forwarded-tcpip channels.
//
// ssh.Client.Listen matches forwarded-tcpip channels against the exact
// bind address it sent.  Public tunnel services often report a
// different one ("0.0.0.0" for ""), and the library then rejects every
// channel.  forwardListener registers its own handler and accepts all
// forwarded channels unconditionally.

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// channelForwardMsg is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardedTCPPayload is the channel-open payload of
// "forwarded-tcpip" (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// forwardReply is the optional reply to "tcpip-forward" when port 0
// was requested.
type forwardReply struct {
	Port uint32
}

type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// listenRemoteForward asks the gateway to listen on bindAddr:bindPort
// and returns a listener for the connections it forwards.
func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (*forwardListener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, payload, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s denied by gateway",
			net.JoinHostPort(bindAddr, strconv.Itoa(bindPort)))
	}

	port := uint32(bindPort)
	var reply forwardReply
	if bindPort == 0 && ssh.Unmarshal(payload, &reply) == nil {
		port = reply.Port
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// Accept waits for the next forwarded connection.  It returns
// net.ErrClosed after Close and when the SSH connection is gone.
func (l *forwardListener) Accept() (net.Conn, error) {
	for {
		select {
		case <-l.done:
			return nil, net.ErrClosed
		case newCh, ok := <-l.incoming:
			if !ok {
				return nil, net.ErrClosed
			}
			ch, reqs, err := newCh.Accept()
			if err != nil {
				// The gateway gave up on this one; wait for the next.
				continue
			}
			go ssh.DiscardRequests(reqs)
			return &chanConn{
				Channel: ch,
				laddr:   l.Addr(),
				raddr:   originAddr(newCh.ExtraData()),
			}, nil
		}
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// Addr reports the address the gateway listens on.
func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

func originAddr(extra []byte) net.Addr {
	var payload forwardedTCPPayload
	if err := ssh.Unmarshal(extra, &payload); err != nil {
		return &net.TCPAddr{}
	}
	return &net.TCPAddr{IP: net.ParseIP(payload.OriginAddr), Port: int(payload.OriginPort)}
}

// ── chanConn ─────────────────────────────────────────────────────────

// chanConn wraps an ssh.Channel to satisfy net.Conn.  Deadlines are
// not supported by SSH channels and are accepted as no-ops.
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr                { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *chanConn) SetDeadline(_ time.Time) error      { return nil }
func (c *chanConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }

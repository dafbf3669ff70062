package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testGateway is a minimal in-process SSH server that grants
// tcpip-forward requests and lets the test push forwarded connections
// to the connected client.
type testGateway struct {
	ln net.Listener

	mu       sync.Mutex
	conns    []*ssh.ServerConn
	forwards []channelForwardMsg
	newConn  chan *ssh.ServerConn
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	g := &testGateway{ln: ln, newConn: make(chan *ssh.ServerConn, 8)}
	t.Cleanup(func() { g.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go g.serve(nc, cfg)
		}
	}()
	return g
}

func (g *testGateway) serve(nc net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, sconn)
	g.mu.Unlock()

	go func() {
		for ch := range chans {
			ch.Reject(ssh.Prohibited, "no sessions here")
		}
	}()
	go func() {
		for req := range reqs {
			switch req.Type {
			case "tcpip-forward":
				var msg channelForwardMsg
				ssh.Unmarshal(req.Payload, &msg)
				g.mu.Lock()
				g.forwards = append(g.forwards, msg)
				g.mu.Unlock()
				req.Reply(true, nil)
				g.newConn <- sconn
			case "keepalive@openssh.com":
				req.Reply(true, nil)
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()
}

// forward opens a forwarded-tcpip channel from origin on sconn.  It
// blocks until the client accepts the channel.
func (g *testGateway) forward(sconn *ssh.ServerConn, port int, originIP string, originPort int) (ssh.Channel, error) {
	payload := forwardedTCPPayload{
		Addr:       "0.0.0.0", // deliberately not what the client asked for
		Port:       uint32(port),
		OriginAddr: originIP,
		OriginPort: uint32(originPort),
	}
	ch, reqs, err := sconn.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
	if err != nil {
		return nil, err
	}
	go ssh.DiscardRequests(reqs)
	return ch, nil
}

func (g *testGateway) port() int {
	return g.ln.Addr().(*net.TCPAddr).Port
}

func (g *testGateway) Close() {
	g.ln.Close()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.Close()
	}
}

package tunnel

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/retry"
	"protosrv/util"
)

// PublishConfig describes where and how to publish a server.
type PublishConfig struct {
	SSH *SSHConfig

	// RemoteBindAddress and RemotePort are requested on the gateway.
	// An empty bind address lets the gateway decide.
	RemoteBindAddress string
	RemotePort        int

	KeepAliveInterval time.Duration // 0 disables keepalive
	AutoReconnect     bool

	// Reconnect is the schedule for re-establishing a lost gateway
	// connection; nil selects retry.ReconnectBackoff.
	Reconnect *retry.Backoff
}

// Publisher is a net.Listener whose connections arrive through an SSH
// gateway.  When the gateway connection drops and AutoReconnect is set,
// Accept transparently dials again and re-requests the forward.
type Publisher struct {
	config *PublishConfig
	ssh    *SSHConfig
	logger *util.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	client   *ssh.Client
	listener *forwardListener
	closed   bool
}

// Publish connects to the gateway and requests the remote listener.
// The returned Publisher stays usable until Close or until ctx ends.
func Publish(ctx context.Context, cfg *PublishConfig, logger *util.Logger) (*Publisher, error) {
	p := &Publisher{config: cfg, ssh: cfg.SSH.withDefaults(), logger: logger}
	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := p.connect(); err != nil {
		p.cancel()
		return nil, err
	}
	p.logger.Info("published on %s via %s", p.remoteAddr(), p.ssh.Addr())
	return p, nil
}

// Accept returns the next connection forwarded by the gateway.
func (p *Publisher) Accept() (net.Conn, error) {
	for {
		p.mu.Lock()
		ln, closed := p.listener, p.closed
		p.mu.Unlock()
		if closed || ln == nil {
			return nil, net.ErrClosed
		}

		conn, err := ln.Accept()
		if err == nil {
			return conn, nil
		}
		if p.isClosed() {
			return nil, net.ErrClosed
		}
		if !p.config.AutoReconnect {
			return nil, ncerr.Wrap("accept", p.remoteAddr(), ncerr.ErrNotConnected)
		}
		p.logger.Warn("gateway %s lost, reconnecting", p.ssh.Addr())
		if err := p.reconnect(); err != nil {
			return nil, ncerr.Wrap("accept", p.remoteAddr(), err)
		}
	}
}

// Close cancels the remote forward and disconnects from the gateway.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ln, client := p.listener, p.client
	p.listener, p.client = nil, nil
	p.mu.Unlock()

	p.cancel()
	if ln != nil {
		ln.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// Addr reports the address on the gateway.
func (p *Publisher) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return p.listener.Addr()
	}
	return &net.TCPAddr{IP: net.ParseIP(p.config.RemoteBindAddress), Port: p.config.RemotePort}
}

func (p *Publisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Publisher) remoteAddr() string {
	return net.JoinHostPort(p.config.RemoteBindAddress, strconv.Itoa(p.config.RemotePort))
}

// connect dials the gateway, requests the forward and starts the
// keepalive loop for the new client.
func (p *Publisher) connect() error {
	client, err := dialSSH(p.ctx, p.ssh, p.logger)
	if err != nil {
		return err
	}
	ln, err := listenRemoteForward(client, p.config.RemoteBindAddress, p.config.RemotePort)
	if err != nil {
		client.Close()
		return ncerr.WrapSSH("forward", p.ssh.Host, p.ssh.Port, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		ln.Close()
		client.Close()
		return net.ErrClosed
	}
	p.client, p.listener = client, ln
	p.mu.Unlock()

	if p.config.KeepAliveInterval > 0 {
		go p.keepalive(client)
	}
	return nil
}

// reconnect tears down the dead client and dials again with backoff.
func (p *Publisher) reconnect() error {
	p.mu.Lock()
	if p.client != nil {
		p.client.Close()
	}
	p.client, p.listener = nil, nil
	p.mu.Unlock()

	b := retry.ReconnectBackoff()
	if p.config.Reconnect != nil {
		sched := *p.config.Reconnect
		b = &sched
	}
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("reconnect attempt %d failed: %v (next in %s)", attempt, err, wait.Truncate(time.Millisecond))
	}
	err := b.Do(p.ctx, func(int) error {
		err := p.connect()
		if errors.Is(err, net.ErrClosed) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}
	p.logger.Info("reconnected to %s", p.ssh.Addr())
	return nil
}

// keepalive pings the gateway until client dies or the publisher
// closes.  A failed ping closes client, which unblocks Accept.
func (p *Publisher) keepalive(client *ssh.Client) {
	ticker := time.NewTicker(p.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				p.logger.Warn("SSH keepalive failed: %v", err)
				client.Close()
				return
			}
			p.logger.Debug("SSH keepalive OK")
		}
	}
}

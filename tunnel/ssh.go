// Package tunnel publishes a local protocol server on a remote SSH
// gateway, the Go equivalent of "ssh -R".  The gateway's forwarded
// connections are surfaced as an ordinary net.Listener so the server's
// acceptor treats them exactly like local ones.
package tunnel

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "protosrv/internal/errors"
	"protosrv/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// AllowKeyboardInteractive adds keyboard-interactive with empty
	// answers as a last auth method.  Public tunnel services
	// (serveo.net, localhost.run) authenticate that way.
	AllowKeyboardInteractive bool
}

// Addr returns the gateway's host:port.
func (c *SSHConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *SSHConfig) withDefaults() *SSHConfig {
	out := *c
	if out.Port == 0 {
		out.Port = 22
	}
	if out.ConnTimeout == 0 {
		out.ConnTimeout = 30 * time.Second
	}
	return &out
}

// dialSSH establishes an authenticated SSH connection to the gateway.
// Pre-auth banners and any session output the gateway sends (public
// services print the assigned URL this way) are logged at info.
func dialSSH(ctx context.Context, cfg *SSHConfig, logger *util.Logger) (*ssh.Client, error) {
	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}

	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         cfg.ConnTimeout,
		BannerCallback: func(message string) error {
			logger.Info("%s", message)
			return nil
		},
	}

	addr := cfg.Addr()
	logger.Debug("SSH: dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, ncerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	go drainServerMessages(client, logger)
	return client, nil
}

// drainServerMessages opens a shell session and copies its output to
// the logger.  It exits quietly when the gateway refuses sessions.
func drainServerMessages(client *ssh.Client, logger *util.Logger) {
	sess, err := client.NewSession()
	if err != nil {
		logger.Debug("SSH: no session for server messages: %v", err)
		return
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return
	}
	_ = sess.Shell()

	var wg sync.WaitGroup
	printStream := func(r io.Reader) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, readErr := r.Read(buf)
			if n > 0 {
				logger.Info("gateway: %s", string(buf[:n]))
			}
			if readErr != nil {
				return
			}
		}
	}

	wg.Add(2)
	go printStream(stdout)
	go printStream(stderr)
	wg.Wait()
}

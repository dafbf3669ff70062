package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultHost and DefaultPort are the loopback bind address.
	DefaultHost = "127.0.0.1"
	DefaultPort = 4000

	// DefaultPublicHost and DefaultPublicPort are used with --public.
	DefaultPublicHost = "0.0.0.0"
	DefaultPublicPort = 45962

	// DefaultMaxLineLength bounds one line of the prime and chat
	// protocols, newline included.
	DefaultMaxLineLength = 64 * 1024

	// DefaultOutboxSize is the number of messages queued for a chat
	// member before it is evicted as too slow.
	DefaultOutboxSize = 256

	// DefaultAcceptRetries is how many consecutive transient accept
	// failures are tolerated before the server gives up.
	DefaultAcceptRetries = 10

	// DefaultGracePeriod is how long shutdown waits for handlers to
	// finish.
	DefaultGracePeriod = 5 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultConnTimeout is the SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second
)

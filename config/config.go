// Package config defines the runtime configuration for protosrv and
// provides helpers for parsing protocol kinds and publish (SSH gateway)
// specifications.
package config

import (
	"fmt"
	"net"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	ncerr "protosrv/internal/errors"
)

// Kind names the wire protocol a server speaks.
type Kind string

const (
	KindEcho  Kind = "echo"
	KindPrime Kind = "prime"
	KindMeans Kind = "means"
	KindChat  Kind = "chat"
)

// Kinds lists every supported protocol in display order.
func Kinds() []Kind {
	return []Kind{KindEcho, KindPrime, KindMeans, KindChat}
}

// ParseKind maps a command-line word to a Kind (case-insensitive).
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown protocol %q (want echo, prime, means or chat)", s)
}

// Config holds every tuneable for a single protosrv process.  The
// flag tag names the CLI flag a field is set by; validation errors
// refer to fields by it.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Kind          Kind          `flag:"protocol" validate:"required,oneof=echo prime means chat"`
	Host          string        `flag:"host"`
	Port          int           `flag:"port" validate:"gte=0,lte=65535"`
	Public        bool          `flag:"public"`
	MaxLineLength int           `flag:"max-line" validate:"gte=0"`
	OutboxSize    int           `flag:"outbox" validate:"gte=0"`
	IdleTimeout   time.Duration `flag:"idle-timeout" validate:"gte=0"`
	AcceptRetries int           `flag:"accept-retries" validate:"gte=0"`
	GracePeriod   time.Duration `flag:"grace" validate:"gte=0"`
	MetricsAddr   string        `flag:"metrics-addr" validate:"omitempty,hostname_port"`

	// ── Publish through an SSH gateway (-R) ─────────────────────────
	PublishSpec       string // raw [user@]host[:port] from -R
	PublishEnabled    bool
	PublishUser       string
	PublishHost       string
	PublishPort       int    `flag:"publish" validate:"gte=0,lte=65535"`
	RemotePort        int    `flag:"remote-port" validate:"gte=0,lte=65535"`
	RemoteBindAddress string `flag:"remote-bind"`
	SSHKeyPath        string `flag:"ssh-key"`
	SSHPassword       bool   // true → prompt interactively
	UseSSHAgent       bool
	StrictHostKey     bool
	KnownHostsPath    string
	KeepAliveInterval int `flag:"keepalive" validate:"gte=0"` // seconds
	AutoReconnect     bool

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Kind:              KindChat,
		MaxLineLength:     DefaultMaxLineLength,
		OutboxSize:        DefaultOutboxSize,
		AcceptRetries:     DefaultAcceptRetries,
		GracePeriod:       DefaultGracePeriod,
		KeepAliveInterval: DefaultKeepAliveInterval,
		AutoReconnect:     true,
	}
}

// ListenAddress returns the host:port the server binds.  Unset host
// and port fall back to the loopback defaults, or to the public ones
// when Public is set.
func (c *Config) ListenAddress() string {
	host, port := DefaultHost, DefaultPort
	if c.Public {
		host, port = DefaultPublicHost, DefaultPublicPort
	}
	if c.Host != "" {
		host = c.Host
	}
	if c.Port != 0 {
		port = c.Port
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ── Publish-spec parser ──────────────────────────────────────────────

// publishRe matches [user@]host[:port].
var publishRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParsePublishSpec extracts user, host, and port from a string such as
// "deploy@gateway.example.com:2222".  Port defaults to 22.
func ParsePublishSpec(spec string) (user, host string, port int, err error) {
	m := publishRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid publish spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid SSH port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyPublishSpec parses PublishSpec (when set) into the Publish*
// fields and enables publishing.
func (c *Config) ApplyPublishSpec() error {
	if c.PublishSpec == "" {
		return nil
	}
	user, host, port, err := ParsePublishSpec(c.PublishSpec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "publish",
			Value:   c.PublishSpec,
			Message: err.Error(),
			Hint:    "example: -R deploy@gateway.example.com:22 --remote-port 9000",
		}
	}
	c.PublishEnabled = true
	c.PublishUser, c.PublishHost, c.PublishPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("flag"); name != "" {
			return name
		}
		return strings.ToLower(f.Name)
	})
	return v
}

// hints gives a follow-up suggestion for fields users commonly get
// wrong.
var hints = map[string]string{
	"protocol":     "choose one of: echo, prime, means, chat (see --list)",
	"port":         "use a port between 1 and 65535, or 0 for the default",
	"metrics-addr": "example: --metrics-addr 127.0.0.1:9100",
	"max-line":     "0 selects the default of 64 KiB",
	"outbox":       "0 selects the default queue size",
}

// Validate checks that the configuration is internally consistent.
// Every failure is an *errors.ConfigError carrying a hint where one
// helps.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if ncerr.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ncerr.ConfigError{
				Field:   fe.Field(),
				Value:   fe.Value(),
				Message: fmt.Sprintf("fails %q", fe.Tag()),
				Hint:    hints[fe.Field()],
			}
		}
		return err
	}

	if c.PublishEnabled {
		if c.PublishHost == "" {
			return &ncerr.ConfigError{Field: "publish", Message: "SSH gateway host is required"}
		}
		if c.RemotePort == 0 {
			return &ncerr.ConfigError{
				Field:   "remote-port",
				Message: "publishing requires the port to open on the gateway",
				Hint:    "add --remote-port <port>",
			}
		}
		if c.SSHPassword && c.UseSSHAgent {
			return &ncerr.ConfigError{
				Field:   "ssh-password",
				Value:   true,
				Message: "--ssh-password and --ssh-agent are mutually exclusive",
			}
		}
	} else if c.RemotePort != 0 {
		return &ncerr.ConfigError{
			Field:   "remote-port",
			Value:   c.RemotePort,
			Message: "only meaningful when publishing",
			Hint:    "add -R [user@]gateway[:port]",
		}
	}
	return nil
}

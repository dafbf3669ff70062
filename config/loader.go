package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables, optionally seeded from a .env file (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the PROTOSRV_ prefix.  Pointer fields
// stay nil when the variable is unset, so only what the environment
// actually names overrides the config.

type envOverlay struct {
	Kind          *string        `env:"PROTOSRV_PROTOCOL"`
	Host          *string        `env:"PROTOSRV_HOST"`
	Port          *int           `env:"PROTOSRV_PORT"`
	Public        *bool          `env:"PROTOSRV_PUBLIC"`
	MaxLineLength *int           `env:"PROTOSRV_MAX_LINE"`
	OutboxSize    *int           `env:"PROTOSRV_OUTBOX"`
	IdleTimeout   *time.Duration `env:"PROTOSRV_IDLE_TIMEOUT"`
	AcceptRetries *int           `env:"PROTOSRV_ACCEPT_RETRIES"`
	GracePeriod   *time.Duration `env:"PROTOSRV_GRACE"`
	MetricsAddr   *string        `env:"PROTOSRV_METRICS_ADDR"`

	PublishSpec       *string `env:"PROTOSRV_PUBLISH"`
	RemotePort        *int    `env:"PROTOSRV_REMOTE_PORT"`
	RemoteBindAddress *string `env:"PROTOSRV_REMOTE_BIND_ADDRESS"`
	SSHKeyPath        *string `env:"PROTOSRV_SSH_KEY"`
	SSHPassword       *bool   `env:"PROTOSRV_SSH_PASSWORD"`
	UseSSHAgent       *bool   `env:"PROTOSRV_SSH_AGENT"`
	StrictHostKey     *bool   `env:"PROTOSRV_STRICT_HOSTKEY"`
	KnownHostsPath    *string `env:"PROTOSRV_KNOWN_HOSTS"`
	KeepAliveInterval *int    `env:"PROTOSRV_KEEP_ALIVE"`
	AutoReconnect     *bool   `env:"PROTOSRV_AUTO_RECONNECT"`

	Verbose *int `env:"PROTOSRV_VERBOSE"`
}

// LoadDotEnv loads variables from the given .env files (default
// ".env") into the process environment without overriding variables
// that are already set.  A missing default file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}
	return godotenv.Load(files...)
}

// LoadFromEnv overlays PROTOSRV_* environment variables onto cfg.
// This should be called BEFORE CLI flag parsing so that flags take
// precedence.
func LoadFromEnv(cfg *Config) error {
	var o envOverlay
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return err
	}
	o.apply(cfg)
	return nil
}

// LoadFromEnvSet is LoadFromEnv over an explicit variable set.
func LoadFromEnvSet(cfg *Config, es env.EnvSet) error {
	var o envOverlay
	if err := env.Unmarshal(es, &o); err != nil {
		return err
	}
	o.apply(cfg)
	return nil
}

func (o *envOverlay) apply(cfg *Config) {
	if o.Kind != nil {
		cfg.Kind = Kind(*o.Kind)
	}
	set(&cfg.Host, o.Host)
	set(&cfg.Port, o.Port)
	set(&cfg.Public, o.Public)
	set(&cfg.MaxLineLength, o.MaxLineLength)
	set(&cfg.OutboxSize, o.OutboxSize)
	set(&cfg.IdleTimeout, o.IdleTimeout)
	set(&cfg.AcceptRetries, o.AcceptRetries)
	set(&cfg.GracePeriod, o.GracePeriod)
	set(&cfg.MetricsAddr, o.MetricsAddr)

	set(&cfg.PublishSpec, o.PublishSpec)
	set(&cfg.RemotePort, o.RemotePort)
	set(&cfg.RemoteBindAddress, o.RemoteBindAddress)
	set(&cfg.SSHKeyPath, o.SSHKeyPath)
	set(&cfg.SSHPassword, o.SSHPassword)
	set(&cfg.UseSSHAgent, o.UseSSHAgent)
	set(&cfg.StrictHostKey, o.StrictHostKey)
	set(&cfg.KnownHostsPath, o.KnownHostsPath)
	set(&cfg.KeepAliveInterval, o.KeepAliveInterval)
	set(&cfg.AutoReconnect, o.AutoReconnect)

	set(&cfg.Verbose, o.Verbose)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

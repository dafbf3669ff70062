package core

import (
	"context"
	"fmt"
	"net"
	"time"

	"protosrv/config"
	"protosrv/internal/capability"
	"protosrv/internal/chat"
	"protosrv/internal/metrics"
	"protosrv/tunnel"
	"protosrv/util"
)

// Build constructs the Mode described by cfg: the protocol server,
// optionally published through an SSH gateway, plus the metrics
// endpoint when one is configured.  m may be nil.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	c, err := buildCapability(cfg, m)
	if err != nil {
		return nil, err
	}

	server := &ListenMode{
		Address:       cfg.ListenAddress(),
		Protocol:      string(cfg.Kind),
		Capability:    c,
		IdleTimeout:   cfg.IdleTimeout,
		AcceptRetries: cfg.AcceptRetries,
		GracePeriod:   cfg.GracePeriod,
		Logger:        logger,
		Metrics:       m,
	}
	if cfg.PublishEnabled {
		pc := buildPublishConfig(cfg)
		server.Address = fmt.Sprintf("%s:%d (via %s)", cfg.RemoteBindAddress, cfg.RemotePort, pc.SSH.Addr())
		server.Listen = func(ctx context.Context) (net.Listener, error) {
			p, err := tunnel.Publish(ctx, pc, logger)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}

	if cfg.MetricsAddr == "" {
		return server, nil
	}
	return Group{server, &MetricsMode{Address: cfg.MetricsAddr, Collector: m, Logger: logger}}, nil
}

// buildCapability selects the per-connection protocol.
func buildCapability(cfg *config.Config, m *metrics.Collector) (capability.Capability, error) {
	switch cfg.Kind {
	case config.KindEcho:
		return capability.Echo{}, nil
	case config.KindPrime:
		return capability.NewPrime(cfg.MaxLineLength), nil
	case config.KindMeans:
		return capability.Means{}, nil
	case config.KindChat:
		return chat.NewRoom(chat.NewRegistry(m), cfg.MaxLineLength, cfg.OutboxSize), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", cfg.Kind)
	}
}

func buildPublishConfig(cfg *config.Config) *tunnel.PublishConfig {
	var keepAlive time.Duration
	if cfg.KeepAliveInterval > 0 {
		keepAlive = time.Duration(cfg.KeepAliveInterval) * time.Second
	}
	return &tunnel.PublishConfig{
		SSH: &tunnel.SSHConfig{
			User:                     cfg.PublishUser,
			Host:                     cfg.PublishHost,
			Port:                     cfg.PublishPort,
			KeyPath:                  cfg.SSHKeyPath,
			PromptPass:               cfg.SSHPassword,
			UseAgent:                 cfg.UseSSHAgent,
			StrictHostKey:            cfg.StrictHostKey,
			KnownHosts:               cfg.KnownHostsPath,
			ConnTimeout:              config.DefaultConnTimeout,
			AllowKeyboardInteractive: true,
		},
		RemoteBindAddress: cfg.RemoteBindAddress,
		RemotePort:        cfg.RemotePort,
		KeepAliveInterval: keepAlive,
		AutoReconnect:     cfg.AutoReconnect,
	}
}

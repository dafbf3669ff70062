// Package cmd wires up the CLI flags and dispatches to the core
// builder.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	flag "github.com/spf13/pflag"

	"protosrv/config"
	"protosrv/internal/core"
	"protosrv/internal/metrics"
	"protosrv/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X protosrv/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --version, --list and --dry-run output.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args and runs the selected protocol server until ctx
// is cancelled.
func Execute(ctx context.Context, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf(".env: %w", err)
	}
	cfg := config.New()
	if err := config.LoadFromEnv(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	fs := flag.NewFlagSet("protosrv", flag.ContinueOnError)

	// ── server ───────────────────────────────────────────────────
	fs.BoolVar(&cfg.Public, "public", cfg.Public, "Bind 0.0.0.0:45962 instead of 127.0.0.1:4000")
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Bind host (overrides the default)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Bind port (overrides the default)")
	fs.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "Maximum line length in bytes (prime, chat)")
	fs.IntVar(&cfg.OutboxSize, "outbox", cfg.OutboxSize, "Messages queued per chat member before eviction")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close connections idle this long (0 = never)")
	fs.IntVar(&cfg.AcceptRetries, "accept-retries", cfg.AcceptRetries, "Consecutive transient accept failures tolerated (0 = unlimited)")
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "Shutdown grace period for open connections")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on host:port")

	// ── publish via SSH gateway ──────────────────────────────────
	fs.StringVarP(&cfg.PublishSpec, "publish", "R", cfg.PublishSpec, "Publish on an SSH gateway [user@]host[:port]")
	fs.IntVar(&cfg.RemotePort, "remote-port", cfg.RemotePort, "Port to open on the gateway")
	fs.StringVar(&cfg.RemoteBindAddress, "remote-bind", cfg.RemoteBindAddress, "Address to bind on the gateway")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.IntVar(&cfg.KeepAliveInterval, "keepalive", cfg.KeepAliveInterval, "SSH keepalive interval in seconds (0 = off)")
	fs.BoolVar(&cfg.AutoReconnect, "reconnect", cfg.AutoReconnect, "Reconnect to the gateway when the link drops")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate configuration and exit")
	var timestamps bool
	fs.BoolVar(&timestamps, "timestamps", false, "Prefix log lines with the time")

	var showVersion, showHelp, showList bool
	fs.BoolVar(&showList, "list", false, "List the supported protocols")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case showHelp || len(args) == 0:
		printUsage(fs)
		return nil
	case showVersion:
		fmt.Fprintf(stdout, "protosrv %s\n", version)
		return nil
	case showList:
		printProtocols(stdout)
		return nil
	}

	// ── positional argument ──────────────────────────────────────
	switch rest := fs.Args(); len(rest) {
	case 0: // protocol from PROTOSRV_PROTOCOL or the default
	case 1:
		kind, err := config.ParseKind(rest[0])
		if err != nil {
			return err
		}
		cfg.Kind = kind
	default:
		return fmt.Errorf("expected one protocol, got %q", strings.Join(rest, " "))
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.ApplyPublishSpec(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.DryRun {
		printSummary(stdout, cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if timestamps {
		logger.SetTimestamps(true)
	}
	m := metrics.New()

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}
	err = mode.Run(ctx)
	logger.Verbose("final metrics: %s", m.JSON())
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

type protocolInfo struct {
	kind        config.Kind
	framing     string
	description string
}

var protocols = []protocolInfo{ //nolint:gochecknoglobals
	{config.KindEcho, "raw bytes", "echoes everything back, then half-closes"},
	{config.KindPrime, "JSON lines", `{"method":"isPrime","number":N} → {"method":"isPrime","prime":bool}`},
	{config.KindMeans, "9-byte binary", "I ts price inserts, Q min max answers the mean price"},
	{config.KindChat, "text lines", "budgetchat room with usernames and join/leave notices"},
}

func printProtocols(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Protocol", "Framing", "Description"})
	table.SetAutoWrapText(false)
	for _, p := range protocols {
		table.Append([]string{string(p.kind), p.framing, p.description})
	}
	table.Render()
}

func printSummary(w io.Writer, cfg *config.Config) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Setting", "Value"})
	table.Append([]string{"protocol", string(cfg.Kind)})
	table.Append([]string{"listen", cfg.ListenAddress()})
	if cfg.PublishEnabled {
		gw := util.FormatAddr(cfg.PublishHost, cfg.PublishPort)
		if cfg.PublishUser != "" {
			gw = cfg.PublishUser + "@" + gw
		}
		table.Append([]string{"publish", fmt.Sprintf("%s → remote port %d", gw, cfg.RemotePort)})
	}
	table.Append([]string{"max line", fmt.Sprint(cfg.MaxLineLength)})
	table.Append([]string{"outbox", fmt.Sprint(cfg.OutboxSize)})
	table.Append([]string{"idle timeout", cfg.IdleTimeout.String()})
	if cfg.MetricsAddr != "" {
		table.Append([]string{"metrics", cfg.MetricsAddr})
	}
	table.Render()
	fmt.Fprintln(w, "configuration OK")
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `protosrv – small TCP protocol servers v%s

Usage:
  protosrv [options] <echo|prime|means|chat>

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  protosrv chat                               Chat room on 127.0.0.1:4000
  protosrv --public prime                     Prime checker on 0.0.0.0:45962
  protosrv -p 7000 --idle-timeout 1m echo     Echo with an idle timeout
  protosrv -R deploy@gw --remote-port 9000 means
                                              Publish through an SSH gateway
  protosrv --metrics-addr :9100 -v chat       Chat with Prometheus metrics

Environment variables (PROTOSRV_*) and a .env file provide defaults
that flags override.
`)
}

package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/metrics"
	"protosrv/util"
)

// MetricsMode serves the collector's Prometheus endpoint on /metrics
// and a JSON snapshot on /metrics.json.
type MetricsMode struct {
	Address   string
	Collector *metrics.Collector
	Logger    *util.Logger

	// OnListen, when set, is called with the bound address.
	OnListen func(net.Addr)
}

// Run implements Mode.
func (m *MetricsMode) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.Address)
	if err != nil {
		return ncerr.Wrap("listen", m.Address, err)
	}
	if m.OnListen != nil {
		m.OnListen(ln.Addr())
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Collector.Handler())
	mux.HandleFunc("/metrics.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(m.Collector.JSON()))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	m.Logger.Info("metrics on http://%s/metrics", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return ncerr.Wrap("serve", ln.Addr().String(), err)
	}
	return nil
}

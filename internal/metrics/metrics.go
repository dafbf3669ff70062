// Package metrics tracks runtime statistics of the protocol servers on
// a private Prometheus registry.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "protosrv"

// Collector owns every metric exported by a protosrv process.
// A nil Collector is safe to use — all methods become no-ops.
type Collector struct {
	registry  *prometheus.Registry
	startTime time.Time

	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	acceptErrors      prometheus.Counter
	bytes             *prometheus.CounterVec
	requests          *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec

	chatMembers    prometheus.Gauge
	chatMessages   *prometheus.CounterVec
	deliveryFaults prometheus.Counter
}

// New creates a collector with its own registry, including the Go
// runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open connections",
		}, []string{"protocol"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections accepted since start",
		}, []string{"protocol"}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Failed Accept calls on the listening socket",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Payload bytes moved, by direction",
		}, []string{"protocol", "direction"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Decoded protocol requests by operation",
		}, []string{"protocol", "op"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or rejected requests",
		}, []string{"protocol"}),

		chatMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "members",
			Help:      "Sessions currently in the room",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Room broadcasts by kind (message, join, leave)",
		}, []string{"kind"}),
		deliveryFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "delivery_faults_total",
			Help:      "Broadcast deliveries dropped because a member's outbox was full or closed",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connectionsActive,
		c.connectionsTotal,
		c.acceptErrors,
		c.bytes,
		c.requests,
		c.protocolErrors,
		c.chatMembers,
		c.chatMessages,
		c.deliveryFaults,
	)
	return c
}

// Registry exposes the underlying registry (tests, extra collectors).
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened(protocol string) {
	if c == nil {
		return
	}
	c.connectionsActive.WithLabelValues(protocol).Inc()
	c.connectionsTotal.WithLabelValues(protocol).Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (c *Collector) ConnectionClosed(protocol string) {
	if c == nil {
		return
	}
	c.connectionsActive.WithLabelValues(protocol).Dec()
}

// AcceptError records a failed Accept.
func (c *Collector) AcceptError() {
	if c == nil {
		return
	}
	c.acceptErrors.Inc()
}

// ── I/O and request metrics ──────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(protocol string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytes.WithLabelValues(protocol, "in").Add(float64(n))
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(protocol string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytes.WithLabelValues(protocol, "out").Add(float64(n))
}

// Request records one decoded request.
func (c *Collector) Request(protocol, op string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(protocol, op).Inc()
}

// ProtocolError records a malformed or rejected request.
func (c *Collector) ProtocolError(protocol string) {
	if c == nil {
		return
	}
	c.protocolErrors.WithLabelValues(protocol).Inc()
}

// ── Chat metrics ─────────────────────────────────────────────────────

// ChatMembers sets the current room size.
func (c *Collector) ChatMembers(n int) {
	if c == nil {
		return
	}
	c.chatMembers.Set(float64(n))
}

// ChatMessage records one broadcast of the given kind.
func (c *Collector) ChatMessage(kind string) {
	if c == nil {
		return
	}
	c.chatMessages.WithLabelValues(kind).Inc()
}

// DeliveryFault records a dropped delivery to one room member.
func (c *Collector) DeliveryFault() {
	if c == nil {
		return
	}
	c.deliveryFaults.Inc()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of the headline metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	AcceptErrors      int64  `json:"accept_errors"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	ProtocolErrors    int64  `json:"protocol_errors"`
	ChatMembers       int64  `json:"chat_members"`
	DeliveryFaults    int64  `json:"delivery_faults"`
}

// Snapshot sums every label combination of the headline metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	s := Snapshot{Uptime: time.Since(c.startTime).Truncate(time.Second).String()}

	// Gather returns whatever it could collect alongside any error.
	families, _ := c.registry.Gather()
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := int64(m.GetCounter().GetValue() + m.GetGauge().GetValue())
			switch mf.GetName() {
			case namespace + "_connections_active":
				s.ConnectionsActive += v
			case namespace + "_connections_total":
				s.ConnectionsTotal += v
			case namespace + "_accept_errors_total":
				s.AcceptErrors += v
			case namespace + "_protocol_errors_total":
				s.ProtocolErrors += v
			case namespace + "_chat_members":
				s.ChatMembers += v
			case namespace + "_chat_delivery_faults_total":
				s.DeliveryFaults += v
			case namespace + "_bytes_total":
				for _, lp := range m.GetLabel() {
					if lp.GetName() != "direction" {
						continue
					}
					if lp.GetValue() == "in" {
						s.BytesIn += v
					} else {
						s.BytesOut += v
					}
				}
			}
		}
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

package chat

import (
	"net"
	"sync"
	"time"

	"protosrv/internal/metrics"
	"protosrv/util"
)

// DefaultOutboxSize is the number of messages queued for one member
// before it is considered too slow and evicted.
const DefaultOutboxSize = 256

// flushTimeout bounds how long Close waits for queued messages to be
// written before the connection is closed under the writer.
const flushTimeout = 5 * time.Second

// Sink receives messages addressed to one member.  Send must not
// block; it reports whether the message was queued.
type Sink interface {
	Send(msg string) bool
}

// Outbox is a member's Sink: a bounded queue drained by a dedicated
// writer goroutine (Run).  A full queue evicts the member by closing
// its connection, which ends the member's session loop through the
// normal disconnect path.
type Outbox struct {
	conn    net.Conn
	queue   chan string
	done    chan struct{}
	logger  *util.Logger
	metrics *metrics.Collector

	evictOnce sync.Once
	closeOnce sync.Once
}

// NewOutbox returns an outbox writing to conn.  A size ≤ 0 selects
// DefaultOutboxSize.
func NewOutbox(conn net.Conn, size int, logger *util.Logger, m *metrics.Collector) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		conn:    conn,
		queue:   make(chan string, size),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Send queues msg without blocking.  When the queue is full the
// member is evicted and Send reports false.
func (o *Outbox) Send(msg string) bool {
	select {
	case o.queue <- msg:
		return true
	default:
		o.evict()
		return false
	}
}

// Run writes queued messages until Close.  After a write error the
// connection is closed and remaining messages are discarded.
func (o *Outbox) Run() {
	defer close(o.done)
	broken := false
	for msg := range o.queue {
		if broken {
			continue
		}
		n, err := o.conn.Write([]byte(msg))
		o.metrics.BytesSent("chat", int64(n))
		if err != nil {
			broken = true
			o.logger.Debug("write failed: %v", err)
			o.conn.Close()
		}
	}
}

// Close stops accepting messages and waits for Run to flush what is
// already queued.  The caller must guarantee no Send happens after
// Close (i.e. the member has left the Registry).
func (o *Outbox) Close() {
	o.closeOnce.Do(func() { close(o.queue) })
	select {
	case <-o.done:
	case <-time.After(flushTimeout):
		o.conn.Close()
		<-o.done
	}
}

func (o *Outbox) evict() {
	o.evictOnce.Do(func() {
		o.metrics.DeliveryFault()
		o.logger.Debug("outbox full (%d queued), evicting", cap(o.queue))
		o.conn.Close()
	})
}

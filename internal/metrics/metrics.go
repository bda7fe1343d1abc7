package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event names, used as the `event` label of sigrelay_events_total.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsClosed   = "connections_closed"
	RoomsCreated        = "rooms_created"
	RoomsDeleted        = "rooms_deleted"
	MessagesInvalid     = "messages_invalid"
	MessagesUnknown     = "messages_unknown"
	MessagesRateLimited = "messages_rate_limited"
	MessagesForwarded   = "messages_forwarded"
	FramesDelivered     = "frames_delivered"
	FramesSkipped       = "frames_skipped"
	FramesDropped       = "frames_dropped"
	MembersKicked       = "members_kicked"
	PushSent            = "push_sent"
	PushFailed          = "push_failed"
)

var events = []string{
	ConnectionsAccepted, ConnectionsClosed,
	RoomsCreated, RoomsDeleted,
	MessagesInvalid, MessagesUnknown, MessagesRateLimited, MessagesForwarded,
	FramesDelivered, FramesSkipped, FramesDropped,
	MembersKicked,
	PushSent, PushFailed,
}

// Metrics holds the relay counters on a private registry, so several relays
// (tests, mostly) never collide on the default one.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	ev := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigrelay",
		Name:      "events_total",
		Help:      "Signaling relay event counters.",
	}, []string{"event"})
	reg.MustRegister(
		ev,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, e := range events {
		ev.WithLabelValues(e)
	}
	return &Metrics{reg: reg, events: ev}
}

func (m *Metrics) Inc(name string) {
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) Add(name string, n uint64) {
	if n == 0 {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

// Counter returns the series for one event.
func (m *Metrics) Counter(name string) prometheus.Counter {
	return m.events.WithLabelValues(name)
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

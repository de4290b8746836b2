// Package metrics exposes the mixer's operational counters and gauges
// over Prometheus: malformed packets, ring overruns, starvation
// transitions, missed tick deadlines, send failures, and the live
// listener/registry sizes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"audiomixer/internal/wireproto"
)

// Metrics bundles every counter/gauge the mixer updates. The zero value
// is not usable; construct with New or NewWithRegisterer.
type Metrics struct {
	malformed      *prometheus.CounterVec
	unknownType    *prometheus.CounterVec
	overruns       prometheus.Counter
	starvations    prometheus.Counter
	deadlineMissed prometheus.Counter
	sendErrors     prometheus.Counter
	sendDropped    prometheus.Counter
	inboundDropped prometheus.Counter

	activeListeners prometheus.Gauge
	registrySize    prometheus.Gauge
	tickDuration    prometheus.Histogram
}

// New registers the mixer's metrics with the default Prometheus
// registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the mixer's metrics with reg, so tests can
// use a fresh prometheus.NewRegistry() per case instead of sharing the
// global default registerer.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "malformed_packets_total",
			Help:      "Inbound datagrams dropped for being malformed, by reason.",
		}, []string{"reason"}),
		unknownType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "unknown_packet_type_total",
			Help:      "Inbound datagrams of a type not owned by the mixer, by type byte.",
		}, []string{"type"}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "ring_buffer_overruns_total",
			Help:      "Ring buffer overrun resets (writer caught up to reader).",
		}),
		starvations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "source_starvations_total",
			Help:      "Transitions from started to starved for lack of samples.",
		}),
		deadlineMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "tick_deadline_missed_total",
			Help:      "Ticks where the next frame boundary had already passed.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "send_errors_total",
			Help:      "Fatal socket errors encountered while sending a mix.",
		}),
		sendDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "send_dropped_total",
			Help:      "Outbound datagrams dropped due to a transient send failure.",
		}),
		inboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiomixer",
			Name:      "inbound_dropped_total",
			Help:      "Inbound datagrams dropped because the mixer's queue was full.",
		}),
		activeListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "audiomixer",
			Name:      "active_listeners",
			Help:      "Listener nodes mixed in the most recent tick.",
		}),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "audiomixer",
			Name:      "registry_size",
			Help:      "Nodes currently held in the registry.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audiomixer",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one mix tick (pump through advance).",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
	reg.MustRegister(
		m.malformed, m.unknownType, m.overruns, m.starvations, m.deadlineMissed,
		m.sendErrors, m.sendDropped, m.inboundDropped, m.activeListeners,
		m.registrySize, m.tickDuration,
	)
	return m
}

// IncMalformed implements router.Counters.
func (m *Metrics) IncMalformed(reason string) { m.malformed.WithLabelValues(reason).Inc() }

// IncUnknownType implements router.Counters.
func (m *Metrics) IncUnknownType(t wireproto.PacketType) {
	m.unknownType.WithLabelValues(packetTypeLabel(t)).Inc()
}

func (m *Metrics) IncOverrun()                  { m.overruns.Inc() }
func (m *Metrics) IncStarvation()               { m.starvations.Inc() }
func (m *Metrics) IncDeadlineMissed()           { m.deadlineMissed.Inc() }
func (m *Metrics) IncSendError()                { m.sendErrors.Inc() }
func (m *Metrics) IncSendDropped()              { m.sendDropped.Inc() }
func (m *Metrics) IncInboundDropped()           { m.inboundDropped.Inc() }
func (m *Metrics) SetActiveListeners(n int)     { m.activeListeners.Set(float64(n)) }
func (m *Metrics) SetRegistrySize(n int)        { m.registrySize.Set(float64(n)) }
func (m *Metrics) ObserveTickSeconds(s float64) { m.tickDuration.Observe(s) }

func packetTypeLabel(t wireproto.PacketType) string {
	switch t {
	case wireproto.MicAudioNoEcho:
		return "mic_no_echo"
	case wireproto.MicAudioWithEcho:
		return "mic_with_echo"
	case wireproto.InjectAudio:
		return "inject_audio"
	case wireproto.MixedAudio:
		return "mixed_audio"
	case wireproto.Ping:
		return "ping"
	case wireproto.PingReply:
		return "ping_reply"
	default:
		return "unrecognized"
	}
}

// Package monitoring exposes session and signaling metrics to Prometheus.
package monitoring

import (
	"time"

	"roomcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements services.Metrics and signal.MessageObserver on one
// registry. Passing a private registry keeps tests isolated; production
// passes prometheus.DefaultRegisterer via NewDefaultCollector.
type Collector struct {
	roomsActive     prometheus.Gauge
	peersConnected  prometheus.Gauge
	producersActive *prometheus.GaugeVec
	consumersActive prometheus.Gauge

	roomsCreatedTotal prometheus.Counter

	signalConnections    prometheus.Gauge
	signalMessagesTotal  *prometheus.CounterVec
	signalHandleDuration *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_rooms_active",
			Help: "Number of live rooms",
		}),

		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_peers_connected",
			Help: "Number of joined peers across all rooms",
		}),

		producersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomcast_producers_active",
			Help: "Number of live producers by media kind",
		}, []string{"kind"}),

		consumersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_consumers_active",
			Help: "Number of live consumers",
		}),

		roomsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_rooms_created_total",
			Help: "Total number of rooms ever created",
		}),

		signalConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_signal_connections",
			Help: "Number of open signaling sockets",
		}),

		signalMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_signal_messages_total",
			Help: "Signaling messages handled, by event and outcome",
		}, []string{"event", "outcome"}),

		signalHandleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomcast_signal_handle_duration_seconds",
			Help:    "Time spent handling one signaling message",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"event"}),
	}
}

func NewDefaultCollector() *Collector {
	return NewCollector(prometheus.DefaultRegisterer)
}

func (c *Collector) RoomCreated() {
	c.roomsActive.Inc()
	c.roomsCreatedTotal.Inc()
}

func (c *Collector) RoomClosed() { c.roomsActive.Dec() }

func (c *Collector) PeerJoined() { c.peersConnected.Inc() }
func (c *Collector) PeerLeft()   { c.peersConnected.Dec() }

func (c *Collector) ProducerCreated(kind domain.MediaKind) {
	c.producersActive.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) ProducerClosed(kind domain.MediaKind) {
	c.producersActive.WithLabelValues(string(kind)).Dec()
}

func (c *Collector) ConsumerCreated() { c.consumersActive.Inc() }
func (c *Collector) ConsumerClosed() { c.consumersActive.Dec() }

func (c *Collector) ConnectionOpened() { c.signalConnections.Inc() }
func (c *Collector) ConnectionClosed() { c.signalConnections.Dec() }

func (c *Collector) MessageHandled(event string, ok bool, duration time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.signalMessagesTotal.WithLabelValues(event, outcome).Inc()
	c.signalHandleDuration.WithLabelValues(event).Observe(duration.Seconds())
}

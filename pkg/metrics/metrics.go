package metrics

import (
	"net/http"

	"indi/pkg/indi"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "indi"

// Listener exports connection activity as Prometheus metrics.
type Listener struct {
	indi.BaseListener

	connected   prometheus.Gauge
	connects    prometheus.Counter
	disconnects prometheus.Counter
	sent        *prometheus.CounterVec // by element
	received    *prometheus.CounterVec // by element and device
	devices     prometheus.Gauge
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Listener, error) {
	l := &Listener{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connected",
			Help:      "Whether the client is connected to the server (1) or not (0)",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connects_total",
			Help:      "Total number of successful connects",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "disconnects_total",
			Help:      "Total number of disconnects, initiated by either side",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Total number of messages sent to the server",
		}, []string{"element"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total number of messages received from the server",
		}, []string{"element", "device"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Number of devices known on the current connection",
		}),
	}

	for _, c := range []prometheus.Collector{l.connected, l.connects, l.disconnects, l.sent, l.received, l.devices} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Listener) OnConnect(c *indi.Connection) {
	l.connected.Set(1)
	l.connects.Inc()
	l.devices.Set(float64(len(c.Devices())))
}

func (l *Listener) OnDisconnect(*indi.Connection) {
	l.connected.Set(0)
	l.disconnects.Inc()
}

func (l *Listener) OnMessageSent(m indi.ClientMessage) {
	l.sent.WithLabelValues(indi.MessageName(m)).Inc()
}

func (l *Listener) OnMessageReceived(m indi.ServerMessage) {
	l.received.WithLabelValues(indi.MessageName(m), indi.MessageDevice(m)).Inc()
}

func (l *Listener) OnAddDevice(*indi.Device) {
	l.devices.Inc()
}

func (l *Listener) OnRemoveDevice(*indi.Device) {
	l.devices.Dec()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

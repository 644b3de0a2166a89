package metrics

import "github.com/prometheus/client_golang/prometheus"

// Hub tracks realtime connections.
type Hub struct {
	clients   prometheus.Gauge
	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

func NewHub(reg prometheus.Registerer) *Hub {
	if reg == nil {
		return &Hub{}
	}
	h := &Hub{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_clients",
			Help: "Connected websocket clients.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_messages_published_total",
			Help: "Messages fanned out by event.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_clients_dropped_total",
			Help: "Clients disconnected because their send buffer was full.",
		}),
	}
	reg.MustRegister(h.clients, h.published, h.dropped)
	return h
}

func (h *Hub) SetClients(n int) {
	if h == nil || h.clients == nil {
		return
	}
	h.clients.Set(float64(n))
}

func (h *Hub) IncPublished(event string) {
	if h == nil || h.published == nil {
		return
	}
	h.published.WithLabelValues(normalizeLabel(event)).Inc()
}

func (h *Hub) IncDropped() {
	if h == nil || h.dropped == nil {
		return
	}
	h.dropped.Inc()
}

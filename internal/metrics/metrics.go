package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Queue records queue state machine activity. A nil *Queue is a no-op.
type Queue struct {
	admissions    prometheus.Counter
	rejections    *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	waitSeconds   prometheus.Histogram
	unloadSeconds prometheus.Histogram
	notifyFailed  *prometheus.CounterVec
}

// durationBuckets spans a few seconds up to a four hour wait.
var durationBuckets = []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200, 14400}

// NewQueue registers the queue metrics on the provided registerer.
func NewQueue(reg prometheus.Registerer) *Queue {
	if reg == nil {
		return &Queue{}
	}
	q := &Queue{
		admissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_admissions_total",
			Help: "Drivers admitted into a waiting queue.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_rejections_total",
			Help: "Rejected queue operations by error code.",
		}, []string{"operation", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_transitions_total",
			Help: "Queue entry status transitions.",
		}, []string{"to"}),
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_wait_seconds",
			Help:    "Time between arrival and unload start.",
			Buckets: durationBuckets,
		}),
		unloadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_unload_seconds",
			Help:    "Time spent unloading at the dock.",
			Buckets: durationBuckets,
		}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Best-effort notifications that failed to publish.",
		}, []string{"kind"}),
	}
	reg.MustRegister(q.admissions, q.rejections, q.transitions, q.waitSeconds, q.unloadSeconds, q.notifyFailed)
	return q
}

func (q *Queue) IncAdmission() {
	if q == nil || q.admissions == nil {
		return
	}
	q.admissions.Inc()
}

func (q *Queue) IncRejection(operation, code string) {
	if q == nil || q.rejections == nil {
		return
	}
	q.rejections.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

func (q *Queue) IncTransition(to string) {
	if q == nil || q.transitions == nil {
		return
	}
	q.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}

func (q *Queue) ObserveWait(seconds int64) {
	if q == nil || q.waitSeconds == nil {
		return
	}
	q.waitSeconds.Observe(float64(seconds))
}

func (q *Queue) ObserveUnload(seconds int64) {
	if q == nil || q.unloadSeconds == nil {
		return
	}
	q.unloadSeconds.Observe(float64(seconds))
}

func (q *Queue) IncNotificationFailure(kind string) {
	if q == nil || q.notifyFailed == nil {
		return
	}
	q.notifyFailed.WithLabelValues(normalizeLabel(kind)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueMetricsRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := NewQueue(reg)

	q.IncAdmission()
	q.IncTransition("unloading")
	q.IncRejection("admit", "")
	q.ObserveWait(120)
	q.IncNotificationFailure("dock")

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	require.Contains(t, byName, "queue_admissions_total")
	assert.Equal(t, 1.0, byName["queue_admissions_total"].GetMetric()[0].GetCounter().GetValue())

	rej := byName["queue_rejections_total"].GetMetric()[0]
	labels := map[string]string{}
	for _, lp := range rej.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, "unknown", labels["code"])
	assert.Equal(t, uint64(1), byName["queue_wait_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var q *Queue
	q.IncAdmission()
	q.ObserveUnload(3)

	empty := NewQueue(nil)
	empty.IncTransition("finished")

	var h *Hub
	h.SetClients(3)
	NewHub(nil).IncDropped()
}

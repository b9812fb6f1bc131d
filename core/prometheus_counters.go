package core

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics to be used in the instrumented code
var pm struct {
	AcnetMetrics *AcnetPrometheusMetrics
}

// ///////////////////////////////////////////////////////////////
// Metrics definitions
// ///////////////////////////////////////////////////////////////
type AcnetPrometheusMetrics struct {
	RequestsCreated     *prometheus.CounterVec
	RequestTimeouts     *prometheus.CounterVec
	RequestsCancelled   *prometheus.CounterVec
	UsmSent             *prometheus.CounterVec
	RepliesSynthesized  *prometheus.CounterVec
	RequestIdsExhausted *prometheus.CounterVec
	ActiveRequests      *prometheus.GaugeVec
}

func (m *AcnetPrometheusMetrics) reset() {
	m.RequestsCreated.Reset()
	m.RequestTimeouts.Reset()
	m.RequestsCancelled.Reset()
	m.UsmSent.Reset()
	m.RepliesSynthesized.Reset()
	m.RequestIdsExhausted.Reset()
	m.ActiveRequests.Reset()
}

func newAcnetPrometheusMetrics(reg prometheus.Registerer) *AcnetPrometheusMetrics {
	m := &AcnetPrometheusMetrics{

		RequestsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acnet_requests_created",
				Help: "Requests sent by local tasks",
			},
			[]string{"node"}),

		RequestTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acnet_request_timeouts",
				Help: "Requests terminated by timeout",
			},
			[]string{"node"}),

		RequestsCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acnet_requests_cancelled",
				Help: "Requests terminated before the final reply",
			},
			[]string{"reason"}),

		UsmSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acnet_usm_sent",
				Help: "Cancel messages sent to remote nodes",
			},
			[]string{"node"}),

		RepliesSynthesized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acnet_replies_synthesized",
				Help: "Replies generated locally and sent to tasks",
			},
			[]string{"status"}),

		RequestIdsExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acnet_request_ids_exhausted",
				Help: "Requests rejected because there were no free request ids",
			},
			[]string{}),

		ActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "acnet_active_requests",
				Help: "Number of outstanding requests",
			},
			[]string{}),
	}

	reg.MustRegister(m.RequestsCreated)
	reg.MustRegister(m.RequestTimeouts)
	reg.MustRegister(m.RequestsCancelled)
	reg.MustRegister(m.UsmSent)
	reg.MustRegister(m.RepliesSynthesized)
	reg.MustRegister(m.RequestIdsExhausted)
	reg.MustRegister(m.ActiveRequests)

	return m
}

// Helper functions. They do nothing if the instrumentation server is not initialized

func RecordRequestCreated(node string) {
	if pm.AcnetMetrics != nil {
		pm.AcnetMetrics.RequestsCreated.With(prometheus.Labels{"node": node}).Inc()
	}
}

func RecordRequestTimeout(node string) {
	if pm.AcnetMetrics != nil {
		pm.AcnetMetrics.RequestTimeouts.With(prometheus.Labels{"node": node}).Inc()
	}
}

func RecordRequestCancelled(reason string) {
	if pm.AcnetMetrics != nil {
		pm.AcnetMetrics.RequestsCancelled.With(prometheus.Labels{"reason": reason}).Inc()
	}
}

func RecordUsmSent(node string) {
	if pm.AcnetMetrics != nil {
		pm.AcnetMetrics.UsmSent.With(prometheus.Labels{"node": node}).Inc()
	}
}

func RecordReplySynthesized(status string) {
	if pm.AcnetMetrics != nil {
		pm.AcnetMetrics.RepliesSynthesized.With(prometheus.Labels{"status": status}).Inc()
	}
}

func RecordRequestIdsExhausted() {
	if pm.AcnetMetrics != nil {
		pm.AcnetMetrics.RequestIdsExhausted.With(prometheus.Labels{}).Inc()
	}
}

func UpdateActiveRequests(nRequests int) {
	if pm.AcnetMetrics != nil {
		pm.AcnetMetrics.ActiveRequests.With(prometheus.Labels{}).Set(float64(nRequests))
	}
}

// Helper for testing
func GetMetricWithLabels(metricName string, labelString string) (string, error) {
	metrics, err := HttpGet(fmt.Sprintf("http://localhost:%d/metrics", MS.port))
	if err != nil {
		return "", err
	}

	regex, err := regexp.Compile(fmt.Sprintf("%s%s ([0-9\\.]+)", metricName, regexp.QuoteMeta(labelString)))
	if err != nil {
		return "", err
	}

	if match := regex.FindStringSubmatch(metrics); len(match) > 1 {
		return match[1], nil
	} else {
		return "", errors.New("metric and label not found")
	}
}

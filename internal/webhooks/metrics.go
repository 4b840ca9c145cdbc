package webhooks

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "webhooks",
		Name:      "events_total",
		Help:      "Webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	signatureFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "webhooks",
		Name:      "signature_failures_total",
		Help:      "Deliveries rejected because the signature did not verify.",
	})

	ledgerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "webhooks",
		Name:      "ledger_errors_total",
		Help:      "Processed-event ledger failures by operation.",
	}, []string{"op"})

	processingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "propline",
		Subsystem: "webhooks",
		Name:      "processing_duration_seconds",
		Help:      "Time to verify and apply one event.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, signatureFailures, ledgerErrors, processingDuration)
}

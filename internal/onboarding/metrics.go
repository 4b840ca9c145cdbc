package onboarding

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "onboarding",
		Name:      "sessions_created_total",
		Help:      "Onboarding sessions created.",
	})

	stepUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "onboarding",
		Name:      "step_updates_total",
		Help:      "Step updates by step and result.",
	}, []string{"step", "result"})

	sessionsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "onboarding",
		Name:      "sessions_completed_total",
		Help:      "Onboarding sessions completed, by tier.",
	}, []string{"tier"})

	sessionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "onboarding",
		Name:      "session_rejections_total",
		Help:      "Session lookups rejected, by outcome.",
	}, []string{"outcome"})

	paymentIntents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "onboarding",
		Name:      "payment_intents_total",
		Help:      "Payment intent requests by result (created, reused, replaced, error).",
	}, []string{"result"})

	paymentOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "onboarding",
		Name:      "payment_outcomes_total",
		Help:      "Payment outcome events applied to sessions, by status and result.",
	}, []string{"status", "result"})

	sessionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "propline",
		Subsystem: "onboarding",
		Name:      "sessions_reaped_total",
		Help:      "Expired, uncompleted sessions deleted by the cleanup timer.",
	})
)

func init() {
	prometheus.MustRegister(
		sessionsCreated,
		stepUpdates,
		sessionsCompleted,
		sessionRejections,
		paymentIntents,
		paymentOutcomes,
		sessionsReaped,
	)
}

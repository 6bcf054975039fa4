package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Classifier outcome label values.
const (
	OutcomeSuccess      = "success"
	OutcomeProcessError = "process_error"
	OutcomeParseError   = "parse_error"
	OutcomeBusy         = "busy"
	OutcomeTimeout      = "timeout"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vderm_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vderm_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// Classifier metrics
	ClassifierInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vderm_classifier_invocations_total",
			Help: "Classifier invocations by outcome",
		},
		[]string{"outcome"},
	)

	ClassifierDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vderm_classifier_duration_seconds",
			Help:    "Wall time of classifier processes",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	ClassifierInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vderm_classifier_in_flight",
			Help: "Classifier processes currently running",
		},
	)

	// Assistant metrics
	AssistantResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vderm_assistant_responses_total",
			Help: "Assistant responses by outcome (ok or the fallback kind used)",
		},
		[]string{"outcome"},
	)

	// Diagnosis pipeline metrics
	DiagnosesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vderm_diagnoses_recorded_total",
			Help: "Diagnoses persisted",
		},
	)

	DiagnosisEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vderm_diagnosis_events_total",
			Help: "Diagnosis recorded events consumed, by classification",
		},
		[]string{"classification"},
	)

	DiagnosisPersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vderm_diagnosis_persist_failures_total",
			Help: "Diagnoses that could not be persisted, by stage",
		},
		[]string{"stage"},
	)
)

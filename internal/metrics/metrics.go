// Package metrics exposes Prometheus instrumentation for the submission
// pipeline, poller, fetcher and recovery sweeper — the per-submission
// throughput statistics the original SampleFarm tracked ad hoc
// (TaskExecutionStats in cape_client.rs) are captured here as histograms
// instead of a bespoke struct.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts pipeline submit attempts by family and outcome.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sampleforge_submissions_total",
		Help: "Submission pipeline attempts, by analyzer family and outcome.",
	}, []string{"family", "outcome"})

	// SubmitRetries counts individual backoff retry attempts.
	SubmitRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sampleforge_submit_retries_total",
		Help: "Submission retry attempts, by analyzer family.",
	}, []string{"family"})

	// SubmitDuration measures end-to-end submit latency per family.
	SubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sampleforge_submit_duration_seconds",
		Help:    "Time spent submitting a sub-task to a backend, including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"family"})

	// SampleThroughput records submitted bytes/sec, grounded on the
	// original implementation's throughput_mbps field.
	SampleThroughput = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sampleforge_submit_throughput_bytes_per_second",
		Help:    "Observed submit throughput in bytes per second, by analyzer family.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	}, []string{"family"})

	// PollTicks counts status-poller ticks per instance.
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sampleforge_poll_ticks_total",
		Help: "Status poller ticks, by backend instance.",
	}, []string{"instance"})

	// PollTransitions counts local status transitions applied by the poller.
	PollTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sampleforge_poll_transitions_total",
		Help: "Sub-task status transitions applied by the poller, by new status.",
	}, []string{"status"})

	// FetchAttempts counts report-fetch attempts and their outcome.
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sampleforge_fetch_attempts_total",
		Help: "Report fetch attempts, by analyzer family and outcome.",
	}, []string{"family", "outcome"})

	// SweeperRescues counts sub-tasks rescued by the recovery sweeper.
	SweeperRescues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sampleforge_sweeper_rescues_total",
		Help: "Sub-tasks rescued by the startup recovery sweeper, by job.",
	}, []string{"job"})

	// InstanceHealth reports the last-known health state as a gauge (1 =
	// that status currently holds).
	InstanceHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sampleforge_instance_health",
		Help: "Backend instance health status (1 = current status).",
	}, []string{"instance", "status"})
)

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillrunner_jobs_enqueued_total",
		Help: "Total number of job ids accepted into a dispatch queue",
	}, []string{"kind"})
	JobsDoneTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillrunner_jobs_done_total",
		Help: "Total number of jobs finalized as done",
	}, []string{"kind"})
	JobsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillrunner_jobs_failed_total",
		Help: "Total number of jobs finalized as failed",
	}, []string{"kind"})
	JobsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillrunner_jobs_skipped_total",
		Help: "Total number of picked-up jobs skipped for being terminal or in an unexpected status",
	}, []string{"kind"})
	TimeoutRecoveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillrunner_timeout_recoveries_total",
		Help: "Total number of timed-out runs salvaged via an already-written result file",
	}, []string{"kind"})
	ChunksPersistedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skillrunner_chunks_persisted_total",
		Help: "Total number of output chunks persisted to the job store",
	}, []string{"stream"})
	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skillrunner_jobs_in_flight",
		Help: "Number of jobs currently being processed",
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueuedTotal,
		JobsDoneTotal,
		JobsFailedTotal,
		JobsSkippedTotal,
		TimeoutRecoveriesTotal,
		ChunksPersistedTotal,
		JobsInFlight,
	)
}

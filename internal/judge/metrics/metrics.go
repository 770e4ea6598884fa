// Package metrics exposes judge metrics to prometheus.
package metrics

import (
	"context"
	"strconv"
	"time"

	"ojudge/internal/judge/model"
	"ojudge/internal/judge/queue"
	"ojudge/internal/judge/sandbox/observer"
	"ojudge/internal/judge/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the sandbox, judge and queue metric hooks.
type Recorder struct {
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	TeardownFailures   *prometheus.CounterVec
	ActiveEnvironments prometheus.Gauge
	VerdictsTotal      *prometheus.CounterVec
	JudgeDuration      prometheus.Histogram
	LeaderboardCredits *prometheus.CounterVec
	JobsTotal          *prometheus.CounterVec
}

var (
	_ observer.MetricsRecorder = (*Recorder)(nil)
	_ service.Recorder         = (*Recorder)(nil)
	_ queue.Recorder           = (*Recorder)(nil)
)

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ExecutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ojudge_executions_total",
			Help: "Sandboxed executions by language and outcome",
		}, []string{"language", "outcome"}),
		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ojudge_execution_duration_seconds",
			Help:    "Wall time of one sandboxed execution including provisioning",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 45},
		}, []string{"language"}),
		TeardownFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ojudge_teardown_failures_total",
			Help: "Environments or scratch dirs that could not be removed",
		}, []string{"language"}),
		ActiveEnvironments: f.NewGauge(prometheus.GaugeOpts{
			Name: "ojudge_active_environments",
			Help: "Isolated environments currently provisioned",
		}),
		VerdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ojudge_verdicts_total",
			Help: "Judged submissions by final status",
		}, []string{"status"}),
		JudgeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ojudge_judge_duration_seconds",
			Help:    "Time to judge a submission across all test cases",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		LeaderboardCredits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ojudge_leaderboard_credits_total",
			Help: "Leaderboard credit attempts by result",
		}, []string{"result"}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ojudge_jobs_total",
			Help: "Judge job deliveries by outcome and attempt",
		}, []string{"outcome", "attempt"}),
	}
}

func (r *Recorder) ObserveExecution(_ context.Context, languageID, outcome string, elapsed time.Duration) {
	r.ExecutionsTotal.WithLabelValues(languageID, outcome).Inc()
	r.ExecutionDuration.WithLabelValues(languageID).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveTeardownFailure(_ context.Context, languageID string) {
	r.TeardownFailures.WithLabelValues(languageID).Inc()
}

func (r *Recorder) SetActiveEnvironments(n int) {
	r.ActiveEnvironments.Set(float64(n))
}

func (r *Recorder) ObserveVerdict(status model.Status, _, _ int, elapsed time.Duration) {
	r.VerdictsTotal.WithLabelValues(string(status)).Inc()
	r.JudgeDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveLeaderboardCredit(credited bool) {
	result := "duplicate"
	if credited {
		result = "credited"
	}
	r.LeaderboardCredits.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveJob(outcome string, attempt int) {
	r.JobsTotal.WithLabelValues(outcome, strconv.Itoa(attempt)).Inc()
}

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors a Pool updates.
type Metrics struct {
	// Agents is the number of live agents per state.
	Agents *prometheus.GaugeVec
	// Tasks counts finished executions by outcome (success, failure).
	Tasks *prometheus.CounterVec
	// TaskDuration observes execution wall time per role.
	TaskDuration *prometheus.HistogramVec
	// Respawns counts automatic restarts by result (success, failure).
	Respawns *prometheus.CounterVec
}

// NewMetrics registers the pool collectors on reg. A nil reg uses a private
// registry that is never scraped.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Agents: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentcore_agents",
			Help: "Number of live agents by state.",
		}, []string{"state"}),

		Tasks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tasks_total",
			Help: "Total number of executed tasks by outcome.",
		}, []string{"outcome"}),

		TaskDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_task_duration_seconds",
			Help:    "Histogram of task execution time.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"role"}),

		Respawns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_respawns_total",
			Help: "Total number of automatic agent restarts by result.",
		}, []string{"result"}),
	}
}

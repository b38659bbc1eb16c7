package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gate gauges reflect the most recent evaluation.
var (
	GateExtremity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gate_extremity_fraction",
		Help:      "Share of published probabilities at or beyond the extreme thresholds in the last candidate",
	})
	GateCoverage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gate_coverage_fraction",
		Help:      "Share of complete predictions in the last candidate",
	})
	LastPromotionTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_promotion_timestamp_seconds",
		Help:      "Unix time of the last successful promotion or rollback",
	})
)

// Promotion counters
var (
	GateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_decisions_total",
		Help:      "Safety gate decisions by verdict",
	}, []string{"decision"})
	PromotionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "promotions_total",
		Help:      "Promotion attempts by final state",
	}, []string{"state"})
	RollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollbacks_total",
		Help:      "Rollbacks by status",
	}, []string{"status"})
	BackupCollisionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_collisions_total",
		Help:      "Promotions aborted because the backup name already existed",
	})
)

// RecordGateDecision records the gate verdict and the candidate statistics.
func RecordGateDecision(accepted bool, extremity, coverage float64) {
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	GateDecisionsTotal.WithLabelValues(decision).Inc()
	GateExtremity.Set(extremity)
	GateCoverage.Set(coverage)
}

// RecordPromotion records the final state of a promotion attempt.
func RecordPromotion(state string, at time.Time) {
	PromotionsTotal.WithLabelValues(state).Inc()
	if state == "PROMOTED" {
		LastPromotionTimestamp.Set(float64(at.Unix()))
	}
}

// RecordRollback records a rollback attempt.
func RecordRollback(success bool, at time.Time) {
	if !success {
		RollbacksTotal.WithLabelValues("failure").Inc()
		return
	}
	RollbacksTotal.WithLabelValues("success").Inc()
	LastPromotionTimestamp.Set(float64(at.Unix()))
}

// RecordBackupCollision records an aborted backup.
func RecordBackupCollision() {
	BackupCollisionsTotal.Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	rounds       *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	signals      *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	betsResolved *prometheus.CounterVec
	balance      *prometheus.GaugeVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

var _ drepo.Metrics = (*Recorder)(nil)

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		rounds: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crashpilot_rounds_total",
				Help: "Rounds detected per source and detection method",
			},
			[]string{"source", "method"},
		),
		duplicates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crashpilot_rounds_deduplicated_total",
				Help: "Round proposals rejected by the dedup gate",
			},
			[]string{"source"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crashpilot_signals_total",
				Help: "Sequence signals emitted",
			},
			[]string{"source", "strength"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crashpilot_decisions_total",
				Help: "Bet decisions per bot and mode",
			},
			[]string{"bot", "mode", "result"},
		),
		betsResolved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crashpilot_bets_resolved_total",
				Help: "Resolved bets by outcome",
			},
			[]string{"bot", "outcome", "resolved_by"},
		),
		balance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crashpilot_bot_balance",
				Help: "Balance after the last resolved bet",
			},
			[]string{"bot"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crashpilot_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crashpilot_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordRound(sourceID string, method models.DetectionMethod) {
	r.rounds.WithLabelValues(sourceID, string(method)).Inc()
}

func (r *Recorder) RecordDuplicate(sourceID string) {
	r.duplicates.WithLabelValues(sourceID).Inc()
}

func (r *Recorder) RecordSignal(sourceID string, strength models.SignalStrength) {
	r.signals.WithLabelValues(sourceID, string(strength)).Inc()
}

func (r *Recorder) RecordDecision(botID string, mode models.StrategyMode, shouldBet bool) {
	result := "skip"
	if shouldBet {
		result = "bet"
	}
	r.decisions.WithLabelValues(botID, string(mode), result).Inc()
}

func (r *Recorder) RecordBetResolved(botID string, win bool, by models.ResolvedBy) {
	outcome := "loss"
	if win {
		outcome = "win"
	}
	r.betsResolved.WithLabelValues(botID, outcome, string(by)).Inc()
}

func (r *Recorder) RecordBalance(botID string, balance float64) {
	r.balance.WithLabelValues(botID).Set(balance)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

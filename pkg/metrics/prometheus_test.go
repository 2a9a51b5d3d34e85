package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"CrashPilot/internal/domain/models"
)

func TestRecorderRegistersFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg)

	r.RecordRound("s1", models.DetectionHistory)
	r.RecordDecision("b1", models.ModeConservative, true)
	r.RecordBetResolved("b1", false, models.ResolvedSimulated)
	r.RecordBalance("b1", 97.5)
	r.RecordError("bot_queue_full")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"crashpilot_rounds_total",
		"crashpilot_decisions_total",
		"crashpilot_bets_resolved_total",
		"crashpilot_bot_balance",
		"crashpilot_errors_total",
	} {
		if !names[want] {
			t.Errorf("missing metric family %s", want)
		}
	}
}

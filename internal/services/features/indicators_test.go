package features

import (
	"math"
	"testing"
)

func TestStreaksHighOpportunity(t *testing.T) {
	// completed runs of 3 and 5 (avg 4), then a current run of 7
	ms := []float64{
		2.5,
		1.1, 1.2, 1.3, 2.1,
		1.1, 1.2, 1.3, 1.4, 1.5, 3.0,
		1.1, 1.2, 1.3, 1.4, 1.5, 1.6, 1.7,
	}
	st := Streaks(ms, HitLevel, 200)
	if st.Current != 7 || st.Completed != 2 || st.Average != 4 || st.Longest != 5 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if !st.HighOpportunity(1.5, 1) {
		t.Fatalf("7 > 4*1.5 should be a high opportunity")
	}
	if st.HighOpportunity(2.0, 1) {
		t.Fatalf("7 < 4*2.0 should not be a high opportunity")
	}
	if st.HighOpportunity(1.5, 3) {
		t.Fatalf("only two completed streaks")
	}
}

func TestStreaksLookback(t *testing.T) {
	ms := []float64{1.1, 1.1, 1.1, 1.1, 2.0, 1.5, 2.2, 1.3}
	st := Streaks(ms, HitLevel, 4)
	if st.Completed != 1 || st.Average != 1 || st.Current != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestFavorabilityAndMomentum(t *testing.T) {
	ms := []float64{1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 3.0, 3.0, 1.0, 3.0}
	if f := Favorability(ms, 2.0, 5); math.Abs(f-0.6) > 1e-9 {
		t.Fatalf("favorability %v", f)
	}
	// short: 3 of last 5, long: 3 of 10
	if m := Momentum(ms, 5, 10); math.Abs(m-2.0) > 1e-9 {
		t.Fatalf("momentum %v", m)
	}
	if m := Momentum([]float64{1.1, 1.2}, 1, 2); m != 1 {
		t.Fatalf("cold series without hits is neutral, got %v", m)
	}
}

func TestTrailingBelow(t *testing.T) {
	if n := TrailingBelow([]float64{3, 1.5, 1.9}, 2); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

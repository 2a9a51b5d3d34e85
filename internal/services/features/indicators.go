package features

// Indicators are computed over multiplier series ordered oldest first.

// HitLevel is the multiplier a streak is measured against.
const HitLevel = 2.0

// StreakStats describes "rounds since last hit" behaviour of a series.
type StreakStats struct {
	Current   int     `json:"current"`
	Average   float64 `json:"average"`
	Completed int     `json:"completed"`
	Longest   int     `json:"longest"`
}

// HighOpportunity reports whether the current streak is longer than the
// historical average by more than factor, given enough completed streaks.
func (s StreakStats) HighOpportunity(factor float64, minCompleted int) bool {
	if s.Completed < minCompleted || s.Average <= 0 {
		return false
	}
	return float64(s.Current) > s.Average*factor
}

// Streaks measures runs of rounds below level within the last lookback rounds.
// A run is completed when a round at or above level ends it; the trailing run
// is the current one.
func Streaks(ms []float64, level float64, lookback int) StreakStats {
	if lookback > 0 && len(ms) > lookback {
		ms = ms[len(ms)-lookback:]
	}
	var (
		st  StreakStats
		run int
		sum int
	)
	for _, m := range ms {
		if m < level {
			run++
			continue
		}
		if run > 0 {
			st.Completed++
			sum += run
			if run > st.Longest {
				st.Longest = run
			}
		}
		run = 0
	}
	st.Current = run
	if st.Completed > 0 {
		st.Average = float64(sum) / float64(st.Completed)
	}
	return st
}

// Favorability is the share of the last window rounds that reached target.
func Favorability(ms []float64, target float64, window int) float64 {
	ms = tail(ms, window)
	if len(ms) == 0 {
		return 0
	}
	return HitRate(ms, target)
}

// Momentum compares the hit rate at HitLevel over the short window with the
// long window. 1 is neutral; above 1 the game is running hot.
func Momentum(ms []float64, short, long int) float64 {
	if len(ms) == 0 || short <= 0 || long <= 0 {
		return 1
	}
	longRate := HitRate(tail(ms, long), HitLevel)
	if longRate == 0 {
		return 1
	}
	return HitRate(tail(ms, short), HitLevel) / longRate
}

// HitRate is the fraction of rounds at or above level.
func HitRate(ms []float64, level float64) float64 {
	if len(ms) == 0 {
		return 0
	}
	hits := 0
	for _, m := range ms {
		if m >= level {
			hits++
		}
	}
	return float64(hits) / float64(len(ms))
}

// TrailingBelow counts the newest rounds below level.
func TrailingBelow(ms []float64, level float64) int {
	n := 0
	for i := len(ms) - 1; i >= 0 && ms[i] < level; i-- {
		n++
	}
	return n
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(ms []float64) float64 {
	if len(ms) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range ms {
		sum += m
	}
	return sum / float64(len(ms))
}

func tail(ms []float64, n int) []float64 {
	if n > 0 && len(ms) > n {
		return ms[len(ms)-n:]
	}
	return ms
}

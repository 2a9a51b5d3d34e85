package models

import "time"

// Snapshot is one poll result from a probe. It has no identity and is
// discarded after the detector tick that consumed it.
type Snapshot struct {
	Multiplier         float64   `json:"multiplier"`
	IsRunning          bool      `json:"is_running"`
	IsCountdownVisible bool      `json:"is_countdown_visible"`
	BettorCount        int       `json:"bettor_count"`
	TotalStaked        float64   `json:"total_staked"`
	TotalPaid          float64   `json:"total_paid"`
	RecentHistory      []float64 `json:"recent_history"` // newest first
	AuthFault          bool      `json:"auth_fault"`
	TakenAt            time.Time `json:"taken_at"`
}

// HistoryHead returns the newest entry of the recent-results list.
func (s Snapshot) HistoryHead() (float64, bool) {
	if len(s.RecentHistory) == 0 {
		return 0, false
	}
	return s.RecentHistory[0], true
}

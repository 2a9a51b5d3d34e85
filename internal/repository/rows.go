package repository

import (
	"database/sql"
	"strconv"
	"strings"

	"CrashPilot/internal/domain/models"
)

const roundColumns = 8

type placeholderFunc func(argIndex int) string

func questionMark(int) string { return "?" }

func dollar(i int) string { return "$" + strconv.Itoa(i) }

// roundValues builds one VALUES group per storable round and the flat
// argument list. Events without a source or a positive id are skipped.
func roundValues(events []models.RoundEvent, ph placeholderFunc) ([]string, []interface{}) {
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*roundColumns)
	for _, e := range events {
		if e.SourceID == "" || e.ID <= 0 {
			continue
		}
		marks := make([]string, roundColumns)
		for i := range marks {
			marks[i] = ph(len(args) + i + 1)
		}
		values = append(values, "("+strings.Join(marks, ", ")+")")
		args = append(args,
			e.SourceID,
			e.ID,
			e.OccurredAt.UTC(),
			e.Multiplier,
			e.BettorCount,
			e.TotalStaked,
			e.TotalPaid,
			string(e.DetectionMethod),
		)
	}
	return values, args
}

// scanRounds reads rows selected newest first and returns them oldest first.
func scanRounds(rows *sql.Rows) ([]models.RoundEvent, error) {
	var out []models.RoundEvent
	for rows.Next() {
		var (
			e      models.RoundEvent
			method string
		)
		if err := rows.Scan(&e.SourceID, &e.ID, &e.OccurredAt, &e.Multiplier, &e.BettorCount,
			&e.TotalStaked, &e.TotalPaid, &method); err != nil {
			return nil, err
		}
		e.DetectionMethod = models.DetectionMethod(method)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseRounds(out)
	return out, nil
}

func reverseRounds(events []models.RoundEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

// betArgs lists a bet in bot_bets column order.
func betArgs(r models.BetRecord) []interface{} {
	return []interface{}{
		r.BetID,
		r.SessionID,
		r.BotID,
		r.SourceID,
		r.RoundID,
		string(r.Mode),
		r.Amount1,
		r.Target1,
		r.Amount2,
		r.Target2,
		r.CrashMultiplier,
		r.Payout,
		r.Profit,
		r.IsWin,
		r.BalanceAfter,
		string(r.ResolvedBy),
		r.Timestamp.UTC(),
	}
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/domain/repository"
)

// ClickHouseStorage implements Storage for ClickHouse. Rounds and bets live
// in ReplacingMergeTree tables so replays collapse on merge.
type ClickHouseStorage struct {
	db       *sql.DB
	database string
	now      func() time.Time
}

var _ repository.Storage = (*ClickHouseStorage)(nil)

// NewClickHouseStorage creates ClickHouse storage over tables in database.
func NewClickHouseStorage(db *sql.DB, database string) *ClickHouseStorage {
	if database == "" {
		database = "default"
	}
	return &ClickHouseStorage{db: db, database: database, now: time.Now}
}

func (s *ClickHouseStorage) table(name string) string {
	return s.database + "." + name
}

func (s *ClickHouseStorage) SaveRound(ctx context.Context, e models.RoundEvent) error {
	return s.SaveRounds(ctx, []models.RoundEvent{e})
}

// SaveRounds inserts rounds in multi-row VALUES chunks.
func (s *ClickHouseStorage) SaveRounds(ctx context.Context, events []models.RoundEvent) error {
	const chunkSize = 2000
	for start := 0; start < len(events); start += chunkSize {
		end := start + chunkSize
		if end > len(events) {
			end = len(events)
		}
		values, args := roundValues(events[start:end], questionMark)
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (source_id, round_id, occurred_at, multiplier, bettor_count, total_staked, total_paid, detection_method) VALUES %s",
			s.table("crash_rounds"), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert rounds: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) RecentRounds(ctx context.Context, sourceID string, limit int) ([]models.RoundEvent, error) {
	q := fmt.Sprintf(`SELECT source_id, round_id, occurred_at, multiplier, bettor_count, total_staked, total_paid, detection_method
FROM %s FINAL WHERE source_id = ? ORDER BY round_id DESC LIMIT ?`, s.table("crash_rounds"))
	rows, err := s.db.QueryContext(ctx, q, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()
	return scanRounds(rows)
}

func (s *ClickHouseStorage) InsertBet(ctx context.Context, r models.BetRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (bet_id, session_id, bot_id, source_id, round_id, mode, amount_1, target_1, amount_2, target_2,
crash_multiplier, payout, profit, is_win, balance_after, resolved_by, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.table("bot_bets"))
	args := betArgs(r)
	args[13] = boolToUInt8(r.IsWin)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

func (s *ClickHouseStorage) InsertSession(ctx context.Context, info models.SessionInfo) error {
	q := fmt.Sprintf(`INSERT INTO %s (session_id, bot_id, source_id, mode, live, start_balance, started_at, ended_at, version)
VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`, s.table("bot_sessions"))
	_, err := s.db.ExecContext(ctx, q,
		info.ID, info.BotID, info.SourceID, string(info.Mode), boolToUInt8(info.Live),
		info.StartBalance, info.StartedAt, uint64(info.StartedAt.UnixNano()),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CloseSession writes a newer version of the session row; the merge keeps
// the closed one.
func (s *ClickHouseStorage) CloseSession(ctx context.Context, sessionID string, st models.SessionStats) error {
	ended := st.EndedAt
	if ended.IsZero() {
		ended = s.now()
	}
	t := s.table("bot_sessions")
	q := fmt.Sprintf(`INSERT INTO %s (session_id, bot_id, source_id, mode, live, start_balance, started_at, ended_at,
final_balance, rounds, bets, wins, losses, profit, peak_balance, max_drawdown, version)
SELECT session_id, bot_id, source_id, mode, live, start_balance, started_at, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
FROM %s FINAL WHERE session_id = ?`, t, t)
	_, err := s.db.ExecContext(ctx, q,
		ended, st.FinalBalance, st.Rounds, st.Bets, st.Wins, st.Losses,
		st.Profit, st.PeakBalance, st.MaxDrawdown, uint64(ended.UnixNano()),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (s *ClickHouseStorage) RecentBets(ctx context.Context, botID string, limit int) ([]models.BetRecord, error) {
	q := fmt.Sprintf(`SELECT bet_id, session_id, bot_id, source_id, round_id, mode, amount_1, target_1, amount_2, target_2,
crash_multiplier, payout, profit, is_win, balance_after, resolved_by, ts
FROM %s FINAL WHERE bot_id = ? ORDER BY ts DESC LIMIT ?`, s.table("bot_bets"))
	rows, err := s.db.QueryContext(ctx, q, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var out []models.BetRecord
	for rows.Next() {
		var (
			r     models.BetRecord
			mode  string
			by    string
			isWin uint8
		)
		if err := rows.Scan(&r.BetID, &r.SessionID, &r.BotID, &r.SourceID, &r.RoundID, &mode,
			&r.Amount1, &r.Target1, &r.Amount2, &r.Target2, &r.CrashMultiplier, &r.Payout,
			&r.Profit, &isWin, &r.BalanceAfter, &by, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Mode = models.StrategyMode(mode)
		r.ResolvedBy = models.ResolvedBy(by)
		r.IsWin = isWin == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // pool owned by pkg/clickhouse
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

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

// PostgresStorage implements Storage on lib/pq. Replayed rounds and bets are
// dropped by their primary keys.
type PostgresStorage struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.Storage = (*PostgresStorage)(nil)

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db, now: time.Now}
}

func (s *PostgresStorage) SaveRound(ctx context.Context, e models.RoundEvent) error {
	return s.SaveRounds(ctx, []models.RoundEvent{e})
}

func (s *PostgresStorage) SaveRounds(ctx context.Context, events []models.RoundEvent) error {
	// 8 columns per row keeps a chunk well under the 65535 parameter cap
	const chunkSize = 1000
	for start := 0; start < len(events); start += chunkSize {
		end := start + chunkSize
		if end > len(events) {
			end = len(events)
		}
		values, args := roundValues(events[start:end], dollar)
		if len(values) == 0 {
			continue
		}
		q := `INSERT INTO crash_rounds (source_id, round_id, occurred_at, multiplier, bettor_count, total_staked, total_paid, detection_method)
VALUES ` + strings.Join(values, ",") + ` ON CONFLICT (source_id, round_id) DO NOTHING`
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert rounds: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) RecentRounds(ctx context.Context, sourceID string, limit int) ([]models.RoundEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, round_id, occurred_at, multiplier, bettor_count, total_staked, total_paid, detection_method
FROM crash_rounds WHERE source_id = $1 ORDER BY round_id DESC LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()
	return scanRounds(rows)
}

func (s *PostgresStorage) InsertBet(ctx context.Context, r models.BetRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bot_bets (bet_id, session_id, bot_id, source_id, round_id, mode, amount_1, target_1,
amount_2, target_2, crash_multiplier, payout, profit, is_win, balance_after, resolved_by, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (bet_id) DO NOTHING`, betArgs(r)...)
	if err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

func (s *PostgresStorage) InsertSession(ctx context.Context, info models.SessionInfo) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bot_sessions (session_id, bot_id, source_id, mode, live, start_balance, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		info.ID, info.BotID, info.SourceID, string(info.Mode), info.Live, info.StartBalance, info.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CloseSession(ctx context.Context, sessionID string, st models.SessionStats) error {
	ended := st.EndedAt
	if ended.IsZero() {
		ended = s.now()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE bot_sessions SET ended_at = $2, final_balance = $3, rounds = $4, bets = $5,
wins = $6, losses = $7, profit = $8, peak_balance = $9, max_drawdown = $10 WHERE session_id = $1`,
		sessionID, ended.UTC(), st.FinalBalance, st.Rounds, st.Bets, st.Wins, st.Losses,
		st.Profit, st.PeakBalance, st.MaxDrawdown)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("close session %s: %w", sessionID, sql.ErrNoRows)
	}
	return nil
}

func (s *PostgresStorage) RecentBets(ctx context.Context, botID string, limit int) ([]models.BetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bet_id, session_id, bot_id, source_id, round_id, mode, amount_1, target_1, amount_2, target_2,
crash_multiplier, payout, profit, is_win, balance_after, resolved_by, ts
FROM bot_bets WHERE bot_id = $1 ORDER BY ts DESC LIMIT $2`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var out []models.BetRecord
	for rows.Next() {
		var (
			r        models.BetRecord
			mode, by string
		)
		if err := rows.Scan(&r.BetID, &r.SessionID, &r.BotID, &r.SourceID, &r.RoundID, &mode,
			&r.Amount1, &r.Target1, &r.Amount2, &r.Target2, &r.CrashMultiplier, &r.Payout,
			&r.Profit, &r.IsWin, &r.BalanceAfter, &by, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Mode = models.StrategyMode(mode)
		r.ResolvedBy = models.ResolvedBy(by)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds Postgres pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Connect opens a pool and verifies it with a ping.
func Connect(cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// InitSchema runs idempotent DDL statements in order.
func InitSchema(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Schema is the DDL for the round and bot tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS crash_rounds (
	source_id        TEXT NOT NULL,
	round_id         BIGINT NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL,
	multiplier       DOUBLE PRECISION NOT NULL,
	bettor_count     INTEGER NOT NULL DEFAULT 0,
	total_staked     DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_paid       DOUBLE PRECISION NOT NULL DEFAULT 0,
	detection_method TEXT NOT NULL,
	PRIMARY KEY (source_id, round_id)
)`,
	`CREATE TABLE IF NOT EXISTS bot_sessions (
	session_id    UUID PRIMARY KEY,
	bot_id        TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	live          BOOLEAN NOT NULL DEFAULT FALSE,
	start_balance DOUBLE PRECISION NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ,
	final_balance DOUBLE PRECISION,
	rounds        INTEGER,
	bets          INTEGER,
	wins          INTEGER,
	losses        INTEGER,
	profit        DOUBLE PRECISION,
	peak_balance  DOUBLE PRECISION,
	max_drawdown  DOUBLE PRECISION
)`,
	`CREATE TABLE IF NOT EXISTS bot_bets (
	bet_id           UUID PRIMARY KEY,
	session_id       UUID NOT NULL,
	bot_id           TEXT NOT NULL,
	source_id        TEXT NOT NULL,
	round_id         BIGINT NOT NULL,
	mode             TEXT NOT NULL,
	amount_1         DOUBLE PRECISION NOT NULL,
	target_1         DOUBLE PRECISION NOT NULL,
	amount_2         DOUBLE PRECISION NOT NULL DEFAULT 0,
	target_2         DOUBLE PRECISION NOT NULL DEFAULT 0,
	crash_multiplier DOUBLE PRECISION NOT NULL,
	payout           DOUBLE PRECISION NOT NULL,
	profit           DOUBLE PRECISION NOT NULL,
	is_win           BOOLEAN NOT NULL,
	balance_after    DOUBLE PRECISION NOT NULL,
	resolved_by      TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS bot_bets_bot_ts ON bot_bets (bot_id, ts DESC)`,
}

package clickhouse

import "fmt"

// Schema returns the DDL for the round and bot tables in database.
func Schema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.crash_rounds (
	source_id        LowCardinality(String),
	round_id         Int64,
	occurred_at      DateTime64(3),
	multiplier       Float64,
	bettor_count     Int32,
	total_staked     Float64,
	total_paid       Float64,
	detection_method LowCardinality(String)
) ENGINE = ReplacingMergeTree
ORDER BY (source_id, round_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.bot_bets (
	bet_id           String,
	session_id       String,
	bot_id           LowCardinality(String),
	source_id        LowCardinality(String),
	round_id         Int64,
	mode             LowCardinality(String),
	amount_1         Float64,
	target_1         Float64,
	amount_2         Float64,
	target_2         Float64,
	crash_multiplier Float64,
	payout           Float64,
	profit           Float64,
	is_win           UInt8,
	balance_after    Float64,
	resolved_by      LowCardinality(String),
	ts               DateTime64(3)
) ENGINE = ReplacingMergeTree
ORDER BY (bot_id, ts, bet_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.bot_sessions (
	session_id    String,
	bot_id        LowCardinality(String),
	source_id     LowCardinality(String),
	mode          LowCardinality(String),
	live          UInt8,
	start_balance Float64,
	started_at    DateTime64(3),
	ended_at      Nullable(DateTime64(3)),
	final_balance Float64,
	rounds        Int32,
	bets          Int32,
	wins          Int32,
	losses        Int32,
	profit        Float64,
	peak_balance  Float64,
	max_drawdown  Float64,
	version       UInt64
) ENGINE = ReplacingMergeTree(version)
ORDER BY (bot_id, session_id)`, database),
	}
}

package repository

import (
	"context"

	"CrashPilot/internal/domain/models"
)

// Probe is the pull-based sensor of one source. Poll returns an error wrapping
// models.ErrSourceAuth when the page shows a session or login fault.
type Probe interface {
	Poll(ctx context.Context) (models.Snapshot, error)
	Reload(ctx context.Context) error
}

// BetExecutor places stakes and reads account state on the platform.
type BetExecutor interface {
	PlaceBet(ctx context.Context, amount1, target1, amount2, target2 float64) (models.PlaceResult, error)
	FetchBalance(ctx context.Context) (float64, error)
	FetchRecentHistory(ctx context.Context, limit int) ([]models.LiveBetResult, error)
	EnableLiveMode(ctx context.Context, enabled bool) (models.PlaceResult, error)
}

// Publisher ships bus messages to an external transport.
type Publisher interface {
	Publish(ctx context.Context, msg models.BusMessage) error
	Close() error
}

// RoundStore keeps the canonical round stream.
type RoundStore interface {
	SaveRound(ctx context.Context, e models.RoundEvent) error
	SaveRounds(ctx context.Context, events []models.RoundEvent) error
	RecentRounds(ctx context.Context, sourceID string, limit int) ([]models.RoundEvent, error)
}

// BetStore keeps bot bets and sessions.
type BetStore interface {
	InsertBet(ctx context.Context, r models.BetRecord) error
	InsertSession(ctx context.Context, s models.SessionInfo) error
	CloseSession(ctx context.Context, sessionID string, stats models.SessionStats) error
	RecentBets(ctx context.Context, botID string, limit int) ([]models.BetRecord, error)
}

// Storage is a full persistence backend.
type Storage interface {
	RoundStore
	BetStore
	Health(ctx context.Context) error
	Close() error
}

// Persistence is what a bot uses. RecordBet never blocks the caller on I/O.
type Persistence interface {
	RecordBet(ctx context.Context, r models.BetRecord)
	StartSession(ctx context.Context, s models.SessionInfo) (string, error)
	EndSession(ctx context.Context, sessionID string, stats models.SessionStats) error
}

type Metrics interface {
	RecordRound(sourceID string, method models.DetectionMethod)
	RecordDuplicate(sourceID string)
	RecordSignal(sourceID string, strength models.SignalStrength)
	RecordDecision(botID string, mode models.StrategyMode, shouldBet bool)
	RecordBetResolved(botID string, win bool, by models.ResolvedBy)
	RecordBalance(botID string, balance float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

package models

import "errors"

var (
	// ErrSourceAuth means the probe is looking at a login or session-expired page.
	ErrSourceAuth = errors.New("source authorization fault")
	// ErrDecision wraps a failure inside a strategy computation.
	ErrDecision = errors.New("decision failed")
	// ErrBetPlacement means the platform did not accept the stake.
	ErrBetPlacement = errors.New("bet placement failed")
	// ErrInsufficientBalance is raised when balance cannot cover a two-leg minimum bet.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateResolution rejects replaying a bet outcome.
	ErrDuplicateResolution = errors.New("bet already resolved")

	ErrBotActive      = errors.New("bot is active")
	ErrBotNotFound    = errors.New("bot not found")
	ErrBotExists      = errors.New("bot already exists")
	ErrSourceNotFound = errors.New("source not found")
)

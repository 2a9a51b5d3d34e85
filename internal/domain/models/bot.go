package models

import (
	"fmt"
	"sort"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// StrategyMode selects the decision strategy of a bot instance.
type StrategyMode string

const (
	ModeMLOnly          StrategyMode = "ml_only"
	ModeRulesOnly       StrategyMode = "rules_only"
	ModeHybrid          StrategyMode = "hybrid"
	ModeBreakevenProfit StrategyMode = "breakeven_profit"
	ModeWaitPattern     StrategyMode = "wait_pattern"
	ModeConservative    StrategyMode = "conservative"
)

// HybridPolicy selects how hybrid mode combines ML and rules votes.
type HybridPolicy string

const (
	HybridRequireBoth HybridPolicy = "require_both"
	HybridOverride    HybridPolicy = "override"
	HybridWeighted    HybridPolicy = "weighted"
)

var configValidator = validator.New()

// BotConfig is immutable while its bot is running.
type BotConfig struct {
	ID             string       `yaml:"id" json:"id" validate:"required"`
	SourceID       string       `yaml:"source_id" json:"source_id" validate:"required"`
	Mode           StrategyMode `yaml:"mode" json:"mode" default:"conservative" validate:"oneof=ml_only rules_only hybrid breakeven_profit wait_pattern conservative"`
	Live           bool         `yaml:"live" json:"live"`
	InitialBalance float64      `yaml:"initial_balance" json:"initial_balance" default:"100" validate:"gt=0"`
	BetAmount      float64      `yaml:"bet_amount" json:"bet_amount" default:"1" validate:"gt=0"`
	MinBetAmount   float64      `yaml:"min_bet_amount" json:"min_bet_amount" default:"0.1" validate:"gt=0"`
	MaxBetAmount   float64      `yaml:"max_bet_amount" json:"max_bet_amount" default:"100" validate:"gtefield=MinBetAmount"`

	Bankroll   BankrollConfig   `yaml:"bankroll" json:"bankroll"`
	StopLoss   StopLossConfig   `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit TakeProfitConfig `yaml:"take_profit" json:"take_profit"`
	Pause      PauseConfig      `yaml:"pause" json:"pause"`
	Sequence   SequenceOverlay  `yaml:"sequence" json:"sequence"`

	Rules        RulesConfig        `yaml:"rules" json:"rules"`
	ML           MLConfig           `yaml:"ml" json:"ml"`
	Hybrid       HybridConfig       `yaml:"hybrid" json:"hybrid"`
	Breakeven    BreakevenConfig    `yaml:"breakeven" json:"breakeven"`
	WaitPattern  WaitPatternConfig  `yaml:"wait_pattern" json:"wait_pattern"`
	Conservative ConservativeConfig `yaml:"conservative" json:"conservative"`
}

// BankrollConfig caps a decision's total stake at a percentage of balance.
type BankrollConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	MaxBetPercent float64 `yaml:"max_bet_percent" json:"max_bet_percent" default:"5" validate:"gt=0,lte=100"`
}

type StopLossConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Percent float64 `yaml:"percent" json:"percent" default:"50" validate:"gt=0,lte=100"`
}

type TakeProfitConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Percent float64 `yaml:"percent" json:"percent" default:"100" validate:"gt=0"`
}

type PauseConfig struct {
	Enabled              bool `yaml:"enabled" json:"enabled"`
	MaxConsecutiveLosses int  `yaml:"max_consecutive_losses" json:"max_consecutive_losses" default:"5" validate:"gte=1"`
	Rounds               int  `yaml:"rounds" json:"rounds" default:"3" validate:"gte=1"`
}

// SequenceOverlay controls how a SequenceSignal adjusts a decision.
type SequenceOverlay struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	ModerateBoost float64 `yaml:"moderate_boost" json:"moderate_boost" default:"0.1" validate:"gte=0,lte=1"`
	StrongBoost   float64 `yaml:"strong_boost" json:"strong_boost" default:"0.25" validate:"gte=0,lte=2"`
}

type RulesConfig struct {
	DefaultTarget float64             `yaml:"default_target" json:"default_target" default:"2" validate:"gt=1"`
	Streak2x      Streak2xConfig      `yaml:"streak2x" json:"streak2x"`
	Momentum      MomentumConfig      `yaml:"momentum" json:"momentum"`
	Favorability  FavorabilityConfig  `yaml:"favorability" json:"favorability"`
	LossReduction LossReductionConfig `yaml:"loss_reduction" json:"loss_reduction"`
}

type Streak2xConfig struct {
	MultiplierThreshold float64 `yaml:"multiplier_threshold" json:"multiplier_threshold" default:"1.5" validate:"gt=0"`
	Lookback            int     `yaml:"lookback" json:"lookback" default:"200" validate:"gte=10"`
	MinCompletedStreaks int     `yaml:"min_completed_streaks" json:"min_completed_streaks" default:"1" validate:"gte=1"`
}

type MomentumConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	ShortWindow    int     `yaml:"short_window" json:"short_window" default:"10" validate:"gte=2"`
	LongWindow     int     `yaml:"long_window" json:"long_window" default:"50" validate:"gtefield=ShortWindow"`
	HotRatio       float64 `yaml:"hot_ratio" json:"hot_ratio" default:"1.25" validate:"gt=1"`
	ColdRatio      float64 `yaml:"cold_ratio" json:"cold_ratio" default:"0.6" validate:"gt=0,lt=1"`
	HotTargetBoost float64 `yaml:"hot_target_boost" json:"hot_target_boost" default:"0.5" validate:"gte=0"`
	BlockOnCold    bool    `yaml:"block_on_cold" json:"block_on_cold"`
}

type FavorabilityConfig struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	Window   int     `yaml:"window" json:"window" default:"30" validate:"gte=5"`
	MinScore float64 `yaml:"min_score" json:"min_score" default:"0.35" validate:"gt=0,lte=1"`
}

type LossReductionConfig struct {
	AfterLosses int     `yaml:"after_losses" json:"after_losses" default:"3" validate:"gte=1"`
	Factor      float64 `yaml:"factor" json:"factor" default:"0.5" validate:"gt=0,lte=1"`
}

// ConfidenceBucket maps a minimum ML confidence to sizing and target.
type ConfidenceBucket struct {
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
	BetMultiplier float64 `yaml:"bet_multiplier" json:"bet_multiplier" validate:"gt=0"`
	Target        float64 `yaml:"target" json:"target" validate:"gt=1"`
}

type MLConfig struct {
	MinConfidenceToBet float64            `yaml:"min_confidence_to_bet" json:"min_confidence_to_bet" default:"0.6" validate:"gte=0,lte=1"`
	MaxEarlyCrashProb  float64            `yaml:"max_early_crash_prob" json:"max_early_crash_prob" default:"0.3" validate:"gt=0,lte=1"`
	MaxLossStreakProb  float64            `yaml:"max_loss_streak_prob" json:"max_loss_streak_prob" default:"0.5" validate:"gt=0,lte=1"`
	Buckets            []ConfidenceBucket `yaml:"buckets" json:"buckets" validate:"dive"`
}

type HybridConfig struct {
	Policy             HybridPolicy `yaml:"policy" json:"policy" default:"require_both" validate:"oneof=require_both override weighted"`
	MLWeight           float64      `yaml:"ml_weight" json:"ml_weight" default:"0.5" validate:"gte=0,lte=1"`
	AllowMLOverride    bool         `yaml:"allow_ml_override" json:"allow_ml_override"`
	AllowRulesOverride bool         `yaml:"allow_rules_override" json:"allow_rules_override"`
}

// ProfitRung picks a profit-leg target when the named probability reaches MinProb.
type ProfitRung struct {
	Key     string  `yaml:"key" json:"key" validate:"oneof=gt_2x gt_3x gt_4x gt_5x gt_7x gt_10x"`
	MinProb float64 `yaml:"min_prob" json:"min_prob" validate:"gt=0,lte=1"`
	Target  float64 `yaml:"target" json:"target" validate:"gt=1"`
}

type BreakevenConfig struct {
	LowTarget           float64      `yaml:"low_target" json:"low_target" default:"2" validate:"gt=1.01"`
	DefaultProfitTarget float64      `yaml:"default_profit_target" json:"default_profit_target" default:"3" validate:"gt=1"`
	Ladder              []ProfitRung `yaml:"ladder" json:"ladder" validate:"dive"`
}

type WaitPatternConfig struct {
	Threshold       float64 `yaml:"threshold" json:"threshold" default:"2" validate:"gt=1"`
	RequiredRounds  int     `yaml:"required_rounds" json:"required_rounds" default:"5" validate:"gte=1"`
	Target          float64 `yaml:"target" json:"target" default:"2" validate:"gt=1"`
	DoubleOnTrigger bool    `yaml:"double_on_trigger" json:"double_on_trigger"`
}

type ConservativeConfig struct {
	TargetMultiplier float64           `yaml:"target_multiplier" json:"target_multiplier" default:"1.5" validate:"gt=1"`
	BetEveryRound    bool              `yaml:"bet_every_round" json:"bet_every_round"`
	PatternThreshold float64           `yaml:"pattern_threshold" json:"pattern_threshold" default:"2" validate:"gt=1"`
	PatternLength    int               `yaml:"pattern_length" json:"pattern_length" default:"2" validate:"gte=1"`
	Progression      ProgressionConfig `yaml:"progression" json:"progression"`
}

type ProgressionConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	Factor        float64 `yaml:"factor" json:"factor" default:"1.5" validate:"gt=1"`
	MaxMultiplier float64 `yaml:"max_multiplier" json:"max_multiplier" default:"4" validate:"gte=1"`
}

// ApplyDefaults fills zero-valued fields from the default tags and seeds the
// ML buckets and profit ladder when they are empty.
func (c *BotConfig) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("bot %s defaults: %w", c.ID, err)
	}
	if len(c.ML.Buckets) == 0 {
		c.ML.Buckets = []ConfidenceBucket{
			{MinConfidence: 0.80, BetMultiplier: 1.5, Target: 2.0},
			{MinConfidence: 0.70, BetMultiplier: 1.25, Target: 1.8},
			{MinConfidence: 0.60, BetMultiplier: 1.0, Target: 1.5},
		}
	}
	sort.SliceStable(c.ML.Buckets, func(i, j int) bool {
		return c.ML.Buckets[i].MinConfidence > c.ML.Buckets[j].MinConfidence
	})
	if len(c.Breakeven.Ladder) == 0 {
		c.Breakeven.Ladder = []ProfitRung{
			{Key: "gt_10x", MinProb: 0.20, Target: 20},
			{Key: "gt_10x", MinProb: 0.12, Target: 10},
			{Key: "gt_5x", MinProb: 0.25, Target: 5},
			{Key: "gt_3x", MinProb: 0.35, Target: 3},
		}
	}
	return nil
}

// Validate checks field constraints.
func (c *BotConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("bot %s config: %w", c.ID, err)
	}
	return nil
}

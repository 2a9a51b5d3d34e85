package sequence

import (
	"math"
	"time"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/domain/service"
)

// Config holds the streak thresholds and probability model.
type Config struct {
	LowThreshold float64
	ModerateAt   int
	StrongAt     int
	Window       int
	MinSample    int

	// Run-length factors: applied at ModerateAt, StrongAt and StrongAt+1 and beyond.
	ModerateFactor float64
	StrongFactor   float64
	ExtendedFactor float64

	BaseRates     models.Probabilities
	Caps          models.Probabilities
	TargetMinProb float64

	Now func() time.Time
}

// Option configures the Analyzer.
type Option func(*Config)

func WithLowThreshold(v float64) Option {
	return func(c *Config) {
		if v > 1 {
			c.LowThreshold = v
		}
	}
}

func WithRunLengths(moderate, strong int) Option {
	return func(c *Config) {
		if moderate > 0 && strong >= moderate {
			c.ModerateAt = moderate
			c.StrongAt = strong
		}
	}
}

func WithWindow(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Window = n
		}
	}
}

func WithFactors(moderate, strong, extended float64) Option {
	return func(c *Config) {
		c.ModerateFactor = moderate
		c.StrongFactor = strong
		c.ExtendedFactor = extended
	}
}

func WithCaps(caps models.Probabilities) Option {
	return func(c *Config) { c.Caps = caps }
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// Analyzer is stateless across calls; every call sees only its window.
type Analyzer struct {
	cfg Config
}

var _ service.SignalAnalyzer = (*Analyzer)(nil)

func New(opts ...Option) *Analyzer {
	cfg := Config{
		LowThreshold:   2.0,
		ModerateAt:     3,
		StrongAt:       4,
		Window:         50,
		MinSample:      20,
		ModerateFactor: 1.5,
		StrongFactor:   2.0,
		ExtendedFactor: 2.2,
		BaseRates:      models.Probabilities{Gte2x: 0.50, Gte3x: 0.33, Gte5x: 0.20, Gte10x: 0.10},
		Caps:           models.Probabilities{Gte2x: 0.85, Gte3x: 0.65, Gte5x: 0.45, Gte10x: 0.25},
		TargetMinProb:  0.45,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Analyzer{cfg: cfg}
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze returns the signal for the newest run of low rounds, or nil when the
// run is shorter than ModerateAt. window is oldest first.
func (a *Analyzer) Analyze(sourceID string, window []models.RoundEvent) *models.SequenceSignal {
	if len(window) > a.cfg.Window {
		window = window[len(window)-a.cfg.Window:]
	}
	run := ConsecutiveLows(window, a.cfg.LowThreshold)
	if run < a.cfg.ModerateAt {
		return nil
	}

	strength := models.SignalModerate
	if run >= a.cfg.StrongAt {
		strength = models.SignalStrong
	}

	factor := a.factor(run)
	base := a.baseRates(window)
	probs := models.Probabilities{
		Gte2x:  capAt(base.Gte2x*factor, a.cfg.Caps.Gte2x),
		Gte3x:  capAt(base.Gte3x*factor, a.cfg.Caps.Gte3x),
		Gte5x:  capAt(base.Gte5x*factor, a.cfg.Caps.Gte5x),
		Gte10x: capAt(base.Gte10x*factor, a.cfg.Caps.Gte10x),
	}

	return &models.SequenceSignal{
		SourceID:          sourceID,
		Strength:          strength,
		ConsecutiveLows:   run,
		Probabilities:     probs,
		RecommendedTarget: a.recommend(probs),
		EmittedAt:         a.cfg.Now(),
	}
}

func (a *Analyzer) factor(run int) float64 {
	switch {
	case run > a.cfg.StrongAt:
		return a.cfg.ExtendedFactor
	case run >= a.cfg.StrongAt:
		return a.cfg.StrongFactor
	default:
		return a.cfg.ModerateFactor
	}
}

func (a *Analyzer) baseRates(window []models.RoundEvent) models.Probabilities {
	if len(window) < a.cfg.MinSample {
		return a.cfg.BaseRates
	}
	var p models.Probabilities
	for _, e := range window {
		if e.Multiplier >= 2 {
			p.Gte2x++
		}
		if e.Multiplier >= 3 {
			p.Gte3x++
		}
		if e.Multiplier >= 5 {
			p.Gte5x++
		}
		if e.Multiplier >= 10 {
			p.Gte10x++
		}
	}
	n := float64(len(window))
	p.Gte2x /= n
	p.Gte3x /= n
	p.Gte5x /= n
	p.Gte10x /= n
	return p
}

func (a *Analyzer) recommend(p models.Probabilities) float64 {
	ladder := []struct {
		target float64
		prob   float64
	}{
		{10, p.Gte10x},
		{5, p.Gte5x},
		{3, p.Gte3x},
		{2, p.Gte2x},
	}
	for _, r := range ladder {
		if r.prob >= a.cfg.TargetMinProb {
			return r.target
		}
	}
	return 2.0
}

// ConsecutiveLows counts the newest run of rounds below threshold.
func ConsecutiveLows(events []models.RoundEvent, threshold float64) int {
	n := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Multiplier >= threshold {
			break
		}
		n++
	}
	return n
}

func capAt(v, limit float64) float64 {
	if limit > 0 {
		v = math.Min(v, limit)
	}
	return math.Round(v*10000) / 10000
}

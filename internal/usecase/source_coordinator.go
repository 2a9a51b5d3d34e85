package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
	dsvc "CrashPilot/internal/domain/service"
	"CrashPilot/pkg/logger"
)

// ProbeFactory builds the probe for a source from its agent URL.
type ProbeFactory func(sourceID, probeURL string) (drepo.Probe, error)

// SourceCoordinator owns the active detectors. Sources never share state.
type SourceCoordinator struct {
	mu        sync.Mutex
	detectors map[string]*RoundDetector
	lastIDs   map[string]int64 // of removed sources

	pub      EventPublisher
	factory  ProbeFactory
	analyzer dsvc.SignalAnalyzer
	store    drepo.RoundStore
	metrics  drepo.Metrics
	log      *logger.Logger
	cfg      DetectorConfig
}

type CoordinatorOption func(*SourceCoordinator)

func WithProbeFactory(f ProbeFactory) CoordinatorOption {
	return func(c *SourceCoordinator) { c.factory = f }
}

func WithCoordinatorAnalyzer(a dsvc.SignalAnalyzer) CoordinatorOption {
	return func(c *SourceCoordinator) { c.analyzer = a }
}

func WithCoordinatorStore(s drepo.RoundStore) CoordinatorOption {
	return func(c *SourceCoordinator) { c.store = s }
}

func WithCoordinatorMetrics(m drepo.Metrics) CoordinatorOption {
	return func(c *SourceCoordinator) { c.metrics = m }
}

func WithCoordinatorLogger(l *logger.Logger) CoordinatorOption {
	return func(c *SourceCoordinator) {
		if l != nil {
			c.log = l
		}
	}
}

func WithCoordinatorDetectorConfig(cfg DetectorConfig) CoordinatorOption {
	return func(c *SourceCoordinator) { c.cfg = cfg }
}

func NewSourceCoordinator(pub EventPublisher, opts ...CoordinatorOption) *SourceCoordinator {
	c := &SourceCoordinator{
		detectors: make(map[string]*RoundDetector),
		lastIDs:   make(map[string]int64),
		pub:       pub,
		log:       logger.Nop(),
		cfg:       DefaultDetectorConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddSource builds a probe for probeURL and starts a detector for it. Adding
// an active source returns the existing detector.
func (c *SourceCoordinator) AddSource(ctx context.Context, sourceID, probeURL string) (*RoundDetector, error) {
	if d, ok := c.Detector(sourceID); ok {
		return d, nil
	}
	if c.factory == nil {
		return nil, fmt.Errorf("source %s: no probe factory configured", sourceID)
	}
	probe, err := c.factory(sourceID, probeURL)
	if err != nil {
		return nil, fmt.Errorf("source %s probe: %w", sourceID, err)
	}
	return c.AttachSource(ctx, sourceID, probe)
}

// AttachSource starts a detector on an existing probe. It is idempotent.
func (c *SourceCoordinator) AttachSource(ctx context.Context, sourceID string, probe drepo.Probe) (*RoundDetector, error) {
	c.mu.Lock()
	if d, ok := c.detectors[sourceID]; ok {
		c.mu.Unlock()
		return d, nil
	}
	opts := []DetectorOption{
		WithDetectorConfig(c.cfg),
		WithDetectorLogger(c.log),
		WithStartID(c.lastIDs[sourceID]),
	}
	if c.analyzer != nil {
		opts = append(opts, WithAnalyzer(c.analyzer))
	}
	if c.store != nil {
		opts = append(opts, WithRoundStore(c.store))
	}
	if c.metrics != nil {
		opts = append(opts, WithDetectorMetrics(c.metrics))
	}
	d := NewRoundDetector(sourceID, probe, c.pub, opts...)
	c.detectors[sourceID] = d
	c.mu.Unlock()

	if err := d.Start(ctx); err != nil {
		c.mu.Lock()
		delete(c.detectors, sourceID)
		c.mu.Unlock()
		return nil, fmt.Errorf("start source %s: %w", sourceID, err)
	}
	c.log.Info("source added", logger.Source(sourceID))
	return d, nil
}

// RemoveSource stops and forgets a detector. Removing an unknown source is a no-op.
func (c *SourceCoordinator) RemoveSource(sourceID string) bool {
	c.mu.Lock()
	d, ok := c.detectors[sourceID]
	delete(c.detectors, sourceID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	d.Stop()
	c.mu.Lock()
	if id := d.LastID(); id > c.lastIDs[sourceID] {
		c.lastIDs[sourceID] = id
	}
	c.mu.Unlock()
	c.log.Info("source removed", logger.Source(sourceID))
	return true
}

func (c *SourceCoordinator) Detector(sourceID string) (*RoundDetector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.detectors[sourceID]
	return d, ok
}

// Sources lists active source ids in order.
func (c *SourceCoordinator) Sources() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.detectors))
	for id := range c.detectors {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Status aggregates the state of every detector.
func (c *SourceCoordinator) Status() map[string]DetectorStatus {
	c.mu.Lock()
	ds := make([]*RoundDetector, 0, len(c.detectors))
	for _, d := range c.detectors {
		ds = append(ds, d)
	}
	c.mu.Unlock()

	out := make(map[string]DetectorStatus, len(ds))
	for _, d := range ds {
		out[d.SourceID()] = d.Status()
	}
	return out
}

// History returns the newest events of a source, oldest first.
func (c *SourceCoordinator) History(sourceID string, limit int) ([]models.RoundEvent, error) {
	d, ok := c.Detector(sourceID)
	if !ok {
		return nil, fmt.Errorf("source %s: %w", sourceID, models.ErrSourceNotFound)
	}
	return d.History(limit), nil
}

// StopAll stops every detector.
func (c *SourceCoordinator) StopAll() {
	for _, id := range c.Sources() {
		c.RemoveSource(id)
	}
}

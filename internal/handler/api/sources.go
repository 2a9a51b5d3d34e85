package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
	"CrashPilot/internal/usecase"
	"CrashPilot/pkg/cache"
	xhttp "CrashPilot/pkg/http"
	"CrashPilot/pkg/logger"
)

// SourceService is the part of the source coordinator the API drives.
type SourceService interface {
	AddSource(ctx context.Context, sourceID, probeURL string) (*usecase.RoundDetector, error)
	RemoveSource(sourceID string) bool
	Sources() []string
	Status() map[string]usecase.DetectorStatus
	History(sourceID string, limit int) ([]models.RoundEvent, error)
}

type SourcesHandler struct {
	sources SourceService
	store   drepo.RoundStore
	cache   cache.Service
	ttl     time.Duration
	limit   echo.MiddlewareFunc
	log     *logger.Logger
}

type SourcesOption func(*SourcesHandler)

// WithRoundStore lets the rounds endpoint read persisted history.
func WithRoundStore(s drepo.RoundStore) SourcesOption {
	return func(h *SourcesHandler) { h.store = s }
}

// WithRoundsCache caches rounds responses for ttl.
func WithRoundsCache(c cache.Service, ttl time.Duration) SourcesOption {
	return func(h *SourcesHandler) {
		h.cache = c
		h.ttl = ttl
	}
}

func WithSourcesRateLimit(mw echo.MiddlewareFunc) SourcesOption {
	return func(h *SourcesHandler) { h.limit = mw }
}

func WithSourcesLogger(l *logger.Logger) SourcesOption {
	return func(h *SourcesHandler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewSourcesHandler(sources SourceService, opts ...SourcesOption) *SourcesHandler {
	h := &SourcesHandler{sources: sources, ttl: 2 * time.Second, log: logger.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ xhttp.Handler = (*SourcesHandler)(nil)

func (h *SourcesHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/sources")
	g.GET("", h.List)
	g.POST("", h.Add, limited(h.limit)...)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Remove, limited(h.limit)...)
	g.GET("/:id/rounds", h.Rounds)
}

// RoundsKeyPrefix is the cache prefix of every rounds response of a source.
func RoundsKeyPrefix(sourceID string) string {
	return cache.Key("rounds", sourceID) + ":"
}

func (h *SourcesHandler) List(c echo.Context) error {
	status := h.sources.Status()
	rows := make([]usecase.DetectorStatus, 0, len(status))
	for _, id := range h.sources.Sources() {
		if s, ok := status[id]; ok {
			rows = append(rows, s)
		}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SourcesHandler) Add(c echo.Context) error {
	req := &models.AddSourceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, err := h.sources.AddSource(c.Request().Context(), req.ID, req.ProbeURL); err != nil {
		return respondError(c, h.log, "add source", err)
	}
	h.log.Info("source added via api", logger.Source(req.ID))
	return xhttp.CreatedResponse(c, h.sources.Status()[req.ID])
}

func (h *SourcesHandler) Get(c echo.Context) error {
	req := &models.SourceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, ok := h.sources.Status()[req.ID]
	if !ok {
		return respondError(c, h.log, "source status", models.ErrSourceNotFound)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *SourcesHandler) Remove(c echo.Context) error {
	req := &models.SourceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.sources.RemoveSource(req.ID) {
		return respondError(c, h.log, "remove source", models.ErrSourceNotFound)
	}
	if h.cache != nil {
		_ = h.cache.DeleteByPrefix(c.Request().Context(), RoundsKeyPrefix(req.ID))
	}
	return c.NoContent(http.StatusNoContent)
}

// Rounds serves recent rounds, oldest first. Active sources answer from the
// detector ring; stopped ones, or stored=true, read storage.
func (h *SourcesHandler) Rounds(c echo.Context) error {
	req := &models.RoundsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := cache.Key("rounds", req.ID, req.Limit, req.Stored)
	rows, err := cache.GetOrLoad(c.Request().Context(), h.cache, key, h.ttl, func(ctx context.Context) ([]models.RoundEvent, error) {
		return h.loadRounds(ctx, req)
	})
	if err != nil {
		return respondError(c, h.log, "rounds", err)
	}
	if rows == nil {
		rows = []models.RoundEvent{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SourcesHandler) loadRounds(ctx context.Context, req *models.RoundsRequest) ([]models.RoundEvent, error) {
	if !req.Stored {
		rows, err := h.sources.History(req.ID, req.Limit)
		if err == nil || !errors.Is(err, models.ErrSourceNotFound) {
			return rows, err
		}
	}
	if h.store == nil {
		return nil, models.ErrSourceNotFound
	}
	return h.store.RecentRounds(ctx, req.ID, req.Limit)
}

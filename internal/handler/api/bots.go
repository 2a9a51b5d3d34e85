package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/usecase"
	xhttp "CrashPilot/pkg/http"
	"CrashPilot/pkg/logger"
)

// BotService is the part of the bot manager the API drives.
type BotService interface {
	CreateBot(cfg models.BotConfig) (models.BotConfig, error)
	UpdateConfig(id string, cfg models.BotConfig) (models.BotConfig, error)
	DeleteBot(id string) error
	Config(id string) (models.BotConfig, error)
	StartBot(ctx context.Context, id string) (usecase.BotStatus, error)
	StopBot(id string) (usecase.BotStatus, error)
	ResetRisk(id string) (models.RiskState, error)
	Status(id string) (usecase.BotStatus, error)
	List() []usecase.BotStatus
	Bets(ctx context.Context, id string, limit int) ([]models.BetRecord, error)
}

type BotsHandler struct {
	bots  BotService
	limit echo.MiddlewareFunc
	log   *logger.Logger
}

func NewBotsHandler(bots BotService, l *logger.Logger, limit echo.MiddlewareFunc) *BotsHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &BotsHandler{bots: bots, limit: limit, log: l}
}

var _ xhttp.Handler = (*BotsHandler)(nil)

func (h *BotsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/bots")
	mw := limited(h.limit)
	g.GET("", h.List)
	g.POST("", h.Create, mw...)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete, mw...)
	g.GET("/:id/config", h.GetConfig)
	g.PUT("/:id/config", h.UpdateConfig, mw...)
	g.POST("/:id/start", h.Start, mw...)
	g.POST("/:id/stop", h.Stop, mw...)
	g.POST("/:id/reset-risk", h.ResetRisk, mw...)
	g.GET("/:id/bets", h.Bets)
}

func (h *BotsHandler) List(c echo.Context) error {
	rows := h.bots.List()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *BotsHandler) Create(c echo.Context) error {
	var cfg models.BotConfig
	if err := c.Bind(&cfg); err != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestError("invalid bot config").WithError(err)})
	}
	out, err := h.bots.CreateBot(cfg)
	if err != nil {
		return respondError(c, h.log, "create bot", err)
	}
	return xhttp.CreatedResponse(c, out)
}

func (h *BotsHandler) Get(c echo.Context) error {
	s, err := h.bots.Status(c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "bot status", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *BotsHandler) Delete(c echo.Context) error {
	if err := h.bots.DeleteBot(c.Param("id")); err != nil {
		return respondError(c, h.log, "delete bot", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BotsHandler) GetConfig(c echo.Context) error {
	cfg, err := h.bots.Config(c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "bot config", err)
	}
	return xhttp.SuccessResponse(c, cfg)
}

// UpdateConfig replaces the whole configuration; only inactive bots accept it.
func (h *BotsHandler) UpdateConfig(c echo.Context) error {
	var cfg models.BotConfig
	if err := c.Bind(&cfg); err != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestError("invalid bot config").WithError(err)})
	}
	out, err := h.bots.UpdateConfig(c.Param("id"), cfg)
	if err != nil {
		return respondError(c, h.log, "update bot", err)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *BotsHandler) Start(c echo.Context) error {
	id := c.Param("id")
	s, err := h.bots.StartBot(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.log, "start bot", err)
	}
	h.log.Info("bot started via api", logger.Bot(id))
	return xhttp.SuccessResponse(c, s)
}

func (h *BotsHandler) Stop(c echo.Context) error {
	id := c.Param("id")
	s, err := h.bots.StopBot(id)
	if err != nil {
		return respondError(c, h.log, "stop bot", err)
	}
	h.log.Info("bot stop requested via api", logger.Bot(id))
	return xhttp.SuccessResponse(c, s)
}

func (h *BotsHandler) ResetRisk(c echo.Context) error {
	st, err := h.bots.ResetRisk(c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "reset risk", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *BotsHandler) Bets(c echo.Context) error {
	req := &models.BotHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.bots.Bets(c.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return respondError(c, h.log, "bot bets", err)
	}
	if rows == nil {
		rows = []models.BetRecord{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

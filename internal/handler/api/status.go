package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"CrashPilot/internal/usecase"
	xhttp "CrashPilot/pkg/http"
)

type StatusResponse struct {
	Time     time.Time                         `json:"time"`
	Sources  map[string]usecase.DetectorStatus `json:"sources"`
	Bots     []usecase.BotStatus               `json:"bots"`
	Pipeline map[string]int                    `json:"pipeline,omitempty"`
}

// StatusHandler serves the aggregate view of sources and bots.
type StatusHandler struct {
	sources SourceService
	bots    BotService
	pending func() map[string]int
}

func NewStatusHandler(sources SourceService, bots BotService, pending func() map[string]int) *StatusHandler {
	return &StatusHandler{sources: sources, bots: bots, pending: pending}
}

var _ xhttp.Handler = (*StatusHandler)(nil)

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/status", h.Status)
}

func (h *StatusHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Time:    time.Now().UTC(),
		Sources: h.sources.Status(),
		Bots:    h.bots.List(),
	}
	if h.pending != nil {
		resp.Pipeline = h.pending()
	}
	return xhttp.SuccessResponse(c, resp)
}

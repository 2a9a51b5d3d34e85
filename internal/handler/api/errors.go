package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"CrashPilot/internal/domain/models"
	xhttp "CrashPilot/pkg/http"
	"CrashPilot/pkg/logger"
)

// respondError maps domain errors onto API errors. Anything unknown is a 500
// and gets logged.
func respondError(c echo.Context, l *logger.Logger, op string, err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return xhttp.BadRequestResponse(c, xhttp.ValidationErrors(verrs))
	case errors.Is(err, models.ErrBotNotFound), errors.Is(err, models.ErrSourceNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrBotActive), errors.Is(err, models.ErrBotExists):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()).WithError(err))
	}
	l.Error(op+" failed", logger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}

func limited(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if mw == nil {
		return nil
	}
	return []echo.MiddlewareFunc{mw}
}

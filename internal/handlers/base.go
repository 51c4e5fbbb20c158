package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"qaboard/internal/forum"
	"qaboard/internal/identity"
	"qaboard/internal/ledger"
	"qaboard/internal/middleware"
)

// statusOf maps service errors to HTTP statuses. Unknown errors are 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, forum.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthenticated), errors.Is(err, forum.ErrUnauthenticated),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrInvalidArgument), errors.Is(err, forum.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes {"error": ...}. Internal errors are logged and their
// detail is kept out of the response.
func RespondError(c *gin.Context, logger *slog.Logger, err error) {
	code := statusOf(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("event", "http.request_failed"),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		message = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// badRequest is for malformed requests that never reached a service.
func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}

func currentVoter(c *gin.Context) identity.Voter {
	v, _ := middleware.CurrentVoter(c)
	return v
}

func handlerLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("module", "handlers"), slog.String("layer", "http"))
}

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"qaboard/internal/identity"
	"qaboard/internal/middleware"
)

// AuthHandler trades a bearer token from the sign-in service for a session
// cookie so browsers do not have to resend the token.
type AuthHandler struct {
	verifier *identity.JWTVerifier
	logger   *slog.Logger
}

func NewAuthHandler(verifier *identity.JWTVerifier, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{verifier: verifier, logger: handlerLogger(logger)}
}

type loginInput struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	if h.verifier == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "token sign-in is not configured"})
		return
	}

	var in loginInput
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Token) == "" {
		badRequest(c, "token is required")
		return
	}

	voter, err := h.verifier.Verify(strings.TrimSpace(in.Token))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if err := middleware.SaveSessionVoter(sessions.Default(c), voter); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	h.logger.Info("voter signed in",
		slog.String("event", "auth.session_started"),
		slog.String("voter_id", voter.ID),
	)
	c.JSON(http.StatusOK, voter)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := middleware.ClearSessionVoter(sessions.Default(c)); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me returns the signed-in voter.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentVoter(c))
}

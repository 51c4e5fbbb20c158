package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"qaboard/internal/identity"
)

const VoterKey = "voter"

// Session keys written by sign-in and read by LoadVoter.
const (
	SessionVoterID    = "voter_id"
	SessionVoterName  = "voter_name"
	SessionVoterEmail = "voter_email"
)

// LoadVoter resolves the caller from a bearer token or, failing that, the
// session cookie, and attaches it to both the gin context and the request
// context. A request without credentials passes through anonymously; a
// request with a bad token is rejected.
func LoadVoter(verifier *identity.JWTVerifier, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("module", "middleware"), slog.String("layer", "http"))

	return func(c *gin.Context) {
		voter, ok := bearerVoter(c, verifier, logger)
		if c.IsAborted() {
			return
		}
		if !ok {
			voter, ok = SessionVoter(sessions.Default(c))
		}

		if ok {
			c.Set(VoterKey, voter)
			c.Request = c.Request.WithContext(identity.WithVoter(c.Request.Context(), voter))
		}
		c.Next()
	}
}

func bearerVoter(c *gin.Context, verifier *identity.JWTVerifier, logger *slog.Logger) (identity.Voter, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return identity.Voter{}, false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || verifier == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unsupported authorization"})
		return identity.Voter{}, false
	}

	voter, err := verifier.Verify(strings.TrimSpace(token))
	if err != nil {
		logger.Info("bearer token rejected",
			slog.String("event", "auth.token_rejected"),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return identity.Voter{}, false
	}
	return voter, true
}

// SessionVoter reads the voter stored in session.
func SessionVoter(session sessions.Session) (identity.Voter, bool) {
	id, _ := session.Get(SessionVoterID).(string)
	if id == "" {
		return identity.Voter{}, false
	}
	name, _ := session.Get(SessionVoterName).(string)
	email, _ := session.Get(SessionVoterEmail).(string)
	return identity.Voter{ID: id, Name: name, Email: email}, true
}

// SaveSessionVoter stores v in the session cookie.
func SaveSessionVoter(session sessions.Session, v identity.Voter) error {
	session.Set(SessionVoterID, v.ID)
	session.Set(SessionVoterName, v.Name)
	session.Set(SessionVoterEmail, v.Email)
	return session.Save()
}

func ClearSessionVoter(session sessions.Session) error {
	session.Clear()
	return session.Save()
}

// CurrentVoter returns the voter LoadVoter attached to c.
func CurrentVoter(c *gin.Context) (identity.Voter, bool) {
	v, ok := c.Get(VoterKey)
	if !ok {
		return identity.Voter{}, false
	}
	voter, ok := v.(identity.Voter)
	return voter, ok && voter.ID != ""
}

// VoterRequired ensures a voter is signed in
func VoterRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentVoter(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sign in required"})
			return
		}
		c.Next()
	}
}

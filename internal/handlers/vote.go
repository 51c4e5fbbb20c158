package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"qaboard/internal/ledger"
	"qaboard/internal/models"
	"qaboard/internal/tally"
)

type VoteHandler struct {
	ledger *ledger.Ledger
	feed   *tally.Feed // nil disables Stream
	logger *slog.Logger
}

func NewVoteHandler(l *ledger.Ledger, feed *tally.Feed, logger *slog.Logger) *VoteHandler {
	return &VoteHandler{ledger: l, feed: feed, logger: handlerLogger(logger)}
}

type voteInput struct {
	Value int `json:"value"`
}

type tallyResponse struct {
	AnswerID string `json:"answer_id"`
	models.Tally
	Vote string `json:"vote,omitempty"`
}

// Vote casts the caller's like (1) or dislike (-1). The response carries the
// committed tally, never an optimistic one.
func (h *VoteHandler) Vote(c *gin.Context) {
	var in voteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	answerID := c.Param("id")
	t, err := h.ledger.CastVote(c.Request.Context(), answerID, in.Value)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	state := ledger.Liked
	if in.Value == models.VoteDislike {
		state = ledger.Disliked
	}
	c.JSON(http.StatusOK, tallyResponse{AnswerID: answerID, Tally: t, Vote: state.String()})
}

func (h *VoteHandler) Tally(c *gin.Context) {
	answerID := c.Param("id")
	t, err := h.ledger.CurrentTally(c.Request.Context(), answerID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tallyResponse{AnswerID: answerID, Tally: t})
}

// MyVote reports the caller's current standing on the answer.
func (h *VoteHandler) MyVote(c *gin.Context) {
	answerID := c.Param("id")
	state, err := h.ledger.VoteOf(c.Request.Context(), answerID, currentVoter(c).ID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer_id": answerID, "vote": state.String(), "value": state.Value()})
}

// Stream sends the answer's tally as server-sent events: the current value
// first, then one event per committed vote until the client goes away.
func (h *VoteHandler) Stream(c *gin.Context) {
	if h.feed == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "tally stream is disabled"})
		return
	}

	answerID := c.Param("id")
	// Subscribe before reading so no commit falls between the two.
	updates, cancel := h.feed.Subscribe(answerID)
	defer cancel()

	current, err := h.ledger.CurrentTally(c.Request.Context(), answerID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("tally", tallyResponse{AnswerID: answerID, Tally: current})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("tally", tallyResponse{AnswerID: answerID, Tally: snap.Tally})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

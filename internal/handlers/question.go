package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"qaboard/internal/forum"
	"qaboard/internal/utils"
)

type QuestionHandler struct {
	forum  *forum.Service
	logger *slog.Logger
}

func NewQuestionHandler(svc *forum.Service, logger *slog.Logger) *QuestionHandler {
	return &QuestionHandler{forum: svc, logger: handlerLogger(logger)}
}

// List handles GET /api/questions?subject=&limit=
func (h *QuestionHandler) List(c *gin.Context) {
	limit := utils.ClampLimit(c.Query("limit"), forum.DefaultListLimit, forum.MaxListLimit)
	questions, err := h.forum.ListQuestions(c.Request.Context(), c.Query("subject"), limit)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (h *QuestionHandler) Detail(c *gin.Context) {
	q, err := h.forum.GetQuestion(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QuestionHandler) Create(c *gin.Context) {
	var in forum.QuestionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	q, err := h.forum.PostQuestion(c.Request.Context(), currentVoter(c), in)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

type answerInput struct {
	Body string `json:"body"`
}

// ListAnswers handles GET /api/questions/:id/answers?sort=oldest|top
func (h *QuestionHandler) ListAnswers(c *gin.Context) {
	order, err := forum.ParseAnswerSort(c.Query("sort"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	answers, err := h.forum.ListAnswers(c.Request.Context(), c.Param("id"), order)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answers": answers})
}

func (h *QuestionHandler) CreateAnswer(c *gin.Context) {
	var in answerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	a, err := h.forum.AddAnswer(c.Request.Context(), currentVoter(c), c.Param("id"), in.Body)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

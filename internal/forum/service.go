// Package forum posts and lists questions and answers. Vote counters on
// answers are created at zero here and are otherwise owned by the ledger.
package forum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"qaboard/internal/identity"
	"qaboard/internal/models"
	"qaboard/internal/store"
	"qaboard/internal/utils"
)

const (
	MaxTitleLen   = 200
	MaxSubjectLen = 64
	MaxBodyLen    = 20000

	DefaultListLimit = 50
	MaxListLimit     = 100
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("sign in required")
)

// AnswerSort orders ListAnswers.
type AnswerSort string

const (
	SortOldest AnswerSort = "oldest"
	SortTop    AnswerSort = "top"
)

// ParseAnswerSort accepts "", "oldest" and "top".
func ParseAnswerSort(s string) (AnswerSort, error) {
	switch AnswerSort(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortOldest:
		return SortOldest, nil
	case SortTop:
		return SortTop, nil
	}
	return "", fmt.Errorf("%w: unknown sort %q", ErrInvalidInput, s)
}

type QuestionInput struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Subject  string `json:"subject"`
	ImageURL string `json:"image_url"`
}

type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With(slog.String("module", "forum"), slog.String("layer", "service")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Service) PostQuestion(ctx context.Context, author identity.Voter, in QuestionInput) (models.Question, error) {
	if author.ID == "" {
		return models.Question{}, ErrUnauthenticated
	}

	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	subject := strings.TrimSpace(in.Subject)
	imageURL := strings.TrimSpace(in.ImageURL)

	switch {
	case title == "":
		return models.Question{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	case utf8.RuneCountInString(title) > MaxTitleLen:
		return models.Question{}, fmt.Errorf("%w: title is longer than %d characters", ErrInvalidInput, MaxTitleLen)
	case body == "":
		return models.Question{}, fmt.Errorf("%w: body is required", ErrInvalidInput)
	case utf8.RuneCountInString(body) > MaxBodyLen:
		return models.Question{}, fmt.Errorf("%w: body is longer than %d characters", ErrInvalidInput, MaxBodyLen)
	case utf8.RuneCountInString(subject) > MaxSubjectLen:
		return models.Question{}, fmt.Errorf("%w: subject is longer than %d characters", ErrInvalidInput, MaxSubjectLen)
	}
	if imageURL != "" && !isHTTPURL(imageURL) {
		return models.Question{}, fmt.Errorf("%w: image_url must be an http(s) URL", ErrInvalidInput)
	}
	if subject == "" {
		subject = models.DefaultSubject
	}

	q := models.Question{
		ID:         s.newID(),
		Title:      title,
		Body:       body,
		Subject:    subject,
		AuthorUID:  author.ID,
		AuthorName: author.DisplayName(),
		ImageURL:   imageURL,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return models.Question{}, fmt.Errorf("post question: %w", err)
	}

	s.logger.Info("question posted",
		slog.String("event", "forum.question_posted"),
		slog.String("question_id", q.ID),
		slog.String("subject", q.Subject),
	)
	q.BodyHTML = string(utils.RenderMarkdown(q.Body))
	return q, nil
}

func (s *Service) GetQuestion(ctx context.Context, id string) (models.Question, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Question{}, ErrNotFound
	}
	if err != nil {
		return models.Question{}, fmt.Errorf("get question: %w", err)
	}

	if q.AnswerCount, err = s.store.CountAnswers(ctx, id); err != nil {
		return models.Question{}, fmt.Errorf("count answers: %w", err)
	}
	q.BodyHTML = string(utils.RenderMarkdown(q.Body))
	return q, nil
}

// ListQuestions returns the newest questions first, optionally for one subject.
func (s *Service) ListQuestions(ctx context.Context, subject string, limit int) ([]models.Question, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	questions, err := s.store.ListQuestions(ctx, store.QuestionFilter{
		Subject: strings.TrimSpace(subject),
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if questions == nil {
		questions = []models.Question{}
	}
	return questions, nil
}

func (s *Service) AddAnswer(ctx context.Context, author identity.Voter, questionID, body string) (models.Answer, error) {
	if author.ID == "" {
		return models.Answer{}, ErrUnauthenticated
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Answer{}, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return models.Answer{}, fmt.Errorf("%w: body is longer than %d characters", ErrInvalidInput, MaxBodyLen)
	}

	a := models.Answer{
		ID:         s.newID(),
		QuestionID: questionID,
		Body:       body,
		AuthorUID:  author.ID,
		AuthorName: author.DisplayName(),
		Likes:      0,
		Dislikes:   0,
		CreatedAt:  s.now().UTC(),
	}
	err := s.store.CreateAnswer(ctx, a)
	if errors.Is(err, store.ErrNotFound) {
		return models.Answer{}, ErrNotFound
	}
	if err != nil {
		return models.Answer{}, fmt.Errorf("add answer: %w", err)
	}

	s.logger.Info("answer added",
		slog.String("event", "forum.answer_added"),
		slog.String("question_id", questionID),
		slog.String("answer_id", a.ID),
	)
	a.BodyHTML = string(utils.RenderMarkdown(a.Body))
	return a, nil
}

// ListAnswers returns a question's answers, oldest first or by ranking score.
func (s *Service) ListAnswers(ctx context.Context, questionID string, order AnswerSort) ([]models.Answer, error) {
	if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}

	answers, err := s.store.ListAnswers(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if answers == nil {
		answers = []models.Answer{}
	}

	if order == SortTop {
		now := s.now()
		scores := make(map[string]float64, len(answers))
		for _, a := range answers {
			scores[a.ID] = utils.AnswerScore(a.CreatedAt, now, a.Likes, a.Dislikes)
		}
		// Stable so equal scores keep oldest-first order.
		sort.SliceStable(answers, func(i, j int) bool {
			return scores[answers[i].ID] > scores[answers[j].ID]
		})
	}

	for i := range answers {
		answers[i].BodyHTML = string(utils.RenderMarkdown(answers[i].Body))
	}
	return answers, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Package store defines the persistence contracts shared by the forum and the
// vote ledger. Implementations live in pgstore (Postgres via gorm) and
// badgerstore (embedded Badger).
package store

import (
	"context"
	"errors"

	"qaboard/internal/models"
)

var (
	// ErrNotFound is returned when a question, answer or vote does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a transaction could not commit because a
	// concurrent transaction touched the same records. Callers may retry.
	ErrConflict = errors.New("store: transaction conflict")
)

// Tx is the handle passed to a transaction function. Reads observe a
// consistent snapshot; writes become visible only if the transaction commits.
type Tx interface {
	GetAnswer(ctx context.Context, answerID string) (models.Answer, error)
	// GetVote reports ok=false when the voter has not voted on the answer.
	GetVote(ctx context.Context, answerID, voterID string) (vote models.Vote, ok bool, err error)
	// SetTally overwrites the answer's counters and stamps it with revision.
	SetTally(ctx context.Context, answerID string, tally models.Tally, revision int64) error
	PutVote(ctx context.Context, vote models.Vote) error
}

// Transactor runs fn once inside a transaction and commits it. Any error from
// fn aborts the transaction and is returned unchanged. A commit rejected
// because of concurrent writes returns an error matching ErrConflict; the
// caller owns the retry policy.
type Transactor interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// QuestionFilter narrows ListQuestions.
type QuestionFilter struct {
	Subject string
	Limit   int
}

type Store interface {
	Transactor

	CreateQuestion(ctx context.Context, q models.Question) error
	GetQuestion(ctx context.Context, id string) (models.Question, error)
	// ListQuestions returns the newest questions first.
	ListQuestions(ctx context.Context, filter QuestionFilter) ([]models.Question, error)
	CountAnswers(ctx context.Context, questionID string) (int, error)

	CreateAnswer(ctx context.Context, a models.Answer) error
	GetAnswer(ctx context.Context, id string) (models.Answer, error)
	// ListAnswers returns the answers of a question, oldest first.
	ListAnswers(ctx context.Context, questionID string) ([]models.Answer, error)
	ListAnswerIDs(ctx context.Context) ([]string, error)

	GetVote(ctx context.Context, answerID, voterID string) (models.Vote, error)
	ListVotes(ctx context.Context, answerID string) ([]models.Vote, error)

	Close() error
}

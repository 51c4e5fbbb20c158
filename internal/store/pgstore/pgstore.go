// Package pgstore implements store.Store on Postgres through gorm.
//
// Ledger transactions run at READ COMMITTED and lock the answer row with
// SELECT ... FOR UPDATE, so writers on one answer take turns and every read
// after the lock sees the latest committed vote. Serialization failures and
// deadlocks surface as store.ErrConflict so the caller can retry.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"qaboard/internal/models"
	"qaboard/internal/store"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeForeignKeyViolation  = "23503"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(ctx, &pgTx{db: gtx})
	}, txOptions())
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

// txOptions must stay below REPEATABLE READ: at higher levels a transaction
// that waited on the answer lock aborts with 40001 instead of reading the
// committed row.
func txOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

func (s *Store) CreateQuestion(ctx context.Context, q models.Question) error {
	if err := s.db.WithContext(ctx).Create(&q).Error; err != nil {
		return s.logError("store.create_question_failed", err, "question_id", q.ID)
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (models.Question, error) {
	var q models.Question
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&q).Error
	return q, notFound(err)
}

func (s *Store) ListQuestions(ctx context.Context, filter store.QuestionFilter) ([]models.Question, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if filter.Subject != "" {
		query = query.Where("LOWER(subject) = LOWER(?)", filter.Subject)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var questions []models.Question
	if err := query.Find(&questions).Error; err != nil {
		return nil, s.logError("store.list_questions_failed", err)
	}
	return questions, nil
}

func (s *Store) CountAnswers(ctx context.Context, questionID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Answer{}).Where("question_id = ?", questionID).Count(&n).Error
	return int(n), err
}

func (s *Store) CreateAnswer(ctx context.Context, a models.Answer) error {
	err := s.db.WithContext(ctx).Create(&a).Error
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return s.logError("store.create_answer_failed", err, "question_id", a.QuestionID)
	}
	return nil
}

func (s *Store) GetAnswer(ctx context.Context, id string) (models.Answer, error) {
	var a models.Answer
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&a).Error
	return a, notFound(err)
}

func (s *Store) ListAnswers(ctx context.Context, questionID string) ([]models.Answer, error) {
	var answers []models.Answer
	err := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("created_at ASC, id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, s.logError("store.list_answers_failed", err, "question_id", questionID)
	}
	return answers, nil
}

func (s *Store) ListAnswerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Answer{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) GetVote(ctx context.Context, answerID, voterID string) (models.Vote, error) {
	var v models.Vote
	err := s.db.WithContext(ctx).Where("answer_id = ? AND voter_id = ?", answerID, voterID).Take(&v).Error
	return v, notFound(err)
}

func (s *Store) ListVotes(ctx context.Context, answerID string) ([]models.Vote, error) {
	var votes []models.Vote
	err := s.db.WithContext(ctx).Where("answer_id = ?", answerID).Find(&votes).Error
	return votes, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "store",
		"layer", "postgres",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("postgres store operation failed", fields...)
	return err
}

type pgTx struct {
	db *gorm.DB
}

// GetAnswer locks the answer row until the transaction ends.
func (t *pgTx) GetAnswer(ctx context.Context, answerID string) (models.Answer, error) {
	var a models.Answer
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", answerID).
		Take(&a).Error
	return a, notFound(err)
}

func (t *pgTx) GetVote(ctx context.Context, answerID, voterID string) (models.Vote, bool, error) {
	var v models.Vote
	err := t.db.WithContext(ctx).
		Where("answer_id = ? AND voter_id = ?", answerID, voterID).
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Vote{}, false, nil
	}
	if err != nil {
		return models.Vote{}, false, err
	}
	return v, true, nil
}

func (t *pgTx) SetTally(ctx context.Context, answerID string, tally models.Tally, revision int64) error {
	res := t.db.WithContext(ctx).
		Model(&models.Answer{}).
		Where("id = ?", answerID).
		Updates(map[string]interface{}{
			"likes":    tally.Likes,
			"dislikes": tally.Dislikes,
			"revision": revision,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) PutVote(ctx context.Context, vote models.Vote) error {
	if vote.UpdatedAt.IsZero() {
		vote.UpdatedAt = time.Now()
	}
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "answer_id"}, {Name: "voter_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&vote).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

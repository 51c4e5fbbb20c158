// Package ledger records one vote per (answer, voter) and keeps each
// answer's like/dislike counters equal to the votes behind them.
//
// A cast reads the answer and the voter's previous vote, retracts the
// previous effect, applies the new value and writes both records back in a
// single store transaction. A commit that loses to a concurrent vote is
// retried from the first read with exponential backoff.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"qaboard/internal/identity"
	"qaboard/internal/models"
	"qaboard/internal/store"
	"qaboard/internal/tally"
)

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 10 * time.Millisecond
	DefaultMaxBackoff     = 200 * time.Millisecond
)

// Store is what the ledger needs from persistence.
type Store interface {
	store.Transactor
	GetAnswer(ctx context.Context, id string) (models.Answer, error)
	GetVote(ctx context.Context, answerID, voterID string) (models.Vote, error)
	ListVotes(ctx context.Context, answerID string) ([]models.Vote, error)
}

type Ledger struct {
	store     Store
	voters    identity.Provider
	publisher tally.Publishers
	source    tally.Source

	maxAttempts    uint
	initialBackoff time.Duration
	maxBackoff     time.Duration

	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Ledger)

// WithMaxAttempts bounds how many times one cast runs its transaction.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = uint(n)
		}
	}
}

// WithBackoff sets the first and the largest wait between attempts.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(l *Ledger) {
		if initial > 0 {
			l.initialBackoff = initial
		}
		if ceiling >= l.initialBackoff {
			l.maxBackoff = ceiling
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPublisher adds a receiver for committed tallies. May be repeated.
func WithPublisher(p tally.Publisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = append(l.publisher, p)
		}
	}
}

// WithSource lets CurrentTally answer from pushed snapshots.
func WithSource(s tally.Source) Option {
	return func(l *Ledger) { l.source = s }
}

// WithCache is WithSource and WithPublisher for the same cache.
func WithCache(c *tally.Cache) Option {
	return func(l *Ledger) {
		WithSource(c)(l)
		WithPublisher(c)(l)
	}
}

// New builds a ledger over s. voters resolves the caller for CastVote and
// may be nil when only CastVoteAs is used.
func New(s Store, voters identity.Provider, opts ...Option) *Ledger {
	l := &Ledger{
		store:          s,
		voters:         voters,
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("module", "ledger"), slog.String("layer", "service"))
	return l
}

// CastVote records value for the caller identified by the ledger's identity
// provider and returns the answer's committed tally.
func (l *Ledger) CastVote(ctx context.Context, answerID string, value int) (models.Tally, error) {
	var (
		voterID string
		ok      bool
	)
	if l.voters != nil {
		voterID, ok = l.voters.CurrentVoterID(ctx)
	}
	if !ok || voterID == "" {
		voteCastTotal.WithLabelValues(resultUnauthenticated).Inc()
		return models.Tally{}, ErrUnauthenticated
	}
	return l.CastVoteAs(ctx, answerID, voterID, value)
}

// CastVoteAs records value for voterID on answerID.
//
// The transaction runs on a context detached from ctx: once started it
// commits or fails on its own. Cancelling ctx only stops further retries.
func (l *Ledger) CastVoteAs(ctx context.Context, answerID, voterID string, value int) (models.Tally, error) {
	start := l.now()

	switch {
	case voterID == "":
		l.record(resultUnauthenticated, 0, start)
		return models.Tally{}, ErrUnauthenticated
	case !ValidValue(value):
		l.record(resultInvalid, 0, start)
		return models.Tally{}, fmt.Errorf("%w: got %d", ErrInvalidArgument, value)
	case answerID == "":
		l.record(resultNotFound, 0, start)
		return models.Tally{}, ErrNotFound
	}

	txCtx := context.WithoutCancel(ctx)
	attempts := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.initialBackoff
	policy.MaxInterval = l.maxBackoff

	snap, err := backoff.Retry(ctx, func() (tally.Snapshot, error) {
		attempts++
		snap, err := l.castOnce(txCtx, answerID, voterID, value)
		switch {
		case err == nil:
			return snap, nil
		case errors.Is(err, store.ErrConflict):
			voteConflicts.Inc()
			l.logger.Debug("vote transaction conflicted",
				slog.String("event", "ledger.cast_conflict"),
				slog.String("answer_id", answerID),
				slog.Int("attempt", attempts),
			)
			return snap, err
		default:
			return snap, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(l.maxAttempts),
		backoff.WithMaxElapsedTime(0),
	)

	if err != nil {
		return models.Tally{}, l.castFailed(ctx, err, answerID, voterID, attempts, start)
	}

	l.publisher.Publish(snap)
	l.record(resultOK, attempts, start)
	l.logger.Debug("vote recorded",
		slog.String("event", "ledger.cast"),
		slog.String("answer_id", answerID),
		slog.String("voter_id", voterID),
		slog.Int("value", value),
		slog.Int("attempts", attempts),
	)
	return snap.Tally, nil
}

func (l *Ledger) castOnce(ctx context.Context, answerID, voterID string, value int) (tally.Snapshot, error) {
	var snap tally.Snapshot

	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		answer, err := tx.GetAnswer(ctx, answerID)
		if err != nil {
			return err
		}

		previous := 0
		existing, ok, err := tx.GetVote(ctx, answerID, voterID)
		if err != nil {
			return err
		}
		if ok {
			previous = existing.Value
		}

		next := answer.Tally().Apply(previous, value)
		if next.Likes < 0 || next.Dislikes < 0 {
			return fmt.Errorf("answer %s: tally %+v is out of step with vote %d", answerID, answer.Tally(), previous)
		}
		revision := answer.Revision + 1

		if err := tx.SetTally(ctx, answerID, next, revision); err != nil {
			return err
		}
		err = tx.PutVote(ctx, models.Vote{
			AnswerID:  answerID,
			VoterID:   voterID,
			Value:     value,
			UpdatedAt: l.now(),
		})
		if err != nil {
			return err
		}

		snap = tally.Snapshot{AnswerID: answerID, Tally: next, Revision: revision, At: l.now()}
		return nil
	})
	return snap, err
}

func (l *Ledger) castFailed(ctx context.Context, err error, answerID, voterID string, attempts int, start time.Time) error {
	attrs := []any{
		"event", "ledger.cast_failed",
		"answer_id", answerID,
		"voter_id", voterID,
		"attempts", attempts,
		"error", err.Error(),
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		l.record(resultNotFound, attempts, start)
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		l.record(resultConflict, attempts, start)
		l.logger.Warn("vote retry budget exhausted", attrs...)
		return fmt.Errorf("%w (after %d attempts)", ErrConflict, attempts)
	case ctx.Err() != nil:
		l.record(resultCanceled, attempts, start)
		return err
	default:
		l.record(resultError, attempts, start)
		l.logger.Error("vote transaction failed", attrs...)
		return fmt.Errorf("cast vote: %w", err)
	}
}

func (l *Ledger) record(result string, attempts int, start time.Time) {
	voteCastTotal.WithLabelValues(result).Inc()
	voteCastDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	if attempts > 0 {
		voteAttempts.Observe(float64(attempts))
	}
}

// CurrentTally returns the latest known tally for answerID. It prefers the
// snapshot pushed by the most recent commit and falls back to a store read,
// so the result may trail a concurrent cast.
func (l *Ledger) CurrentTally(ctx context.Context, answerID string) (models.Tally, error) {
	if answerID == "" {
		return models.Tally{}, ErrNotFound
	}
	if l.source != nil {
		if snap, ok := l.source.Latest(answerID); ok {
			return snap.Tally, nil
		}
	}

	answer, err := l.store.GetAnswer(ctx, answerID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Tally{}, ErrNotFound
	}
	if err != nil {
		return models.Tally{}, fmt.Errorf("read tally: %w", err)
	}

	if p, ok := l.source.(tally.Publisher); ok {
		p.Publish(tally.FromAnswer(answer))
	}
	return answer.Tally(), nil
}

// VoteOf returns voterID's current standing on answerID.
func (l *Ledger) VoteOf(ctx context.Context, answerID, voterID string) (State, error) {
	if voterID == "" {
		return NoVote, ErrUnauthenticated
	}
	if _, err := l.store.GetAnswer(ctx, answerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NoVote, ErrNotFound
		}
		return NoVote, err
	}

	vote, err := l.store.GetVote(ctx, answerID, voterID)
	if errors.Is(err, store.ErrNotFound) {
		return NoVote, nil
	}
	if err != nil {
		return NoVote, err
	}
	return stateOf(vote.Value), nil
}

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"qaboard/internal/models"
	"qaboard/internal/store"
)

// Key layout:
//
//	q/<question>              question document
//	a/<answer>                answer document, including its counters
//	qa/<question>/<answer>    answer index for a question (empty value)
//	v/<answer>/<voter>        vote document
const (
	prefixQuestion = "q/"
	prefixAnswer   = "a/"
	prefixIndex    = "qa/"
	prefixVote     = "v/"
)

func questionKey(id string) []byte { return []byte(prefixQuestion + id) }

func answerKey(id string) []byte { return []byte(prefixAnswer + id) }

func indexKey(questionID, answerID string) []byte {
	return []byte(prefixIndex + questionID + "/" + answerID)
}

func indexPrefix(questionID string) []byte { return []byte(prefixIndex + questionID + "/") }

func voteKey(answerID, voterID string) []byte {
	return []byte(prefixVote + answerID + "/" + voterID)
}

func votePrefix(answerID string) []byte { return []byte(prefixVote + answerID + "/") }

// Store implements store.Store on top of Badger.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a Badger store. The caller must Close it.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Logger == nil && !cfg.InMemory {
		cfg.Logger = logger
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger.With(slog.String("module", "store"), slog.String("layer", "badger")),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		gc, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, s.logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.gc = gc
		gc.start()
	}
	return s, nil
}

// OpenInMemory opens a throwaway store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig(), nil)
}

func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(ctx, &badgerTx{txn: txn}); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		s.logError("store.commit_failed", err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CreateQuestion(ctx context.Context, q models.Question) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, questionKey(q.ID), q)
	})
}

func (s *Store) GetQuestion(ctx context.Context, id string) (models.Question, error) {
	var q models.Question
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, questionKey(id), &q)
	})
	return q, err
}

func (s *Store) ListQuestions(ctx context.Context, filter store.QuestionFilter) ([]models.Question, error) {
	var out []models.Question
	err := s.db.View(func(txn *badger.Txn) error {
		return eachValue(txn, []byte(prefixQuestion), func(val []byte) error {
			var q models.Question
			if err := json.Unmarshal(val, &q); err != nil {
				return err
			}
			if filter.Subject == "" || strings.EqualFold(q.Subject, filter.Subject) {
				out = append(out, q)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CountAnswers(ctx context.Context, questionID string) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		return eachKey(txn, indexPrefix(questionID), func([]byte) { n++ })
	})
	return n, err
}

func (s *Store) CreateAnswer(ctx context.Context, a models.Answer) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(questionKey(a.QuestionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if err := putJSON(txn, answerKey(a.ID), a); err != nil {
			return err
		}
		return txn.Set(indexKey(a.QuestionID, a.ID), nil)
	})
}

func (s *Store) GetAnswer(ctx context.Context, id string) (models.Answer, error) {
	var a models.Answer
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, answerKey(id), &a)
	})
	return a, err
}

func (s *Store) ListAnswers(ctx context.Context, questionID string) ([]models.Answer, error) {
	var out []models.Answer
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := indexPrefix(questionID)
		var ids []string
		if err := eachKey(txn, prefix, func(k []byte) {
			ids = append(ids, string(k[len(prefix):]))
		}); err != nil {
			return err
		}
		for _, id := range ids {
			var a models.Answer
			if err := getJSON(txn, answerKey(id), &a); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListAnswerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		return eachKey(txn, []byte(prefixAnswer), func(k []byte) {
			ids = append(ids, string(k[len(prefixAnswer):]))
		})
	})
	return ids, err
}

func (s *Store) GetVote(ctx context.Context, answerID, voterID string) (models.Vote, error) {
	var v models.Vote
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, voteKey(answerID, voterID), &v)
	})
	return v, err
}

func (s *Store) ListVotes(ctx context.Context, answerID string) ([]models.Vote, error) {
	var out []models.Vote
	err := s.db.View(func(txn *badger.Txn) error {
		return eachValue(txn, votePrefix(answerID), func(val []byte) error {
			var v models.Vote
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	return out, err
}

func (s *Store) logError(event string, err error, attrs ...any) {
	args := append([]any{"event", event, "error", err.Error()}, attrs...)
	s.logger.Error("badger store operation failed", args...)
}

// badgerTx is the store.Tx handed to ledger transactions. Every Get is
// recorded in the read set, so a concurrent commit to the same answer or
// vote makes Commit return badger.ErrConflict.
type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) GetAnswer(ctx context.Context, answerID string) (models.Answer, error) {
	var a models.Answer
	err := getJSON(t.txn, answerKey(answerID), &a)
	return a, err
}

func (t *badgerTx) GetVote(ctx context.Context, answerID, voterID string) (models.Vote, bool, error) {
	var v models.Vote
	err := getJSON(t.txn, voteKey(answerID, voterID), &v)
	if errors.Is(err, store.ErrNotFound) {
		return models.Vote{}, false, nil
	}
	if err != nil {
		return models.Vote{}, false, err
	}
	return v, true, nil
}

func (t *badgerTx) SetTally(ctx context.Context, answerID string, tally models.Tally, revision int64) error {
	var a models.Answer
	if err := getJSON(t.txn, answerKey(answerID), &a); err != nil {
		return err
	}
	a.Likes = tally.Likes
	a.Dislikes = tally.Dislikes
	a.Revision = revision
	return putJSON(t.txn, answerKey(answerID), a)
}

func (t *badgerTx) PutVote(ctx context.Context, vote models.Vote) error {
	return putJSON(t.txn, voteKey(vote.AnswerID, vote.VoterID), vote)
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func eachValue(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func eachKey(txn *badger.Txn, prefix []byte, fn func(key []byte)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		fn(it.Item().KeyCopy(nil))
	}
	return nil
}

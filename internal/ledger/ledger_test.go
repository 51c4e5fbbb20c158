package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaboard/internal/identity"
	"qaboard/internal/models"
	"qaboard/internal/store"
	"qaboard/internal/store/badgerstore"
	"qaboard/internal/tally"
)

func newTestStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateQuestion(ctx, models.Question{ID: "q1", Title: "Why?", Body: "Because.", CreatedAt: time.Now()}))
	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, s.CreateAnswer(ctx, models.Answer{ID: id, QuestionID: "q1", Body: "answer " + id, CreatedAt: time.Now()}))
	}
	return s
}

// fastRetries keeps retry-budget tests quick.
func fastRetries(attempts int) []Option {
	return []Option{WithMaxAttempts(attempts), WithBackoff(time.Millisecond, 20*time.Millisecond)}
}

func assertTally(t *testing.T, s Store, answerID string, want models.Tally) {
	t.Helper()
	a, err := s.GetAnswer(context.Background(), answerID)
	require.NoError(t, err)
	assert.Equal(t, want, a.Tally())
}

// assertConsistent checks that the stored counters equal a recount of the votes.
func assertConsistent(t *testing.T, l *Ledger, answerID string) AuditReport {
	t.Helper()
	report, err := l.Audit(context.Background(), answerID)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "stored %+v, counted %+v", report.Stored, report.Counted)
	return report
}

func TestCastVoteScenario(t *testing.T) {
	s := newTestStore(t)
	l := New(s, nil)
	ctx := context.Background()

	steps := []struct {
		voter string
		value int
		want  models.Tally
	}{
		{"u1", models.VoteLike, models.Tally{Likes: 1, Dislikes: 0}},
		{"u2", models.VoteDislike, models.Tally{Likes: 1, Dislikes: 1}},
		{"u1", models.VoteDislike, models.Tally{Likes: 0, Dislikes: 2}},
		{"u1", models.VoteDislike, models.Tally{Likes: 0, Dislikes: 2}},
	}
	for i, step := range steps {
		got, err := l.CastVoteAs(ctx, "a1", step.voter, step.value)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.want, got, "step %d", i)
		assertTally(t, s, "a1", step.want)
		assertConsistent(t, l, "a1")
	}

	// Other answers are untouched.
	assertTally(t, s, "a2", models.Tally{})
}

func TestCastVoteIdempotent(t *testing.T) {
	s := newTestStore(t)
	l := New(s, nil)
	ctx := context.Background()

	once, err := l.CastVoteAs(ctx, "a1", "u1", models.VoteLike)
	require.NoError(t, err)
	twice, err := l.CastVoteAs(ctx, "a1", "u1", models.VoteLike)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, models.Tally{Likes: 1}, twice)

	report := assertConsistent(t, l, "a1")
	assert.Equal(t, 1, report.Votes)
}

func TestCastVoteSwitch(t *testing.T) {
	s := newTestStore(t)
	l := New(s, nil)
	ctx := context.Background()

	// Another voter's dislike gives a non-zero baseline.
	before, err := l.CastVoteAs(ctx, "a1", "u2", models.VoteDislike)
	require.NoError(t, err)

	_, err = l.CastVoteAs(ctx, "a1", "u1", models.VoteLike)
	require.NoError(t, err)
	after, err := l.CastVoteAs(ctx, "a1", "u1", models.VoteDislike)
	require.NoError(t, err)

	assert.Equal(t, before.Likes, after.Likes)
	assert.Equal(t, before.Dislikes+1, after.Dislikes)
	assertConsistent(t, l, "a1")
}

func TestCastVoteThroughIdentityProvider(t *testing.T) {
	s := newTestStore(t)
	l := New(s, identity.ContextProvider{})

	ctx := identity.WithVoter(context.Background(), identity.Voter{ID: "u1"})
	got, err := l.CastVote(ctx, "a1", models.VoteLike)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{Likes: 1}, got)

	vote, err := s.GetVote(context.Background(), "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.VoteLike, vote.Value)
}

func TestConcurrentDistinctVoters(t *testing.T) {
	for _, voters := range []int{8, 16, 32, 64} {
		t.Run(fmt.Sprintf("%d voters", voters), func(t *testing.T) {
			concurrentDistinctVoters(t, voters)
		})
	}
}

// concurrentDistinctVoters runs at the default retry budget.
func concurrentDistinctVoters(t *testing.T, voters int) {
	t.Helper()
	s := newTestStore(t)
	l := New(s, nil)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		failed    atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if _, err := l.CastVoteAs(ctx, "a1", fmt.Sprintf("voter-%d", i), models.VoteLike); err != nil {
				failed.Add(1)
				return
			}
			succeeded.Add(1)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(0), failed.Load())
	assert.Equal(t, int32(voters), succeeded.Load())
	assertTally(t, s, "a1", models.Tally{Likes: voters})
	report := assertConsistent(t, l, "a1")
	assert.Equal(t, voters, report.Votes)
}

func TestConcurrentSameVoter(t *testing.T) {
	s := newTestStore(t)
	l := New(s, nil)
	ctx := context.Background()

	// A double tap that flips between like and dislike.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := models.VoteLike
			if i%2 == 1 {
				value = models.VoteDislike
			}
			_, err := l.CastVoteAs(ctx, "a1", "u1", value)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	a, err := s.GetAnswer(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Likes+a.Dislikes)

	vote, err := s.GetVote(ctx, "a1", "u1")
	require.NoError(t, err)
	if vote.Value == models.VoteLike {
		assert.Equal(t, models.Tally{Likes: 1}, a.Tally())
	} else {
		assert.Equal(t, models.Tally{Dislikes: 1}, a.Tally())
	}
	assertConsistent(t, l, "a1")
}

func TestCastVoteRejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("unknown answer", func(t *testing.T) {
		_, err := New(s, nil).CastVoteAs(ctx, "nonexistent", "u1", models.VoteLike)
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("empty answer id", func(t *testing.T) {
		_, err := New(s, nil).CastVoteAs(ctx, "", "u1", models.VoteLike)
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("signed out", func(t *testing.T) {
		_, err := New(s, identity.Static("")).CastVote(ctx, "a1", models.VoteLike)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
	t.Run("no identity provider", func(t *testing.T) {
		_, err := New(s, nil).CastVote(ctx, "a1", models.VoteLike)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
	t.Run("empty voter", func(t *testing.T) {
		_, err := New(s, nil).CastVoteAs(ctx, "a1", "", models.VoteLike)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
	for _, value := range []int{0, 2, -2} {
		t.Run(fmt.Sprintf("value %d", value), func(t *testing.T) {
			_, err := New(s, identity.Static("u1")).CastVote(ctx, "a1", value)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	// Rejected casts leave nothing behind.
	assertTally(t, s, "a1", models.Tally{})
	votes, err := s.ListVotes(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, votes)
}

// conflictingStore fails the first failures transactions with a conflict
// and then delegates to the wrapped store.
type conflictingStore struct {
	*badgerstore.Store
	failures int32
	runs     atomic.Int32
}

func (c *conflictingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	n := c.runs.Add(1)
	if n <= c.failures {
		return fmt.Errorf("%w: injected", store.ErrConflict)
	}
	return c.Store.RunTransaction(ctx, fn)
}

func TestRetryExhaustionReturnsConflict(t *testing.T) {
	cs := &conflictingStore{Store: newTestStore(t), failures: 1 << 30}
	l := New(cs, nil, fastRetries(4)...)

	_, err := l.CastVoteAs(context.Background(), "a1", "u1", models.VoteLike)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(4), cs.runs.Load())

	assertTally(t, cs, "a1", models.Tally{})
	_, err = cs.GetVote(context.Background(), "a1", "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryIsInvisibleOnSuccess(t *testing.T) {
	cs := &conflictingStore{Store: newTestStore(t), failures: 2}
	l := New(cs, nil, fastRetries(5)...)

	got, err := l.CastVoteAs(context.Background(), "a1", "u1", models.VoteLike)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{Likes: 1}, got)
	assert.Equal(t, int32(3), cs.runs.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	cs := &conflictingStore{Store: newTestStore(t)}
	l := New(cs, nil, fastRetries(5)...)

	_, err := l.CastVoteAs(context.Background(), "missing", "u1", models.VoteLike)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), cs.runs.Load())
}

func TestCancelledCallerStopsRetrying(t *testing.T) {
	cs := &conflictingStore{Store: newTestStore(t), failures: 1 << 30}
	l := New(cs, nil, WithMaxAttempts(1000), WithBackoff(50*time.Millisecond, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	began := time.Now()
	_, err := l.CastVoteAs(ctx, "a1", "u1", models.VoteLike)
	require.Error(t, err)
	assert.Less(t, cs.runs.Load(), int32(1000))
	assert.Less(t, time.Since(began), 5*time.Second)
}

func TestCurrentTally(t *testing.T) {
	s := newTestStore(t)
	cache, err := tally.NewCache(10, time.Minute)
	require.NoError(t, err)
	l := New(s, nil, WithCache(cache))
	ctx := context.Background()

	// Cold read goes to the store and seeds the cache.
	got, err := l.CurrentTally(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.Tally{}, got)
	_, ok := cache.Latest("a1")
	assert.True(t, ok)

	_, err = l.CastVoteAs(ctx, "a1", "u1", models.VoteLike)
	require.NoError(t, err)

	snap, ok := cache.Latest("a1")
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Revision)

	got, err = l.CurrentTally(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.Tally{Likes: 1}, got)

	_, err = l.CurrentTally(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommittedTallyIsPushed(t *testing.T) {
	s := newTestStore(t)
	feed := tally.NewFeed()
	l := New(s, nil, WithPublisher(feed))

	ch, cancel := feed.Subscribe("a1")
	defer cancel()

	_, err := l.CastVoteAs(context.Background(), "a1", "u1", models.VoteDislike)
	require.NoError(t, err)

	select {
	case snap := <-ch:
		assert.Equal(t, models.Tally{Dislikes: 1}, snap.Tally)
		assert.Equal(t, int64(1), snap.Revision)
	case <-time.After(time.Second):
		t.Fatal("no snapshot pushed")
	}

	// Failed casts push nothing.
	_, err = l.CastVoteAs(context.Background(), "a1", "u1", 0)
	require.Error(t, err)
	assert.Len(t, ch, 0)
}

func TestVoteOfStateMachine(t *testing.T) {
	s := newTestStore(t)
	l := New(s, nil)
	ctx := context.Background()

	state, err := l.VoteOf(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, NoVote, state)

	for _, step := range []struct {
		value int
		want  State
	}{
		{models.VoteLike, Liked},
		{models.VoteDislike, Disliked},
		{models.VoteDislike, Disliked},
		{models.VoteLike, Liked},
	} {
		_, err := l.CastVoteAs(ctx, "a1", "u1", step.value)
		require.NoError(t, err)
		state, err := l.VoteOf(ctx, "a1", "u1")
		require.NoError(t, err)
		assert.Equal(t, step.want, state)
		assert.Equal(t, step.value, state.Value())
	}

	_, err = l.VoteOf(ctx, "missing", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.VoteOf(ctx, "a1", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuditDetectsDrift(t *testing.T) {
	s := newTestStore(t)
	l := New(s, nil)
	ctx := context.Background()

	_, err := l.CastVoteAs(ctx, "a1", "u1", models.VoteLike)
	require.NoError(t, err)

	// Simulate a write that bypassed the ledger.
	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetTally(ctx, "a1", models.Tally{Likes: 3}, 99)
	}))

	report, err := l.Audit(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, models.Tally{Likes: 1}, report.Counted)
	assert.Equal(t, models.Tally{Likes: 3}, report.Stored)

	_, err = l.Audit(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

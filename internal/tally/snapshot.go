// Package tally carries committed answer tallies from the vote ledger to
// readers: a push feed for live consumers and an LRU cache that serves the
// latest snapshot without touching the store.
package tally

import (
	"time"

	"qaboard/internal/models"
)

// Snapshot is an answer's tally as of one committed vote. Revision grows by
// one per commit, so a higher revision is always the newer state.
type Snapshot struct {
	AnswerID string       `json:"answer_id"`
	Tally    models.Tally `json:"tally"`
	Revision int64        `json:"revision"`
	At       time.Time    `json:"at"`
}

// Newer reports whether s supersedes other.
func (s Snapshot) Newer(other Snapshot) bool {
	return s.Revision > other.Revision
}

// FromAnswer builds a snapshot from a stored answer.
func FromAnswer(a models.Answer) Snapshot {
	return Snapshot{
		AnswerID: a.ID,
		Tally:    a.Tally(),
		Revision: a.Revision,
		At:       time.Now(),
	}
}

// Publisher receives snapshots after commit. Publish must not block.
type Publisher interface {
	Publish(s Snapshot)
}

// Source returns the latest snapshot it has seen for an answer.
type Source interface {
	Latest(answerID string) (Snapshot, bool)
}

// Publishers fans one snapshot out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(s Snapshot) {
	for _, p := range ps {
		p.Publish(s)
	}
}

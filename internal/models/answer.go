package models

import (
	"time"
)

type Answer struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	QuestionID string    `gorm:"size:36;not null;index" json:"question_id"`
	Question   *Question `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	AuthorUID  string    `gorm:"size:128;not null;index" json:"author_uid"`
	AuthorName string    `gorm:"size:128" json:"author_name"`
	// Likes and Dislikes are owned by the vote ledger. Creation writes zero and
	// nothing else touches them outside a ledger transaction.
	Likes     int       `gorm:"not null;default:0;check:chk_answers_likes,likes >= 0" json:"likes"`
	Dislikes  int       `gorm:"not null;default:0;check:chk_answers_dislikes,dislikes >= 0" json:"dislikes"`
	Revision  int64     `gorm:"not null;default:0" json:"revision"` // bumped by every committed vote
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	BodyHTML string `gorm:"-" json:"body_html,omitempty"`
}

// Tally returns the answer's current counters.
func (a Answer) Tally() Tally {
	return Tally{Likes: a.Likes, Dislikes: a.Dislikes}
}

// Tally is the (likes, dislikes) pair derived from an answer's votes.
type Tally struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

// Apply retracts previous (0 means no earlier vote) and then counts value.
// Casting the same value again leaves the tally unchanged.
func (t Tally) Apply(previous, value int) Tally {
	switch previous {
	case VoteLike:
		t.Likes--
	case VoteDislike:
		t.Dislikes--
	}
	switch value {
	case VoteLike:
		t.Likes++
	case VoteDislike:
		t.Dislikes++
	}
	return t
}

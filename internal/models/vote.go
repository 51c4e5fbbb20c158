package models

import (
	"time"
)

const (
	VoteLike    = 1
	VoteDislike = -1
)

// Vote is one voter's current choice for one answer. A voter has at most one
// Vote per answer; "no vote" is the absence of a row, never a zero value.
type Vote struct {
	AnswerID  string    `gorm:"primaryKey;size:36" json:"answer_id"`
	Answer    *Answer   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	VoterID   string    `gorm:"primaryKey;size:128" json:"voter_id"`
	Value     int       `gorm:"not null;check:chk_votes_value,value IN (-1, 1)" json:"value"` // 1 or -1
	UpdatedAt time.Time `json:"updated_at"`
}

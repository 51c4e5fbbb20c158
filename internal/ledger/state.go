package ledger

import "qaboard/internal/models"

// State is one voter's standing on one answer. NoVote is initial; every
// state is reachable from every other in a single cast except NoVote, which
// cannot be returned to.
type State int

const (
	NoVote State = iota
	Liked
	Disliked
)

func (s State) String() string {
	switch s {
	case Liked:
		return "liked"
	case Disliked:
		return "disliked"
	default:
		return "none"
	}
}

// Value is the vote value that leads to s, or 0 for NoVote.
func (s State) Value() int {
	switch s {
	case Liked:
		return models.VoteLike
	case Disliked:
		return models.VoteDislike
	default:
		return 0
	}
}

func stateOf(value int) State {
	switch value {
	case models.VoteLike:
		return Liked
	case models.VoteDislike:
		return Disliked
	default:
		return NoVote
	}
}

// ValidValue reports whether v may be cast.
func ValidValue(v int) bool {
	return v == models.VoteLike || v == models.VoteDislike
}

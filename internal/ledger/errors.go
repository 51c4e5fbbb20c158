package ledger

import "errors"

var (
	// ErrNotFound means the answer does not exist. Terminal.
	ErrNotFound = errors.New("answer not found")
	// ErrUnauthenticated means no voter identity could be established. Terminal.
	ErrUnauthenticated = errors.New("voter is not signed in")
	// ErrInvalidArgument means the vote value is not +1 or -1. Terminal.
	ErrInvalidArgument = errors.New("vote value must be 1 or -1")
	// ErrConflict means the vote kept colliding with concurrent votes and the
	// retry budget ran out. Nothing was written; the caller may try again.
	ErrConflict = errors.New("vote not recorded: too many concurrent updates")
)

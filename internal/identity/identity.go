// Package identity resolves who is voting. Sign-in happens elsewhere; this
// package only carries an already established voter through a request.
package identity

import (
	"context"
	"strings"
)

// AnonymousName is shown for authors with neither a display name nor an email.
const AnonymousName = "Anon"

// Voter is the caller as established by a session cookie or bearer token.
type Voter struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName picks the display name, then the email, then AnonymousName.
func (v Voter) DisplayName() string {
	if name := strings.TrimSpace(v.Name); name != "" {
		return name
	}
	if email := strings.TrimSpace(v.Email); email != "" {
		return email
	}
	return AnonymousName
}

// Provider supplies the stable identifier of the current caller. ok is false
// when nobody is signed in.
type Provider interface {
	CurrentVoterID(ctx context.Context) (id string, ok bool)
}

type voterKey struct{}

// WithVoter attaches v to ctx.
func WithVoter(ctx context.Context, v Voter) context.Context {
	return context.WithValue(ctx, voterKey{}, v)
}

// VoterFrom returns the voter attached to ctx, if any.
func VoterFrom(ctx context.Context) (Voter, bool) {
	v, ok := ctx.Value(voterKey{}).(Voter)
	if !ok || v.ID == "" {
		return Voter{}, false
	}
	return v, true
}

// ContextProvider reads the voter that middleware attached to the request
// context.
type ContextProvider struct{}

func (ContextProvider) CurrentVoterID(ctx context.Context) (string, bool) {
	v, ok := VoterFrom(ctx)
	return v.ID, ok
}

// Static always reports the same voter. An empty Static means signed out.
type Static string

func (s Static) CurrentVoterID(context.Context) (string, bool) {
	return string(s), s != ""
}

// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// Participant is a room member as reported by the directory service.
// Beyond its identity everything here is presentation meta-data.
type Participant struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(username string) (*Participant, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &Participant{ID: UserID(uuid.NewString()), Username: username}, nil
}

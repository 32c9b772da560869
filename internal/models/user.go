package models

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned by user stores when no account matches.
var ErrUserNotFound = errors.New("models: user not found")

// User is an account that owns conversations and health records.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Sanitize returns a copy of the user with the password hash stripped.
func (u User) Sanitize() User {
	u.PasswordHash = ""
	return u
}

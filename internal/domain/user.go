// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxIDLen          = 64
	MaxDisplayNameLen = 36
)

var (
	ErrIDEmpty         = errors.New("id empty")
	ErrIDTooLong       = errors.New("id too long")
	ErrSameParticipant = errors.New("self and peer are the same identity")
)

// UserID is the opaque identity supplied by the auth layer.
type UserID string

// NewUserID is a tiny helper to avoid ad-hoc conversions in adapters.
func NewUserID(raw string) (UserID, error) {
	if err := validateID(raw); err != nil {
		return "", err
	}
	return UserID(raw), nil
}

func validateID(raw string) error {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return ErrIDEmpty
	}
	if len(raw) > MaxIDLen {
		return ErrIDTooLong
	}
	return nil
}

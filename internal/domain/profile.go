package domain

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is the read-only peer card shown on the call screen.
type Profile struct {
	ID          UserID     `json:"id"`
	DisplayName string     `json:"display_name"`
	Birthdate   *time.Time `json:"birthdate,omitempty"`
	PhotoURL    string     `json:"photo_url,omitempty"`
}

// Age returns the completed years at now, or false if no birthdate is known.
func (p Profile) Age(now time.Time) (int, bool) {
	if p.Birthdate == nil {
		return 0, false
	}
	b := *p.Birthdate
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	return age, true
}

// Name falls back to a bullet like the call screen does while loading.
func (p Profile) Name() string {
	if p.DisplayName == "" {
		return "•"
	}
	if utf8.RuneCountInString(p.DisplayName) > MaxDisplayNameLen {
		return string([]rune(p.DisplayName)[:MaxDisplayNameLen])
	}
	return p.DisplayName
}

// ProfileStore is fetched once per call screen mount.
type ProfileStore interface {
	Profile(ctx context.Context, id UserID) (Profile, error)
}

// StaticProfiles serves profiles from an in-memory map (config-backed).
type StaticProfiles map[UserID]Profile

func (s StaticProfiles) Profile(_ context.Context, id UserID) (Profile, error) {
	p, ok := s[id]
	if !ok {
		return Profile{ID: id}, ErrProfileNotFound
	}
	p.ID = id
	return p, nil
}

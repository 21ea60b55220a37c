// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrUserIDEmpty         = errors.New("user id empty")
	ErrUserIDTooLong       = errors.New("user id too long")
	ErrDisplayNameTooLong  = errors.New("display name too long")
	ErrUnknownCallType     = errors.New("unknown call type")
	ErrUnknownEndReason    = errors.New("unknown end reason")
	ErrUnknownVideoQuality = errors.New("unknown video quality")
	ErrUnknownAudioQuality = errors.New("unknown audio quality")
)

type UserID string

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// User is the local identity announced to the relay on join.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, displayName string) (*User, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	u := &User{ID: id}
	if err := u.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	if name == "" {
		name = string(u.ID)
	}
	u.DisplayName = name
	return nil
}

// ClampDisplayName cuts name to MaxDisplayNameLen bytes without splitting a UTF-8 sequence.
func ClampDisplayName(name string) string {
	if len(name) <= MaxDisplayNameLen {
		return name
	}
	cut := MaxDisplayNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

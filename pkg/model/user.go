package model

import (
	"errors"
	"fmt"
	"unicode"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must not contain spaces or control characters")

// ValidateUsername checks that a username is 1-32 bytes without whitespace or
// control characters. Usernames are case-sensitive and otherwise unrestricted.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

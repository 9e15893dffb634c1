// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/pion/randutil"
)

const (
	MaxDisplayLen    = 36
	displaySuffixLen = 4
	displayRunes     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrDisplayTooLong = errors.New("display name too long")
	ErrDisplayEmpty   = errors.New("display name empty")
)

// DisplayNamer produces the display name sent with a publisher join.
type DisplayNamer interface {
	DisplayName() (string, error)
}

// RandomSuffixNamer appends a short random suffix to a fixed prefix,
// e.g. "GoUser" -> "GoUserx7Qa".
type RandomSuffixNamer struct {
	Prefix string
}

func (n RandomSuffixNamer) DisplayName() (string, error) {
	suffix, err := randutil.GenerateCryptoRandomString(displaySuffixLen, displayRunes)
	if err != nil {
		return "", err
	}
	return ValidateDisplay(n.Prefix + suffix)
}

// StaticNamer always returns the same name.
type StaticNamer string

func (n StaticNamer) DisplayName() (string, error) { return ValidateDisplay(string(n)) }

func ValidateDisplay(name string) (string, error) {
	if len(name) == 0 {
		return "", ErrDisplayEmpty
	}
	if len(name) > MaxDisplayLen {
		return "", ErrDisplayTooLong
	}
	return name, nil
}

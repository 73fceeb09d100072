package validation

import (
	"errors"
	"strings"
)

// ErrInvalidUsername is returned for usernames containing characters
// outside letters, digits and underscore, or for empty usernames.
var ErrInvalidUsername = errors.New("invalid username")

// Username checks the login charset rule: letters, digits and underscore
// only, at least one character.
func Username(name string) error {
	if name == "" {
		return ErrInvalidUsername
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return ErrInvalidUsername
		}
	}
	return nil
}

// NormalizeTags lower-cases the supplied tags and splits every entry on
// whitespace and commas, preserving token order. Empty tokens are dropped.
func NormalizeTags(raw []string) []string {
	var out []string
	for _, t := range raw {
		for _, tok := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
		}) {
			out = append(out, tok)
		}
	}
	return out
}

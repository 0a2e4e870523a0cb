// Package validate holds the pure field-level checks applied before any
// mutation reaches the store. Functions report failures by wrapping the
// store sentinels so callers can classify them with errors.Is.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"tokoku/backend/internal/store"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Sanitize strips HTML-like tags and surrounding whitespace from free-text
// input. It is a normalization step against stored markup, not a full HTML
// sanitizer.
func Sanitize(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

func Name(s string, minLen int) error {
	if len(strings.TrimSpace(s)) < minLen {
		return fmt.Errorf("%w: name must be at least %d characters", store.ErrInvalidInput, minLen)
	}
	return nil
}

func Username(s string) error {
	if len(strings.TrimSpace(s)) < 3 {
		return fmt.Errorf("%w: username must be at least 3 characters", store.ErrInvalidInput)
	}
	return nil
}

func Password(s string) error {
	if len(s) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", store.ErrWeakCredential)
	}
	return nil
}

// Email accepts the empty string; the field is optional everywhere it appears.
func Email(s string) error {
	if s == "" {
		return nil
	}
	if !emailPattern.MatchString(s) {
		return fmt.Errorf("%w: email format is invalid", store.ErrInvalidInput)
	}
	return nil
}

func PriceCents(v int64) error {
	if v < 1 {
		return fmt.Errorf("%w: price must be positive", store.ErrInvalidInput)
	}
	return nil
}

func Quantity(v int) error {
	if v < 0 {
		return fmt.Errorf("%w: quantity must not be negative", store.ErrInvalidInput)
	}
	return nil
}

package models

import "strings"

// MaxMatchKeyLength bounds the normalized key, matching the entry form's limit.
const MaxMatchKeyLength = 10

// NormalizeMatchKey trims surrounding whitespace and uppercases a user-supplied
// match key. Normalization is idempotent.
func NormalizeMatchKey(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidMatchKey reports whether a normalized key is usable for a lookup:
// non-empty, at most MaxMatchKeyLength characters, alphanumeric only.
func ValidMatchKey(key string) bool {
	if key == "" || len(key) > MaxMatchKeyLength {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

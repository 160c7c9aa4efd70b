package wevt

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizeGUID converts a textual GUID to the canonical form used for all
// index keys and equality checks: lower-case, hyphenated, no braces.
// Inputs that do not parse as a GUID are lower-cased and brace-stripped so
// lookups still compare consistently.
func NormalizeGUID(s string) string {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "{")
	trimmed = strings.TrimSuffix(trimmed, "}")
	if id, err := uuid.Parse(trimmed); err == nil {
		return id.String()
	}
	return strings.ToLower(trimmed)
}

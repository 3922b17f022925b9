package sequence

import (
	"fmt"
	"strings"
	"time"
)

// Separator joins prefix, scope tokens and the padded value.
const Separator = "-"

const dateLayout = "20060102"

// Format zero-pads value to width and joins it after prefix and scopeKey.
// A value wider than width is printed in full, never truncated.
//
//	Format("SUB", "20250101", 42, 4) == "SUB-20250101-0042"
//	Format("RCP", "", 7, 6)          == "RCP-000007"
func Format(prefix, scopeKey string, value int64, width int) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if scopeKey != "" {
		parts = append(parts, scopeKey)
	}
	parts = append(parts, fmt.Sprintf("%0*d", width, value))
	return strings.Join(parts, Separator)
}

// Scope builds the counter key for prefix and optional tokens, skipping empty ones.
func Scope(prefix string, tokens ...string) string {
	parts := []string{prefix}
	for _, t := range tokens {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, Separator)
}

// DateToken renders t as a UTC YYYYMMDD token.
func DateToken(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

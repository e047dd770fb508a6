package utils

import "unicode/utf8"

// Truncate shortens s to at most maxLen runes, appending "..." when cut.
// Newlines are kept; callers printing one-line summaries should flatten first.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

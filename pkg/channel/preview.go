package channel

import "strings"

// Preview returns a bounded log-safe preview of message text.
func Preview(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if limit <= 0 || len(runes) <= limit {
		return trimmed
	}

	return string(runes[:limit]) + "..."
}

package models

import "time"

// PromptExcerptLen is the number of runes of a prompt kept in the activity log.
const PromptExcerptLen = 150

// ActivityLogEntry records one successful inference call for moderation.
// Entries are keyed by time, not by account.
type ActivityLogEntry struct {
	ID        string    `json:"id,omitempty"`
	IP        string    `json:"ip"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"time"`
}

// Excerpt returns at most n runes of s.
func Excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
